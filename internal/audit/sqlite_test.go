package audit

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	ctx := context.Background()

	original := sampleLog()

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, original))
	require.NoError(t, s.Close())

	// Reopen from disk.
	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	loaded, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, original.Entries(), loaded.Entries())
	assert.Equal(t, original.LastHash(), loaded.LastHash())
	assert.Equal(t, int64(-1), loaded.VerifyChain())
}

func TestStoreSaveIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	ctx := context.Background()

	l := sampleLog()
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Save(ctx, l))
	require.NoError(t, s.Save(ctx, l))

	loaded, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, l.Len(), loaded.Len())
}

func TestStoreSaveRejectsConflictingEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Save(ctx, sampleLog()))

	// A log whose entries differ at an already-persisted index.
	other := NewLog(1000, "sta-other")
	err = s.Save(ctx, other)
	assert.ErrorContains(t, err, "different hash")
}

func TestStoreLoadEmptyDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Load(context.Background())
	assert.Error(t, err)
}
