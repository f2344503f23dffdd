package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mandate-sh/mandate/internal/ir"
)

func sampleLog() *Log {
	l := NewLog(1000, "sta-initial")
	l.AppendBatch(0, []string{"evt-b", "evt-a"}, []string{"evt-a", "evt-b"}, 998)
	l.AppendEvent(0, "evt-a", []byte(`{"kind":"EPOCH_TICK","target_epoch":1}`), "sta-initial", 996)
	l.AppendOutcome(&ir.Outcome{
		Kind:    ir.OutcomeActionExecuted,
		Epoch:   1,
		EventID: "evt-b",
		Actor:   "alice",
		StateID: "sta-after",
	}, 990)
	return l
}

func TestLogGenesis(t *testing.T) {
	l := NewLog(500, "sta-x")
	require.Equal(t, 1, l.Len())

	genesis, ok := l.Entry(0)
	require.True(t, ok)
	assert.Equal(t, KindGenesis, genesis.Kind)
	assert.Empty(t, genesis.PrevHash)
	assert.Equal(t, int64(500), l.GasBudget())
	assert.Equal(t, "sta-x", l.InitialStateID())
	assert.Contains(t, string(genesis.Payload), `"gas_budget":500`)
}

func TestLogChaining(t *testing.T) {
	l := sampleLog()
	entries := l.Entries()
	require.Len(t, entries, 4)

	for i := 1; i < len(entries); i++ {
		assert.Equal(t, entries[i-1].EntryHash, entries[i].PrevHash)
		assert.Equal(t, int64(i), entries[i].Index)
	}
	assert.Equal(t, entries[3].EntryHash, l.LastHash())
	assert.Equal(t, int64(-1), l.VerifyChain())
}

func TestLogDeterministicHashes(t *testing.T) {
	a := sampleLog()
	b := sampleLog()
	assert.Equal(t, a.LastHash(), b.LastHash())
}

func TestVerifyChainFindsFirstBadLink(t *testing.T) {
	l := sampleLog()
	l.entries[2].Payload = []byte(`tampered`)
	assert.Equal(t, int64(2), l.VerifyChain())

	// Earlier corruption wins even with later corruption present.
	l.entries[1].EntryHash = "bogus"
	assert.Equal(t, int64(1), l.VerifyChain())
}

func TestFromEntriesRoundTrip(t *testing.T) {
	original := sampleLog()
	rebuilt, err := FromEntries(original.Entries())
	require.NoError(t, err)

	assert.Equal(t, original.Len(), rebuilt.Len())
	assert.Equal(t, original.LastHash(), rebuilt.LastHash())
	assert.Equal(t, original.GasBudget(), rebuilt.GasBudget())
	assert.Equal(t, original.InitialStateID(), rebuilt.InitialStateID())
	assert.Equal(t, int64(-1), rebuilt.VerifyChain())
}

func TestFromEntriesRejectsHeadlessLog(t *testing.T) {
	_, err := FromEntries(nil)
	assert.Error(t, err)

	entries := sampleLog().Entries()
	_, err = FromEntries(entries[1:])
	assert.Error(t, err)
}

func TestEntriesReturnsCopy(t *testing.T) {
	l := sampleLog()
	entries := l.Entries()
	entries[0].EntryHash = "mutated"

	fresh, _ := l.Entry(0)
	assert.NotEqual(t, "mutated", fresh.EntryHash)
}
