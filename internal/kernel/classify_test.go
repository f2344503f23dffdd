package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mandate-sh/mandate/internal/ir"
	"github.com/mandate-sh/mandate/internal/store"
	"github.com/mandate-sh/mandate/internal/testutil"
)

func record(id, holder string, status ir.Status, scope []ir.ScopeElement, permits ...ir.Transformation) *ir.AuthorityRecord {
	return &ir.AuthorityRecord{
		ID:                       id,
		HolderID:                 holder,
		Scope:                    scope,
		Status:                   status,
		PermittedTransformations: permits,
	}
}

func stateWith(t *testing.T, records ...*ir.AuthorityRecord) *store.State {
	t.Helper()
	st := store.NewState()
	for _, r := range records {
		require.NoError(t, st.Records().InsertAuthority(r))
	}
	return st
}

func openConflict(t *testing.T, st *store.State, elems []ir.ScopeElement, participants ...string) *ir.ConflictRecord {
	t.Helper()
	c := &ir.ConflictRecord{
		ScopeElements: elems,
		AuthorityIDs:  participants,
		Status:        ir.ConflictOpen,
	}
	id, err := c.ComputeConflictID()
	require.NoError(t, err)
	c.ID = id
	require.NoError(t, st.Records().InsertConflict(c))
	for _, aid := range participants {
		a, ok := st.Records().Authority(aid)
		require.True(t, ok)
		next := a.Clone()
		next.ConflictRefs = append(next.ConflictRefs, c.ID)
		require.NoError(t, st.Records().ReplaceAuthority(next))
	}
	return c
}

func TestClassifyEmptyStateNeverDeadlocks(t *testing.T) {
	_, stuck := classifyDeadlock(store.NewState())
	assert.False(t, stuck)
}

func TestClassifyProgressViaUncontestedElement(t *testing.T) {
	st := stateWith(t,
		record("aut-1", "alice", ir.StatusActive, testutil.Scope("doc/1", "write")))
	_, stuck := classifyDeadlock(st)
	assert.False(t, stuck)
}

func TestClassifyConflictDeadlock(t *testing.T) {
	w := testutil.Scope("doc/1", "write")
	st := stateWith(t,
		record("aut-1", "alice", ir.StatusActive, w),
		record("aut-2", "bob", ir.StatusActive, w))
	openConflict(t, st, w, "aut-1", "aut-2")

	kind, stuck := classifyDeadlock(st)
	require.True(t, stuck)
	assert.Equal(t, ir.DeadlockConflict, kind)
}

func TestClassifyProgressViaResolver(t *testing.T) {
	w := testutil.Scope("doc/1", "write")
	st := stateWith(t,
		record("aut-1", "alice", ir.StatusActive, w),
		record("aut-2", "bob", ir.StatusActive, w),
		record("aut-3", "root", ir.StatusActive, w, ir.TransformResolveConflict))
	openConflict(t, st, w, "aut-1", "aut-2")

	_, stuck := classifyDeadlock(st)
	assert.False(t, stuck)
}

func TestClassifyBlockedResolverDoesNotCount(t *testing.T) {
	w := testutil.Scope("doc/1", "write")
	st := stateWith(t,
		record("aut-1", "alice", ir.StatusActive, w, ir.TransformResolveConflict),
		record("aut-2", "bob", ir.StatusActive, w))
	// The only resolver is itself a participant.
	openConflict(t, st, w, "aut-1", "aut-2")

	kind, stuck := classifyDeadlock(st)
	require.True(t, stuck)
	assert.Equal(t, ir.DeadlockConflict, kind)
}

func TestClassifyEntropicCollapse(t *testing.T) {
	st := stateWith(t,
		record("aut-1", "alice", ir.StatusExpired, testutil.Scope("doc/1", "write")),
		record("aut-2", "bob", ir.StatusRevoked, testutil.Scope("doc/2", "read")))

	kind, stuck := classifyDeadlock(st)
	require.True(t, stuck)
	assert.Equal(t, ir.DeadlockEntropic, kind)
}

func TestClassifyGovernanceDeadlock(t *testing.T) {
	// One suspended authority and nobody holding RESUME over its scope:
	// no conflicts to pin it on, nothing active, no way forward.
	st := stateWith(t,
		record("aut-1", "alice", ir.StatusSuspended, testutil.Scope("doc/1", "write")))

	kind, stuck := classifyDeadlock(st)
	require.True(t, stuck)
	assert.Equal(t, ir.DeadlockGovernance, kind)
}

func TestClassifyProgressViaResumableSuspension(t *testing.T) {
	st := stateWith(t,
		record("aut-1", "alice", ir.StatusSuspended, testutil.Scope("doc/1", "write")),
		record("aut-2", "root", ir.StatusActive, testutil.Scope("doc/1", "write"), ir.TransformResume))
	// Pin the shared element so the uncontested-element path does not
	// short-circuit the resume check. root is not a participant, so its
	// warrant stays unblocked.
	openConflict(t, st, testutil.Scope("doc/1", "write"), "aut-1")

	_, stuck := classifyDeadlock(st)
	assert.False(t, stuck)
}

func TestClassifyConflictTakesPrecedence(t *testing.T) {
	// Open conflict and a suspended authority at once: the conflict
	// classification wins.
	w := testutil.Scope("doc/1", "write")
	st := stateWith(t,
		record("aut-1", "alice", ir.StatusActive, w),
		record("aut-2", "bob", ir.StatusActive, w),
		record("aut-3", "carol", ir.StatusSuspended, testutil.Scope("doc/2", "read")))
	openConflict(t, st, w, "aut-1", "aut-2")

	kind, stuck := classifyDeadlock(st)
	require.True(t, stuck)
	assert.Equal(t, ir.DeadlockConflict, kind)
}
