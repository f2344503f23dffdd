package kernel

import (
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mandate-sh/mandate/internal/ir"
	"github.com/mandate-sh/mandate/internal/testutil"
)

func newTestKernel(t *testing.T, opts ...Option) *Kernel {
	t.Helper()
	base := []Option{
		WithIDGenerator(NewFixedIDGenerator(testutil.AuthorityIDs(16)...)),
		WithLogger(slog.New(slog.DiscardHandler)),
	}
	return New(append(base, opts...)...)
}

func process(t *testing.T, k *Kernel, events ...*ir.Event) []string {
	t.Helper()
	outcomes, err := k.ProcessBatch(events)
	require.NoError(t, err)
	return testutil.Tokens(outcomes)
}

func TestSymmetricConflictDeadlock(t *testing.T) {
	k := newTestKernel(t)
	w := testutil.Elem("doc/1", "write")

	assert.Equal(t, []string{"AUTHORITY_TRANSFORMED:CREATE"},
		process(t, k, testutil.Inject(0, testutil.Draft("alice", testutil.Scope("doc/1", "write")))))

	assert.Equal(t, []string{"AUTHORITY_TRANSFORMED:CREATE", "CONFLICT_REGISTERED"},
		process(t, k, testutil.Inject(0, testutil.Draft("bob", testutil.Scope("doc/1", "write")))))

	// Both requests bounce off the conflict; the demonstrated lack of
	// progress triggers the terminal classification.
	assert.Equal(t, []string{
		"ACTION_REFUSED:CONFLICT_BLOCKS",
		"ACTION_REFUSED:CONFLICT_BLOCKS",
		"DEADLOCK_DECLARED:CONFLICT_DEADLOCK",
	}, process(t, k, testutil.Act(0, "alice", w), testutil.Act(0, "bob", w)))

	assert.False(t, k.State().Mode().Running())
	assert.Equal(t, ir.DeadlockConflict, k.State().Mode().Deadlock)

	// Deadlocked mode refuses without re-evaluation, forever.
	assert.Equal(t, []string{"ACTION_REFUSED:DEADLOCK_STATE"},
		process(t, k, testutil.Act(0, "alice", w)))
	assert.NoError(t, k.Err())
}

func TestEmptyStateRefusesWithoutDeadlock(t *testing.T) {
	k := newTestKernel(t)

	events := make([]*ir.Event, 20)
	for i := range events {
		events[i] = testutil.Act(0, fmt.Sprintf("holder-%d", i), testutil.Elem("doc/1", "write"))
	}
	tokens := process(t, k, events...)

	require.Len(t, tokens, 20)
	for _, tok := range tokens {
		assert.Equal(t, "ACTION_REFUSED:NO_AUTHORITY", tok)
	}
	// With no authorities there is nothing to be stuck on.
	assert.True(t, k.State().Mode().Running())
	assert.NoError(t, k.Err())
}

func TestExpiryAtEpochBoundary(t *testing.T) {
	k := newTestKernel(t)
	w := testutil.Elem("doc/1", "write")

	draft := testutil.Expiring(testutil.Draft("alice", testutil.Scope("doc/1", "write")), 5)
	assert.Equal(t, []string{"AUTHORITY_TRANSFORMED:CREATE"}, process(t, k, testutil.Inject(0, draft)))

	for target := int64(1); target <= 5; target++ {
		assert.Empty(t, process(t, k, testutil.Tick(target)))
	}

	// Still active through its expiry epoch.
	assert.Equal(t, []string{"ACTION_EXECUTED"}, process(t, k, testutil.Act(5, "alice", w)))

	assert.Equal(t, []string{"AUTHORITY_TRANSFORMED:EXPIRE"}, process(t, k, testutil.Tick(6)))

	// The sole authority is terminal: the refusal demonstrates collapse.
	assert.Equal(t, []string{
		"ACTION_REFUSED:NO_AUTHORITY",
		"DEADLOCK_DECLARED:ENTROPIC_COLLAPSE",
	}, process(t, k, testutil.Act(6, "alice", w)))
}

func TestGasExhaustionSuspendsRun(t *testing.T) {
	k := newTestKernel(t, WithGasBudget(25))

	// Sequencing 2 + injection 4.
	tokens := process(t, k,
		testutil.Inject(0, testutil.Draft("alice", testutil.Scope("doc/1", "write", "doc/2", "write"))))
	assert.Equal(t, []string{"AUTHORITY_TRANSFORMED:CREATE"}, tokens)
	assert.Equal(t, int64(6), k.Gas().Used())

	// Sequencing 4, first evaluation 10, second evaluation needs 10
	// against 5 remaining: the charge is refused, the admitted action
	// still completes, then the run suspends.
	outcomes, err := k.ProcessBatch([]*ir.Event{
		testutil.Act(0, "alice", testutil.Elem("doc/1", "write")),
		testutil.Act(0, "alice", testutil.Elem("doc/2", "write")),
	})
	require.Error(t, err)
	assert.True(t, IsInvalidRun(err, CodeGasExhausted))
	assert.Equal(t, []string{
		"ACTION_EXECUTED",
		"SUSPENSION_ENTERED:GAS_BUDGET_UNSATISFIED",
	}, testutil.Tokens(outcomes))
	assert.Equal(t, int64(20), k.Gas().Used())

	// The run is dead; every later batch returns the same error.
	_, err2 := k.ProcessBatch([]*ir.Event{testutil.Tick(1)})
	assert.Same(t, err, err2)
}

func TestLateResolverUnblocksConflict(t *testing.T) {
	k := newTestKernel(t)
	w := testutil.Elem("doc/1", "write")

	process(t, k, testutil.Inject(0, testutil.Draft("alice", testutil.Scope("doc/1", "write"))))

	outcomes, err := k.ProcessBatch([]*ir.Event{
		testutil.Inject(0, testutil.Draft("bob", testutil.Scope("doc/1", "write"))),
	})
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	conflictID := outcomes[1].ConflictID
	require.NotEmpty(t, conflictID)

	// The resolver overlaps the contested element but joins nothing:
	// the participant set was frozen at detection.
	assert.Equal(t, []string{"AUTHORITY_TRANSFORMED:CREATE"},
		process(t, k, testutil.Inject(0, testutil.Draft("root", testutil.Scope("doc/1", "write"), ir.TransformResolveConflict))))

	// Revoking every participant leaves the resolver as the element's
	// only ACTIVE holder, so the post-resolution scan finds no overlap.
	assert.Equal(t, []string{
		"AUTHORITY_TRANSFORMED:REVOKE",
		"AUTHORITY_TRANSFORMED:REVOKE",
		"AUTHORITY_TRANSFORMED:RESOLVE_CONFLICT",
	}, process(t, k, testutil.Transform(0, "root", ir.TransformResolveConflict,
		testutil.Resolve(conflictID, "aut-test-0", "aut-test-1"))))

	assert.Equal(t, []string{"ACTION_EXECUTED"}, process(t, k, testutil.Act(0, "root", w)))
	assert.True(t, k.State().Mode().Running())
}

func TestPartialResolutionRecontestsElement(t *testing.T) {
	k := newTestKernel(t)
	w := testutil.Elem("doc/1", "write")

	process(t, k, testutil.Inject(0, testutil.Draft("alice", testutil.Scope("doc/1", "write"))))
	outcomes, err := k.ProcessBatch([]*ir.Event{
		testutil.Inject(0, testutil.Draft("bob", testutil.Scope("doc/1", "write"))),
	})
	require.NoError(t, err)
	conflictID := outcomes[1].ConflictID
	process(t, k, testutil.Inject(0, testutil.Draft("root", testutil.Scope("doc/1", "write"), ir.TransformResolveConflict)))

	// Revoking only alice leaves bob and the resolver both ACTIVE on the
	// element: detection re-runs right after the resolution and
	// registers the remaining overlap as a fresh conflict.
	assert.Equal(t, []string{
		"AUTHORITY_TRANSFORMED:REVOKE",
		"AUTHORITY_TRANSFORMED:RESOLVE_CONFLICT",
		"CONFLICT_REGISTERED",
	}, process(t, k, testutil.Transform(0, "root", ir.TransformResolveConflict,
		testutil.Resolve(conflictID, "aut-test-0"))))

	open := k.State().Records().OpenConflicts()
	require.Len(t, open, 1)
	assert.ElementsMatch(t, []string{"aut-test-1", "aut-test-2"}, open[0].AuthorityIDs)

	// This time the resolver is a frozen participant itself, so nobody
	// can arbitrate: the refusal demonstrates the deadlock.
	assert.Equal(t, []string{
		"ACTION_REFUSED:CONFLICT_BLOCKS",
		"DEADLOCK_DECLARED:CONFLICT_DEADLOCK",
	}, process(t, k, testutil.Act(0, "bob", w)))
	assert.Equal(t, []string{"ACTION_REFUSED:DEADLOCK_STATE"},
		process(t, k, testutil.Act(0, "root", w)))
}

func TestResumeRedetectsOverlap(t *testing.T) {
	k := newTestKernel(t)

	process(t, k, testutil.Inject(0, testutil.Draft("alice", testutil.Scope("doc/1", "write"))))
	outcomes, err := k.ProcessBatch([]*ir.Event{
		testutil.Inject(0, testutil.Draft("bob", testutil.Scope("doc/1", "write"))),
	})
	require.NoError(t, err)
	conflictID := outcomes[1].ConflictID
	process(t, k, testutil.Inject(0, testutil.Draft("carol", testutil.Scope("doc/1", "write"))))
	process(t, k, testutil.Inject(0, testutil.Draft("supervisor", testutil.Scope("doc/1", "write"),
		ir.TransformSuspend, ir.TransformResume, ir.TransformResolveConflict)))

	assert.Equal(t, []string{"AUTHORITY_TRANSFORMED:SUSPEND"},
		process(t, k, testutil.Transform(0, "supervisor", ir.TransformSuspend, testutil.OnAuthority("aut-test-2"))))

	// With carol suspended, the total resolution leaves the supervisor
	// as the element's only ACTIVE holder: nothing new registers.
	assert.Equal(t, []string{
		"AUTHORITY_TRANSFORMED:REVOKE",
		"AUTHORITY_TRANSFORMED:REVOKE",
		"AUTHORITY_TRANSFORMED:RESOLVE_CONFLICT",
	}, process(t, k, testutil.Transform(0, "supervisor", ir.TransformResolveConflict,
		testutil.Resolve(conflictID, "aut-test-0", "aut-test-1"))))

	// Resuming carol restores the overlap, and the post-resume scan
	// registers it.
	assert.Equal(t, []string{
		"AUTHORITY_TRANSFORMED:RESUME",
		"CONFLICT_REGISTERED",
	}, process(t, k, testutil.Transform(0, "supervisor", ir.TransformResume, testutil.OnAuthority("aut-test-2"))))

	open := k.State().Records().OpenConflicts()
	require.Len(t, open, 1)
	assert.ElementsMatch(t, []string{"aut-test-2", "aut-test-3"}, open[0].AuthorityIDs)
}

func TestInterferenceAnnihilatesBoth(t *testing.T) {
	k := newTestKernel(t)
	shared := testutil.Elem("doc/9", "read")

	// Two distinct requests from the same holder pass pass one (one
	// covering authority, no conflicts) and collide only in the
	// interference pass. Neither wins.
	process(t, k, testutil.Inject(0, testutil.Draft("alice", testutil.Scope("doc/9", "read", "doc/a", "read"))))

	tokens := process(t, k,
		testutil.Act(0, "alice", shared),
		testutil.Act(0, "alice", shared, testutil.Elem("doc/a", "read")))
	assert.Equal(t, []string{
		"ACTION_REFUSED:INTERFERENCE",
		"ACTION_REFUSED:INTERFERENCE",
	}, tokens)
}

func TestSuspendResumeLifecycle(t *testing.T) {
	k := newTestKernel(t)
	w := testutil.Elem("doc/1", "write")

	// alice and bob collide and freeze the conflict's participant set.
	// carol and the supervisor arrive afterwards over the same element,
	// so both stay out of the frozen set and unblocked.
	process(t, k, testutil.Inject(0, testutil.Draft("alice", testutil.Scope("doc/1", "write"))))
	process(t, k, testutil.Inject(0, testutil.Draft("bob", testutil.Scope("doc/1", "write"))))
	process(t, k, testutil.Inject(0, testutil.Draft("carol", testutil.Scope("doc/1", "write"))))
	process(t, k, testutil.Inject(0, testutil.Draft("supervisor", testutil.Scope("doc/1", "write"),
		ir.TransformSuspend, ir.TransformResume, ir.TransformResolveConflict)))

	assert.Equal(t, []string{"AUTHORITY_TRANSFORMED:SUSPEND"},
		process(t, k, testutil.Transform(0, "supervisor", ir.TransformSuspend, testutil.OnAuthority("aut-test-2"))))

	// Suspension is reported ahead of the conflict veto.
	assert.Equal(t, []string{"ACTION_REFUSED:SUSPENDED"},
		process(t, k, testutil.Act(0, "carol", w)))
	assert.True(t, k.State().Mode().Running())

	assert.Equal(t, []string{"AUTHORITY_TRANSFORMED:RESUME"},
		process(t, k, testutil.Transform(0, "supervisor", ir.TransformResume, testutil.OnAuthority("aut-test-2"))))

	// Resumed and ACTIVE again, carol is back to the element-level veto:
	// the open conflict still contests doc/1:write.
	assert.Equal(t, []string{"ACTION_REFUSED:CONFLICT_BLOCKS"},
		process(t, k, testutil.Act(0, "carol", w)))
	assert.True(t, k.State().Mode().Running())
}

func TestTransformationBlockedByOwnConflict(t *testing.T) {
	k := newTestKernel(t)

	process(t, k, testutil.Inject(0, testutil.Draft("alice", testutil.Scope("doc/1", "write"))))
	// root's injection contests doc/1:write, making root a participant
	// in the new conflict; its warrant is blocked by that participation.
	process(t, k, testutil.Inject(0, testutil.Draft("root", testutil.Scope("doc/1", "write"),
		ir.TransformSuspend)))

	tokens := process(t, k, testutil.Transform(0, "root", ir.TransformSuspend, testutil.OnAuthority("aut-test-0")))
	assert.Equal(t, "ACTION_REFUSED:CONFLICT_BLOCKS", tokens[0])
}

func TestEpochDiscontinuityInvalidatesRun(t *testing.T) {
	k := newTestKernel(t)

	_, err := k.ProcessBatch([]*ir.Event{testutil.Tick(5)})
	require.Error(t, err)
	assert.True(t, IsInvalidRun(err, CodeEpochDiscontinuity))

	_, err2 := k.ProcessBatch([]*ir.Event{testutil.Tick(1)})
	assert.Same(t, err, err2)
	assert.Error(t, k.Err())
}

func TestDuplicateEventInvalidatesRun(t *testing.T) {
	k := newTestKernel(t)
	ev1 := testutil.Act(0, "alice", testutil.Elem("doc/1", "read"))
	ev2 := testutil.Act(0, "alice", testutil.Elem("doc/1", "read"))

	_, err := k.ProcessBatch([]*ir.Event{ev1, ev2})
	require.Error(t, err)
	assert.True(t, IsInvalidRun(err, CodeDuplicateEvent))
}

func TestEmptyBatchIsNoop(t *testing.T) {
	k := newTestKernel(t)
	before := k.State().StateID()
	outcomes, err := k.ProcessBatch(nil)
	require.NoError(t, err)
	assert.Empty(t, outcomes)
	assert.Equal(t, before, k.State().StateID())
	assert.Equal(t, int64(0), k.Gas().Used())
}

// scriptedRun drives one kernel through a fixed multi-batch script and
// returns the emitted tokens and the final state identity.
func scriptedRun(t *testing.T, permute bool) ([]string, string) {
	t.Helper()
	k := newTestKernel(t)
	var tokens []string

	run := func(events ...*ir.Event) {
		if permute {
			for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
				events[i], events[j] = events[j], events[i]
			}
		}
		tokens = append(tokens, process(t, k, events...)...)
	}

	run(
		testutil.Inject(0, testutil.Draft("alice", testutil.Scope("doc/1", "write"))),
		testutil.Inject(0, testutil.Draft("bob", testutil.Scope("doc/2", "write"))),
	)
	run(testutil.Tick(1))
	run(
		testutil.Act(1, "alice", testutil.Elem("doc/1", "write")),
		testutil.Act(1, "bob", testutil.Elem("doc/2", "write")),
		testutil.Act(1, "carol", testutil.Elem("doc/3", "write")),
	)
	return tokens, k.State().StateID()
}

func TestRunDeterminism(t *testing.T) {
	tokens1, state1 := scriptedRun(t, false)
	tokens2, state2 := scriptedRun(t, false)
	assert.Equal(t, tokens1, tokens2)
	assert.Equal(t, state1, state2)
}

func TestBatchPermutationInvariance(t *testing.T) {
	tokens1, state1 := scriptedRun(t, false)
	tokens2, state2 := scriptedRun(t, true)
	assert.Equal(t, tokens1, tokens2)
	assert.Equal(t, state1, state2)
}
