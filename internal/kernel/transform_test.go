package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mandate-sh/mandate/internal/ir"
	"github.com/mandate-sh/mandate/internal/testutil"
)

// resolvedPair sets up alice and bob in a totally resolved conflict on
// doc/1:write plus a supervisor with every grantable permission over
// the same element. Both participants were revoked, so the supervisor
// is the element's only ACTIVE holder and stays unblocked.
func resolvedPair(t *testing.T) *Kernel {
	t.Helper()
	k := newTestKernel(t)
	process(t, k, testutil.Inject(0, testutil.Draft("alice", testutil.Scope("doc/1", "write"))))
	outcomes, err := k.ProcessBatch([]*ir.Event{
		testutil.Inject(0, testutil.Draft("bob", testutil.Scope("doc/1", "write"))),
	})
	require.NoError(t, err)
	conflictID := outcomes[1].ConflictID
	process(t, k, testutil.Inject(0, testutil.Draft("supervisor", testutil.Scope("doc/1", "write"),
		ir.ExternalTransformations...)))
	process(t, k, testutil.Transform(0, "supervisor", ir.TransformResolveConflict,
		testutil.Resolve(conflictID, "aut-test-0", "aut-test-1")))
	return k
}

func TestTransformationWhitelist(t *testing.T) {
	k := resolvedPair(t)

	tests := []struct {
		name string
		op   ir.Transformation
	}{
		{"create is reserved to injection", ir.TransformCreate},
		{"expire is reserved to the kernel", ir.TransformExpire},
		{"unknown op", ir.Transformation("ESCALATE")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokens := process(t, k, testutil.Transform(0, "supervisor", tt.op, testutil.OnAuthority("aut-test-0")))
			assert.Equal(t, "ACTION_REFUSED:ILLEGAL_TRANSFORMATION", tokens[0])
		})
	}
}

func TestTransformationStatusPreconditions(t *testing.T) {
	k := resolvedPair(t)

	// bob was revoked during resolution: terminal, untouchable.
	for _, op := range []ir.Transformation{
		ir.TransformSuspend, ir.TransformResume, ir.TransformRevoke, ir.TransformNarrowScope,
	} {
		targets := testutil.OnAuthority("aut-test-1")
		if op == ir.TransformNarrowScope {
			targets.NarrowedScope = testutil.Scope("doc/1", "write")
		}
		tokens := process(t, k, testutil.Transform(0, "supervisor", op, targets))
		assert.Equal(t, "ACTION_REFUSED:ILLEGAL_TRANSFORMATION", tokens[0], string(op))
	}

	// Resuming an authority that is not suspended: the supervisor's own
	// record is ACTIVE.
	tokens := process(t, k, testutil.Transform(0, "supervisor", ir.TransformResume, testutil.OnAuthority("aut-test-2")))
	assert.Equal(t, "ACTION_REFUSED:ILLEGAL_TRANSFORMATION", tokens[0])

	// Unknown target identity.
	tokens = process(t, k, testutil.Transform(0, "supervisor", ir.TransformSuspend, testutil.OnAuthority("aut-nope")))
	assert.Equal(t, "ACTION_REFUSED:ILLEGAL_TRANSFORMATION", tokens[0])
}

func TestNarrowScope(t *testing.T) {
	k := newTestKernel(t)
	process(t, k, testutil.Inject(0, testutil.Draft("alice",
		testutil.Scope("doc/1", "read", "doc/1", "write"))))
	process(t, k, testutil.Inject(0, testutil.Draft("supervisor",
		testutil.Scope("doc/1", "read", "doc/1", "write", "doc/2", "admin"),
		ir.TransformNarrowScope)))

	// Both injections contested doc/1 elements, so the supervisor is a
	// conflict participant and blocked. This test targets the narrow
	// validation itself, which precedes the warrant check.
	t.Run("empty narrowed scope", func(t *testing.T) {
		targets := testutil.OnAuthority("aut-test-0")
		tokens := process(t, k, testutil.Transform(0, "supervisor", ir.TransformNarrowScope, targets))
		assert.Equal(t, "ACTION_REFUSED:EMPTY_SCOPE", tokens[0])
	})
	t.Run("not a strict subset", func(t *testing.T) {
		targets := testutil.OnAuthority("aut-test-0")
		targets.NarrowedScope = testutil.Scope("doc/1", "read", "doc/1", "write")
		tokens := process(t, k, testutil.Transform(0, "supervisor", ir.TransformNarrowScope, targets))
		assert.Equal(t, "ACTION_REFUSED:ILLEGAL_TRANSFORMATION", tokens[0])
	})
	t.Run("foreign element", func(t *testing.T) {
		targets := testutil.OnAuthority("aut-test-0")
		targets.NarrowedScope = testutil.Scope("doc/9", "read")
		tokens := process(t, k, testutil.Transform(0, "supervisor", ir.TransformNarrowScope, targets))
		assert.Equal(t, "ACTION_REFUSED:ILLEGAL_TRANSFORMATION", tokens[0])
	})
}

func TestNarrowScopeApplies(t *testing.T) {
	k := newTestKernel(t)

	process(t, k, testutil.Inject(0, testutil.Draft("alice", testutil.Scope("doc/1", "read", "doc/1", "write"))))
	outcomes, err := k.ProcessBatch([]*ir.Event{
		testutil.Inject(0, testutil.Draft("bob", testutil.Scope("doc/1", "read", "doc/1", "write"))),
	})
	require.NoError(t, err)
	require.Len(t, outcomes, 3)

	// Both elements were already contested when the supervisor arrived,
	// so it joined neither conflict and its warrant stays unblocked.
	process(t, k, testutil.Inject(0, testutil.Draft("supervisor", testutil.Scope("doc/1", "read", "doc/1", "write"),
		ir.TransformNarrowScope, ir.TransformResolveConflict)))

	// The supervisor narrows its own authority down to the read element.
	targets := testutil.OnAuthority("aut-test-2")
	targets.NarrowedScope = testutil.Scope("doc/1", "read")
	assert.Equal(t, []string{"AUTHORITY_TRANSFORMED:NARROW_SCOPE"},
		process(t, k, testutil.Transform(0, "supervisor", ir.TransformNarrowScope, targets)))

	tokens := process(t, k, testutil.Act(0, "supervisor", testutil.Elem("doc/1", "write")))
	assert.Equal(t, "ACTION_REFUSED:NO_AUTHORITY", tokens[0])

	// Contested elements sort read before write, so outcomes[1] carries
	// the read conflict. Resolving it totally frees the element for the
	// narrowed supervisor; the write conflict stays open but no longer
	// touches anything the supervisor covers.
	assert.Equal(t, []string{
		"AUTHORITY_TRANSFORMED:REVOKE",
		"AUTHORITY_TRANSFORMED:REVOKE",
		"AUTHORITY_TRANSFORMED:RESOLVE_CONFLICT",
	}, process(t, k, testutil.Transform(0, "supervisor", ir.TransformResolveConflict,
		testutil.Resolve(outcomes[1].ConflictID, "aut-test-0", "aut-test-1"))))

	assert.Equal(t, []string{"ACTION_EXECUTED"},
		process(t, k, testutil.Act(0, "supervisor", testutil.Elem("doc/1", "read"))))
}

func TestResolutionArbitrationRules(t *testing.T) {
	k := newTestKernel(t)
	process(t, k, testutil.Inject(0, testutil.Draft("alice", testutil.Scope("doc/1", "write"))))
	outcomes, err := k.ProcessBatch([]*ir.Event{
		testutil.Inject(0, testutil.Draft("bob", testutil.Scope("doc/1", "write"))),
	})
	require.NoError(t, err)
	conflictID := outcomes[1].ConflictID
	process(t, k, testutil.Inject(0, testutil.Draft("arbiter", testutil.Scope("doc/1", "write"),
		ir.TransformResolveConflict)))

	t.Run("empty revoke set", func(t *testing.T) {
		tokens := process(t, k, testutil.Transform(0, "arbiter", ir.TransformResolveConflict,
			testutil.Resolve(conflictID)))
		assert.Equal(t, "ACTION_REFUSED:ILLEGAL_ARBITRATION", tokens[0])
	})
	t.Run("non-participant revoke", func(t *testing.T) {
		tokens := process(t, k, testutil.Transform(0, "arbiter", ir.TransformResolveConflict,
			testutil.Resolve(conflictID, "aut-test-2")))
		assert.Equal(t, "ACTION_REFUSED:ILLEGAL_ARBITRATION", tokens[0])
	})
	t.Run("duplicate revoke", func(t *testing.T) {
		tokens := process(t, k, testutil.Transform(0, "arbiter", ir.TransformResolveConflict,
			testutil.Resolve(conflictID, "aut-test-0", "aut-test-0")))
		assert.Equal(t, "ACTION_REFUSED:ILLEGAL_ARBITRATION", tokens[0])
	})
	t.Run("unknown conflict", func(t *testing.T) {
		tokens := process(t, k, testutil.Transform(0, "arbiter", ir.TransformResolveConflict,
			testutil.Resolve("cfl-nope", "aut-test-0")))
		assert.Equal(t, "ACTION_REFUSED:ILLEGAL_TRANSFORMATION", tokens[0])
	})
	t.Run("revoke both participants", func(t *testing.T) {
		tokens := process(t, k, testutil.Transform(0, "arbiter", ir.TransformResolveConflict,
			testutil.Resolve(conflictID, "aut-test-1", "aut-test-0")))
		assert.Equal(t, []string{
			"AUTHORITY_TRANSFORMED:REVOKE",
			"AUTHORITY_TRANSFORMED:REVOKE",
			"AUTHORITY_TRANSFORMED:RESOLVE_CONFLICT",
		}, tokens)
	})
	t.Run("already resolved", func(t *testing.T) {
		tokens := process(t, k, testutil.Transform(0, "arbiter", ir.TransformResolveConflict,
			testutil.Resolve(conflictID, "aut-test-0")))
		assert.Equal(t, "ACTION_REFUSED:ILLEGAL_TRANSFORMATION", tokens[0])
	})
}

func TestExpirySweepOrder(t *testing.T) {
	k := newTestKernel(t)
	exp := int64(1)
	for _, holder := range []string{"c", "a", "b"} {
		d := testutil.Draft(holder, testutil.Scope("res/"+holder, "use"))
		d.ExpiryEpoch = &exp
		process(t, k, testutil.Inject(0, d))
	}

	outcomes, err := k.ProcessBatch([]*ir.Event{testutil.Tick(1)})
	require.NoError(t, err)
	assert.Empty(t, outcomes)

	outcomes, err = k.ProcessBatch([]*ir.Event{testutil.Tick(2)})
	require.NoError(t, err)
	require.Len(t, outcomes, 3)
	// Sorted identity order, regardless of injection order.
	assert.Equal(t, "aut-test-0", outcomes[0].AuthorityID)
	assert.Equal(t, "aut-test-1", outcomes[1].AuthorityID)
	assert.Equal(t, "aut-test-2", outcomes[2].AuthorityID)
	for _, o := range outcomes {
		assert.Equal(t, "AUTHORITY_TRANSFORMED:EXPIRE", o.Token())
		assert.Equal(t, ir.SystemActor, o.Actor)
	}
}

func TestMalformedInjectionInvalidatesRun(t *testing.T) {
	k := newTestKernel(t)
	_, err := k.ProcessBatch([]*ir.Event{
		testutil.Inject(0, testutil.Draft("alice", testutil.Scope("doc/1", "read", "doc/1", "read"))),
	})
	require.Error(t, err)
	assert.True(t, IsInvalidRun(err, CodeMalformedEncoding))
}
