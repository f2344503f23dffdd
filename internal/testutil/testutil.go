// Package testutil provides builders shared by the package tests:
// scope elements, authority drafts, and scripted events with fixed
// identities, so tests read as scenarios rather than struct literals.
package testutil

import (
	"fmt"

	"github.com/mandate-sh/mandate/internal/ir"
)

// Elem builds one scope element.
func Elem(resource, operation string) ir.ScopeElement {
	return ir.ScopeElement{Resource: resource, Operation: operation}
}

// Scope builds a scope from resource/operation pairs.
// Scope("a", "read", "b", "write") is two elements.
func Scope(pairs ...string) []ir.ScopeElement {
	if len(pairs)%2 != 0 {
		panic("testutil.Scope: pairs must come in resource/operation twos")
	}
	scope := make([]ir.ScopeElement, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		scope = append(scope, Elem(pairs[i], pairs[i+1]))
	}
	return scope
}

// AuthorityIDs returns n fixed identities aut-test-0 .. aut-test-n-1.
func AuthorityIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("aut-test-%d", i)
	}
	return ids
}

// Draft builds an authority draft. Permits is the grantable subset the
// holder may invoke against others.
func Draft(holder string, scope []ir.ScopeElement, permits ...ir.Transformation) *ir.AuthorityDraft {
	return &ir.AuthorityDraft{
		HolderID:                 holder,
		Scope:                    scope,
		PermittedTransformations: permits,
	}
}

// Expiring returns the draft with an expiry epoch set.
func Expiring(d *ir.AuthorityDraft, epoch int64) *ir.AuthorityDraft {
	d.ExpiryEpoch = &epoch
	return d
}

// Inject builds an AUTHORITY_INJECTION event at epoch.
func Inject(epoch int64, d *ir.AuthorityDraft) *ir.Event {
	return &ir.Event{Kind: ir.EventAuthorityInjection, Epoch: epoch, Authority: d}
}

// Tick builds an EPOCH_TICK event.
func Tick(target int64) *ir.Event {
	return &ir.Event{Kind: ir.EventEpochTick, TargetEpoch: target}
}

// Act builds an ACTION_REQUEST event at epoch.
func Act(epoch int64, requester string, elements ...ir.ScopeElement) *ir.Event {
	return &ir.Event{
		Kind:              ir.EventActionRequest,
		Epoch:             epoch,
		RequesterHolderID: requester,
		Action:            elements,
	}
}

// Transform builds a TRANSFORMATION_REQUEST event at epoch.
func Transform(epoch int64, requester string, op ir.Transformation, targets *ir.TransformTargets) *ir.Event {
	return &ir.Event{
		Kind:              ir.EventTransformationRequest,
		Epoch:             epoch,
		RequesterHolderID: requester,
		Transformation:    op,
		Targets:           targets,
	}
}

// OnAuthority targets an authority by identity.
func OnAuthority(id string) *ir.TransformTargets {
	return &ir.TransformTargets{AuthorityID: id}
}

// Resolve targets a conflict, revoking the named participants.
func Resolve(conflictID string, revoke ...string) *ir.TransformTargets {
	return &ir.TransformTargets{ConflictID: conflictID, RevokeAuthorityIDs: revoke}
}

// Tokens maps outcomes to their comparison tokens.
func Tokens(outcomes []*ir.Outcome) []string {
	tokens := make([]string, len(outcomes))
	for i, o := range outcomes {
		tokens[i] = o.Token()
	}
	return tokens
}
