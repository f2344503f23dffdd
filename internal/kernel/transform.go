package kernel

import (
	"slices"

	"github.com/mandate-sh/mandate/internal/ir"
)

// applyInjection handles an AUTHORITY_INJECTION event: the one path
// through which CREATE happens. The kernel assigns the identity and
// origin; the draft supplies everything else.
func (k *Kernel) applyInjection(ev *ir.Event) (*ir.Outcome, *InvalidRunError) {
	d := ev.Authority
	rec := &ir.AuthorityRecord{
		ID:                       k.ids.NextAuthorityID(),
		HolderID:                 d.HolderID,
		Origin:                   ev.ID,
		Scope:                    slices.Clone(d.Scope),
		Status:                   ir.StatusActive,
		StartEpoch:               d.StartEpoch,
		PermittedTransformations: slices.Clone(d.PermittedTransformations),
	}
	if d.ExpiryEpoch != nil {
		exp := *d.ExpiryEpoch
		rec.ExpiryEpoch = &exp
	}

	if err := rec.Validate(); err != nil {
		return nil, &InvalidRunError{
			Code:    CodeMalformedEncoding,
			Message: err.Error(),
			EventID: ev.ID,
		}
	}
	if err := k.state.Records().InsertAuthority(rec); err != nil {
		// The generator contract guarantees fresh identities.
		fault("STATE_INCOHERENCE", "injection: %v", err)
	}

	return &ir.Outcome{
		Kind:           ir.OutcomeAuthorityTransformed,
		Epoch:          k.state.Epoch(),
		EventID:        ev.ID,
		Actor:          ir.SystemActor,
		Transformation: ir.TransformCreate,
		AuthorityID:    rec.ID,
	}, nil
}

// applyTransformation handles an externally requested transformation.
// Every failure mode is a tier-1 refusal: the whitelist is closed, so
// an out-of-whitelist or ill-targeted request is a normal, loggable
// "no", never an abort.
func (k *Kernel) applyTransformation(ev *ir.Event) []*ir.Outcome {
	refuse := func(reason ir.RefusalReason) []*ir.Outcome {
		return []*ir.Outcome{{
			Kind:    ir.OutcomeActionRefused,
			Epoch:   k.state.Epoch(),
			EventID: ev.ID,
			Actor:   ev.RequesterHolderID,
			Reason:  reason,
		}}
	}

	switch ev.Transformation {
	case ir.TransformSuspend, ir.TransformResume,
		ir.TransformRevoke, ir.TransformNarrowScope:
		return k.applyAuthorityTransformation(ev, refuse)
	case ir.TransformResolveConflict:
		return k.applyResolution(ev, refuse)
	default:
		// CREATE is reserved to injection, EXPIRE to the kernel's
		// epoch sweep; anything else is off the whitelist entirely.
		return refuse(ir.RefuseIllegalTransformation)
	}
}

func (k *Kernel) applyAuthorityTransformation(ev *ir.Event, refuse func(ir.RefusalReason) []*ir.Outcome) []*ir.Outcome {
	records := k.state.Records()
	target, ok := records.Authority(ev.Targets.AuthorityID)
	if !ok {
		return refuse(ir.RefuseIllegalTransformation)
	}

	// Status preconditions per transformation. Terminal statuses are
	// unreachable by all of them.
	legal := false
	switch ev.Transformation {
	case ir.TransformSuspend, ir.TransformNarrowScope:
		legal = target.Status == ir.StatusActive
	case ir.TransformResume:
		legal = target.Status == ir.StatusSuspended
	case ir.TransformRevoke:
		legal = !target.Status.Terminal()
	}
	if !legal {
		return refuse(ir.RefuseIllegalTransformation)
	}

	if ev.Transformation == ir.TransformNarrowScope {
		if len(ev.Targets.NarrowedScope) == 0 {
			return refuse(ir.RefuseEmptyScope)
		}
		if !strictSubset(ev.Targets.NarrowedScope, target.Scope) {
			return refuse(ir.RefuseIllegalTransformation)
		}
	}

	if ok, reason := warrant(k.state, ev.RequesterHolderID, ev.Transformation, target.Scope); !ok {
		return refuse(reason)
	}

	next := target.Clone()
	switch ev.Transformation {
	case ir.TransformSuspend:
		next.Status = ir.StatusSuspended
	case ir.TransformResume:
		next.Status = ir.StatusActive
	case ir.TransformRevoke:
		next.Status = ir.StatusRevoked
	case ir.TransformNarrowScope:
		next.Scope = slices.Clone(ev.Targets.NarrowedScope)
	}
	if err := records.ReplaceAuthority(next); err != nil {
		fault("STATE_INCOHERENCE", "transformation: %v", err)
	}

	return []*ir.Outcome{{
		Kind:           ir.OutcomeAuthorityTransformed,
		Epoch:          k.state.Epoch(),
		EventID:        ev.ID,
		Actor:          ev.RequesterHolderID,
		Transformation: ev.Transformation,
		AuthorityID:    target.ID,
	}}
}

// applyResolution handles RESOLVE_CONFLICT: the only transformation
// that touches a conflict record, and strictly destructive by design.
// At least one frozen participant must be revoked; resolution never
// re-activates, re-scopes, or re-ranks anyone.
func (k *Kernel) applyResolution(ev *ir.Event, refuse func(ir.RefusalReason) []*ir.Outcome) []*ir.Outcome {
	records := k.state.Records()
	conflict, ok := records.Conflict(ev.Targets.ConflictID)
	if !ok || conflict.Status != ir.ConflictOpen {
		return refuse(ir.RefuseIllegalTransformation)
	}

	revoke := ev.Targets.RevokeAuthorityIDs
	if len(revoke) == 0 {
		return refuse(ir.RefuseIllegalArbitration)
	}
	seen := make(map[string]bool, len(revoke))
	for _, id := range revoke {
		if seen[id] || !slices.Contains(conflict.AuthorityIDs, id) {
			return refuse(ir.RefuseIllegalArbitration)
		}
		seen[id] = true
	}

	if ok, reason := warrant(k.state, ev.RequesterHolderID, ir.TransformResolveConflict, conflict.ScopeElements); !ok {
		return refuse(reason)
	}

	var outcomes []*ir.Outcome
	sorted := slices.Clone(revoke)
	slices.Sort(sorted)
	for _, id := range sorted {
		target, ok := records.Authority(id)
		if !ok {
			fault("STATE_INCOHERENCE", "resolution: participant %s missing", id)
		}
		if target.Status.Terminal() {
			continue
		}
		next := target.Clone()
		next.Status = ir.StatusRevoked
		if err := records.ReplaceAuthority(next); err != nil {
			fault("STATE_INCOHERENCE", "resolution: %v", err)
		}
		outcomes = append(outcomes, &ir.Outcome{
			Kind:           ir.OutcomeAuthorityTransformed,
			Epoch:          k.state.Epoch(),
			EventID:        ev.ID,
			Actor:          ev.RequesterHolderID,
			Transformation: ir.TransformRevoke,
			AuthorityID:    target.ID,
			ConflictID:     conflict.ID,
		})
	}

	resolved := conflict.Clone()
	resolved.Status = ir.ConflictResolved
	if err := records.ReplaceConflict(resolved); err != nil {
		fault("STATE_INCOHERENCE", "resolution: %v", err)
	}
	outcomes = append(outcomes, &ir.Outcome{
		Kind:           ir.OutcomeAuthorityTransformed,
		Epoch:          k.state.Epoch(),
		EventID:        ev.ID,
		Actor:          ev.RequesterHolderID,
		Transformation: ir.TransformResolveConflict,
		ConflictID:     conflict.ID,
	})
	return outcomes
}

// applyExpiry is the kernel's own EXPIRE sweep, run once per epoch
// advance. An authority expires when the new epoch is strictly past its
// expiry epoch. The sweep walks identities in sorted order so the
// emitted outcomes have one possible sequence.
func (k *Kernel) applyExpiry(newEpoch int64) []*ir.Outcome {
	records := k.state.Records()
	var ids []string
	for _, a := range records.Authorities() {
		if !a.Status.Terminal() && a.ExpiryEpoch != nil && newEpoch > *a.ExpiryEpoch {
			ids = append(ids, a.ID)
		}
	}
	slices.Sort(ids)

	var outcomes []*ir.Outcome
	for _, id := range ids {
		target, _ := records.Authority(id)
		next := target.Clone()
		next.Status = ir.StatusExpired
		if err := records.ReplaceAuthority(next); err != nil {
			fault("STATE_INCOHERENCE", "expiry: %v", err)
		}
		outcomes = append(outcomes, &ir.Outcome{
			Kind:           ir.OutcomeAuthorityTransformed,
			Epoch:          newEpoch,
			Actor:          ir.SystemActor,
			Transformation: ir.TransformExpire,
			AuthorityID:    id,
		})
	}
	return outcomes
}

// strictSubset reports whether narrowed is a proper subset of scope.
func strictSubset(narrowed, scope []ir.ScopeElement) bool {
	if len(narrowed) >= len(scope) {
		return false
	}
	seen := make(map[string]bool, len(narrowed))
	for _, e := range narrowed {
		if seen[e.Key()] || !slices.Contains(scope, e) {
			return false
		}
		seen[e.Key()] = true
	}
	return true
}
