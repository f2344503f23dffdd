package kernel

import (
	"github.com/mandate-sh/mandate/internal/ir"
	"github.com/mandate-sh/mandate/internal/store"
)

// passOne runs the capability+veto pass for one action request. The
// request is admissible iff the requester holds at least one ACTIVE
// authority whose scope contains every targeted element by exact
// structural equality, no OPEN conflict covers any targeted element,
// and no suspension blocks the covering authority.
//
// The checks are pure existence tests over the authority population,
// so the verdict cannot depend on iteration order.
func passOne(st *store.State, holderID string, elements []ir.ScopeElement) (bool, ir.RefusalReason) {
	activeCover := false
	suspendedCover := false
	for _, a := range st.Records().Authorities() {
		if a.HolderID != holderID || !a.Covers(elements) {
			continue
		}
		switch a.Status {
		case ir.StatusActive:
			activeCover = true
		case ir.StatusSuspended:
			suspendedCover = true
		}
	}

	if !activeCover {
		if suspendedCover {
			return false, ir.RefuseSuspended
		}
		return false, ir.RefuseNoAuthority
	}

	if conflictCoversAny(st, elements) {
		return false, ir.RefuseConflictBlocks
	}

	return true, ""
}

// conflictCoversAny reports whether any OPEN conflict contests any of
// the given elements.
func conflictCoversAny(st *store.State, elements []ir.ScopeElement) bool {
	for _, c := range st.Records().OpenConflicts() {
		for _, e := range elements {
			if c.CoversElement(e) {
				return true
			}
		}
	}
	return false
}

// admittedAction is an action request that survived pass one, held
// back until the batch-level interference pass.
type admittedAction struct {
	order    int // canonical position within the batch
	event    *ir.Event
	elements []ir.ScopeElement
}

// interferencePass partitions pass-one-admissible actions into
// survivors and interfering actions. Whenever two or more distinct
// actions in the same evaluation unit target the same element, all of
// them fail: no tie-break, no priority, no first-come rule. Both
// returned slices preserve canonical order.
func interferencePass(admitted []admittedAction) (survivors, interfering []admittedAction) {
	byElement := make(map[string][]int, len(admitted))
	for i, a := range admitted {
		seen := make(map[string]bool, len(a.elements))
		for _, e := range a.elements {
			key := e.Key()
			if seen[key] {
				continue
			}
			seen[key] = true
			byElement[key] = append(byElement[key], i)
		}
	}

	contested := make(map[int]bool)
	for _, indices := range byElement {
		if len(indices) > 1 {
			for _, i := range indices {
				contested[i] = true
			}
		}
	}

	for i, a := range admitted {
		if contested[i] {
			interfering = append(interfering, a)
		} else {
			survivors = append(survivors, a)
		}
	}
	return survivors, interfering
}

// warrant searches for an ACTIVE authority of the requester that
// permits the transformation, covers the affected elements, and is not
// itself blocked by an OPEN conflict it participates in. Returns the
// refusal reason when no such authority exists.
//
// Conflict blocking differs from the action pass on purpose: an action
// is vetoed by any OPEN conflict on its target elements, while a
// transformation is vetoed only by the requesting authority's own
// conflict participation. A later-created authority overlapping a
// contested element is therefore a valid resolver.
func warrant(st *store.State, holderID string, t ir.Transformation, affected []ir.ScopeElement) (bool, ir.RefusalReason) {
	suspendedCandidate := false
	blockedCandidate := false
	for _, a := range st.Records().Authorities() {
		if a.HolderID != holderID || !a.Permits(t) || !a.Covers(affected) {
			continue
		}
		switch a.Status {
		case ir.StatusSuspended:
			suspendedCandidate = true
		case ir.StatusActive:
			if authorityConflictBlocked(st, a) {
				blockedCandidate = true
				continue
			}
			return true, ""
		}
	}

	switch {
	case blockedCandidate:
		return false, ir.RefuseConflictBlocks
	case suspendedCandidate:
		return false, ir.RefuseSuspended
	default:
		return false, ir.RefuseNoAuthority
	}
}

// authorityConflictBlocked reports whether the authority participates
// in any OPEN conflict.
func authorityConflictBlocked(st *store.State, a *ir.AuthorityRecord) bool {
	for _, ref := range a.ConflictRefs {
		if c, ok := st.Records().Conflict(ref); ok && c.Status == ir.ConflictOpen {
			return true
		}
	}
	return false
}
