package kernel

import (
	"slices"

	"github.com/mandate-sh/mandate/internal/ir"
	"github.com/mandate-sh/mandate/internal/store"
)

// detectConflicts scans for scope elements held ACTIVE by two or more
// authorities and not already contested, and registers one conflict per
// such element. The participant set is frozen here: an authority that
// later comes to overlap a contested element joins nothing and is
// blocked by nothing, which is what lets it act as a resolver.
//
// The scan runs after every CREATE and after every status change. An
// element shielded by an OPEN conflict is skipped, so a late entrant
// stays out of the frozen set; once that conflict resolves, or a
// suspended holder resumes, the next scan registers the remaining
// overlap as a fresh conflict.
func (k *Kernel) detectConflicts(eventID string) []*ir.Outcome {
	records := k.state.Records()

	holders := make(map[string][]string)
	elems := make(map[string]ir.ScopeElement)
	for _, a := range records.Authorities() {
		if a.Status != ir.StatusActive {
			continue
		}
		for _, e := range a.Scope {
			holders[e.Key()] = append(holders[e.Key()], a.ID)
			elems[e.Key()] = e
		}
	}

	var contested []ir.ScopeElement
	for key, ids := range holders {
		if len(ids) < 2 {
			continue
		}
		if conflictCoversAny(k.state, []ir.ScopeElement{elems[key]}) {
			continue
		}
		contested = append(contested, elems[key])
	}
	slices.SortFunc(contested, ir.CompareScopeElements)

	var outcomes []*ir.Outcome
	for _, elem := range contested {
		conflict := &ir.ConflictRecord{
			EpochDetected: k.state.Epoch(),
			ScopeElements: []ir.ScopeElement{elem},
			AuthorityIDs:  slices.Clone(holders[elem.Key()]),
			Status:        ir.ConflictOpen,
		}
		id, err := conflict.ComputeConflictID()
		if err != nil {
			fault("MALFORMED_ENCODING", "conflict identity: %v", err)
		}
		conflict.ID = id
		if err := records.InsertConflict(conflict); err != nil {
			fault("STATE_INCOHERENCE", "conflict detection: %v", err)
		}

		for _, aid := range conflict.AuthorityIDs {
			a, ok := records.Authority(aid)
			if !ok {
				fault("STATE_INCOHERENCE", "conflict detection: participant %s missing", aid)
			}
			next := a.Clone()
			next.ConflictRefs = append(next.ConflictRefs, conflict.ID)
			if err := records.ReplaceAuthority(next); err != nil {
				fault("STATE_INCOHERENCE", "conflict detection: %v", err)
			}
		}

		outcomes = append(outcomes, &ir.Outcome{
			Kind:       ir.OutcomeConflictRegistered,
			Epoch:      k.state.Epoch(),
			EventID:    eventID,
			Actor:      ir.SystemActor,
			ConflictID: conflict.ID,
		})
	}
	return outcomes
}

// classifyDeadlock decides whether the state admits any further
// progress, and if not, which terminal classification applies. Progress
// means at least one of: an admissible action, a resolvable open
// conflict, or a resumable suspended authority.
//
// A never-populated state is not deadlocked: with no authorities there
// is nothing to be stuck on, only refusals to hand out.
func classifyDeadlock(st *store.State) (ir.DeadlockKind, bool) {
	records := st.Records()
	if records.AuthorityCount() == 0 {
		return "", false
	}

	var active, suspended []*ir.AuthorityRecord
	for _, a := range records.Authorities() {
		switch a.Status {
		case ir.StatusActive:
			active = append(active, a)
		case ir.StatusSuspended:
			suspended = append(suspended, a)
		}
	}

	// Some ACTIVE authority with an uncontested element means an action
	// on that element would be admitted.
	for _, a := range active {
		for _, e := range a.Scope {
			if !conflictCoversAny(st, []ir.ScopeElement{e}) {
				return "", false
			}
		}
	}

	// An unblocked ACTIVE authority holding RESOLVE_CONFLICT over an
	// open conflict's elements can still arbitrate.
	open := records.OpenConflicts()
	for _, c := range open {
		for _, a := range active {
			if a.Permits(ir.TransformResolveConflict) && a.Covers(c.ScopeElements) && !authorityConflictBlocked(st, a) {
				return "", false
			}
		}
	}

	// An unblocked ACTIVE authority holding RESUME over a suspended
	// authority's scope can still revive it.
	for _, s := range suspended {
		for _, a := range active {
			if a.Permits(ir.TransformResume) && a.Covers(s.Scope) && !authorityConflictBlocked(st, a) {
				return "", false
			}
		}
	}

	switch {
	case len(open) > 0:
		return ir.DeadlockConflict, true
	case len(active) == 0 && len(suspended) == 0:
		// Entropic collapse requires every authority to be terminal.
		// A suspended-only state classifies as governance deadlock:
		// suspension is reversible in principle, terminal statuses
		// are not.
		return ir.DeadlockEntropic, true
	default:
		return ir.DeadlockGovernance, true
	}
}
