package ir

// OutcomeKind tags the six canonical output variants. These are the
// only values the kernel ever emits to downstream collaborators.
type OutcomeKind string

const (
	OutcomeActionExecuted       OutcomeKind = "ACTION_EXECUTED"
	OutcomeActionRefused        OutcomeKind = "ACTION_REFUSED"
	OutcomeAuthorityTransformed OutcomeKind = "AUTHORITY_TRANSFORMED"
	OutcomeConflictRegistered   OutcomeKind = "CONFLICT_REGISTERED"
	OutcomeDeadlockDeclared     OutcomeKind = "DEADLOCK_DECLARED"
	OutcomeSuspensionEntered    OutcomeKind = "SUSPENSION_ENTERED"
)

// RefusalReason is a tier-1 structural refusal code. Refusals are
// normal outputs: logged, typed, and otherwise inert.
type RefusalReason string

const (
	RefuseNoAuthority           RefusalReason = "NO_AUTHORITY"
	RefuseConflictBlocks        RefusalReason = "CONFLICT_BLOCKS"
	RefuseSuspended             RefusalReason = "SUSPENDED"
	RefuseInterference          RefusalReason = "INTERFERENCE"
	RefuseDeadlockState         RefusalReason = "DEADLOCK_STATE"
	RefuseIllegalTransformation RefusalReason = "ILLEGAL_TRANSFORMATION"
	RefuseIllegalArbitration    RefusalReason = "ILLEGAL_ARBITRATION"
	RefuseEmptyScope            RefusalReason = "EMPTY_SCOPE"
)

// DeadlockKind names the three terminal classifications.
type DeadlockKind string

const (
	DeadlockConflict   DeadlockKind = "CONFLICT_DEADLOCK"
	DeadlockGovernance DeadlockKind = "GOVERNANCE_DEADLOCK"
	DeadlockEntropic   DeadlockKind = "ENTROPIC_COLLAPSE"
)

// SuspensionReason is carried by SUSPENSION_ENTERED.
type SuspensionReason string

const (
	SuspendGasExhausted SuspensionReason = "GAS_BUDGET_UNSATISFIED"
)

// Outcome is one kernel output. EventID links back to the triggering
// event where one exists; kernel-initiated outcomes (expiry, conflict
// registration, deadlock) carry the system actor as Actor.
type Outcome struct {
	Kind    OutcomeKind
	Epoch   int64
	EventID string
	Actor   string // requester holder, or SystemActor

	Reason     RefusalReason    // ACTION_REFUSED
	Deadlock   DeadlockKind     // DEADLOCK_DECLARED
	Suspension SuspensionReason // SUSPENSION_ENTERED

	Transformation Transformation // AUTHORITY_TRANSFORMED
	AuthorityID    string         // AUTHORITY_TRANSFORMED
	ConflictID     string         // CONFLICT_REGISTERED, RESOLVE_CONFLICT

	Executed []ScopeElement // ACTION_EXECUTED: the elements acted on
	StateID  string         // state identity after this outcome
}

// Canonical lowers the outcome to the canonical value domain. Empty
// optional fields are omitted rather than encoded as empty strings, so
// logically equal outcomes encode identically.
func (o *Outcome) Canonical() Object {
	obj := Object{
		"kind":  String(o.Kind),
		"epoch": Int(o.Epoch),
	}
	if o.EventID != "" {
		obj["event_id"] = String(o.EventID)
	}
	if o.Actor != "" {
		obj["actor"] = String(o.Actor)
	}
	if o.Reason != "" {
		obj["reason"] = String(o.Reason)
	}
	if o.Deadlock != "" {
		obj["deadlock"] = String(o.Deadlock)
	}
	if o.Suspension != "" {
		obj["suspension"] = String(o.Suspension)
	}
	if o.Transformation != "" {
		obj["transformation"] = String(o.Transformation)
	}
	if o.AuthorityID != "" {
		obj["authority_id"] = String(o.AuthorityID)
	}
	if o.ConflictID != "" {
		obj["conflict_id"] = String(o.ConflictID)
	}
	if len(o.Executed) > 0 {
		obj["executed"] = scopeCanonical(o.Executed)
	}
	if o.StateID != "" {
		obj["state_id"] = String(o.StateID)
	}
	return obj
}

// Token renders the outcome as a short stable token for trace
// comparison: the kind, plus the discriminating detail where one
// exists. Identities are deliberately excluded so traces are readable
// and independent of generated IDs.
func (o *Outcome) Token() string {
	switch o.Kind {
	case OutcomeActionRefused:
		return string(o.Kind) + ":" + string(o.Reason)
	case OutcomeAuthorityTransformed:
		return string(o.Kind) + ":" + string(o.Transformation)
	case OutcomeDeadlockDeclared:
		return string(o.Kind) + ":" + string(o.Deadlock)
	case OutcomeSuspensionEntered:
		return string(o.Kind) + ":" + string(o.Suspension)
	default:
		return string(o.Kind)
	}
}
