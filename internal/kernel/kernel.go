package kernel

import (
	"fmt"
	"log/slog"

	"github.com/mandate-sh/mandate/internal/audit"
	"github.com/mandate-sh/mandate/internal/ir"
	"github.com/mandate-sh/mandate/internal/store"
)

// Kernel runs one admissibility session: one state, one audit log, one
// gas budget. It is not safe for concurrent use; callers serialize
// batches, which is also the protocol's ordering model.
type Kernel struct {
	state  *store.State
	log    *audit.Log
	gas    *GasMeter
	ids    IDGenerator
	logger *slog.Logger

	invalid *InvalidRunError
}

// Option configures a Kernel at construction.
type Option func(*Kernel)

// WithGasBudget overrides the default run-level gas budget.
func WithGasBudget(budget int64) Option {
	return func(k *Kernel) { k.gas = NewGasMeter(budget) }
}

// WithIDGenerator overrides the authority identity source. Tests use
// FixedIDGenerator; the replay verifier supplies identities harvested
// from the recorded log.
func WithIDGenerator(g IDGenerator) Option {
	return func(k *Kernel) { k.ids = g }
}

// WithLogger sets the structured logger. Logging is operational
// telemetry only; nothing downstream may depend on it.
func WithLogger(l *slog.Logger) Option {
	return func(k *Kernel) { k.logger = l }
}

// New creates a kernel at epoch 0 with empty state and a genesis audit
// entry freezing the budget and initial state identity.
func New(opts ...Option) *Kernel {
	k := &Kernel{
		state:  store.NewState(),
		gas:    NewGasMeter(DefaultGasBudget),
		ids:    UUIDv7Generator{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(k)
	}
	k.log = audit.NewLog(k.gas.Budget(), k.state.StateID())
	return k
}

// State exposes the run state for inspection. Callers must treat it as
// read-only.
func (k *Kernel) State() *store.State { return k.state }

// Log exposes the audit log.
func (k *Kernel) Log() *audit.Log { return k.log }

// Gas exposes the gas meter.
func (k *Kernel) Gas() *GasMeter { return k.gas }

// Err returns the invalidating error if the run has been aborted, nil
// while the run is live. Deadlock is not an error: a deadlocked run is
// still valid, it just refuses everything.
func (k *Kernel) Err() error {
	if k.invalid == nil {
		return nil
	}
	return k.invalid
}

// ProcessBatch runs one batch through the full pipeline: canonical
// sequencing, per-event application with action evaluation held to the
// batch boundary, interference resolution, execution of survivors, and
// deadlock classification. Outcomes are returned in emission order,
// which is also their audit log order.
//
// A non-nil error is always an InvalidRunError; the run is dead and
// every later call returns the same error. Outcomes emitted before the
// abort are still returned and logged.
func (k *Kernel) ProcessBatch(events []*ir.Event) ([]*ir.Outcome, error) {
	if k.invalid != nil {
		return nil, k.invalid
	}
	if len(events) == 0 {
		return nil, nil
	}

	seq, ierr := SequenceBatch(events)
	if ierr != nil {
		return nil, k.invalidate(ierr)
	}

	rawOrder := make([]string, len(events))
	for i, ev := range events {
		rawOrder[i] = ev.ID
	}
	canonicalOrder := make([]string, len(seq))
	for i, se := range seq {
		canonicalOrder[i] = se.Event.ID
	}

	if err := k.gas.Charge(CostSequencing(len(seq))); err != nil {
		return k.exhaust(nil, err.(*InvalidRunError))
	}
	k.log.AppendBatch(k.state.Epoch(), rawOrder, canonicalOrder, k.gas.Remaining())

	var (
		outcomes []*ir.Outcome
		admitted []admittedAction
		gasAbort *InvalidRunError
	)

	// Phase A: walk the canonical order. Injections, ticks, and
	// transformations apply immediately; action requests pass the
	// capability check and wait for the interference pass.
	for i, se := range seq {
		ev := se.Event
		k.log.AppendEvent(k.state.Epoch(), ev.ID, se.Canonical, k.state.StateID(), k.gas.Remaining())

		if !k.state.Mode().Running() {
			outcomes = append(outcomes, k.emit(&ir.Outcome{
				Kind:    ir.OutcomeActionRefused,
				Epoch:   k.state.Epoch(),
				EventID: ev.ID,
				Actor:   ev.RequesterHolderID,
				Reason:  ir.RefuseDeadlockState,
			}))
			continue
		}

		var stepErr *InvalidRunError
		switch ev.Kind {
		case ir.EventAuthorityInjection:
			stepErr = k.stepInjection(ev, &outcomes)
		case ir.EventEpochTick:
			stepErr = k.stepEpochTick(ev, &outcomes)
		case ir.EventTransformationRequest:
			stepErr = k.stepTransformation(ev, &outcomes)
		case ir.EventActionRequest:
			stepErr = k.stepAction(ev, i, &outcomes, &admitted)
		default:
			stepErr = &InvalidRunError{
				Code:    CodeMalformedEncoding,
				Message: fmt.Sprintf("unknown event kind %q", ev.Kind),
				EventID: ev.ID,
			}
		}

		if stepErr != nil {
			if stepErr.Code != CodeGasExhausted {
				return outcomes, k.invalidate(stepErr)
			}
			// The in-flight operation is discarded, but the batch's
			// remaining events are still recorded for replay, and
			// actions admitted before exhaustion still run to
			// completion below.
			gasAbort = stepErr
			for _, rest := range seq[i+1:] {
				k.log.AppendEvent(k.state.Epoch(), rest.Event.ID, rest.Canonical, k.state.StateID(), k.gas.Remaining())
			}
			break
		}
	}

	// Phase B: simultaneity resolution. Two admitted actions on the
	// same element annihilate each other; there is no tie-break.
	survivors, interfering := interferencePass(admitted)
	for _, a := range interfering {
		outcomes = append(outcomes, k.emit(&ir.Outcome{
			Kind:    ir.OutcomeActionRefused,
			Epoch:   k.state.Epoch(),
			EventID: a.event.ID,
			Actor:   a.event.RequesterHolderID,
			Reason:  ir.RefuseInterference,
		}))
	}

	// Phase C: execute survivors in canonical order. Execution mutates
	// nothing; the decision was the work.
	for _, a := range survivors {
		outcomes = append(outcomes, k.emit(&ir.Outcome{
			Kind:     ir.OutcomeActionExecuted,
			Epoch:    k.state.Epoch(),
			EventID:  a.event.ID,
			Actor:    a.event.RequesterHolderID,
			Executed: a.elements,
		}))
	}

	if gasAbort != nil {
		return k.exhaust(outcomes, gasAbort)
	}

	// Deadlock is declared on demonstrated lack of progress, not on
	// structural possibility alone: a conflict that nobody has yet
	// bounced off may still be resolved by a later arrival. A batch
	// with at least one refusal is the demonstration.
	refused := false
	for _, o := range outcomes {
		if o.Kind == ir.OutcomeActionRefused {
			refused = true
			break
		}
	}
	if refused && k.state.Mode().Running() {
		if kind, stuck := classifyDeadlock(k.state); stuck {
			if err := k.state.DeclareDeadlock(kind); err != nil {
				fault("STATE_INCOHERENCE", "deadlock declaration: %v", err)
			}
			outcomes = append(outcomes, k.emit(&ir.Outcome{
				Kind:     ir.OutcomeDeadlockDeclared,
				Epoch:    k.state.Epoch(),
				Actor:    ir.SystemActor,
				Deadlock: kind,
			}))
			k.logger.Info("deadlock declared",
				"kind", kind,
				"epoch", k.state.Epoch())
		}
	}

	k.logger.Debug("batch processed",
		"events", len(seq),
		"outcomes", len(outcomes),
		"epoch", k.state.Epoch(),
		"gas_remaining", k.gas.Remaining())
	return outcomes, nil
}

func (k *Kernel) stepInjection(ev *ir.Event, outcomes *[]*ir.Outcome) *InvalidRunError {
	if err := k.gas.Charge(CostInjection(k.state.Records().AuthorityCount())); err != nil {
		return err.(*InvalidRunError)
	}
	created, ierr := k.applyInjection(ev)
	if ierr != nil {
		return ierr
	}
	*outcomes = append(*outcomes, k.emit(created))
	for _, o := range k.detectConflicts(ev.ID) {
		*outcomes = append(*outcomes, k.emit(o))
	}
	return nil
}

func (k *Kernel) stepEpochTick(ev *ir.Event, outcomes *[]*ir.Outcome) *InvalidRunError {
	if ev.TargetEpoch != k.state.Epoch()+1 {
		return &InvalidRunError{
			Code: CodeEpochDiscontinuity,
			Message: fmt.Sprintf("tick targets epoch %d, current is %d",
				ev.TargetEpoch, k.state.Epoch()),
			EventID: ev.ID,
		}
	}
	if err := k.gas.Charge(CostEpochAdvance(k.state.Records().AuthorityCount())); err != nil {
		return err.(*InvalidRunError)
	}
	if err := k.state.AdvanceEpoch(ev.TargetEpoch); err != nil {
		fault("STATE_INCOHERENCE", "epoch advance: %v", err)
	}
	expired := k.applyExpiry(ev.TargetEpoch)
	for _, o := range expired {
		o.EventID = ev.ID
		*outcomes = append(*outcomes, k.emit(o))
	}
	if len(expired) > 0 {
		for _, o := range k.detectConflicts(ev.ID) {
			*outcomes = append(*outcomes, k.emit(o))
		}
	}
	return nil
}

func (k *Kernel) stepTransformation(ev *ir.Event, outcomes *[]*ir.Outcome) *InvalidRunError {
	if err := k.gas.Charge(CostTransformation(k.state.Records().AuthorityCount(), len(ev.Targets.RevokeAuthorityIDs)+1)); err != nil {
		return err.(*InvalidRunError)
	}
	applied := false
	for _, o := range k.applyTransformation(ev) {
		if o.Kind == ir.OutcomeAuthorityTransformed {
			applied = true
		}
		*outcomes = append(*outcomes, k.emit(o))
	}
	// Every status change re-runs detection: a resolution or a resume
	// can leave two ACTIVE authorities sharing a newly unshielded
	// element, and that overlap must register immediately.
	if applied {
		for _, o := range k.detectConflicts(ev.ID) {
			*outcomes = append(*outcomes, k.emit(o))
		}
	}
	return nil
}

func (k *Kernel) stepAction(ev *ir.Event, order int, outcomes *[]*ir.Outcome, admitted *[]admittedAction) *InvalidRunError {
	if err := k.gas.Charge(CostActionEvaluation(k.state.Records().AuthorityCount(), len(ev.Action))); err != nil {
		return err.(*InvalidRunError)
	}
	ok, reason := passOne(k.state, ev.RequesterHolderID, ev.Action)
	if !ok {
		*outcomes = append(*outcomes, k.emit(&ir.Outcome{
			Kind:    ir.OutcomeActionRefused,
			Epoch:   k.state.Epoch(),
			EventID: ev.ID,
			Actor:   ev.RequesterHolderID,
			Reason:  reason,
		}))
		return nil
	}
	*admitted = append(*admitted, admittedAction{
		order:    order,
		event:    ev,
		elements: ev.Action,
	})
	return nil
}

// emit finalizes an outcome with the post-effect state identity and
// appends it to the audit log.
func (k *Kernel) emit(o *ir.Outcome) *ir.Outcome {
	o.StateID = k.state.StateID()
	k.log.AppendOutcome(o, k.gas.Remaining())
	return o
}

// exhaust ends the run on gas exhaustion: one SUSPENSION_ENTERED
// outcome, then the invalidating error.
func (k *Kernel) exhaust(outcomes []*ir.Outcome, cause *InvalidRunError) ([]*ir.Outcome, error) {
	suspended := k.emit(&ir.Outcome{
		Kind:       ir.OutcomeSuspensionEntered,
		Epoch:      k.state.Epoch(),
		Actor:      ir.SystemActor,
		Suspension: ir.SuspendGasExhausted,
	})
	outcomes = append(outcomes, suspended)
	return outcomes, k.invalidate(cause)
}

// invalidate records the run-ending error. First error wins.
func (k *Kernel) invalidate(err *InvalidRunError) error {
	if k.invalid == nil {
		k.invalid = err
		k.logger.Error("run invalidated", "code", err.Code, "err", err.Message)
	}
	return k.invalid
}
