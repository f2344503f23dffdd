package harness

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mandate-sh/mandate/internal/ir"
	"github.com/mandate-sh/mandate/internal/kernel"
)

// OpenConflictRef in a transform step resolves, at submission time, to
// the single currently OPEN conflict. Conflict identities are content
// hashes, so scenario files cannot spell them out.
const OpenConflictRef = "@open"

// Result is the observable outcome of a scenario execution.
type Result struct {
	// Trace is the emitted outcome tokens in emission order.
	Trace []string

	// FinalMode is the canonical kernel mode after the last batch.
	FinalMode string

	// InvalidRun is the invalid-run code if the run aborted, empty
	// otherwise.
	InvalidRun string

	// Kernel is the kernel the scenario ran against, exposed for
	// replay and audit assertions.
	Kernel *kernel.Kernel
}

// Run executes a scenario against a fresh kernel and collects the
// outcome trace. A tier-2 abort is captured in the result, not
// returned: scenarios assert on it. A returned error means the scenario
// itself is unusable.
func Run(scenario *Scenario) (*Result, error) {
	opts := []kernel.Option{
		kernel.WithIDGenerator(kernel.NewFixedIDGenerator(scenario.AuthorityIDs...)),
		kernel.WithLogger(slog.New(slog.DiscardHandler)),
	}
	if scenario.GasBudget > 0 {
		opts = append(opts, kernel.WithGasBudget(scenario.GasBudget))
	}
	k := kernel.New(opts...)

	result := &Result{Kernel: k}
	for bi, steps := range scenario.Batches {
		batch, err := buildBatch(k, steps)
		if err != nil {
			return nil, fmt.Errorf("batches[%d]: %w", bi, err)
		}
		outcomes, err := k.ProcessBatch(batch)
		for _, o := range outcomes {
			result.Trace = append(result.Trace, o.Token())
		}
		if err != nil {
			var ie *kernel.InvalidRunError
			if !errors.As(err, &ie) {
				return nil, fmt.Errorf("batches[%d]: %w", bi, err)
			}
			result.InvalidRun = string(ie.Code)
			break
		}
	}

	mode := k.State().Mode().Canonical()
	if s, ok := mode.(ir.String); ok {
		result.FinalMode = string(s)
	}
	return result, nil
}

func buildBatch(k *kernel.Kernel, steps []Step) ([]*ir.Event, error) {
	epoch := k.State().Epoch()
	batch := make([]*ir.Event, 0, len(steps))
	for i, step := range steps {
		ev, err := buildEvent(k, epoch, step)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		batch = append(batch, ev)
	}
	return batch, nil
}

func buildEvent(k *kernel.Kernel, epoch int64, step Step) (*ir.Event, error) {
	switch {
	case step.Inject != nil:
		in := step.Inject
		draft := &ir.AuthorityDraft{
			HolderID:   in.Holder,
			Scope:      buildScope(in.Scope),
			StartEpoch: in.Start,
		}
		if in.Expiry != nil {
			exp := *in.Expiry
			draft.ExpiryEpoch = &exp
		}
		for _, p := range in.Permits {
			draft.PermittedTransformations = append(draft.PermittedTransformations, ir.Transformation(p))
		}
		return &ir.Event{
			Kind:      ir.EventAuthorityInjection,
			Epoch:     epoch,
			Authority: draft,
		}, nil

	case step.Tick != nil:
		return &ir.Event{
			Kind:        ir.EventEpochTick,
			TargetEpoch: *step.Tick,
		}, nil

	case step.Transform != nil:
		tr := step.Transform
		targets := &ir.TransformTargets{
			AuthorityID:        tr.Authority,
			RevokeAuthorityIDs: tr.Revoke,
			NarrowedScope:      buildScope(tr.Narrowed),
		}
		if tr.Conflict != "" {
			id, err := resolveConflictRef(k, tr.Conflict)
			if err != nil {
				return nil, err
			}
			targets.ConflictID = id
		}
		return &ir.Event{
			Kind:              ir.EventTransformationRequest,
			Epoch:             epoch,
			RequesterHolderID: tr.Requester,
			Transformation:    ir.Transformation(tr.Op),
			Targets:           targets,
		}, nil

	case step.Act != nil:
		return &ir.Event{
			Kind:              ir.EventActionRequest,
			Epoch:             epoch,
			RequesterHolderID: step.Act.Requester,
			Action:            buildScope(step.Act.On),
		}, nil
	}
	return nil, fmt.Errorf("empty step")
}

func buildScope(steps []ScopeStep) []ir.ScopeElement {
	if len(steps) == 0 {
		return nil
	}
	scope := make([]ir.ScopeElement, len(steps))
	for i, s := range steps {
		scope[i] = ir.ScopeElement{Resource: s.Resource, Operation: s.Operation}
	}
	return scope
}

func resolveConflictRef(k *kernel.Kernel, ref string) (string, error) {
	if !strings.HasPrefix(ref, "@") {
		return ref, nil
	}
	if ref != OpenConflictRef {
		return "", fmt.Errorf("unknown conflict reference %q", ref)
	}
	open := k.State().Records().OpenConflicts()
	if len(open) != 1 {
		return "", fmt.Errorf("%s requires exactly one open conflict, found %d", OpenConflictRef, len(open))
	}
	return open[0].ID, nil
}
