package store

import (
	"fmt"

	"github.com/mandate-sh/mandate/internal/ir"
)

// State is the single source of truth for a run. There is exactly one
// State per run, no shadow copies; every admissibility and
// transformation decision reads only from here.
type State struct {
	epoch   int64
	mode    ir.KernelMode
	records *Records
}

// NewState creates the initial state: epoch 0, RUNNING, no records.
func NewState() *State {
	return &State{
		mode:    ir.KernelMode{Phase: ir.PhaseRunning},
		records: NewRecords(),
	}
}

// Epoch returns the current epoch.
func (s *State) Epoch() int64 { return s.epoch }

// AdvanceEpoch moves to target, which must be exactly current+1.
// The discontinuity check belongs to the kernel's tier-2 boundary
// validation; this guard is the last line against a kernel defect.
func (s *State) AdvanceEpoch(target int64) error {
	if target != s.epoch+1 {
		return fmt.Errorf("epoch advance from %d to %d is discontinuous", s.epoch, target)
	}
	s.epoch = target
	return nil
}

// Mode returns the kernel mode.
func (s *State) Mode() ir.KernelMode { return s.mode }

// DeclareDeadlock flips the mode to DEADLOCKED. Deadlock is terminal
// and monotonic: a second declaration is a kernel defect.
func (s *State) DeclareDeadlock(kind ir.DeadlockKind) error {
	if !s.mode.Running() {
		return fmt.Errorf("deadlock already declared (%s)", s.mode.Deadlock)
	}
	s.mode = ir.KernelMode{Phase: ir.PhaseDeadlocked, Deadlock: kind}
	return nil
}

// Records exposes the identity-keyed record storage.
func (s *State) Records() *Records { return s.records }

// snapshotContent lowers the full state, excluding state_id itself, to
// the canonical value domain. Maps are emitted in sorted-key order
// here and nowhere else.
func (s *State) snapshotContent() ir.Object {
	authorities := make(ir.Object, len(s.records.authorities))
	for _, id := range s.records.sortedAuthorityIDs() {
		authorities[id] = s.records.authorities[id].Canonical()
	}
	conflicts := make(ir.Object, len(s.records.conflicts))
	for _, id := range s.records.sortedConflictIDs() {
		conflicts[id] = s.records.conflicts[id].Canonical()
	}
	return ir.Object{
		"current_epoch": ir.Int(s.epoch),
		"authorities":   authorities,
		"conflicts":     conflicts,
		"kernel_mode":   s.mode.Canonical(),
	}
}

// StateID computes the content-derived identity of the full state.
func (s *State) StateID() string {
	id, err := ir.Identity(ir.PrefixState, ir.DomainState, s.snapshotContent())
	if err != nil {
		// Every record passed validation before insertion, so the
		// snapshot cannot leave the canonical domain.
		panic(fmt.Sprintf("KERNEL_FAULT/STATE_INCOHERENCE: %v", err))
	}
	return id
}

// Snapshot returns the persisted state layout: the canonical content
// plus its state_id. No counters or telemetry live here; those belong
// to the audit log.
func (s *State) Snapshot() ir.Object {
	obj := s.snapshotContent()
	obj["state_id"] = ir.String(s.StateID())
	return obj
}
