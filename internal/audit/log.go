package audit

import (
	"fmt"

	"github.com/mandate-sh/mandate/internal/ir"
)

// EntryKind distinguishes the four entry shapes in the log.
type EntryKind string

const (
	// KindGenesis is the first entry of every log: the frozen initial
	// conditions (gas budget, initial state identity, versions).
	KindGenesis EntryKind = "genesis"

	// KindBatch records one batch's raw arrival order and canonical
	// post-sequencing order.
	KindBatch EntryKind = "batch"

	// KindEvent records one event's canonical bytes at its canonical
	// position, with the state identity before processing.
	KindEvent EntryKind = "event"

	// KindOutcome records one emitted outcome, with the state identity
	// after its effect.
	KindOutcome EntryKind = "outcome"
)

// Entry is one link of the hash chain. Payload holds the canonical
// bytes of the entry's subject (genesis record, batch order record,
// event, or outcome); the entry hash covers a fixed header plus the
// payload hash.
type Entry struct {
	Index        int64
	Kind         EntryKind
	Epoch        int64
	EventID      string
	Payload      []byte
	StateID      string
	GasRemaining int64
	PrevHash     string
	EntryHash    string
}

// content lowers the hashed portion of the entry to the canonical
// value domain.
func (e *Entry) content() ir.Object {
	obj := ir.Object{
		"index":         ir.Int(e.Index),
		"kind":          ir.String(e.Kind),
		"epoch":         ir.Int(e.Epoch),
		"payload_hash":  ir.String(ir.HashWithDomain(ir.DomainEntry, e.Payload)),
		"gas_remaining": ir.Int(e.GasRemaining),
	}
	if e.EventID != "" {
		obj["event_id"] = ir.String(e.EventID)
	}
	if e.StateID != "" {
		obj["state_id"] = ir.String(e.StateID)
	}
	return obj
}

// computeHash derives the chained entry hash from the previous hash.
func (e *Entry) computeHash(prev string) string {
	return ir.ChainHash(prev, ir.MustMarshalCanonical(e.content()))
}

// Log is the in-memory append-only audit log for one run.
type Log struct {
	entries  []Entry
	lastHash string

	gasBudget      int64
	initialStateID string
}

// NewLog starts a log with a genesis entry freezing the run's initial
// conditions.
func NewLog(gasBudget int64, initialStateID string) *Log {
	l := &Log{gasBudget: gasBudget, initialStateID: initialStateID}
	payload := ir.MustMarshalCanonical(ir.Object{
		"kernel_version": ir.String(ir.KernelVersion),
		"schema_version": ir.String(ir.SchemaVersion),
		"gas_budget":     ir.Int(gasBudget),
		"initial_state":  ir.String(initialStateID),
	})
	l.append(Entry{
		Kind:         KindGenesis,
		Payload:      payload,
		StateID:      initialStateID,
		GasRemaining: gasBudget,
	})
	return l
}

func (l *Log) append(e Entry) Entry {
	e.Index = int64(len(l.entries))
	e.PrevHash = l.lastHash
	e.EntryHash = e.computeHash(l.lastHash)
	l.entries = append(l.entries, e)
	l.lastHash = e.EntryHash
	return e
}

// AppendBatch records a batch boundary with both orders. The two
// arrays are the only places in the log where element order itself is
// the recorded fact.
func (l *Log) AppendBatch(epoch int64, rawOrder, canonicalOrder []string, gasRemaining int64) Entry {
	payload := ir.MustMarshalCanonical(ir.Object{
		"raw":       stringArray(rawOrder),
		"canonical": stringArray(canonicalOrder),
	})
	return l.append(Entry{
		Kind:         KindBatch,
		Epoch:        epoch,
		Payload:      payload,
		GasRemaining: gasRemaining,
	})
}

// AppendEvent records an event at its canonical position. stateID is
// the state identity before the event is processed.
func (l *Log) AppendEvent(epoch int64, eventID string, canonical []byte, stateID string, gasRemaining int64) Entry {
	return l.append(Entry{
		Kind:         KindEvent,
		Epoch:        epoch,
		EventID:      eventID,
		Payload:      canonical,
		StateID:      stateID,
		GasRemaining: gasRemaining,
	})
}

// AppendOutcome records an emitted outcome.
func (l *Log) AppendOutcome(o *ir.Outcome, gasRemaining int64) Entry {
	return l.append(Entry{
		Kind:         KindOutcome,
		Epoch:        o.Epoch,
		EventID:      o.EventID,
		Payload:      ir.MustMarshalCanonical(o.Canonical()),
		StateID:      o.StateID,
		GasRemaining: gasRemaining,
	})
}

// Entries returns a copy of the log entries.
func (l *Log) Entries() []Entry {
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries including genesis.
func (l *Log) Len() int { return len(l.entries) }

// Entry returns the entry at index.
func (l *Log) Entry(i int64) (Entry, bool) {
	if i < 0 || i >= int64(len(l.entries)) {
		return Entry{}, false
	}
	return l.entries[i], true
}

// LastHash returns the head of the hash chain.
func (l *Log) LastHash() string { return l.lastHash }

// GasBudget returns the budget frozen in the genesis entry.
func (l *Log) GasBudget() int64 { return l.gasBudget }

// InitialStateID returns the initial state identity frozen in the
// genesis entry.
func (l *Log) InitialStateID() string { return l.initialStateID }

// VerifyChain recomputes every entry hash from the canonical contents.
// Returns the index of the first corrupted entry, or -1 if the chain
// is intact. No partial credit: one bad link invalidates the log.
func (l *Log) VerifyChain() int64 {
	prev := ""
	for i := range l.entries {
		e := &l.entries[i]
		if e.PrevHash != prev || e.computeHash(prev) != e.EntryHash {
			return int64(i)
		}
		prev = e.EntryHash
	}
	return -1
}

// FromEntries reconstructs a log from persisted entries. The chain is
// not verified here; the replay verifier owns that judgment.
func FromEntries(entries []Entry) (*Log, error) {
	if len(entries) == 0 || entries[0].Kind != KindGenesis {
		return nil, fmt.Errorf("audit log must begin with a genesis entry")
	}
	genesis, err := ir.DecodeValue(entries[0].Payload)
	if err != nil {
		return nil, fmt.Errorf("decode genesis: %w", err)
	}
	obj, ok := genesis.(ir.Object)
	if !ok {
		return nil, fmt.Errorf("genesis payload is not an object")
	}
	budget, ok := obj["gas_budget"].(ir.Int)
	if !ok {
		return nil, fmt.Errorf("genesis missing gas_budget")
	}
	initial, ok := obj["initial_state"].(ir.String)
	if !ok {
		return nil, fmt.Errorf("genesis missing initial_state")
	}

	l := &Log{
		entries:        make([]Entry, len(entries)),
		gasBudget:      int64(budget),
		initialStateID: string(initial),
	}
	copy(l.entries, entries)
	l.lastHash = entries[len(entries)-1].EntryHash
	return l, nil
}

func stringArray(vals []string) ir.Array {
	arr := make(ir.Array, len(vals))
	for i, s := range vals {
		arr[i] = ir.String(s)
	}
	return arr
}
