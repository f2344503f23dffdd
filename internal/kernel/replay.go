package kernel

import (
	"fmt"
	"log/slog"

	"github.com/mandate-sh/mandate/internal/audit"
	"github.com/mandate-sh/mandate/internal/ir"
)

// VerifyReplay re-executes a recorded run from its audit log and
// demands bit-for-bit equivalence: same entries, same hashes, same
// everything. Any divergence is NONDETERMINISTIC_EXECUTION with the
// first divergent index; a broken hash chain is reported the same way
// without re-executing.
//
// Authority identities are content-independent, so replay freezes them
// by harvesting every CREATE outcome from the recorded log and feeding
// the identities back in log order.
func VerifyReplay(recorded *audit.Log) error {
	if idx := recorded.VerifyChain(); idx >= 0 {
		return &InvalidRunError{
			Code:    CodeNondeterministic,
			Message: "audit chain hash mismatch",
			Index:   idx,
		}
	}

	batches, err := reconstructBatches(recorded)
	if err != nil {
		return err
	}
	ids, err := harvestAuthorityIDs(recorded)
	if err != nil {
		return err
	}

	k := New(
		WithGasBudget(recorded.GasBudget()),
		WithIDGenerator(&sequenceIDGenerator{ids: ids}),
		WithLogger(slog.New(slog.DiscardHandler)),
	)
	for _, batch := range batches {
		if _, err := k.ProcessBatch(batch); err != nil {
			// The recorded run may have ended the same way; the
			// entry-by-entry comparison below is the judgment.
			break
		}
	}

	return compareLogs(recorded, k.Log())
}

func compareLogs(recorded, replayed *audit.Log) error {
	want := recorded.Entries()
	got := replayed.Entries()
	n := min(len(want), len(got))
	for i := 0; i < n; i++ {
		if want[i].EntryHash != got[i].EntryHash {
			return &InvalidRunError{
				Code:     CodeNondeterministic,
				Message:  fmt.Sprintf("replay diverged (%s entry)", want[i].Kind),
				Index:    want[i].Index,
				Expected: want[i].EntryHash,
				Observed: got[i].EntryHash,
			}
		}
	}
	if len(want) != len(got) {
		return &InvalidRunError{
			Code:    CodeNondeterministic,
			Message: fmt.Sprintf("replay produced %d entries, recorded %d", len(got), len(want)),
			Index:   int64(n),
		}
	}
	return nil
}

// reconstructBatches rebuilds the original input batches from the log:
// each batch entry names the raw arrival order, and the event entries
// that follow it carry the canonical bytes to decode. Raw order matters
// because the batch entry re-emitted on replay records it.
func reconstructBatches(recorded *audit.Log) ([][]*ir.Event, error) {
	var (
		batches  [][]*ir.Event
		rawOrder []string
		decoded  map[string]*ir.Event
	)
	flush := func() error {
		if rawOrder == nil {
			return nil
		}
		batch := make([]*ir.Event, len(rawOrder))
		for i, id := range rawOrder {
			ev, ok := decoded[id]
			if !ok {
				return &InvalidRunError{
					Code:    CodeNondeterministic,
					Message: fmt.Sprintf("batch names event %s with no event entry", id),
					EventID: id,
				}
			}
			batch[i] = ev
		}
		batches = append(batches, batch)
		rawOrder, decoded = nil, nil
		return nil
	}

	for _, e := range recorded.Entries() {
		switch e.Kind {
		case audit.KindBatch:
			if err := flush(); err != nil {
				return nil, err
			}
			raw, err := decodeBatchRawOrder(e.Payload)
			if err != nil {
				return nil, &InvalidRunError{
					Code:    CodeMalformedEncoding,
					Message: fmt.Sprintf("batch entry %d: %v", e.Index, err),
					Index:   e.Index,
				}
			}
			rawOrder = raw
			decoded = make(map[string]*ir.Event, len(raw))
		case audit.KindEvent:
			ev, err := ir.DecodeEvent(e.Payload)
			if err != nil {
				return nil, &InvalidRunError{
					Code:    CodeMalformedEncoding,
					Message: fmt.Sprintf("event entry %d: %v", e.Index, err),
					Index:   e.Index,
				}
			}
			if ev.ID != e.EventID {
				return nil, &InvalidRunError{
					Code:     CodeNondeterministic,
					Message:  "event entry identity does not match its payload",
					Index:    e.Index,
					Expected: e.EventID,
					Observed: ev.ID,
				}
			}
			if decoded != nil {
				decoded[ev.ID] = ev
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return batches, nil
}

func decodeBatchRawOrder(payload []byte) ([]string, error) {
	val, err := ir.DecodeValue(payload)
	if err != nil {
		return nil, err
	}
	obj, ok := val.(ir.Object)
	if !ok {
		return nil, fmt.Errorf("batch payload is not an object")
	}
	arr, ok := obj["raw"].(ir.Array)
	if !ok {
		return nil, fmt.Errorf("batch payload missing raw order")
	}
	raw := make([]string, len(arr))
	for i, v := range arr {
		s, ok := v.(ir.String)
		if !ok {
			return nil, fmt.Errorf("raw order element %d is not a string", i)
		}
		raw[i] = string(s)
	}
	return raw, nil
}

// harvestAuthorityIDs extracts the authority identities minted by the
// recorded run, in log order.
func harvestAuthorityIDs(recorded *audit.Log) ([]string, error) {
	var ids []string
	for _, e := range recorded.Entries() {
		if e.Kind != audit.KindOutcome {
			continue
		}
		val, err := ir.DecodeValue(e.Payload)
		if err != nil {
			return nil, &InvalidRunError{
				Code:    CodeMalformedEncoding,
				Message: fmt.Sprintf("outcome entry %d: %v", e.Index, err),
				Index:   e.Index,
			}
		}
		obj, ok := val.(ir.Object)
		if !ok {
			continue
		}
		kind, _ := obj["kind"].(ir.String)
		transformation, _ := obj["transformation"].(ir.String)
		if ir.OutcomeKind(kind) != ir.OutcomeAuthorityTransformed ||
			ir.Transformation(transformation) != ir.TransformCreate {
			continue
		}
		if id, ok := obj["authority_id"].(ir.String); ok {
			ids = append(ids, string(id))
		}
	}
	return ids, nil
}
