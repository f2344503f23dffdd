package kernel

import (
	"bytes"
	"fmt"
	"slices"
	"strings"

	"github.com/mandate-sh/mandate/internal/ir"
)

// SequencedEvent pairs an event with the canonical bytes its identity
// was computed over.
type SequencedEvent struct {
	Event     *ir.Event
	Canonical []byte
}

// SequenceBatch imposes the canonical total order on a batch of
// simultaneously arriving events: ascending by (identity, canonical
// bytes). The identity embeds the content hash, so this is the
// hash-derived order the protocol requires; the byte comparison breaks
// the (theoretical) tie of a hash collision deterministically.
//
// Sequencing is ignorant of event kinds - no kind enjoys priority.
//
// Two byte-identical events in one batch are a protocol violation, not
// a silent dedup: the batch is invalid and the run aborts.
func SequenceBatch(events []*ir.Event) ([]SequencedEvent, *InvalidRunError) {
	seq := make([]SequencedEvent, len(events))
	for i, ev := range events {
		canonical, err := ev.Seal()
		if err != nil {
			return nil, &InvalidRunError{
				Code:    CodeMalformedEncoding,
				Message: fmt.Sprintf("event %d: %v", i, err),
			}
		}
		seq[i] = SequencedEvent{Event: ev, Canonical: canonical}
	}

	slices.SortFunc(seq, func(a, b SequencedEvent) int {
		if c := strings.Compare(a.Event.ID, b.Event.ID); c != 0 {
			return c
		}
		return bytes.Compare(a.Canonical, b.Canonical)
	})

	for i := 1; i < len(seq); i++ {
		if bytes.Equal(seq[i-1].Canonical, seq[i].Canonical) {
			return nil, &InvalidRunError{
				Code:    CodeDuplicateEvent,
				Message: "invalid batch: two byte-identical events",
				EventID: seq[i].Event.ID,
			}
		}
	}

	return seq, nil
}
