package kernel

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/mandate-sh/mandate/internal/ir"
)

// IDGenerator assigns authority identities at CREATE. The identity is
// content-independent by contract, so it must come from outside the
// hashed domain; freezing the generator is what makes replay and
// golden tests byte-exact.
//
// Implemented by UUIDv7Generator (production), FixedIDGenerator
// (tests), and sequenceIDGenerator (replay).
type IDGenerator interface {
	NextAuthorityID() string
}

// UUIDv7Generator mints time-sortable UUIDv7 authority identities.
// Sortability is a debugging convenience only; nothing in the kernel
// reads the embedded timestamp.
type UUIDv7Generator struct{}

// NextAuthorityID returns "aut-" plus a hyphenated UUIDv7.
func (UUIDv7Generator) NextAuthorityID() string {
	return ir.PrefixAuthority + "-" + uuid.Must(uuid.NewV7()).String()
}

// FixedIDGenerator returns predetermined identities in order. Tests
// use it to make authority identities stable across runs.
//
// Exhausting the sequence panics: a test that creates more authorities
// than it declared is misconfigured, and failing fast beats a silent
// identity collision.
type FixedIDGenerator struct {
	ids []string
	idx int
}

// NewFixedIDGenerator creates a generator over the given identities.
func NewFixedIDGenerator(ids ...string) *FixedIDGenerator {
	return &FixedIDGenerator{ids: ids}
}

// NextAuthorityID returns the next predetermined identity.
func (g *FixedIDGenerator) NextAuthorityID() string {
	if g.idx >= len(g.ids) {
		panic("FixedIDGenerator: all identities exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}

// sequenceIDGenerator replays identities harvested from a recorded
// log. Past the end it returns sentinel identities instead of
// panicking: an overrun means the re-execution already diverged, and
// the verifier reports that divergence with an index rather than
// crashing.
type sequenceIDGenerator struct {
	ids []string
	idx int
}

func (g *sequenceIDGenerator) NextAuthorityID() string {
	if g.idx >= len(g.ids) {
		g.idx++
		return fmt.Sprintf("%s-replay-overrun-%d", ir.PrefixAuthority, g.idx)
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}
