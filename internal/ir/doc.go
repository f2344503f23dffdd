// Package ir defines the kernel's data model and canonical codec.
//
// Every record the kernel hashes - events, conflicts, state snapshots,
// audit entries - is first lowered to a constrained value tree (Value)
// and then encoded as RFC 8785 canonical JSON. The constraints are
// deliberate: no floats, no null, no locale-sensitive text. Two
// logically equal records encode to identical bytes on every platform,
// which is what makes content-addressed identity and bit-exact replay
// possible.
//
// Authority identity is the one exception to content addressing: an
// authority_id is assigned at creation and is never derived from the
// record's content.
package ir
