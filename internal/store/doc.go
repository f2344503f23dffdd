// Package store holds the single authority state for a run: the
// identity-keyed authority and conflict records, the current epoch,
// and the kernel mode.
//
// Two invariants shape the implementation. Opacity: the store performs
// no comparison beyond identity equality - two structurally identical
// authorities under different identities are distinct records, both
// retained. Anti-ordering: iteration order is unspecified and must not
// affect any decision; a canonical sort exists only at the
// serialization boundary. Go's randomized map iteration makes an
// accidental ordering dependency fail fast in tests.
package store
