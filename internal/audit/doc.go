// Package audit implements the append-only, hash-chained audit log
// and its SQLite persistence.
//
// Every kernel step appends exactly one entry; each entry hash covers
// the previous entry hash and the entry's canonical content, so any
// edit to a persisted log is detectable at the exact edited index.
// The log retains both the raw arrival order and the canonical
// post-sequencing order of every batch, which is what allows the
// replay verifier to re-execute a run bit-exactly out of band.
//
// Gas readings live here and only here: the authority state carries no
// counters or telemetry.
package audit
