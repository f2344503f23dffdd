// Package kernel implements the deterministic authority admissibility
// kernel: sequencing, two-pass admissibility evaluation, the
// transformation whitelist, conflict and deadlock classification, gas
// accounting, and replay verification.
//
// The kernel is single-threaded and fully deterministic within a run.
// There is no internal parallelism, no wall-clock input, and no
// randomness: the only generated values are authority identities,
// which come from an injectable IDGenerator so that tests and replay
// can freeze them. Given a frozen initial state and a fixed event
// sequence, repeated executions produce byte-identical audit logs and
// state hashes.
//
// Error tiers are kept strictly apart. Structural refusals are normal
// outcomes. Protocol violations (duplicate events, epoch
// discontinuity, gas exhaustion, replay divergence) invalidate the run
// with a typed InvalidRunError. Invariant violations inside the kernel
// itself panic with a KERNEL_FAULT code; they are defects, not run
// outcomes.
package kernel
