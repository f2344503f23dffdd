// Package harness runs conformance scenarios against the kernel.
//
// Scenarios are YAML files: a fixed authority-identity sequence, event
// batches in shorthand, and assertions over the emitted outcome trace.
// Because the identity generator is frozen per scenario, a scenario's
// trace is a pure function of the file and golden comparison is exact.
//
// The harness also hosts the seeded synthetic traffic generator. All
// randomness in the repository lives in this package; the kernel side
// of the boundary only ever sees concrete event batches.
package harness
