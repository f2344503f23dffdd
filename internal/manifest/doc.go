// Package manifest loads and validates run manifests: CUE documents
// that script a complete kernel run (gas budget plus event batches).
//
// The manifest is configuration, not state: it is consumed once at
// startup, and nothing in the kernel ever reads it again. Validation
// uses the CUE Go API directly; the embedded schema rejects floats,
// nulls, and unknown fields before any event is constructed.
package manifest
