package ir

// KernelVersion identifies the kernel build recorded in audit logs.
const KernelVersion = "0.1.0"

// SchemaVersion identifies the canonical encoding schema. Bump only
// with a matching change to the identity domain strings.
const SchemaVersion = "1"
