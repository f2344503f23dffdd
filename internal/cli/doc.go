// Package cli implements the mandate command line interface: run
// (execute a manifest and persist the audit log), replay (out-of-band
// verification of a persisted log), and validate (manifest schema
// checking). Commands return ExitError to control process exit codes.
package cli
