package kernel

import (
	"errors"
	"fmt"
)

// InvalidRunCode categorizes tier-2 protocol violations. Any of these
// aborts the entire run immediately; there is no partial continuation,
// no retry, and no downgrade to a refusal.
type InvalidRunCode string

const (
	// CodeDuplicateEvent: two byte-identical events in one batch.
	CodeDuplicateEvent InvalidRunCode = "DUPLICATE_EVENT"

	// CodeEpochDiscontinuity: an EpochTick whose target is not
	// current_epoch + 1.
	CodeEpochDiscontinuity InvalidRunCode = "EPOCH_DISCONTINUITY"

	// CodeMalformedEncoding: a record or event outside the canonical
	// domain arrived at the kernel boundary.
	CodeMalformedEncoding InvalidRunCode = "MALFORMED_ENCODING"

	// CodeGasExhausted: the gas budget ran out mid-batch.
	CodeGasExhausted InvalidRunCode = "GAS_BUDGET_UNSATISFIED"

	// CodeNondeterministic: replay produced a different entry than the
	// recorded log.
	CodeNondeterministic InvalidRunCode = "NONDETERMINISTIC_EXECUTION"
)

// InvalidRunError invalidates a run with a stable code. For replay
// divergence it carries the first divergent index and both values.
type InvalidRunError struct {
	Code    InvalidRunCode
	Message string
	EventID string

	// Replay divergence detail.
	Index    int64
	Expected string
	Observed string
}

// Error implements the error interface.
func (e *InvalidRunError) Error() string {
	if e.Code == CodeNondeterministic {
		return fmt.Sprintf("INVALID_RUN/%s: %s (index=%d, expected=%q, observed=%q)",
			e.Code, e.Message, e.Index, e.Expected, e.Observed)
	}
	if e.EventID != "" {
		return fmt.Sprintf("INVALID_RUN/%s: %s (event=%s)", e.Code, e.Message, e.EventID)
	}
	return fmt.Sprintf("INVALID_RUN/%s: %s", e.Code, e.Message)
}

// IsInvalidRun reports whether err is an InvalidRunError with the
// given code. Uses errors.As to handle wrapped errors.
func IsInvalidRun(err error, code InvalidRunCode) bool {
	var ie *InvalidRunError
	if errors.As(err, &ie) {
		return ie.Code == code
	}
	return false
}

// fault panics with a tier-3 kernel fault. Reaching one of these means
// the kernel itself is defective; tests treat it as a failure of the
// kernel, never as a run outcome.
func fault(code string, format string, args ...any) {
	panic(fmt.Sprintf("KERNEL_FAULT/%s: %s", code, fmt.Sprintf(format, args...)))
}
