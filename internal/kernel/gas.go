package kernel

import (
	"fmt"
)

// DefaultGasBudget is the run-level budget in abstract logical steps.
// Generous enough that well-formed runs never approach it; small
// enough that a runaway batch terminates deterministically.
const DefaultGasBudget int64 = 1 << 20

// Gas cost model. Costs are pure functions of canonical input size
// and current state size - record scans, comparisons, and hash
// computations, never wall-clock time - so identical sequences consume
// identical gas on every platform.
//
// The constants are coarse on purpose: the meter bounds computation,
// it does not profile it.
const (
	gasPerSequencedEvent   int64 = 2 // encode + hash
	gasInjectionBase       int64 = 4
	gasEpochAdvanceBase    int64 = 2
	gasTransformationBase  int64 = 6
	gasActionEvaluationBase int64 = 8
)

// CostSequencing is the charge for canonically ordering a batch.
func CostSequencing(batchSize int) int64 {
	return gasPerSequencedEvent * int64(batchSize)
}

// CostInjection is the charge for a CREATE: one insert plus the
// conflict scan over the authority population.
func CostInjection(authorityCount int) int64 {
	return gasInjectionBase + int64(authorityCount)
}

// CostEpochAdvance is the charge for an epoch tick: the expiry scan
// over the authority population.
func CostEpochAdvance(authorityCount int) int64 {
	return gasEpochAdvanceBase + int64(authorityCount)
}

// CostTransformation is the charge for an externally requested
// transformation: warrant search plus target handling.
func CostTransformation(authorityCount, targetCount int) int64 {
	return gasTransformationBase + int64(authorityCount) + int64(targetCount)
}

// CostActionEvaluation is the charge for one action request's
// admissibility evaluation. Execution itself is covered by the
// evaluation charge: admission is where the work is.
func CostActionEvaluation(authorityCount, elementCount int) int64 {
	return gasActionEvaluationBase + int64(elementCount)*(1+int64(authorityCount))
}

// GasMeter is the run-level deterministic computation bound. It is
// ephemeral bookkeeping: gas readings appear in the audit log, never
// in the authority state.
type GasMeter struct {
	budget int64
	used   int64
}

// NewGasMeter creates a meter with the given budget.
func NewGasMeter(budget int64) *GasMeter {
	return &GasMeter{budget: budget}
}

// Charge spends cost units. On exhaustion the charge is not applied
// and an error is returned; the caller discards the in-flight
// operation and invalidates the run. Exhaustion is never deferred or
// retried.
func (m *GasMeter) Charge(cost int64) error {
	if cost < 0 {
		fault("STATE_INCOHERENCE", "negative gas cost %d", cost)
	}
	if m.used+cost > m.budget {
		return &InvalidRunError{
			Code:    CodeGasExhausted,
			Message: fmt.Sprintf("gas budget exhausted: used %d + cost %d > budget %d", m.used, cost, m.budget),
		}
	}
	m.used += cost
	return nil
}

// Used returns the units consumed so far.
func (m *GasMeter) Used() int64 { return m.used }

// Remaining returns the units left in the budget.
func (m *GasMeter) Remaining() int64 { return m.budget - m.used }

// Budget returns the configured budget.
func (m *GasMeter) Budget() int64 { return m.budget }
