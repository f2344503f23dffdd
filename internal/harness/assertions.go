package harness

import (
	"fmt"
)

// CheckAssertions evaluates every assertion against the result and
// returns one error per failure. Nil slice means the scenario passed.
func CheckAssertions(scenario *Scenario, result *Result) []error {
	var errs []error
	for i, a := range scenario.Assertions {
		if err := checkAssertion(&a, result); err != nil {
			errs = append(errs, fmt.Errorf("assertions[%d] (%s): %w", i, a.Type, err))
		}
	}
	return errs
}

func checkAssertion(a *Assertion, result *Result) error {
	switch a.Type {
	case AssertTraceContains:
		if countToken(result.Trace, a.Token) == 0 {
			return fmt.Errorf("token %q not in trace %v", a.Token, result.Trace)
		}
	case AssertTraceCount:
		if got := countToken(result.Trace, a.Token); got != a.Count {
			return fmt.Errorf("token %q appears %d times, want %d", a.Token, got, a.Count)
		}
	case AssertTraceOrder:
		if !subsequence(result.Trace, a.Tokens) {
			return fmt.Errorf("tokens %v not in order in trace %v", a.Tokens, result.Trace)
		}
	case AssertFinalMode:
		if result.FinalMode != a.Mode {
			return fmt.Errorf("final mode %q, want %q", result.FinalMode, a.Mode)
		}
	case AssertInvalidRun:
		if result.InvalidRun != a.Code {
			return fmt.Errorf("invalid-run code %q, want %q", result.InvalidRun, a.Code)
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

func countToken(trace []string, token string) int {
	n := 0
	for _, t := range trace {
		if t == token {
			n++
		}
	}
	return n
}

// subsequence reports whether want appears in trace in relative order,
// not necessarily adjacent.
func subsequence(trace, want []string) bool {
	i := 0
	for _, t := range trace {
		if i < len(want) && t == want[i] {
			i++
		}
	}
	return i == len(want)
}
