package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckAssertions(t *testing.T) {
	result := &Result{
		Trace: []string{
			"AUTHORITY_TRANSFORMED:CREATE",
			"ACTION_REFUSED:NO_AUTHORITY",
			"ACTION_EXECUTED",
			"ACTION_REFUSED:NO_AUTHORITY",
		},
		FinalMode: "RUNNING",
	}

	pass := &Scenario{Assertions: []Assertion{
		{Type: AssertTraceContains, Token: "ACTION_EXECUTED"},
		{Type: AssertTraceCount, Token: "ACTION_REFUSED:NO_AUTHORITY", Count: 2},
		{Type: AssertTraceOrder, Tokens: []string{"AUTHORITY_TRANSFORMED:CREATE", "ACTION_EXECUTED"}},
		{Type: AssertFinalMode, Mode: "RUNNING"},
		{Type: AssertInvalidRun},
	}}
	assert.Empty(t, CheckAssertions(pass, result))

	fail := &Scenario{Assertions: []Assertion{
		{Type: AssertTraceContains, Token: "DEADLOCK_DECLARED:CONFLICT_DEADLOCK"},
		{Type: AssertTraceCount, Token: "ACTION_EXECUTED", Count: 2},
		{Type: AssertTraceOrder, Tokens: []string{"ACTION_EXECUTED", "AUTHORITY_TRANSFORMED:CREATE"}},
		{Type: AssertFinalMode, Mode: "DEADLOCKED:CONFLICT_DEADLOCK"},
		{Type: AssertInvalidRun, Code: "GAS_BUDGET_UNSATISFIED"},
	}}
	assert.Len(t, CheckAssertions(fail, result), 5)
}

func TestSubsequence(t *testing.T) {
	trace := []string{"a", "b", "c", "b", "d"}

	assert.True(t, subsequence(trace, nil))
	assert.True(t, subsequence(trace, []string{"a", "d"}))
	assert.True(t, subsequence(trace, []string{"b", "b"}))
	assert.True(t, subsequence(trace, trace))
	assert.False(t, subsequence(trace, []string{"d", "a"}))
	assert.False(t, subsequence(trace, []string{"b", "b", "b"}))
	assert.False(t, subsequence(nil, []string{"a"}))
}

func TestCountToken(t *testing.T) {
	trace := []string{"x", "y", "x"}
	assert.Equal(t, 2, countToken(trace, "x"))
	assert.Equal(t, 0, countToken(trace, "z"))
}
