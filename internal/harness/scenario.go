package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario is one conformance test: scripted batches plus assertions
// over the resulting outcome trace.
type Scenario struct {
	// Name uniquely identifies the scenario; also the golden file name.
	Name string `yaml:"name"`

	// Description explains what the scenario demonstrates.
	Description string `yaml:"description"`

	// GasBudget overrides the kernel default when positive.
	GasBudget int64 `yaml:"gas_budget,omitempty"`

	// AuthorityIDs is the frozen identity sequence handed to the
	// kernel's fixed generator, one per CREATE the scenario performs.
	// Later steps reference these identities by value.
	AuthorityIDs []string `yaml:"authority_ids,omitempty"`

	// Batches are submitted in order; each inner list is one
	// simultaneous batch.
	Batches [][]Step `yaml:"batches"`

	// Assertions validate the final trace and mode.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one scripted event in shorthand. Exactly one field is set.
type Step struct {
	Inject    *InjectStep    `yaml:"inject,omitempty"`
	Tick      *int64         `yaml:"tick,omitempty"`
	Transform *TransformStep `yaml:"transform,omitempty"`
	Act       *ActStep       `yaml:"act,omitempty"`
}

// InjectStep scripts an AUTHORITY_INJECTION.
type InjectStep struct {
	Holder  string      `yaml:"holder"`
	Scope   []ScopeStep `yaml:"scope"`
	Start   int64       `yaml:"start,omitempty"`
	Expiry  *int64      `yaml:"expiry,omitempty"`
	Permits []string    `yaml:"permits,omitempty"`
}

// ScopeStep is one (resource, operation) pair.
type ScopeStep struct {
	Resource  string `yaml:"resource"`
	Operation string `yaml:"operation"`
}

// TransformStep scripts a TRANSFORMATION_REQUEST. Conflict may be the
// literal identity or "@open", which the runner resolves to the single
// currently OPEN conflict.
type TransformStep struct {
	Requester string      `yaml:"requester"`
	Op        string      `yaml:"op"`
	Authority string      `yaml:"authority,omitempty"`
	Conflict  string      `yaml:"conflict,omitempty"`
	Revoke    []string    `yaml:"revoke,omitempty"`
	Narrowed  []ScopeStep `yaml:"narrowed,omitempty"`
}

// ActStep scripts an ACTION_REQUEST.
type ActStep struct {
	Requester string      `yaml:"requester"`
	On        []ScopeStep `yaml:"on"`
}

// Assertion validates the outcome trace or the final kernel mode.
type Assertion struct {
	// Type: trace_contains, trace_order, trace_count, final_mode, or
	// invalid_run.
	Type string `yaml:"type"`

	// Token is one outcome token, e.g. "ACTION_REFUSED:NO_AUTHORITY"
	// (trace_contains, trace_count).
	Token string `yaml:"token,omitempty"`

	// Tokens must appear in the trace in this relative order
	// (trace_order).
	Tokens []string `yaml:"tokens,omitempty"`

	// Count is the exact number of occurrences (trace_count).
	Count int `yaml:"count,omitempty"`

	// Mode is the expected final kernel mode (final_mode), e.g.
	// "RUNNING" or "DEADLOCKED:ENTROPIC_COLLAPSE".
	Mode string `yaml:"mode,omitempty"`

	// Code is the expected invalid-run code (invalid_run); empty
	// asserts the run stayed valid.
	Code string `yaml:"code,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalMode     = "final_mode"
	AssertInvalidRun    = "invalid_run"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields
// are rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("parse scenario YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", path, err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Batches) == 0 {
		return fmt.Errorf("batches list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for bi, batch := range s.Batches {
		for si, step := range batch {
			if err := validateStep(&step); err != nil {
				return fmt.Errorf("batches[%d][%d]: %w", bi, si, err)
			}
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(&a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(step *Step) error {
	set := 0
	if step.Inject != nil {
		set++
		if step.Inject.Holder == "" {
			return fmt.Errorf("inject: holder is required")
		}
		if len(step.Inject.Scope) == 0 {
			return fmt.Errorf("inject: scope must be non-empty")
		}
	}
	if step.Tick != nil {
		set++
	}
	if step.Transform != nil {
		set++
		if step.Transform.Requester == "" || step.Transform.Op == "" {
			return fmt.Errorf("transform: requester and op are required")
		}
	}
	if step.Act != nil {
		set++
		if step.Act.Requester == "" {
			return fmt.Errorf("act: requester is required")
		}
		if len(step.Act.On) == 0 {
			return fmt.Errorf("act: on must be non-empty")
		}
	}
	if set != 1 {
		return fmt.Errorf("exactly one of inject, tick, transform, act must be set")
	}
	return nil
}

func validateAssertion(a *Assertion) error {
	switch a.Type {
	case AssertTraceContains:
		if a.Token == "" {
			return fmt.Errorf("token is required for trace_contains")
		}
	case AssertTraceOrder:
		if len(a.Tokens) == 0 {
			return fmt.Errorf("tokens list is required for trace_order")
		}
	case AssertTraceCount:
		if a.Token == "" {
			return fmt.Errorf("token is required for trace_count")
		}
		if a.Count < 0 {
			return fmt.Errorf("count must be non-negative for trace_count")
		}
	case AssertFinalMode:
		if a.Mode == "" {
			return fmt.Errorf("mode is required for final_mode")
		}
	case AssertInvalidRun:
		// empty code asserts the run stayed valid
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
