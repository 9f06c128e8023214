package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultStart is the clock reading a scenario starts from when it does
// not name one.
const DefaultStart = "2026-01-05T09:00:00Z"

// Scenario is a scripted practice flow run against a fresh service.
type Scenario struct {
	// Name uniquely identifies this scenario; it also names the golden file.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	// Start is the RFC 3339 instant the service clock reads before the
	// first step. Empty uses DefaultStart.
	Start string `yaml:"start,omitempty"`

	// IDPrefix prefixes generated user and session ids. Empty uses "sc".
	IDPrefix string `yaml:"id_prefix,omitempty"`

	Flow []Step `yaml:"flow"`

	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step invokes one service operation.
type Step struct {
	// Op names the operation, e.g. "start_session". See Ops.
	Op string `yaml:"op"`

	// Args are decoded into the operation's input. String values of the
	// form "$name" or "$name.field" refer to an earlier step's saved
	// result; a bare "$name" means its id.
	Args map[string]any `yaml:"args,omitempty"`

	// Advance moves the clock forward (a Go duration) before the step runs.
	Advance string `yaml:"advance,omitempty"`

	// Save stores the step's result under this name for later references.
	Save string `yaml:"save,omitempty"`

	// Expect checks the outcome. Without it the step must succeed.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause describes the expected outcome of a step.
type ExpectClause struct {
	// Error is the expected error reason (e.g. SESSION_NOT_ACTIVE). Empty
	// means the step succeeds.
	Error string `yaml:"error,omitempty"`

	// Result is matched as a subset against the step's JSON result.
	Result map[string]any `yaml:"result,omitempty"`
}

// Assertion validates the trace or the final state.
type Assertion struct {
	// Type is one of trace_contains, trace_order, trace_count, final_state.
	Type string `yaml:"type"`

	// Op and Outcome select trace entries (trace_contains, trace_count).
	// An empty Outcome matches any.
	Op      string `yaml:"op,omitempty"`
	Outcome string `yaml:"outcome,omitempty"`

	// Count is the expected number of matching entries (trace_count) or
	// of rows in a list view (final_state).
	Count *int `yaml:"count,omitempty"`

	// Ops is the expected op order (trace_order).
	Ops []string `yaml:"ops,omitempty"`

	// View and Key select state to read (final_state). See Views.
	View string `yaml:"view,omitempty"`
	Key  string `yaml:"key,omitempty"`

	// Expect is matched as a subset against the view (final_state).
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
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
	if s.Start != "" {
		if _, err := time.Parse(time.RFC3339, s.Start); err != nil {
			return fmt.Errorf("start: %w", err)
		}
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	saved := map[string]bool{}
	for i, step := range s.Flow {
		if step.Op == "" {
			return fmt.Errorf("flow[%d]: op is required", i)
		}
		if _, ok := ops[step.Op]; !ok {
			return fmt.Errorf("flow[%d]: unknown op %q", i, step.Op)
		}
		if step.Advance != "" {
			d, err := time.ParseDuration(step.Advance)
			if err != nil {
				return fmt.Errorf("flow[%d].advance: %w", i, err)
			}
			if d < 0 {
				return fmt.Errorf("flow[%d].advance: must not be negative", i)
			}
		}
		if step.Save != "" {
			if saved[step.Save] {
				return fmt.Errorf("flow[%d].save: %q already used", i, step.Save)
			}
			saved[step.Save] = true
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertTraceContains:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Ops) == 0 {
			return fmt.Errorf("assertions[%d]: ops list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_count", index)
		}
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if _, ok := views[a.View]; !ok {
			return fmt.Errorf("assertions[%d]: unknown view %q", index, a.View)
		}
		if len(a.Expect) == 0 && a.Count == nil {
			return fmt.Errorf("assertions[%d]: expect or count is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
