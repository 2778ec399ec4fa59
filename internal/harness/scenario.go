package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/diamondctl/internal/ir"
)

// Scenario defines a deployment scenario.
// A scenario runs a sequence of deployments against one simulated chain and
// one state database, then asserts on the resulting trace and final state.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Artifacts maps contract names to their ABI. Each entry is either a
	// 0x-prefixed 4-byte selector or a Solidity function signature.
	// Diamond and DiamondCutFacet are provided when absent.
	Artifacts map[string][]string `yaml:"artifacts"`

	// Runs are executed in order. Each run is one full pipeline.
	Runs []RunStep `yaml:"runs"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`

	// RunID is the fixed run id used by every run.
	// If empty, defaults to "test-run-default".
	RunID string `yaml:"run_id,omitempty"`
}

// RunStep is one deployment run.
type RunStep struct {
	// Config is the desired configuration for this run.
	Config ir.DeployConfig `yaml:"config"`

	// Artifacts replaces ABIs from this run on, modelling recompiled facets.
	Artifacts map[string][]string `yaml:"artifacts,omitempty"`

	// Fail injects a chain failure before the run starts.
	Fail *Failure `yaml:"fail,omitempty"`

	// Expect describes how the run ends. If nil, the run must succeed.
	Expect *RunExpect `yaml:"expect,omitempty"`
}

// Failure makes the next deployment of Target fail, or the next cut when
// Target is "diamondCut".
type Failure struct {
	Target string `yaml:"target"`
	Reason string `yaml:"reason"`
}

// RunExpect specifies the expected outcome of a run.
type RunExpect struct {
	// Error is a substring of the expected error. Empty means success.
	Error string `yaml:"error,omitempty"`

	// Phase is the phase expected to fail.
	Phase string `yaml:"phase,omitempty"`

	// Persisted is whether state must have been saved.
	Persisted *bool `yaml:"persisted,omitempty"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "routes": Selector dispatches to Facet on chain
	// - "unrouted": Selector is not in the dispatch table
	// - "facet_version": persisted state records Facet at Version
	// - "facet_absent": persisted state has no record for Facet
	// - "protocol_version": persisted protocol version equals Version
	// - "trace_contains": a trace event matches Event, Facet and Action
	// - "trace_count": exactly Count trace events match Event and Facet
	Type string `yaml:"type"`

	Selector string `yaml:"selector,omitempty"`
	Facet    string `yaml:"facet,omitempty"`
	Version  int    `yaml:"version,omitempty"`
	Event    string `yaml:"event,omitempty"`
	Action   string `yaml:"action,omitempty"`
	Count    int    `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertRoutes          = "routes"
	AssertUnrouted        = "unrouted"
	AssertFacetVersion    = "facet_version"
	AssertFacetAbsent     = "facet_absent"
	AssertProtocolVersion = "protocol_version"
	AssertTraceContains   = "trace_contains"
	AssertTraceCount      = "trace_count"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes a scenario with strict field validation.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Runs) == 0 {
		return fmt.Errorf("runs list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for name, abi := range s.Artifacts {
		if _, err := parseABI(abi); err != nil {
			return fmt.Errorf("artifacts.%s: %w", name, err)
		}
	}
	for i, run := range s.Runs {
		for name, abi := range run.Artifacts {
			if _, err := parseABI(abi); err != nil {
				return fmt.Errorf("runs[%d].artifacts.%s: %w", i, name, err)
			}
		}
		if run.Fail != nil && run.Fail.Target == "" {
			return fmt.Errorf("runs[%d].fail: target is required", i)
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertRoutes:
		if a.Selector == "" || a.Facet == "" {
			return fmt.Errorf("assertions[%d]: selector and facet are required for routes", index)
		}
	case AssertUnrouted:
		if a.Selector == "" {
			return fmt.Errorf("assertions[%d]: selector is required for unrouted", index)
		}
	case AssertFacetVersion, AssertFacetAbsent:
		if a.Facet == "" {
			return fmt.Errorf("assertions[%d]: facet is required for %s", index, a.Type)
		}
	case AssertProtocolVersion:
	case AssertTraceContains:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_contains", index)
		}
	case AssertTraceCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	if a.Selector != "" {
		if _, err := ir.ParseSelector(a.Selector); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
	}
	return nil
}

// parseABI resolves ABI entries to selectors. Entries that start with 0x are
// parsed as selectors; anything else is hashed as a function signature.
func parseABI(abi []string) ([]ir.Selector, error) {
	sels := make([]ir.Selector, 0, len(abi))
	for _, entry := range abi {
		if len(entry) > 2 && entry[:2] == "0x" {
			sel, err := ir.ParseSelector(entry)
			if err != nil {
				return nil, err
			}
			sels = append(sels, sel)
			continue
		}
		sels = append(sels, ir.SelectorFromSignature(entry))
	}
	return ir.SortSelectors(sels), nil
}
