package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/nullguard/internal/config"
	"github.com/roach88/nullguard/internal/weaver"
)

// Scenario defines a weaving scenario: an assembly, the policy it is woven
// with, calls made on the woven result and assertions on the ledger.
type Scenario struct {
	// Name uniquely identifies this scenario. It doubles as the session id
	// and the golden file name.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Assembly is the path of the CUE assembly description.
	// Relative paths are resolved against the scenario file location.
	Assembly string `yaml:"assembly"`

	// Policy overrides config.DefaultPolicy field by field.
	Policy yaml.Node `yaml:"policy,omitempty"`

	// Flow contains calls on the woven assembly, in order.
	Flow []FlowStep `yaml:"flow,omitempty"`

	// Assertions validate the recorded injections and diagnostics.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// FlowStep invokes one method of the woven assembly.
type FlowStep struct {
	// Call is "Namespace.Type::Method". Instance methods run on the
	// scenario's shared instance of the type.
	Call string `yaml:"call"`

	// Args are the method arguments: null, strings, integers or booleans.
	// By-ref parameters are passed as fresh locations holding the value.
	Args []any `yaml:"args,omitempty"`

	// Expect specifies the expected outcome.
	// If nil, the step only has to run without an interpreter fault.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies the expected outcome of a step.
type ExpectClause struct {
	// Outcome is "returns", "throws" or "faulted" (an async method's task
	// completed with an exception).
	Outcome string `yaml:"outcome"`

	// Value is the expected return value when Outcome is "returns" and
	// Type is empty. Absent means null.
	Value any `yaml:"value,omitempty"`

	// Type is the expected type of a returned object instead of a value.
	Type string `yaml:"type,omitempty"`

	// Exception is the expected exception type.
	Exception string `yaml:"exception,omitempty"`

	// Message must be contained in the exception message.
	Message string `yaml:"message,omitempty"`

	// Param is the expected ArgumentNullException parameter name.
	Param string `yaml:"param,omitempty"`

	// Out maps by-ref parameter names to their expected final values.
	Out map[string]any `yaml:"out,omitempty"`
}

// Assertion validates the weaving report as recorded in the ledger.
type Assertion struct {
	// Type specifies the assertion type:
	// - "injected": member has injections (of Kind, Count times if given)
	// - "not_injected": member has no injections (of Kind if given)
	// - "diagnostic": a diagnostic of Severity containing Contains exists
	// - "no_errors": no Error diagnostic was reported
	Type string `yaml:"type"`

	// Member is the member key, e.g. "M:Samples.Widget.Echo(System.String)".
	Member string `yaml:"member,omitempty"`

	// Kind filters injections by guard kind.
	Kind string `yaml:"kind,omitempty"`

	// Count is the exact number of matching injections.
	Count *int `yaml:"count,omitempty"`

	// Severity is the diagnostic channel: info, warning or error.
	Severity string `yaml:"severity,omitempty"`

	// Contains must be a substring of the diagnostic message.
	Contains string `yaml:"contains,omitempty"`
}

// Assertion type constants.
const (
	AssertInjected    = "injected"
	AssertNotInjected = "not_injected"
	AssertDiagnostic  = "diagnostic"
	AssertNoErrors    = "no_errors"
)

var (
	validOutcomes   = []string{OutcomeReturns, OutcomeThrows, OutcomeFaulted}
	validSeverities = []weaver.Severity{weaver.SeverityInfo, weaver.SeverityWarning, weaver.SeverityError}
	validKinds      = []weaver.GuardKind{
		weaver.GuardArgument,
		weaver.GuardReturn,
		weaver.GuardOut,
		weaver.GuardAsyncResult,
		weaver.GuardGetter,
		weaver.GuardSetter,
	}
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
// The assembly path is resolved relative to the scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data, filepath.Dir(path))
}

// ParseScenario parses a scenario document, resolving the assembly path
// against baseDir.
func ParseScenario(data []byte, baseDir string) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Assembly != "" && !filepath.IsAbs(scenario.Assembly) && baseDir != "" {
		scenario.Assembly = filepath.Join(baseDir, scenario.Assembly)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// ResolvedPolicy returns the scenario's policy applied on top of the
// default policy.
func (s *Scenario) ResolvedPolicy() (*config.Policy, error) {
	if s.Policy.Kind == 0 {
		return config.DefaultPolicy(), nil
	}
	data, err := yaml.Marshal(&s.Policy)
	if err != nil {
		return nil, fmt.Errorf("encode policy: %w", err)
	}
	return config.ParsePolicy(data)
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Assembly == "" {
		return fmt.Errorf("assembly is required")
	}
	if _, err := os.Stat(s.Assembly); os.IsNotExist(err) {
		return fmt.Errorf("assembly file not found: %s", s.Assembly)
	}
	if len(s.Flow) == 0 && len(s.Assertions) == 0 {
		return fmt.Errorf("flow or assertions is required")
	}
	if _, err := s.ResolvedPolicy(); err != nil {
		return err
	}

	for i, step := range s.Flow {
		if step.Call == "" {
			return fmt.Errorf("flow[%d]: call is required", i)
		}
		if typ, method, ok := strings.Cut(step.Call, "::"); !ok || typ == "" || method == "" {
			return fmt.Errorf("flow[%d]: call %q must be Type::Method", i, step.Call)
		}
		if step.Expect != nil && !slices.Contains(validOutcomes, step.Expect.Outcome) {
			return fmt.Errorf("flow[%d].expect: outcome must be one of %v, got %q", i, validOutcomes, step.Expect.Outcome)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
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
	if a.Kind != "" && !slices.Contains(validKinds, weaver.GuardKind(a.Kind)) {
		return fmt.Errorf("assertions[%d]: unknown guard kind %q", index, a.Kind)
	}

	switch a.Type {
	case AssertInjected:
		if a.Member == "" {
			return fmt.Errorf("assertions[%d]: member is required for injected", index)
		}
		if a.Count != nil && *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for injected", index)
		}
	case AssertNotInjected:
		if a.Member == "" {
			return fmt.Errorf("assertions[%d]: member is required for not_injected", index)
		}
	case AssertDiagnostic:
		if !slices.Contains(validSeverities, weaver.Severity(a.Severity)) {
			return fmt.Errorf("assertions[%d]: severity must be one of %v for diagnostic", index, validSeverities)
		}
	case AssertNoErrors:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
