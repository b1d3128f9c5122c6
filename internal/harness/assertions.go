package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/nullguard/internal/store"
	"github.com/roach88/nullguard/internal/weaver"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// AssertionContext gives assertions access to the ledger a scenario's
// report was recorded in.
type AssertionContext struct {
	Store     *store.Store
	Ctx       context.Context
	SessionID string
}

// EvaluateAssertions checks every assertion and returns the failure
// messages. A ledger read failure is reported as a failure of the
// assertion that needed it.
func EvaluateAssertions(assertions []Assertion, actx *AssertionContext) []string {
	injections, injErr := actx.Store.ReadInjections(actx.Ctx, actx.SessionID)
	diags, diagErr := actx.Store.ReadDiagnostics(actx.Ctx, actx.SessionID)

	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertInjected, AssertNotInjected:
			if err = injErr; err == nil {
				err = assertInjections(injections, a)
			}
		case AssertDiagnostic, AssertNoErrors:
			if err = diagErr; err == nil {
				err = assertDiagnostics(diags, a)
			}
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func matchingInjections(injections []weaver.Injection, member, kind string) []weaver.Injection {
	var out []weaver.Injection
	for _, inj := range injections {
		if inj.Member == member && (kind == "" || string(inj.Kind) == kind) {
			out = append(out, inj)
		}
	}
	return out
}

func describeInjections(injections []weaver.Injection) string {
	if len(injections) == 0 {
		return "none"
	}
	parts := make([]string, len(injections))
	for i, inj := range injections {
		parts[i] = string(inj.Kind)
		if inj.Target != "" {
			parts[i] += "(" + inj.Target + ")"
		}
	}
	return strings.Join(parts, ", ")
}

func assertInjections(injections []weaver.Injection, a Assertion) error {
	found := matchingInjections(injections, a.Member, a.Kind)
	what := a.Member
	if a.Kind != "" {
		what = a.Kind + " guard on " + a.Member
	}
	all := describeInjections(matchingInjections(injections, a.Member, ""))

	switch a.Type {
	case AssertNotInjected:
		if len(found) > 0 {
			return &AssertionError{
				Type:     a.Type,
				Expected: "no " + what,
				Actual:   all,
			}
		}
	default:
		if a.Count != nil && len(found) != *a.Count {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%d x %s", *a.Count, what),
				Actual:   fmt.Sprintf("%d (%s)", len(found), all),
			}
		}
		if a.Count == nil && len(found) == 0 {
			return &AssertionError{
				Type:     a.Type,
				Expected: what,
				Actual:   all,
			}
		}
	}
	return nil
}

func assertDiagnostics(diags []weaver.Diagnostic, a Assertion) error {
	if a.Type == AssertNoErrors {
		for _, d := range diags {
			if d.Severity == weaver.SeverityError {
				return &AssertionError{
					Type:     a.Type,
					Expected: "no error diagnostics",
					Actual:   fmt.Sprintf("%s: %s", d.Member, d.Message),
				}
			}
		}
		return nil
	}

	for _, d := range diags {
		if string(d.Severity) == a.Severity && strings.Contains(d.Message, a.Contains) {
			return nil
		}
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("%s diagnostic containing %q", a.Severity, a.Contains),
		Actual:   fmt.Sprintf("%d diagnostics, none matching", len(diags)),
	}
}
