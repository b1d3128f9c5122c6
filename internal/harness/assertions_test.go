package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/nullguard/internal/store"
	"github.com/roach88/nullguard/internal/weaver"
)

const echoMember = "M:Samples.Widget.Echo(System.String)"

func count(n int) *int { return &n }

func sampleInjections() []weaver.Injection {
	return []weaver.Injection{
		{Seq: 1, Member: echoMember, Kind: weaver.GuardArgument, Target: "value", Index: 0},
		{Seq: 2, Member: echoMember, Kind: weaver.GuardReturn},
		{Seq: 3, Member: "P:Samples.Widget.Name", Kind: weaver.GuardSetter, Target: "value"},
	}
}

func TestAssertInjections(t *testing.T) {
	injections := sampleInjections()

	tests := []struct {
		name      string
		assertion Assertion
		wantErr   string
	}{
		{"any kind", Assertion{Type: AssertInjected, Member: echoMember}, ""},
		{"kind and count", Assertion{Type: AssertInjected, Member: echoMember, Kind: "argument", Count: count(1)}, ""},
		{"zero count", Assertion{Type: AssertInjected, Member: echoMember, Kind: "out", Count: count(0)}, ""},
		{"wrong count", Assertion{Type: AssertInjected, Member: echoMember, Count: count(3)}, "Expected: 3 x " + echoMember},
		{"missing kind", Assertion{Type: AssertInjected, Member: echoMember, Kind: "out"}, "Actual: argument(value), return"},
		{"missing member", Assertion{Type: AssertInjected, Member: "M:Other"}, "Actual: none"},
		{"not injected", Assertion{Type: AssertNotInjected, Member: echoMember, Kind: "getter"}, ""},
		{"unexpected", Assertion{Type: AssertNotInjected, Member: "P:Samples.Widget.Name"}, "Expected: no P:Samples.Widget.Name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertInjections(injections, tt.assertion)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAssertDiagnostics(t *testing.T) {
	diags := []weaver.Diagnostic{
		{Seq: 1, Severity: weaver.SeverityWarning, Member: echoMember, Message: "left unguarded"},
		{Seq: 2, Severity: weaver.SeverityInfo, Message: "No reference to 'NullGuard' found to remove."},
	}

	assert.NoError(t, assertDiagnostics(diags, Assertion{Type: AssertNoErrors}))
	assert.NoError(t, assertDiagnostics(diags, Assertion{Type: AssertDiagnostic, Severity: "warning", Contains: "unguarded"}))
	assert.NoError(t, assertDiagnostics(diags, Assertion{Type: AssertDiagnostic, Severity: "info"}))

	err := assertDiagnostics(diags, Assertion{Type: AssertDiagnostic, Severity: "info", Contains: "unguarded"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 diagnostics, none matching")

	diags = append(diags, weaver.Diagnostic{Seq: 3, Severity: weaver.SeverityError, Member: "M:Bad", Message: "broken"})
	err = assertDiagnostics(diags, Assertion{Type: AssertNoErrors})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Actual: M:Bad: broken")
}

func TestAssertionError_Format(t *testing.T) {
	err := &AssertionError{Type: "injected", Expected: "argument guard on M:X", Actual: "none"}
	assert.Equal(t, "Assertion failed: injected\n  Expected: argument guard on M:X\n  Actual: none", err.Error())
}

func TestEvaluateAssertions_FromLedger(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	report := &weaver.Report{
		SessionID:  "s1",
		Assembly:   "Echo",
		Injections: sampleInjections(),
		InputHash:  "in",
	}
	require.NoError(t, st.RecordReport(ctx, "echo.cue", report))

	errs := EvaluateAssertions([]Assertion{
		{Type: AssertInjected, Member: echoMember, Kind: "return", Count: count(1)},
		{Type: AssertNotInjected, Member: echoMember},
		{Type: AssertNoErrors},
		{Type: "bogus"},
	}, &AssertionContext{Store: st, Ctx: ctx, SessionID: "s1"})

	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "assertions[1]: Assertion failed: not_injected")
	assert.Equal(t, `assertions[3]: unknown assertion type "bogus"`, errs[1])
}
