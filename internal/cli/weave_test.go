package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/nullguard/internal/ir"
	"github.com/roach88/nullguard/internal/store"
	"github.com/roach88/nullguard/internal/weaver"
)

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func decodeReport(t *testing.T, out string) (CLIResponse, weaver.Report) {
	t.Helper()
	var raw struct {
		CLIResponse
		Data weaver.Report `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &raw), out)
	return raw.CLIResponse, raw.Data
}

func TestWeave_Text(t *testing.T) {
	out, err := execute(t, "weave", "testdata/widgets.cue")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Wove Widgets (implicit):")
	assert.Contains(t, out, "argument=")
	assert.Contains(t, out, "return=")
	assert.Contains(t, out, "  session: ")
}

func TestWeave_JSON(t *testing.T) {
	out, err := execute(t, "weave", "--format", "json", "testdata/widgets.cue")
	require.NoError(t, err)

	resp, report := decodeReport(t, out)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "Widgets", report.Assembly)
	assert.NotEmpty(t, report.SessionID)
	assert.Equal(t, report.SessionID, resp.SessionID)
	assert.NotEqual(t, report.InputHash, report.ContentHash)

	describe := report.For("M:Samples.Widget.Describe(System.String,System.String)")
	var targets []string
	for _, inj := range describe {
		if inj.Kind == weaver.GuardArgument {
			targets = append(targets, inj.Target)
		}
	}
	assert.Equal(t, []string{"name"}, targets)
}

func TestWeave_PolicyFileAndFlags(t *testing.T) {
	out, err := execute(t, "weave", "--format", "json", "--policy", "testdata/policy.yaml", "testdata/widgets.cue")
	require.NoError(t, err)
	_, report := decodeReport(t, out)
	assert.Equal(t, "implicit", string(report.Mode))
	assert.Positive(t, report.Count(weaver.GuardArgument))
	assert.Zero(t, report.Count(weaver.GuardReturn))

	out, err = execute(t, "weave", "--format", "json", "--policy", "testdata/policy.yaml",
		"--validate", "ReturnValues", "--mode", "explicit", "testdata/widgets.cue")
	require.NoError(t, err)
	_, report = decodeReport(t, out)
	assert.Equal(t, "explicit", string(report.Mode))
	assert.Zero(t, report.Count(weaver.GuardArgument))
}

func TestWeave_InvalidPolicy(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"mode", []string{"--mode", "bogus"}},
		{"flags", []string{"--validate", "Everything"}},
		{"exclude", []string{"--exclude", "("}},
		{"file", []string{"--policy", "testdata/missing.yaml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"weave"}, tt.args...)
			out, err := execute(t, append(args, "testdata/widgets.cue")...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, err.Error(), ErrCodePolicy)
			assert.Contains(t, out, "Error [E010]")
		})
	}
}

func TestWeave_DeclarationErrors(t *testing.T) {
	out, err := execute(t, "weave", "testdata/conflict.cue")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ Wove Conflict (explicit)")
	assert.Contains(t, out, "on the parameter 'value'")

	out, err = execute(t, "weave", "--format", "json", "testdata/conflict.cue")
	require.Error(t, err)
	resp, report := decodeReport(t, out)
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, ErrCodeDeclaration, resp.Error.Code)
	assert.True(t, report.HasErrors())
}

func TestWeave_InvalidAssembly(t *testing.T) {
	out, err := execute(t, "weave", "testdata/invalid.cue")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E009]")
	assert.Contains(t, out, "argument slot 3 out of range")

	_, err = execute(t, "weave", "testdata/nope.cue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrCodeNotFound)
}

func TestWeave_Output(t *testing.T) {
	listing := filepath.Join(t.TempDir(), "widgets.il")
	_, err := execute(t, "weave", "--out", listing, "testdata/widgets.cue")
	require.NoError(t, err)

	data, err := os.ReadFile(listing)
	require.NoError(t, err)
	assert.Contains(t, string(data), ".method public System.String Samples.Widget::Echo(System.String)\n")
	assert.Contains(t, string(data), "System.ArgumentNullException")
}

func TestWeave_Ledger(t *testing.T) {
	db := filepath.Join(t.TempDir(), "ledger.db")

	out, err := execute(t, "weave", "--format", "json", "--db", db, "testdata/widgets.cue")
	require.NoError(t, err)
	_, report := decodeReport(t, out)

	st, err := store.Open(db)
	require.NoError(t, err)
	defer st.Close()

	sess, err := st.ReadSession(context.Background(), report.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "testdata/widgets.cue", sess.Path)
	assert.Equal(t, len(report.Injections), sess.Injections)

	// Weaving the same input again is a new session.
	_, err = execute(t, "weave", "--db", db, "testdata/widgets.cue")
	require.NoError(t, err)
	sessions, err := st.Sessions(context.Background(), "Widgets", 0)
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
}

func TestWeave_RefusesWovenOutput(t *testing.T) {
	db := filepath.Join(t.TempDir(), "ledger.db")
	asm, err := LoadAssembly("testdata/widgets.cue")
	require.NoError(t, err)
	hash, err := ir.ContentHash(asm)
	require.NoError(t, err)

	// Record an earlier session whose output is exactly this input.
	st, err := store.Open(db)
	require.NoError(t, err)
	require.NoError(t, st.RecordReport(context.Background(), "earlier.cue", &weaver.Report{
		SessionID:   "earlier",
		Assembly:    "Widgets",
		Mode:        "implicit",
		Injections:  []weaver.Injection{},
		Diagnostics: []weaver.Diagnostic{},
		InputHash:   "before",
		ContentHash: hash,
	}))
	require.NoError(t, st.Close())

	out, err := execute(t, "weave", "--db", db, "testdata/widgets.cue")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E012]: Widgets is the output of weave session earlier")
}
