package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheck_Valid(t *testing.T) {
	out, err := execute(t, "check", "testdata/widgets.cue")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Widgets is valid: 1 type(s), 4 method(s), mode implicit")
}

func TestCheck_ValidJSON(t *testing.T) {
	out, err := execute(t, "check", "--format", "json", "testdata/conflict.cue")
	require.NoError(t, err)

	var resp struct {
		Status string      `json:"status"`
		Data   CheckResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, "explicit", string(resp.Data.Mode))
}

func TestCheck_Invalid(t *testing.T) {
	out, err := execute(t, "check", "testdata/invalid.cue")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ Broken: validation failed")
	assert.Contains(t, out, "[E104] System.String T::M() IL_0000: argument slot 3 out of range (method has 1)")

	out, err = execute(t, "check", "--format", "json", "testdata/invalid.cue")
	require.Error(t, err)
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "E104", resp.Error.Code)
}

func TestCheck_NotFound(t *testing.T) {
	out, err := execute(t, "check", "/nonexistent/assembly.cue")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeNotFound)
	assert.Contains(t, out, "not found")
}
