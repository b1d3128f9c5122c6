package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/nullguard/internal/config"
	"github.com/roach88/nullguard/internal/weaver"
)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestReport creates a report with one injection and one diagnostic.
func createTestReport(id, assembly, inputHash, contentHash string) *weaver.Report {
	return &weaver.Report{
		SessionID: id,
		Assembly:  assembly,
		Mode:      config.ModeImplicit,
		Injections: []weaver.Injection{
			{Seq: 1, Member: "M:Samples.Widget.Echo(System.String)", Kind: weaver.GuardArgument, Target: "value", Index: 0},
		},
		Diagnostics: []weaver.Diagnostic{
			{Seq: 2, Severity: weaver.SeverityInfo, Message: "no reference found to remove"},
		},
		InputHash:   inputHash,
		ContentHash: contentHash,
	}
}
