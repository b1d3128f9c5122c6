package weaver

import (
	"github.com/roach88/nullguard/internal/config"
	"github.com/roach88/nullguard/internal/ir"
)

// Injection records one inserted guard.
type Injection struct {
	Seq    int64     `json:"seq"`
	Member string    `json:"member"`
	Kind   GuardKind `json:"kind"`
	Target string    `json:"target,omitempty"`

	// Index is the position of the guard's first instruction right after
	// insertion. Later insertions into the same body may shift it.
	Index int `json:"index"`

	// Redirected counts the branch, switch and handler pointers moved onto
	// the guard.
	Redirected int `json:"redirected,omitempty"`
}

// Report is the outcome of one weaving pass.
type Report struct {
	SessionID   string       `json:"session_id"`
	Assembly    string       `json:"assembly"`
	Mode        config.Mode  `json:"mode"`
	Injections  []Injection  `json:"injections"`
	Diagnostics []Diagnostic `json:"diagnostics"`

	// InputHash and ContentHash identify the assembly before and after
	// weaving.
	InputHash   string `json:"input_hash"`
	ContentHash string `json:"content_hash"`
}

// HasErrors reports whether a declaration error was diagnosed. The woven
// assembly should not be used when it is true.
func (r *Report) HasErrors() bool {
	for _, d := range r.Diagnostics {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Count returns the number of injections of kind.
func (r *Report) Count(kind GuardKind) int {
	n := 0
	for _, inj := range r.Injections {
		if inj.Kind == kind {
			n++
		}
	}
	return n
}

// For returns the injections recorded for a member key.
func (r *Report) For(member string) []Injection {
	var out []Injection
	for _, inj := range r.Injections {
		if inj.Member == member {
			out = append(out, inj)
		}
	}
	return out
}

func (s *Session) report(inputHash string) (*Report, error) {
	hash, err := ir.ContentHash(s.Assembly)
	if err != nil {
		return nil, err
	}
	injections := s.injections
	if injections == nil {
		injections = []Injection{}
	}
	diags := s.Diagnostics.All()
	if diags == nil {
		diags = []Diagnostic{}
	}
	return &Report{
		SessionID:   s.ID,
		Assembly:    s.Assembly.Name,
		Mode:        s.Analyzer.Mode(),
		Injections:  injections,
		Diagnostics: diags,
		InputHash:   inputHash,
		ContentHash: hash,
	}, nil
}
