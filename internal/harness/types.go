package harness

import (
	"github.com/roach88/nullguard/internal/ir"
	"github.com/roach88/nullguard/internal/weaver"
)

// Outcome names how a flow step ended.
const (
	OutcomeReturns = "returns"
	OutcomeThrows  = "throws"
	OutcomeFaulted = "faulted"
)

// TraceEvent records one executed flow step. Values are rendered with
// engine.String so traces are stable text.
type TraceEvent struct {
	Seq       int64    `json:"seq"`
	Call      string   `json:"call"`
	Args      []string `json:"args"`
	Outcome   string   `json:"outcome"`
	Value     string   `json:"value,omitempty"`
	Exception string   `json:"exception,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace contains the executed steps in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains expectation and assertion failures.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Report is the weaving report of the scenario's assembly.
	Report *weaver.Report `json:"report"`

	// Assembly is the woven assembly.
	Assembly *ir.Assembly `json:"-"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends an executed step.
func (r *Result) AddTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
