package weaver

import (
	"context"
	"log/slog"
)

// Severity is the channel a diagnostic is reported on.
type Severity string

const (
	// SeverityInfo is for housekeeping notices.
	SeverityInfo Severity = "info"
	// SeverityWarning is for members left unguarded on purpose.
	SeverityWarning Severity = "warning"
	// SeverityError is for malformed declarations. The pass continues but
	// the result should not be used.
	SeverityError Severity = "error"
)

// Diagnostic is one message produced while weaving.
type Diagnostic struct {
	Seq      int64    `json:"seq"`
	Severity Severity `json:"severity"`
	Member   string   `json:"member,omitempty"`
	Message  string   `json:"message"`
}

// Diagnostics collects the messages of one session and forwards each to the
// logger and an optional sink.
type Diagnostics struct {
	items  []Diagnostic
	clock  SeqClock
	logger *slog.Logger
	sink   func(Diagnostic)
}

func newDiagnostics(clock SeqClock, logger *slog.Logger, sink func(Diagnostic)) *Diagnostics {
	return &Diagnostics{clock: clock, logger: logger, sink: sink}
}

// Info reports a housekeeping notice.
func (d *Diagnostics) Info(member, message string) { d.add(SeverityInfo, member, message) }

// Warning reports a best-effort skip.
func (d *Diagnostics) Warning(member, message string) { d.add(SeverityWarning, member, message) }

// Error reports a declaration error.
func (d *Diagnostics) Error(member, message string) { d.add(SeverityError, member, message) }

// All returns every diagnostic in report order.
func (d *Diagnostics) All() []Diagnostic {
	return d.items
}

// HasErrors reports whether any Error was recorded.
func (d *Diagnostics) HasErrors() bool {
	for _, it := range d.items {
		if it.Severity == SeverityError {
			return true
		}
	}
	return false
}

var severityLevels = map[Severity]slog.Level{
	SeverityInfo:    slog.LevelInfo,
	SeverityWarning: slog.LevelWarn,
	SeverityError:   slog.LevelError,
}

func (d *Diagnostics) add(sev Severity, member, message string) {
	diag := Diagnostic{Seq: d.clock.Next(), Severity: sev, Member: member, Message: message}
	d.items = append(d.items, diag)
	d.logger.Log(context.Background(), severityLevels[sev], message, "member", member)
	if d.sink != nil {
		d.sink(diag)
	}
}
