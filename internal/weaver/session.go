package weaver

import (
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/roach88/nullguard/internal/annotations"
	"github.com/roach88/nullguard/internal/config"
	"github.com/roach88/nullguard/internal/ir"
	"github.com/roach88/nullguard/internal/nullability"
)

// IDGenerator produces session ids.
// Implemented by UUIDv7Generator and by testutil.FixedSessionID.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable session ids.
type UUIDv7Generator struct{}

// Generate returns a new hyphenated UUIDv7.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// SeqClock stamps injections and diagnostics with increasing sequence
// numbers. Implemented by Clock and by testutil.DeterministicClock.
type SeqClock interface {
	Next() int64
}

// Clock is a monotonic logical clock.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock whose first Next returns 1.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next sequence number.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last issued sequence number.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

// Session is the state of one weaving pass over one assembly.
type Session struct {
	ID          string
	Assembly    *ir.Assembly
	Universe    *ir.Universe
	Policy      *config.Policy
	Analyzer    nullability.Analyzer
	Annotations *annotations.Cache
	Diagnostics *Diagnostics

	clock      SeqClock
	logger     *slog.Logger
	injections []Injection
	flags      map[*ir.TypeDef]config.ValidationFlags
}

func (w *Weaver) newSession(u *ir.Universe, asm *ir.Assembly) (*Session, error) {
	clock := w.clock
	if clock == nil {
		clock = NewClock()
	}
	s := &Session{
		ID:          w.ids.Generate(),
		Assembly:    asm,
		Universe:    u,
		Policy:      w.policy,
		Annotations: annotations.NewCache(),
		clock:       clock,
		logger:      w.logger,
		flags:       map[*ir.TypeDef]config.ValidationFlags{},
	}
	s.Diagnostics = newDiagnostics(clock, w.logger, w.sink)

	for _, a := range u.Assemblies() {
		if err := s.Annotations.Load(a); err != nil {
			return nil, err
		}
	}
	for _, pre := range w.annotations {
		s.Annotations.Put(pre.asm, pre.idx)
	}

	analyzer, err := nullability.Select(asm, w.policy.Mode, nullability.Options{
		Universe:    u,
		Annotations: s.Annotations,
	})
	if err != nil {
		return nil, err
	}
	s.Analyzer = analyzer
	return s, nil
}

// record appends an injection to the session log.
func (s *Session) record(member string, kind GuardKind, target string, index, redirected int) {
	inj := Injection{
		Seq:        s.clock.Next(),
		Member:     member,
		Kind:       kind,
		Target:     target,
		Index:      index,
		Redirected: redirected,
	}
	s.injections = append(s.injections, inj)
	s.logger.Debug("guard injected",
		"member", member,
		"kind", string(kind),
		"target", target,
		"index", index,
		"redirected", redirected)
}
