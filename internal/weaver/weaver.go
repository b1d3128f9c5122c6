package weaver

import (
	"context"
	"io"
	"log/slog"
	"slices"

	"github.com/roach88/nullguard/internal/annotations"
	"github.com/roach88/nullguard/internal/config"
	"github.com/roach88/nullguard/internal/ir"
)

// Weaver injects null guards according to a policy.
type Weaver struct {
	policy      *config.Policy
	logger      *slog.Logger
	ids         IDGenerator
	clock       SeqClock
	sink        func(Diagnostic)
	annotations []preloaded
}

type preloaded struct {
	asm *ir.Assembly
	idx *annotations.Index
}

// Option configures a Weaver.
type Option func(*Weaver)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(w *Weaver) {
		w.logger = l
	}
}

// WithIDGenerator sets the session id source. The default is UUIDv7.
func WithIDGenerator(g IDGenerator) Option {
	return func(w *Weaver) {
		w.ids = g
	}
}

// WithClock shares one sequence clock across sessions. By default every
// session starts its own clock at 1.
func WithClock(c SeqClock) Option {
	return func(w *Weaver) {
		w.clock = c
	}
}

// WithDiagnosticSink receives every diagnostic as it is reported.
func WithDiagnosticSink(fn func(Diagnostic)) Option {
	return func(w *Weaver) {
		w.sink = fn
	}
}

// WithAnnotations installs an external annotation index for asm instead of
// reading its sidecar file.
func WithAnnotations(asm *ir.Assembly, idx *annotations.Index) Option {
	return func(w *Weaver) {
		w.annotations = append(w.annotations, preloaded{asm: asm, idx: idx})
	}
}

// New creates a Weaver. A nil policy means config.DefaultPolicy.
func New(policy *config.Policy, opts ...Option) *Weaver {
	if policy == nil {
		policy = config.DefaultPolicy()
	}
	w := &Weaver{
		policy: policy,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		ids:    UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Weave rewrites asm in place and reports what was injected. u resolves
// base types and interfaces in other assemblies; asm is added to it when
// missing, and a nil u means asm alone.
//
// Declaration errors are reported in the Report and do not fail the call.
// A failure while rewriting a member returns a *WeaveError; asm must then
// be discarded since earlier members were already modified.
func (w *Weaver) Weave(ctx context.Context, u *ir.Universe, asm *ir.Assembly) (*Report, error) {
	if u == nil {
		u = ir.NewUniverse()
	}
	if !slices.Contains(u.Assemblies(), asm) {
		u.Add(asm)
	}
	inputHash, err := ir.ContentHash(asm)
	if err != nil {
		return nil, err
	}

	s, err := w.newSession(u, asm)
	if err != nil {
		return nil, err
	}
	w.logger.Info("weaving assembly",
		"assembly", asm.Name,
		"mode", string(s.Analyzer.Mode()),
		"session", s.ID)

	types := asm.AllTypes()
	for _, d := range s.Analyzer.CheckForBadDeclarations(types) {
		s.Diagnostics.Error(d.Member, d.Message)
	}

	for _, t := range types {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if skip, reason := s.skipType(t); skip {
			w.logger.Debug("skipping type", "type", t.FullName(), "reason", reason)
			continue
		}
		if err := s.processType(t); err != nil {
			return nil, err
		}
	}

	s.cleanup()
	report, err := s.report(inputHash)
	if err != nil {
		return nil, err
	}
	w.logger.Info("weaving complete",
		"assembly", asm.Name,
		"injections", len(report.Injections),
		"diagnostics", len(report.Diagnostics))
	return report, nil
}

// processType guards properties first, then every method with a body.
func (s *Session) processType(t *ir.TypeDef) error {
	flags := s.flagsFor(t)
	s.logger.Debug("processing type", "type", t.FullName(), "flags", flags.String())
	for _, p := range t.Properties {
		if err := guardMember(p.FullName(), func() error { return s.processProperty(p, flags) }); err != nil {
			return err
		}
	}
	for _, m := range t.Methods {
		if !m.HasBody() {
			continue
		}
		if err := guardMember(m.FullName(), func() error { return s.processMethod(m, flags) }); err != nil {
			return err
		}
	}
	return nil
}
