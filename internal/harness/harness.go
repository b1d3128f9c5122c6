package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/roach88/nullguard/internal/compiler"
	"github.com/roach88/nullguard/internal/engine"
	"github.com/roach88/nullguard/internal/ir"
	"github.com/roach88/nullguard/internal/store"
	"github.com/roach88/nullguard/internal/testutil"
	"github.com/roach88/nullguard/internal/weaver"
)

// Harness executes the flow of one scenario against a woven assembly.
type Harness struct {
	universe  *ir.Universe
	vm        *engine.Machine
	clock     *testutil.DeterministicClock
	instances map[string]*engine.Object
	logger    *slog.Logger
}

// Option configures a scenario run.
type Option func(*runConfig)

type runConfig struct {
	logger   *slog.Logger
	maxSteps int
}

// WithLogger sets the logger for the weaver and the interpreter.
// The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(c *runConfig) {
		c.logger = l
	}
}

// WithMaxSteps bounds the instructions executed per call.
func WithMaxSteps(n int) Option {
	return func(c *runConfig) {
		c.maxSteps = n
	}
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory ledger for isolation, and the
// weaver uses the scenario name as its session id with a deterministic
// clock, so reports and traces are reproducible.
//
// A returned error means the scenario could not be executed at all (bad
// assembly, unknown method, interpreter fault). Unmet expectations are
// reported in Result.Errors instead.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	cfg := runConfig{
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		maxSteps: engine.DefaultMaxSteps,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	asm, err := loadAssembly(scenario.Assembly)
	if err != nil {
		return nil, err
	}
	policy, err := scenario.ResolvedPolicy()
	if err != nil {
		return nil, err
	}

	u := ir.NewUniverse(asm)
	w := weaver.New(policy,
		weaver.WithIDGenerator(testutil.NewFixedSessionID(scenario.Name)),
		weaver.WithClock(testutil.NewDeterministicClock()),
		weaver.WithLogger(cfg.logger),
	)
	report, err := w.Weave(ctx, u, asm)
	if err != nil {
		return nil, fmt.Errorf("failed to weave %s: %w", asm.Name, err)
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()
	if err := st.RecordReport(ctx, scenario.Assembly, report); err != nil {
		return nil, err
	}

	h := &Harness{
		universe:  u,
		vm:        engine.New(u, engine.WithMaxSteps(cfg.maxSteps), engine.WithLogger(cfg.logger)),
		clock:     testutil.NewDeterministicClock(),
		instances: map[string]*engine.Object{},
		logger:    cfg.logger,
	}

	result := NewResult()
	result.Report = report
	result.Assembly = asm

	if err := h.executeFlow(ctx, scenario.Flow, result); err != nil {
		return nil, fmt.Errorf("failed to execute flow: %w", err)
	}

	actx := &AssertionContext{
		Store:     st,
		Ctx:       ctx,
		SessionID: report.SessionID,
	}
	for _, msg := range EvaluateAssertions(scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// loadAssembly compiles and validates a CUE assembly description.
func loadAssembly(path string) (*ir.Assembly, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read assembly: %w", err)
	}
	asm, err := compiler.CompileSource(path, src)
	if err != nil {
		return nil, fmt.Errorf("failed to compile assembly: %w", err)
	}
	if errs := compiler.Validate(asm); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return nil, fmt.Errorf("invalid assembly:\n  %s", strings.Join(msgs, "\n  "))
	}
	return asm, nil
}

// executeFlow runs each step and checks its expect clause.
func (h *Harness) executeFlow(ctx context.Context, flow []FlowStep, result *Result) error {
	for i, step := range flow {
		ev, refs, err := h.executeStep(ctx, step)
		if err != nil {
			return fmt.Errorf("flow[%d] %s: %w", i, step.Call, err)
		}
		result.AddTrace(ev.TraceEvent)
		h.logger.Debug("flow step",
			"call", step.Call,
			"outcome", ev.Outcome,
			"seq", ev.Seq)

		if step.Expect == nil {
			continue
		}
		for _, msg := range checkExpect(step.Expect, ev, refs) {
			result.AddError(fmt.Sprintf("flow[%d] %s: %s", i, step.Call, msg))
		}
	}
	return nil
}

// stepOutcome is a trace event plus the raw values behind it.
type stepOutcome struct {
	TraceEvent
	value     engine.Value
	exception *engine.ManagedException
}

func (h *Harness) executeStep(ctx context.Context, step FlowStep) (stepOutcome, map[string]*engine.Ref, error) {
	typeName, methodName, _ := strings.Cut(step.Call, "::")
	t := h.universe.FindType(typeName)
	if t == nil {
		return stepOutcome{}, nil, fmt.Errorf("type %s not found", typeName)
	}
	m := t.FindMethod(methodName)
	if m == nil {
		return stepOutcome{}, nil, fmt.Errorf("method %s not found", step.Call)
	}
	if len(step.Args) != len(m.Params) {
		return stepOutcome{}, nil, fmt.Errorf("expected %d arguments, got %d", len(m.Params), len(step.Args))
	}

	var args []engine.Value
	if m.HasThis() {
		this, err := h.instance(ctx, typeName)
		if err != nil {
			return stepOutcome{}, nil, err
		}
		args = append(args, this)
	}
	refs := map[string]*engine.Ref{}
	rendered := make([]string, len(step.Args))
	for i, raw := range step.Args {
		v, err := convertValue(raw)
		if err != nil {
			return stepOutcome{}, nil, fmt.Errorf("args[%d]: %w", i, err)
		}
		rendered[i] = engine.String(v)
		if p := m.Params[i]; p.Type.IsByRef() {
			ref := engine.NewRef(v)
			refs[p.Name] = ref
			v = ref
		}
		args = append(args, v)
	}

	out := stepOutcome{TraceEvent: TraceEvent{
		Seq:  h.clock.Next(),
		Call: step.Call,
		Args: rendered,
	}}

	v, err := h.vm.Invoke(ctx, m, args...)
	switch {
	case err != nil:
		me, ok := engine.AsManagedException(err)
		if !ok {
			return stepOutcome{}, nil, err
		}
		out.Outcome = OutcomeThrows
		out.exception = me
	default:
		if task, ok := v.(*engine.Task); ok {
			if task.IsFaulted() {
				out.Outcome = OutcomeFaulted
				out.exception = task.Exception
				break
			}
			if v, err = task.Await(); err != nil {
				return stepOutcome{}, nil, err
			}
		}
		out.Outcome = OutcomeReturns
		out.value = v
		out.Value = engine.String(v)
	}
	if out.exception != nil {
		out.Exception = out.exception.Error()
	}
	return out, refs, nil
}

// instance returns the shared instance of typeName, creating it on first
// use.
func (h *Harness) instance(ctx context.Context, typeName string) (*engine.Object, error) {
	if obj, ok := h.instances[typeName]; ok {
		return obj, nil
	}
	obj, err := h.vm.Instantiate(ctx, typeName)
	if err != nil {
		return nil, fmt.Errorf("instantiate %s: %w", typeName, err)
	}
	h.instances[typeName] = obj
	return obj, nil
}

// convertValue maps a YAML scalar onto an interpreter value. Booleans
// become 0 or 1 as the evaluation stack holds them.
func convertValue(raw any) (engine.Value, error) {
	switch v := raw.(type) {
	case nil, string:
		return v, nil
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case bool:
		if v {
			return int64(1), nil
		}
		return int64(0), nil
	default:
		return nil, fmt.Errorf("unsupported value %v (%T)", raw, raw)
	}
}

// checkExpect compares a step outcome with its expect clause.
func checkExpect(e *ExpectClause, got stepOutcome, refs map[string]*engine.Ref) []string {
	var errs []string
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if got.Outcome != e.Outcome {
		detail := got.Value
		if got.exception != nil {
			detail = got.Exception
		}
		fail("expected outcome %s, got %s (%s)", e.Outcome, got.Outcome, detail)
		return errs
	}

	switch e.Outcome {
	case OutcomeReturns:
		if e.Type != "" {
			if typ := valueType(got.value); typ != e.Type {
				fail("expected a %s, got %s", e.Type, engine.String(got.value))
			}
		} else if want, err := convertValue(e.Value); err != nil {
			fail("expect.value: %v", err)
		} else if want != got.value {
			fail("expected value %s, got %s", engine.String(want), got.Value)
		}
		for name, raw := range e.Out {
			ref, ok := refs[name]
			if !ok {
				fail("%s is not a by-ref parameter", name)
				continue
			}
			want, err := convertValue(raw)
			if err != nil {
				fail("expect.out.%s: %v", name, err)
				continue
			}
			if have := ref.Load(); have != want {
				fail("expected %s = %s, got %s", name, engine.String(want), engine.String(have))
			}
		}
	default:
		me := got.exception
		if e.Exception != "" && me.Type != e.Exception {
			fail("expected %s, got %s", e.Exception, me.Type)
		}
		if e.Message != "" && !strings.Contains(me.Message, e.Message) {
			fail("expected message containing %q, got %q", e.Message, me.Message)
		}
		if e.Param != "" && me.ParamName != e.Param {
			fail("expected parameter %q, got %q", e.Param, me.ParamName)
		}
	}
	return errs
}

func valueType(v engine.Value) string {
	switch x := v.(type) {
	case *engine.Object:
		return x.Type
	case *engine.Boxed:
		return x.Type
	default:
		return ""
	}
}
