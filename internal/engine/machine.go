package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/roach88/nullguard/internal/ir"
)

// Machine interprets method bodies from a universe.
//
// A Machine is not safe for concurrent use; Assertions is appended to by
// whichever Invoke is running.
type Machine struct {
	universe *ir.Universe
	maxSteps int
	logger   *slog.Logger

	// Assertions collects the messages of failed Debug.Assert calls.
	Assertions []string
}

// Option configures a Machine.
type Option func(*Machine)

// WithMaxSteps sets the instruction quota per Invoke.
func WithMaxSteps(n int) Option {
	return func(vm *Machine) {
		vm.maxSteps = n
	}
}

// WithLogger sets the logger for call tracing.
func WithLogger(logger *slog.Logger) Option {
	return func(vm *Machine) {
		vm.logger = logger
	}
}

// New creates a Machine over u.
func New(u *ir.Universe, opts ...Option) *Machine {
	vm := &Machine{
		universe: u,
		maxSteps: DefaultMaxSteps,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(vm)
	}
	return vm
}

// Invoke runs m. For instance methods args[0] is the receiver. A managed
// exception escaping m is returned as a *ManagedException error.
func (vm *Machine) Invoke(ctx context.Context, m *ir.MethodDef, args ...Value) (Value, error) {
	want := len(m.Params)
	if m.HasThis() {
		want++
	}
	if len(args) != want {
		return nil, newRuntimeError(ErrCodeBadProgram, m.FullName(), -1, "expected %d arguments, got %d", want, len(args))
	}
	if m.HasThis() && args[0] == nil {
		return nil, nullReference()
	}
	return vm.exec(ctx, m, args, NewQuotaEnforcer(vm.maxSteps))
}

// Call finds the first method named method on typeName and invokes it.
func (vm *Machine) Call(ctx context.Context, typeName, method string, args ...Value) (Value, error) {
	t := vm.universe.FindType(typeName)
	if t == nil {
		return nil, newRuntimeError(ErrCodeUnresolved, "", -1, "type %s not found", typeName)
	}
	m := t.FindMethod(method)
	if m == nil {
		return nil, newRuntimeError(ErrCodeUnresolved, "", -1, "method %s::%s not found", typeName, method)
	}
	return vm.Invoke(ctx, m, args...)
}

// Instantiate allocates an instance of typeName and runs its parameterless
// constructor when one has a body.
func (vm *Machine) Instantiate(ctx context.Context, typeName string) (*Object, error) {
	ref := &ir.MethodRef{DeclaringType: typeName, Name: ".ctor", ReturnType: ir.Void(), HasThis: true}
	v, err := vm.construct(ctx, ref, nil, NewQuotaEnforcer(vm.maxSteps))
	if err != nil {
		return nil, err
	}
	obj, ok := v.(*Object)
	if !ok {
		return nil, newRuntimeError(ErrCodeUnresolved, "", -1, "type %s not found", typeName)
	}
	return obj, nil
}

// frame is one activation of an interpreted method.
type frame struct {
	method string
	args   []Value
	locals map[int]Value
	stack  []Value
	pc     int
}

func (f *frame) push(v Value) {
	f.stack = append(f.stack, v)
}

func (f *frame) pop() (Value, error) {
	if len(f.stack) == 0 {
		return nil, newRuntimeError(ErrCodeStackUnderflow, f.method, f.pc, "evaluation stack is empty")
	}
	v := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return v, nil
}

// popN pops n values and returns them in push order.
func (f *frame) popN(n int) ([]Value, error) {
	if len(f.stack) < n {
		return nil, newRuntimeError(ErrCodeStackUnderflow, f.method, f.pc, "need %d values, have %d", n, len(f.stack))
	}
	out := make([]Value, n)
	copy(out, f.stack[len(f.stack)-n:])
	f.stack = f.stack[:len(f.stack)-n]
	return out, nil
}

func (vm *Machine) exec(ctx context.Context, m *ir.MethodDef, args []Value, quota *QuotaEnforcer) (Value, error) {
	name := m.FullName()
	if !m.HasBody() {
		return nil, newRuntimeError(ErrCodeUnresolved, name, -1, "method has no body")
	}
	vm.logger.Debug("invoke", "method", name, "args", len(args))

	body := m.Body
	index := make(map[*ir.Instruction]int, len(body.Instructions))
	for i, in := range body.Instructions {
		index[in] = i
	}
	f := &frame{
		method: name,
		args:   append([]Value(nil), args...),
		locals: make(map[int]Value),
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if f.pc < 0 || f.pc >= len(body.Instructions) {
			return nil, newRuntimeError(ErrCodeBadProgram, name, f.pc, "execution ran past the end of the body")
		}
		if err := quota.Check(name); err != nil {
			return nil, err
		}

		in := body.Instructions[f.pc]
		result, done, err := vm.step(ctx, f, in, index, quota)
		if err != nil {
			me, ok := AsManagedException(err)
			if !ok {
				return nil, err
			}
			h := findHandler(body, index, f.pc, me)
			if h == nil {
				return nil, err
			}
			f.stack = append(f.stack[:0], me)
			f.pc = index[h.HandlerStart]
			continue
		}
		if done {
			return result, nil
		}
	}
}

// findHandler returns the first handler whose try region covers pc and
// whose catch type receives e. Handlers are listed innermost first.
func findHandler(b *ir.Body, index map[*ir.Instruction]int, pc int, e *ManagedException) *ir.ExceptionHandler {
	bound := func(in *ir.Instruction) int {
		if in == nil {
			return len(b.Instructions)
		}
		if i, ok := index[in]; ok {
			return i
		}
		return -1
	}
	for _, h := range b.ExceptionHandlers {
		start, end := bound(h.TryStart), bound(h.TryEnd)
		if start < 0 || h.HandlerStart == nil {
			continue
		}
		if pc >= start && pc < end && e.catches(h.CatchType) {
			return h
		}
	}
	return nil
}

func (f *frame) jump(index map[*ir.Instruction]int, target *ir.Instruction) error {
	i, ok := index[target]
	if !ok {
		return newRuntimeError(ErrCodeBadProgram, f.method, f.pc, "branch target is not in the body")
	}
	f.pc = i
	return nil
}

// step executes one instruction. done is set when the method returns.
func (vm *Machine) step(ctx context.Context, f *frame, in *ir.Instruction, index map[*ir.Instruction]int, quota *QuotaEnforcer) (result Value, done bool, err error) {
	next := f.pc + 1
	switch in.OpCode {
	case ir.OpNop:

	case ir.OpLdarg:
		n := in.Int()
		if n < 0 || n >= len(f.args) {
			return nil, false, newRuntimeError(ErrCodeBadProgram, f.method, f.pc, "argument %d out of range", n)
		}
		f.push(f.args[n])

	case ir.OpStarg:
		n := in.Int()
		if n < 0 || n >= len(f.args) {
			return nil, false, newRuntimeError(ErrCodeBadProgram, f.method, f.pc, "argument %d out of range", n)
		}
		v, err := f.pop()
		if err != nil {
			return nil, false, err
		}
		f.args[n] = v

	case ir.OpLdloc:
		f.push(f.locals[in.Int()])

	case ir.OpStloc:
		v, err := f.pop()
		if err != nil {
			return nil, false, err
		}
		f.locals[in.Int()] = v

	case ir.OpLdloca:
		n := in.Int()
		f.push(&Ref{
			load:  func() Value { return f.locals[n] },
			store: func(v Value) { f.locals[n] = v },
		})

	case ir.OpLdnull:
		f.push(nil)

	case ir.OpLdcI4:
		f.push(int64(in.Int()))

	case ir.OpLdstr:
		f.push(in.Str())

	case ir.OpDup:
		v, err := f.pop()
		if err != nil {
			return nil, false, err
		}
		f.push(v)
		f.push(v)

	case ir.OpPop:
		if _, err := f.pop(); err != nil {
			return nil, false, err
		}

	case ir.OpBr:
		return nil, false, f.jump(index, in.Target())

	case ir.OpLeave:
		f.stack = f.stack[:0]
		return nil, false, f.jump(index, in.Target())

	case ir.OpBrtrue, ir.OpBrfalse:
		v, err := f.pop()
		if err != nil {
			return nil, false, err
		}
		if truthy(v) == (in.OpCode == ir.OpBrtrue) {
			return nil, false, f.jump(index, in.Target())
		}

	case ir.OpSwitch:
		v, err := f.pop()
		if err != nil {
			return nil, false, err
		}
		n, ok := v.(int64)
		if !ok {
			return nil, false, newRuntimeError(ErrCodeBadProgram, f.method, f.pc, "switch on non-integer %T", v)
		}
		if targets := in.Targets(); n >= 0 && n < int64(len(targets)) {
			return nil, false, f.jump(index, targets[n])
		}

	case ir.OpRet:
		if len(f.stack) == 0 {
			return nil, true, nil
		}
		v, err := f.pop()
		return v, true, err

	case ir.OpThrow:
		v, err := f.pop()
		if err != nil {
			return nil, false, err
		}
		switch x := v.(type) {
		case *ManagedException:
			return nil, false, x
		case nil:
			return nil, false, nullReference()
		default:
			return nil, false, newRuntimeError(ErrCodeBadProgram, f.method, f.pc, "throw of non-exception %T", v)
		}

	case ir.OpNewobj:
		ref := in.Method()
		if ref == nil {
			return nil, false, newRuntimeError(ErrCodeBadProgram, f.method, f.pc, "newobj without a method operand")
		}
		args, err := f.popN(len(ref.Params))
		if err != nil {
			return nil, false, err
		}
		obj, err := vm.construct(ctx, ref, args, quota)
		if err != nil {
			return nil, false, err
		}
		f.push(obj)

	case ir.OpCall, ir.OpCallvirt:
		ref := in.Method()
		if ref == nil {
			return nil, false, newRuntimeError(ErrCodeBadProgram, f.method, f.pc, "%s without a method operand", in.OpCode)
		}
		n := len(ref.Params)
		if ref.HasThis {
			n++
		}
		args, err := f.popN(n)
		if err != nil {
			return nil, false, err
		}
		if in.OpCode == ir.OpCallvirt && ref.HasThis && args[0] == nil {
			return nil, false, nullReference()
		}
		v, err := vm.call(ctx, ref, args, quota)
		if err != nil {
			return nil, false, err
		}
		if !ref.ReturnType.IsVoid() {
			f.push(v)
		}

	case ir.OpLdfld, ir.OpLdflda:
		fld := in.Field()
		v, err := f.pop()
		if err != nil {
			return nil, false, err
		}
		obj, err := f.object(v)
		if err != nil {
			return nil, false, err
		}
		if in.OpCode == ir.OpLdflda {
			f.push(fieldRef(obj, fld.Name))
		} else {
			f.push(obj.Fields[fld.Name])
		}

	case ir.OpStfld:
		fld := in.Field()
		vals, err := f.popN(2)
		if err != nil {
			return nil, false, err
		}
		obj, err := f.object(vals[0])
		if err != nil {
			return nil, false, err
		}
		obj.Fields[fld.Name] = vals[1]

	case ir.OpBox:
		v, err := f.pop()
		if err != nil {
			return nil, false, err
		}
		if n, ok := v.(int64); ok {
			typ, _ := in.Operand.(*ir.TypeRef)
			f.push(&Boxed{Type: typ.String(), Value: n})
		} else {
			f.push(v)
		}

	case ir.OpLdindRef:
		v, err := f.pop()
		if err != nil {
			return nil, false, err
		}
		r, ok := v.(*Ref)
		if !ok {
			return nil, false, newRuntimeError(ErrCodeBadProgram, f.method, f.pc, "ldind.ref on %T", v)
		}
		f.push(r.Load())

	case ir.OpLdobj:
		v, err := f.pop()
		if err != nil {
			return nil, false, err
		}
		r, ok := v.(*Ref)
		if !ok {
			return nil, false, newRuntimeError(ErrCodeBadProgram, f.method, f.pc, "ldobj on %T", v)
		}
		f.push(r.Load())

	case ir.OpStindRef:
		vals, err := f.popN(2)
		if err != nil {
			return nil, false, err
		}
		r, ok := vals[0].(*Ref)
		if !ok {
			return nil, false, newRuntimeError(ErrCodeBadProgram, f.method, f.pc, "stind.ref on %T", vals[0])
		}
		r.Store(vals[1])

	case ir.OpCeq:
		vals, err := f.popN(2)
		if err != nil {
			return nil, false, err
		}
		f.push(boolValue(equal(vals[0], vals[1])))

	case ir.OpCgtUn:
		vals, err := f.popN(2)
		if err != nil {
			return nil, false, err
		}
		a, aok := vals[0].(int64)
		b, bok := vals[1].(int64)
		if aok && bok {
			f.push(boolValue(uint64(a) > uint64(b)))
		} else {
			f.push(boolValue(vals[0] != nil && vals[1] == nil))
		}

	default:
		return nil, false, newRuntimeError(ErrCodeBadProgram, f.method, f.pc, "unsupported opcode %s", in.OpCode)
	}
	f.pc = next
	return nil, false, nil
}

// object dereferences a field receiver: an object or a pointer to one.
func (f *frame) object(v Value) (*Object, error) {
	if r, ok := v.(*Ref); ok {
		v = r.Load()
	}
	switch x := v.(type) {
	case *Object:
		return x, nil
	case nil:
		return nil, nullReference()
	default:
		return nil, newRuntimeError(ErrCodeBadProgram, f.method, f.pc, "field access on %T", v)
	}
}

func (vm *Machine) call(ctx context.Context, ref *ir.MethodRef, args []Value, quota *QuotaEnforcer) (Value, error) {
	if v, ok, err := vm.intrinsic(ctx, ref, args, quota); ok {
		return v, err
	}
	m := vm.universe.ResolveMethod(ref)
	if m == nil || !m.HasBody() {
		return nil, newRuntimeError(ErrCodeUnresolved, "", -1, "cannot call %s", ref.FullName())
	}
	if m.HasThis() {
		if r, ok := args[0].(*Ref); ok {
			args[0] = r.Load()
		}
		if args[0] == nil {
			return nil, nullReference()
		}
	}
	return vm.exec(ctx, m, args, quota)
}

func (vm *Machine) construct(ctx context.Context, ref *ir.MethodRef, args []Value, quota *QuotaEnforcer) (Value, error) {
	if t := vm.universe.FindType(ref.DeclaringType); t != nil {
		obj := NewObject(t.FullName())
		if ctor := vm.universe.ResolveMethod(ref); ctor != nil && ctor.HasBody() {
			if _, err := vm.exec(ctx, ctor, append([]Value{obj}, args...), quota); err != nil {
				return nil, err
			}
		}
		return obj, nil
	}
	if isExceptionType(ref.DeclaringType) {
		return newException(ref.DeclaringType, args), nil
	}
	return nil, newRuntimeError(ErrCodeUnresolved, "", -1, "cannot construct %s", ref.DeclaringType)
}

func isExceptionType(name string) bool {
	return strings.HasSuffix(name, "Exception")
}

// String renders a value for logs and test failure messages.
func String(v Value) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return fmt.Sprintf("%q", x)
	case *Object:
		return x.Type
	case *Boxed:
		return fmt.Sprintf("box(%v)", x.Value)
	case *Task:
		return "Task(" + x.Status.String() + ")"
	default:
		return fmt.Sprint(x)
	}
}
