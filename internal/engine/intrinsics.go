package engine

import (
	"context"
	"strings"

	"github.com/roach88/nullguard/internal/ir"
)

// intrinsic executes framework members that have no body in the universe.
// ok is false when ref is not one of them.
func (vm *Machine) intrinsic(ctx context.Context, ref *ir.MethodRef, args []Value, quota *QuotaEnforcer) (result Value, ok bool, err error) {
	switch {
	case ref.DeclaringType == ir.DebugType && ref.Name == "Assert":
		if len(args) > 0 && !truthy(args[0]) {
			msg := ""
			if len(args) > 1 {
				msg, _ = args[1].(string)
			}
			vm.Assertions = append(vm.Assertions, msg)
			vm.logger.Debug("assertion failed", "message", msg)
		}
		return nil, true, nil

	case strings.HasPrefix(ref.DeclaringType, ir.AsyncBuilder):
		v, err := vm.builderCall(ctx, ref, args, quota)
		return v, true, err
	}
	return nil, false, nil
}

// builderCall implements AsyncTaskMethodBuilder. Start runs MoveNext to
// completion; the interpreter has no awaiters, so every state machine
// finishes synchronously.
func (vm *Machine) builderCall(ctx context.Context, ref *ir.MethodRef, args []Value, quota *QuotaEnforcer) (Value, error) {
	if ref.Name == "Create" {
		return &Builder{Task: &Task{}}, nil
	}
	if len(args) == 0 {
		return nil, newRuntimeError(ErrCodeBadProgram, "", -1, "%s called without a builder", ref.FullName())
	}
	b, ok := deref(args[0]).(*Builder)
	if !ok {
		return nil, newRuntimeError(ErrCodeBadProgram, "", -1, "%s called on %T", ref.FullName(), deref(args[0]))
	}

	switch ref.Name {
	case "Start":
		if len(args) < 2 {
			return nil, newRuntimeError(ErrCodeBadProgram, "", -1, "Start called without a state machine")
		}
		sm, ok := deref(args[1]).(*Object)
		if !ok {
			return nil, newRuntimeError(ErrCodeBadProgram, "", -1, "Start called on %T", deref(args[1]))
		}
		t := vm.universe.FindType(sm.Type)
		if t == nil {
			return nil, newRuntimeError(ErrCodeUnresolved, "", -1, "state machine %s not found", sm.Type)
		}
		moveNext := t.FindMethod("MoveNext")
		if moveNext == nil {
			return nil, newRuntimeError(ErrCodeUnresolved, "", -1, "%s has no MoveNext", sm.Type)
		}
		_, err := vm.exec(ctx, moveNext, []Value{sm}, quota)
		return nil, err

	case "SetResult":
		var v Value
		if len(args) > 1 {
			v = args[1]
		}
		b.Task.Status = TaskCompleted
		b.Task.Result = v
		return nil, nil

	case "SetException":
		e, ok := args[len(args)-1].(*ManagedException)
		if !ok {
			return nil, newRuntimeError(ErrCodeBadProgram, "", -1, "SetException called with %T", args[len(args)-1])
		}
		b.Task.Status = TaskFaulted
		b.Task.Exception = e
		return nil, nil

	case "get_Task":
		return b.Task, nil
	}
	return nil, newRuntimeError(ErrCodeUnresolved, "", -1, "unsupported builder member %s", ref.Name)
}

func deref(v Value) Value {
	if r, ok := v.(*Ref); ok {
		return r.Load()
	}
	return v
}
