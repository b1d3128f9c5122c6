package weaver

import (
	"fmt"

	"github.com/roach88/nullguard/internal/classify"
	"github.com/roach88/nullguard/internal/ir"
)

// GuardKind names the kind of an injected guard.
type GuardKind string

const (
	GuardArgument    GuardKind = "argument"
	GuardReturn      GuardKind = "return"
	GuardOut         GuardKind = "out"
	GuardAsyncResult GuardKind = "async-result"
	GuardGetter      GuardKind = "getter"
	GuardSetter      GuardKind = "setter"
)

// Guard messages.
const (
	msgArgumentNull   = "[NullGuard] %s is null."
	msgReturnNull     = "[NullGuard] Return value of method '%s' is null."
	msgOutNull        = "[NullGuard] Out parameter '%s' is null."
	msgPropertyReturn = "[NullGuard] Return value of property '%s' is null."
	msgPropertySet    = "[NullGuard] Cannot set the value of property '%s' to null."
)

func op(code ir.OpCode, operand any) *ir.Instruction {
	return ir.NewInstruction(code, operand)
}

// loadValue pushes the value of parameter p, dereferencing by-ref
// parameters and boxing generic ones. A by-ref generic parameter may hold a
// value type, so it is read with ldobj rather than ldind.ref.
func loadValue(m *ir.MethodDef, p *ir.ParamDef) []*ir.Instruction {
	out := []*ir.Instruction{op(ir.OpLdarg, m.ArgSlot(p))}
	if p.Type.IsByRef() {
		if elem := classify.Unwrap(p.Type); elem.IsGenericParameter() {
			out = append(out, op(ir.OpLdobj, elem))
		} else {
			out = append(out, op(ir.OpLdindRef, nil))
		}
	}
	return append(out, boxIfNeeded(p.Type)...)
}

func boxIfNeeded(t *ir.TypeRef) []*ir.Instruction {
	if !classify.RequiresBox(t) {
		return nil
	}
	return []*ir.Instruction{op(ir.OpBox, classify.Unwrap(t))}
}

// debugAssert emits Debug.Assert(value != null, message) for the value that
// load pushes.
func debugAssert(load []*ir.Instruction, message string) []*ir.Instruction {
	out := append([]*ir.Instruction(nil), load...)
	return append(out,
		op(ir.OpLdnull, nil),
		op(ir.OpCgtUn, nil),
		op(ir.OpLdstr, message),
		op(ir.OpCall, ir.DebugAssert()),
	)
}

// argumentGuard builds the entry check for parameter name whose value load
// pushes. next is the instruction the check falls through to.
func argumentGuard(load []*ir.Instruction, name, message string, next *ir.Instruction, assert bool) []*ir.Instruction {
	var block []*ir.Instruction
	if assert {
		block = debugAssert(load, message)
	}
	block = append(block, cloneAll(load)...)
	return append(block,
		op(ir.OpBrtrue, next),
		op(ir.OpLdstr, name),
		op(ir.OpLdstr, message),
		op(ir.OpNewobj, ir.ArgumentNullExceptionWithMessageCtor()),
		op(ir.OpThrow, nil),
	)
}

// returnGuard builds the check of the value on top of the stack before exit.
// The value stays on the stack on the success path.
func returnGuard(t *ir.TypeRef, message string, exit *ir.Instruction, assert bool) []*ir.Instruction {
	var block []*ir.Instruction
	if assert {
		block = append(block, op(ir.OpDup, nil))
		block = debugAssert(append(block, boxIfNeeded(t)...), message)
	}
	block = append(block, op(ir.OpDup, nil))
	block = append(block, boxIfNeeded(t)...)
	return append(block,
		op(ir.OpBrtrue, exit),
		op(ir.OpLdstr, message),
		op(ir.OpNewobj, ir.InvalidOperationExceptionCtor()),
		op(ir.OpThrow, nil),
	)
}

// outGuard builds the exit check of by-ref parameter p.
func outGuard(m *ir.MethodDef, p *ir.ParamDef, exit *ir.Instruction) []*ir.Instruction {
	block := loadValue(m, p)
	return append(block,
		op(ir.OpBrtrue, exit),
		op(ir.OpLdstr, fmt.Sprintf(msgOutNull, p.Name)),
		op(ir.OpNewobj, ir.InvalidOperationExceptionCtor()),
		op(ir.OpThrow, nil),
	)
}

// asyncResultGuard builds the check placed before a SetResult call. On null
// it faults the task through the existing SetException call and returns.
func asyncResultGuard(t *ir.TypeRef, message string, setResult *ir.Instruction, setException *ir.MethodRef) []*ir.Instruction {
	block := []*ir.Instruction{op(ir.OpDup, nil)}
	block = append(block, boxIfNeeded(t)...)
	return append(block,
		op(ir.OpBrtrue, setResult),
		op(ir.OpPop, nil),
		op(ir.OpLdstr, message),
		op(ir.OpNewobj, ir.InvalidOperationExceptionCtor()),
		op(ir.OpCall, setException),
		op(ir.OpRet, nil),
	)
}

func cloneAll(ins []*ir.Instruction) []*ir.Instruction {
	out := make([]*ir.Instruction, len(ins))
	for i, in := range ins {
		c := *in
		out[i] = &c
	}
	return out
}

// hasExistingGuard reports whether body already throws an
// ArgumentNullException naming param, i.e. contains
//
//	ldstr "param"; [ldstr "message";] newobj ArgumentNullException::.ctor; throw
func hasExistingGuard(body *ir.Body, param string) bool {
	ins := body.Instructions
	for i := 0; i+1 < len(ins); i++ {
		in := ins[i]
		ctor := in.Method()
		if in.OpCode != ir.OpNewobj || ctor == nil || ctor.DeclaringType != ir.ArgumentNullExceptionType {
			continue
		}
		if ins[i+1].OpCode != ir.OpThrow {
			continue
		}
		nameAt := i - len(ctor.Params)
		if len(ctor.Params) == 0 || nameAt < 0 {
			continue
		}
		if name := ins[nameAt]; name.OpCode == ir.OpLdstr && name.Str() == param {
			return true
		}
	}
	return false
}
