package testutil

import (
	"strconv"

	"github.com/roach88/nullguard/internal/ir"
)

const (
	builderField      = "<>t__builder"
	compilerGenerated = "System.Runtime.CompilerServices.CompilerGeneratedAttribute"
	asyncStateMachine = "System.Runtime.CompilerServices.AsyncStateMachineAttribute"
)

// AsyncMethod adds an async method returning Task<result> to t, together
// with its nested state machine class, and returns both. t must be a
// top-level type.
//
// Parameters are copied into state machine fields of the same name. compute
// emits the instructions of the method's logic inside MoveNext; it must
// leave the result on the stack, and field resolves a parameter's field.
//
// MoveNext follows the compiler's shape:
//
//	try { <compute>; stloc 0; leave SET }
//	catch (Exception) { stloc 1; builder.SetException(ex); leave END }
//	SET: builder.SetResult(loc 0)
//	END: ret
func AsyncMethod(t *ir.TypeDef, name string, result *ir.TypeRef, params []*ir.ParamDef, compute func(field func(string) *ir.FieldRef) []*ir.Instruction) (*ir.MethodDef, *ir.TypeDef) {
	return asyncMethod(t, name, result, params, compute, true)
}

// AsyncMethodWithoutCatch is AsyncMethod without the SetException handler,
// as emitted for methods that never suspend.
func AsyncMethodWithoutCatch(t *ir.TypeDef, name string, result *ir.TypeRef, params []*ir.ParamDef, compute func(field func(string) *ir.FieldRef) []*ir.Instruction) (*ir.MethodDef, *ir.TypeDef) {
	return asyncMethod(t, name, result, params, compute, false)
}

// BuilderRefs names the AsyncTaskMethodBuilder<result> members used by
// AsyncMethod.
type BuilderRefs struct {
	Type         *ir.TypeRef
	Create       *ir.MethodRef
	Start        *ir.MethodRef
	SetResult    *ir.MethodRef
	SetException *ir.MethodRef
	Task         *ir.MethodRef
}

// Builder returns the builder member references for a result type and a
// state machine type.
func Builder(result *ir.TypeRef, stateMachine *ir.TypeRef) BuilderRefs {
	open := ir.ValueType(ir.AsyncBuilderOfT)
	typ := ir.Instance(open, result)
	name := typ.String()
	return BuilderRefs{
		Type:         typ,
		Create:       &ir.MethodRef{DeclaringType: name, Name: "Create", ReturnType: typ},
		Start:        &ir.MethodRef{DeclaringType: name, Name: "Start", Params: []*ir.TypeRef{ir.ByRef(stateMachine)}, ReturnType: ir.Void(), HasThis: true},
		SetResult:    &ir.MethodRef{DeclaringType: name, Name: "SetResult", Params: []*ir.TypeRef{result}, ReturnType: ir.Void(), HasThis: true},
		SetException: &ir.MethodRef{DeclaringType: name, Name: "SetException", Params: []*ir.TypeRef{ir.Class(ir.TypeNameException)}, ReturnType: ir.Void(), HasThis: true},
		Task:         &ir.MethodRef{DeclaringType: name, Name: "get_Task", ReturnType: ir.TaskOf(result), HasThis: true},
	}
}

func asyncMethod(t *ir.TypeDef, name string, result *ir.TypeRef, params []*ir.ParamDef, compute func(field func(string) *ir.FieldRef) []*ir.Instruction, withCatch bool) (*ir.MethodDef, *ir.TypeDef) {
	smName := "<" + name + ">d__" + strconv.Itoa(len(t.NestedTypes))
	smFullName := t.FullName() + "/" + smName
	smRef := ir.Class(smFullName)
	b := Builder(result, smRef)

	sm := &ir.TypeDef{
		Name:       smName,
		Visibility: ir.Private,
		Category:   ir.CategoryClass,
		IsSealed:   true,
		Attributes: []ir.CustomAttribute{Attr(compilerGenerated)},
	}
	fieldRef := func(field string) *ir.FieldRef {
		for _, f := range sm.Fields {
			if f.Name == field {
				return &ir.FieldRef{DeclaringType: smFullName, Name: f.Name, Type: f.Type}
			}
		}
		return &ir.FieldRef{DeclaringType: smFullName, Name: field}
	}
	for _, p := range params {
		sm.Fields = append(sm.Fields, &ir.FieldDef{Name: p.Name, Type: p.Type})
	}
	sm.Fields = append(sm.Fields, &ir.FieldDef{Name: builderField, Type: b.Type})
	builder := fieldRef(builderField)

	end := I(ir.OpRet)
	set := I(ir.OpLdarg, 0)
	body := compute(fieldRef)
	tryStart := body[0]
	body = append(body, I(ir.OpStloc, 0), I(ir.OpLeave, set))
	var handlers []*ir.ExceptionHandler
	if withCatch {
		catch := I(ir.OpStloc, 1)
		body = append(body,
			catch,
			I(ir.OpLdarg, 0),
			I(ir.OpLdflda, builder),
			I(ir.OpLdloc, 1),
			I(ir.OpCall, b.SetException),
			I(ir.OpLeave, end),
		)
		handlers = append(handlers, &ir.ExceptionHandler{
			TryStart:     tryStart,
			TryEnd:       catch,
			HandlerStart: catch,
			HandlerEnd:   set,
			CatchType:    ir.TypeNameException,
		})
	}
	body = append(body,
		set,
		I(ir.OpLdflda, builder),
		I(ir.OpLdloc, 0),
		I(ir.OpCall, b.SetResult),
		end,
	)
	moveNext := &ir.MethodDef{
		Name:       "MoveNext",
		Visibility: ir.Private,
		IsVirtual:  true,
		ReturnType: ir.Void(),
		Body:       &ir.Body{Instructions: body, Locals: []*ir.TypeRef{result, ir.Class(ir.TypeNameException)}, ExceptionHandlers: handlers},
	}
	sm.Methods = []*ir.MethodDef{moveNext}

	stub := Method(name, ir.TaskOf(result), params...)
	stub.Attributes = []ir.CustomAttribute{Attr(asyncStateMachine, smFullName)}
	ctor := &ir.MethodRef{DeclaringType: smFullName, Name: ".ctor", ReturnType: ir.Void(), HasThis: true}
	stubBody := []*ir.Instruction{I(ir.OpNewobj, ctor), I(ir.OpStloc, 0)}
	for i, p := range params {
		slot := i
		if !stub.IsStatic {
			slot++
		}
		stubBody = append(stubBody, I(ir.OpLdloc, 0), I(ir.OpLdarg, slot), I(ir.OpStfld, fieldRef(p.Name)))
	}
	stubBody = append(stubBody,
		I(ir.OpLdloc, 0),
		I(ir.OpCall, b.Create),
		I(ir.OpStfld, builder),
		I(ir.OpLdloc, 0),
		I(ir.OpLdflda, builder),
		I(ir.OpLdloca, 0),
		I(ir.OpCall, b.Start),
		I(ir.OpLdloc, 0),
		I(ir.OpLdflda, builder),
		I(ir.OpCall, b.Task),
		I(ir.OpRet),
	)
	stub.Body = &ir.Body{Instructions: stubBody, Locals: []*ir.TypeRef{smRef}}

	t.Methods = append(t.Methods, stub)
	t.NestedTypes = append(t.NestedTypes, sm)
	return stub, sm
}
