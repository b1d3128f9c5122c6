package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/nullguard/internal/ir"
	"github.com/roach88/nullguard/internal/testutil"
)

func static(m *ir.MethodDef) *ir.MethodDef {
	m.IsStatic = true
	return m
}

func machineFor(t *testing.T, types ...*ir.TypeDef) *Machine {
	t.Helper()
	asm := testutil.Link(types...)
	return New(ir.NewUniverse(asm))
}

func TestInvokePassthrough(t *testing.T) {
	c := testutil.Class("Samples", "Widget")
	m := testutil.Method("Echo", ir.String(), testutil.Param("value", ir.String()))
	m.Body = testutil.Passthrough(1)
	c.Methods = []*ir.MethodDef{m}
	vm := machineFor(t, c)

	v, err := vm.Invoke(context.Background(), m, NewObject("Samples.Widget"), "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", v)

	v, err = vm.Invoke(context.Background(), m, NewObject("Samples.Widget"), nil)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestInvokeArgumentCount(t *testing.T) {
	c := testutil.Class("Samples", "Widget")
	m := testutil.Method("Echo", ir.String(), testutil.Param("value", ir.String()))
	m.Body = testutil.Passthrough(1)
	c.Methods = []*ir.MethodDef{m}
	vm := machineFor(t, c)

	_, err := vm.Invoke(context.Background(), m, NewObject("Samples.Widget"))
	assert.True(t, IsRuntimeError(err, ErrCodeBadProgram))
}

func TestInvokeNullReceiver(t *testing.T) {
	c := testutil.Class("Samples", "Widget")
	m := testutil.Method("Run", ir.Void())
	m.Body = testutil.Empty()
	c.Methods = []*ir.MethodDef{m}
	vm := machineFor(t, c)

	_, err := vm.Invoke(context.Background(), m, nil)
	assert.True(t, IsManagedException(err, NullReferenceExceptionType))
}

func TestThrowArgumentNull(t *testing.T) {
	c := testutil.Class("Samples", "Widget")
	m := testutil.Method("Echo", ir.String(), testutil.Param("value", ir.String()))
	ok := testutil.I(ir.OpLdarg, 1)
	m.Body = testutil.Body(
		testutil.I(ir.OpLdarg, 1),
		testutil.I(ir.OpBrtrue, ok),
		testutil.I(ir.OpLdstr, "value"),
		testutil.I(ir.OpLdstr, "[NullGuard] value is null."),
		testutil.I(ir.OpNewobj, ir.ArgumentNullExceptionWithMessageCtor()),
		testutil.I(ir.OpThrow),
		ok,
		testutil.I(ir.OpRet),
	)
	c.Methods = []*ir.MethodDef{m}
	vm := machineFor(t, c)

	_, err := vm.Invoke(context.Background(), m, NewObject("Samples.Widget"), nil)
	require.Error(t, err)
	me, isManaged := AsManagedException(err)
	require.True(t, isManaged)
	assert.Equal(t, ir.ArgumentNullExceptionType, me.Type)
	assert.Equal(t, "value", me.ParamName)
	assert.Equal(t, "[NullGuard] value is null.", me.Message)
	assert.Contains(t, err.Error(), "(Parameter 'value')")

	v, err := vm.Invoke(context.Background(), m, NewObject("Samples.Widget"), "x")
	require.NoError(t, err)
	assert.Equal(t, "x", v)
}

func TestArgumentNullSingleArgumentMessage(t *testing.T) {
	e := newException(ir.ArgumentNullExceptionType, []Value{"name"})
	assert.Equal(t, "name", e.ParamName)
	assert.Equal(t, "Value cannot be null.", e.Message)

	e = newException(ir.InvalidOperationExceptionType, []Value{"broken"})
	assert.Equal(t, "broken", e.Message)
	assert.Empty(t, e.ParamName)
}

// buildCatcher returns a type whose Safe method calls Thrower inside a
// try block with the given catch type, returning "caught" from the handler.
func buildCatcher(catchType string) (*ir.TypeDef, *ir.MethodDef) {
	c := testutil.Class("Samples", "Catcher")
	thrower := testutil.Method("Thrower", ir.String())
	thrower.Body = testutil.Body(
		testutil.I(ir.OpLdstr, "boom"),
		testutil.I(ir.OpNewobj, ir.InvalidOperationExceptionCtor()),
		testutil.I(ir.OpThrow),
	)
	safe := testutil.Method("Safe", ir.String())
	c.Methods = []*ir.MethodDef{thrower, safe}
	testutil.Link(c)

	exit := testutil.I(ir.OpLdloc, 0)
	handler := testutil.I(ir.OpPop)
	tryStart := testutil.I(ir.OpLdarg, 0)
	safe.Body = &ir.Body{
		Instructions: []*ir.Instruction{
			tryStart,
			testutil.I(ir.OpCallvirt, thrower.Ref()),
			testutil.I(ir.OpStloc, 0),
			testutil.I(ir.OpLeave, exit),
			handler,
			testutil.I(ir.OpLdstr, "caught"),
			testutil.I(ir.OpStloc, 0),
			testutil.I(ir.OpLeave, exit),
			exit,
			testutil.I(ir.OpRet),
		},
		ExceptionHandlers: []*ir.ExceptionHandler{{
			TryStart:     tryStart,
			TryEnd:       handler,
			HandlerStart: handler,
			HandlerEnd:   exit,
			CatchType:    catchType,
		}},
	}
	return c, safe
}

func TestCatchCalleeException(t *testing.T) {
	c, safe := buildCatcher(ExceptionType)
	vm := New(ir.NewUniverse(c.Assembly))

	v, err := vm.Invoke(context.Background(), safe, NewObject(c.FullName()))
	require.NoError(t, err)
	assert.Equal(t, "caught", v)
}

func TestCatchTypeMismatchPropagates(t *testing.T) {
	c, safe := buildCatcher("System.ArgumentException")
	vm := New(ir.NewUniverse(c.Assembly))

	_, err := vm.Invoke(context.Background(), safe, NewObject(c.FullName()))
	require.Error(t, err)
	assert.True(t, IsManagedException(err, ir.InvalidOperationExceptionType))
}

func TestSwitch(t *testing.T) {
	c := testutil.Class("Samples", "Router")
	m := static(testutil.Method("Route", ir.String(), testutil.Param("n", ir.Int32())))
	zero := testutil.I(ir.OpLdstr, "zero")
	one := testutil.I(ir.OpLdstr, "one")
	m.Body = testutil.Body(
		testutil.I(ir.OpLdarg, 0),
		testutil.I(ir.OpSwitch, []*ir.Instruction{zero, one}),
		testutil.I(ir.OpLdstr, "default"),
		testutil.I(ir.OpRet),
		zero,
		testutil.I(ir.OpRet),
		one,
		testutil.I(ir.OpRet),
	)
	c.Methods = []*ir.MethodDef{m}
	vm := machineFor(t, c)

	tests := []struct {
		in   int64
		want string
	}{
		{0, "zero"},
		{1, "one"},
		{2, "default"},
		{-1, "default"},
	}
	for _, tt := range tests {
		v, err := vm.Invoke(context.Background(), m, tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, v, "input %d", tt.in)
	}
}

func TestOutParameter(t *testing.T) {
	c := testutil.Class("Samples", "Cache")
	m := static(testutil.Method("TryGet", ir.Boolean(), testutil.OutParam("result", ir.String())))
	m.Body = testutil.Body(
		testutil.I(ir.OpLdarg, 0),
		testutil.I(ir.OpLdstr, "cached"),
		testutil.I(ir.OpStindRef),
		testutil.I(ir.OpLdcI4, 1),
		testutil.I(ir.OpRet),
	)
	c.Methods = []*ir.MethodDef{m}
	vm := machineFor(t, c)

	out := NewRef(nil)
	v, err := vm.Invoke(context.Background(), m, out)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
	assert.Equal(t, "cached", out.Load())
}

func TestLdobjGenericSlot(t *testing.T) {
	c := testutil.Class("Samples", "Slot")
	gp := &ir.GenericParam{Name: "T"}
	m := static(testutil.Method("Read", ir.Object(), testutil.Param("slot", ir.ByRef(ir.GenericUse(gp)))))
	m.GenericParams = []*ir.GenericParam{gp}
	m.Body = testutil.Body(
		testutil.I(ir.OpLdarg, 0),
		testutil.I(ir.OpLdobj, ir.GenericUse(gp)),
		testutil.I(ir.OpBox, ir.GenericUse(gp)),
		testutil.I(ir.OpRet),
	)
	c.Methods = []*ir.MethodDef{m}
	vm := machineFor(t, c)

	v, err := vm.Invoke(context.Background(), m, NewRef(int64(7)))
	require.NoError(t, err)
	boxed, ok := v.(*Boxed)
	require.True(t, ok, "got %T", v)
	assert.Equal(t, int64(7), boxed.Value)

	v, err = vm.Invoke(context.Background(), m, NewRef("x"))
	require.NoError(t, err)
	assert.Equal(t, "x", v)
}

func TestConstructorAndFields(t *testing.T) {
	c := testutil.Class("Samples", "Named")
	field := &ir.FieldDef{Name: "name", Type: ir.String()}
	fref := &ir.FieldRef{DeclaringType: "Samples.Named", Name: "name", Type: ir.String()}
	ctor := testutil.Method(".ctor", ir.Void(), testutil.Param("name", ir.String()))
	ctor.Body = testutil.Body(
		testutil.I(ir.OpLdarg, 0),
		testutil.I(ir.OpLdarg, 1),
		testutil.I(ir.OpStfld, fref),
		testutil.I(ir.OpRet),
	)
	get := testutil.Method("GetName", ir.String())
	get.Body = testutil.Body(testutil.I(ir.OpLdarg, 0), testutil.I(ir.OpLdfld, fref), testutil.I(ir.OpRet))
	factory := static(testutil.Method("Make", ir.String()))
	c.Fields = []*ir.FieldDef{field}
	c.Methods = []*ir.MethodDef{ctor, get, factory}
	testutil.Link(c)
	factory.Body = testutil.Body(
		testutil.I(ir.OpLdstr, "widget"),
		testutil.I(ir.OpNewobj, ctor.Ref()),
		testutil.I(ir.OpCallvirt, get.Ref()),
		testutil.I(ir.OpRet),
	)
	vm := New(ir.NewUniverse(c.Assembly))

	v, err := vm.Call(context.Background(), "Samples.Named", "Make")
	require.NoError(t, err)
	assert.Equal(t, "widget", v)

	obj, err := vm.Instantiate(context.Background(), "Samples.Named")
	require.NoError(t, err)
	assert.Equal(t, "Samples.Named", obj.Type)
	assert.Empty(t, obj.Fields)
}

func TestFieldOnNullThrows(t *testing.T) {
	c := testutil.Class("Samples", "Reader")
	fref := &ir.FieldRef{DeclaringType: "Samples.Reader", Name: "x", Type: ir.String()}
	m := static(testutil.Method("Read", ir.String()))
	m.Body = testutil.Body(testutil.I(ir.OpLdnull), testutil.I(ir.OpLdfld, fref), testutil.I(ir.OpRet))
	c.Methods = []*ir.MethodDef{m}
	vm := machineFor(t, c)

	_, err := vm.Invoke(context.Background(), m)
	assert.True(t, IsManagedException(err, NullReferenceExceptionType))
}

func TestComparisons(t *testing.T) {
	tests := []struct {
		name string
		a, b *ir.Instruction
		op   ir.OpCode
		want int64
	}{
		{"ceq ints", testutil.I(ir.OpLdcI4, 3), testutil.I(ir.OpLdcI4, 3), ir.OpCeq, 1},
		{"ceq differs", testutil.I(ir.OpLdcI4, 3), testutil.I(ir.OpLdcI4, 4), ir.OpCeq, 0},
		{"ceq nulls", testutil.I(ir.OpLdnull), testutil.I(ir.OpLdnull), ir.OpCeq, 1},
		{"ceq strings", testutil.I(ir.OpLdstr, "a"), testutil.I(ir.OpLdstr, "a"), ir.OpCeq, 1},
		{"cgt.un ref vs null", testutil.I(ir.OpLdstr, "a"), testutil.I(ir.OpLdnull), ir.OpCgtUn, 1},
		{"cgt.un null vs null", testutil.I(ir.OpLdnull), testutil.I(ir.OpLdnull), ir.OpCgtUn, 0},
		{"cgt.un unsigned", testutil.I(ir.OpLdcI4, -1), testutil.I(ir.OpLdcI4, 1), ir.OpCgtUn, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testutil.Class("Samples", "Cmp")
			m := static(testutil.Method("Run", ir.Int32()))
			m.Body = testutil.Body(tt.a, tt.b, testutil.I(tt.op), testutil.I(ir.OpRet))
			c.Methods = []*ir.MethodDef{m}
			vm := machineFor(t, c)

			v, err := vm.Invoke(context.Background(), m)
			require.NoError(t, err)
			assert.Equal(t, tt.want, v)
		})
	}
}

func TestBoxValueType(t *testing.T) {
	c := testutil.Class("Samples", "Boxer")
	m := static(testutil.Method("Box", ir.Object()))
	m.Body = testutil.Body(
		testutil.I(ir.OpLdcI4, 0),
		testutil.I(ir.OpBox, ir.Int32()),
		testutil.I(ir.OpRet),
	)
	c.Methods = []*ir.MethodDef{m}
	vm := machineFor(t, c)

	v, err := vm.Invoke(context.Background(), m)
	require.NoError(t, err)
	boxed, ok := v.(*Boxed)
	require.True(t, ok)
	assert.Equal(t, ir.TypeNameInt32, boxed.Type)
	assert.True(t, truthy(boxed), "a boxed zero is a non-null reference")
}

func TestDebugAssertRecordsFailures(t *testing.T) {
	c := testutil.Class("Samples", "Checker")
	m := static(testutil.Method("Check", ir.Void(), testutil.Param("x", ir.String())))
	m.Body = testutil.Body(
		testutil.I(ir.OpLdarg, 0),
		testutil.I(ir.OpLdnull),
		testutil.I(ir.OpCgtUn),
		testutil.I(ir.OpLdstr, "x is null"),
		testutil.I(ir.OpCall, ir.DebugAssert()),
		testutil.I(ir.OpRet),
	)
	c.Methods = []*ir.MethodDef{m}
	vm := machineFor(t, c)

	_, err := vm.Invoke(context.Background(), m, "present")
	require.NoError(t, err)
	assert.Empty(t, vm.Assertions)

	_, err = vm.Invoke(context.Background(), m, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"x is null"}, vm.Assertions)
}

func TestRuntimeErrors(t *testing.T) {
	stray := testutil.I(ir.OpRet)
	tests := []struct {
		name string
		body *ir.Body
		code RuntimeErrorCode
	}{
		{"stack underflow", testutil.Body(testutil.I(ir.OpPop), testutil.I(ir.OpRet)), ErrCodeStackUnderflow},
		{"branch outside body", testutil.Body(testutil.I(ir.OpBr, stray)), ErrCodeBadProgram},
		{"falls off the end", testutil.Body(testutil.I(ir.OpNop)), ErrCodeBadProgram},
		{"unresolved call", testutil.Body(
			testutil.I(ir.OpCall, &ir.MethodRef{DeclaringType: "Missing.Type", Name: "Run", ReturnType: ir.Void()}),
			testutil.I(ir.OpRet),
		), ErrCodeUnresolved},
		{"throw non-exception", testutil.Body(testutil.I(ir.OpLdstr, "x"), testutil.I(ir.OpThrow)), ErrCodeBadProgram},
		{"ldobj without address", testutil.Body(testutil.I(ir.OpLdstr, "x"), testutil.I(ir.OpLdobj, ir.Object()), testutil.I(ir.OpPop), testutil.I(ir.OpRet)), ErrCodeBadProgram},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testutil.Class("Samples", "Broken")
			m := static(testutil.Method("Run", ir.Void()))
			m.Body = tt.body
			c.Methods = []*ir.MethodDef{m}
			vm := machineFor(t, c)

			_, err := vm.Invoke(context.Background(), m)
			require.Error(t, err)
			assert.True(t, IsRuntimeError(err, tt.code), "got %v", err)
			_, managed := AsManagedException(err)
			assert.False(t, managed)
		})
	}
}

func TestQuotaStopsInfiniteLoop(t *testing.T) {
	c := testutil.Class("Samples", "Spinner")
	m := static(testutil.Method("Spin", ir.Void()))
	loop := testutil.I(ir.OpNop)
	m.Body = testutil.Body(loop, testutil.I(ir.OpBr, loop))
	c.Methods = []*ir.MethodDef{m}
	asm := testutil.Link(c)
	vm := New(ir.NewUniverse(asm), WithMaxSteps(50))

	_, err := vm.Invoke(context.Background(), m)
	require.Error(t, err)
	assert.True(t, IsQuotaError(err))
	assert.True(t, IsStepsExceededError(err))
}

func TestContextCancellation(t *testing.T) {
	c := testutil.Class("Samples", "Spinner")
	m := static(testutil.Method("Spin", ir.Void()))
	loop := testutil.I(ir.OpNop)
	m.Body = testutil.Body(loop, testutil.I(ir.OpBr, loop))
	c.Methods = []*ir.MethodDef{m}
	vm := machineFor(t, c)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := vm.Invoke(ctx, m)
	assert.ErrorIs(t, err, context.Canceled)
}

func keyField(field func(string) *ir.FieldRef) []*ir.Instruction {
	return []*ir.Instruction{
		testutil.I(ir.OpLdarg, 0),
		testutil.I(ir.OpLdfld, field("key")),
	}
}

func TestAsyncCompletes(t *testing.T) {
	c := testutil.Class("Samples", "Service")
	stub, _ := testutil.AsyncMethod(c, "Load", ir.String(), []*ir.ParamDef{testutil.Param("key", ir.String())}, keyField)
	vm := machineFor(t, c)

	v, err := vm.Invoke(context.Background(), stub, NewObject(c.FullName()), "k1")
	require.NoError(t, err)
	task, ok := v.(*Task)
	require.True(t, ok)
	assert.Equal(t, TaskCompleted, task.Status)

	result, err := task.Await()
	require.NoError(t, err)
	assert.Equal(t, "k1", result)
}

func TestAsyncFaults(t *testing.T) {
	c := testutil.Class("Samples", "Service")
	stub, _ := testutil.AsyncMethod(c, "Fail", ir.String(), nil, func(func(string) *ir.FieldRef) []*ir.Instruction {
		return []*ir.Instruction{
			testutil.I(ir.OpLdstr, "bad state"),
			testutil.I(ir.OpNewobj, ir.InvalidOperationExceptionCtor()),
			testutil.I(ir.OpThrow),
		}
	})
	vm := machineFor(t, c)

	v, err := vm.Invoke(context.Background(), stub, NewObject(c.FullName()))
	require.NoError(t, err, "the exception is captured by the task")
	task := v.(*Task)
	assert.True(t, task.IsFaulted())
	assert.Equal(t, "Task(Faulted)", String(task))

	_, err = task.Await()
	assert.True(t, IsManagedException(err, ir.InvalidOperationExceptionType))
}

func TestString(t *testing.T) {
	assert.Equal(t, "null", String(nil))
	assert.Equal(t, `"a"`, String("a"))
	assert.Equal(t, "Samples.Widget", String(NewObject("Samples.Widget")))
	assert.Equal(t, "box(0)", String(&Boxed{Type: ir.TypeNameInt32, Value: int64(0)}))
	assert.Equal(t, "7", String(int64(7)))
}
