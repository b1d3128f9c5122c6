package weaver

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/nullguard/internal/config"
	"github.com/roach88/nullguard/internal/ir"
	"github.com/roach88/nullguard/internal/nullability"
	"github.com/roach88/nullguard/internal/testutil"
)

func newTestWeaver(policy *config.Policy, opts ...Option) *Weaver {
	opts = append([]Option{
		WithIDGenerator(testutil.NewFixedSessionID("")),
		WithClock(testutil.NewDeterministicClock()),
	}, opts...)
	return New(policy, opts...)
}

// weaveTypes links types into the Fixture assembly and weaves it.
func weaveTypes(t *testing.T, policy *config.Policy, types ...*ir.TypeDef) (*ir.Assembly, *Report) {
	t.Helper()
	asm := testutil.Link(types...)
	r, err := newTestWeaver(policy).Weave(context.Background(), nil, asm)
	require.NoError(t, err)
	return asm, r
}

func policyWith(flags config.ValidationFlags) *config.Policy {
	p := config.DefaultPolicy()
	p.ValidationFlags = flags
	return p
}

func echoWidget() (*ir.TypeDef, *ir.MethodDef) {
	c := testutil.Class("Samples", "Widget")
	m := testutil.Method("Echo", ir.String(), testutil.Param("value", ir.String()))
	m.Body = testutil.Passthrough(1)
	c.Methods = []*ir.MethodDef{m}
	return c, m
}

func TestWeaveEchoListing(t *testing.T) {
	c, m := echoWidget()
	_, r := weaveTypes(t, nil, c)

	want := []string{
		`IL_0000: ldarg 1`,
		`IL_0001: brtrue IL_0006`,
		`IL_0002: ldstr "value"`,
		`IL_0003: ldstr "[NullGuard] value is null."`,
		`IL_0004: newobj void System.ArgumentNullException::.ctor(System.String,System.String)`,
		`IL_0005: throw`,
		`IL_0006: ldarg 1`,
		`IL_0007: dup`,
		`IL_0008: brtrue IL_000c`,
		`IL_0009: ldstr "[NullGuard] Return value of method 'System.String Samples.Widget::Echo(System.String)' is null."`,
		`IL_000a: newobj void System.InvalidOperationException::.ctor(System.String)`,
		`IL_000b: throw`,
		`IL_000c: ret`,
	}
	assert.Equal(t, want, ir.ListBody(m.Body))

	key := "M:Samples.Widget.Echo(System.String)"
	assert.Equal(t, []Injection{
		{Seq: 1, Member: key, Kind: GuardArgument, Target: "value", Index: 0},
		{Seq: 2, Member: key, Kind: GuardReturn, Index: 7},
	}, r.For(key))
	assert.Equal(t, 1, r.Count(GuardArgument))
	assert.Equal(t, 1, r.Count(GuardReturn))
	assert.Equal(t, config.ModeImplicit, r.Mode)
	assert.Equal(t, "test-session-default", r.SessionID)
	assert.Equal(t, testutil.FixtureAssembly, r.Assembly)
	assert.NotEqual(t, r.InputHash, r.ContentHash)
	assert.False(t, r.HasErrors())
}

func TestArgumentGuardsKeepParameterOrder(t *testing.T) {
	c := testutil.Class("Samples", "Widget")
	m := testutil.Method("Join", ir.Void(), testutil.Param("a", ir.String()), testutil.Param("b", ir.String()))
	m.Body = testutil.Empty()
	c.Methods = []*ir.MethodDef{m}
	_, r := weaveTypes(t, nil, c)

	require.Equal(t, 2, r.Count(GuardArgument))
	assert.Equal(t, "a", m.Body.Instructions[2].Str(), "first parameter is checked first")
	assert.Equal(t, "b", m.Body.Instructions[8].Str())
	assert.Same(t, m.Body.Instructions[6], m.Body.Instructions[1].Target())
}

func TestArgumentSkips(t *testing.T) {
	optional := testutil.Param("opt", ir.String())
	optional.IsOptional, optional.HasDefault, optional.DefaultIsNull = true, true, true

	tests := []struct {
		name  string
		param *ir.ParamDef
	}{
		{"value type", testutil.Param("n", ir.Int32())},
		{"allow null", testutil.Param("s", ir.String(), testutil.Attr(nullability.NullGuardAllowNull))},
		{"can be null", testutil.Param("s", ir.String(), testutil.Attr("JetBrains.Annotations.CanBeNullAttribute"))},
		{"null default", optional},
		{"out parameter", testutil.OutParam("s", ir.String(), testutil.Attr(nullability.NullGuardAllowNull))},
		{"value type struct constraint", testutil.Param("v", ir.GenericUse(&ir.GenericParam{Name: "T", HasValueTypeConstraint: true}))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testutil.Class("Samples", "Widget")
			m := testutil.Method("Run", ir.Void(), tt.param)
			m.Body = testutil.Empty()
			c.Methods = []*ir.MethodDef{m}
			_, r := weaveTypes(t, nil, c)

			assert.Zero(t, r.Count(GuardArgument))
			assert.Len(t, m.Body.Instructions, 1)
		})
	}
}

func TestExistingGuardIsNotDuplicated(t *testing.T) {
	c := testutil.Class("Samples", "Widget")
	m := testutil.Method("Run", ir.Void(), testutil.Param("name", ir.String()))
	ret := testutil.I(ir.OpRet)
	m.Body = testutil.Body(
		testutil.I(ir.OpLdarg, 1),
		testutil.I(ir.OpBrtrue, ret),
		testutil.I(ir.OpLdstr, "name"),
		testutil.I(ir.OpNewobj, ir.ArgumentNullExceptionCtor()),
		testutil.I(ir.OpThrow),
		ret,
	)
	c.Methods = []*ir.MethodDef{m}
	_, r := weaveTypes(t, nil, c)

	assert.Zero(t, r.Count(GuardArgument))
	assert.Len(t, m.Body.Instructions, 6)
}

func TestBranchToReturnIsRedirected(t *testing.T) {
	c := testutil.Class("Samples", "Widget")
	m := testutil.Method("Get", ir.String())
	ret := testutil.I(ir.OpRet)
	br := testutil.I(ir.OpBr, ret)
	m.Body = testutil.Body(testutil.I(ir.OpLdnull), br, testutil.I(ir.OpLdstr, "x"), ret)
	c.Methods = []*ir.MethodDef{m}
	_, r := weaveTypes(t, policyWith(config.ReturnValues), c)

	guard := m.Body.Instructions[3]
	assert.Equal(t, ir.OpDup, guard.OpCode)
	assert.Same(t, guard, br.Target(), "the branch must run the guard")
	assert.Same(t, ret, m.Body.Instructions[4].Target())

	inj := r.For(ir.MethodKey(m))
	require.Len(t, inj, 1)
	assert.Equal(t, 1, inj[0].Redirected)
	assert.Equal(t, 3, inj[0].Index)
}

func TestSwitchToReturnIsRedirected(t *testing.T) {
	c := testutil.Class("Samples", "Widget")
	m := testutil.Method("Choose", ir.String(), testutil.Param("n", ir.Int32()))
	ret := testutil.I(ir.OpRet)
	sw := testutil.I(ir.OpSwitch, []*ir.Instruction{ret, ret})
	m.Body = testutil.Body(
		testutil.I(ir.OpLdnull),
		testutil.I(ir.OpLdarg, 1),
		sw,
		testutil.I(ir.OpPop),
		testutil.I(ir.OpLdstr, "fallback"),
		ret,
	)
	c.Methods = []*ir.MethodDef{m}
	_, r := weaveTypes(t, policyWith(config.ReturnValues), c)

	guard := m.Body.Instructions[5]
	for i, target := range sw.Targets() {
		assert.Same(t, guard, target, "case %d", i)
	}
	inj := r.For(ir.MethodKey(m))
	require.Len(t, inj, 1)
	assert.Equal(t, 2, inj[0].Redirected)
}

func TestMultipleReturnsEachGuarded(t *testing.T) {
	c := testutil.Class("Samples", "Widget")
	m := testutil.Method("Pick", ir.String(), testutil.Param("n", ir.Int32()))
	second := testutil.I(ir.OpLdstr, "b")
	m.Body = testutil.Body(
		testutil.I(ir.OpLdarg, 1),
		testutil.I(ir.OpBrtrue, second),
		testutil.I(ir.OpLdstr, "a"),
		testutil.I(ir.OpRet),
		second,
		testutil.I(ir.OpRet),
	)
	c.Methods = []*ir.MethodDef{m}
	_, r := weaveTypes(t, policyWith(config.ReturnValues), c)

	assert.Equal(t, 2, r.Count(GuardReturn))
	assert.Len(t, m.Body.Returns(), 2)
	assert.Same(t, second, m.Body.Instructions[1].Target(), "branches to non-return instructions are untouched")
}

func TestReturnSkips(t *testing.T) {
	tests := []struct {
		name  string
		build func() *ir.MethodDef
	}{
		{"void", func() *ir.MethodDef {
			m := testutil.Method("Run", ir.Void())
			m.Body = testutil.Empty()
			return m
		}},
		{"value type", func() *ir.MethodDef {
			m := testutil.Method("Count", ir.Int32())
			m.Body = testutil.Body(testutil.I(ir.OpLdcI4, 1), testutil.I(ir.OpRet))
			return m
		}},
		{"allow null on method", func() *ir.MethodDef {
			m := testutil.Method("Find", ir.String())
			m.Attributes = []ir.CustomAttribute{testutil.Attr(nullability.NullGuardAllowNull)}
			m.Body = testutil.Body(testutil.I(ir.OpLdnull), testutil.I(ir.OpRet))
			return m
		}},
		{"can be null on return", func() *ir.MethodDef {
			m := testutil.Method("Find", ir.String())
			m.ReturnAttributes = []ir.CustomAttribute{testutil.Attr("JetBrains.Annotations.CanBeNullAttribute")}
			m.Body = testutil.Body(testutil.I(ir.OpLdnull), testutil.I(ir.OpRet))
			return m
		}},
		{"do not guard", func() *ir.MethodDef {
			m := testutil.Method("Find", ir.String())
			m.Attributes = []ir.CustomAttribute{testutil.Attr(nullability.DoNotGuardAttribute)}
			m.Body = testutil.Body(testutil.I(ir.OpLdnull), testutil.I(ir.OpRet))
			return m
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testutil.Class("Samples", "Widget")
			m := tt.build()
			c.Methods = []*ir.MethodDef{m}
			_, r := weaveTypes(t, nil, c)
			assert.Zero(t, r.Count(GuardReturn))
		})
	}
}

func TestOutParameterGuard(t *testing.T) {
	c := testutil.Class("Samples", "Cache")
	m := testutil.Method("TryGet", ir.Boolean(), testutil.Param("key", ir.String(), testutil.Attr(nullability.NullGuardAllowNull)), testutil.OutParam("result", ir.String()))
	m.Body = testutil.Body(
		testutil.I(ir.OpLdarg, 2),
		testutil.I(ir.OpLdnull),
		testutil.I(ir.OpStindRef),
		testutil.I(ir.OpLdcI4, 0),
		testutil.I(ir.OpRet),
	)
	c.Methods = []*ir.MethodDef{m}
	_, r := weaveTypes(t, nil, c)

	assert.Zero(t, r.Count(GuardReturn), "bool return")
	require.Equal(t, 1, r.Count(GuardOut))
	want := []string{
		`IL_0004: ldarg 2`,
		`IL_0005: ldind.ref`,
		`IL_0006: brtrue IL_000a`,
		`IL_0007: ldstr "[NullGuard] Out parameter 'result' is null."`,
		`IL_0008: newobj void System.InvalidOperationException::.ctor(System.String)`,
		`IL_0009: throw`,
		`IL_000a: ret`,
	}
	assert.Equal(t, want, ir.ListBody(m.Body)[4:])
}

func TestOutGuardsFollowReturnGuard(t *testing.T) {
	c := testutil.Class("Samples", "Cache")
	m := testutil.Method("Get", ir.String(), testutil.OutParam("extra", ir.String()))
	m.Body = testutil.Body(testutil.I(ir.OpLdstr, "v"), testutil.I(ir.OpRet))
	c.Methods = []*ir.MethodDef{m}
	_, r := weaveTypes(t, policyWith(config.ReturnValues|config.OutValues), c)

	inj := r.For(ir.MethodKey(m))
	require.Len(t, inj, 2)
	assert.Equal(t, GuardReturn, inj[0].Kind)
	assert.Equal(t, GuardOut, inj[1].Kind)
	assert.Equal(t, 1, inj[0].Index)
	assert.Equal(t, 6, inj[1].Index)
	assert.Equal(t, 1, inj[1].Redirected, "the return guard's success branch now lands on the out guard")
	assert.Same(t, m.Body.Instructions[6], m.Body.Instructions[2].Target())
}

func TestRefParameterNotCheckedInImplicitMode(t *testing.T) {
	c := testutil.Class("Samples", "Cache")
	m := testutil.Method("Swap", ir.Void(), testutil.Param("slot", ir.ByRef(ir.String())))
	m.Body = testutil.Empty()
	c.Methods = []*ir.MethodDef{m}
	_, r := weaveTypes(t, nil, c)

	assert.Zero(t, r.Count(GuardOut))
	assert.Equal(t, 1, r.Count(GuardArgument), "the incoming ref value is still checked")
	assert.Equal(t, ir.OpLdindRef, m.Body.Instructions[1].OpCode)
}

func TestGenericParameterIsBoxed(t *testing.T) {
	c := testutil.Class("Samples", "Widget")
	gp := &ir.GenericParam{Name: "T"}
	m := testutil.Method("Identity", ir.GenericUse(gp), testutil.Param("value", ir.GenericUse(gp)))
	m.GenericParams = []*ir.GenericParam{gp}
	m.Body = testutil.Passthrough(1)
	c.Methods = []*ir.MethodDef{m}
	weaveTypes(t, nil, c)

	lines := ir.ListBody(m.Body)
	assert.Equal(t, "IL_0001: box !!T", lines[1])
	assert.Equal(t, "IL_0009: box !!T", lines[9])
}

func TestGenericByRefParameterUsesLdobj(t *testing.T) {
	c := testutil.Class("Samples", "Slot")
	gp := &ir.GenericParam{Name: "T"}
	m := testutil.Method("Swap", ir.Void(), testutil.Param("slot", ir.ByRef(ir.GenericUse(gp))), testutil.OutParam("old", ir.GenericUse(gp)))
	m.GenericParams = []*ir.GenericParam{gp}
	m.Body = testutil.Body(
		testutil.I(ir.OpLdarg, 2),
		testutil.I(ir.OpLdarg, 1),
		testutil.I(ir.OpLdobj, ir.GenericUse(gp)),
		testutil.I(ir.OpStindRef),
		testutil.I(ir.OpRet),
	)
	c.Methods = []*ir.MethodDef{m}
	_, r := weaveTypes(t, nil, c)

	require.Equal(t, 1, r.Count(GuardArgument))
	require.Equal(t, 1, r.Count(GuardOut))
	lines := ir.ListBody(m.Body)
	assert.Equal(t, []string{`IL_0000: ldarg 1`, `IL_0001: ldobj !!T`, `IL_0002: box !!T`}, lines[:3])
	assert.Equal(t, []string{`IL_000c: ldarg 2`, `IL_000d: ldobj !!T`, `IL_000e: box !!T`}, lines[12:15])
	for _, in := range m.Body.Instructions {
		assert.NotEqual(t, ir.OpLdindRef, in.OpCode, "ldind.ref is not valid on a T&")
	}
}

func TestDebugAssertions(t *testing.T) {
	c, m := echoWidget()
	p := config.DefaultPolicy()
	p.DefineConstants = []string{"TRACE", "DEBUG"}
	weaveTypes(t, p, c)

	lines := ir.ListBody(m.Body)
	want := []string{
		`IL_0000: ldarg 1`,
		`IL_0001: ldnull`,
		`IL_0002: cgt.un`,
		`IL_0003: ldstr "[NullGuard] value is null."`,
		`IL_0004: call void System.Diagnostics.Debug::Assert(System.Boolean,System.String)`,
		`IL_0005: ldarg 1`,
		`IL_0006: brtrue IL_000b`,
	}
	assert.Equal(t, want, lines[:7])
	assert.Contains(t, lines, `IL_000c: dup`)
	assert.Contains(t, lines, `IL_000d: ldnull`)
}

func TestDebugAssertionsRequireDebugSymbol(t *testing.T) {
	c, m := echoWidget()
	p := config.DefaultPolicy()
	p.DefineConstants = []string{"TRACE"}
	weaveTypes(t, p, c)
	for _, in := range m.Body.Instructions {
		assert.NotEqual(t, ir.OpCgtUn, in.OpCode)
	}
}

func TestVisibilityGate(t *testing.T) {
	greeter := testutil.Interface("Samples", "IGreeter")
	greeter.Methods = []*ir.MethodDef{testutil.Abstract(testutil.Method("Greet", ir.Void(), testutil.Param("name", ir.String())))}

	build := func(typeVis, methodVis ir.Visibility, implements bool) (*ir.TypeDef, *ir.MethodDef) {
		c := testutil.Class("Samples", "Impl")
		c.Visibility = typeVis
		if implements {
			c.Interfaces = []*ir.TypeRef{greeter.Ref()}
		}
		m := testutil.Method("Greet", ir.Void(), testutil.Param("name", ir.String()))
		m.Visibility = methodVis
		m.IsVirtual = implements
		m.Body = testutil.Empty()
		c.Methods = []*ir.MethodDef{m}
		return c, m
	}

	tests := []struct {
		name       string
		typeVis    ir.Visibility
		methodVis  ir.Visibility
		implements bool
		flags      config.ValidationFlags
		want       int
	}{
		{"public method in public type", ir.Public, ir.Public, false, config.AllPublic, 1},
		{"private method", ir.Public, ir.Private, false, config.AllPublic, 0},
		{"protected method", ir.Public, ir.Protected, false, config.AllPublic, 0},
		{"public method in internal type", ir.Internal, ir.Public, false, config.AllPublic, 0},
		{"internal type implementing public interface", ir.Internal, ir.Public, true, config.AllPublic, 1},
		{"private method with non-public flag", ir.Public, ir.Private, false, config.All, 1},
		{"arguments disabled", ir.Public, ir.Public, false, config.ReturnValues, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := build(tt.typeVis, tt.methodVis, tt.implements)
			iface := *greeter
			_, r := weaveTypes(t, policyWith(tt.flags), &iface, c)
			assert.Equal(t, tt.want, r.Count(GuardArgument))
		})
	}
}

func TestFlagResolution(t *testing.T) {
	flagsAttr := func(v any) ir.CustomAttribute { return testutil.Attr(nullability.NullGuardAttribute, v) }

	t.Run("type attribute overrides policy", func(t *testing.T) {
		c, _ := echoWidget()
		c.Attributes = []ir.CustomAttribute{flagsAttr(int64(config.ReturnValues))}
		_, r := weaveTypes(t, nil, c)
		assert.Zero(t, r.Count(GuardArgument))
		assert.Equal(t, 1, r.Count(GuardReturn))
	})

	t.Run("assembly attribute overrides policy", func(t *testing.T) {
		c, _ := echoWidget()
		asm := testutil.Link(c)
		asm.Attributes = []ir.CustomAttribute{flagsAttr("Arguments")}
		r, err := newTestWeaver(nil).Weave(context.Background(), nil, asm)
		require.NoError(t, err)
		assert.Equal(t, 1, r.Count(GuardArgument))
		assert.Zero(t, r.Count(GuardReturn))
		assert.Empty(t, asm.Attributes, "weaver attributes are removed")
	})

	t.Run("nested type inherits enclosing flags", func(t *testing.T) {
		outer := testutil.Class("Samples", "Outer")
		outer.Attributes = []ir.CustomAttribute{flagsAttr(int64(config.None))}
		inner, _ := echoWidget()
		outer.NestedTypes = []*ir.TypeDef{inner}
		_, r := weaveTypes(t, nil, outer)
		assert.Empty(t, r.Injections)
	})

	t.Run("invalid flags are a declaration error", func(t *testing.T) {
		c, _ := echoWidget()
		c.Attributes = []ir.CustomAttribute{flagsAttr("Sometimes")}
		_, r := weaveTypes(t, nil, c)
		assert.True(t, r.HasErrors())
		assert.Equal(t, 2, len(r.Injections), "falls back to the policy flags")
	})
}

func TestSkippedTypes(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *ir.TypeDef)
		policy func(p *config.Policy)
	}{
		{"compiler generated", func(c *ir.TypeDef) {
			c.Attributes = []ir.CustomAttribute{testutil.Attr(nullability.CompilerGeneratedAttribute)}
		}, nil},
		{"do not guard", func(c *ir.TypeDef) {
			c.Attributes = []ir.CustomAttribute{testutil.Attr(nullability.DoNotGuardAttribute)}
		}, nil},
		{"exclude pattern", nil, func(p *config.Policy) {
			p.ExcludeNamePattern = `^Samples\.Wid`
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, m := echoWidget()
			if tt.mutate != nil {
				tt.mutate(c)
			}
			p := config.DefaultPolicy()
			if tt.policy != nil {
				tt.policy(p)
				require.NoError(t, p.Validate())
			}
			_, r := weaveTypes(t, p, c)
			assert.Empty(t, r.Injections)
			assert.Len(t, m.Body.Instructions, 2)
		})
	}
}

func TestCleanup(t *testing.T) {
	c, m := echoWidget()
	c.Attributes = []ir.CustomAttribute{testutil.Attr(nullability.NullGuardAttribute, int64(config.AllPublic)), testutil.Attr("Samples.KeepAttribute")}
	m.Params[0].Attributes = []ir.CustomAttribute{testutil.Attr(nullability.NullGuardAllowNull)}
	asm := testutil.Link(c)
	asm.References = []string{"System.Runtime", "NullGuard"}

	r, err := newTestWeaver(nil).Weave(context.Background(), nil, asm)
	require.NoError(t, err)

	assert.Equal(t, []ir.CustomAttribute{testutil.Attr("Samples.KeepAttribute")}, c.Attributes)
	assert.Empty(t, m.Params[0].Attributes)
	assert.Equal(t, []string{"System.Runtime"}, asm.References)
	assert.Empty(t, r.Diagnostics)
}

func TestCleanupWithoutReference(t *testing.T) {
	c, _ := echoWidget()
	_, r := weaveTypes(t, nil, c)

	require.Len(t, r.Diagnostics, 1)
	d := r.Diagnostics[0]
	assert.Equal(t, SeverityInfo, d.Severity)
	assert.Equal(t, "No reference to 'NullGuard' found to remove.", d.Message)
	assert.Equal(t, int64(3), d.Seq)
}

func TestBadDeclarationsReported(t *testing.T) {
	c := testutil.Class("Samples", "Base")
	c.IsAbstract = true
	m := testutil.Abstract(testutil.Method("Run", ir.Void(), testutil.Param("name", ir.String(), testutil.Attr(nullability.NullGuardAllowNull))))
	c.Methods = []*ir.MethodDef{m}

	var sunk []Diagnostic
	asm := testutil.Link(c)
	w := newTestWeaver(nil, WithDiagnosticSink(func(d Diagnostic) { sunk = append(sunk, d) }))
	r, err := w.Weave(context.Background(), nil, asm)
	require.NoError(t, err, "declaration errors are reported, not returned")

	assert.True(t, r.HasErrors())
	assert.Equal(t, r.Diagnostics, sunk)
	assert.Equal(t, SeverityError, r.Diagnostics[0].Severity)
	assert.Equal(t,
		"Method 'void Samples.Base::Run(System.String)' is abstract but has a [AllowNullAttribute] on the parameter 'name'. Remove this attribute.",
		r.Diagnostics[0].Message)
}

func TestAsyncResultGuard(t *testing.T) {
	c := testutil.Class("Samples", "Service")
	stub, sm := testutil.AsyncMethod(c, "Load", ir.String(), []*ir.ParamDef{testutil.Param("key", ir.String())}, keyField)
	_, r := weaveTypes(t, nil, c)

	assert.Equal(t, 1, r.Count(GuardArgument), "the stub's parameters are guarded")
	assert.Zero(t, r.Count(GuardReturn), "the task itself is never null-checked")
	require.Equal(t, 1, r.Count(GuardAsyncResult))

	moveNext := sm.FindMethod("MoveNext")
	var setResult int
	for i, in := range moveNext.Body.Instructions {
		if ref := in.Method(); ref != nil && ref.Name == "SetResult" {
			setResult = i
		}
	}
	block := moveNext.Body.Instructions[setResult-7 : setResult]
	ops := make([]ir.OpCode, len(block))
	for i, in := range block {
		ops[i] = in.OpCode
	}
	assert.Equal(t, []ir.OpCode{ir.OpDup, ir.OpBrtrue, ir.OpPop, ir.OpLdstr, ir.OpNewobj, ir.OpCall, ir.OpRet}, ops)
	assert.Equal(t, "SetException", block[5].Method().Name)
	assert.Same(t, moveNext.Body.Instructions[setResult], block[1].Target())
	assert.Equal(t, ir.MethodKey(stub), r.Injections[len(r.Injections)-1].Member)
}

func TestAsyncAllowNullSkipsResult(t *testing.T) {
	c := testutil.Class("Samples", "Service")
	stub, _ := testutil.AsyncMethod(c, "Find", ir.String(), nil, nullResult)
	stub.ReturnAttributes = []ir.CustomAttribute{testutil.Attr(nullability.NullGuardAllowNull)}
	_, r := weaveTypes(t, nil, c)
	assert.Zero(t, r.Count(GuardAsyncResult))
}

func TestAsyncWithoutSetExceptionWarns(t *testing.T) {
	c := testutil.Class("Samples", "Service")
	stub, _ := testutil.AsyncMethodWithoutCatch(c, "Load", ir.String(), nil, nullResult)
	_, r := weaveTypes(t, nil, c)

	assert.Zero(t, r.Count(GuardAsyncResult))
	require.NotEmpty(t, r.Diagnostics)
	d := r.Diagnostics[0]
	assert.Equal(t, SeverityWarning, d.Severity)
	assert.Equal(t, stub.FullName(), d.Member)
	assert.Contains(t, d.Message, "has no SetException call")
	assert.False(t, r.HasErrors())
}

func TestMissingStateMachineFailsWeave(t *testing.T) {
	c := testutil.Class("Samples", "Service")
	m := testutil.Method("Load", ir.TaskOf(ir.String()))
	m.Attributes = []ir.CustomAttribute{testutil.Attr(nullability.AsyncStateMachineAttribute, "Samples.Service/<Load>d__9")}
	m.Body = testutil.Body(testutil.I(ir.OpLdnull), testutil.I(ir.OpRet))
	c.Methods = []*ir.MethodDef{m}
	asm := testutil.Link(c)

	_, err := newTestWeaver(nil).Weave(context.Background(), nil, asm)
	require.Error(t, err)
	assert.True(t, IsWeaveError(err))
	assert.ErrorIs(t, err, ErrStateMachineNotFound)
	var we *WeaveError
	require.True(t, errors.As(err, &we))
	assert.Equal(t, m.FullName(), we.Member)
	assert.Contains(t, err.Error(), "An error occurred processing '"+m.FullName()+"'. Error: ")
}

func TestPropertyGuards(t *testing.T) {
	c := testutil.Class("Samples", "Person")
	p := testutil.AutoProperty(c, "Name", ir.String())
	_, r := weaveTypes(t, nil, c)

	key := "P:Samples.Person.Name"
	inj := r.For(key)
	require.Len(t, inj, 2)
	assert.Equal(t, GuardGetter, inj[0].Kind)
	assert.Equal(t, GuardSetter, inj[1].Kind)
	assert.Equal(t, "value", inj[1].Target)
	assert.Zero(t, r.Count(GuardArgument), "setter value is guarded once, as a property")
	assert.Zero(t, r.Count(GuardReturn), "getter return is guarded once, as a property")

	assert.Equal(t,
		`IL_0003: ldstr "[NullGuard] Cannot set the value of property 'Samples.Person::Name' to null."`,
		ir.ListBody(p.Setter.Body)[3])
	assert.Equal(t,
		`IL_0004: ldstr "[NullGuard] Return value of property 'Samples.Person::Name' is null."`,
		ir.ListBody(p.Getter.Body)[4])
}

func TestPropertyAccessorsDecideIndependently(t *testing.T) {
	c := testutil.Class("Samples", "Person")
	p := testutil.AutoProperty(c, "Nick", ir.String())
	p.Setter.Params[0].Attributes = []ir.CustomAttribute{testutil.Attr(nullability.NullGuardAllowNull)}
	_, r := weaveTypes(t, nil, c)

	inj := r.For("P:Samples.Person.Nick")
	require.Len(t, inj, 1)
	assert.Equal(t, GuardGetter, inj[0].Kind)
}

func TestPropertySkips(t *testing.T) {
	tests := []struct {
		name  string
		build func(c *ir.TypeDef)
		flags config.ValidationFlags
	}{
		{"allow null on property", func(c *ir.TypeDef) {
			testutil.AutoProperty(c, "Name", ir.String(), testutil.Attr(nullability.NullGuardAllowNull))
		}, config.AllPublic},
		{"value type", func(c *ir.TypeDef) {
			testutil.AutoProperty(c, "Age", ir.Int32())
		}, config.AllPublic},
		{"properties disabled", func(c *ir.TypeDef) {
			testutil.AutoProperty(c, "Name", ir.String())
		}, config.Arguments | config.ReturnValues},
		{"private accessors", func(c *ir.TypeDef) {
			p := testutil.AutoProperty(c, "Name", ir.String())
			p.Getter.Visibility = ir.Private
			p.Setter.Visibility = ir.Private
		}, config.AllPublic},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testutil.Class("Samples", "Person")
			tt.build(c)
			_, r := weaveTypes(t, policyWith(tt.flags), c)
			assert.Zero(t, r.Count(GuardGetter))
			assert.Zero(t, r.Count(GuardSetter))
		})
	}
}

func TestDeterministicReports(t *testing.T) {
	run := func() *Report {
		c, _ := echoWidget()
		testutil.AutoProperty(c, "Label", ir.String())
		_, r := weaveTypes(t, nil, c)
		return r
	}
	assert.Equal(t, run(), run())
}

func TestSessionsAreIsolated(t *testing.T) {
	w := New(nil)
	c1, _ := echoWidget()
	c2 := testutil.Class("Samples", "Other")
	r1, err := w.Weave(context.Background(), nil, testutil.LinkNamed("One", c1))
	require.NoError(t, err)
	r2, err := w.Weave(context.Background(), nil, testutil.LinkNamed("Two", c2))
	require.NoError(t, err)

	assert.NotEqual(t, r1.SessionID, r2.SessionID)
	assert.Len(t, r1.Injections, 2)
	assert.Empty(t, r2.Injections)
	require.Len(t, r2.Diagnostics, 1)
	assert.Equal(t, int64(1), r2.Diagnostics[0].Seq, "each session starts its own clock")
}

func TestSharedClockSpansSessions(t *testing.T) {
	clock := NewClock()
	w := New(nil, WithClock(clock))
	c1, _ := echoWidget()
	_, err := w.Weave(context.Background(), nil, testutil.LinkNamed("One", c1))
	require.NoError(t, err)
	assert.Equal(t, int64(3), clock.Current())
}

func TestWeaveHonoursCancellation(t *testing.T) {
	c, m := echoWidget()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestWeaver(nil).Weave(ctx, nil, testutil.Link(c))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, m.Body.Instructions, 2)
}

func TestGuardMemberRecoversPanics(t *testing.T) {
	err := guardMember("void A::B()", func() error { panic("boom") })
	require.Error(t, err)
	assert.True(t, IsWeaveError(err))
	assert.Equal(t, "An error occurred processing 'void A::B()'. Error: panic: boom", err.Error())

	assert.NoError(t, guardMember("void A::B()", func() error { return nil }))
}

func TestExplicitModeFromMarkers(t *testing.T) {
	c := testutil.Class("Samples", "Widget")
	marked := testutil.Method("Marked", ir.Void(), testutil.Param("a", ir.String(), testutil.Attr("JetBrains.Annotations.NotNullAttribute")))
	marked.Body = testutil.Empty()
	plain := testutil.Method("Plain", ir.Void(), testutil.Param("b", ir.String()))
	plain.Body = testutil.Empty()
	c.Methods = []*ir.MethodDef{marked, plain}
	_, r := weaveTypes(t, nil, c)

	assert.Equal(t, config.ModeExplicit, r.Mode)
	assert.Len(t, r.For(ir.MethodKey(marked)), 1)
	assert.Empty(t, r.For(ir.MethodKey(plain)))
}

func keyField(field func(string) *ir.FieldRef) []*ir.Instruction {
	return []*ir.Instruction{
		testutil.I(ir.OpLdarg, 0),
		testutil.I(ir.OpLdfld, field("key")),
	}
}

func nullResult(func(string) *ir.FieldRef) []*ir.Instruction {
	return []*ir.Instruction{testutil.I(ir.OpLdnull)}
}
