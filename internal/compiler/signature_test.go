package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/nullguard/internal/ir"
)

func TestParseType(t *testing.T) {
	sc := &scope{valueTypes: map[string]bool{"Samples.Point": true}}
	tests := []struct {
		src   string
		want  string
		value bool
	}{
		{"string", "System.String", false},
		{"void", "void", false},
		{"int", "System.Int32", true},
		{"System.Int32", "System.Int32", true},
		{"int[]", "System.Int32[]", false},
		{"string&", "System.String&", false},
		{"Samples.Point", "Samples.Point", true},
		{"valuetype Samples.Other", "Samples.Other", true},
		{"class Samples.Point", "Samples.Point", false},
		{"System.Nullable<int>", "System.Nullable`1<System.Int32>", true},
		{"System.Threading.Tasks.Task`1<string>", "System.Threading.Tasks.Task`1<System.String>", false},
		{
			"System.Collections.Generic.Dictionary<string, System.Collections.Generic.List<int>>",
			"System.Collections.Generic.Dictionary`2<System.String,System.Collections.Generic.List`1<System.Int32>>",
			false,
		},
		{"Samples.Service/<Load>d__0", "Samples.Service/<Load>d__0", false},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			got, err := parseType(tt.src, sc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
			assert.Equal(t, tt.value, got.IsValueType())
		})
	}
}

func TestParseTypeGenericParameters(t *testing.T) {
	typeParam := &ir.GenericParam{Name: "T"}
	methodParam := &ir.GenericParam{Name: "T", Owner: ir.OwnerMethod}
	sc := &scope{typeParams: []*ir.GenericParam{typeParam}, methodParams: []*ir.GenericParam{methodParam}}

	got, err := parseType("!T", sc)
	require.NoError(t, err)
	assert.Same(t, typeParam, got.Generic)

	got, err = parseType("!!T[]", sc)
	require.NoError(t, err)
	assert.Same(t, methodParam, got.Element.Generic)
	assert.Equal(t, "!!T[]", got.String())
}

func TestParseTypeErrors(t *testing.T) {
	for _, src := range []string{"", "System.Nullable<int", "!!T", "!T", "string extra", "System.List<>"} {
		t.Run(src, func(t *testing.T) {
			_, err := parseType(src, nil)
			assert.Error(t, err)
		})
	}
}

func TestParseMethodRef(t *testing.T) {
	ref, err := parseMethodRef("instance void System.ArgumentNullException::.ctor(string)", nil)
	require.NoError(t, err)
	assert.Equal(t, ir.ArgumentNullExceptionCtor(), ref)

	ref, err = parseMethodRef("void System.Diagnostics.Debug::Assert(bool, string)", nil)
	require.NoError(t, err)
	assert.Equal(t, ir.DebugAssert(), ref)

	ref, err = parseMethodRef("instance string Samples.Widget::get_Name()", nil)
	require.NoError(t, err)
	assert.Equal(t, "System.String Samples.Widget::get_Name()", ref.FullName())
	assert.Empty(t, ref.Params)

	for _, src := range []string{
		"void Samples.Widget::Run(",
		"void Samples.Widget.Run()",
		"void Samples.Widget::Run() trailing",
		"void ::Run()",
	} {
		_, err := parseMethodRef(src, nil)
		assert.Error(t, err, src)
	}
}

func TestParseFieldRef(t *testing.T) {
	ref, err := parseFieldRef("System.Runtime.CompilerServices.AsyncTaskMethodBuilder<string> Samples.Service/<Load>d__0::<>t__builder", nil)
	require.NoError(t, err)
	assert.Equal(t, "Samples.Service/<Load>d__0", ref.DeclaringType)
	assert.Equal(t, "<>t__builder", ref.Name)
	assert.True(t, ref.Type.IsValueType())

	_, err = parseFieldRef("string Samples.Widget", nil)
	assert.Error(t, err)
}
