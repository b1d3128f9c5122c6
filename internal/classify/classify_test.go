package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/nullguard/internal/ir"
)

func TestIsReferenceLikeType(t *testing.T) {
	unconstrained := &ir.GenericParam{Name: "T"}
	structBound := &ir.GenericParam{Name: "TStruct", HasValueTypeConstraint: true}
	classBound := &ir.GenericParam{Name: "TClass", HasReferenceTypeConstraint: true}

	tests := []struct {
		name     string
		typ      *ir.TypeRef
		expected bool
	}{
		{"nil", nil, false},
		{"void", ir.Void(), false},
		{"string", ir.String(), true},
		{"object", ir.Object(), true},
		{"int", ir.Int32(), false},
		{"nullable int", ir.Instance(ir.ValueType(ir.TypeNameNullable), ir.Int32()), false},
		{"task of string", ir.TaskOf(ir.String()), true},
		{"array of int", ir.ArrayOf(ir.Int32()), true},
		{"ref string", ir.ByRef(ir.String()), true},
		{"ref int", ir.ByRef(ir.Int32()), false},
		{"pointer to int", ir.Pointer(ir.Int32()), false},
		{"modreq string", ir.Modified(ir.String(), "System.Runtime.InteropServices.InAttribute"), true},
		{"modreq int", ir.Modified(ir.Int32(), "System.Runtime.InteropServices.InAttribute"), false},
		{"unconstrained generic", ir.GenericUse(unconstrained), true},
		{"struct generic", ir.GenericUse(structBound), false},
		{"ref struct generic", ir.ByRef(ir.GenericUse(structBound)), false},
		{"class generic", ir.GenericUse(classBound), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsReferenceLikeType(tt.typ))
		})
	}
}

func TestRequiresBox(t *testing.T) {
	unconstrained := ir.GenericUse(&ir.GenericParam{Name: "T"})
	classBound := ir.GenericUse(&ir.GenericParam{Name: "T", HasReferenceTypeConstraint: true})

	assert.True(t, RequiresBox(unconstrained))
	assert.True(t, RequiresBox(ir.ByRef(unconstrained)))
	assert.True(t, RequiresBox(classBound))
	assert.False(t, RequiresBox(ir.String()))
	assert.False(t, RequiresBox(nil))
}

func TestUnwrap(t *testing.T) {
	assert.Equal(t, ir.String(), Unwrap(ir.ByRef(ir.String())))
	assert.Nil(t, Unwrap(nil))
}
