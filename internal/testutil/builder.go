// Package testutil builds symbol graphs and deterministic session helpers
// for tests.
package testutil

import (
	"github.com/roach88/nullguard/internal/ir"
)

// FixtureAssembly is the assembly name Link uses.
const FixtureAssembly = "Fixture"

// Attr builds a custom attribute.
func Attr(typ string, args ...any) ir.CustomAttribute {
	return ir.CustomAttribute{Type: typ, Args: args}
}

// I builds one instruction.
func I(op ir.OpCode, operand ...any) *ir.Instruction {
	if len(operand) == 0 {
		return ir.NewInstruction(op, nil)
	}
	return ir.NewInstruction(op, operand[0])
}

// Body wraps instructions in a body.
func Body(ins ...*ir.Instruction) *ir.Body {
	return &ir.Body{Instructions: ins}
}

// Param builds a parameter.
func Param(name string, t *ir.TypeRef, attrs ...ir.CustomAttribute) *ir.ParamDef {
	return &ir.ParamDef{Name: name, Type: t, Attributes: attrs}
}

// OutParam builds an out parameter of type t&.
func OutParam(name string, t *ir.TypeRef, attrs ...ir.CustomAttribute) *ir.ParamDef {
	return &ir.ParamDef{Name: name, Type: ir.ByRef(t), IsOut: true, Attributes: attrs}
}

// Method builds a public instance method with no body.
func Method(name string, ret *ir.TypeRef, params ...*ir.ParamDef) *ir.MethodDef {
	if ret == nil {
		ret = ir.Void()
	}
	return &ir.MethodDef{Name: name, Visibility: ir.Public, ReturnType: ret, Params: params}
}

// Class builds a public class.
func Class(ns, name string) *ir.TypeDef {
	return &ir.TypeDef{Namespace: ns, Name: name, Visibility: ir.Public, Category: ir.CategoryClass}
}

// Interface builds a public interface.
func Interface(ns, name string) *ir.TypeDef {
	return &ir.TypeDef{Namespace: ns, Name: name, Visibility: ir.Public, Category: ir.CategoryInterface, IsAbstract: true}
}

// Abstract marks m abstract and virtual and drops its body.
func Abstract(m *ir.MethodDef) *ir.MethodDef {
	m.IsAbstract = true
	m.IsVirtual = true
	m.IsNewSlot = true
	m.Body = nil
	return m
}

// Link builds the Fixture assembly over types and links it.
func Link(types ...*ir.TypeDef) *ir.Assembly {
	return LinkNamed(FixtureAssembly, types...)
}

// LinkNamed builds an assembly called name over types and links it.
func LinkNamed(name string, types ...*ir.TypeDef) *ir.Assembly {
	asm := &ir.Assembly{Name: name, Types: types}
	asm.Link()
	return asm
}

// Passthrough returns a body that returns argument slot.
func Passthrough(slot int) *ir.Body {
	return Body(I(ir.OpLdarg, slot), I(ir.OpRet))
}

// Empty returns a body holding only ret.
func Empty() *ir.Body {
	return Body(I(ir.OpRet))
}

// AutoProperty adds a backing field, getter and setter for an instance
// property to t and returns the property.
func AutoProperty(t *ir.TypeDef, name string, typ *ir.TypeRef, attrs ...ir.CustomAttribute) *ir.PropertyDef {
	field := &ir.FieldDef{Name: "<" + name + ">k__BackingField", Type: typ}
	ref := &ir.FieldRef{DeclaringType: t.FullName(), Name: field.Name, Type: typ}

	getter := Method("get_"+name, typ)
	getter.Body = Body(I(ir.OpLdarg, 0), I(ir.OpLdfld, ref), I(ir.OpRet))

	setter := Method("set_"+name, ir.Void(), Param("value", typ))
	setter.Body = Body(I(ir.OpLdarg, 0), I(ir.OpLdarg, 1), I(ir.OpStfld, ref), I(ir.OpRet))

	p := &ir.PropertyDef{Name: name, Type: typ, Getter: getter, Setter: setter, Attributes: attrs}
	t.Fields = append(t.Fields, field)
	t.Methods = append(t.Methods, getter, setter)
	t.Properties = append(t.Properties, p)
	return p
}
