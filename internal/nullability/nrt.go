package nullability

import (
	"github.com/roach88/nullguard/internal/config"
	"github.com/roach88/nullguard/internal/ir"
)

// nrtAnalyzer reads compiler-emitted nullable metadata.
//
// A NullableAttribute carries one flag byte, which applies to every type in
// the signature, or a byte array in pre-order: each reference type or
// generic parameter consumes one byte, value types consume none but their
// type arguments are still visited. Missing metadata falls back to the
// NullableContextAttribute of the method, then of the enclosing types, then
// to oblivious.
type nrtAnalyzer struct{}

func newNRT() *nrtAnalyzer { return &nrtAnalyzer{} }

func (a *nrtAnalyzer) Mode() config.Mode { return config.ModeNullableReferenceTypes }

func (a *nrtAnalyzer) AllowsNull(p *ir.PropertyDef) bool {
	if p.Getter != nil && !a.AllowsGetterToReturnNull(p, p.Getter) {
		return false
	}
	if p.Setter != nil && !a.AllowsSetterToAcceptNull(p, p.Setter, setterValue(p.Setter)) {
		return false
	}
	if p.Getter == nil && p.Setter == nil {
		return a.propertyFlag(p).AllowsNull()
	}
	return true
}

func (a *nrtAnalyzer) AllowsNullInput(p *ir.ParamDef, m *ir.MethodDef) bool {
	switch {
	case Has(p.Attributes, AllowNull):
		return true
	case Has(p.Attributes, DisallowNull):
		return false
	}
	return a.useFlag(p.Attributes, p.Type, 0, m, m.DeclaringType).AllowsNull()
}

func (a *nrtAnalyzer) AllowsNullOutput(p *ir.ParamDef, m *ir.MethodDef) bool {
	switch {
	case Has(p.Attributes, MaybeNull):
		return true
	case Has(p.Attributes, NotNull):
		return false
	}
	return a.useFlag(p.Attributes, p.Type, 0, m, m.DeclaringType).AllowsNull()
}

func (a *nrtAnalyzer) AllowsNullReturnValue(m *ir.MethodDef) bool {
	switch {
	case Has(m.ReturnAttributes, MaybeNull):
		return true
	case Has(m.ReturnAttributes, NotNull):
		return false
	}
	return a.useFlag(m.ReturnAttributes, m.ReturnType, 0, m, m.DeclaringType).AllowsNull()
}

// AllowsNullAsyncResult reads the flag of the Task<T> argument. The task
// itself consumes the first byte; a value-type awaitable consumes none.
func (a *nrtAnalyzer) AllowsNullAsyncResult(m *ir.MethodDef, result *ir.TypeRef) bool {
	position := 1
	if m.ReturnType.ElementType().IsValueType() {
		position = 0
	}
	return a.useFlag(m.ReturnAttributes, result, position, m, m.DeclaringType).AllowsNull()
}

func (a *nrtAnalyzer) AllowsGetterToReturnNull(p *ir.PropertyDef, getter *ir.MethodDef) bool {
	switch {
	case Has(p.Attributes, MaybeNull) || (getter != nil && Has(getter.ReturnAttributes, MaybeNull)):
		return true
	case Has(p.Attributes, NotNull) || (getter != nil && Has(getter.ReturnAttributes, NotNull)):
		return false
	}
	return a.propertyFlag(p).AllowsNull()
}

func (a *nrtAnalyzer) AllowsSetterToAcceptNull(p *ir.PropertyDef, setter *ir.MethodDef, value *ir.ParamDef) bool {
	var valueAttrs []ir.CustomAttribute
	if value != nil {
		valueAttrs = value.Attributes
	}
	switch {
	case Has(p.Attributes, AllowNull) || Has(valueAttrs, AllowNull):
		return true
	case Has(p.Attributes, DisallowNull) || Has(valueAttrs, DisallowNull):
		return false
	}
	return a.propertyFlag(p).AllowsNull()
}

// CheckForBadDeclarations finds nothing: the compiler validates nullable
// metadata.
func (a *nrtAnalyzer) CheckForBadDeclarations(types []*ir.TypeDef) []Diagnostic {
	return nil
}

func (a *nrtAnalyzer) propertyFlag(p *ir.PropertyDef) NullableFlag {
	m := p.Getter
	if m == nil {
		m = p.Setter
	}
	return a.useFlag(p.Attributes, p.Type, 0, m, p.DeclaringType)
}

// useFlag resolves the flag of the type at position in the pre-order walk
// of a signature type. By-ref and modifier wrappers consume no byte.
func (a *nrtAnalyzer) useFlag(attrs []ir.CustomAttribute, t *ir.TypeRef, position int, m *ir.MethodDef, declaring *ir.TypeDef) NullableFlag {
	ctx := contextFlag(m, declaring)
	flag := ctx
	if flags, ok := nullableFlags(attrs); ok {
		switch {
		case len(flags) == 1:
			flag = flags[0]
		case position < len(flags):
			flag = flags[position]
		default:
			flag = Oblivious
		}
	}
	use := t.ElementType()
	if position > 0 && t != nil {
		use = t
	}
	if flag == NotAnnotated && use.IsGenericParameter() && use.Generic != nil {
		return genericParamFlag(use.Generic, ctx)
	}
	return flag
}

// genericParamFlag reads a generic parameter declaration's own flag. A
// class-constrained parameter is NotAnnotated; an unconstrained one without
// its own flag takes the surrounding context flag ctx.
func genericParamFlag(gp *ir.GenericParam, ctx NullableFlag) NullableFlag {
	if flags, ok := nullableFlags(gp.Attributes); ok && len(flags) > 0 {
		return flags[0]
	}
	if gp.HasReferenceTypeConstraint {
		return NotAnnotated
	}
	return ctx
}

// contextFlag walks method then enclosing types for NullableContextAttribute.
func contextFlag(m *ir.MethodDef, declaring *ir.TypeDef) NullableFlag {
	if m != nil {
		if flags, ok := attributeFlags(m.Attributes, NullableContextAttribute); ok && len(flags) > 0 {
			return flags[0]
		}
		if declaring == nil {
			declaring = m.DeclaringType
		}
	}
	for t := declaring; t != nil; t = t.DeclaringType {
		if flags, ok := attributeFlags(t.Attributes, NullableContextAttribute); ok && len(flags) > 0 {
			return flags[0]
		}
	}
	return Oblivious
}

func nullableFlags(attrs []ir.CustomAttribute) ([]NullableFlag, bool) {
	return attributeFlags(attrs, NullableAttribute)
}

// attributeFlags decodes the byte or byte-array argument of the attribute
// named fullName.
func attributeFlags(attrs []ir.CustomAttribute, fullName string) ([]NullableFlag, bool) {
	a, ok := Find(attrs, fullName)
	if !ok || len(a.Args) == 0 {
		return nil, false
	}
	var out []NullableFlag
	switch v := a.Args[0].(type) {
	case int64:
		out = append(out, NullableFlag(v))
	case int:
		out = append(out, NullableFlag(v))
	case []int64:
		for _, b := range v {
			out = append(out, NullableFlag(b))
		}
	case []any:
		for _, b := range v {
			switch n := b.(type) {
			case int64:
				out = append(out, NullableFlag(n))
			case int:
				out = append(out, NullableFlag(n))
			}
		}
	default:
		return nil, false
	}
	return out, true
}
