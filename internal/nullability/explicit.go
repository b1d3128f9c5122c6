package nullability

import (
	"fmt"

	"github.com/roach88/nullguard/internal/annotations"
	"github.com/roach88/nullguard/internal/config"
	"github.com/roach88/nullguard/internal/ir"
)

// methodVerdicts holds the resolved verdict of every axis of one method.
type methodVerdicts struct {
	Return Verdict
	Item   Verdict
	Params []Verdict
}

func (v *methodVerdicts) param(i int) Verdict {
	if v == nil || i < 0 || i >= len(v.Params) {
		return Undefined
	}
	return v.Params[i]
}

// explicitAnalyzer accepts null unless a NotNull marker applies, directly,
// through external annotations, or inherited from an overridden or
// implemented member.
type explicitAnalyzer struct {
	universe    *ir.Universe
	annotations *annotations.Cache

	methods    map[string]*methodVerdicts
	properties map[string]Verdict
	resolving  map[string]bool
}

func newExplicit(opts Options) *explicitAnalyzer {
	return &explicitAnalyzer{
		universe:    opts.Universe,
		annotations: opts.Annotations,
		methods:     map[string]*methodVerdicts{},
		properties:  map[string]Verdict{},
		resolving:   map[string]bool{},
	}
}

func (a *explicitAnalyzer) Mode() config.Mode { return config.ModeExplicit }

func (a *explicitAnalyzer) AllowsNull(p *ir.PropertyDef) bool {
	return a.property(p).AllowsNull()
}

func (a *explicitAnalyzer) AllowsNullInput(p *ir.ParamDef, m *ir.MethodDef) bool {
	return a.method(m).param(p.Index).AllowsNull()
}

func (a *explicitAnalyzer) AllowsNullOutput(p *ir.ParamDef, m *ir.MethodDef) bool {
	return a.method(m).param(p.Index).AllowsNull()
}

func (a *explicitAnalyzer) AllowsNullReturnValue(m *ir.MethodDef) bool {
	return a.method(m).Return.AllowsNull()
}

func (a *explicitAnalyzer) AllowsNullAsyncResult(m *ir.MethodDef, result *ir.TypeRef) bool {
	return a.method(m).Item.AllowsNull()
}

func (a *explicitAnalyzer) AllowsGetterToReturnNull(p *ir.PropertyDef, getter *ir.MethodDef) bool {
	return a.method(getter).Return.or(a.property(p)).AllowsNull()
}

func (a *explicitAnalyzer) AllowsSetterToAcceptNull(p *ir.PropertyDef, setter *ir.MethodDef, value *ir.ParamDef) bool {
	v := Undefined
	if value != nil {
		v = a.method(setter).param(value.Index)
	}
	return v.or(a.property(p)).AllowsNull()
}

// CheckForBadDeclarations flags symbols that carry both NotNull and
// CanBeNull, or both ItemNotNull and ItemCanBeNull.
func (a *explicitAnalyzer) CheckForBadDeclarations(types []*ir.TypeDef) []Diagnostic {
	var out []Diagnostic
	report := func(member, msg string) {
		out = append(out, Diagnostic{Member: member, Message: msg})
	}
	for _, t := range types {
		for _, m := range t.Methods {
			attrs := append(append([]ir.CustomAttribute(nil), m.Attributes...), m.ReturnAttributes...)
			if contradicts(attrs) {
				report(m.FullName(), fmt.Sprintf("Method '%s' has both [NotNullAttribute] and [CanBeNullAttribute]. Remove one of them.", m.FullName()))
			}
			if Has(m.Attributes, ItemNotNull) && Has(m.Attributes, ItemCanBeNull) {
				report(m.FullName(), fmt.Sprintf("Method '%s' has both [ItemNotNullAttribute] and [ItemCanBeNullAttribute]. Remove one of them.", m.FullName()))
			}
			for _, p := range m.Params {
				if contradicts(p.Attributes) {
					report(m.FullName(), fmt.Sprintf("Method '%s' has both [NotNullAttribute] and [CanBeNullAttribute] on the parameter '%s'. Remove one of them.", m.FullName(), p.Name))
				}
			}
		}
		for _, p := range t.Properties {
			if contradicts(p.Attributes) {
				report(p.FullName(), fmt.Sprintf("Property '%s' has both [NotNullAttribute] and [CanBeNullAttribute]. Remove one of them.", p.FullName()))
			}
		}
	}
	return out
}

func contradicts(attrs []ir.CustomAttribute) bool {
	return Has(attrs, NotNull) && HasAllowMarker(attrs)
}

// markerVerdict reads NotNull / CanBeNull markers. CanBeNull wins.
func markerVerdict(attrs []ir.CustomAttribute) Verdict {
	switch {
	case HasAllowMarker(attrs):
		return CanBeNullVerdict
	case Has(attrs, NotNull):
		return NotNullVerdict
	default:
		return Undefined
	}
}

// itemVerdict reads ItemNotNull / ItemCanBeNull markers.
func itemVerdict(attrs []ir.CustomAttribute) Verdict {
	switch {
	case Has(attrs, ItemCanBeNull):
		return CanBeNullVerdict
	case Has(attrs, ItemNotNull):
		return NotNullVerdict
	default:
		return Undefined
	}
}

// inherited merges verdicts of the same axis across several base members:
// any NotNull makes the axis NotNull.
func inherited(vs []Verdict) Verdict {
	out := Undefined
	for _, v := range vs {
		switch v {
		case NotNullVerdict:
			return NotNullVerdict
		case CanBeNullVerdict:
			out = CanBeNullVerdict
		}
	}
	return out
}

func assemblyOf(t *ir.TypeDef) *ir.Assembly {
	for cur := t; cur != nil; cur = cur.DeclaringType {
		if cur.Assembly != nil {
			return cur.Assembly
		}
	}
	return nil
}

func qualify(t *ir.TypeDef, key string) string {
	name := ""
	if asm := assemblyOf(t); asm != nil {
		name = asm.Name
	}
	return ir.QualifiedKey(name, key)
}

func (a *explicitAnalyzer) external(t *ir.TypeDef, key string) *annotations.Entry {
	return a.annotations.For(assemblyOf(t)).Lookup(key)
}

// method resolves and memoizes the verdicts of m.
func (a *explicitAnalyzer) method(m *ir.MethodDef) *methodVerdicts {
	if m == nil {
		return nil
	}
	memberKey := ir.MethodKey(m)
	key := qualify(m.DeclaringType, memberKey)
	if v, ok := a.methods[key]; ok {
		return v
	}
	if a.resolving[key] {
		return &methodVerdicts{Params: make([]Verdict, len(m.Params))}
	}
	a.resolving[key] = true
	defer delete(a.resolving, key)

	v := &methodVerdicts{
		Return: markerVerdict(m.Attributes).or(markerVerdict(m.ReturnAttributes)),
		Item:   itemVerdict(m.Attributes),
		Params: make([]Verdict, len(m.Params)),
	}
	for i, p := range m.Params {
		v.Params[i] = markerVerdict(p.Attributes)
	}

	if e := a.external(m.DeclaringType, memberKey); e != nil {
		v.Return = v.Return.or(markerVerdict(e.Attributes))
		v.Item = v.Item.or(itemVerdict(e.Attributes))
		for i, p := range m.Params {
			v.Params[i] = v.Params[i].or(markerVerdict(e.Params[p.Name]))
		}
	}

	bases := a.universe.BaseMethods(m)
	if len(bases) > 0 {
		var ret, item []Verdict
		params := make([][]Verdict, len(m.Params))
		for _, b := range bases {
			bv := a.method(b)
			ret = append(ret, bv.Return)
			item = append(item, bv.Item)
			for i := range params {
				params[i] = append(params[i], bv.param(i))
			}
		}
		v.Return = v.Return.or(inherited(ret))
		v.Item = v.Item.or(inherited(item))
		for i := range params {
			v.Params[i] = v.Params[i].or(inherited(params[i]))
		}
	}

	a.methods[key] = v
	return v
}

// property resolves and memoizes the verdict of p.
func (a *explicitAnalyzer) property(p *ir.PropertyDef) Verdict {
	memberKey := ir.PropertyKey(p)
	key := qualify(p.DeclaringType, memberKey)
	if v, ok := a.properties[key]; ok {
		return v
	}
	if a.resolving[key] {
		return Undefined
	}
	a.resolving[key] = true
	defer delete(a.resolving, key)

	v := markerVerdict(p.Attributes)
	if e := a.external(p.DeclaringType, memberKey); e != nil {
		v = v.or(markerVerdict(e.Attributes))
	}
	if v == Undefined {
		var bases []Verdict
		for _, bp := range a.baseProperties(p) {
			bases = append(bases, a.property(bp))
		}
		v = inherited(bases)
	}
	a.properties[key] = v
	return v
}

func (a *explicitAnalyzer) baseProperties(p *ir.PropertyDef) []*ir.PropertyDef {
	accessor := p.Getter
	if accessor == nil {
		accessor = p.Setter
	}
	if accessor == nil {
		return nil
	}
	var out []*ir.PropertyDef
	for _, bm := range a.universe.BaseMethods(accessor) {
		if bm.Property != nil {
			out = append(out, bm.Property)
		}
	}
	return out
}
