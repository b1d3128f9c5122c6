package nullability

import (
	"fmt"

	"github.com/roach88/nullguard/internal/config"
	"github.com/roach88/nullguard/internal/ir"
)

// implicitAnalyzer rejects null unless an allow marker says otherwise.
type implicitAnalyzer struct{}

func newImplicit() *implicitAnalyzer { return &implicitAnalyzer{} }

func (a *implicitAnalyzer) Mode() config.Mode { return config.ModeImplicit }

func (a *implicitAnalyzer) AllowsNull(p *ir.PropertyDef) bool {
	return HasAllowMarker(p.Attributes)
}

func (a *implicitAnalyzer) AllowsNullInput(p *ir.ParamDef, m *ir.MethodDef) bool {
	if p.IsOptional && p.HasDefault && p.DefaultIsNull {
		return true
	}
	return HasAllowMarker(p.Attributes)
}

// AllowsNullOutput only checks out parameters. Plain ref parameters were
// never checked on output in this mode and existing callers rely on that.
func (a *implicitAnalyzer) AllowsNullOutput(p *ir.ParamDef, m *ir.MethodDef) bool {
	if !p.IsOut {
		return true
	}
	return HasAllowMarker(p.Attributes)
}

func (a *implicitAnalyzer) AllowsNullReturnValue(m *ir.MethodDef) bool {
	return HasAllowMarker(m.Attributes) || HasAllowMarker(m.ReturnAttributes)
}

func (a *implicitAnalyzer) AllowsNullAsyncResult(m *ir.MethodDef, result *ir.TypeRef) bool {
	return a.AllowsNullReturnValue(m)
}

func (a *implicitAnalyzer) AllowsGetterToReturnNull(p *ir.PropertyDef, getter *ir.MethodDef) bool {
	return a.AllowsNull(p) || a.AllowsNullReturnValue(getter)
}

func (a *implicitAnalyzer) AllowsSetterToAcceptNull(p *ir.PropertyDef, setter *ir.MethodDef, value *ir.ParamDef) bool {
	if a.AllowsNull(p) || HasAllowMarker(setter.Attributes) {
		return true
	}
	return value != nil && HasAllowMarker(value.Attributes)
}

// CheckForBadDeclarations flags allow markers on abstract methods, which
// have no body to guard and so cannot honor them.
func (a *implicitAnalyzer) CheckForBadDeclarations(types []*ir.TypeDef) []Diagnostic {
	var out []Diagnostic
	for _, t := range types {
		for _, m := range t.Methods {
			if !m.IsAbstract {
				continue
			}
			if HasAllowMarker(m.Attributes) || HasAllowMarker(m.ReturnAttributes) {
				out = append(out, Diagnostic{
					Member:  m.FullName(),
					Message: fmt.Sprintf("Method '%s' is abstract but has a [AllowNullAttribute]. Remove this attribute.", m.FullName()),
				})
			}
			for _, p := range m.Params {
				if HasAllowMarker(p.Attributes) {
					out = append(out, Diagnostic{
						Member:  m.FullName(),
						Message: fmt.Sprintf("Method '%s' is abstract but has a [AllowNullAttribute] on the parameter '%s'. Remove this attribute.", m.FullName(), p.Name),
					})
				}
			}
		}
	}
	return out
}
