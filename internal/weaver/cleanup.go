package weaver

import (
	"slices"

	"github.com/roach88/nullguard/internal/ir"
	"github.com/roach88/nullguard/internal/nullability"
)

// cleanup strips weaver-only attributes from every symbol and drops the
// NullGuard assembly reference.
func (s *Session) cleanup() {
	asm := s.Assembly
	asm.Attributes = stripTransient(asm.Attributes)
	for _, t := range asm.AllTypes() {
		t.Attributes = stripTransient(t.Attributes)
		for _, gp := range t.GenericParams {
			gp.Attributes = stripTransient(gp.Attributes)
		}
		for _, m := range t.Methods {
			m.Attributes = stripTransient(m.Attributes)
			m.ReturnAttributes = stripTransient(m.ReturnAttributes)
			for _, p := range m.Params {
				p.Attributes = stripTransient(p.Attributes)
			}
		}
		for _, p := range t.Properties {
			p.Attributes = stripTransient(p.Attributes)
		}
	}

	i := slices.Index(asm.References, nullability.NullGuardReferenceName)
	if i < 0 {
		s.Diagnostics.Info(asm.Name, "No reference to 'NullGuard' found to remove.")
		return
	}
	asm.References = slices.Delete(asm.References, i, i+1)
	s.logger.Debug("removed reference", "assembly", asm.Name, "reference", nullability.NullGuardReferenceName)
}

func stripTransient(attrs []ir.CustomAttribute) []ir.CustomAttribute {
	if !slices.ContainsFunc(attrs, nullability.IsTransient) {
		return attrs
	}
	return slices.DeleteFunc(slices.Clone(attrs), nullability.IsTransient)
}
