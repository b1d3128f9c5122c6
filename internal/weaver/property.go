package weaver

import (
	"fmt"

	"github.com/roach88/nullguard/internal/classify"
	"github.com/roach88/nullguard/internal/config"
	"github.com/roach88/nullguard/internal/iledit"
	"github.com/roach88/nullguard/internal/ir"
)

// processProperty guards the getter's returns and the setter's value.
// Each accessor has its own allow-null decision.
func (s *Session) processProperty(p *ir.PropertyDef, flags config.ValidationFlags) error {
	if !flags.Has(config.Properties) || skipMember(p.Attributes) {
		return nil
	}
	if !classify.IsReferenceLikeType(p.Type) || s.Analyzer.AllowsNull(p) {
		return nil
	}
	key := ir.PropertyKey(p)
	assert := s.Policy.DebugAssertions()

	if g := p.Getter; g != nil && g.HasBody() && !g.IsAbstract && s.visible(g, flags) &&
		!s.Analyzer.AllowsGetterToReturnNull(p, g) {
		message := fmt.Sprintf(msgPropertyReturn, p.FullName())
		rets := g.Body.Returns()
		for i := len(rets) - 1; i >= 0; i-- {
			ret := rets[i]
			reloc, err := iledit.InsertAtLogicalReturnPoint(g.Body, ret, returnGuard(p.Type, message, ret, assert))
			if err != nil {
				return fmt.Errorf("guard getter: %w", err)
			}
			s.record(key, GuardGetter, "", g.Body.IndexOf(reloc.To), reloc.Len())
		}
	}

	if st := p.Setter; st != nil && st.HasBody() && !st.IsAbstract && s.visible(st, flags) {
		if len(st.Params) == 0 {
			return fmt.Errorf("setter %s has no value parameter", st.FullName())
		}
		value := st.Params[len(st.Params)-1]
		if s.Analyzer.AllowsSetterToAcceptNull(p, st, value) || hasExistingGuard(st.Body, value.Name) {
			return nil
		}
		message := fmt.Sprintf(msgPropertySet, p.FullName())
		block := argumentGuard(loadValue(st, value), value.Name, message, st.Body.Instructions[0], assert)
		if err := iledit.Prepend(st.Body, block); err != nil {
			return fmt.Errorf("guard setter: %w", err)
		}
		s.record(key, GuardSetter, value.Name, 0, 0)
	}
	return nil
}
