package weaver

import (
	"fmt"

	"github.com/roach88/nullguard/internal/classify"
	"github.com/roach88/nullguard/internal/config"
	"github.com/roach88/nullguard/internal/iledit"
	"github.com/roach88/nullguard/internal/ir"
	"github.com/roach88/nullguard/internal/nullability"
)

// processMethod injects argument, return, out and async result guards into
// m according to flags.
func (s *Session) processMethod(m *ir.MethodDef, flags config.ValidationFlags) error {
	if m.IsAbstract || !m.HasBody() || skipMember(m.Attributes) {
		return nil
	}
	if !s.visible(m, flags) {
		s.logger.Debug("method not visible", "method", m.FullName())
		return nil
	}
	key := ir.MethodKey(m)
	async := nullability.IsAsync(m)

	if flags.Has(config.Arguments) {
		if err := s.injectArgumentGuards(m, key); err != nil {
			return err
		}
	}

	returns := flags.Has(config.ReturnValues) && !async && !m.IsGetter() && s.needsReturnGuard(m)
	outs := s.outParams(m, flags)
	if returns || len(outs) > 0 {
		if err := s.injectExitGuards(m, key, returns, outs); err != nil {
			return err
		}
	}

	if async && flags.Has(config.ReturnValues) {
		return s.rewriteAsync(m, key)
	}
	return nil
}

// injectArgumentGuards prepends one guard per eligible parameter. Parameters
// are visited in reverse so the first parameter's guard ends up first.
func (s *Session) injectArgumentGuards(m *ir.MethodDef, key string) error {
	for i := len(m.Params) - 1; i >= 0; i-- {
		p := m.Params[i]
		if !s.needsArgumentGuard(m, p) {
			continue
		}
		message := fmt.Sprintf(msgArgumentNull, p.Name)
		block := argumentGuard(loadValue(m, p), p.Name, message, m.Body.Instructions[0], s.Policy.DebugAssertions())
		if err := iledit.Prepend(m.Body, block); err != nil {
			return fmt.Errorf("guard parameter '%s': %w", p.Name, err)
		}
		s.record(key, GuardArgument, p.Name, 0, 0)
	}
	return nil
}

func (s *Session) needsArgumentGuard(m *ir.MethodDef, p *ir.ParamDef) bool {
	switch {
	case p.IsOut:
		return false
	case !classify.IsReferenceLikeType(p.Type):
		return false
	case p.IsOptional && p.HasDefault && p.DefaultIsNull:
		return false
	case m.IsSetter() && p.Index == len(m.Params)-1:
		return false
	case s.Analyzer.AllowsNullInput(p, m):
		return false
	case hasExistingGuard(m.Body, p.Name):
		s.logger.Debug("existing guard found", "method", m.FullName(), "param", p.Name)
		return false
	}
	return true
}

func (s *Session) needsReturnGuard(m *ir.MethodDef) bool {
	if m.ReturnType.IsVoid() || m.IsConstructor() {
		return false
	}
	return classify.IsReferenceLikeType(m.ReturnType) && !s.Analyzer.AllowsNullReturnValue(m)
}

// outParams returns the by-ref parameters checked at exit. In parameters
// are read-only and never checked.
func (s *Session) outParams(m *ir.MethodDef, flags config.ValidationFlags) []*ir.ParamDef {
	if !flags.Has(config.OutValues) {
		return nil
	}
	var out []*ir.ParamDef
	for _, p := range m.Params {
		if !p.Type.IsByRef() || p.IsIn || !classify.IsReferenceLikeType(p.Type) {
			continue
		}
		if s.Analyzer.AllowsNullOutput(p, m) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// injectExitGuards places the return guard and out guards before every ret,
// last ret first. Every branch, switch case or handler boundary that targeted
// a ret is redirected to the first guard in front of it.
func (s *Session) injectExitGuards(m *ir.MethodDef, key string, returns bool, outs []*ir.ParamDef) error {
	rets := m.Body.Returns()
	assert := s.Policy.DebugAssertions()
	message := fmt.Sprintf(msgReturnNull, m.FullName())
	for i := len(rets) - 1; i >= 0; i-- {
		ret := rets[i]
		if returns {
			reloc, err := iledit.InsertAtLogicalReturnPoint(m.Body, ret, returnGuard(m.ReturnType, message, ret, assert))
			if err != nil {
				return fmt.Errorf("guard return value: %w", err)
			}
			s.record(key, GuardReturn, "", m.Body.IndexOf(reloc.To), reloc.Len())
		}
		for _, p := range outs {
			reloc, err := iledit.InsertAtLogicalReturnPoint(m.Body, ret, outGuard(m, p, ret))
			if err != nil {
				return fmt.Errorf("guard out parameter '%s': %w", p.Name, err)
			}
			s.record(key, GuardOut, p.Name, m.Body.IndexOf(reloc.To), reloc.Len())
		}
	}
	return nil
}
