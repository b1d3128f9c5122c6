package weaver

import (
	"fmt"

	"github.com/roach88/nullguard/internal/config"
	"github.com/roach88/nullguard/internal/ir"
	"github.com/roach88/nullguard/internal/nullability"
)

// flagsFor resolves the validation flags of t: the nearest NullGuardAttribute
// on t or an enclosing type, else the assembly attribute, else the policy
// default. Results are cached per session.
func (s *Session) flagsFor(t *ir.TypeDef) config.ValidationFlags {
	if f, ok := s.flags[t]; ok {
		return f
	}
	f := s.Policy.ValidationFlags
	if af, ok := s.attributeFlags(s.Assembly.Name, s.Assembly.Attributes); ok {
		f = af
	}
	for cur := t; cur != nil; cur = cur.DeclaringType {
		if tf, ok := s.attributeFlags(cur.FullName(), cur.Attributes); ok {
			f = tf
			break
		}
	}
	s.flags[t] = f
	return f
}

// attributeFlags reads the flags argument of a NullGuardAttribute. An
// unreadable argument is a declaration error and the attribute is ignored.
func (s *Session) attributeFlags(owner string, attrs []ir.CustomAttribute) (config.ValidationFlags, bool) {
	a, ok := nullability.Find(attrs, nullability.NullGuardAttribute)
	if !ok || len(a.Args) == 0 {
		return 0, false
	}
	switch v := a.Args[0].(type) {
	case int64:
		return config.ValidationFlags(v) & config.All, true
	case int:
		return config.ValidationFlags(v) & config.All, true
	case string:
		f, err := config.ParseValidationFlags(v)
		if err == nil {
			return f, true
		}
		s.Diagnostics.Error(owner, fmt.Sprintf("Invalid NullGuardAttribute flags on '%s': %v", owner, err))
	default:
		s.Diagnostics.Error(owner, fmt.Sprintf("Invalid NullGuardAttribute flags on '%s': %v", owner, v))
	}
	return 0, false
}

// skipType reports whether t is left untouched, and why.
func (s *Session) skipType(t *ir.TypeDef) (bool, string) {
	switch {
	case t.IsInterface():
		return true, "interface"
	case nullability.IsCompilerGenerated(t.Attributes):
		return true, "compiler generated"
	case nullability.HasFull(t.Attributes, nullability.DoNotGuardAttribute):
		return true, "marked DoNotGuard"
	case s.Policy.Excludes(t.FullName()):
		return true, "matches exclude pattern"
	}
	return false, ""
}

// skipMember reports whether a member's own attributes opt it out.
func skipMember(attrs []ir.CustomAttribute) bool {
	return nullability.IsCompilerGenerated(attrs) || nullability.HasFull(attrs, nullability.DoNotGuardAttribute)
}
