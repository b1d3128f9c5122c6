package weaver

import (
	"github.com/roach88/nullguard/internal/config"
	"github.com/roach88/nullguard/internal/ir"
)

// visible reports whether m passes the visibility gate under flags: always
// with NonPublic, otherwise only when m is public in a publicly visible type
// or overrides or implements a publicly visible member.
func (s *Session) visible(m *ir.MethodDef, flags config.ValidationFlags) bool {
	if flags.Has(config.NonPublic) {
		return true
	}
	if m.Visibility == ir.Public && m.DeclaringType != nil && m.DeclaringType.IsPubliclyVisible() {
		return true
	}
	for _, base := range s.Universe.BaseMethods(m) {
		if base.DeclaringType == nil || !base.DeclaringType.IsPubliclyVisible() {
			continue
		}
		if base.Visibility == ir.Public || base.DeclaringType.IsInterface() {
			return true
		}
	}
	return false
}
