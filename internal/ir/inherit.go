package ir

// BaseMethods returns the members m overrides or implements: the nearest
// virtual it overrides in the base chain, plus every interface method it
// implements implicitly. Explicit implementations return exactly the members
// they name, and interface members with an explicit implementation in m's
// type are not matched implicitly.
func (u *Universe) BaseMethods(m *MethodDef) []*MethodDef {
	t := m.DeclaringType
	if t == nil {
		return nil
	}
	if m.IsExplicitImplementation() {
		var out []*MethodDef
		for _, ref := range m.Overrides {
			if bm := u.ResolveMethod(ref); bm != nil {
				out = append(out, bm)
			}
		}
		return out
	}

	var out []*MethodDef
	if m.IsVirtual && !m.IsNewSlot {
		for bt := u.Resolve(t.BaseType); bt != nil; bt = u.Resolve(bt.BaseType) {
			if bm := findMatching(bt, m); bm != nil && bm.IsVirtual {
				out = append(out, bm)
				break
			}
		}
	}
	if m.Visibility == Public && !m.IsStatic {
		explicit := u.explicitTargets(t)
		for _, it := range u.Interfaces(t) {
			im := findMatching(it, m)
			if im == nil || explicit[im] {
				continue
			}
			out = append(out, im)
		}
	}
	return out
}

// Interfaces returns every interface t declares, including the interfaces
// those interfaces extend, in first-seen order.
func (u *Universe) Interfaces(t *TypeDef) []*TypeDef {
	var out []*TypeDef
	seen := map[string]bool{}
	var walk func(refs []*TypeRef)
	walk = func(refs []*TypeRef) {
		for _, ref := range refs {
			it := u.Resolve(ref)
			if it == nil || seen[it.FullName()] {
				continue
			}
			seen[it.FullName()] = true
			out = append(out, it)
			walk(it.Interfaces)
		}
	}
	walk(t.Interfaces)
	return out
}

func (u *Universe) explicitTargets(t *TypeDef) map[*MethodDef]bool {
	out := map[*MethodDef]bool{}
	for _, m := range t.Methods {
		for _, ref := range m.Overrides {
			if bm := u.ResolveMethod(ref); bm != nil {
				out[bm] = true
			}
		}
	}
	return out
}

// findMatching returns the method of t with m's name and a compatible
// parameter list. A generic parameter in t's signature matches any type.
func findMatching(t *TypeDef, m *MethodDef) *MethodDef {
	for _, cand := range t.Methods {
		if cand.Name != m.Name || len(cand.Params) != len(m.Params) || cand.IsExplicitImplementation() {
			continue
		}
		if paramsCompatible(cand, m) {
			return cand
		}
	}
	return nil
}

func paramsCompatible(base, m *MethodDef) bool {
	for i, bp := range base.Params {
		if bp.Type.ElementType().IsGenericParameter() {
			continue
		}
		if bp.Type.String() != m.Params[i].Type.String() {
			return false
		}
	}
	return true
}
