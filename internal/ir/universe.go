package ir

// Universe is the set of assemblies visible to one weaving pass: the target
// assembly plus the references its base types and interfaces live in.
//
// Lookups go by full name, so a method in one assembly can be matched to the
// member it overrides in another without sharing pointers.
type Universe struct {
	assemblies []*Assembly
}

// NewUniverse creates a universe over the given assemblies. Earlier
// assemblies win when two define the same full type name.
func NewUniverse(assemblies ...*Assembly) *Universe {
	u := &Universe{}
	for _, a := range assemblies {
		u.Add(a)
	}
	return u
}

// Add registers an assembly.
func (u *Universe) Add(a *Assembly) {
	if a == nil {
		return
	}
	u.assemblies = append(u.assemblies, a)
}

// Assemblies returns the registered assemblies.
func (u *Universe) Assemblies() []*Assembly {
	return u.assemblies
}

// FindType looks a type up by full name across assemblies.
func (u *Universe) FindType(fullName string) *TypeDef {
	for _, a := range u.assemblies {
		if t := a.FindType(fullName); t != nil {
			return t
		}
	}
	return nil
}

// Resolve returns the definition behind a type reference. Generic instances
// resolve to their open type; by-ref and pointer wrappers are not stripped.
func (u *Universe) Resolve(ref *TypeRef) *TypeDef {
	if ref == nil {
		return nil
	}
	switch ref.Kind {
	case KindClass, KindValueType:
		return u.FindType(ref.FullName)
	case KindGenericInstance:
		if ref.Element != nil {
			return u.FindType(ref.Element.FullName)
		}
		return u.FindType(ref.FullName)
	default:
		return nil
	}
}

// ResolveMethod finds the definition a method reference names.
func (u *Universe) ResolveMethod(ref *MethodRef) *MethodDef {
	t := u.FindType(ref.DeclaringType)
	if t == nil {
		return nil
	}
	for _, m := range t.Methods {
		if ref.Matches(m) {
			return m
		}
	}
	// Fall back to name and arity; references written by hand often spell
	// generic parameters differently from their definitions.
	for _, m := range t.Methods {
		if m.Name == ref.Name && len(m.Params) == len(ref.Params) {
			return m
		}
	}
	return nil
}

// ResolveField finds the definition a field reference names.
func (u *Universe) ResolveField(ref *FieldRef) *FieldDef {
	t := u.FindType(ref.DeclaringType)
	if t == nil {
		return nil
	}
	return t.FindField(ref.Name)
}
