package ir

import "strings"

// Visibility is the accessibility of a type or member.
type Visibility uint8

const (
	Private Visibility = iota
	Internal
	Protected
	ProtectedInternal
	Public
)

var visibilityNames = [...]string{
	Private:           "private",
	Internal:          "internal",
	Protected:         "protected",
	ProtectedInternal: "protected internal",
	Public:            "public",
}

func (v Visibility) String() string {
	if int(v) < len(visibilityNames) {
		return visibilityNames[v]
	}
	return "unknown"
}

// ParseVisibility maps a visibility keyword to its value.
func ParseVisibility(s string) (Visibility, bool) {
	for i, name := range visibilityNames {
		if name == s {
			return Visibility(i), true
		}
	}
	return Private, false
}

// TypeCategory distinguishes classes, structs, interfaces and enums.
type TypeCategory uint8

const (
	CategoryClass TypeCategory = iota
	CategoryStruct
	CategoryInterface
	CategoryEnum
)

// CustomAttribute is an attribute instance attached to a symbol.
// Args hold int64, string, bool or []int64 values.
type CustomAttribute struct {
	Type string `json:"type"`
	Args []any  `json:"args,omitempty"`
}

// ShortName returns the attribute type name without namespace.
func (a CustomAttribute) ShortName() string {
	if i := strings.LastIndexByte(a.Type, '.'); i >= 0 {
		return a.Type[i+1:]
	}
	return a.Type
}

// Assembly is a loaded managed binary.
type Assembly struct {
	Name       string            `json:"name"`
	Path       string            `json:"path,omitempty"`
	Attributes []CustomAttribute `json:"attributes,omitempty"`
	References []string          `json:"references,omitempty"`
	Types      []*TypeDef        `json:"types"`
}

// AllTypes returns every type in declaration order, nested types following
// their declaring type.
func (a *Assembly) AllTypes() []*TypeDef {
	var out []*TypeDef
	var walk func(types []*TypeDef)
	walk = func(types []*TypeDef) {
		for _, t := range types {
			out = append(out, t)
			walk(t.NestedTypes)
		}
	}
	walk(a.Types)
	return out
}

// FindType looks up a type by full name, including nested types.
func (a *Assembly) FindType(fullName string) *TypeDef {
	for _, t := range a.AllTypes() {
		if t.FullName() == fullName {
			return t
		}
	}
	return nil
}

// TypeDef is a type definition.
type TypeDef struct {
	Namespace     string            `json:"namespace,omitempty"`
	Name          string            `json:"name"`
	Visibility    Visibility        `json:"visibility"`
	Category      TypeCategory      `json:"category"`
	IsAbstract    bool              `json:"is_abstract,omitempty"`
	IsSealed      bool              `json:"is_sealed,omitempty"`
	BaseType      *TypeRef          `json:"base_type,omitempty"`
	Interfaces    []*TypeRef        `json:"interfaces,omitempty"`
	GenericParams []*GenericParam   `json:"generic_params,omitempty"`
	Fields        []*FieldDef       `json:"fields,omitempty"`
	Methods       []*MethodDef      `json:"methods,omitempty"`
	Properties    []*PropertyDef    `json:"properties,omitempty"`
	NestedTypes   []*TypeDef        `json:"nested_types,omitempty"`
	Attributes    []CustomAttribute `json:"attributes,omitempty"`

	DeclaringType *TypeDef  `json:"-"`
	Assembly      *Assembly `json:"-"`
}

// FullName returns Namespace.Name, or Outer/Inner for nested types.
func (t *TypeDef) FullName() string {
	if t.DeclaringType != nil {
		return t.DeclaringType.FullName() + "/" + t.Name
	}
	if t.Namespace == "" {
		return t.Name
	}
	return t.Namespace + "." + t.Name
}

// IsInterface reports whether t is an interface.
func (t *TypeDef) IsInterface() bool { return t.Category == CategoryInterface }

// IsValueType reports whether t is a struct or enum.
func (t *TypeDef) IsValueType() bool {
	return t.Category == CategoryStruct || t.Category == CategoryEnum
}

// IsPubliclyVisible reports whether t and every enclosing type are public.
func (t *TypeDef) IsPubliclyVisible() bool {
	for cur := t; cur != nil; cur = cur.DeclaringType {
		if cur.Visibility != Public {
			return false
		}
	}
	return true
}

// Ref returns a TypeRef naming t.
func (t *TypeDef) Ref() *TypeRef {
	if t.IsValueType() {
		return ValueType(t.FullName())
	}
	return Class(t.FullName())
}

// FindMethod returns the first method with the given name.
func (t *TypeDef) FindMethod(name string) *MethodDef {
	for _, m := range t.Methods {
		if m.Name == name {
			return m
		}
	}
	return nil
}

// FindField returns the field with the given name.
func (t *TypeDef) FindField(name string) *FieldDef {
	for _, f := range t.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// FindProperty returns the property with the given name.
func (t *TypeDef) FindProperty(name string) *PropertyDef {
	for _, p := range t.Properties {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// FindNested returns the nested type with the given simple name.
func (t *TypeDef) FindNested(name string) *TypeDef {
	for _, n := range t.NestedTypes {
		if n.Name == name {
			return n
		}
	}
	return nil
}

// FieldDef is a field definition.
type FieldDef struct {
	Name     string   `json:"name"`
	Type     *TypeRef `json:"type"`
	IsStatic bool     `json:"is_static,omitempty"`

	DeclaringType *TypeDef `json:"-"`
}

// Semantics records which property accessor a method is, if any.
type Semantics uint8

const (
	SemanticsNone Semantics = iota
	SemanticsGetter
	SemanticsSetter
)

// MethodDef is a method definition.
type MethodDef struct {
	Name             string            `json:"name"`
	Visibility       Visibility        `json:"visibility"`
	IsStatic         bool              `json:"is_static,omitempty"`
	IsVirtual        bool              `json:"is_virtual,omitempty"`
	IsAbstract       bool              `json:"is_abstract,omitempty"`
	IsNewSlot        bool              `json:"is_new_slot,omitempty"`
	GenericParams    []*GenericParam   `json:"generic_params,omitempty"`
	Params           []*ParamDef       `json:"params,omitempty"`
	ReturnType       *TypeRef          `json:"return_type"`
	ReturnAttributes []CustomAttribute `json:"return_attributes,omitempty"`
	Attributes       []CustomAttribute `json:"attributes,omitempty"`

	// Overrides lists the methods this one explicitly implements
	// (explicit interface implementations).
	Overrides []*MethodRef `json:"overrides,omitempty"`

	Body      *Body        `json:"-"`
	Semantics Semantics    `json:"semantics,omitempty"`
	Property  *PropertyDef `json:"-"`

	DeclaringType *TypeDef `json:"-"`
}

// FullName returns "Ret Type::Name(params)" in the style of metadata tools.
func (m *MethodDef) FullName() string {
	var b strings.Builder
	b.WriteString(m.ReturnType.String())
	b.WriteByte(' ')
	if m.DeclaringType != nil {
		b.WriteString(m.DeclaringType.FullName())
		b.WriteString("::")
	}
	b.WriteString(m.Name)
	b.WriteByte('(')
	for i, p := range m.Params {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(p.Type.String())
	}
	b.WriteByte(')')
	return b.String()
}

// HasBody reports whether the method carries an instruction stream.
func (m *MethodDef) HasBody() bool {
	return m.Body != nil && len(m.Body.Instructions) > 0
}

// HasThis reports whether argument slot 0 is the receiver.
func (m *MethodDef) HasThis() bool { return !m.IsStatic }

// ArgSlot returns the ldarg slot of p.
func (m *MethodDef) ArgSlot(p *ParamDef) int {
	if m.HasThis() {
		return p.Index + 1
	}
	return p.Index
}

// IsConstructor reports whether m is an instance or type initializer.
func (m *MethodDef) IsConstructor() bool {
	return m.Name == ".ctor" || m.Name == ".cctor"
}

// IsGetter reports whether m is a property getter.
func (m *MethodDef) IsGetter() bool { return m.Semantics == SemanticsGetter }

// IsSetter reports whether m is a property setter.
func (m *MethodDef) IsSetter() bool { return m.Semantics == SemanticsSetter }

// IsExplicitImplementation reports whether m names the members it implements.
func (m *MethodDef) IsExplicitImplementation() bool { return len(m.Overrides) > 0 }

// Ref returns a MethodRef naming m.
func (m *MethodDef) Ref() *MethodRef {
	ref := &MethodRef{
		Name:       m.Name,
		ReturnType: m.ReturnType,
		HasThis:    m.HasThis(),
	}
	if m.DeclaringType != nil {
		ref.DeclaringType = m.DeclaringType.FullName()
	}
	for _, p := range m.Params {
		ref.Params = append(ref.Params, p.Type)
	}
	return ref
}

// ParamDef is a method parameter.
type ParamDef struct {
	Name          string            `json:"name"`
	Index         int               `json:"index"`
	Type          *TypeRef          `json:"type"`
	IsOut         bool              `json:"is_out,omitempty"`
	IsIn          bool              `json:"is_in,omitempty"`
	IsOptional    bool              `json:"is_optional,omitempty"`
	HasDefault    bool              `json:"has_default,omitempty"`
	DefaultIsNull bool              `json:"default_is_null,omitempty"`
	Attributes    []CustomAttribute `json:"attributes,omitempty"`

	Method *MethodDef `json:"-"`
}

// PropertyDef is a property definition.
type PropertyDef struct {
	Name       string            `json:"name"`
	Type       *TypeRef          `json:"type"`
	Getter     *MethodDef        `json:"-"`
	Setter     *MethodDef        `json:"-"`
	Attributes []CustomAttribute `json:"attributes,omitempty"`

	DeclaringType *TypeDef `json:"-"`
}

// FullName returns "Type::Name".
func (p *PropertyDef) FullName() string {
	if p.DeclaringType == nil {
		return p.Name
	}
	return p.DeclaringType.FullName() + "::" + p.Name
}

// Link wires back-references (declaring types, assembly, parameter owners,
// accessor semantics) after a graph has been built. Loaders call it once.
func (a *Assembly) Link() {
	var linkType func(t *TypeDef, outer *TypeDef)
	linkType = func(t *TypeDef, outer *TypeDef) {
		t.Assembly = a
		t.DeclaringType = outer
		for i, gp := range t.GenericParams {
			gp.Position = i
			gp.Owner = OwnerType
		}
		for _, f := range t.Fields {
			f.DeclaringType = t
		}
		for _, m := range t.Methods {
			m.DeclaringType = t
			for i, gp := range m.GenericParams {
				gp.Position = i
				gp.Owner = OwnerMethod
			}
			for i, p := range m.Params {
				p.Index = i
				p.Method = m
			}
			if m.ReturnType == nil {
				m.ReturnType = Void()
			}
		}
		for _, p := range t.Properties {
			p.DeclaringType = t
			if p.Getter != nil {
				p.Getter.Semantics = SemanticsGetter
				p.Getter.Property = p
			}
			if p.Setter != nil {
				p.Setter.Semantics = SemanticsSetter
				p.Setter.Property = p
			}
		}
		for _, n := range t.NestedTypes {
			linkType(n, t)
		}
	}
	for _, t := range a.Types {
		linkType(t, nil)
	}
}
