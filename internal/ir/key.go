package ir

import (
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Member keys follow the documentation-comment ID format used by external
// annotation files:
//
//	T:Samples.Outer.Inner
//	M:Samples.Widget.Resize(System.String,System.Int32@)
//	M:Samples.Widget.Map``1(``0)
//	P:Samples.Widget.Label
//
// Keys are NFC normalized so that equal names from different sources compare
// equal byte-for-byte.

// TypeKey returns the T: key of t.
func TypeKey(t *TypeDef) string {
	return norm.NFC.String("T:" + docTypeName(t))
}

// MethodKey returns the M: key of m.
func MethodKey(m *MethodDef) string {
	var b strings.Builder
	b.WriteString("M:")
	if m.DeclaringType != nil {
		b.WriteString(docTypeName(m.DeclaringType))
		b.WriteByte('.')
	}
	b.WriteString(strings.ReplaceAll(m.Name, ".", "#"))
	if len(m.GenericParams) > 0 {
		b.WriteString("``")
		b.WriteString(strconv.Itoa(len(m.GenericParams)))
	}
	writeDocParams(&b, m.Params)
	return norm.NFC.String(b.String())
}

// PropertyKey returns the P: key of p. Indexers carry their getter's or
// setter's index parameters.
func PropertyKey(p *PropertyDef) string {
	var b strings.Builder
	b.WriteString("P:")
	if p.DeclaringType != nil {
		b.WriteString(docTypeName(p.DeclaringType))
		b.WriteByte('.')
	}
	b.WriteString(p.Name)
	var index []*ParamDef
	switch {
	case p.Getter != nil:
		index = p.Getter.Params
	case p.Setter != nil && len(p.Setter.Params) > 0:
		index = p.Setter.Params[:len(p.Setter.Params)-1]
	}
	writeDocParams(&b, index)
	return norm.NFC.String(b.String())
}

// QualifiedKey prefixes key with the owning assembly name so keys stay
// unique across a multi-assembly universe.
func QualifiedKey(assembly, key string) string {
	return norm.NFC.String(assembly) + "!" + key
}

// DocTypeName renders a type reference the way member keys spell it.
func DocTypeName(t *TypeRef) string {
	if t == nil {
		return "System.Void"
	}
	switch t.Kind {
	case KindByRef:
		return DocTypeName(t.Element) + "@"
	case KindPointer:
		return DocTypeName(t.Element) + "*"
	case KindArray:
		return DocTypeName(t.Element) + "[]"
	case KindModified:
		return DocTypeName(t.Element)
	case KindGenericParam:
		pos := 0
		if t.Generic != nil {
			pos = t.Generic.Position
			if t.Generic.Owner == OwnerMethod {
				return "``" + strconv.Itoa(pos)
			}
		}
		return "`" + strconv.Itoa(pos)
	case KindGenericInstance:
		name := t.FullName
		if i := strings.IndexByte(name, '`'); i >= 0 {
			name = name[:i]
		}
		args := make([]string, len(t.Args))
		for i, a := range t.Args {
			args[i] = DocTypeName(a)
		}
		return strings.ReplaceAll(name, "/", ".") + "{" + strings.Join(args, ",") + "}"
	default:
		return strings.ReplaceAll(t.FullName, "/", ".")
	}
}

func docTypeName(t *TypeDef) string {
	return strings.ReplaceAll(t.FullName(), "/", ".")
}

func writeDocParams(b *strings.Builder, params []*ParamDef) {
	if len(params) == 0 {
		return
	}
	b.WriteByte('(')
	for i, p := range params {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(DocTypeName(p.Type))
	}
	b.WriteByte(')')
}
