package ir

import "strings"

// TypeKind classifies a TypeRef.
type TypeKind uint8

const (
	KindVoid TypeKind = iota
	KindClass
	KindValueType
	KindGenericParam
	KindByRef
	KindPointer
	KindModified
	KindArray
	KindGenericInstance
)

var typeKindNames = [...]string{
	KindVoid:            "void",
	KindClass:           "class",
	KindValueType:       "valuetype",
	KindGenericParam:    "genericparam",
	KindByRef:           "byref",
	KindPointer:         "pointer",
	KindModified:        "modified",
	KindArray:           "array",
	KindGenericInstance: "genericinst",
}

func (k TypeKind) String() string {
	if int(k) < len(typeKindNames) {
		return typeKindNames[k]
	}
	return "unknown"
}

// TypeRef is a use of a type in a signature.
//
// Element is set for byref, pointer, modified and array types, and holds the
// open generic type for generic instances. Generic is set for generic
// parameter uses.
type TypeRef struct {
	Kind     TypeKind      `json:"kind"`
	FullName string        `json:"full_name,omitempty"` // "System.String", "System.Threading.Tasks.Task`1"
	Element  *TypeRef      `json:"element,omitempty"`
	Args     []*TypeRef    `json:"args,omitempty"`     // generic instance arguments
	Generic  *GenericParam `json:"-"`                  // generic parameter use
	Modifier string        `json:"modifier,omitempty"` // modreq/modopt type for KindModified
}

// Well-known type names.
const (
	TypeNameVoid      = "System.Void"
	TypeNameObject    = "System.Object"
	TypeNameString    = "System.String"
	TypeNameInt32     = "System.Int32"
	TypeNameInt64     = "System.Int64"
	TypeNameBoolean   = "System.Boolean"
	TypeNameNullable  = "System.Nullable`1"
	TypeNameTask      = "System.Threading.Tasks.Task"
	TypeNameTaskOfT   = "System.Threading.Tasks.Task`1"
	TypeNameValueTask = "System.Threading.Tasks.ValueTask`1"
	TypeNameException = "System.Exception"
)

// Void returns the void type.
func Void() *TypeRef { return &TypeRef{Kind: KindVoid, FullName: TypeNameVoid} }

// Class returns a reference type use.
func Class(fullName string) *TypeRef { return &TypeRef{Kind: KindClass, FullName: fullName} }

// ValueType returns a value type use.
func ValueType(fullName string) *TypeRef { return &TypeRef{Kind: KindValueType, FullName: fullName} }

// String returns System.String.
func String() *TypeRef { return Class(TypeNameString) }

// Object returns System.Object.
func Object() *TypeRef { return Class(TypeNameObject) }

// Int32 returns System.Int32.
func Int32() *TypeRef { return ValueType(TypeNameInt32) }

// Boolean returns System.Boolean.
func Boolean() *TypeRef { return ValueType(TypeNameBoolean) }

// ByRef returns a by-reference type over elem.
func ByRef(elem *TypeRef) *TypeRef { return &TypeRef{Kind: KindByRef, Element: elem} }

// Pointer returns an unmanaged pointer type over elem.
func Pointer(elem *TypeRef) *TypeRef { return &TypeRef{Kind: KindPointer, Element: elem} }

// ArrayOf returns a single-dimensional array of elem.
func ArrayOf(elem *TypeRef) *TypeRef { return &TypeRef{Kind: KindArray, Element: elem} }

// Modified wraps elem with a required or optional modifier type.
func Modified(elem *TypeRef, modifier string) *TypeRef {
	return &TypeRef{Kind: KindModified, Element: elem, Modifier: modifier}
}

// GenericUse returns a use of the generic parameter gp.
func GenericUse(gp *GenericParam) *TypeRef {
	return &TypeRef{Kind: KindGenericParam, FullName: gp.Name, Generic: gp}
}

// Instance returns the generic instance open<args...>.
func Instance(open *TypeRef, args ...*TypeRef) *TypeRef {
	return &TypeRef{Kind: KindGenericInstance, FullName: open.FullName, Element: open, Args: args}
}

// TaskOf returns Task<result>.
func TaskOf(result *TypeRef) *TypeRef { return Instance(Class(TypeNameTaskOfT), result) }

// IsVoid reports whether t is the void type.
func (t *TypeRef) IsVoid() bool {
	return t == nil || t.Kind == KindVoid
}

// IsValueType reports whether t denotes a value type. Generic instances take
// the kind of their open type, so Nullable<int> is a value type.
func (t *TypeRef) IsValueType() bool {
	if t == nil {
		return false
	}
	switch t.Kind {
	case KindValueType:
		return true
	case KindGenericInstance:
		return t.Element != nil && t.Element.IsValueType()
	default:
		return false
	}
}

// IsGenericParameter reports whether t is a generic parameter use.
func (t *TypeRef) IsGenericParameter() bool {
	return t != nil && t.Kind == KindGenericParam
}

// IsByRef reports whether t is a by-reference type.
func (t *TypeRef) IsByRef() bool {
	return t != nil && t.Kind == KindByRef
}

// ElementType strips by-ref, pointer and modifier wrappers.
func (t *TypeRef) ElementType() *TypeRef {
	for t != nil && (t.Kind == KindByRef || t.Kind == KindPointer || t.Kind == KindModified) {
		t = t.Element
	}
	return t
}

// IsTask reports whether t is Task or Task<T>.
func (t *TypeRef) IsTask() bool {
	if t == nil {
		return false
	}
	return t.FullName == TypeNameTask || t.FullName == TypeNameTaskOfT
}

// TaskResult returns T for Task<T>, nil otherwise.
func (t *TypeRef) TaskResult() *TypeRef {
	if t == nil || t.Kind != KindGenericInstance || len(t.Args) != 1 {
		return nil
	}
	if t.FullName != TypeNameTaskOfT && t.FullName != TypeNameValueTask {
		return nil
	}
	return t.Args[0]
}

// String renders t in signature syntax.
func (t *TypeRef) String() string {
	if t == nil {
		return "void"
	}
	switch t.Kind {
	case KindVoid:
		return "void"
	case KindByRef:
		return t.Element.String() + "&"
	case KindPointer:
		return t.Element.String() + "*"
	case KindArray:
		return t.Element.String() + "[]"
	case KindModified:
		return t.Element.String() + " modreq(" + t.Modifier + ")"
	case KindGenericParam:
		if t.Generic != nil && t.Generic.Owner == OwnerMethod {
			return "!!" + t.FullName
		}
		return "!" + t.FullName
	case KindGenericInstance:
		args := make([]string, len(t.Args))
		for i, a := range t.Args {
			args[i] = a.String()
		}
		return t.FullName + "<" + strings.Join(args, ",") + ">"
	default:
		return t.FullName
	}
}

// GenericOwner identifies what declares a generic parameter.
type GenericOwner uint8

const (
	OwnerType GenericOwner = iota
	OwnerMethod
)

// GenericParam is a generic parameter declaration.
type GenericParam struct {
	Name     string       `json:"name"`
	Position int          `json:"position"`
	Owner    GenericOwner `json:"owner"`

	// HasValueTypeConstraint is set for "struct" (and "unmanaged") constraints.
	HasValueTypeConstraint bool `json:"has_value_type_constraint,omitempty"`

	// HasReferenceTypeConstraint is set for "class" constraints.
	HasReferenceTypeConstraint bool `json:"has_reference_type_constraint,omitempty"`

	Constraints []*TypeRef        `json:"constraints,omitempty"`
	Attributes  []CustomAttribute `json:"attributes,omitempty"`
}
