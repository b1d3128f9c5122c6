package ir

import "strings"

// MethodRef names a method by signature. Calls and explicit overrides use it
// instead of *MethodDef because the target may live in another assembly.
type MethodRef struct {
	DeclaringType string     `json:"declaring_type"`
	Name          string     `json:"name"`
	Params        []*TypeRef `json:"params,omitempty"`
	ReturnType    *TypeRef   `json:"return_type,omitempty"`
	HasThis       bool       `json:"has_this,omitempty"`
}

// FullName renders "Ret Type::Name(params)".
func (r *MethodRef) FullName() string {
	var b strings.Builder
	b.WriteString(r.ReturnType.String())
	b.WriteByte(' ')
	b.WriteString(r.DeclaringType)
	b.WriteString("::")
	b.WriteString(r.Name)
	b.WriteByte('(')
	for i, p := range r.Params {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(p.String())
	}
	b.WriteByte(')')
	return b.String()
}

// Matches reports whether r names m: same declaring type, name and
// parameter signature.
func (r *MethodRef) Matches(m *MethodDef) bool {
	if m.DeclaringType == nil || r.DeclaringType != m.DeclaringType.FullName() || r.Name != m.Name {
		return false
	}
	return SameParams(r.Params, m)
}

// SameParams compares a parameter type list against m's parameters.
func SameParams(params []*TypeRef, m *MethodDef) bool {
	if len(params) != len(m.Params) {
		return false
	}
	for i, p := range params {
		if p.String() != m.Params[i].Type.String() {
			return false
		}
	}
	return true
}

// FieldRef names a field.
type FieldRef struct {
	DeclaringType string   `json:"declaring_type"`
	Name          string   `json:"name"`
	Type          *TypeRef `json:"type,omitempty"`
}

// FullName renders "Type::name".
func (r *FieldRef) FullName() string {
	return r.DeclaringType + "::" + r.Name
}

// Well-known members emitted by the weaver.
const (
	ArgumentNullExceptionType     = "System.ArgumentNullException"
	InvalidOperationExceptionType = "System.InvalidOperationException"
	DebugType                     = "System.Diagnostics.Debug"
	AsyncBuilderOfT               = "System.Runtime.CompilerServices.AsyncTaskMethodBuilder`1"
	AsyncBuilder                  = "System.Runtime.CompilerServices.AsyncTaskMethodBuilder"
)

// ArgumentNullExceptionCtor is ArgumentNullException(string paramName).
func ArgumentNullExceptionCtor() *MethodRef {
	return &MethodRef{DeclaringType: ArgumentNullExceptionType, Name: ".ctor", Params: []*TypeRef{String()}, ReturnType: Void(), HasThis: true}
}

// ArgumentNullExceptionWithMessageCtor is ArgumentNullException(string paramName, string message).
func ArgumentNullExceptionWithMessageCtor() *MethodRef {
	return &MethodRef{DeclaringType: ArgumentNullExceptionType, Name: ".ctor", Params: []*TypeRef{String(), String()}, ReturnType: Void(), HasThis: true}
}

// InvalidOperationExceptionCtor is InvalidOperationException(string message).
func InvalidOperationExceptionCtor() *MethodRef {
	return &MethodRef{DeclaringType: InvalidOperationExceptionType, Name: ".ctor", Params: []*TypeRef{String()}, ReturnType: Void(), HasThis: true}
}

// DebugAssert is Debug.Assert(bool condition, string message).
func DebugAssert() *MethodRef {
	return &MethodRef{DeclaringType: DebugType, Name: "Assert", Params: []*TypeRef{Boolean(), String()}, ReturnType: Void()}
}
