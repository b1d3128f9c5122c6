package nullability

import (
	"github.com/roach88/nullguard/internal/ir"
)

// Marker short names. JetBrains-style markers are matched by short name in
// any namespace, since projects commonly ship their own copies.
const (
	AllowNull     = "AllowNullAttribute"
	CanBeNull     = "CanBeNullAttribute"
	NotNull       = "NotNullAttribute"
	ItemNotNull   = "ItemNotNullAttribute"
	ItemCanBeNull = "ItemCanBeNullAttribute"
	MaybeNull     = "MaybeNullAttribute"
	DisallowNull  = "DisallowNullAttribute"
)

// Full names of compiler and weaver attributes.
const (
	NullableAttribute           = "System.Runtime.CompilerServices.NullableAttribute"
	NullableContextAttribute    = "System.Runtime.CompilerServices.NullableContextAttribute"
	NullablePublicOnlyAttribute = "System.Runtime.CompilerServices.NullablePublicOnlyAttribute"
	CompilerGeneratedAttribute  = "System.Runtime.CompilerServices.CompilerGeneratedAttribute"
	AsyncStateMachineAttribute  = "System.Runtime.CompilerServices.AsyncStateMachineAttribute"

	NullGuardAttribute     = "NullGuard.NullGuardAttribute"
	DoNotGuardAttribute    = "NullGuard.DoNotGuardAttribute"
	NullGuardAllowNull     = "NullGuard.AllowNullAttribute"
	CodeAnalysisNamespace  = "System.Diagnostics.CodeAnalysis"
	NullGuardReferenceName = "NullGuard"
)

// Has reports whether attrs contains an attribute with the given short name.
func Has(attrs []ir.CustomAttribute, shortName string) bool {
	for _, a := range attrs {
		if a.ShortName() == shortName {
			return true
		}
	}
	return false
}

// Find returns the first attribute with the given full name.
func Find(attrs []ir.CustomAttribute, fullName string) (ir.CustomAttribute, bool) {
	for _, a := range attrs {
		if a.Type == fullName {
			return a, true
		}
	}
	return ir.CustomAttribute{}, false
}

// HasFull reports whether attrs contains an attribute with the given full name.
func HasFull(attrs []ir.CustomAttribute, fullName string) bool {
	_, ok := Find(attrs, fullName)
	return ok
}

// HasAllowMarker reports whether attrs carries AllowNull or CanBeNull.
func HasAllowMarker(attrs []ir.CustomAttribute) bool {
	return Has(attrs, AllowNull) || Has(attrs, CanBeNull)
}

// IsCompilerGenerated reports whether attrs marks a compiler-generated symbol.
func IsCompilerGenerated(attrs []ir.CustomAttribute) bool {
	return HasFull(attrs, CompilerGeneratedAttribute)
}

// IsTransient reports whether a is a weaver-only attribute removed after
// weaving.
func IsTransient(a ir.CustomAttribute) bool {
	switch a.Type {
	case NullGuardAttribute, DoNotGuardAttribute, NullGuardAllowNull:
		return true
	}
	return false
}

// isCodeAnalysis reports whether a comes from System.Diagnostics.CodeAnalysis.
func isCodeAnalysis(a ir.CustomAttribute, shortName string) bool {
	return a.Type == CodeAnalysisNamespace+"."+shortName
}

// AsyncStateMachine returns the state machine type named by an
// AsyncStateMachineAttribute on m, if any.
func AsyncStateMachine(m *ir.MethodDef) (string, bool) {
	a, ok := Find(m.Attributes, AsyncStateMachineAttribute)
	if !ok || len(a.Args) == 0 {
		return "", false
	}
	name, ok := a.Args[0].(string)
	return name, ok && name != ""
}

// IsAsync reports whether m is an async state machine stub.
func IsAsync(m *ir.MethodDef) bool {
	_, ok := AsyncStateMachine(m)
	return ok
}
