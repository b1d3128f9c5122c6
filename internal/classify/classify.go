// Package classify decides which signature types are subject to null checks.
//
// Every guard the weaver emits is gated on IsReferenceLikeType: value types
// can never be null, so parameters, returns and properties of value type are
// skipped before any nullability question is asked.
package classify

import "github.com/roach88/nullguard/internal/ir"

// IsReferenceLikeType reports whether values of type t can be null.
//
// By-ref, pointer and modified types are eligible when their element type is.
// Generic parameters are eligible unless constrained to value types; an
// unconstrained parameter may still be instantiated with a value type, which
// is why guards box it before testing (see RequiresBox).
func IsReferenceLikeType(t *ir.TypeRef) bool {
	if t == nil {
		return false
	}
	switch t.Kind {
	case ir.KindVoid:
		return false
	case ir.KindByRef, ir.KindPointer, ir.KindModified:
		return IsReferenceLikeType(t.Element)
	case ir.KindGenericParam:
		return t.Generic == nil || !t.Generic.HasValueTypeConstraint
	}
	return !t.IsValueType()
}

// RequiresBox reports whether a value of type t must be boxed before a
// brtrue null test. Only generic parameter uses need it: a value type
// instantiation would otherwise be tested by its numeric value, and the
// verifier rejects brtrue on an unboxed type parameter even when it is
// class-constrained.
func RequiresBox(t *ir.TypeRef) bool {
	if t == nil {
		return false
	}
	for t.Kind == ir.KindByRef || t.Kind == ir.KindModified {
		t = t.Element
	}
	return t.IsGenericParameter()
}

// Unwrap strips by-ref and modifier wrappers, returning the type whose value
// is actually tested after an indirect load.
func Unwrap(t *ir.TypeRef) *ir.TypeRef {
	for t != nil && (t.Kind == ir.KindByRef || t.Kind == ir.KindModified) {
		t = t.Element
	}
	return t
}
