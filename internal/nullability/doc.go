// Package nullability decides whether null is permitted at each guarded
// position: parameters on input and output, return values, async results
// and property accessors.
//
// Three strategies exist and one is chosen per assembly:
//
//   - Implicit: null is rejected unless an AllowNull or CanBeNull marker is
//     present.
//   - Explicit: null is accepted unless a NotNull marker is present, either
//     on the member, in an external annotation file, or on a member it
//     overrides or implements.
//   - NullableReferenceTypes: the compiler-emitted NullableAttribute and
//     NullableContextAttribute metadata decides, refined by flow attributes.
//
// Detect inspects an assembly and picks the strategy. Analyzers are bound to
// one weaving session and memoize their answers; they are not safe for
// concurrent use.
package nullability
