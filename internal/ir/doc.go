// Package ir provides the managed symbol graph that the weaver rewrites.
//
// This package contains the type model only: assemblies, types, methods,
// parameters, properties, custom attributes and the instruction stream of a
// method body. All other internal packages import ir; ir imports nothing
// internal. This keeps IR the foundational layer with no circular
// dependencies.
//
// Key design constraints:
//   - Symbols are owned by their assembly; the weaver mutates bodies and
//     attributes but never creates new symbols
//   - Branch and switch operands reference instructions by handle
//     (*Instruction), never by index, so insertions cannot shift targets
//   - Cross-assembly identity uses stable string keys (see key.go), never
//     pointer identity
package ir
