// Package weaver injects null guards into the method bodies of an assembly.
//
// A Weaver holds the policy and collaborators; every call to Weave opens a
// fresh Session that owns the analyzer, its verdict caches, the external
// annotation indexes and the diagnostic log. Nothing is shared between
// sessions, so two weaves of different assemblies never observe each other's
// state, even when the assemblies share a name.
//
// A pass runs in this order:
//
//  1. Report declaration errors found by the analyzer.
//  2. For each type not skipped: properties, then methods.
//  3. Strip weaver-only attributes and the NullGuard reference.
//  4. Hash the woven assembly into the Report.
//
// Any failure while rewriting a member aborts the pass with a *WeaveError.
package weaver
