// Package engine interprets woven method bodies.
//
// The interpreter exists so that guard behaviour can be checked end to end:
// call a woven method with null and observe the exception, await an async
// method and observe the faulted task. It covers exactly the instruction set
// the ir package models, plus intrinsics for the few framework members that
// guards and compiler-generated state machines call.
//
// ARCHITECTURE:
//
// Each Invoke runs on the calling goroutine with its own evaluation stack
// per frame. Managed exceptions travel as Go errors of type
// *ManagedException so that a callee's throw can be caught by a handler in
// the caller. Every other error is a RuntimeError and is never catchable by
// interpreted code.
//
// Termination:
// A QuotaEnforcer bounds the number of instructions executed per Invoke.
// Malformed branch targets and stack underflow are reported as RuntimeError
// rather than panics.
package engine
