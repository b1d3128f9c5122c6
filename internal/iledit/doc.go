// Package iledit inserts instruction blocks into method bodies without
// breaking control flow.
//
// Two insertion points exist:
//
//   - Method entry (Prepend): pointers to the old first instruction keep
//     pointing at it, so loops back to the start do not re-run entry guards.
//   - Logical return point (InsertAtLogicalReturnPoint): every branch, switch
//     case and exception-handler boundary that referenced the exit instruction
//     is collected first, the block is inserted, and then the collected
//     pointers are redirected to the block's first instruction. A jump
//     straight to ret therefore still runs the guard.
//
// Redirection is an explicit step: CollectPointers returns a Relocation that
// is applied after insertion. Collecting before inserting matters because the
// inserted block itself usually branches to the exit and must keep doing so.
package iledit
