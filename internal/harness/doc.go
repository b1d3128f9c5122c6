// Package harness runs YAML scenarios against woven assemblies.
//
// A scenario names a CUE assembly description, an optional policy, a flow
// of calls and a list of assertions. Running it:
//
//  1. Compiles and validates the assembly
//  2. Weaves it with a fixed session id and a deterministic clock
//  3. Records the report in a fresh in-memory ledger
//  4. Executes each flow step on the interpreter and checks its expect clause
//  5. Evaluates assertions against the ledger
//
// Instances are shared per type for the whole flow, so a setter call is
// visible to a later getter call on the same type.
//
// # Example
//
//	name: widget-echo
//	description: Echo rejects null and returns its argument
//	assembly: widget.cue
//	policy:
//	  mode: implicit
//	flow:
//	  - call: Samples.Widget::Echo
//	    args: [null]
//	    expect:
//	      outcome: throws
//	      exception: System.ArgumentNullException
//	      param: value
//	assertions:
//	  - type: injected
//	    member: M:Samples.Widget.Echo(System.String)
//	    kind: argument
//
// Traces and woven listings are compared against golden files under
// testdata/golden with AssertGoldenTrace and AssertGoldenListing.
package harness
