package weaver

import (
	"fmt"

	"github.com/roach88/nullguard/internal/classify"
	"github.com/roach88/nullguard/internal/iledit"
	"github.com/roach88/nullguard/internal/ir"
	"github.com/roach88/nullguard/internal/nullability"
)

// rewriteAsync guards the result of async method m inside its state
// machine. Each SetResult call gets a check that, on null, faults the task
// through the builder's existing SetException call instead of throwing.
func (s *Session) rewriteAsync(m *ir.MethodDef, key string) error {
	result := m.ReturnType.TaskResult()
	if result == nil || !classify.IsReferenceLikeType(result) {
		return nil
	}
	if s.Analyzer.AllowsNullAsyncResult(m, result) {
		return nil
	}

	name, _ := nullability.AsyncStateMachine(m)
	sm := s.Universe.FindType(name)
	if sm == nil {
		return fmt.Errorf("%w: %s", ErrStateMachineNotFound, name)
	}
	moveNext := sm.FindMethod("MoveNext")
	if moveNext == nil || !moveNext.HasBody() {
		return fmt.Errorf("%w: %s has no MoveNext body", ErrStateMachineNotFound, name)
	}

	setException, setResults := builderCalls(moveNext.Body)
	if setException == nil {
		s.Diagnostics.Warning(m.FullName(), fmt.Sprintf(
			"Method '%s' is async but its state machine has no SetException call. The result will not be checked.", m.FullName()))
		return nil
	}

	message := fmt.Sprintf(msgReturnNull, m.FullName())
	for i := len(setResults) - 1; i >= 0; i-- {
		call := setResults[i]
		block := asyncResultGuard(result, message, call, setException)
		reloc, err := iledit.InsertAtLogicalReturnPoint(moveNext.Body, call, block)
		if err != nil {
			return fmt.Errorf("guard async result: %w", err)
		}
		s.record(key, GuardAsyncResult, "", moveNext.Body.IndexOf(reloc.To), reloc.Len())
	}
	return nil
}

// builderCalls finds the SetException call and every SetResult call in a
// MoveNext body.
func builderCalls(body *ir.Body) (*ir.MethodRef, []*ir.Instruction) {
	var setException *ir.MethodRef
	var setResults []*ir.Instruction
	for _, in := range body.Instructions {
		if !in.OpCode.IsCall() || in.OpCode == ir.OpNewobj {
			continue
		}
		ref := in.Method()
		if ref == nil {
			continue
		}
		switch ref.Name {
		case "SetException":
			if setException == nil {
				setException = ref
			}
		case "SetResult":
			setResults = append(setResults, in)
		}
	}
	return setException, setResults
}
