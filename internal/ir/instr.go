package ir

import "fmt"

// OpCode is an instruction operation.
type OpCode uint8

const (
	OpNop OpCode = iota
	OpLdarg
	OpStarg
	OpLdloc
	OpStloc
	OpLdnull
	OpLdcI4
	OpLdstr
	OpDup
	OpPop
	OpBr
	OpBrtrue
	OpBrfalse
	OpSwitch
	OpRet
	OpThrow
	OpNewobj
	OpCall
	OpCallvirt
	OpLdfld
	OpStfld
	OpLdflda
	OpBox
	OpLdindRef
	OpStindRef
	OpCeq
	OpCgtUn
	OpLeave
	OpLdloca
	OpLdobj
)

var opNames = [...]string{
	OpNop:      "nop",
	OpLdarg:    "ldarg",
	OpStarg:    "starg",
	OpLdloc:    "ldloc",
	OpStloc:    "stloc",
	OpLdnull:   "ldnull",
	OpLdcI4:    "ldc.i4",
	OpLdstr:    "ldstr",
	OpDup:      "dup",
	OpPop:      "pop",
	OpBr:       "br",
	OpBrtrue:   "brtrue",
	OpBrfalse:  "brfalse",
	OpSwitch:   "switch",
	OpRet:      "ret",
	OpThrow:    "throw",
	OpNewobj:   "newobj",
	OpCall:     "call",
	OpCallvirt: "callvirt",
	OpLdfld:    "ldfld",
	OpStfld:    "stfld",
	OpLdflda:   "ldflda",
	OpBox:      "box",
	OpLdindRef: "ldind.ref",
	OpStindRef: "stind.ref",
	OpCeq:      "ceq",
	OpCgtUn:    "cgt.un",
	OpLeave:    "leave",
	OpLdloca:   "ldloca",
	OpLdobj:    "ldobj",
}

func (op OpCode) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return fmt.Sprintf("op(%d)", op)
}

// ParseOpCode maps a mnemonic to its opcode. Short and macro forms
// ("brtrue.s", "ldarg.1") are accepted by the assembler, not here.
func ParseOpCode(s string) (OpCode, bool) {
	for i, name := range opNames {
		if name == s {
			return OpCode(i), true
		}
	}
	return OpNop, false
}

// IsBranch reports whether op takes a single instruction target.
func (op OpCode) IsBranch() bool {
	return op == OpBr || op == OpBrtrue || op == OpBrfalse || op == OpLeave
}

// IsCall reports whether op invokes a method.
func (op OpCode) IsCall() bool {
	return op == OpCall || op == OpCallvirt || op == OpNewobj
}

// Instruction is one operation in a method body.
//
// Operand types by opcode:
//   - ldarg, starg, ldloc, stloc, ldloca, ldc.i4: int
//   - ldstr: string
//   - br, brtrue, brfalse, leave: *Instruction
//   - switch: []*Instruction
//   - call, callvirt, newobj: *MethodRef
//   - ldfld, stfld, ldflda: *FieldRef
//   - box, ldobj: *TypeRef
type Instruction struct {
	OpCode  OpCode
	Operand any
}

// NewInstruction creates an instruction.
func NewInstruction(op OpCode, operand any) *Instruction {
	return &Instruction{OpCode: op, Operand: operand}
}

// Target returns the branch target, or nil if the operand is not one.
func (in *Instruction) Target() *Instruction {
	t, _ := in.Operand.(*Instruction)
	return t
}

// Targets returns the switch table, or nil.
func (in *Instruction) Targets() []*Instruction {
	t, _ := in.Operand.([]*Instruction)
	return t
}

// Method returns the call operand, or nil.
func (in *Instruction) Method() *MethodRef {
	m, _ := in.Operand.(*MethodRef)
	return m
}

// Field returns the field operand, or nil.
func (in *Instruction) Field() *FieldRef {
	f, _ := in.Operand.(*FieldRef)
	return f
}

// Int returns an int operand.
func (in *Instruction) Int() int {
	n, _ := in.Operand.(int)
	return n
}

// Str returns a string operand.
func (in *Instruction) Str() string {
	s, _ := in.Operand.(string)
	return s
}

// ExceptionHandler is a try/catch region. Boundaries are instruction handles;
// TryEnd and HandlerEnd are exclusive (nil means end of body).
type ExceptionHandler struct {
	TryStart     *Instruction
	TryEnd       *Instruction
	HandlerStart *Instruction
	HandlerEnd   *Instruction
	CatchType    string
}

// Body is the instruction stream of a method.
type Body struct {
	Instructions      []*Instruction
	Locals            []*TypeRef
	ExceptionHandlers []*ExceptionHandler
}

// IndexOf returns the position of in, or -1.
func (b *Body) IndexOf(in *Instruction) int {
	for i, cur := range b.Instructions {
		if cur == in {
			return i
		}
	}
	return -1
}

// Insert places block at position idx, shifting later instructions.
func (b *Body) Insert(idx int, block ...*Instruction) {
	if len(block) == 0 {
		return
	}
	out := make([]*Instruction, 0, len(b.Instructions)+len(block))
	out = append(out, b.Instructions[:idx]...)
	out = append(out, block...)
	out = append(out, b.Instructions[idx:]...)
	b.Instructions = out
}

// Returns lists every ret instruction in stream order.
func (b *Body) Returns() []*Instruction {
	var out []*Instruction
	for _, in := range b.Instructions {
		if in.OpCode == OpRet {
			out = append(out, in)
		}
	}
	return out
}
