package ir

import (
	"fmt"
	"strconv"
	"strings"
)

// Label returns the IL_xxxx label of position idx.
func Label(idx int) string {
	return fmt.Sprintf("IL_%04x", idx)
}

// ListBody renders a body as one line per instruction followed by its
// exception handler table. Branch operands print as labels of their targets.
func ListBody(b *Body) []string {
	index := make(map[*Instruction]int, len(b.Instructions))
	for i, in := range b.Instructions {
		index[in] = i
	}
	label := func(in *Instruction) string {
		if in == nil {
			return "end"
		}
		if i, ok := index[in]; ok {
			return Label(i)
		}
		return "IL_????"
	}

	lines := make([]string, 0, len(b.Instructions)+len(b.ExceptionHandlers))
	for i, in := range b.Instructions {
		lines = append(lines, Label(i)+": "+formatInstruction(in, label))
	}
	for _, h := range b.ExceptionHandlers {
		lines = append(lines, fmt.Sprintf(".try %s to %s catch %s handler %s to %s",
			label(h.TryStart), label(h.TryEnd), h.CatchType, label(h.HandlerStart), label(h.HandlerEnd)))
	}
	return lines
}

func formatInstruction(in *Instruction, label func(*Instruction) string) string {
	op := in.OpCode.String()
	switch v := in.Operand.(type) {
	case nil:
		return op
	case *Instruction:
		return op + " " + label(v)
	case []*Instruction:
		labels := make([]string, len(v))
		for i, t := range v {
			labels[i] = label(t)
		}
		return op + " (" + strings.Join(labels, ",") + ")"
	case string:
		return op + " " + strconv.Quote(v)
	case int:
		return op + " " + strconv.Itoa(v)
	case *MethodRef:
		return op + " " + v.FullName()
	case *FieldRef:
		return op + " " + v.FullName()
	case *TypeRef:
		return op + " " + v.String()
	default:
		return fmt.Sprintf("%s %v", op, v)
	}
}

// FormatAttribute renders an attribute as "[Type(args)]".
func FormatAttribute(a CustomAttribute) string {
	if len(a.Args) == 0 {
		return "[" + a.Type + "]"
	}
	args := make([]string, len(a.Args))
	for i, arg := range a.Args {
		switch v := arg.(type) {
		case string:
			args[i] = strconv.Quote(v)
		default:
			args[i] = fmt.Sprint(v)
		}
	}
	return "[" + a.Type + "(" + strings.Join(args, ", ") + ")]"
}

// Disassemble renders every method of the assembly, in declaration order.
func Disassemble(a *Assembly) string {
	var b strings.Builder
	for _, t := range a.AllTypes() {
		for _, m := range t.Methods {
			b.WriteString(DisassembleMethod(m))
		}
	}
	return b.String()
}

// DisassembleMethod renders one method header and body.
func DisassembleMethod(m *MethodDef) string {
	var b strings.Builder
	fmt.Fprintf(&b, ".method %s %s\n", m.Visibility, m.FullName())
	if m.Body == nil {
		return b.String()
	}
	for _, line := range ListBody(m.Body) {
		b.WriteString("  ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}
