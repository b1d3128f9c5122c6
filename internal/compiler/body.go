package compiler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/nullguard/internal/ir"
)

// endLabel names the position after the last instruction in handler
// boundaries.
const endLabel = "end"

// aliases map alternative mnemonics onto the opcode set.
var aliases = map[string]string{
	"brnull": "brfalse",
	"brzero": "brfalse",
	"brinst": "brtrue",
}

func takesInt(op ir.OpCode) bool {
	switch op {
	case ir.OpLdarg, ir.OpStarg, ir.OpLdloc, ir.OpStloc, ir.OpLdloca, ir.OpLdcI4:
		return true
	}
	return false
}

// decodeMnemonic resolves short forms ("brtrue.s") and macro forms
// ("ldarg.1", "ldc.i4.m1"). implicit is set when the operand is encoded in
// the mnemonic.
func decodeMnemonic(s string) (op ir.OpCode, implicit *int, ok bool) {
	s = strings.ToLower(s)
	if a, found := aliases[s]; found {
		s = a
	}
	if op, ok := ir.ParseOpCode(s); ok {
		return op, nil, true
	}
	if base, found := strings.CutSuffix(s, ".s"); found {
		if op, ok := ir.ParseOpCode(base); ok {
			return op, nil, true
		}
	}
	i := strings.LastIndexByte(s, '.')
	if i < 0 {
		return ir.OpNop, nil, false
	}
	op, found := ir.ParseOpCode(s[:i])
	if !found || !takesInt(op) {
		return ir.OpNop, nil, false
	}
	suffix := s[i+1:]
	if suffix == "m1" {
		n := -1
		return op, &n, true
	}
	n, err := strconv.Atoi(suffix)
	if err != nil {
		return ir.OpNop, nil, false
	}
	return op, &n, true
}

// stripComment drops a trailing // comment outside string literals.
func stripComment(line string) string {
	inQuote := false
	for i := 0; i < len(line); i++ {
		switch c := line[i]; {
		case c == '\\' && inQuote:
			i++
		case c == '"':
			inQuote = !inQuote
		case c == '/' && !inQuote && i+1 < len(line) && line[i+1] == '/':
			return line[:i]
		}
	}
	return line
}

func isLabelName(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '_' && !(c >= 'a' && c <= 'z') && !(c >= 'A' && c <= 'Z') && !(c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}

// splitLabel returns the leading "name:" label of a line, if any.
func splitLabel(text string) (string, string, bool) {
	i := strings.IndexByte(text, ':')
	if i <= 0 || (i+1 < len(text) && text[i+1] == ':') {
		return "", text, false
	}
	name := text[:i]
	if !isLabelName(name) {
		return "", text, false
	}
	return name, strings.TrimSpace(text[i+1:]), true
}

type branchFixup struct {
	in     *ir.Instruction
	labels []string
	line   int
}

type handlerFixup struct {
	tryStart, tryEnd, handlerStart, handlerEnd string
	catchType                                  string
	line                                       int
}

// assembler turns IL text into a Body. Each line is
//
//	[label:] mnemonic [operand]   // comment
//
// and handlers are declared with
//
//	.try TRY to TRYEND catch System.Exception handler H to HEND
//
// where "end" stands for the position after the last instruction.
type assembler struct {
	sc       *scope
	body     *ir.Body
	labels   map[string]int
	pending  []string
	branches []branchFixup
	handlers []handlerFixup
}

// assemble parses src into a method body.
func assemble(src string, sc *scope) (*ir.Body, error) {
	a := &assembler{sc: sc, body: &ir.Body{}, labels: map[string]int{}}
	for i, raw := range strings.Split(src, "\n") {
		if err := a.line(i+1, strings.TrimSpace(stripComment(raw))); err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
	}
	for _, l := range a.pending {
		a.labels[l] = len(a.body.Instructions)
	}
	if err := a.resolve(); err != nil {
		return nil, err
	}
	return a.body, nil
}

func (a *assembler) line(no int, text string) error {
	if strings.HasPrefix(text, ".try") {
		return a.directive(no, text)
	}
	for {
		name, rest, ok := splitLabel(text)
		if !ok {
			break
		}
		if name == endLabel {
			return fmt.Errorf("label %q is reserved", name)
		}
		if _, dup := a.labels[name]; dup {
			return fmt.Errorf("duplicate label %q", name)
		}
		for _, p := range a.pending {
			if p == name {
				return fmt.Errorf("duplicate label %q", name)
			}
		}
		a.pending = append(a.pending, name)
		text = rest
	}
	if text == "" {
		return nil
	}

	mnemonic, rest := text, ""
	if i := strings.IndexAny(text, " \t"); i >= 0 {
		mnemonic, rest = text[:i], strings.TrimSpace(text[i+1:])
	}
	op, implicit, ok := decodeMnemonic(mnemonic)
	if !ok {
		return fmt.Errorf("unknown opcode %q", mnemonic)
	}
	in := &ir.Instruction{OpCode: op}
	if err := a.operand(no, in, rest, implicit); err != nil {
		return fmt.Errorf("%s: %w", mnemonic, err)
	}

	for _, l := range a.pending {
		a.labels[l] = len(a.body.Instructions)
	}
	a.pending = nil
	a.body.Instructions = append(a.body.Instructions, in)
	return nil
}

func (a *assembler) operand(no int, in *ir.Instruction, rest string, implicit *int) error {
	op := in.OpCode
	switch {
	case takesInt(op):
		if implicit != nil {
			if rest != "" {
				return fmt.Errorf("unexpected operand %q", rest)
			}
			in.Operand = *implicit
			return nil
		}
		n, err := strconv.Atoi(rest)
		if err != nil {
			return fmt.Errorf("expected an integer operand, got %q", rest)
		}
		in.Operand = n
	case op == ir.OpLdstr:
		s, err := strconv.Unquote(rest)
		if err != nil {
			return fmt.Errorf("expected a quoted string, got %q", rest)
		}
		in.Operand = s
	case op.IsBranch():
		if !isLabelName(rest) {
			return fmt.Errorf("expected a label, got %q", rest)
		}
		a.branches = append(a.branches, branchFixup{in: in, labels: []string{rest}, line: no})
	case op == ir.OpSwitch:
		inner, ok := strings.CutPrefix(rest, "(")
		if ok {
			inner, ok = strings.CutSuffix(inner, ")")
		}
		if !ok {
			return fmt.Errorf("expected a label table, got %q", rest)
		}
		var labels []string
		for _, l := range strings.Split(inner, ",") {
			l = strings.TrimSpace(l)
			if !isLabelName(l) {
				return fmt.Errorf("expected a label, got %q", l)
			}
			labels = append(labels, l)
		}
		a.branches = append(a.branches, branchFixup{in: in, labels: labels, line: no})
	case op.IsCall():
		ref, err := parseMethodRef(rest, a.sc)
		if err != nil {
			return err
		}
		if op != ir.OpCall {
			ref.HasThis = true
		}
		in.Operand = ref
	case op == ir.OpLdfld || op == ir.OpStfld || op == ir.OpLdflda:
		ref, err := parseFieldRef(rest, a.sc)
		if err != nil {
			return err
		}
		in.Operand = ref
	case op == ir.OpBox || op == ir.OpLdobj:
		t, err := parseType(rest, a.sc)
		if err != nil {
			return err
		}
		in.Operand = t
	default:
		if rest != "" {
			return fmt.Errorf("takes no operand, got %q", rest)
		}
	}
	return nil
}

// directive parses a .try line.
func (a *assembler) directive(no int, text string) error {
	f := strings.Fields(text)
	if len(f) != 10 || f[0] != ".try" || f[2] != "to" || f[4] != "catch" || f[6] != "handler" || f[8] != "to" {
		return fmt.Errorf("malformed handler %q: want .try A to B catch TYPE handler C to D", text)
	}
	a.handlers = append(a.handlers, handlerFixup{
		tryStart:     f[1],
		tryEnd:       f[3],
		catchType:    f[5],
		handlerStart: f[7],
		handlerEnd:   f[9],
		line:         no,
	})
	return nil
}

// target resolves a label. Labels after the last instruction, and "end",
// resolve to nil.
func (a *assembler) target(label string) (*ir.Instruction, error) {
	if label == endLabel {
		return nil, nil
	}
	idx, ok := a.labels[label]
	if !ok {
		return nil, fmt.Errorf("undefined label %q", label)
	}
	if idx >= len(a.body.Instructions) {
		return nil, nil
	}
	return a.body.Instructions[idx], nil
}

func (a *assembler) resolve() error {
	for _, fx := range a.branches {
		targets := make([]*ir.Instruction, len(fx.labels))
		for i, l := range fx.labels {
			t, err := a.target(l)
			if err != nil {
				return fmt.Errorf("line %d: %w", fx.line, err)
			}
			if t == nil {
				return fmt.Errorf("line %d: label %q does not precede an instruction", fx.line, l)
			}
			targets[i] = t
		}
		if fx.in.OpCode == ir.OpSwitch {
			fx.in.Operand = targets
		} else {
			fx.in.Operand = targets[0]
		}
	}
	for _, fx := range a.handlers {
		h := &ir.ExceptionHandler{CatchType: fx.catchType}
		var err error
		for _, b := range []struct {
			dst   **ir.Instruction
			label string
			open  bool
		}{
			{&h.TryStart, fx.tryStart, true},
			{&h.TryEnd, fx.tryEnd, false},
			{&h.HandlerStart, fx.handlerStart, true},
			{&h.HandlerEnd, fx.handlerEnd, false},
		} {
			if *b.dst, err = a.target(b.label); err != nil {
				return fmt.Errorf("line %d: %w", fx.line, err)
			}
			if b.open && *b.dst == nil {
				return fmt.Errorf("line %d: handler region cannot start at %q", fx.line, b.label)
			}
		}
		a.body.ExceptionHandlers = append(a.body.ExceptionHandlers, h)
	}
	return nil
}
