package compiler

import (
	"fmt"
	"strings"

	"github.com/roach88/nullguard/internal/ir"
)

// Validation error codes (E100-E199)
const (
	ErrAssemblyNameEmpty = "E101" // assembly name is required
	ErrDuplicateType     = "E102" // two types share a full name
	ErrDuplicateMember   = "E103" // duplicate method signature, field or property
	ErrArgumentSlot      = "E104" // ldarg/starg slot out of range
	ErrLocalSlot         = "E105" // ldloc/stloc/ldloca slot out of range
	ErrForeignTarget     = "E106" // branch or handler boundary outside the body
	ErrAccessorShape     = "E107" // accessor signature does not match its property
	ErrAbstractBody      = "E108" // abstract method carries a body
	ErrFallsThrough      = "E109" // body runs off its last instruction
)

// ValidationError represents a structural error in a compiled assembly.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks a compiled assembly for structural errors the weaver
// and interpreter assume away. Returns all errors found (does not
// fail-fast).
func Validate(asm *ir.Assembly) []ValidationError {
	var errs []ValidationError

	// E101: assembly name is required
	if strings.TrimSpace(asm.Name) == "" {
		errs = append(errs, ValidationError{
			Field:   "name",
			Message: "assembly name is required and must be non-empty",
			Code:    ErrAssemblyNameEmpty,
		})
	}

	typeNames := make(map[string]bool)
	for _, t := range asm.AllTypes() {
		// E102: duplicate type
		if typeNames[t.FullName()] {
			errs = append(errs, ValidationError{
				Field:   t.FullName(),
				Message: fmt.Sprintf("duplicate type name: %q", t.FullName()),
				Code:    ErrDuplicateType,
			})
		}
		typeNames[t.FullName()] = true
		errs = append(errs, validateType(t)...)
	}
	return errs
}

func validateType(t *ir.TypeDef) []ValidationError {
	var errs []ValidationError
	dup := func(kind, name string) {
		errs = append(errs, ValidationError{
			Field:   t.FullName(),
			Message: fmt.Sprintf("duplicate %s: %q", kind, name),
			Code:    ErrDuplicateMember,
		})
	}

	// E103: duplicate members
	fields := make(map[string]bool)
	for _, f := range t.Fields {
		if fields[f.Name] {
			dup("field", f.Name)
		}
		fields[f.Name] = true
	}
	methods := make(map[string]bool)
	for _, m := range t.Methods {
		sig := m.FullName()
		if methods[sig] {
			dup("method", sig)
		}
		methods[sig] = true
		errs = append(errs, validateMethod(t, m)...)
	}
	props := make(map[string]bool)
	for _, p := range t.Properties {
		if props[p.Name] {
			dup("property", p.Name)
		}
		props[p.Name] = true
		errs = append(errs, validateAccessors(t, p)...)
	}
	return errs
}

func validateMethod(t *ir.TypeDef, m *ir.MethodDef) []ValidationError {
	var errs []ValidationError
	name := m.FullName()

	// E108: abstract methods have no body
	if m.IsAbstract && m.HasBody() {
		errs = append(errs, ValidationError{
			Field:   name,
			Message: "abstract method must not have a body",
			Code:    ErrAbstractBody,
		})
	}
	if !m.HasBody() {
		return errs
	}

	body := m.Body
	args := len(m.Params)
	if m.HasThis() {
		args++
	}
	at := func(i int) string {
		return name + " " + ir.Label(i)
	}
	inBody := func(in *ir.Instruction) bool {
		return in == nil || body.IndexOf(in) >= 0
	}

	for i, in := range body.Instructions {
		switch in.OpCode {
		case ir.OpLdarg, ir.OpStarg:
			// E104: argument slot
			if n := in.Int(); n < 0 || n >= args {
				errs = append(errs, ValidationError{
					Field:   at(i),
					Message: fmt.Sprintf("argument slot %d out of range (method has %d)", n, args),
					Code:    ErrArgumentSlot,
				})
			}
		case ir.OpLdloc, ir.OpStloc, ir.OpLdloca:
			// E105: local slot
			if n := in.Int(); n < 0 || n >= len(body.Locals) {
				errs = append(errs, ValidationError{
					Field:   at(i),
					Message: fmt.Sprintf("local slot %d out of range (method has %d)", n, len(body.Locals)),
					Code:    ErrLocalSlot,
				})
			}
		}

		// E106: branch targets
		targets := in.Targets()
		if tgt := in.Target(); tgt != nil {
			targets = append(targets, tgt)
		}
		for _, tgt := range targets {
			if !inBody(tgt) {
				errs = append(errs, ValidationError{
					Field:   at(i),
					Message: "branch target is not an instruction of this body",
					Code:    ErrForeignTarget,
				})
			}
		}
	}

	for i, h := range body.ExceptionHandlers {
		for _, b := range []*ir.Instruction{h.TryStart, h.TryEnd, h.HandlerStart, h.HandlerEnd} {
			if !inBody(b) {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("%s handler %d", name, i),
					Message: "handler boundary is not an instruction of this body",
					Code:    ErrForeignTarget,
				})
				break
			}
		}
	}

	// E109: control must not run off the end
	switch last := body.Instructions[len(body.Instructions)-1]; last.OpCode {
	case ir.OpRet, ir.OpThrow, ir.OpBr, ir.OpLeave:
	default:
		errs = append(errs, ValidationError{
			Field:   at(len(body.Instructions) - 1),
			Message: fmt.Sprintf("body ends with %s instead of ret, throw or an unconditional branch", last.OpCode),
			Code:    ErrFallsThrough,
		})
	}
	return errs
}

// validateAccessors checks getter and setter shapes against the property.
func validateAccessors(t *ir.TypeDef, p *ir.PropertyDef) []ValidationError {
	var errs []ValidationError
	bad := func(msg string) {
		errs = append(errs, ValidationError{
			Field:   p.FullName(),
			Message: msg,
			Code:    ErrAccessorShape,
		})
	}
	typ := p.Type.String()
	if g := p.Getter; g != nil {
		switch {
		case g.DeclaringType != t:
			bad(fmt.Sprintf("getter %s is declared on another type", g.Name))
		case len(g.Params) != 0:
			bad(fmt.Sprintf("getter %s must take no parameters", g.Name))
		case g.ReturnType.String() != typ:
			bad(fmt.Sprintf("getter %s returns %s, property type is %s", g.Name, g.ReturnType, typ))
		}
	}
	if s := p.Setter; s != nil {
		switch {
		case s.DeclaringType != t:
			bad(fmt.Sprintf("setter %s is declared on another type", s.Name))
		case len(s.Params) != 1:
			bad(fmt.Sprintf("setter %s must take exactly one parameter", s.Name))
		case s.Params[0].Type.String() != typ:
			bad(fmt.Sprintf("setter %s takes %s, property type is %s", s.Name, s.Params[0].Type, typ))
		case !s.ReturnType.IsVoid():
			bad(fmt.Sprintf("setter %s must return void", s.Name))
		}
	}
	return errs
}
