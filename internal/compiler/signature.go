package compiler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/nullguard/internal/ir"
)

// builtins are the keyword spellings of primitive types.
var builtins = map[string]func() *ir.TypeRef{
	"void":   ir.Void,
	"object": ir.Object,
	"string": ir.String,
	"bool":   ir.Boolean,
	"int":    ir.Int32,
	"int32":  ir.Int32,
	"long":   func() *ir.TypeRef { return ir.ValueType(ir.TypeNameInt64) },
	"int64":  func() *ir.TypeRef { return ir.ValueType(ir.TypeNameInt64) },
	"char":   func() *ir.TypeRef { return ir.ValueType("System.Char") },
	"byte":   func() *ir.TypeRef { return ir.ValueType("System.Byte") },
	"double": func() *ir.TypeRef { return ir.ValueType("System.Double") },
	"float":  func() *ir.TypeRef { return ir.ValueType("System.Single") },
}

// knownValueTypes are framework value types that need no valuetype prefix.
var knownValueTypes = map[string]bool{
	ir.TypeNameInt32:     true,
	ir.TypeNameInt64:     true,
	ir.TypeNameBoolean:   true,
	ir.TypeNameNullable:  true,
	ir.TypeNameValueTask: true,
	ir.AsyncBuilder:      true,
	ir.AsyncBuilderOfT:   true,
	"System.Char":        true,
	"System.Byte":        true,
	"System.Double":      true,
	"System.Single":      true,
	"System.Decimal":     true,
	"System.Guid":        true,
	"System.DateTime":    true,
	"System.TimeSpan":    true,
	"System.IntPtr":      true,
}

// scope resolves names used inside signatures.
type scope struct {
	valueTypes   map[string]bool
	typeParams   []*ir.GenericParam
	methodParams []*ir.GenericParam
}

func (sc *scope) isValueType(name string) bool {
	if knownValueTypes[name] {
		return true
	}
	return sc.valueTypes[name]
}

func findGeneric(params []*ir.GenericParam, name string) *ir.GenericParam {
	for _, gp := range params {
		if gp.Name == name {
			return gp
		}
	}
	return nil
}

// sigParser reads type, method and field signatures such as
//
//	instance void System.ArgumentNullException::.ctor(string)
//	System.Threading.Tasks.Task<string>
//	!!T[]
type sigParser struct {
	src string
	pos int
	sc  *scope
}

func newSigParser(src string, sc *scope) *sigParser {
	if sc == nil {
		sc = &scope{}
	}
	return &sigParser{src: src, sc: sc}
}

func (p *sigParser) errorf(format string, args ...any) error {
	return fmt.Errorf("%q at offset %d: %s", p.src, p.pos, fmt.Sprintf(format, args...))
}

func (p *sigParser) skipSpace() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t') {
		p.pos++
	}
}

func (p *sigParser) eof() bool {
	p.skipSpace()
	return p.pos >= len(p.src)
}

// consume skips spaces and then s, if present.
func (p *sigParser) consume(s string) bool {
	p.skipSpace()
	if strings.HasPrefix(p.src[p.pos:], s) {
		p.pos += len(s)
		return true
	}
	return false
}

// consumeTight consumes s only when it directly follows the cursor.
func (p *sigParser) consumeTight(s string) bool {
	if strings.HasPrefix(p.src[p.pos:], s) {
		p.pos += len(s)
		return true
	}
	return false
}

func (p *sigParser) expect(s string) error {
	if !p.consume(s) {
		return p.errorf("expected %q", s)
	}
	return nil
}

// keyword consumes word when it stands alone.
func (p *sigParser) keyword(word string) bool {
	p.skipSpace()
	rest := p.src[p.pos:]
	if !strings.HasPrefix(rest, word) {
		return false
	}
	if len(rest) > len(word) && rest[len(word)] != ' ' {
		return false
	}
	p.pos += len(word)
	return true
}

func isNameByte(c byte) bool {
	return c == '_' || c == '.' || c == '`' || c == '/' || c == '$' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// name reads a dotted or nested name. A '<' opening a segment belongs to
// the name, as in compiler-generated "<Load>d__0"; elsewhere it starts
// generic arguments.
func (p *sigParser) name() string {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch {
		case c == '<' && (p.pos == start || p.src[p.pos-1] == '/' || p.src[p.pos-1] == '.'):
			end := strings.IndexByte(p.src[p.pos:], '>')
			if end < 0 {
				return p.src[start:p.pos]
			}
			p.pos += end + 1
		case isNameByte(c):
			p.pos++
		default:
			return p.src[start:p.pos]
		}
	}
	return p.src[start:p.pos]
}

func (p *sigParser) parseType() (*ir.TypeRef, error) {
	var prefix string
	switch {
	case p.keyword("class"):
		prefix = "class"
	case p.keyword("valuetype"):
		prefix = "valuetype"
	}

	var t *ir.TypeRef
	switch {
	case p.consume("!!"):
		n := p.name()
		gp := findGeneric(p.sc.methodParams, n)
		if gp == nil {
			return nil, p.errorf("unknown method generic parameter %q", n)
		}
		t = ir.GenericUse(gp)
	case p.consume("!"):
		n := p.name()
		gp := findGeneric(p.sc.typeParams, n)
		if gp == nil {
			return nil, p.errorf("unknown type generic parameter %q", n)
		}
		t = ir.GenericUse(gp)
	default:
		n := p.name()
		if n == "" {
			return nil, p.errorf("expected a type")
		}
		if b, ok := builtins[n]; ok && prefix == "" {
			t = b()
			break
		}
		var args []*ir.TypeRef
		if p.consumeTight("<") {
			for {
				arg, err := p.parseType()
				if err != nil {
					return nil, err
				}
				args = append(args, arg)
				if p.consume(",") {
					continue
				}
				if err := p.expect(">"); err != nil {
					return nil, err
				}
				break
			}
			if !strings.Contains(n, "`") {
				n += "`" + strconv.Itoa(len(args))
			}
		}
		open := ir.Class(n)
		if prefix == "valuetype" || (prefix == "" && p.sc.isValueType(n)) {
			open = ir.ValueType(n)
		}
		t = open
		if len(args) > 0 {
			t = ir.Instance(open, args...)
		}
	}

	for {
		switch {
		case p.consumeTight("[]"):
			t = ir.ArrayOf(t)
		case p.consumeTight("&"):
			t = ir.ByRef(t)
		case p.consumeTight("*"):
			t = ir.Pointer(t)
		default:
			return t, nil
		}
	}
}

// member reads "DeclaringType::name".
func (p *sigParser) member() (string, string, error) {
	decl, err := p.parseType()
	if err != nil {
		return "", "", err
	}
	if err := p.expect("::"); err != nil {
		return "", "", err
	}
	n := p.name()
	if n == "" {
		return "", "", p.errorf("expected a member name")
	}
	return decl.String(), n, nil
}

func (p *sigParser) parseMethodRef() (*ir.MethodRef, error) {
	ref := &ir.MethodRef{HasThis: p.keyword("instance")}
	ret, err := p.parseType()
	if err != nil {
		return nil, err
	}
	ref.ReturnType = ret
	if ref.DeclaringType, ref.Name, err = p.member(); err != nil {
		return nil, err
	}
	if err := p.expect("("); err != nil {
		return nil, err
	}
	if !p.consume(")") {
		for {
			pt, err := p.parseType()
			if err != nil {
				return nil, err
			}
			ref.Params = append(ref.Params, pt)
			if p.consume(",") {
				continue
			}
			if err := p.expect(")"); err != nil {
				return nil, err
			}
			break
		}
	}
	return ref, p.end()
}

func (p *sigParser) parseFieldRef() (*ir.FieldRef, error) {
	typ, err := p.parseType()
	if err != nil {
		return nil, err
	}
	ref := &ir.FieldRef{Type: typ}
	if ref.DeclaringType, ref.Name, err = p.member(); err != nil {
		return nil, err
	}
	return ref, p.end()
}

func (p *sigParser) end() error {
	if !p.eof() {
		return p.errorf("unexpected %q", p.src[p.pos:])
	}
	return nil
}

// parseType parses a complete type signature.
func parseType(src string, sc *scope) (*ir.TypeRef, error) {
	p := newSigParser(src, sc)
	t, err := p.parseType()
	if err != nil {
		return nil, err
	}
	return t, p.end()
}

// parseMethodRef parses "[instance] Ret Decl::Name(params)".
func parseMethodRef(src string, sc *scope) (*ir.MethodRef, error) {
	return newSigParser(src, sc).parseMethodRef()
}

// parseFieldRef parses "Type Decl::name".
func parseFieldRef(src string, sc *scope) (*ir.FieldRef, error) {
	return newSigParser(src, sc).parseFieldRef()
}
