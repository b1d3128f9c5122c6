package compiler

import (
	_ "embed"
	"fmt"
	"strconv"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/nullguard/internal/ir"
)

//go:embed schema.cue
var schemaSource string

// CompileAssembly parses a CUE value into an Assembly.
// The value is checked against the #Assembly schema first, so unknown
// fields and misspelled keywords fail with their CUE position.
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(src)
//	asm, err := CompileAssembly(v.LookupPath(cue.ParsePath("assembly")))
func CompileAssembly(v cue.Value) (*ir.Assembly, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	schema := v.Context().CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	v = schema.LookupPath(cue.ParsePath("#Assembly")).Unify(v)
	if err := v.Validate(); err != nil {
		return nil, formatCUEError(err)
	}

	c := &assemblyCompiler{asm: &ir.Assembly{}, valueTypes: map[string]bool{}}
	var err error
	if c.asm.Name, err = requiredString(v, "name"); err != nil {
		return nil, err
	}
	if c.asm.References, err = stringList(v, "references"); err != nil {
		return nil, err
	}
	if c.asm.Attributes, err = attributes(v, "attributes"); err != nil {
		return nil, err
	}

	// Declare every type before reading signatures so that forward
	// references resolve to the right kind.
	err = each(v, "types", func(tv cue.Value) error {
		t, err := c.declare(tv)
		if err != nil {
			return err
		}
		c.asm.Types = append(c.asm.Types, t)
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.asm.Link()
	for _, p := range c.pending {
		if p.def.IsValueType() {
			c.valueTypes[p.def.FullName()] = true
		}
	}

	for _, p := range c.pending {
		if err := c.define(p); err != nil {
			return nil, err
		}
	}
	c.asm.Link()
	return c.asm, nil
}

// CompileSource compiles a CUE document whose top-level "assembly" field
// describes one assembly. filename becomes the assembly path.
func CompileSource(filename string, src []byte) (*ir.Assembly, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	av := v.LookupPath(cue.ParsePath("assembly"))
	if !av.Exists() {
		return nil, &CompileError{
			Field:   "assembly",
			Message: "assembly is required",
			Pos:     v.Pos(),
		}
	}
	asm, err := CompileAssembly(av)
	if err != nil {
		return nil, err
	}
	asm.Path = filename
	return asm, nil
}

type pendingType struct {
	def      *ir.TypeDef
	value    cue.Value
	generics []cue.Value
}

type assemblyCompiler struct {
	asm        *ir.Assembly
	pending    []pendingType
	valueTypes map[string]bool
}

var categories = map[string]ir.TypeCategory{
	"class":     ir.CategoryClass,
	"struct":    ir.CategoryStruct,
	"interface": ir.CategoryInterface,
	"enum":      ir.CategoryEnum,
}

// declare creates the type skeleton: names, kind, modifiers, generic
// parameters and nested types.
func (c *assemblyCompiler) declare(v cue.Value) (*ir.TypeDef, error) {
	t := &ir.TypeDef{Visibility: ir.Public}
	var err error
	if t.Name, err = requiredString(v, "name"); err != nil {
		return nil, err
	}
	if t.Namespace, _, err = optString(v, "namespace"); err != nil {
		return nil, err
	}
	if kind, ok, err := optString(v, "kind"); err != nil {
		return nil, err
	} else if ok {
		t.Category = categories[kind]
	}
	if t.Visibility, err = visibility(v); err != nil {
		return nil, err
	}
	if t.IsAbstract, err = optBool(v, "abstract"); err != nil {
		return nil, err
	}
	if t.IsSealed, err = optBool(v, "sealed"); err != nil {
		return nil, err
	}
	gps, gvs, err := genericParams(v)
	if err != nil {
		return nil, err
	}
	t.GenericParams = gps
	if len(gps) > 0 && !strings.Contains(t.Name, "`") {
		t.Name += "`" + strconv.Itoa(len(gps))
	}
	c.pending = append(c.pending, pendingType{def: t, value: v, generics: gvs})

	err = each(v, "nested", func(nv cue.Value) error {
		n, err := c.declare(nv)
		if err != nil {
			return err
		}
		t.NestedTypes = append(t.NestedTypes, n)
		return nil
	})
	return t, err
}

// define reads the signatures and members of a declared type.
func (c *assemblyCompiler) define(p pendingType) error {
	t, v := p.def, p.value
	sc := &scope{valueTypes: c.valueTypes, typeParams: t.GenericParams}
	if err := constraints(t.GenericParams, p.generics, sc); err != nil {
		return err
	}

	var err error
	if base, ok, err := optString(v, "base"); err != nil {
		return err
	} else if ok {
		if t.BaseType, err = c.typeAt(v, "base", base, sc); err != nil {
			return err
		}
	}
	err = each(v, "interfaces", func(iv cue.Value) error {
		s, err := iv.String()
		if err != nil {
			return formatCUEError(err)
		}
		ref, err := parseType(s, sc)
		if err != nil {
			return fieldError("interfaces", iv.Pos(), err)
		}
		t.Interfaces = append(t.Interfaces, ref)
		return nil
	})
	if err != nil {
		return err
	}
	if t.Attributes, err = attributes(v, "attributes"); err != nil {
		return err
	}

	err = each(v, "fields", func(fv cue.Value) error {
		f := &ir.FieldDef{}
		var err error
		if f.Name, err = requiredString(fv, "name"); err != nil {
			return err
		}
		typ, err := requiredString(fv, "type")
		if err != nil {
			return err
		}
		if f.Type, err = c.typeAt(fv, "type", typ, sc); err != nil {
			return err
		}
		if f.IsStatic, err = optBool(fv, "static"); err != nil {
			return err
		}
		t.Fields = append(t.Fields, f)
		return nil
	})
	if err != nil {
		return err
	}

	err = each(v, "methods", func(mv cue.Value) error {
		m, err := c.method(mv, sc)
		if err != nil {
			return err
		}
		t.Methods = append(t.Methods, m)
		return nil
	})
	if err != nil {
		return err
	}

	return each(v, "properties", func(pv cue.Value) error {
		return c.property(t, pv, sc)
	})
}

func (c *assemblyCompiler) method(v cue.Value, typeScope *scope) (*ir.MethodDef, error) {
	m := &ir.MethodDef{}
	var err error
	if m.Name, err = requiredString(v, "name"); err != nil {
		return nil, err
	}
	if m.Visibility, err = visibility(v); err != nil {
		return nil, err
	}
	for _, b := range []struct {
		field string
		dst   *bool
	}{
		{"static", &m.IsStatic},
		{"virtual", &m.IsVirtual},
		{"abstract", &m.IsAbstract},
		{"newslot", &m.IsNewSlot},
	} {
		if *b.dst, err = optBool(v, b.field); err != nil {
			return nil, err
		}
	}

	gps, gvs, err := genericParams(v)
	if err != nil {
		return nil, err
	}
	m.GenericParams = gps
	for _, gp := range gps {
		gp.Owner = ir.OwnerMethod
	}
	sc := &scope{valueTypes: typeScope.valueTypes, typeParams: typeScope.typeParams, methodParams: gps}
	if err := constraints(gps, gvs, sc); err != nil {
		return nil, err
	}

	m.ReturnType = ir.Void()
	if ret, ok, err := optString(v, "returns"); err != nil {
		return nil, err
	} else if ok {
		if m.ReturnType, err = c.typeAt(v, "returns", ret, sc); err != nil {
			return nil, err
		}
	}
	if m.Attributes, err = attributes(v, "attributes"); err != nil {
		return nil, err
	}
	if m.ReturnAttributes, err = attributes(v, "return_attributes"); err != nil {
		return nil, err
	}

	err = each(v, "params", func(pv cue.Value) error {
		p, err := c.param(pv, sc)
		if err != nil {
			return err
		}
		m.Params = append(m.Params, p)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = each(v, "overrides", func(ov cue.Value) error {
		s, err := ov.String()
		if err != nil {
			return formatCUEError(err)
		}
		ref, err := parseMethodRef(s, sc)
		if err != nil {
			return fieldError("overrides", ov.Pos(), err)
		}
		ref.HasThis = true
		m.Overrides = append(m.Overrides, ref)
		return nil
	})
	if err != nil {
		return nil, err
	}

	bv := v.LookupPath(cue.ParsePath("body"))
	if !bv.Exists() || !bv.IsConcrete() {
		return m, nil
	}
	src, err := bv.String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	if m.Body, err = assemble(src, sc); err != nil {
		return nil, fieldError("body", bv.Pos(), fmt.Errorf("%s: %w", m.Name, err))
	}
	err = each(v, "locals", func(lv cue.Value) error {
		s, err := lv.String()
		if err != nil {
			return formatCUEError(err)
		}
		ref, err := parseType(s, sc)
		if err != nil {
			return fieldError("locals", lv.Pos(), err)
		}
		m.Body.Locals = append(m.Body.Locals, ref)
		return nil
	})
	return m, err
}

func (c *assemblyCompiler) param(v cue.Value, sc *scope) (*ir.ParamDef, error) {
	p := &ir.ParamDef{}
	var err error
	if p.Name, err = requiredString(v, "name"); err != nil {
		return nil, err
	}
	typ, err := requiredString(v, "type")
	if err != nil {
		return nil, err
	}
	if p.Type, err = c.typeAt(v, "type", typ, sc); err != nil {
		return nil, err
	}
	if p.IsOut, err = optBool(v, "out"); err != nil {
		return nil, err
	}
	if p.IsIn, err = optBool(v, "in_ref"); err != nil {
		return nil, err
	}
	if p.IsOptional, err = optBool(v, "optional"); err != nil {
		return nil, err
	}
	if p.IsOut && !p.Type.IsByRef() {
		p.Type = ir.ByRef(p.Type)
	}
	if dv := v.LookupPath(cue.ParsePath("default")); dv.Exists() && dv.IsConcrete() {
		p.IsOptional = true
		p.HasDefault = true
		p.DefaultIsNull = dv.Kind() == cue.NullKind
	}
	if p.Attributes, err = attributes(v, "attributes"); err != nil {
		return nil, err
	}
	return p, nil
}

// property binds accessors by method name, or synthesizes a backing field
// and both accessors when auto is set.
func (c *assemblyCompiler) property(t *ir.TypeDef, v cue.Value, sc *scope) error {
	p := &ir.PropertyDef{}
	var err error
	if p.Name, err = requiredString(v, "name"); err != nil {
		return err
	}
	typ, err := requiredString(v, "type")
	if err != nil {
		return err
	}
	if p.Type, err = c.typeAt(v, "type", typ, sc); err != nil {
		return err
	}
	if p.Attributes, err = attributes(v, "attributes"); err != nil {
		return err
	}
	auto, err := optBool(v, "auto")
	if err != nil {
		return err
	}
	getter, hasGet, err := optString(v, "get")
	if err != nil {
		return err
	}
	setter, hasSet, err := optString(v, "set")
	if err != nil {
		return err
	}

	if auto {
		if hasGet || hasSet {
			return &CompileError{
				Field:   "auto",
				Message: fmt.Sprintf("property %s: auto cannot be combined with get or set", p.Name),
				Pos:     v.Pos(),
			}
		}
		autoProperty(t, p)
		return nil
	}

	bind := func(field, name string) (*ir.MethodDef, error) {
		m := t.FindMethod(name)
		if m == nil {
			return nil, &CompileError{
				Field:   field,
				Message: fmt.Sprintf("property %s: %q is not a method of %s", p.Name, name, t.FullName()),
				Pos:     v.LookupPath(cue.ParsePath(field)).Pos(),
			}
		}
		return m, nil
	}
	if hasGet {
		if p.Getter, err = bind("get", getter); err != nil {
			return err
		}
	}
	if hasSet {
		if p.Setter, err = bind("set", setter); err != nil {
			return err
		}
	}
	t.Properties = append(t.Properties, p)
	return nil
}

// autoProperty adds the backing field and the trivial accessors the
// compiler emits for an auto-implemented property.
func autoProperty(t *ir.TypeDef, p *ir.PropertyDef) {
	field := &ir.FieldDef{Name: "<" + p.Name + ">k__BackingField", Type: p.Type}
	ref := &ir.FieldRef{DeclaringType: t.FullName(), Name: field.Name, Type: p.Type}
	compilerGenerated := []ir.CustomAttribute{{Type: "System.Runtime.CompilerServices.CompilerGeneratedAttribute"}}

	p.Getter = &ir.MethodDef{
		Name:       "get_" + p.Name,
		Visibility: ir.Public,
		ReturnType: p.Type,
		Attributes: compilerGenerated,
		Body: &ir.Body{Instructions: []*ir.Instruction{
			ir.NewInstruction(ir.OpLdarg, 0),
			ir.NewInstruction(ir.OpLdfld, ref),
			ir.NewInstruction(ir.OpRet, nil),
		}},
	}
	p.Setter = &ir.MethodDef{
		Name:       "set_" + p.Name,
		Visibility: ir.Public,
		ReturnType: ir.Void(),
		Params:     []*ir.ParamDef{{Name: "value", Type: p.Type}},
		Attributes: compilerGenerated,
		Body: &ir.Body{Instructions: []*ir.Instruction{
			ir.NewInstruction(ir.OpLdarg, 0),
			ir.NewInstruction(ir.OpLdarg, 1),
			ir.NewInstruction(ir.OpStfld, ref),
			ir.NewInstruction(ir.OpRet, nil),
		}},
	}
	t.Fields = append(t.Fields, field)
	t.Methods = append(t.Methods, p.Getter, p.Setter)
	t.Properties = append(t.Properties, p)
}

// typeAt parses a type signature read from field of v.
func (c *assemblyCompiler) typeAt(v cue.Value, field, src string, sc *scope) (*ir.TypeRef, error) {
	t, err := parseType(src, sc)
	if err != nil {
		return nil, fieldError(field, v.LookupPath(cue.ParsePath(field)).Pos(), err)
	}
	return t, nil
}

// genericParams reads generic parameter names and kind constraints. Type
// constraints are resolved later by constraints, once the scope exists.
func genericParams(v cue.Value) ([]*ir.GenericParam, []cue.Value, error) {
	var gps []*ir.GenericParam
	var values []cue.Value
	err := each(v, "generic_params", func(gv cue.Value) error {
		gp := &ir.GenericParam{}
		if gv.IncompleteKind() == cue.StringKind {
			name, err := gv.String()
			if err != nil {
				return formatCUEError(err)
			}
			gp.Name = name
		} else {
			var err error
			if gp.Name, err = requiredString(gv, "name"); err != nil {
				return err
			}
			kind, _, err := optString(gv, "constraint")
			if err != nil {
				return err
			}
			gp.HasReferenceTypeConstraint = kind == "class"
			gp.HasValueTypeConstraint = kind == "struct"
			if gp.Attributes, err = attributes(gv, "attributes"); err != nil {
				return err
			}
		}
		gps = append(gps, gp)
		values = append(values, gv)
		return nil
	})
	return gps, values, err
}

func constraints(gps []*ir.GenericParam, values []cue.Value, sc *scope) error {
	for i, gv := range values {
		if gv.IncompleteKind() == cue.StringKind {
			continue
		}
		err := each(gv, "constraints", func(cv cue.Value) error {
			s, err := cv.String()
			if err != nil {
				return formatCUEError(err)
			}
			ref, err := parseType(s, sc)
			if err != nil {
				return fieldError("constraints", cv.Pos(), err)
			}
			gps[i].Constraints = append(gps[i].Constraints, ref)
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func attributes(v cue.Value, path string) ([]ir.CustomAttribute, error) {
	var out []ir.CustomAttribute
	err := each(v, path, func(av cue.Value) error {
		if av.IncompleteKind() == cue.StringKind {
			s, err := av.String()
			if err != nil {
				return formatCUEError(err)
			}
			out = append(out, ir.CustomAttribute{Type: s})
			return nil
		}
		typ, err := requiredString(av, "type")
		if err != nil {
			return err
		}
		a := ir.CustomAttribute{Type: typ}
		err = each(av, "args", func(arg cue.Value) error {
			x, err := attributeArg(arg)
			if err != nil {
				return err
			}
			a.Args = append(a.Args, x)
			return nil
		})
		if err != nil {
			return err
		}
		out = append(out, a)
		return nil
	})
	return out, err
}

func attributeArg(v cue.Value) (any, error) {
	switch v.Kind() {
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return n, nil
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return s, nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return b, nil
	case cue.ListKind:
		var xs []int64
		err := eachElem(v, func(ev cue.Value) error {
			n, err := ev.Int64()
			if err != nil {
				return formatCUEError(err)
			}
			xs = append(xs, n)
			return nil
		})
		return xs, err
	default:
		return nil, &CompileError{
			Field:   "args",
			Message: fmt.Sprintf("unsupported attribute argument kind: %v", v.Kind()),
			Pos:     v.Pos(),
		}
	}
}

func visibility(v cue.Value) (ir.Visibility, error) {
	s, ok, err := optString(v, "visibility")
	if err != nil || !ok {
		return ir.Public, err
	}
	vis, _ := ir.ParseVisibility(s)
	return vis, nil
}

func requiredString(v cue.Value, path string) (string, error) {
	s, ok, err := optString(v, path)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", &CompileError{
			Field:   path,
			Message: path + " is required",
			Pos:     v.Pos(),
		}
	}
	return s, nil
}

// optString reads a string field. Fields left at their schema type count
// as absent.
func optString(v cue.Value, path string) (string, bool, error) {
	fv := v.LookupPath(cue.ParsePath(path))
	if !fv.Exists() || !fv.IsConcrete() {
		return "", false, nil
	}
	s, err := fv.String()
	if err != nil {
		return "", false, formatCUEError(err)
	}
	return s, true, nil
}

func optBool(v cue.Value, path string) (bool, error) {
	fv := v.LookupPath(cue.ParsePath(path))
	if !fv.Exists() || !fv.IsConcrete() {
		return false, nil
	}
	b, err := fv.Bool()
	if err != nil {
		return false, formatCUEError(err)
	}
	return b, nil
}

func stringList(v cue.Value, path string) ([]string, error) {
	var out []string
	err := each(v, path, func(ev cue.Value) error {
		s, err := ev.String()
		if err != nil {
			return formatCUEError(err)
		}
		out = append(out, s)
		return nil
	})
	return out, err
}

// each calls fn for every element of the list at path, if present.
func each(v cue.Value, path string, fn func(cue.Value) error) error {
	lv := v.LookupPath(cue.ParsePath(path))
	if !lv.Exists() {
		return nil
	}
	return eachElem(lv, fn)
}

func eachElem(lv cue.Value, fn func(cue.Value) error) error {
	iter, err := lv.List()
	if err != nil {
		return formatCUEError(err)
	}
	for iter.Next() {
		if err := fn(iter.Value()); err != nil {
			return err
		}
	}
	return nil
}
