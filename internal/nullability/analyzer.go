package nullability

import (
	"fmt"

	"github.com/roach88/nullguard/internal/annotations"
	"github.com/roach88/nullguard/internal/config"
	"github.com/roach88/nullguard/internal/ir"
)

// Analyzer answers allow-null queries for one weaving session.
type Analyzer interface {
	// Mode returns the strategy this analyzer implements.
	Mode() config.Mode

	AllowsNull(p *ir.PropertyDef) bool
	AllowsNullInput(p *ir.ParamDef, m *ir.MethodDef) bool
	AllowsNullOutput(p *ir.ParamDef, m *ir.MethodDef) bool
	AllowsNullReturnValue(m *ir.MethodDef) bool
	AllowsNullAsyncResult(m *ir.MethodDef, result *ir.TypeRef) bool
	AllowsGetterToReturnNull(p *ir.PropertyDef, getter *ir.MethodDef) bool
	AllowsSetterToAcceptNull(p *ir.PropertyDef, setter *ir.MethodDef, value *ir.ParamDef) bool

	// CheckForBadDeclarations reports contradictory or meaningless markers.
	// Every returned diagnostic is an error.
	CheckForBadDeclarations(types []*ir.TypeDef) []Diagnostic
}

// Diagnostic is a declaration problem found by an analyzer.
type Diagnostic struct {
	Member  string
	Message string
}

// Options carries the session state analyzers read from.
type Options struct {
	// Universe resolves base types and interfaces across assemblies.
	Universe *ir.Universe

	// Annotations holds the external annotation indexes, already loaded.
	Annotations *annotations.Cache
}

// New creates the analyzer for an explicit mode. ModeAuto is rejected; use
// Detect first.
func New(mode config.Mode, opts Options) (Analyzer, error) {
	if opts.Universe == nil {
		opts.Universe = ir.NewUniverse()
	}
	switch mode {
	case config.ModeImplicit:
		return newImplicit(), nil
	case config.ModeExplicit:
		return newExplicit(opts), nil
	case config.ModeNullableReferenceTypes:
		return newNRT(), nil
	default:
		return nil, fmt.Errorf("no analyzer for mode %q", mode)
	}
}

// Select resolves requested against the assembly's markers and builds the
// analyzer. An empty or auto mode is detected.
func Select(asm *ir.Assembly, requested config.Mode, opts Options) (Analyzer, error) {
	if requested == "" || requested == config.ModeAuto {
		requested = Detect(asm)
	}
	return New(requested, opts)
}

// Detect picks the strategy from the markers present in asm: nullable
// compiler metadata selects NullableReferenceTypes, any NotNull or
// ItemNotNull marker selects Explicit, anything else Implicit.
func Detect(asm *ir.Assembly) config.Mode {
	nrt, notNull := false, false
	visit := func(attrs []ir.CustomAttribute) {
		for _, a := range attrs {
			switch a.Type {
			case NullableAttribute, NullableContextAttribute, NullablePublicOnlyAttribute:
				nrt = true
				continue
			}
			if isCodeAnalysis(a, NotNull) {
				continue
			}
			switch a.ShortName() {
			case NotNull, ItemNotNull:
				notNull = true
			}
		}
	}
	walkAttributes(asm, visit)
	switch {
	case nrt:
		return config.ModeNullableReferenceTypes
	case notNull:
		return config.ModeExplicit
	default:
		return config.ModeImplicit
	}
}

// walkAttributes calls visit with every attribute list in asm.
func walkAttributes(asm *ir.Assembly, visit func([]ir.CustomAttribute)) {
	visit(asm.Attributes)
	for _, t := range asm.AllTypes() {
		visit(t.Attributes)
		for _, gp := range t.GenericParams {
			visit(gp.Attributes)
		}
		for _, m := range t.Methods {
			visit(m.Attributes)
			visit(m.ReturnAttributes)
			for _, gp := range m.GenericParams {
				visit(gp.Attributes)
			}
			for _, p := range m.Params {
				visit(p.Attributes)
			}
		}
		for _, p := range t.Properties {
			visit(p.Attributes)
		}
	}
}

// setterValue returns the trailing value parameter of a setter.
func setterValue(setter *ir.MethodDef) *ir.ParamDef {
	if setter == nil || len(setter.Params) == 0 {
		return nil
	}
	return setter.Params[len(setter.Params)-1]
}
