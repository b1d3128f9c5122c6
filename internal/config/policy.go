package config

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"slices"

	"gopkg.in/yaml.v3"
)

// Mode selects the nullability inference strategy.
type Mode string

const (
	// ModeAuto detects the strategy from the assembly's markers.
	ModeAuto Mode = "auto"
	// ModeImplicit disallows null unless an allow marker is present.
	ModeImplicit Mode = "implicit"
	// ModeExplicit allows null unless a not-null marker is present.
	ModeExplicit Mode = "explicit"
	// ModeNullableReferenceTypes reads compiler-emitted nullable metadata.
	ModeNullableReferenceTypes Mode = "nullable-reference-types"
)

// ValidModes defines the allowed modes.
var ValidModes = []Mode{ModeAuto, ModeImplicit, ModeExplicit, ModeNullableReferenceTypes}

// Policy is the weaving configuration for one assembly.
type Policy struct {
	// ValidationFlags is the default when neither the assembly nor a type
	// carries a NullGuardAttribute.
	ValidationFlags ValidationFlags `yaml:"validation_flags"`

	// IncludeDebugAssertion adds a Debug.Assert duplicate before each
	// argument and return guard when DEBUG is defined.
	IncludeDebugAssertion bool `yaml:"include_debug_assertion"`

	// DefineConstants are the build's conditional compilation symbols.
	DefineConstants []string `yaml:"define_constants,omitempty"`

	// ExcludeNamePattern skips types whose full name matches.
	ExcludeNamePattern string `yaml:"exclude_name_pattern,omitempty"`

	// Mode forces a nullability strategy; empty or "auto" detects it.
	Mode Mode `yaml:"mode,omitempty"`

	exclude *regexp.Regexp
}

// DefaultPolicy returns the policy used when no file is given.
func DefaultPolicy() *Policy {
	return &Policy{
		ValidationFlags:       AllPublic,
		IncludeDebugAssertion: true,
		Mode:                  ModeAuto,
	}
}

// LoadPolicy reads and validates a YAML policy file.
// Unknown fields are rejected to catch typos.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return ParsePolicy(data)
}

// ParsePolicy decodes a YAML policy document on top of DefaultPolicy.
func ParsePolicy(data []byte) (*Policy, error) {
	p := DefaultPolicy()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(p); err != nil {
		return nil, fmt.Errorf("failed to parse policy YAML: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	return p, nil
}

// Validate checks the mode and compiles the exclusion pattern.
func (p *Policy) Validate() error {
	if p.Mode == "" {
		p.Mode = ModeAuto
	}
	if !slices.Contains(ValidModes, p.Mode) {
		return fmt.Errorf("invalid mode %q: must be one of %v", p.Mode, ValidModes)
	}
	p.exclude = nil
	if p.ExcludeNamePattern != "" {
		re, err := regexp.Compile(p.ExcludeNamePattern)
		if err != nil {
			return fmt.Errorf("invalid exclude_name_pattern: %w", err)
		}
		p.exclude = re
	}
	return nil
}

// Excludes reports whether a type full name matches the exclusion pattern.
func (p *Policy) Excludes(fullName string) bool {
	if p.exclude == nil && p.ExcludeNamePattern != "" {
		p.exclude = regexp.MustCompile(p.ExcludeNamePattern)
	}
	return p.exclude != nil && p.exclude.MatchString(fullName)
}

// DebugAssertions reports whether Debug.Assert duplicates are emitted.
func (p *Policy) DebugAssertions() bool {
	return p.IncludeDebugAssertion && slices.Contains(p.DefineConstants, "DEBUG")
}
