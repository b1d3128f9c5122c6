package config

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidationFlags selects which guards the weaver injects.
type ValidationFlags uint8

const (
	// Properties guards property getters and setters.
	Properties ValidationFlags = 1 << iota

	// Arguments guards method arguments at entry.
	Arguments

	// OutValues guards out parameters at every return point.
	OutValues

	// ReturnValues guards method return values.
	ReturnValues

	// NonPublic extends every enabled guard to non-public members.
	NonPublic
)

// Composite flag sets.
const (
	None               ValidationFlags = 0
	AllPublicArguments                 = Properties | Arguments
	AllPublic                          = Properties | Arguments | OutValues | ReturnValues
	All                                = AllPublic | NonPublic
)

var flagNames = []struct {
	name string
	flag ValidationFlags
}{
	{"Properties", Properties},
	{"Arguments", Arguments},
	{"OutValues", OutValues},
	{"ReturnValues", ReturnValues},
	{"NonPublic", NonPublic},
}

var compositeNames = map[string]ValidationFlags{
	"none":               None,
	"allpublicarguments": AllPublicArguments,
	"allpublic":          AllPublic,
	"all":                All,
}

// Has reports whether every bit of flag is set in f.
func (f ValidationFlags) Has(flag ValidationFlags) bool {
	return flag != 0 && f&flag == flag
}

// String renders f as a comma separated list of flag names.
func (f ValidationFlags) String() string {
	if f == None {
		return "None"
	}
	mask := NewBitMask(f)
	var names []string
	for _, fn := range flagNames {
		if mask.Enabled(fn.flag) {
			names = append(names, fn.name)
		}
	}
	return strings.Join(names, ",")
}

// ParseValidationFlags accepts a number, a composite name ("AllPublic") or a
// comma/pipe separated list of flag names. Names are case-insensitive.
func ParseValidationFlags(s string) (ValidationFlags, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return None, fmt.Errorf("empty validation flags")
	}
	if n, err := strconv.ParseUint(s, 10, 8); err == nil {
		if ValidationFlags(n)&^All != 0 {
			return None, fmt.Errorf("validation flags %d out of range", n)
		}
		return ValidationFlags(n), nil
	}

	var mask BitMask[ValidationFlags]
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '|' }) {
		part = strings.ToLower(strings.TrimSpace(part))
		if c, ok := compositeNames[part]; ok {
			mask.Enable(c)
			continue
		}
		found := false
		for _, fn := range flagNames {
			if strings.ToLower(fn.name) == part {
				mask.Enable(fn.flag)
				found = true
				break
			}
		}
		if !found {
			return None, fmt.Errorf("unknown validation flag %q", part)
		}
	}
	return mask.Value(), nil
}

// UnmarshalYAML lets policy files spell flags by name or number.
func (f *ValidationFlags) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := ParseValidationFlags(value.Value)
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}
