package nullability

// Verdict is the null-acceptance decision for one position in Explicit mode.
type Verdict uint8

const (
	Undefined Verdict = iota
	CanBeNullVerdict
	NotNullVerdict
)

func (v Verdict) String() string {
	switch v {
	case CanBeNullVerdict:
		return "CanBeNull"
	case NotNullVerdict:
		return "NotNull"
	default:
		return "Undefined"
	}
}

// AllowsNull reports whether the verdict admits null. Undefined admits null.
func (v Verdict) AllowsNull() bool { return v != NotNullVerdict }

// or fills an undefined verdict from fallback.
func (v Verdict) or(fallback Verdict) Verdict {
	if v != Undefined {
		return v
	}
	return fallback
}

// NullableFlag is a compiler nullable annotation on one type use.
type NullableFlag uint8

const (
	Oblivious NullableFlag = iota
	NotAnnotated
	Annotated
)

func (f NullableFlag) String() string {
	switch f {
	case NotAnnotated:
		return "NotAnnotated"
	case Annotated:
		return "Annotated"
	default:
		return "Oblivious"
	}
}

// AllowsNull reports whether a type use with this flag may hold null.
// Oblivious uses are permissive.
func (f NullableFlag) AllowsNull() bool { return f != NotAnnotated }
