package ir

// Version constants for the symbol model and weaver.
const (
	// IRVersion is the symbol model schema version.
	IRVersion = "1"

	// WeaverVersion is the nullguard weaver version.
	WeaverVersion = "0.1.0"
)
