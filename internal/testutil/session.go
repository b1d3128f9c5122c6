package testutil

// FixedSessionID returns the same session id every time, so reports and
// golden listings of a scenario are byte-identical between runs.
type FixedSessionID struct {
	id string
}

// NewFixedSessionID creates a generator. An empty id becomes
// "test-session-default".
func NewFixedSessionID(id string) *FixedSessionID {
	if id == "" {
		id = "test-session-default"
	}
	return &FixedSessionID{id: id}
}

// Generate returns the fixed id.
func (g *FixedSessionID) Generate() string {
	return g.id
}
