package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainAssembly prefixes woven-assembly content hashes.
// Version suffix enables future algorithm migration.
const DomainAssembly = "nullguard/assembly/v1"

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ContentHash computes a stable hash of an assembly's observable state:
// attributes, references and the listing of every method body. Two graphs
// that disassemble identically hash identically.
func ContentHash(a *Assembly) (string, error) {
	canonical, err := MarshalCanonical(Snapshot(a))
	if err != nil {
		return "", fmt.Errorf("ContentHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainAssembly, canonical), nil
}

// MustContentHash is like ContentHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustContentHash(a *Assembly) string {
	h, err := ContentHash(a)
	if err != nil {
		panic(err)
	}
	return h
}

// Snapshot builds the canonical map hashed by ContentHash.
func Snapshot(a *Assembly) map[string]any {
	members := map[string]any{}
	for _, t := range a.AllTypes() {
		members[TypeKey(t)] = attributeStrings(t.Attributes)
		for _, m := range t.Methods {
			entry := map[string]any{
				"attributes": attributeStrings(m.Attributes),
				"return":     attributeStrings(m.ReturnAttributes),
			}
			params := make([]any, len(m.Params))
			for i, p := range m.Params {
				params[i] = attributeStrings(p.Attributes)
			}
			entry["params"] = params
			if m.Body != nil {
				entry["body"] = ListBody(m.Body)
			}
			members[MethodKey(m)] = entry
		}
		for _, p := range t.Properties {
			members[PropertyKey(p)] = attributeStrings(p.Attributes)
		}
	}
	refs := make([]string, len(a.References))
	copy(refs, a.References)
	return map[string]any{
		"name":       a.Name,
		"attributes": attributeStrings(a.Attributes),
		"references": refs,
		"members":    members,
	}
}

func attributeStrings(attrs []CustomAttribute) []string {
	out := make([]string, len(attrs))
	for i, a := range attrs {
		out[i] = FormatAttribute(a)
	}
	return out
}
