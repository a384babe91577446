package auth

import (
	"slices"
	"strings"
)

// Connection identifies an upstream provider integration configured on the
// identity provider together with the scopes a tool needs from it.
type Connection struct {
	// ID is the identity provider connection name, e.g. "google-oauth2".
	ID string `yaml:"id" json:"id"`
	// Scopes lists the scopes the tool body needs.
	Scopes []string `yaml:"scopes" json:"scopes,omitempty"`
	// Audience optionally names the resource server the token is minted for.
	Audience string `yaml:"audience,omitempty" json:"audience,omitempty"`
}

// WithScopes returns a copy of c requiring the given scopes instead.
func (c Connection) WithScopes(scopes ...string) Connection {
	c.Scopes = NormalizeScopes(scopes)
	return c
}

// Key returns the stable cache key fragment of the connection. Audience is part
// of the key because tokens minted for different audiences are not
// interchangeable.
func (c Connection) Key() string {
	if c.Audience == "" {
		return c.ID
	}
	return c.ID + "@" + c.Audience
}

// NormalizeScopes trims, dedupes and sorts scopes. It returns nil for an empty
// result.
func NormalizeScopes(scopes []string) []string {
	if len(scopes) == 0 {
		return nil
	}
	out := make([]string, 0, len(scopes))
	for _, s := range scopes {
		// Callers sometimes pass space-delimited OAuth scope strings.
		for _, f := range strings.Fields(s) {
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		return nil
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// CoversScopes reports whether granted is a superset of required.
func CoversScopes(granted, required []string) bool {
	if len(required) == 0 {
		return true
	}
	have := make(map[string]struct{}, len(granted))
	for _, s := range NormalizeScopes(granted) {
		have[s] = struct{}{}
	}
	for _, s := range NormalizeScopes(required) {
		if _, ok := have[s]; !ok {
			return false
		}
	}
	return true
}

// UnionScopes returns the normalized union of the given scope sets.
func UnionScopes(sets ...[]string) []string {
	var all []string
	for _, set := range sets {
		all = append(all, set...)
	}
	return NormalizeScopes(all)
}

// ScopeString joins scopes into the space-delimited OAuth form.
func ScopeString(scopes []string) string {
	return strings.Join(NormalizeScopes(scopes), " ")
}
