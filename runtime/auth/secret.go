package auth

// Secret holds sensitive bytes that can be zeroized when cleared. String never
// reveals the content so secrets are safe to pass to loggers.
type Secret struct {
	b []byte
}

// NewSecret creates a Secret from a copy of s.
func NewSecret(s string) Secret {
	if s == "" {
		return Secret{}
	}
	out := make([]byte, len(s))
	copy(out, s)
	return Secret{b: out}
}

// Reveal returns the secret value.
func (s Secret) Reveal() string {
	if len(s.b) == 0 {
		return ""
	}
	return string(s.b)
}

// IsEmpty reports whether the secret is empty.
func (s Secret) IsEmpty() bool { return len(s.b) == 0 }

// String implements fmt.Stringer without leaking the value.
func (s Secret) String() string {
	if len(s.b) == 0 {
		return ""
	}
	return "[redacted]"
}

// GoString keeps %#v from printing the bytes.
func (s Secret) GoString() string { return s.String() }

// Clear zeroizes the underlying bytes.
func (s *Secret) Clear() {
	if s == nil || len(s.b) == 0 {
		return
	}
	clear(s.b)
	s.b = nil
}
