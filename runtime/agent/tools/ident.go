package tools

import "regexp"

var identPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// Ident is the name a tool is advertised under. Model providers restrict
// function names to letters, digits, underscores and dashes.
type Ident string

// String returns the identifier.
func (id Ident) String() string { return string(id) }

// Valid reports whether every supported provider accepts the identifier.
func (id Ident) Valid() bool { return identPattern.MatchString(string(id)) }
