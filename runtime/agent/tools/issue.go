package tools

import (
	"errors"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// FieldIssue is one argument validation failure.
type FieldIssue struct {
	// Field is the JSON pointer of the offending value, "/" for the root.
	Field string
	// Message describes the violated constraint.
	Message string
}

// ValidationError reports tool arguments that do not match the tool schema.
type ValidationError struct {
	Tool   Ident
	Issues []FieldIssue
	Cause  error
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("invalid arguments for ")
	b.WriteString(string(e.Tool))
	for i, is := range e.Issues {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}
		b.WriteString(is.Field)
		b.WriteString(" ")
		b.WriteString(is.Message)
	}
	return b.String()
}

func (e *ValidationError) Unwrap() error { return e.Cause }

// issuesFrom flattens a schema validation error into per-field issues.
func issuesFrom(err error) []FieldIssue {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []FieldIssue{{Field: "/", Message: err.Error()}}
	}
	var out []FieldIssue
	for _, u := range ve.BasicOutput().Errors {
		if u.Error == nil {
			continue
		}
		field := u.InstanceLocation
		if field == "" {
			field = "/"
		}
		out = append(out, FieldIssue{Field: field, Message: u.Error.String()})
	}
	if len(out) == 0 {
		out = []FieldIssue{{Field: "/", Message: ve.Error()}}
	}
	return out
}
