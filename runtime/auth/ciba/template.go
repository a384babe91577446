package ciba

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"unicode"
)

// maxBindingMessage is the longest binding message providers accept.
const maxBindingMessage = 64

// BindingTemplate renders the binding message shown on the approval device
// from the decoded tool arguments.
type BindingTemplate struct {
	tmpl *template.Template
}

// ParseBindingTemplate compiles text. Missing argument keys fail rendering
// instead of printing "<no value>".
func ParseBindingTemplate(name, text string) (*BindingTemplate, error) {
	t, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse binding message template %q: %w", name, err)
	}
	return &BindingTemplate{tmpl: t}, nil
}

// MustParseBindingTemplate is ParseBindingTemplate for static templates.
func MustParseBindingTemplate(name, text string) *BindingTemplate {
	t, err := ParseBindingTemplate(name, text)
	if err != nil {
		panic(err)
	}
	return t
}

// Render executes the template over args and sanitizes the result to the
// character set providers allow.
func (b *BindingTemplate) Render(args map[string]any) (string, error) {
	var buf bytes.Buffer
	if err := b.tmpl.Execute(&buf, args); err != nil {
		return "", fmt.Errorf("render binding message: %w", err)
	}
	msg := SanitizeBindingMessage(buf.String())
	if msg == "" {
		return "", fmt.Errorf("render binding message: empty result")
	}
	return msg, nil
}

// SanitizeBindingMessage keeps letters, digits, spaces and +-_.,:# and caps
// the length.
func SanitizeBindingMessage(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		case strings.ContainsRune("+-_.,:#", r):
			b.WriteRune(r)
		}
	}
	out := strings.Join(strings.Fields(b.String()), " ")
	if len(out) > maxBindingMessage {
		out = strings.TrimSpace(out[:maxBindingMessage])
	}
	return out
}
