package auth

import (
	"errors"
	"fmt"
	"io"
	"maps"

	"gopkg.in/yaml.v3"
)

// Logical connection names used by the built-in toolsets.
const (
	ConnGmailRead  = "gmail.read"
	ConnGmailWrite = "gmail.write"
	ConnCalendar   = "calendar"
	ConnTasks      = "tasks"
	ConnGitHub     = "github"
	ConnSlack      = "slack"
)

// Catalog maps logical connection names used by toolsets to identity provider
// connections. Deployments override entries to point at differently named
// connections or to request extra scopes.
type Catalog struct {
	Connections map[string]Connection `yaml:"connections"`
}

// DefaultCatalog returns the connections used by the stock toolsets.
func DefaultCatalog() Catalog {
	const google = "google-oauth2"
	return Catalog{Connections: map[string]Connection{
		ConnGmailRead: {ID: google, Scopes: []string{
			"openid", "https://www.googleapis.com/auth/gmail.readonly",
		}},
		ConnGmailWrite: {ID: google, Scopes: []string{
			"openid", "https://www.googleapis.com/auth/gmail.compose",
		}},
		ConnCalendar: {ID: google, Scopes: []string{
			"openid", "https://www.googleapis.com/auth/calendar.events",
		}},
		ConnTasks: {ID: google, Scopes: []string{
			"openid", "https://www.googleapis.com/auth/tasks",
		}},
		// GitHub apps carry their permissions on the app itself.
		ConnGitHub: {ID: "github"},
		ConnSlack:  {ID: "sign-in-with-slack", Scopes: []string{"channels:read", "groups:read"}},
	}}
}

// LoadCatalog decodes a YAML catalog from r and merges it over the defaults.
func LoadCatalog(r io.Reader) (Catalog, error) {
	var override Catalog
	if err := yaml.NewDecoder(r).Decode(&override); err != nil && !errors.Is(err, io.EOF) {
		return Catalog{}, fmt.Errorf("decode connection catalog: %w", err)
	}
	out := DefaultCatalog()
	for name, conn := range override.Connections {
		if conn.ID == "" {
			return Catalog{}, fmt.Errorf("connection %q: id is required", name)
		}
		conn.Scopes = NormalizeScopes(conn.Scopes)
		out.Connections[name] = conn
	}
	return out, nil
}

// Lookup returns the connection registered under name.
func (c Catalog) Lookup(name string) (Connection, bool) {
	conn, ok := c.Connections[name]
	if !ok {
		return Connection{}, false
	}
	conn.Scopes = NormalizeScopes(conn.Scopes)
	return conn, true
}

// MustLookup is Lookup for names the caller knows are registered.
func (c Catalog) MustLookup(name string) Connection {
	conn, ok := c.Lookup(name)
	if !ok {
		panic(fmt.Sprintf("auth: connection %q not in catalog", name))
	}
	return conn
}

// Clone returns a deep copy of the catalog.
func (c Catalog) Clone() Catalog {
	return Catalog{Connections: maps.Clone(c.Connections)}
}
