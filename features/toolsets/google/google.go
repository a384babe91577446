// Package google exposes Google Calendar, Gmail and Google Tasks to the model.
// Every tool is Connected: it runs with a Token Vault token for the Google
// connection that carries the scopes the tool needs.
package google

import (
	"encoding/json"
	"time"

	"github.com/assistant0/assistant0/features/toolsets/internal/rest"
	"github.com/assistant0/assistant0/runtime/agent/tools"
	"github.com/assistant0/assistant0/runtime/auth"
)

// Toolset is the name tools of this package are grouped under.
const Toolset = "google"

const (
	defaultCalendarURL = "https://www.googleapis.com/calendar/v3"
	defaultGmailURL    = "https://gmail.googleapis.com/gmail/v1"
	defaultTasksURL    = "https://tasks.googleapis.com/tasks/v1"
)

// Options configures the toolset.
type Options struct {
	// Catalog resolves the logical connections. Defaults to
	// auth.DefaultCatalog.
	Catalog *auth.Catalog
	// CalendarURL, GmailURL and TasksURL override the API roots in tests.
	CalendarURL string
	GmailURL    string
	TasksURL    string
	// Now overrides the clock.
	Now func() time.Time
}

type toolset struct {
	calendar *rest.Client
	gmail    *rest.Client
	tasks    *rest.Client
	now      func() time.Time
}

// Tools returns the Google tools.
func Tools(opts Options) []tools.Tool {
	cat := auth.DefaultCatalog()
	if opts.Catalog != nil {
		cat = *opts.Catalog
	}
	ts := &toolset{
		calendar: &rest.Client{Service: "google.calendar", BaseURL: or(opts.CalendarURL, defaultCalendarURL)},
		gmail:    &rest.Client{Service: "google.gmail", BaseURL: or(opts.GmailURL, defaultGmailURL)},
		tasks:    &rest.Client{Service: "google.tasks", BaseURL: or(opts.TasksURL, defaultTasksURL)},
		now:      opts.Now,
	}
	if ts.now == nil {
		ts.now = time.Now
	}
	connected := func(name string) tools.Access {
		conn, _ := cat.Lookup(name)
		return tools.Connected{Connection: conn}
	}
	return []tools.Tool{
		{
			Name:        "get_calendar_events",
			Toolset:     Toolset,
			Description: "List events from the user's primary Google Calendar for a given day, or for the next 7 days when no date is given.",
			Schema:      json.RawMessage(getEventsSchema),
			Access:      connected(auth.ConnCalendar),
			Handler:     ts.getCalendarEvents,
		},
		{
			Name:        "create_calendar_event",
			Toolset:     Toolset,
			Description: "Create an event in the user's primary Google Calendar.",
			Schema:      json.RawMessage(createEventSchema),
			Access:      connected(auth.ConnCalendar),
			Handler:     ts.createCalendarEvent,
		},
		{
			Name:        "gmail_search",
			Toolset:     Toolset,
			Description: "Search the user's Gmail messages with a Gmail search query and return sender, subject, date and snippet of each match.",
			Schema:      json.RawMessage(gmailSearchSchema),
			Access:      connected(auth.ConnGmailRead),
			Handler:     ts.gmailSearch,
		},
		{
			Name:        "gmail_create_draft",
			Toolset:     Toolset,
			Description: "Create a draft email in the user's Gmail account. The draft is not sent.",
			Schema:      json.RawMessage(gmailDraftSchema),
			Access:      connected(auth.ConnGmailWrite),
			Handler:     ts.gmailCreateDraft,
		},
		{
			Name:        "get_tasks",
			Toolset:     Toolset,
			Description: "Get tasks from the user's default Google Tasks list.",
			Schema:      json.RawMessage(getTasksSchema),
			Access:      connected(auth.ConnTasks),
			Handler:     ts.getTasks,
		},
		{
			Name:        "create_task",
			Toolset:     Toolset,
			Description: "Create a new task in the user's default Google Tasks list.",
			Schema:      json.RawMessage(createTaskSchema),
			Access:      connected(auth.ConnTasks),
			Handler:     ts.createTask,
		},
	}
}

func or(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
