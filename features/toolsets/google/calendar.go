package google

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/assistant0/assistant0/runtime/agent/toolerrors"
	"github.com/assistant0/assistant0/runtime/agent/tools"
)

const (
	getEventsSchema = `{
  "type": "object",
  "properties": {
    "date": {"type": "string", "pattern": "^\\d{4}-\\d{2}-\\d{2}$", "description": "Day to list, as YYYY-MM-DD."},
    "timeZone": {"type": "string", "description": "IANA time zone of the day, e.g. Europe/Paris. Defaults to UTC."},
    "maxResults": {"type": "integer", "minimum": 1, "maximum": 50}
  },
  "additionalProperties": false
}`

	createEventSchema = `{
  "type": "object",
  "properties": {
    "summary": {"type": "string", "minLength": 1},
    "description": {"type": "string"},
    "location": {"type": "string"},
    "start": {"type": "string", "format": "date-time", "description": "RFC 3339 start time."},
    "end": {"type": "string", "format": "date-time", "description": "RFC 3339 end time."},
    "attendees": {"type": "array", "items": {"type": "string", "format": "email"}}
  },
  "required": ["summary", "start", "end"],
  "additionalProperties": false
}`

	defaultEventCount = 10
	upcomingWindow    = 7 * 24 * time.Hour
)

type (
	eventTime struct {
		DateTime string `json:"dateTime,omitempty"`
		Date     string `json:"date,omitempty"`
		TimeZone string `json:"timeZone,omitempty"`
	}

	calendarEvent struct {
		ID          string     `json:"id,omitempty"`
		Summary     string     `json:"summary,omitempty"`
		Description string     `json:"description,omitempty"`
		Location    string     `json:"location,omitempty"`
		Start       eventTime  `json:"start"`
		End         eventTime  `json:"end"`
		HTMLLink    string     `json:"htmlLink,omitempty"`
		Attendees   []attendee `json:"attendees,omitempty"`
	}

	attendee struct {
		Email string `json:"email"`
	}

	// EventSummary is the shape returned to the model.
	EventSummary struct {
		ID       string `json:"id"`
		Summary  string `json:"summary"`
		Start    string `json:"start"`
		End      string `json:"end,omitempty"`
		Location string `json:"location,omitempty"`
		Link     string `json:"link,omitempty"`
	}
)

func (ts *toolset) getCalendarEvents(ctx context.Context, call tools.Call) (tools.Result, error) {
	var args struct {
		Date       string `json:"date"`
		TimeZone   string `json:"timeZone"`
		MaxResults int    `json:"maxResults"`
	}
	if err := call.Decode(&args); err != nil {
		return tools.Result{}, err
	}
	loc := time.UTC
	if args.TimeZone != "" {
		l, err := time.LoadLocation(args.TimeZone)
		if err != nil {
			return tools.Result{}, toolerrors.Errorf("Unknown time zone %q.", args.TimeZone)
		}
		loc = l
	}
	from := ts.now().In(loc)
	to := from.Add(upcomingWindow)
	if args.Date != "" {
		day, err := time.ParseInLocation("2006-01-02", args.Date, loc)
		if err != nil {
			return tools.Result{}, toolerrors.Errorf("Invalid date %q, expected YYYY-MM-DD.", args.Date)
		}
		from, to = day, day.AddDate(0, 0, 1)
	}
	limit := args.MaxResults
	if limit == 0 {
		limit = defaultEventCount
	}
	q := url.Values{
		"timeMin":      {from.Format(time.RFC3339)},
		"timeMax":      {to.Format(time.RFC3339)},
		"maxResults":   {strconv.Itoa(limit)},
		"singleEvents": {"true"},
		"orderBy":      {"startTime"},
	}
	var resp struct {
		Items []calendarEvent `json:"items"`
	}
	if err := ts.calendar.Get(ctx, "/calendars/primary/events", q, &resp); err != nil {
		return tools.Result{}, err
	}
	events := make([]EventSummary, 0, len(resp.Items))
	for _, e := range resp.Items {
		events = append(events, summarize(e))
	}
	return tools.Result{Value: map[string]any{
		"from":   from.Format(time.RFC3339),
		"to":     to.Format(time.RFC3339),
		"count":  len(events),
		"events": events,
	}}, nil
}

func (ts *toolset) createCalendarEvent(ctx context.Context, call tools.Call) (tools.Result, error) {
	var args struct {
		Summary     string   `json:"summary"`
		Description string   `json:"description"`
		Location    string   `json:"location"`
		Start       string   `json:"start"`
		End         string   `json:"end"`
		Attendees   []string `json:"attendees"`
	}
	if err := call.Decode(&args); err != nil {
		return tools.Result{}, err
	}
	start, err := time.Parse(time.RFC3339, args.Start)
	if err != nil {
		return tools.Result{}, toolerrors.Errorf("Invalid start time %q, expected RFC 3339.", args.Start)
	}
	end, err := time.Parse(time.RFC3339, args.End)
	if err != nil {
		return tools.Result{}, toolerrors.Errorf("Invalid end time %q, expected RFC 3339.", args.End)
	}
	if !end.After(start) {
		return tools.Result{}, toolerrors.New("The event must end after it starts.")
	}
	body := calendarEvent{
		Summary:     args.Summary,
		Description: args.Description,
		Location:    args.Location,
		Start:       eventTime{DateTime: start.Format(time.RFC3339)},
		End:         eventTime{DateTime: end.Format(time.RFC3339)},
	}
	for _, a := range args.Attendees {
		body.Attendees = append(body.Attendees, attendee{Email: a})
	}
	var created calendarEvent
	if err := ts.calendar.Post(ctx, "/calendars/primary/events", body, &created); err != nil {
		return tools.Result{}, err
	}
	return tools.Result{Value: summarize(created)}, nil
}

func summarize(e calendarEvent) EventSummary {
	s := EventSummary{
		ID:       e.ID,
		Summary:  e.Summary,
		Start:    e.Start.DateTime,
		End:      e.End.DateTime,
		Location: e.Location,
		Link:     e.HTMLLink,
	}
	if s.Summary == "" {
		s.Summary = "(no title)"
	}
	if s.Start == "" {
		s.Start = e.Start.Date
	}
	if s.End == "" {
		s.End = e.End.Date
	}
	return s
}
