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
	getTasksSchema = `{
  "type": "object",
  "properties": {
    "maxResults": {"type": "integer", "minimum": 1, "maximum": 100, "description": "Maximum number of tasks to return. Default is 20."},
    "showCompleted": {"type": "boolean", "description": "Whether to include completed tasks. Default is true."},
    "showHidden": {"type": "boolean", "description": "Whether to include hidden tasks. Default is false."}
  },
  "additionalProperties": false
}`

	createTaskSchema = `{
  "type": "object",
  "properties": {
    "title": {"type": "string", "minLength": 1},
    "notes": {"type": "string"},
    "due": {"type": "string", "description": "Due date as YYYY-MM-DD or RFC 3339. Time information is ignored."}
  },
  "required": ["title"],
  "additionalProperties": false
}`

	defaultTaskList  = "@default"
	defaultTaskCount = 20
)

// Task is a Google Tasks item.
type Task struct {
	ID        string `json:"id,omitempty"`
	Title     string `json:"title,omitempty"`
	Notes     string `json:"notes,omitempty"`
	Status    string `json:"status,omitempty"`
	Due       string `json:"due,omitempty"`
	Completed string `json:"completed,omitempty"`
	Hidden    bool   `json:"hidden,omitempty"`
	Position  string `json:"position,omitempty"`
}

func (ts *toolset) getTasks(ctx context.Context, call tools.Call) (tools.Result, error) {
	args := struct {
		MaxResults    int   `json:"maxResults"`
		ShowCompleted *bool `json:"showCompleted"`
		ShowHidden    bool  `json:"showHidden"`
	}{}
	if err := call.Decode(&args); err != nil {
		return tools.Result{}, err
	}
	limit := args.MaxResults
	if limit == 0 {
		limit = defaultTaskCount
	}
	showCompleted := args.ShowCompleted == nil || *args.ShowCompleted
	q := url.Values{
		"maxResults":    {strconv.Itoa(limit)},
		"showCompleted": {strconv.FormatBool(showCompleted)},
		"showHidden":    {strconv.FormatBool(args.ShowHidden)},
	}
	var resp struct {
		Items []Task `json:"items"`
	}
	if err := ts.tasks.Get(ctx, "/lists/"+defaultTaskList+"/tasks", q, &resp); err != nil {
		return tools.Result{}, err
	}
	if resp.Items == nil {
		resp.Items = []Task{}
	}
	for i := range resp.Items {
		if resp.Items[i].Title == "" {
			resp.Items[i].Title = "No title"
		}
	}
	return tools.Result{Value: map[string]any{"tasksCount": len(resp.Items), "tasks": resp.Items}}, nil
}

func (ts *toolset) createTask(ctx context.Context, call tools.Call) (tools.Result, error) {
	var args struct {
		Title string `json:"title"`
		Notes string `json:"notes"`
		Due   string `json:"due"`
	}
	if err := call.Decode(&args); err != nil {
		return tools.Result{}, err
	}
	task := Task{Title: args.Title, Notes: args.Notes}
	if args.Due != "" {
		due, err := parseDue(args.Due)
		if err != nil {
			return tools.Result{}, err
		}
		task.Due = due
	}
	var created Task
	if err := ts.tasks.Post(ctx, "/lists/"+defaultTaskList+"/tasks", task, &created); err != nil {
		return tools.Result{}, err
	}
	return tools.Result{Value: created}, nil
}

// parseDue normalizes a due date to midnight UTC, the only precision Google
// Tasks keeps.
func parseDue(s string) (string, error) {
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			y, m, d := t.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Format(time.RFC3339), nil
		}
	}
	return "", toolerrors.Errorf("Invalid due date %q, expected YYYY-MM-DD.", s)
}
