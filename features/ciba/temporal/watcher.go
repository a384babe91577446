// Package temporal watches pending approval requests with a Temporal
// workflow. The workflow polls the identity provider through the approval
// flow until the request resolves or expires, and wakes up early when the
// provider's ping callback signals it. Approvals therefore complete even when
// no user is waiting on an open connection.
package temporal

import (
	"context"
	"errors"
	"fmt"
	"time"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	temporalotel "go.temporal.io/sdk/contrib/opentelemetry"
	"go.temporal.io/sdk/interceptor"

	"github.com/assistant0/assistant0/runtime/agent/telemetry"
	"github.com/assistant0/assistant0/runtime/auth/ciba"
)

const (
	// WorkflowName is the registered approval watch workflow.
	WorkflowName = "ciba.WatchApproval"
	// RefreshActivityName is the registered refresh activity.
	RefreshActivityName = "ciba.RefreshApproval"
	// ResolvedActivityName is the registered resolution callback activity.
	ResolvedActivityName = "ciba.ApprovalResolved"
	// CallbackSignal wakes the workflow when the provider pings.
	CallbackSignal = "ciba.callback"

	defaultTaskQueue = "assistant0-ciba"
	workflowIDPrefix = "ciba-"
)

type (
	// Options configures a Watcher.
	Options struct {
		// Client is a pre-configured Temporal client. When nil one is built
		// from ClientOptions with OpenTelemetry tracing and metrics.
		Client client.Client
		// ClientOptions describe the connection when Client is nil.
		ClientOptions *client.Options
		// TaskQueue defaults to "assistant0-ciba".
		TaskQueue string
		// Telemetry receives logs.
		Telemetry telemetry.Set
	}

	// Watcher implements ciba.Watcher by starting one workflow per request.
	Watcher struct {
		client      client.Client
		closeClient bool
		queue       string
		tel         telemetry.Set
	}

	// WatchInput is the workflow input.
	WatchInput struct {
		AuthReqID string
		Interval  time.Duration
		ExpiresAt time.Time
	}
)

// New returns a Watcher.
func New(opts Options) (*Watcher, error) {
	w := &Watcher{client: opts.Client, queue: opts.TaskQueue, tel: opts.Telemetry.WithDefaults()}
	if w.queue == "" {
		w.queue = defaultTaskQueue
	}
	if w.client == nil {
		if opts.ClientOptions == nil {
			return nil, errors.New("temporal watcher: client options are required when Client is nil")
		}
		co := *opts.ClientOptions
		tracer, err := tracingInterceptor()
		if err != nil {
			return nil, err
		}
		co.Interceptors = append(co.Interceptors, tracer)
		if co.MetricsHandler == nil {
			co.MetricsHandler = temporalotel.NewMetricsHandler(temporalotel.MetricsHandlerOptions{})
		}
		c, err := client.NewLazyClient(co)
		if err != nil {
			return nil, fmt.Errorf("temporal watcher: create client: %w", err)
		}
		w.client = c
		w.closeClient = true
	}
	return w, nil
}

// Watch implements ciba.Watcher. Watching a request twice is a no-op.
func (w *Watcher) Watch(ctx context.Context, req ciba.Request) error {
	opts := client.StartWorkflowOptions{
		ID:                       WorkflowID(req.ID),
		TaskQueue:                w.queue,
		WorkflowIDConflictPolicy: enumspb.WORKFLOW_ID_CONFLICT_POLICY_USE_EXISTING,
		WorkflowIDReusePolicy:    enumspb.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
	}
	// Leave room for the final expiry refresh.
	if !req.ExpiresAt.IsZero() {
		opts.WorkflowExecutionTimeout = time.Until(req.ExpiresAt) + 5*time.Minute
	}
	_, err := w.client.ExecuteWorkflow(ctx, opts, WorkflowName, WatchInput{
		AuthReqID: req.ID,
		Interval:  req.Interval,
		ExpiresAt: req.ExpiresAt,
	})
	var started *serviceerror.WorkflowExecutionAlreadyStarted
	if errors.As(err, &started) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("start approval watch %s: %w", req.ID, err)
	}
	w.tel.Logger.Debug(ctx, "approval watch started", "auth_req_id", req.ID)
	return nil
}

// Notify signals the watch of authReqID that the provider reported a
// result. Notifying a finished or unknown watch is not an error.
func (w *Watcher) Notify(ctx context.Context, authReqID string) error {
	return mapSignalError(w.client.SignalWorkflow(ctx, WorkflowID(authReqID), "", CallbackSignal, nil))
}

// TaskQueue returns the queue workers must poll.
func (w *Watcher) TaskQueue() string { return w.queue }

// Client returns the Temporal client.
func (w *Watcher) Client() client.Client { return w.client }

// Close releases the client when the watcher created it.
func (w *Watcher) Close() {
	if w.closeClient {
		w.client.Close()
	}
}

// WorkflowID returns the workflow id watching authReqID.
func WorkflowID(authReqID string) string {
	return workflowIDPrefix + authReqID
}

func mapSignalError(err error) error {
	if err == nil {
		return nil
	}
	var notFound *serviceerror.NotFound
	if errors.As(err, &notFound) {
		return nil
	}
	var precondition *serviceerror.FailedPrecondition
	if errors.As(err, &precondition) {
		return nil
	}
	return fmt.Errorf("signal approval watch: %w", err)
}

func tracingInterceptor() (interceptor.Interceptor, error) {
	tracer, err := temporalotel.NewTracingInterceptor(temporalotel.TracerOptions{})
	if err != nil {
		return nil, fmt.Errorf("temporal: configure tracing interceptor: %w", err)
	}
	return tracer, nil
}

var _ ciba.Watcher = (*Watcher)(nil)
