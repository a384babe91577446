package temporal

import (
	"errors"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
)

// NewWorker returns a worker polling the watcher's task queue with the
// workflow and activities registered. The caller starts and stops it.
func NewWorker(w *Watcher, acts *Activities, opts worker.Options) (worker.Worker, error) {
	if acts == nil || acts.Refresher == nil {
		return nil, errors.New("temporal watcher: refresher is required")
	}
	tracer, err := tracingInterceptor()
	if err != nil {
		return nil, err
	}
	opts.Interceptors = append(opts.Interceptors, tracer)
	wk := worker.New(w.client, w.queue, opts)
	Register(wk, acts)
	return wk, nil
}

// Register adds the workflow and activities to r.
func Register(r worker.Registry, acts *Activities) {
	r.RegisterWorkflowWithOptions(WatchApproval, workflow.RegisterOptions{Name: WorkflowName})
	r.RegisterActivityWithOptions(acts.RefreshApproval, activity.RegisterOptions{Name: RefreshActivityName})
	r.RegisterActivityWithOptions(acts.ApprovalResolved, activity.RegisterOptions{Name: ResolvedActivityName})
}
