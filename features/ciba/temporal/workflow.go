package temporal

import (
	"context"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/assistant0/assistant0/runtime/auth/ciba"
)

const (
	minPollInterval = time.Second
	maxPolls        = 1000
)

type (
	// RefreshResult is the refresh activity output.
	RefreshResult struct {
		Status      ciba.Status
		ToolCallKey string
		Subject     string
	}

	// Refresher polls the provider once and persists the result.
	// *ciba.Flow implements it.
	Refresher interface {
		Refresh(ctx context.Context, id string) (ciba.Request, error)
	}

	// Activities hosts the workflow activities.
	Activities struct {
		Refresher Refresher
		// OnResolved is called once a request reaches a terminal status.
		// Optional.
		OnResolved func(ctx context.Context, req ciba.Request) error
	}
)

// RefreshApproval polls the request once.
func (a *Activities) RefreshApproval(ctx context.Context, id string) (RefreshResult, error) {
	req, err := a.Refresher.Refresh(ctx, id)
	if err != nil {
		return RefreshResult{}, err
	}
	return RefreshResult{Status: req.Status, ToolCallKey: req.ToolCallKey, Subject: req.Subject}, nil
}

// ApprovalResolved reports a terminal request.
func (a *Activities) ApprovalResolved(ctx context.Context, id string) error {
	if a.OnResolved == nil {
		return nil
	}
	req, err := a.Refresher.Refresh(ctx, id)
	if err != nil {
		return err
	}
	return a.OnResolved(ctx, req)
}

// WatchApproval polls the request every interval, or sooner when the
// callback signal arrives, until it leaves the pending status. Polling past
// the expiry lets the flow record the expiration.
func WatchApproval(ctx workflow.Context, in WatchInput) (ciba.Status, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    5,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)
	logger := workflow.GetLogger(ctx)

	interval := in.Interval
	if interval < minPollInterval {
		interval = minPollInterval
	}
	callback := workflow.GetSignalChannel(ctx, CallbackSignal)

	for range maxPolls {
		wait := interval
		if !in.ExpiresAt.IsZero() {
			if left := in.ExpiresAt.Sub(workflow.Now(ctx)); left < wait {
				wait = max(left, 0)
			}
		}
		if wait > 0 {
			timerCtx, cancel := workflow.WithCancel(ctx)
			timer := workflow.NewTimer(timerCtx, wait)
			sel := workflow.NewSelector(ctx)
			sel.AddFuture(timer, func(workflow.Future) {})
			sel.AddReceive(callback, func(c workflow.ReceiveChannel, _ bool) {
				c.Receive(ctx, nil)
			})
			sel.Select(ctx)
			cancel()
		}

		var res RefreshResult
		if err := workflow.ExecuteActivity(ctx, RefreshActivityName, in.AuthReqID).Get(ctx, &res); err != nil {
			logger.Warn("approval refresh failed", "auth_req_id", in.AuthReqID, "error", err)
			if !in.ExpiresAt.IsZero() && !workflow.Now(ctx).Before(in.ExpiresAt.Add(time.Minute)) {
				return ciba.StatusExpired, err
			}
			continue
		}
		if res.Status != ciba.StatusPending {
			if err := workflow.ExecuteActivity(ctx, ResolvedActivityName, in.AuthReqID).Get(ctx, nil); err != nil {
				logger.Warn("approval resolution callback failed", "auth_req_id", in.AuthReqID, "error", err)
			}
			return res.Status, nil
		}
	}
	return ciba.StatusPending, nil
}
