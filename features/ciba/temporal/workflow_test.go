package temporal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/workflow"

	"github.com/assistant0/assistant0/runtime/auth/ciba"
)

type scriptedRefresher struct {
	mu       sync.Mutex
	statuses []ciba.Status
	calls    int
}

func (r *scriptedRefresher) Refresh(_ context.Context, id string) (ciba.Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	st := ciba.StatusPending
	if len(r.statuses) > 0 {
		st = r.statuses[0]
		if len(r.statuses) > 1 {
			r.statuses = r.statuses[1:]
		}
	}
	return ciba.Request{ID: id, Status: st, ToolCallKey: "conv-1/s1", Subject: "auth0|alice"}, nil
}

func newEnv(t *testing.T, acts *Activities) *testsuite.TestWorkflowEnvironment {
	t.Helper()
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()
	env.RegisterWorkflowWithOptions(WatchApproval, workflow.RegisterOptions{Name: WorkflowName})
	env.RegisterActivityWithOptions(acts.RefreshApproval, activity.RegisterOptions{Name: RefreshActivityName})
	env.RegisterActivityWithOptions(acts.ApprovalResolved, activity.RegisterOptions{Name: ResolvedActivityName})
	return env
}

func TestWatchPollsUntilResolved(t *testing.T) {
	ref := &scriptedRefresher{statuses: []ciba.Status{ciba.StatusPending, ciba.StatusPending, ciba.StatusApproved}}
	var resolved []ciba.Request
	acts := &Activities{Refresher: ref, OnResolved: func(_ context.Context, req ciba.Request) error {
		resolved = append(resolved, req)
		return nil
	}}
	env := newEnv(t, acts)

	env.ExecuteWorkflow(WorkflowName, WatchInput{AuthReqID: "areq-1", Interval: 5 * time.Second})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	var status ciba.Status
	require.NoError(t, env.GetWorkflowResult(&status))
	require.Equal(t, ciba.StatusApproved, status)
	require.Len(t, resolved, 1)
	require.Equal(t, "conv-1/s1", resolved[0].ToolCallKey)
}

func TestCallbackSignalWakesWatchEarly(t *testing.T) {
	ref := &scriptedRefresher{statuses: []ciba.Status{ciba.StatusDenied}}
	env := newEnv(t, &Activities{Refresher: ref})
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(CallbackSignal, nil)
	}, time.Second)

	start := env.Now()
	env.ExecuteWorkflow(WorkflowName, WatchInput{AuthReqID: "areq-1", Interval: time.Hour})
	require.NoError(t, env.GetWorkflowError())
	var status ciba.Status
	require.NoError(t, env.GetWorkflowResult(&status))
	require.Equal(t, ciba.StatusDenied, status)
	require.Less(t, env.Now().Sub(start), time.Hour)
}

func TestWatchStopsAtExpiry(t *testing.T) {
	ref := &scriptedRefresher{}
	env := newEnv(t, &Activities{Refresher: ref})
	expires := env.Now().Add(20 * time.Second)
	env.OnActivity(RefreshActivityName, mock.Anything, "areq-1").Return(func(_ context.Context, _ string) (RefreshResult, error) {
		if !env.Now().Before(expires) {
			return RefreshResult{Status: ciba.StatusExpired}, nil
		}
		return RefreshResult{Status: ciba.StatusPending}, nil
	})

	env.ExecuteWorkflow(WorkflowName, WatchInput{AuthReqID: "areq-1", Interval: 5 * time.Second, ExpiresAt: expires})
	require.NoError(t, env.GetWorkflowError())
	var status ciba.Status
	require.NoError(t, env.GetWorkflowResult(&status))
	require.Equal(t, ciba.StatusExpired, status)
}

func TestMapSignalError(t *testing.T) {
	require.NoError(t, mapSignalError(nil))
	require.NoError(t, mapSignalError(serviceerror.NewNotFound("workflow not found")))
	require.NoError(t, mapSignalError(serviceerror.NewFailedPrecondition("workflow execution already completed")))
	boom := errors.New("transport unavailable")
	require.ErrorIs(t, mapSignalError(boom), boom)
}

func TestNewRequiresClient(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
}
