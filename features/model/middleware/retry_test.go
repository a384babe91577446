package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/assistant0/assistant0/runtime/agent/model"
)

func TestRetryRecoversFromTransientFailures(t *testing.T) {
	client := &fakeClient{errs: []error{rateLimited(), model.NewProviderError("anthropic", 529, "", "overloaded", nil)}}
	wrapped := Retry(RetryOptions{MaxRetries: 3, InitialInterval: time.Millisecond})(client)

	resp, err := wrapped.Complete(context.Background(), helloRequest())
	require.NoError(t, err)
	require.Equal(t, "ok", resp.Message.Content)
	require.Equal(t, 3, client.completeCalls)
}

func TestRetryStopsOnPermanentFailure(t *testing.T) {
	bad := model.NewProviderError("openai", 400, "invalid_request_error", "bad schema", nil)
	client := &fakeClient{errs: []error{bad}}
	wrapped := Retry(RetryOptions{MaxRetries: 3, InitialInterval: time.Millisecond})(client)

	_, err := wrapped.Complete(context.Background(), helloRequest())
	pe, ok := model.AsProviderError(err)
	require.True(t, ok)
	require.Same(t, bad, pe)
	require.Equal(t, 1, client.completeCalls)
}

func TestRetryGivesUpAfterMaxRetries(t *testing.T) {
	client := &fakeClient{errs: []error{rateLimited(), rateLimited(), rateLimited()}}
	wrapped := Retry(RetryOptions{MaxRetries: 1, InitialInterval: time.Millisecond})(client)

	_, err := wrapped.Complete(context.Background(), helloRequest())
	require.True(t, isRateLimited(err))
	require.Equal(t, 2, client.completeCalls)
}
