package middleware

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/assistant0/assistant0/runtime/agent/model"
)

type fakeClient struct {
	errs          []error
	completeCalls int
}

func (f *fakeClient) Complete(_ context.Context, _ model.Request) (model.Response, error) {
	f.completeCalls++
	if len(f.errs) == 0 {
		return model.Response{Message: model.Message{Role: model.RoleAssistant, Content: "ok"}}, nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return model.Response{}, err
}

func rateLimited() error {
	return model.NewProviderError("openai", 429, "rate_limit_exceeded", "slow down", nil)
}

func helloRequest() model.Request {
	return model.Request{Messages: []model.Message{model.UserMessage("hello")}, MaxTokens: 10}
}

func currentTPM(l *AdaptiveRateLimiter) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tpm
}

func TestNewAdaptiveRateLimiterDefaults(t *testing.T) {
	l := newAdaptiveRateLimiter(0, 0)
	assert.Equal(t, float64(defaultTPM), l.tpm)
	assert.Equal(t, float64(defaultTPM), l.ceiling)
	assert.Equal(t, float64(defaultTPM)*0.1, l.floor)

	l = newAdaptiveRateLimiter(1000, 500)
	assert.Equal(t, 1000.0, l.ceiling)
}

func TestRateLimiterHalvesOnRateLimited(t *testing.T) {
	l := newAdaptiveRateLimiter(60000, 60000)
	wrapped := l.Middleware()(&fakeClient{errs: []error{rateLimited()}})

	_, err := wrapped.Complete(context.Background(), helloRequest())
	require.True(t, isRateLimited(err))
	assert.Equal(t, 30000.0, currentTPM(l))
}

func halve(tpm float64) float64 { return tpm / 2 }

func TestRateLimiterNeverDropsBelowFloor(t *testing.T) {
	l := newAdaptiveRateLimiter(1000, 1000)
	for range 5 {
		l.adjust(halve)
	}
	assert.Equal(t, 100.0, currentTPM(l))
	assert.Equal(t, 100, l.limiter.Burst())
}

func TestRateLimiterServesRequestsLargerThanBudget(t *testing.T) {
	l := newAdaptiveRateLimiter(1000, 1000)
	l.adjust(halve)
	l.adjust(halve)
	require.Equal(t, 250.0, currentTPM(l))
	require.Greater(t, estimateTokens(helloRequest()), l.limiter.Burst())

	client := &fakeClient{}
	_, err := l.Middleware()(client).Complete(context.Background(), helloRequest())
	require.NoError(t, err)
	assert.Equal(t, 1, client.completeCalls)
	assert.Equal(t, 300.0, currentTPM(l))
}

func TestRateLimiterIgnoresOtherFailures(t *testing.T) {
	l := newAdaptiveRateLimiter(60000, 60000)
	client := &fakeClient{errs: []error{model.NewProviderError("openai", 400, "", "bad request", nil)}}
	_, _ = l.Middleware()(client).Complete(context.Background(), helloRequest())
	assert.Equal(t, 60000.0, currentTPM(l))
}

func TestRateLimiterRecoversOnSuccess(t *testing.T) {
	l := newAdaptiveRateLimiter(60000, 120000)
	_, err := l.Middleware()(&fakeClient{}).Complete(context.Background(), helloRequest())
	require.NoError(t, err)
	assert.Equal(t, 63000.0, currentTPM(l))
}

func TestRateLimiterRespectsContextWhenQueued(t *testing.T) {
	l := newAdaptiveRateLimiter(60, 60)
	l.limiter = rate.NewLimiter(0, 0)
	client := &fakeClient{}

	req := model.Request{Messages: []model.Message{model.UserMessage(strings.Repeat("a", 600))}}
	_, err := l.Middleware()(client).Complete(context.Background(), req)
	require.Error(t, err)
	assert.Zero(t, client.completeCalls)
}

func TestMiddlewareNilClient(t *testing.T) {
	assert.Nil(t, newAdaptiveRateLimiter(1, 1).Middleware()(nil))
}

func TestEstimateTokens(t *testing.T) {
	small := estimateTokens(model.Request{Messages: []model.Message{model.UserMessage("short")}})
	withTools := estimateTokens(model.Request{
		Messages: []model.Message{model.UserMessage("short")},
		Tools:    []model.ToolDefinition{{Name: "shop_online", Description: "Buy a product from the online shop."}},
	})
	big := estimateTokens(model.Request{
		System:   "You are Assistant0.",
		Messages: []model.Message{model.UserMessage("this is a much longer message")},
	})
	assert.Equal(t, 500, estimateTokens(model.Request{}))
	assert.Greater(t, small, 0)
	assert.Greater(t, withTools, small)
	assert.Greater(t, big, small)
}
