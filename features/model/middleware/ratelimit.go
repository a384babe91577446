// Package middleware provides model.Client middlewares: adaptive rate limiting
// and retries of transient provider failures.
package middleware

import (
	"context"
	"strconv"
	"sync"
	"time"

	"goa.design/pulse/rmap"
	"golang.org/x/time/rate"

	"github.com/assistant0/assistant0/runtime/agent/model"
)

type (
	// AdaptiveRateLimiter throttles completions against a tokens-per-minute
	// budget. The budget halves whenever the provider reports rate limiting
	// and grows back by a fixed step after each successful completion. When
	// built with a replicated map the budget is shared by every process that
	// joins the same key, so one replica hitting a 429 slows down the others.
	//
	// One instance is constructed per process and placed in front of the
	// provider adapter with Middleware.
	AdaptiveRateLimiter struct {
		mu      sync.Mutex
		limiter *rate.Limiter
		tpm     float64
		floor   float64
		ceiling float64
		step    float64
		shared  *sharedBudget
	}

	limitedClient struct {
		next    model.Client
		limiter *AdaptiveRateLimiter
	}

	// sharedBudget publishes budget changes to a replicated map.
	sharedBudget struct {
		m   clusterMap
		key string
	}

	// clusterMap is the subset of rmap.Map used to share the budget.
	clusterMap interface {
		Get(key string) (string, bool)
		SetIfNotExists(ctx context.Context, key, value string) (bool, error)
		TestAndSet(ctx context.Context, key, test, value string) (string, error)
		Subscribe() <-chan rmap.EventKind
	}
)

const (
	defaultTPM = 60000
	// sharedWriteAttempts bounds the compare-and-swap retries on the shared
	// budget.
	sharedWriteAttempts = 3
	sharedWriteTimeout  = 2 * time.Second
)

// NewAdaptiveRateLimiter returns a limiter starting at initialTPM and never
// exceeding maxTPM. A non-nil m shares the budget under key across
// processes; the current shared value, when present, overrides initialTPM.
func NewAdaptiveRateLimiter(ctx context.Context, m *rmap.Map, key string, initialTPM, maxTPM float64) *AdaptiveRateLimiter {
	if m == nil {
		return newAdaptiveRateLimiter(initialTPM, maxTPM)
	}
	return newSharedRateLimiter(ctx, m, key, initialTPM, maxTPM)
}

// newAdaptiveRateLimiter returns a process-local limiter. A non-positive
// initialTPM defaults to 60000 and maxTPM is raised to at least initialTPM.
func newAdaptiveRateLimiter(initialTPM, maxTPM float64) *AdaptiveRateLimiter {
	if initialTPM <= 0 {
		initialTPM = defaultTPM
	}
	if maxTPM < initialTPM {
		maxTPM = initialTPM
	}
	return &AdaptiveRateLimiter{
		limiter: rate.NewLimiter(rate.Limit(initialTPM/60), int(initialTPM)),
		tpm:     initialTPM,
		floor:   max(initialTPM*0.1, 1),
		ceiling: maxTPM,
		step:    max(initialTPM*0.05, 1),
	}
}

func newSharedRateLimiter(ctx context.Context, m clusterMap, key string, initialTPM, maxTPM float64) *AdaptiveRateLimiter {
	if key == "" {
		return newAdaptiveRateLimiter(initialTPM, maxTPM)
	}
	if _, ok := m.Get(key); !ok {
		if _, err := m.SetIfNotExists(ctx, key, formatTPM(initialTPM)); err != nil {
			return newAdaptiveRateLimiter(initialTPM, maxTPM)
		}
	}
	start := initialTPM
	if v, ok := readTPM(m, key); ok {
		start = v
	}
	l := newAdaptiveRateLimiter(start, maxTPM)
	l.shared = &sharedBudget{m: m, key: key}
	go l.follow(m.Subscribe())
	return l
}

// Middleware wraps a client so each completion first waits for capacity.
func (l *AdaptiveRateLimiter) Middleware() func(model.Client) model.Client {
	return func(next model.Client) model.Client {
		if next == nil {
			return nil
		}
		return &limitedClient{next: next, limiter: l}
	}
}

// Complete waits for the estimated request cost, then delegates.
func (c *limitedClient) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	if err := c.limiter.wait(ctx, estimateTokens(req)); err != nil {
		return model.Response{}, err
	}
	resp, err := c.next.Complete(ctx, req)
	switch {
	case err == nil:
		c.limiter.adjust(func(tpm float64) float64 { return tpm + c.limiter.step })
	case isRateLimited(err):
		c.limiter.adjust(func(tpm float64) float64 { return tpm / 2 })
	}
	return resp, err
}

// wait blocks until tokens are available. Requests larger than the current
// burst wait for a full bucket instead, so a shrunken budget slows callers
// down without rejecting them.
func (l *AdaptiveRateLimiter) wait(ctx context.Context, tokens int) error {
	return l.limiter.WaitN(ctx, max(min(tokens, l.limiter.Burst()), 1))
}

// adjust applies f to the local budget and, when shared, to the replicated
// value.
func (l *AdaptiveRateLimiter) adjust(f func(float64) float64) {
	l.mu.Lock()
	changed := l.setLocked(f(l.tpm))
	floor, ceiling, shared := l.floor, l.ceiling, l.shared
	l.mu.Unlock()
	if changed && shared != nil {
		go shared.update(f, floor, ceiling)
	}
}

// set replaces the local budget, clamped to the configured range.
func (l *AdaptiveRateLimiter) set(tpm float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.setLocked(tpm)
}

func (l *AdaptiveRateLimiter) setLocked(tpm float64) bool {
	tpm = min(max(tpm, l.floor), l.ceiling)
	if tpm == l.tpm {
		return false
	}
	l.tpm = tpm
	l.limiter.SetLimit(rate.Limit(tpm / 60))
	l.limiter.SetBurst(int(tpm))
	return true
}

// follow reconciles the local budget with changes made by other processes.
func (l *AdaptiveRateLimiter) follow(events <-chan rmap.EventKind) {
	for range events {
		if v, ok := readTPM(l.shared.m, l.shared.key); ok {
			l.set(v)
		}
	}
}

// update applies f to the shared budget with compare-and-swap. Losing the
// race more than sharedWriteAttempts times drops the update; the winner's
// value reaches this process through follow.
func (s *sharedBudget) update(f func(float64) float64, floor, ceiling float64) {
	ctx, cancel := context.WithTimeout(context.Background(), sharedWriteTimeout)
	defer cancel()
	for range sharedWriteAttempts {
		raw, ok := s.m.Get(s.key)
		if !ok {
			return
		}
		cur, err := strconv.ParseFloat(raw, 64)
		if err != nil || cur <= 0 {
			return
		}
		next := min(max(f(cur), floor), ceiling)
		if next == cur {
			return
		}
		prev, err := s.m.TestAndSet(ctx, s.key, raw, formatTPM(next))
		if err != nil || prev == raw {
			return
		}
	}
}

func readTPM(m clusterMap, key string) (float64, bool) {
	raw, ok := m.Get(key)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

func formatTPM(tpm float64) string {
	return strconv.Itoa(int(tpm))
}

func isRateLimited(err error) bool {
	pe, ok := model.AsProviderError(err)
	return ok && pe.Kind == model.ProviderErrorKindRateLimited
}

// estimateTokens approximates the prompt size at one token per three
// characters, counting the system prompt, messages, tool calls and tool
// definitions, plus a fixed allowance for the completion framing.
func estimateTokens(req model.Request) int {
	const framing = 500
	chars := len(req.System)
	for _, m := range req.Messages {
		chars += len(m.Content)
		for _, c := range m.ToolCalls {
			chars += len(c.Name) + len(c.Args)
		}
	}
	for _, t := range req.Tools {
		chars += len(t.Name) + len(t.Description)
	}
	return chars/3 + framing
}
