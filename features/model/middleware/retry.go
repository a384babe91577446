package middleware

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/assistant0/assistant0/runtime/agent/model"
)

type (
	// RetryOptions configures Retry.
	RetryOptions struct {
		// MaxRetries bounds the number of retries after the first attempt.
		// Defaults to 2.
		MaxRetries uint64
		// InitialInterval is the first backoff delay. Defaults to 500ms.
		InitialInterval time.Duration
		// MaxElapsed bounds the total time spent retrying. Defaults to 30s.
		MaxElapsed time.Duration
	}

	retryClient struct {
		next model.Client
		opts RetryOptions
	}
)

// Retry returns a model.Client middleware that retries provider failures
// reporting Retryable with exponential backoff. Other errors and context
// cancellation are returned immediately.
func Retry(opts RetryOptions) func(model.Client) model.Client {
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 2
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 500 * time.Millisecond
	}
	if opts.MaxElapsed <= 0 {
		opts.MaxElapsed = 30 * time.Second
	}
	return func(next model.Client) model.Client {
		if next == nil {
			return nil
		}
		return &retryClient{next: next, opts: opts}
	}
}

func (c *retryClient) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.opts.InitialInterval
	eb.MaxElapsedTime = c.opts.MaxElapsed
	b := backoff.WithContext(backoff.WithMaxRetries(eb, c.opts.MaxRetries), ctx)

	var resp model.Response
	err := backoff.Retry(func() error {
		r, err := c.next.Complete(ctx, req)
		if err == nil {
			resp = r
			return nil
		}
		if pe, ok := model.AsProviderError(err); ok && pe.Retryable() {
			return err
		}
		return backoff.Permanent(err)
	}, b)
	if err != nil {
		return model.Response{}, err
	}
	return resp, nil
}
