// Package rest is the JSON-over-HTTP plumbing shared by the vendor toolsets.
// Requests carry the delegated token of the running tool call and the trace
// context of the caller. Non-2xx responses become credential.UpstreamError
// values so the gate can tell rejected credentials from other failures.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/assistant0/assistant0/runtime/auth/credential"
)

const maxErrorBody = 4 << 10

// Client calls one vendor API.
type Client struct {
	// Service names the vendor in errors, e.g. "google.calendar".
	Service string
	// BaseURL is prepended to request paths.
	BaseURL string
	// HTTP returns the client used for a request. Defaults to
	// credential.HTTPClient, which authenticates with the delegated token in
	// ctx.
	HTTP func(ctx context.Context) (*http.Client, error)
	// Header is added to every request.
	Header http.Header
}

// Get issues a GET for path with query and decodes the JSON response into out.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.Do(ctx, http.MethodGet, path, query, nil, out)
}

// Post sends body as JSON to path and decodes the JSON response into out.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPost, path, nil, body, out)
}

// Do issues the request. out may be nil.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", c.Service, err)
		}
		rd = bytes.NewReader(b)
	}
	u := strings.TrimSuffix(c.BaseURL, "/") + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return err
	}
	for k, vs := range c.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	hc, err := c.client(ctx)
	if err != nil {
		return err
	}
	resp, err := hc.Do(req)
	if err != nil {
		// Query strings may carry API keys.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			uerr.URL, _, _ = strings.Cut(uerr.URL, "?")
		}
		return &credential.UpstreamError{Service: c.Service, Message: "request failed", Cause: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return credential.UpstreamStatus(c.Service, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", c.Service, err)
	}
	return nil
}

func (c *Client) client(ctx context.Context) (*http.Client, error) {
	if c.HTTP != nil {
		return c.HTTP(ctx)
	}
	return credential.HTTPClient(ctx)
}
