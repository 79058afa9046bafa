// Package transport carries polip documents over HTTP.
//
// The rest of the library only sees the Transport interface; timeouts,
// retries and connection reuse are the transport's concern.
package transport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// DefaultTimeout bounds a single request/response round-trip.
const DefaultTimeout = 30 * time.Second

// Transport performs one HTTP exchange with the ingest server.
type Transport interface {
	// Post submits body as application/json and returns the response
	// status code and body.
	Post(ctx context.Context, url string, body []byte) (int, []byte, error)
	// Get fetches url and returns the response status code and body.
	Get(ctx context.Context, url string) (int, []byte, error)
}

// HTTP is the production Transport backed by net/http.
type HTTP struct {
	client *http.Client
}

// Cfg configures an HTTP transport.
type Cfg func(*HTTP) error

// WithTimeout sets the round-trip timeout.
func WithTimeout(d time.Duration) Cfg {
	return func(t *HTTP) error {
		t.client.Timeout = d
		return nil
	}
}

// WithClient sets the underlying http.Client.
func WithClient(c *http.Client) Cfg {
	return func(t *HTTP) error {
		t.client = c
		return nil
	}
}

// NewHTTP creates a new HTTP transport with the given configuration.
func NewHTTP(cfgs ...Cfg) (*HTTP, error) {
	t := &HTTP{
		client: &http.Client{Timeout: DefaultTimeout},
	}
	for _, cfg := range cfgs {
		if err := cfg(t); err != nil {
			return nil, errors.Wrap(err, "apply HTTP transport cfg failed")
		}
	}
	return t, nil
}

// Post implements Transport.
func (t *HTTP) Post(ctx context.Context, url string, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, errors.Wrap(err, "build request failed")
	}
	req.Header.Set("Content-Type", "application/json")
	return t.do(req)
}

// Get implements Transport.
func (t *HTTP) Get(ctx context.Context, url string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, errors.Wrap(err, "build request failed")
	}
	return t.do(req)
}

func (t *HTTP) do(req *http.Request) (int, []byte, error) {
	resp, err := t.client.Do(req)
	if err != nil {
		return 0, nil, errors.Wrapf(err, "%s %s failed", req.Method, req.URL)
	}
	defer resp.Body.Close() // nolint: errcheck
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, errors.Wrap(err, "read response body failed")
	}
	return resp.StatusCode, raw, nil
}
