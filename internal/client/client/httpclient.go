package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/ddictl/internal/common"
	"github.com/dmitrijs2005/ddictl/internal/logging"
)

// maxErrorBody bounds how much of a 4xx body is buffered to look for the
// inactive-token marker.
const maxErrorBody = 64 << 10

type HTTPClient struct {
	base    string
	http    *http.Client
	creds   Credentials
	log     logging.Logger
	timeout time.Duration
}

type Option func(*HTTPClient)

func WithHTTPClient(h *http.Client) Option { return func(c *HTTPClient) { c.http = h } }

func WithLogger(l logging.Logger) Option { return func(c *HTTPClient) { c.log = l } }

// WithTimeout bounds each Do call. Send and Stream rely on the caller's context.
func WithTimeout(d time.Duration) Option { return func(c *HTTPClient) { c.timeout = d } }

// New creates a transport for the REST root apiBase, e.g.
// https://api.example/api/v0.2/.
func New(apiBase string, creds Credentials, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		base:    strings.TrimRight(apiBase, "/") + "/",
		http:    &http.Client{},
		creds:   creds,
		log:     logging.Nop(),
		timeout: 30 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// URL resolves endpoint against the REST root.
func (c *HTTPClient) URL(endpoint string) string {
	return c.base + strings.TrimLeft(endpoint, "/")
}

// Send authorizes and sends the request produced by build. If the gateway
// answers 401, or a 4xx whose errorString is the inactive-token message, the
// credential is invalidated and the request is rebuilt and sent exactly once
// more. The second answer is returned whatever it is.
func (c *HTTPClient) Send(ctx context.Context, build RequestBuilder) (*http.Response, error) {
	resp, err := c.send(ctx, build)
	if err != nil {
		return nil, err
	}

	rejected, err := tokenRejected(resp)
	if err != nil {
		return nil, err
	}
	if !rejected {
		return resp, nil
	}

	c.log.Warn(ctx, "access token rejected, refreshing and retrying once", "status", resp.StatusCode)
	_ = resp.Body.Close()
	c.creds.Invalidate()

	return c.send(ctx, build)
}

func (c *HTTPClient) send(ctx context.Context, build RequestBuilder) (*http.Response, error) {
	cred, err := c.creds.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	req, err := build(ctx)
	if err != nil {
		return nil, fmt.Errorf("build request: %w: %w", common.ErrValidation, err)
	}
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w: %w", req.Method, req.URL.Redacted(), common.ErrTransport, err)
	}
	return resp, nil
}

// tokenRejected inspects resp without consuming it; a buffered body is put
// back in place.
func tokenRejected(resp *http.Response) (bool, error) {
	if resp.StatusCode == http.StatusUnauthorized {
		return true, nil
	}
	if resp.StatusCode < 400 || resp.StatusCode >= 500 {
		return false, nil
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	_ = resp.Body.Close()
	if err != nil {
		return false, fmt.Errorf("read error body: %w: %w", common.ErrTransport, err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(b))
	return isInactiveToken(resp.StatusCode, b), nil
}

// Do sends body as JSON (nil means no body) and returns the raw answer. The
// error, if any, wraps one of the common error kinds.
func (c *HTTPClient) Do(ctx context.Context, method, endpoint string, body any) (Response, error) {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return Response{}, fmt.Errorf("encode %s body: %w: %w", endpoint, common.ErrValidation, err)
		}
		payload = b
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := c.URL(endpoint)
	resp, err := c.Send(ctx, func(ctx context.Context) (*http.Request, error) {
		var r io.Reader
		if payload != nil {
			r = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, r)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return req, nil
	})
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{StatusCode: resp.StatusCode}, fmt.Errorf("read %s response: %w: %w", endpoint, common.ErrTransport, err)
	}

	out := Response{StatusCode: resp.StatusCode, Content: content}
	c.log.Debug(ctx, "gateway call", "method", method, "endpoint", endpoint, "status", resp.StatusCode)

	if err := mapStatus(resp.StatusCode, content); err != nil {
		return out, fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	return out, nil
}

// Stream GETs endpoint and copies the body into w.
func (c *HTTPClient) Stream(ctx context.Context, endpoint string, w io.Writer) (int64, error) {
	url := c.URL(endpoint)
	resp, err := c.Send(ctx, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		content, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return 0, fmt.Errorf("GET %s: %w", endpoint, mapStatus(resp.StatusCode, content))
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("GET %s after %d bytes: %w: %w", endpoint, n, common.ErrTransport, err)
	}
	return n, nil
}

// MapStatus exposes the status mapping to protocol clients that read the
// response themselves.
func MapStatus(status int, content []byte) error {
	return mapStatus(status, content)
}
