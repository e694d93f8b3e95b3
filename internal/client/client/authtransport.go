package client

import (
	"fmt"
	"net/http"

	"github.com/dmitrijs2005/ddictl/internal/common"
	"github.com/dmitrijs2005/ddictl/internal/logging"
)

// AuthTransport authorizes requests sent through a plain *http.Client, for
// protocol libraries that do not go through Send. It applies the same rule
// as Send: a rejected token is invalidated and the request is sent once
// more. Requests whose body cannot be replayed get the rejection back.
type AuthTransport struct {
	creds Credentials
	base  http.RoundTripper
	log   logging.Logger
}

// NewAuthTransport wraps base; a nil base means http.DefaultTransport.
func NewAuthTransport(creds Credentials, base http.RoundTripper, log logging.Logger) *AuthTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	if log == nil {
		log = logging.Nop()
	}
	return &AuthTransport{creds: creds, base: base, log: log}
}

// HTTPClient returns a client that sends through t.
func (t *AuthTransport) HTTPClient() *http.Client {
	return &http.Client{Transport: t}
}

func (t *AuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.send(req)
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
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		return resp, nil
	}

	t.log.Warn(req.Context(), "access token rejected, refreshing and retrying once",
		"method", req.Method, "status", resp.StatusCode)
	_ = resp.Body.Close()
	t.creds.Invalidate()

	again := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("replay %s body: %w: %w", req.Method, common.ErrTransport, err)
		}
		again.Body = body
	}
	return t.send(again)
}

func (t *AuthTransport) send(req *http.Request) (*http.Response, error) {
	cred, err := t.creds.Acquire(req.Context())
	if err != nil {
		return nil, err
	}

	r := req.Clone(req.Context())
	r.Header.Set("Authorization", "Bearer "+cred.AccessToken)

	resp, err := t.base.RoundTrip(r)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w: %w", req.Method, req.URL.Redacted(), common.ErrTransport, err)
	}
	return resp, nil
}
