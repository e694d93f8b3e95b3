package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/dmitrijs2005/ddictl/internal/client/models"
)

// Credentials is the part of a session the transport depends on.
type Credentials interface {
	Acquire(ctx context.Context) (models.Credential, error)
	Invalidate()
}

// Response carries the raw gateway answer. It is returned alongside errors
// so callers can report the status code and content.
type Response struct {
	StatusCode int
	Content    []byte
}

// Decode unmarshals the JSON content into v.
func (r Response) Decode(v any) error {
	if len(r.Content) == 0 {
		return fmt.Errorf("empty response body (status %d)", r.StatusCode)
	}
	if err := json.Unmarshal(r.Content, v); err != nil {
		return fmt.Errorf("decode response (status %d): %w", r.StatusCode, err)
	}
	return nil
}

// RequestBuilder creates a fresh request for each attempt; bodies cannot be
// replayed after a send.
type RequestBuilder func(ctx context.Context) (*http.Request, error)

// Client is the gateway transport contract used by services.
type Client interface {
	// Do sends a JSON request to an API endpoint relative to the REST root.
	Do(ctx context.Context, method, endpoint string, body any) (Response, error)

	// Stream copies the body of a GET on endpoint into w.
	Stream(ctx context.Context, endpoint string, w io.Writer) (int64, error)

	// Send issues an authorized raw request. The caller owns the response body.
	Send(ctx context.Context, build RequestBuilder) (*http.Response, error)
}
