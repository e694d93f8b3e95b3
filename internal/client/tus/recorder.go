package tus

import (
	"bytes"
	"context"
	"io"
	"net/http"
)

// maxErrorBody bounds how much of an error answer is kept for mapping.
const maxErrorBody = 4096

// exchange is the last answer seen for one protocol call.
type exchange struct {
	status int
	body   []byte
}

type exchangeKey struct{}

func record(ctx context.Context) (context.Context, *exchange) {
	ex := &exchange{}
	return context.WithValue(ctx, exchangeKey{}, ex), ex
}

// recorder notes the status and error body of every answer in the exchange
// carried by the request context, leaving the body readable.
type recorder struct {
	next http.RoundTripper
}

func (r recorder) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := r.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	ex, ok := req.Context().Value(exchangeKey{}).(*exchange)
	if !ok {
		return resp, nil
	}

	ex.status = resp.StatusCode
	ex.body = nil
	if resp.StatusCode >= http.StatusBadRequest {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		_ = resp.Body.Close()
		ex.body = b
		resp.Body = io.NopCloser(bytes.NewReader(b))
	}
	return resp, nil
}
