package client

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/dmitrijs2005/ddictl/internal/common"
)

// APIError is returned for a non-2xx gateway response. Kind is one of the
// common error sentinels.
type APIError struct {
	StatusCode int
	Body       string
	Kind       error
}

func (e *APIError) Error() string {
	msg := strings.TrimSpace(e.Body)
	if len(msg) > 256 {
		msg = msg[:256] + "..."
	}
	if msg == "" {
		return fmt.Sprintf("%v: status %d", e.Kind, e.StatusCode)
	}
	return fmt.Sprintf("%v: status %d: %s", e.Kind, e.StatusCode, msg)
}

func (e *APIError) Unwrap() error { return e.Kind }

type errorBody struct {
	ErrorString string `json:"errorString"`
	Message     string `json:"message"`
	Detail      string `json:"detail"`
}

func parseErrorBody(content []byte) errorBody {
	var b errorBody
	_ = json.Unmarshal(content, &b)
	return b
}

func (b errorBody) text() string {
	for _, s := range []string{b.ErrorString, b.Message, b.Detail} {
		if s != "" {
			return s
		}
	}
	return ""
}

// isInactiveToken reports whether the gateway rejected the bearer token in
// the body of a 4xx response instead of with a 401.
func isInactiveToken(status int, content []byte) bool {
	if status < 400 || status >= 500 {
		return false
	}
	return parseErrorBody(content).ErrorString == common.InactiveTokenMessage
}

// mapStatus converts a gateway status code into an error kind.
func mapStatus(status int, content []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}

	var kind error
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		kind = common.ErrAuthentication
	case isInactiveToken(status, content):
		kind = common.ErrAuthentication
	case status == http.StatusNotFound, status == http.StatusGone:
		kind = common.ErrNotFound
	case status >= 500:
		kind = common.ErrServer
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		kind = common.ErrTransport
	case status >= 400:
		if strings.Contains(strings.ToLower(parseErrorBody(content).text()), "not found") {
			kind = common.ErrNotFound
		} else {
			kind = common.ErrValidation
		}
	default:
		kind = common.ErrServer
	}
	return &APIError{StatusCode: status, Body: string(content), Kind: kind}
}
