// Package common defines shared constants and sentinel errors used across
// the ddictl client layers. Callers should use errors.Is to match these
// values.
package common

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAuthentication is terminal for the current operation. It is never
	// retried beyond a single invalidate-and-retry.
	ErrAuthentication = errors.New("authentication error")

	// ErrTransport covers timeouts, resets and other network failures.
	ErrTransport = errors.New("transport error")

	// ErrValidation marks malformed caller input or local data that does not
	// match what was recorded earlier.
	ErrValidation = errors.New("validation error")

	// ErrNotFound is reported for operations on a nonexistent id.
	ErrNotFound = errors.New("not found")

	// ErrServer is a 5xx-class failure reported by the gateway.
	ErrServer = errors.New("server error")
)

// OpError carries enough context to resume or report a failed operation.
// Kind is one of the sentinels above.
type OpError struct {
	Op        string
	DatasetID string
	Offset    int64
	Kind      error
	Err       error
}

func (e *OpError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.DatasetID != "" {
		fmt.Fprintf(&b, " dataset=%s", e.DatasetID)
	}
	if e.Offset > 0 {
		fmt.Fprintf(&b, " offset=%d", e.Offset)
	}
	b.WriteString(": ")
	switch {
	case e.Err == nil:
		b.WriteString(e.Kind.Error())
	case e.Kind == nil || errors.Is(e.Err, e.Kind):
		b.WriteString(e.Err.Error())
	default:
		fmt.Fprintf(&b, "%v: %v", e.Kind, e.Err)
	}
	return b.String()
}

func (e *OpError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// NewOpError wraps err with the operation context. If err already carries
// one of the kind sentinels, that kind is kept.
func NewOpError(op, datasetID string, offset int64, kind, err error) *OpError {
	if k := KindOf(err); k != nil {
		kind = k
	}
	return &OpError{Op: op, DatasetID: datasetID, Offset: offset, Kind: kind, Err: err}
}

// KindOf returns the kind sentinel carried by err, or nil.
func KindOf(err error) error {
	for _, k := range []error{ErrAuthentication, ErrValidation, ErrNotFound, ErrServer, ErrTransport} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// IsRetryable reports whether err may succeed on a later attempt.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrAuthentication) || errors.Is(err, ErrValidation) {
		return false
	}
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrServer)
}
