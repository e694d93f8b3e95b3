package common

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpError_UnwrapsKindAndCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewOpError("upload.patch", "ds-1", 4096, ErrTransport, cause)

	require.ErrorIs(t, err, ErrTransport)
	require.ErrorIs(t, err, cause)
	assert.Equal(t, "upload.patch dataset=ds-1 offset=4096: transport error: connection reset", err.Error())
}

func TestOpError_KeepsKindOfWrappedError(t *testing.T) {
	inner := fmt.Errorf("refresh rejected: %w", ErrAuthentication)
	err := NewOpError("upload.patch", "", 0, ErrTransport, inner)

	assert.ErrorIs(t, err, ErrAuthentication)
	assert.NotErrorIs(t, err, ErrTransport)
	assert.Equal(t, "upload.patch: refresh rejected: authentication error", err.Error())
}

func TestOpError_NoCause(t *testing.T) {
	err := &OpError{Op: "dataset.delete", DatasetID: "x", Kind: ErrNotFound}
	assert.Equal(t, "dataset.delete dataset=x: not found", err.Error())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"transport", fmt.Errorf("x: %w", ErrTransport), true},
		{"server", ErrServer, true},
		{"validation", ErrValidation, false},
		{"auth", ErrAuthentication, false},
		{"not found", ErrNotFound, false},
		{"plain", errors.New("boom"), false},
		{"auth wins over transport", errors.Join(ErrTransport, ErrAuthentication), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, ErrNotFound, KindOf(fmt.Errorf("wrap: %w", ErrNotFound)))
	assert.Nil(t, KindOf(errors.New("plain")))
	assert.Nil(t, KindOf(nil))
}
