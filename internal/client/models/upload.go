package models

import (
	"strings"
	"time"
)

// UploadState is a stage of the resumable upload state machine.
type UploadState string

const (
	UploadCreated    UploadState = "created"
	UploadInProgress UploadState = "in_progress"
	UploadPaused     UploadState = "paused"
	UploadCompleted  UploadState = "completed"
	UploadFailed     UploadState = "failed"
)

// Terminal reports whether no further transition is possible.
func (s UploadState) Terminal() bool {
	return s == UploadCompleted || s == UploadFailed
}

// Resumable reports whether Resume accepts a session in this state.
func (s UploadState) Resumable() bool {
	return s == UploadPaused || s == UploadCreated || s == UploadInProgress
}

// FileIdentity pins the bytes an upload was started with.
type FileIdentity struct {
	Name        string `json:"name" yaml:"name"`
	Size        int64  `json:"size" yaml:"size"`
	Fingerprint string `json:"fingerprint" yaml:"fingerprint"`
}

// UploadSession is one file-to-dataset transfer. Offset only moves forward
// on a server-acknowledged write.
type UploadSession struct {
	ID         string            `json:"id" yaml:"id"`
	Descriptor DatasetDescriptor `json:"dataset" yaml:"dataset"`
	Source     string            `json:"source" yaml:"source"`
	TargetPath string            `json:"target_path,omitempty" yaml:"target_path,omitempty"`
	File       FileIdentity      `json:"file" yaml:"file"`
	Offset     int64             `json:"offset" yaml:"offset"`
	UploadURL  string            `json:"upload_url,omitempty" yaml:"upload_url,omitempty"`
	State      UploadState       `json:"state" yaml:"state"`
	Expand     bool              `json:"expand" yaml:"expand"`
	Encryption bool              `json:"encryption" yaml:"encryption"`
	Rewrite    bool              `json:"rewrite" yaml:"rewrite"`
	Attempts   int               `json:"attempts" yaml:"attempts"`
	LastError  string            `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	CreatedAt  time.Time         `json:"created_at" yaml:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at" yaml:"updated_at"`
}

// Remaining returns the number of bytes the server has not acknowledged.
func (s *UploadSession) Remaining() int64 {
	if s.Offset >= s.File.Size {
		return 0
	}
	return s.File.Size - s.Offset
}

// UploadFilter selects persisted sessions. Empty fields match anything.
type UploadFilter struct {
	States    []UploadState
	DatasetID string
}

// UploadEvent records one state transition of a session.
type UploadEvent struct {
	SessionID string
	From      UploadState
	To        UploadState
	Offset    int64
	Note      string
	At        time.Time
}

// IsArchive reports whether the gateway should expand name after upload.
func IsArchive(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".tar.gz")
}
