package models

import "strings"

// TaskState is the normalized state of a server-side ingestion task.
type TaskState string

const (
	TaskPending TaskState = "pending"
	TaskSuccess TaskState = "success"
	TaskFailed  TaskState = "failed"
)

// ParseTaskState maps the gateway's task_state onto TaskState. Unknown
// values are treated as still pending.
func ParseTaskState(raw string) TaskState {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "SUCCESS", "SUCCEEDED", "DONE":
		return TaskSuccess
	case "FAILURE", "FAILED", "ERROR", "REVOKED":
		return TaskFailed
	default:
		return TaskPending
	}
}

func (s TaskState) Terminal() bool {
	return s == TaskSuccess || s == TaskFailed
}

// IngestionTask is a read-only view of a server-side task.
type IngestionTask struct {
	TaskID       string    `json:"task_id" yaml:"task_id"`
	DatasetID    string    `json:"dataset_id" yaml:"dataset_id"`
	State        TaskState `json:"state" yaml:"state"`
	RawState     string    `json:"raw_state" yaml:"raw_state"`
	FileName     string    `json:"filename" yaml:"filename"`
	Project      string    `json:"project" yaml:"project"`
	TransferType string    `json:"transfer_type,omitempty" yaml:"transfer_type,omitempty"`
}

// TaskFilter selects ingestion tasks. Set fields are combined with AND.
type TaskFilter struct {
	Project  string
	FileName string
	State    TaskState
}

func (f TaskFilter) Match(t IngestionTask) bool {
	if f.Project != "" && f.Project != t.Project {
		return false
	}
	if f.FileName != "" && f.FileName != t.FileName {
		return false
	}
	if f.State != "" && f.State != t.State {
		return false
	}
	return true
}
