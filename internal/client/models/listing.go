package models

// FileEntry is one node of a dataset listing. Directory paths end with "/".
type FileEntry struct {
	Path       string `json:"path" yaml:"path"`
	Size       int64  `json:"size" yaml:"size"`
	Checksum   string `json:"checksum,omitempty" yaml:"checksum,omitempty"`
	CreateTime string `json:"create_time,omitempty" yaml:"create_time,omitempty"`
	IsDir      bool   `json:"is_dir" yaml:"is_dir"`
}

// DownloadRequest tracks a server-side download preparation.
type DownloadRequest struct {
	RequestID string
	State     TaskState
	RawState  string
}
