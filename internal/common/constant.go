// Package common contains shared constants and sentinel errors used across
// ddictl components.
package common

// APIPathPrefix is appended to the gateway base URL for every REST call.
const APIPathPrefix = "api/v0.2/"

// DefaultZone is the iRODS zone used when a request does not name one.
const DefaultZone = "IT4ILexisZone"

// DefaultChunkSize is the size of a single tus PATCH body.
const DefaultChunkSize = 1 << 20

// tus 1.0.0 protocol headers.
const (
	TusResumableHeader = "Tus-Resumable"
	TusVersion         = "1.0.0"
	UploadOffsetHeader = "Upload-Offset"
	UploadLengthHeader = "Upload-Length"
	UploadMetaHeader   = "Upload-Metadata"
	OffsetContentType  = "application/offset+octet-stream"
)

// InactiveTokenMessage is the errorString the gateway returns for a bearer
// token it no longer accepts. It is handled like a 401.
const InactiveTokenMessage = "Inactive token"
