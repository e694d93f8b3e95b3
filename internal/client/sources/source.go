// Package sources opens the byte sources an upload reads from: local files
// and objects in an S3-compatible store.
package sources

import (
	"context"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/ddictl/internal/client/config"
	"github.com/dmitrijs2005/ddictl/internal/client/models"
	"github.com/dmitrijs2005/ddictl/internal/common"
)

// Source is random-access content with a stable identity.
type Source interface {
	// Identity returns name, size and content fingerprint.
	Identity(ctx context.Context) (models.FileIdentity, error)
	// ReadChunk returns up to n bytes starting at off. It returns fewer
	// bytes only at the end of the content.
	ReadChunk(ctx context.Context, off int64, n int) ([]byte, error)
	// Verify fails with common.ErrValidation when the content no longer
	// matches Identity.
	Verify(ctx context.Context) error
	Close() error
}

const s3Scheme = "s3://"

// Open returns the source named by uri: s3://bucket/key for objects, a file
// path (optionally file://) otherwise.
func Open(ctx context.Context, uri string, s3cfg config.S3Config) (Source, error) {
	switch {
	case strings.HasPrefix(uri, s3Scheme):
		bucket, key, ok := strings.Cut(strings.TrimPrefix(uri, s3Scheme), "/")
		if !ok || bucket == "" || key == "" {
			return nil, fmt.Errorf("source %q: %w: expected s3://bucket/key", uri, common.ErrValidation)
		}
		return OpenS3(ctx, s3cfg, bucket, key)
	case uri == "":
		return nil, fmt.Errorf("%w: empty source", common.ErrValidation)
	default:
		return OpenFile(strings.TrimPrefix(uri, "file://"))
	}
}
