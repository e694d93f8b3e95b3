package uploads

import (
	"context"

	"github.com/dmitrijs2005/ddictl/internal/client/models"
)

// Repository stores upload sessions and their transition log.
type Repository interface {
	// Save inserts or replaces s. A non-nil ev is appended to the log of s.
	Save(ctx context.Context, s *models.UploadSession, ev *models.UploadEvent) error

	// Get returns the session with id or an error wrapping common.ErrNotFound.
	Get(ctx context.Context, id string) (*models.UploadSession, error)

	// List returns sessions matching f, newest first.
	List(ctx context.Context, f models.UploadFilter) ([]*models.UploadSession, error)

	// Events returns the transitions of a session in order.
	Events(ctx context.Context, id string) ([]models.UploadEvent, error)

	// Delete removes a session and its log.
	Delete(ctx context.Context, id string) error
}
