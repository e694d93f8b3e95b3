package uploads

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/dmitrijs2005/ddictl/internal/client/models"
	"github.com/dmitrijs2005/ddictl/internal/common"
	"github.com/dmitrijs2005/ddictl/internal/dbx"
)

var columns = []string{
	"id", "descriptor", "source", "target_path", "file_name", "file_size", "fingerprint",
	"upload_offset", "upload_url", "state", "expand", "encryption", "rewrite",
	"attempts", "last_error", "created_at", "updated_at",
}

type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository accepts a *sql.DB, or a *sql.Tx when the caller
// already runs a transaction.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) inTx(ctx context.Context, fn func(ctx context.Context, tx dbx.DBTX) error) error {
	if b, ok := r.db.(dbx.TxBeginner); ok {
		return dbx.WithTx(ctx, b, nil, fn)
	}
	return fn(ctx, r.db)
}

func (r *SQLiteRepository) Save(ctx context.Context, s *models.UploadSession, ev *models.UploadEvent) error {
	descriptor, err := json.Marshal(s.Descriptor)
	if err != nil {
		return fmt.Errorf("failed to encode descriptor: %w", err)
	}

	query := `INSERT INTO uploads (id, dataset_id, descriptor, source, target_path, file_name, file_size, fingerprint,
			upload_offset, upload_url, state, expand, encryption, rewrite, attempts, last_error, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				dataset_id = excluded.dataset_id,
				descriptor = excluded.descriptor,
				source = excluded.source,
				target_path = excluded.target_path,
				file_name = excluded.file_name,
				file_size = excluded.file_size,
				fingerprint = excluded.fingerprint,
				upload_offset = excluded.upload_offset,
				upload_url = excluded.upload_url,
				state = excluded.state,
				expand = excluded.expand,
				encryption = excluded.encryption,
				rewrite = excluded.rewrite,
				attempts = excluded.attempts,
				last_error = excluded.last_error,
				updated_at = excluded.updated_at`

	return r.inTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		_, err := tx.ExecContext(ctx, query,
			s.ID, s.Descriptor.InternalID, string(descriptor), s.Source, s.TargetPath, s.File.Name, s.File.Size, s.File.Fingerprint,
			s.Offset, s.UploadURL, string(s.State), s.Expand, s.Encryption, s.Rewrite, s.Attempts, s.LastError,
			s.CreatedAt.UTC(), s.UpdatedAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to upsert upload %s: %w", s.ID, err)
		}

		if ev == nil {
			return nil
		}
		at := ev.At
		if at.IsZero() {
			at = s.UpdatedAt
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO upload_events (session_id, from_state, to_state, upload_offset, note, at) VALUES (?, ?, ?, ?, ?, ?)`,
			s.ID, string(ev.From), string(ev.To), ev.Offset, ev.Note, at.UTC())
		if err != nil {
			return fmt.Errorf("failed to log upload event: %w", err)
		}
		return nil
	})
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*models.UploadSession, error) {
	var (
		s          models.UploadSession
		descriptor string
		state      string
	)
	err := row.Scan(&s.ID, &descriptor, &s.Source, &s.TargetPath, &s.File.Name, &s.File.Size, &s.File.Fingerprint,
		&s.Offset, &s.UploadURL, &state, &s.Expand, &s.Encryption, &s.Rewrite,
		&s.Attempts, &s.LastError, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(descriptor), &s.Descriptor); err != nil {
		return nil, fmt.Errorf("failed to decode descriptor of %s: %w", s.ID, err)
	}
	s.State = models.UploadState(state)
	return &s, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*models.UploadSession, error) {
	query, args, err := sq.Select(columns...).From("uploads").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, err
	}

	s, err := scanSession(r.db.QueryRowContext(ctx, query, args...))
	if dbx.IsNoRows(err) {
		return nil, fmt.Errorf("upload %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load upload %s: %w", id, err)
	}
	return s, nil
}

func (r *SQLiteRepository) List(ctx context.Context, f models.UploadFilter) ([]*models.UploadSession, error) {
	qb := sq.Select(columns...).From("uploads").OrderBy("created_at DESC", "id")
	if len(f.States) > 0 {
		states := make([]string, len(f.States))
		for i, st := range f.States {
			states[i] = string(st)
		}
		qb = qb.Where(sq.Eq{"state": states})
	}
	if f.DatasetID != "" {
		qb = qb.Where(sq.Eq{"dataset_id": f.DatasetID})
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error selecting uploads: %w", err)
	}
	defer rows.Close()

	var result []*models.UploadSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) Events(ctx context.Context, id string) ([]models.UploadEvent, error) {
	query, args, err := sq.Select("session_id", "from_state", "to_state", "upload_offset", "note", "at").
		From("upload_events").Where(sq.Eq{"session_id": id}).OrderBy("id").ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error selecting upload events: %w", err)
	}
	defer rows.Close()

	var result []models.UploadEvent
	for rows.Next() {
		var (
			ev       models.UploadEvent
			from, to string
			at       time.Time
		)
		if err := rows.Scan(&ev.SessionID, &from, &to, &ev.Offset, &ev.Note, &at); err != nil {
			return nil, err
		}
		ev.From, ev.To, ev.At = models.UploadState(from), models.UploadState(to), at
		result = append(result, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	return r.inTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM upload_events WHERE session_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete upload events: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM uploads WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to delete upload: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("upload %s: %w", id, common.ErrNotFound)
		}
		return nil
	})
}
