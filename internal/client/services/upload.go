package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/ddictl/internal/client/config"
	"github.com/dmitrijs2005/ddictl/internal/client/models"
	"github.com/dmitrijs2005/ddictl/internal/client/repositories/uploads"
	"github.com/dmitrijs2005/ddictl/internal/client/sources"
	"github.com/dmitrijs2005/ddictl/internal/client/tus"
	"github.com/dmitrijs2005/ddictl/internal/common"
	"github.com/dmitrijs2005/ddictl/internal/logging"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
)

// UploadProtocol is the resumable-upload wire protocol. *tus.Client
// implements it.
type UploadProtocol interface {
	Create(ctx context.Context, length int64, meta tus.Metadata) (string, error)
	Patch(ctx context.Context, uploadURL string, size, offset int64, chunk []byte) (int64, error)
	Offset(ctx context.Context, uploadURL string) (offset, length int64, err error)
	Terminate(ctx context.Context, uploadURL string) error
}

// SourceOpener opens the content named by a session's Source.
type SourceOpener func(ctx context.Context, uri string) (sources.Source, error)

// DefaultSourceOpener opens local files and s3:// objects.
func DefaultSourceOpener(s3cfg config.S3Config) SourceOpener {
	return func(ctx context.Context, uri string) (sources.Source, error) {
		return sources.Open(ctx, uri, s3cfg)
	}
}

// ProgressFunc observes every acknowledged chunk.
type ProgressFunc func(offset, total int64)

type CoordinatorConfig struct {
	ChunkSize      int64
	ChunkTimeout   time.Duration
	MaxRetries     uint64
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	// Username is sent as the "user" upload metadata of new datasets.
	Username       string
}

// UploadRequest describes one file transfer. For a new dataset Dataset is
// registered first. For a rewrite DatasetID and Title must name an existing
// dataset exactly.
type UploadRequest struct {
	Source     string
	TargetPath string
	Dataset    models.DatasetSpec
	Rewrite    bool
	DatasetID  string
	Title      string
	// Expand overrides the .tar.gz detection when set.
	Expand     *bool
	Encryption bool
	Progress   ProgressFunc
}

type ResumeOptions struct {
	Progress ProgressFunc
}

// Coordinator drives upload sessions through
// created -> in_progress -> (paused <-> in_progress) -> completed | failed.
// Independent sessions may run concurrently; each session is driven by one
// goroutine at a time.
type Coordinator struct {
	registry Registry
	proto    UploadProtocol
	repo     uploads.Repository
	open     SourceOpener
	cfg      CoordinatorConfig
	log      logging.Logger

	now   func() time.Time
	newID func() string
}

func NewCoordinator(registry Registry, proto UploadProtocol, repo uploads.Repository, open SourceOpener, cfg CoordinatorConfig, log logging.Logger) *Coordinator {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = common.DefaultChunkSize
	}
	if cfg.ChunkTimeout <= 0 {
		cfg.ChunkTimeout = time.Minute
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = time.Second
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 32 * cfg.RetryBaseDelay
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Coordinator{
		registry: registry,
		proto:    proto,
		repo:     repo,
		open:     open,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Upload starts a new session and drives it until it completes, fails or
// ctx ends. A cancelled ctx leaves the session paused and resumable; the
// session is returned together with the error in that case.
func (c *Coordinator) Upload(ctx context.Context, req UploadRequest) (*models.UploadSession, error) {
	const op = "upload"

	if req.Source == "" {
		return nil, common.NewOpError(op, req.DatasetID, 0, common.ErrValidation, errors.New("no source given"))
	}
	if req.Rewrite && (req.DatasetID == "" || req.Title == "") {
		return nil, common.NewOpError(op, req.DatasetID, 0, common.ErrValidation,
			errors.New("rewrite needs both the dataset id and its current title"))
	}

	src, err := c.open(ctx, req.Source)
	if err != nil {
		return nil, sourceError(op, req.DatasetID, 0, err)
	}
	defer src.Close()

	identity, err := src.Identity(ctx)
	if err != nil {
		return nil, sourceError(op, req.DatasetID, 0, err)
	}

	var descriptor models.DatasetDescriptor
	if req.Rewrite {
		descriptor, err = c.verifyRewrite(ctx, req)
	} else {
		descriptor, _, err = c.registry.Create(ctx, req.Dataset)
	}
	if err != nil {
		return nil, err
	}

	expand := models.IsArchive(identity.Name)
	if req.Expand != nil {
		expand = *req.Expand
	}

	now := c.now()
	s := &models.UploadSession{
		ID:         c.newID(),
		Descriptor: descriptor,
		Source:     req.Source,
		TargetPath: req.TargetPath,
		File:       identity,
		State:      models.UploadCreated,
		Expand:     expand,
		Encryption: req.Encryption,
		Rewrite:    req.Rewrite,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := c.repo.Save(context.WithoutCancel(ctx), s, &models.UploadEvent{To: models.UploadCreated, Offset: 0, At: now}); err != nil {
		return nil, common.NewOpError(op, descriptor.InternalID, 0, nil, err)
	}

	c.log.Info(ctx, "upload session created", "op", op, "session_id", s.ID, "dataset_id", descriptor.InternalID,
		"file", identity.Name, "size", identity.Size, "rewrite", req.Rewrite)

	return c.run(ctx, s, src, req.Progress)
}

// verifyRewrite resolves the target dataset and checks the caller's title
// against the server's before anything is uploaded.
func (c *Coordinator) verifyRewrite(ctx context.Context, req UploadRequest) (models.DatasetDescriptor, error) {
	const op = "upload rewrite"

	list, _, err := c.registry.List(ctx, models.DatasetFilter{Access: req.Dataset.Access, Project: req.Dataset.Project})
	if err != nil {
		return models.DatasetDescriptor{}, err
	}
	for _, d := range list {
		if d.InternalID != req.DatasetID {
			continue
		}
		if d.Title != req.Title {
			return models.DatasetDescriptor{}, common.NewOpError(op, req.DatasetID, 0, common.ErrValidation,
				fmt.Errorf("title %q does not match the dataset title %q", req.Title, d.Title))
		}
		return d, nil
	}
	return models.DatasetDescriptor{}, common.NewOpError(op, req.DatasetID, 0, common.ErrValidation,
		errors.New("no such dataset"))
}

// Resume continues a paused session from the offset the server reports.
// The source must still have the size and fingerprint it was started with.
func (c *Coordinator) Resume(ctx context.Context, id string, opts ResumeOptions) (*models.UploadSession, error) {
	const op = "upload resume"

	s, err := c.repo.Get(ctx, id)
	if err != nil {
		return nil, common.NewOpError(op, "", 0, nil, err)
	}
	if !s.State.Resumable() {
		return s, common.NewOpError(op, s.Descriptor.InternalID, s.Offset, common.ErrValidation,
			fmt.Errorf("session %s is %s", s.ID, s.State))
	}

	src, err := c.open(ctx, s.Source)
	if err != nil {
		return s, c.fail(ctx, s, sourceError(op, s.Descriptor.InternalID, s.Offset, err))
	}
	defer src.Close()

	identity, err := src.Identity(ctx)
	if err != nil {
		return s, c.fail(ctx, s, sourceError(op, s.Descriptor.InternalID, s.Offset, err))
	}
	if identity.Size != s.File.Size || identity.Fingerprint != s.File.Fingerprint {
		return s, c.fail(ctx, s, common.NewOpError(op, s.Descriptor.InternalID, s.Offset, common.ErrValidation,
			fmt.Errorf("source %s changed since the upload started", s.Source)))
	}

	c.log.Info(ctx, "resuming upload", "op", op, "session_id", s.ID, "dataset_id", s.Descriptor.InternalID, "offset", s.Offset)
	return c.run(ctx, s, src, opts.Progress)
}

// Sessions lists persisted sessions.
func (c *Coordinator) Sessions(ctx context.Context, f models.UploadFilter) ([]*models.UploadSession, error) {
	return c.repo.List(ctx, f)
}

// Discard terminates the server side of an unfinished session and forgets
// it locally.
func (c *Coordinator) Discard(ctx context.Context, id string) error {
	const op = "upload discard"

	s, err := c.repo.Get(ctx, id)
	if err != nil {
		return common.NewOpError(op, "", 0, nil, err)
	}
	if s.UploadURL != "" && s.State != models.UploadCompleted {
		if err := c.proto.Terminate(ctx, s.UploadURL); err != nil {
			return common.NewOpError(op, s.Descriptor.InternalID, s.Offset, common.ErrServer, err)
		}
	}
	if err := c.repo.Delete(ctx, id); err != nil {
		return common.NewOpError(op, s.Descriptor.InternalID, s.Offset, nil, err)
	}
	c.log.Info(ctx, "upload discarded", "op", op, "session_id", id)
	return nil
}

func (c *Coordinator) run(ctx context.Context, s *models.UploadSession, src sources.Source, progress ProgressFunc) (*models.UploadSession, error) {
	backoff := retry.WithMaxRetries(c.cfg.MaxRetries,
		retry.WithCappedDuration(c.cfg.RetryMaxDelay, retry.NewExponential(c.cfg.RetryBaseDelay)))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := c.attempt(ctx, s, src, progress)
		if err == nil || ctx.Err() != nil || !common.IsRetryable(err) {
			return err
		}

		s.Attempts++
		s.LastError = err.Error()
		if perr := c.transition(ctx, s, models.UploadPaused, err.Error()); perr != nil {
			return perr
		}
		c.log.Warn(ctx, "chunk transfer failed, will retry", "op", "upload", "session_id", s.ID,
			"dataset_id", s.Descriptor.InternalID, "offset", s.Offset, "attempt", s.Attempts, "err", err)
		return retry.RetryableError(err)
	})

	switch {
	case err == nil:
		c.log.Info(ctx, "upload completed", "op", "upload", "session_id", s.ID, "dataset_id", s.Descriptor.InternalID, "offset", s.Offset)
		return s, nil

	case ctx.Err() != nil:
		s.LastError = ctx.Err().Error()
		if s.State != models.UploadPaused {
			if perr := c.transition(ctx, s, models.UploadPaused, "cancelled"); perr != nil {
				return s, perr
			}
		}
		c.log.Info(ctx, "upload paused", "op", "upload", "session_id", s.ID, "offset", s.Offset)
		return s, common.NewOpError("upload", s.Descriptor.InternalID, s.Offset, common.ErrTransport, ctx.Err())

	case common.IsRetryable(err):
		return s, c.fail(ctx, s, common.NewOpError("upload", s.Descriptor.InternalID, s.Offset, nil,
			fmt.Errorf("giving up after %d attempts: %w", s.Attempts, err)))

	default:
		return s, c.fail(ctx, s, common.NewOpError("upload", s.Descriptor.InternalID, s.Offset, nil, err))
	}
}

// attempt runs the chunk loop once. It creates the server upload on first
// use and otherwise re-reads the server's offset before sending anything.
func (c *Coordinator) attempt(ctx context.Context, s *models.UploadSession, src sources.Source, progress ProgressFunc) error {
	size := s.File.Size

	if s.UploadURL == "" {
		meta, err := c.metadata(s)
		if err != nil {
			return err
		}
		url, err := c.proto.Create(ctx, size, meta)
		if err != nil {
			return err
		}
		s.UploadURL = url
		s.Offset = 0
	} else {
		if err := src.Verify(ctx); err != nil {
			return err
		}
		offset, length, err := c.proto.Offset(ctx, s.UploadURL)
		if err != nil {
			return err
		}
		if length >= 0 && length != size {
			return fmt.Errorf("%w: server expects %d bytes, source has %d", common.ErrValidation, length, size)
		}
		if offset > size {
			return fmt.Errorf("%w: server offset %d is beyond the file length %d", common.ErrValidation, offset, size)
		}
		if offset != s.Offset {
			c.log.Info(ctx, "server offset differs from checkpoint", "op", "upload", "session_id", s.ID,
				"checkpoint", s.Offset, "offset", offset)
		}
		s.Offset = offset
	}
	if err := c.transition(ctx, s, models.UploadInProgress, ""); err != nil {
		return err
	}

	for s.Offset < size {
		if err := ctx.Err(); err != nil {
			return err
		}

		chunk, err := src.ReadChunk(ctx, s.Offset, int(min(c.cfg.ChunkSize, size-s.Offset)))
		if err != nil {
			if common.KindOf(err) == nil {
				err = fmt.Errorf("%w: %w", common.ErrValidation, err)
			}
			return err
		}
		if len(chunk) == 0 {
			return fmt.Errorf("%w: source ended at %d of %d bytes", common.ErrValidation, s.Offset, size)
		}

		cctx, cancel := context.WithTimeout(ctx, c.cfg.ChunkTimeout)
		next, err := c.proto.Patch(cctx, s.UploadURL, size, s.Offset, chunk)
		cancel()
		if err != nil {
			return err
		}
		if want := s.Offset + int64(len(chunk)); next != want {
			return fmt.Errorf("%w: server acknowledged offset %d after a chunk ending at %d", common.ErrServer, next, want)
		}

		s.Offset = next
		s.UpdatedAt = c.now()
		if err := c.repo.Save(context.WithoutCancel(ctx), s, nil); err != nil {
			return err
		}
		if progress != nil {
			progress(s.Offset, size)
		}
	}

	if err := src.Verify(ctx); err != nil {
		return err
	}
	return c.transition(ctx, s, models.UploadCompleted, "")
}

// metadata builds the upload metadata. The server registers a new upload
// under internal_id and overwrites files of the same name.
func (c *Coordinator) metadata(s *models.UploadSession) (tus.Metadata, error) {
	d := s.Descriptor
	meta := tus.Metadata{
		"path":        s.TargetPath,
		"zone":        d.Zone,
		"filename":    s.File.Name,
		"project":     d.Project,
		"access":      string(d.Access),
		"expand":      yesNo(s.Expand),
		"encryption":  yesNo(s.Encryption),
		"internal_id": d.InternalID,
	}

	var (
		doc []byte
		err error
	)
	if s.Rewrite {
		doc, err = json.Marshal(map[string]string{"title": d.Title})
	} else {
		meta["user"] = c.cfg.Username
		doc, err = json.Marshal(metadataOf(d))
	}
	if err != nil {
		return nil, err
	}
	meta["metadata"] = string(doc)
	return meta, nil
}

// sourceError reports a source that cannot be used as a validation failure.
// Transient object store errors keep their kind.
func sourceError(op, datasetID string, offset int64, err error) error {
	if errors.Is(err, common.ErrTransport) {
		return common.NewOpError(op, datasetID, offset, nil, err)
	}
	return &common.OpError{Op: op, DatasetID: datasetID, Offset: offset, Kind: common.ErrValidation, Err: err}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// transition records a state change. Checkpoints are written even when ctx
// is already cancelled.
func (c *Coordinator) transition(ctx context.Context, s *models.UploadSession, to models.UploadState, note string) error {
	from := s.State
	s.State = to
	s.UpdatedAt = c.now()
	ev := &models.UploadEvent{SessionID: s.ID, From: from, To: to, Offset: s.Offset, Note: note, At: s.UpdatedAt}
	if err := c.repo.Save(context.WithoutCancel(ctx), s, ev); err != nil {
		return fmt.Errorf("checkpoint session %s: %w", s.ID, err)
	}
	return nil
}

func (c *Coordinator) fail(ctx context.Context, s *models.UploadSession, cause error) error {
	s.LastError = cause.Error()
	if err := c.transition(ctx, s, models.UploadFailed, cause.Error()); err != nil {
		return errors.Join(cause, err)
	}
	c.log.Error(ctx, "upload failed", "op", "upload", "session_id", s.ID, "dataset_id", s.Descriptor.InternalID,
		"offset", s.Offset, "err", cause)
	return cause
}
