package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dmitrijs2005/ddictl/internal/client/models"
	"github.com/dmitrijs2005/ddictl/internal/common"
	"github.com/dmitrijs2005/ddictl/internal/cryptox"
)

type FileSource struct {
	path string
	f    *os.File

	once    sync.Once
	id      models.FileIdentity
	modTime time.Time
	err     error
}

// OpenFile opens a regular file for upload.
func OpenFile(path string) (*FileSource, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w: %w", path, common.ErrValidation, err)
	}
	if !st.Mode().IsRegular() {
		return nil, fmt.Errorf("open %s: %w: not a regular file", path, common.ErrValidation)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w: %w", path, common.ErrValidation, err)
	}
	return &FileSource{path: path, f: f}, nil
}

// Identity hashes the whole file on first call and caches the result.
func (s *FileSource) Identity(ctx context.Context) (models.FileIdentity, error) {
	s.once.Do(func() {
		st, err := s.f.Stat()
		if err != nil {
			s.err = fmt.Errorf("stat %s: %w: %w", s.path, common.ErrValidation, err)
			return
		}
		fp, n, err := cryptox.Fingerprint(io.NewSectionReader(s.f, 0, 1<<62))
		if err != nil {
			s.err = fmt.Errorf("fingerprint %s: %w: %w", s.path, common.ErrValidation, err)
			return
		}
		s.id = models.FileIdentity{Name: filepath.Base(s.path), Size: n, Fingerprint: fp}
		s.modTime = st.ModTime()
	})
	return s.id, s.err
}

// Verify re-stats the open file. The content is hashed again only when the
// modification time moved.
func (s *FileSource) Verify(ctx context.Context) error {
	id, err := s.Identity(ctx)
	if err != nil {
		return err
	}
	st, err := s.f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w: %w", s.path, common.ErrValidation, err)
	}
	if st.Size() != id.Size {
		return fmt.Errorf("%s: %w: size changed from %d to %d bytes", s.path, common.ErrValidation, id.Size, st.Size())
	}
	if st.ModTime().Equal(s.modTime) {
		return nil
	}

	fp, _, err := cryptox.Fingerprint(io.NewSectionReader(s.f, 0, 1<<62))
	if err != nil {
		return fmt.Errorf("fingerprint %s: %w: %w", s.path, common.ErrValidation, err)
	}
	if fp != id.Fingerprint {
		return fmt.Errorf("%s: %w: content changed since the upload started", s.path, common.ErrValidation)
	}
	s.modTime = st.ModTime()
	return nil
}

func (s *FileSource) ReadChunk(ctx context.Context, off int64, n int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	got, err := s.f.ReadAt(buf, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read %s at %d: %w", s.path, off, err)
	}
	return buf[:got], nil
}

func (s *FileSource) Close() error { return s.f.Close() }
