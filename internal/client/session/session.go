// Package session owns the bearer credential used for every gateway call.
//
// A Session hands out credentials that stay valid for at least a safety
// margin, refreshes them on demand and coalesces concurrent refreshes so the
// identity provider sees one request no matter how many callers are waiting.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/ddictl/internal/client/models"
	"github.com/dmitrijs2005/ddictl/internal/common"
	"github.com/dmitrijs2005/ddictl/internal/logging"
	"golang.org/x/sync/singleflight"
)

// DefaultMargin is how long a handed-out credential must remain valid.
const DefaultMargin = 30 * time.Second

const refreshTimeout = 30 * time.Second

// ErrNoCredentials is returned when the session can neither refresh nor log
// in again.
var ErrNoCredentials = errors.New("no usable refresh token or password")

// TokenProvider is the identity provider boundary.
type TokenProvider interface {
	Password(ctx context.Context, username, password string) (models.Credential, error)
	Refresh(ctx context.Context, refreshToken string) (models.Credential, error)
}

type Session struct {
	provider TokenProvider
	margin   time.Duration
	now      func() time.Time
	log      logging.Logger

	mu       sync.RWMutex
	cred     models.Credential
	username string
	password string

	flight singleflight.Group
}

type Option func(*Session)

func WithMargin(d time.Duration) Option { return func(s *Session) { s.margin = d } }

func WithClock(now func() time.Time) Option { return func(s *Session) { s.now = now } }

func WithLogger(l logging.Logger) Option { return func(s *Session) { s.log = l } }

// WithPassword lets the session fall back to the password grant once the
// refresh token is gone or expired.
func WithPassword(username, password string) Option {
	return func(s *Session) {
		s.username = username
		s.password = password
	}
}

// WithCredential seeds the session, e.g. with a token obtained elsewhere.
func WithCredential(c models.Credential) Option { return func(s *Session) { s.cred = c } }

func New(p TokenProvider, opts ...Option) *Session {
	s := &Session{
		provider: p,
		margin:   DefaultMargin,
		now:      time.Now,
		log:      logging.Nop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Login performs the password grant and keeps the credentials for later
// re-authentication.
func (s *Session) Login(ctx context.Context, username, password string) error {
	c, err := s.provider.Password(ctx, username, password)
	if err != nil {
		return fmt.Errorf("login %s: %w: %w", username, common.ErrAuthentication, err)
	}

	s.mu.Lock()
	s.cred = c
	s.username = username
	s.password = password
	s.mu.Unlock()

	s.log.Info(ctx, "logged in", "username", username, "expires_at", c.ExpiresAt)
	return nil
}

// Acquire returns a credential valid for at least the safety margin,
// refreshing it first if needed. Refresh failures wrap
// common.ErrAuthentication.
func (s *Session) Acquire(ctx context.Context) (models.Credential, error) {
	if c, ok := s.valid(); ok {
		return c, nil
	}

	ch := s.flight.DoChan("refresh", func() (any, error) {
		// The first caller's cancellation must not fail the other waiters.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return s.refresh(rctx)
	})

	select {
	case <-ctx.Done():
		return models.Credential{}, fmt.Errorf("acquire credential: %w: %w", common.ErrTransport, ctx.Err())
	case r := <-ch:
		if r.Err != nil {
			return models.Credential{}, r.Err
		}
		return r.Val.(models.Credential), nil
	}
}

// Invalidate marks the held access token stale. The refresh token is kept.
func (s *Session) Invalidate() {
	s.mu.Lock()
	s.cred.ExpiresAt = time.Time{}
	s.mu.Unlock()
}

// Current returns the held credential without validating it.
func (s *Session) Current() models.Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cred
}

func (s *Session) valid() (models.Credential, bool) {
	s.mu.RLock()
	c := s.cred
	s.mu.RUnlock()
	return c, c.ValidAt(s.now(), s.margin)
}

func (s *Session) refresh(ctx context.Context) (models.Credential, error) {
	// Another flight may have finished between the caller's check and ours.
	if c, ok := s.valid(); ok {
		return c, nil
	}

	s.mu.RLock()
	held, username, password := s.cred, s.username, s.password
	s.mu.RUnlock()

	var (
		next models.Credential
		err  error
	)
	switch {
	case held.CanRefresh(s.now()):
		s.log.Debug(ctx, "refreshing access token")
		next, err = s.provider.Refresh(ctx, held.RefreshToken)
	case username != "":
		s.log.Debug(ctx, "refresh token unusable, logging in again", "username", username)
		next, err = s.provider.Password(ctx, username, password)
	default:
		err = ErrNoCredentials
	}
	if err != nil {
		s.log.Error(ctx, "token refresh failed", "err", err)
		return models.Credential{}, fmt.Errorf("refresh token: %w: %w", common.ErrAuthentication, err)
	}
	if !next.ValidAt(s.now(), s.margin) {
		return models.Credential{}, fmt.Errorf("refresh token: %w: provider returned a credential expiring at %s", common.ErrAuthentication, next.ExpiresAt)
	}

	s.mu.Lock()
	s.cred = next
	s.mu.Unlock()

	return next, nil
}
