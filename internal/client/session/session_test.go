package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/ddictl/internal/client/models"
	"github.com/dmitrijs2005/ddictl/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	refreshCalls  atomic.Int32
	passwordCalls atomic.Int32
	delay         time.Duration
	refreshErr    error
	passwordErr   error
	lifetime      time.Duration
	lastRefresh   atomic.Value
}

func (f *fakeProvider) cred(tag string) models.Credential {
	life := f.lifetime
	if life == 0 {
		life = time.Hour
	}
	return models.Credential{
		AccessToken:  "access-" + tag,
		RefreshToken: "refresh-" + tag,
		ExpiresAt:    time.Now().Add(life),
	}
}

func (f *fakeProvider) Password(ctx context.Context, username, password string) (models.Credential, error) {
	f.passwordCalls.Add(1)
	if f.passwordErr != nil {
		return models.Credential{}, f.passwordErr
	}
	return f.cred("pw"), nil
}

func (f *fakeProvider) Refresh(ctx context.Context, refreshToken string) (models.Credential, error) {
	f.refreshCalls.Add(1)
	f.lastRefresh.Store(refreshToken)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.refreshErr != nil {
		return models.Credential{}, f.refreshErr
	}
	return f.cred("refreshed"), nil
}

func expired() models.Credential {
	return models.Credential{
		AccessToken:  "old",
		RefreshToken: "refresh-old",
		ExpiresAt:    time.Now().Add(-time.Minute),
	}
}

func TestAcquire_ValidCredentialIsReturnedAsIs(t *testing.T) {
	p := &fakeProvider{}
	c := models.Credential{AccessToken: "a", ExpiresAt: time.Now().Add(time.Hour)}
	s := New(p, WithCredential(c))

	got, err := s.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", got.AccessToken)
	assert.Zero(t, p.refreshCalls.Load())
}

func TestAcquire_RefreshesInsideMargin(t *testing.T) {
	p := &fakeProvider{}
	c := models.Credential{AccessToken: "a", RefreshToken: "r", ExpiresAt: time.Now().Add(10 * time.Second)}
	s := New(p, WithCredential(c))

	got, err := s.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-refreshed", got.AccessToken)
	assert.Equal(t, int32(1), p.refreshCalls.Load())
	assert.Equal(t, "r", p.lastRefresh.Load())
}

func TestAcquire_ConcurrentCallersShareOneRefresh(t *testing.T) {
	p := &fakeProvider{delay: 50 * time.Millisecond}
	s := New(p, WithCredential(expired()))

	const n = 32
	var wg sync.WaitGroup
	tokens := make([]string, n)
	errs := make([]error, n)
	start := make(chan struct{})

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			c, err := s.Acquire(context.Background())
			tokens[i], errs[i] = c.AccessToken, err
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), p.refreshCalls.Load())
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "access-refreshed", tokens[i])
	}
}

func TestAcquire_RefreshFailureIsAuthenticationError(t *testing.T) {
	p := &fakeProvider{refreshErr: errors.New("invalid_grant")}
	s := New(p, WithCredential(expired()))

	_, err := s.Acquire(context.Background())
	require.ErrorIs(t, err, common.ErrAuthentication)
	assert.Contains(t, err.Error(), "invalid_grant")
	assert.Zero(t, p.passwordCalls.Load(), "a rejected refresh must not silently fall back")
}

func TestAcquire_FallsBackToPasswordWhenRefreshTokenExpired(t *testing.T) {
	p := &fakeProvider{}
	c := expired()
	c.RefreshExpiresAt = time.Now().Add(-time.Second)
	s := New(p, WithCredential(c), WithPassword("alice", "pw"))

	got, err := s.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-pw", got.AccessToken)
	assert.Zero(t, p.refreshCalls.Load())
	assert.Equal(t, int32(1), p.passwordCalls.Load())
}

func TestAcquire_NoCredentials(t *testing.T) {
	s := New(&fakeProvider{})

	_, err := s.Acquire(context.Background())
	require.ErrorIs(t, err, common.ErrAuthentication)
	require.ErrorIs(t, err, ErrNoCredentials)
}

func TestAcquire_ShortLivedTokenIsRejected(t *testing.T) {
	p := &fakeProvider{lifetime: 5 * time.Second}
	s := New(p, WithCredential(expired()))

	_, err := s.Acquire(context.Background())
	require.ErrorIs(t, err, common.ErrAuthentication)
}

func TestInvalidate_ForcesRefresh(t *testing.T) {
	p := &fakeProvider{}
	s := New(p, WithCredential(models.Credential{AccessToken: "a", RefreshToken: "r", ExpiresAt: time.Now().Add(time.Hour)}))

	s.Invalidate()
	assert.Equal(t, "r", s.Current().RefreshToken)

	got, err := s.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-refreshed", got.AccessToken)
	assert.Equal(t, int32(1), p.refreshCalls.Load())
}

func TestLogin(t *testing.T) {
	p := &fakeProvider{}
	s := New(p)

	require.NoError(t, s.Login(context.Background(), "alice", "pw"))
	assert.Equal(t, "access-pw", s.Current().AccessToken)

	p.passwordErr = errors.New("invalid_grant")
	err := s.Login(context.Background(), "alice", "bad")
	require.ErrorIs(t, err, common.ErrAuthentication)
}

func TestAcquire_CallerCancellation(t *testing.T) {
	p := &fakeProvider{delay: 200 * time.Millisecond}
	s := New(p, WithCredential(expired()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := s.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The flight keeps going for the other waiters.
	got, err := s.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-refreshed", got.AccessToken)
	assert.Equal(t, int32(1), p.refreshCalls.Load())
}
