package models

import "time"

// Credential is the bearer credential held by a session.
// A zero RefreshExpiresAt means the refresh token has no known expiry.
type Credential struct {
	AccessToken      string
	RefreshToken     string
	ExpiresAt        time.Time
	RefreshExpiresAt time.Time
}

// ValidAt reports whether the access token can still be presented at t and
// remain valid for at least margin afterwards.
func (c Credential) ValidAt(t time.Time, margin time.Duration) bool {
	if c.AccessToken == "" {
		return false
	}
	return t.Add(margin).Before(c.ExpiresAt)
}

// CanRefresh reports whether the refresh token is usable at t.
func (c Credential) CanRefresh(t time.Time) bool {
	if c.RefreshToken == "" {
		return false
	}
	return c.RefreshExpiresAt.IsZero() || t.Before(c.RefreshExpiresAt)
}
