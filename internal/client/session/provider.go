package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dmitrijs2005/ddictl/internal/client/models"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// fallbackLifetime is used when neither expires_in nor an exp claim is
// available.
const fallbackLifetime = 5 * time.Minute

// OAuthProvider talks to an OpenID Connect token endpoint using the password
// and refresh_token grants.
type OAuthProvider struct {
	cfg    *oauth2.Config
	client *http.Client
	now    func() time.Time
}

func NewOAuthProvider(tokenURL, clientID, clientSecret string, client *http.Client) *OAuthProvider {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &OAuthProvider{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
			Scopes: []string{"openid"},
		},
		client: client,
		now:    time.Now,
	}
}

func (p *OAuthProvider) Password(ctx context.Context, username, password string) (models.Credential, error) {
	tok, err := p.cfg.PasswordCredentialsToken(p.withClient(ctx), username, password)
	if err != nil {
		return models.Credential{}, describe(err)
	}
	return p.toCredential(tok), nil
}

func (p *OAuthProvider) Refresh(ctx context.Context, refreshToken string) (models.Credential, error) {
	src := p.cfg.TokenSource(p.withClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return models.Credential{}, describe(err)
	}
	return p.toCredential(tok), nil
}

func (p *OAuthProvider) withClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.client)
}

func (p *OAuthProvider) toCredential(tok *oauth2.Token) models.Credential {
	now := p.now()
	c := models.Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
	if c.ExpiresAt.IsZero() {
		c.ExpiresAt = claimExpiry(tok.AccessToken)
	}
	if c.ExpiresAt.IsZero() {
		c.ExpiresAt = now.Add(fallbackLifetime)
	}
	// Keycloak reports 0 for offline tokens that never expire.
	if secs := numberExtra(tok, "refresh_expires_in"); secs > 0 {
		c.RefreshExpiresAt = now.Add(time.Duration(secs) * time.Second)
	}
	return c
}

// claimExpiry reads the exp claim without verifying the signature; the token
// is only inspected, never trusted.
func claimExpiry(raw string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

func numberExtra(tok *oauth2.Token, key string) float64 {
	switch v := tok.Extra(key).(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	default:
		return 0
	}
}

func describe(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.ErrorCode != "" {
			return fmt.Errorf("identity provider rejected request: %s %s", re.ErrorCode, re.ErrorDescription)
		}
		return fmt.Errorf("identity provider rejected request: %s", re.Response.Status)
	}
	return fmt.Errorf("identity provider unreachable: %w", err)
}
