package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/dmitrijs2005/ddictl/internal/common"
)

// Config holds runtime settings for the ddictl client.
//
// Units: ChunkSize is in bytes; the duration fields accept Go duration
// strings ("30s", "2m") in files and environment variables.
type Config struct {
	APIURL         string        `mapstructure:"api_url"`
	AuthURL        string        `mapstructure:"auth_url"`
	Realm          string        `mapstructure:"realm"`
	ClientID       string        `mapstructure:"client_id"`
	ClientSecret   string        `mapstructure:"client_secret"`
	Zone           string        `mapstructure:"zone"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	ChunkSize      int64         `mapstructure:"chunk_size"`
	ChunkTimeout   time.Duration `mapstructure:"chunk_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	TokenMargin    time.Duration `mapstructure:"token_margin"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	MaxPolls       int           `mapstructure:"max_polls"`
	StateDir       string        `mapstructure:"state_dir"`
	LogLevel       string        `mapstructure:"log_level"`
	LogFormat      string        `mapstructure:"log_format"`
	S3             S3Config      `mapstructure:"s3"`
}

// S3Config points at the object store used for s3:// upload sources.
type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.APIURL = "https://api.lexis.tech/"
	c.AuthURL = "https://aai.lexis.tech/auth"
	c.Realm = "LEXIS_AAI"
	c.ClientID = "LEXIS_CLIENT"
	c.Zone = common.DefaultZone
	c.ChunkSize = common.DefaultChunkSize
	c.ChunkTimeout = 60 * time.Second
	c.MaxRetries = 5
	c.RetryBaseDelay = time.Second
	c.RequestTimeout = 30 * time.Second
	c.TokenMargin = 30 * time.Second
	c.PollInterval = 5 * time.Second
	c.MaxPolls = 200
	c.StateDir = ".ddictl"
	c.LogLevel = "info"
	c.LogFormat = "text"
	c.S3.Region = "us-east-1"
}

// APIBase returns the gateway REST root, always ending with a slash.
func (c *Config) APIBase() string {
	return strings.TrimRight(c.APIURL, "/") + "/" + common.APIPathPrefix
}

// UploadEndpoint is the tus creation URL.
func (c *Config) UploadEndpoint() string {
	return c.APIBase() + "transfer/upload/"
}

// TokenURL is the OpenID Connect token endpoint of the realm.
func (c *Config) TokenURL() string {
	return fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", strings.TrimRight(c.AuthURL, "/"), c.Realm)
}

// Validate rejects values the client cannot run with.
func (c *Config) Validate() error {
	for name, raw := range map[string]string{"api_url": c.APIURL, "auth_url": c.AuthURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s: invalid url %q", name, raw)
		}
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", c.ChunkSize)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative, got %d", c.MaxRetries)
	}
	if c.ChunkTimeout <= 0 || c.RequestTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	return nil
}
