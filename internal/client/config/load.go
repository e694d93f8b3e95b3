package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides, e.g. DDICTL_API_URL.
const EnvPrefix = "DDICTL"

// ConfigFileKey names the viper key that holds the optional config file path.
const ConfigFileKey = "config"

// LoadConfig constructs a Config, applies defaults, then overlays values from
// the config file (if any), the environment and bound command-line flags.
// Later sources take precedence over earlier ones.
func LoadConfig(v *viper.Viper) (*Config, error) {
	if v == nil {
		v = viper.New()
	}

	cfg := &Config{}
	cfg.LoadDefaults()
	setDefaults(v, cfg)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	// Credentials also come from the variables the LEXIS tooling uses.
	_ = v.BindEnv("username", EnvPrefix+"_USERNAME", "LEXIS_USERNAME")
	_ = v.BindEnv("password", EnvPrefix+"_PASSWORD", "LEXIS_PASSWORD")

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, c *Config) {
	v.SetDefault("api_url", c.APIURL)
	v.SetDefault("auth_url", c.AuthURL)
	v.SetDefault("realm", c.Realm)
	v.SetDefault("client_id", c.ClientID)
	v.SetDefault("client_secret", c.ClientSecret)
	v.SetDefault("zone", c.Zone)
	v.SetDefault("username", c.Username)
	v.SetDefault("password", c.Password)
	v.SetDefault("chunk_size", c.ChunkSize)
	v.SetDefault("chunk_timeout", c.ChunkTimeout)
	v.SetDefault("max_retries", c.MaxRetries)
	v.SetDefault("retry_base_delay", c.RetryBaseDelay)
	v.SetDefault("request_timeout", c.RequestTimeout)
	v.SetDefault("token_margin", c.TokenMargin)
	v.SetDefault("poll_interval", c.PollInterval)
	v.SetDefault("max_polls", c.MaxPolls)
	v.SetDefault("state_dir", c.StateDir)
	v.SetDefault("log_level", c.LogLevel)
	v.SetDefault("log_format", c.LogFormat)
	v.SetDefault("s3.endpoint", c.S3.Endpoint)
	v.SetDefault("s3.region", c.S3.Region)
	v.SetDefault("s3.access_key", c.S3.AccessKey)
	v.SetDefault("s3.secret_key", c.S3.SecretKey)
}

// readConfigFile merges the file named by the "config" key. The format is
// taken from the extension (yaml, json, toml). A missing key means no file.
func readConfigFile(v *viper.Viper) error {
	path := v.GetString(ConfigFileKey)
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}
