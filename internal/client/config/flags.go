package config

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// BindFlags registers the global flags on fs and binds each one to its viper
// key, so a flag set on the command line overrides file and environment.
//
//	-c, --config string      config file (yaml, json or toml)
//	    --api-url string     gateway base URL
//	    --auth-url string    identity provider base URL
//	    --zone string        default iRODS zone
//	-u, --username string    identity provider username
//	    --chunk-size int     tus chunk size in bytes
//	    --max-retries int    retries per upload before it fails
//	    --state-dir string   directory of the local checkpoint database
//	    --log-level string   debug, info, warn or error
func BindFlags(fs *pflag.FlagSet, v *viper.Viper) error {
	d := &Config{}
	d.LoadDefaults()

	fs.StringP("config", "c", "", "config file (yaml, json or toml)")
	fs.String("api-url", d.APIURL, "gateway base URL")
	fs.String("auth-url", d.AuthURL, "identity provider base URL")
	fs.String("zone", d.Zone, "default iRODS zone")
	fs.StringP("username", "u", "", "identity provider username")
	fs.Int64("chunk-size", d.ChunkSize, "tus chunk size in bytes")
	fs.Int("max-retries", d.MaxRetries, "retries per upload before it fails")
	fs.Duration("chunk-timeout", d.ChunkTimeout, "timeout of a single chunk transfer")
	fs.String("state-dir", d.StateDir, "directory of the local checkpoint database")
	fs.String("log-level", d.LogLevel, "debug, info, warn or error")
	fs.String("log-format", d.LogFormat, "text or json")

	keys := map[string]string{
		"config":        ConfigFileKey,
		"api-url":       "api_url",
		"auth-url":      "auth_url",
		"zone":          "zone",
		"username":      "username",
		"chunk-size":    "chunk_size",
		"max-retries":   "max_retries",
		"chunk-timeout": "chunk_timeout",
		"state-dir":     "state_dir",
		"log-level":     "log_level",
		"log-format":    "log_format",
	}
	for flag, key := range keys {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return err
		}
	}
	return nil
}
