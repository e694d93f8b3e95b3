package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, "IT4ILexisZone", c.Zone)
	assert.Equal(t, int64(1048576), c.ChunkSize)
	assert.Equal(t, 30*time.Second, c.TokenMargin)
	assert.Equal(t, 5, c.MaxRetries)
	require.NoError(t, c.Validate())
}

func TestConfig_DerivedURLs(t *testing.T) {
	c := Config{APIURL: "https://gw.example/", AuthURL: "https://idp.example/auth/", Realm: "R"}

	assert.Equal(t, "https://gw.example/api/v0.2/", c.APIBase())
	assert.Equal(t, "https://gw.example/api/v0.2/transfer/upload/", c.UploadEndpoint())
	assert.Equal(t, "https://idp.example/auth/realms/R/protocol/openid-connect/token", c.TokenURL())

	c.APIURL = "https://gw.example"
	assert.Equal(t, "https://gw.example/api/v0.2/", c.APIBase())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad api url", func(c *Config) { c.APIURL = "not a url" }},
		{"bad auth url", func(c *Config) { c.AuthURL = "" }},
		{"zero chunk", func(c *Config) { c.ChunkSize = 0 }},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }},
		{"zero timeout", func(c *Config) { c.ChunkTimeout = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c Config
			c.LoadDefaults()
			tt.mutate(&c)
			require.Error(t, c.Validate())
		})
	}
}
