// Package config loads runtime configuration for the ddictl CLI.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional config file named by -c/--config (YAML, JSON or TOML).
//  3. Environment variables with the DDICTL_ prefix; nested keys use "_"
//     (DDICTL_S3_ENDPOINT). LEXIS_USERNAME and LEXIS_PASSWORD are also read.
//  4. Command-line flags bound with BindFlags.
//
// # File schema
//
//	api_url: https://api.lexis.tech/
//	auth_url: https://aai.lexis.tech/auth
//	realm: LEXIS_AAI
//	zone: IT4ILexisZone
//	chunk_size: 1048576
//	chunk_timeout: 60s
//	max_retries: 5
//	s3:
//	  endpoint: http://127.0.0.1:9000
//	  access_key: minio
//	  secret_key: minio123
//
// Primary API
//
//   - type Config: all runtime settings
//   - func LoadConfig(*viper.Viper): defaults, file, env, flags
//   - func BindFlags(*pflag.FlagSet, *viper.Viper)
package config
