// Package config loads process settings for cmd/authserver from defaults, an
// optional YAML file, a .env file and AUTHCORE_ environment variables.
package config
