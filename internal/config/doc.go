// Package config loads application configuration from environment variables.
//
// JWT_SECRET is the only required variable; everything else has a sensible
// default for local development.
package config
