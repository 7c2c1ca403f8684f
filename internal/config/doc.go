// Package config loads, normalizes, and validates the TOML configuration
// shared by the usher daemon and CLI.
package config
