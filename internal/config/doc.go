// Package config loads and validates the TOML configuration for tapedeck,
// including the embedded sample used by `tapedeck config init`.
package config
