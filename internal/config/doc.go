// Package config loads and validates shuttle's TOML configuration. Load
// resolves the file path, decodes over defaults, normalizes paths, and
// validates ranges so the rest of the system can trust every value.
package config
