// SPDX-License-Identifier: MPL-2.0

// Package config loads idlsync configuration using Viper with CUE (or JSON,
// which is valid CUE) as the file format.
//
// A document is validated against the embedded CUE schema
// (config_schema.cue), merged over built-in defaults, then overridden by
// IDLSYNC_* environment variables. A .env file next to the configuration is
// loaded first, without replacing variables already set. Relative paths are
// resolved against the directory holding the configuration file.
package config
