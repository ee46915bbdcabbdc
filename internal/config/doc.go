// Package config loads, normalizes, and validates animeindex configuration.
//
// It supplies repository defaults (including the resolver's threshold table),
// expands user paths (including tilde shortcuts), reads TOML files, and
// honours environment fallbacks such as TMDB_API_KEY and LLM_API_KEY.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
