// Package config provides configuration loading and validation for the streaming
// transcription service. It handles YAML-based configuration with per-section
// validation and typed accessors for durations and frame geometry.
package config
