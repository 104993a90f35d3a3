// Package config loads and validates YAML configuration for the recorder.
package config
