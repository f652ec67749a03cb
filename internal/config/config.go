// Package config loads linetime settings from a YAML file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"linetime/internal/timefmt"
)

// ErrInvalid is wrapped by validation errors.
var ErrInvalid = errors.New("invalid configuration")

// Options holds every setting. Command-line flags override file values.
type Options struct {
	ShowDelta     bool   `yaml:"show_delta"`
	Microseconds  bool   `yaml:"microseconds"`
	LineBuffering bool   `yaml:"line_buffering"`
	ShowControl   bool   `yaml:"show_control"`
	ShowEscape    bool   `yaml:"show_escape"`
	EOFMarker     bool   `yaml:"eof_marker"`
	PTY           bool   `yaml:"pty"`
	Record        string `yaml:"record"`
	LogLevel      string `yaml:"log_level"`
}

// Defaults returns the built-in settings.
func Defaults() Options {
	return Options{
		LineBuffering: true,
		LogLevel:      "warn",
	}
}

// DefaultPath returns the per-user config file location, or "" if the
// platform has none.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "linetime", "config.yaml")
}

// Load reads the YAML file at path over the defaults. A missing file is an
// error only if required is set.
func Load(path string, required bool) (Options, error) {
	opts := Defaults()
	if path == "" {
		return opts, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return opts, nil
		}
		return opts, fmt.Errorf("failed to read config file: %w", err)
	}

	// Reject unknown fields
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&opts); err != nil && !errors.Is(err, io.EOF) {
		return opts, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := opts.Validate(); err != nil {
		return opts, fmt.Errorf("config file %s: %w", path, err)
	}
	return opts, nil
}

// Validate checks values that YAML decoding cannot.
func (o Options) Validate() error {
	if _, err := ParseLevel(o.LogLevel); err != nil {
		return err
	}
	return nil
}

// Level returns the log level, warn if it cannot be parsed.
func (o Options) Level() slog.Level {
	level, err := ParseLevel(o.LogLevel)
	if err != nil {
		return slog.LevelWarn
	}
	return level
}

// Precision returns the timestamp precision.
func (o Options) Precision() timefmt.Precision {
	if o.Microseconds {
		return timefmt.Microseconds
	}
	return timefmt.Milliseconds
}

// ParseLevel parses debug, info, warn or error.
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return level, fmt.Errorf("%w: log level %q", ErrInvalid, name)
	}
	return level, nil
}
