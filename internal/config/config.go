// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config loads the zonesync daemon configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Compiled-in endpoint defaults. The daemon runs without a configuration
// file; the file only overrides these.
const (
	DefaultLookupURL = "https://ipapi.co/timezone"
	DefaultSender    = "net.connman.iwd"
)

const (
	defaultCallTimeout   = 2 * time.Second
	defaultLookupTimeout = 10 * time.Second
)

// System is the daemon configuration.
type System struct {
	// LookupURL is the geolocation timezone lookup endpoint. The
	// response body must be a plain text timezone identifier.
	LookupURL string `toml:"lookup_url"`
	// Sender is the well-known bus name whose PropertiesChanged
	// signals are watched.
	Sender string `toml:"sender"`
	// CallTimeout bounds the timedate1 SetTimezone call.
	CallTimeout Duration `toml:"call_timeout"`
	// LookupTimeout bounds the timezone lookup request.
	LookupTimeout Duration `toml:"lookup_timeout"`

	LogLevel  *slog.Level `toml:"log_level"`
	AddSource *bool       `toml:"log_add_source"`
}

// Default returns the configuration used when no file is present.
func Default() System {
	return System{
		LookupURL:     DefaultLookupURL,
		Sender:        DefaultSender,
		CallTimeout:   Duration(defaultCallTimeout),
		LookupTimeout: Duration(defaultLookupTimeout),
	}
}

// Load returns the configuration in the file at path, with defaults
// applied for absent keys. If the file does not exist the defaults are
// returned.
func Load(path string) (System, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	err = toml.Unmarshal(b, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("invalid config in %s: %w", path, err)
	}
	switch "" {
	case cfg.LookupURL:
		return cfg, fmt.Errorf("invalid config in %s: empty lookup_url", path)
	case cfg.Sender:
		return cfg, fmt.Errorf("invalid config in %s: empty sender", path)
	}
	switch {
	case cfg.CallTimeout <= 0:
		return cfg, fmt.Errorf("invalid config in %s: non-positive call_timeout", path)
	case cfg.LookupTimeout <= 0:
		return cfg, fmt.Errorf("invalid config in %s: non-positive lookup_timeout", path)
	}
	return cfg, nil
}

// Duration is a time.Duration that is decoded from TOML strings in
// time.ParseDuration syntax.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) String() string { return time.Duration(d).String() }
