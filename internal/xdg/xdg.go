// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Usher Contributors

// Package xdg provides XDG Base Directory paths for Usher.
package xdg

import (
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

const appName = "usher"

// ConfigFileName is the config file looked up inside ConfigDir.
const ConfigFileName = "config.yaml"

// ConfigDir returns the XDG config directory for usher.
// Checks XDG_CONFIG_HOME first, falls back to ~/.config.
func ConfigDir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", oops.Code("XDG_NO_HOME").Wrap(err)
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, appName), nil
}

// DefaultConfigFile returns ConfigDir/config.yaml and whether it exists.
func DefaultConfigFile() (string, bool) {
	dir, err := ConfigDir()
	if err != nil {
		return "", false
	}
	path := filepath.Join(dir, ConfigFileName)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return path, false
	}
	return path, true
}

// EnsureDir creates a directory and all parent directories if they don't exist.
// Directories are created with 0700 permissions.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return oops.With("path", path).Wrap(err)
	}
	return nil
}
