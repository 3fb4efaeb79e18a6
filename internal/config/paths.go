// ABOUTME: XDG-style default locations for config files and data
// ABOUTME: Shared by the server and the Matrix bridge binaries

package config

import (
	"os"
	"path/filepath"
)

// appDir is the directory name under the XDG base directories.
const appDir = "tubeagent"

// FilePath resolves a config file location. An explicit path in envVar
// wins, then $XDG_CONFIG_HOME/tubeagent/name, then ~/.config/tubeagent/name.
// If no home directory is known, name alone is returned.
func FilePath(envVar, name string) string {
	if p := os.Getenv(envVar); p != "" {
		return p
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return name
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, appDir, name)
}

// DataDir is $XDG_DATA_HOME/tubeagent, falling back to ~/.local/share/tubeagent.
func DataDir() string {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, appDir)
}
