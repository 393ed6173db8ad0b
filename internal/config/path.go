package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// DefaultDataDir returns where a replica keeps its Pebble store when no
// dataDir is configured: $XDG_DATA_HOME/docflow when set, otherwise the
// per-user application data directory of the host OS. Without a home
// directory it falls back to ./data.
func DefaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "docflow")
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "./data"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "docflow")
	case "windows":
		if local := os.Getenv("LOCALAPPDATA"); local != "" {
			return filepath.Join(local, "docflow")
		}
		return filepath.Join(home, "AppData", "Local", "docflow")
	default:
		return filepath.Join(home, ".local", "share", "docflow")
	}
}
