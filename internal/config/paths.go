package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Platform identifiers.
const (
	platformLinux  = "linux"
	platformDarwin = "darwin"
)

// Application directory name used across all platforms.
const appName = "spsync"

// File names below the application directories.
const (
	settingsFileName    = "config.toml"
	credentialsFileName = "credentials.db"
	compareDirName      = "compare"
)

// DefaultConfigDir returns the platform-specific directory for global
// settings. On Linux, respects XDG_CONFIG_HOME (defaults to
// ~/.config/spsync). On macOS, uses ~/Library/Application Support/spsync.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return xdgDir("XDG_CONFIG_HOME", home, ".config")
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".config", appName)
	}
}

// DefaultDataDir returns the platform-specific directory for application
// data such as the credential database. On Linux, respects XDG_DATA_HOME
// (defaults to ~/.local/share/spsync).
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return xdgDir("XDG_DATA_HOME", home, filepath.Join(".local", "share"))
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".local", "share", appName)
	}
}

// DefaultCacheDir returns the platform-specific directory for scratch files
// such as server copies downloaded for comparison.
func DefaultCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return xdgDir("XDG_CACHE_HOME", home, ".cache")
	case platformDarwin:
		return filepath.Join(home, "Library", "Caches", appName)
	default:
		return filepath.Join(home, ".cache", appName)
	}
}

func xdgDir(envVar, home, fallback string) string {
	if xdg := os.Getenv(envVar); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	return filepath.Join(home, fallback, appName)
}

// DefaultSettingsPath returns the full path to the global settings file.
func DefaultSettingsPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, settingsFileName)
}

// DefaultCredentialsPath returns the default location of the credential
// database.
func DefaultCredentialsPath() string {
	dir := DefaultDataDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, credentialsFileName)
}

// DefaultCompareDir returns the directory under which checkout comparisons
// download server copies.
func DefaultCompareDir() string {
	dir := DefaultCacheDir()
	if dir == "" {
		return filepath.Join(os.TempDir(), appName, compareDirName)
	}

	return filepath.Join(dir, compareDirName)
}
