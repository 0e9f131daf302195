package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Global setting keys. Each is also readable from SPSYNC_<KEY> in the
// environment and may be bound to a command-line flag.
const (
	KeyLogLevel      = "log_level"
	KeyLogFormat     = "log_format"
	KeyCredentialsDB = "credentials_db"
	KeyHTTPTimeout   = "http_timeout"
	KeyUserAgent     = "user_agent"
	KeyCompareDir    = "compare_dir"
)

// EnvPrefix prefixes every environment variable read by LoadSettings.
const EnvPrefix = "SPSYNC"

const (
	defaultLogLevel    = "warn"
	defaultLogFormat   = "text"
	defaultHTTPTimeout = 2 * time.Minute
	defaultUserAgent   = "spsync"
)

// Settings are process-wide options that do not belong to a workspace.
type Settings struct {
	LogLevel      string
	LogFormat     string
	CredentialsDB string
	HTTPTimeout   time.Duration
	UserAgent     string
	CompareDir    string
}

// NewSettingsViper returns a viper instance preloaded with defaults and
// environment binding. Callers bind flags to it before LoadSettings.
func NewSettingsViper() *viper.Viper {
	v := viper.New()

	v.SetDefault(KeyLogLevel, defaultLogLevel)
	v.SetDefault(KeyLogFormat, defaultLogFormat)
	v.SetDefault(KeyCredentialsDB, DefaultCredentialsPath())
	v.SetDefault(KeyHTTPTimeout, defaultHTTPTimeout)
	v.SetDefault(KeyUserAgent, defaultUserAgent)
	v.SetDefault(KeyCompareDir, DefaultCompareDir())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	return v
}

// LoadSettings reads the optional settings file at path (empty means the
// default location) into v and returns the resolved settings. A missing
// file is not an error.
func LoadSettings(v *viper.Viper, path string) (*Settings, error) {
	if path == "" {
		path = DefaultSettingsPath()
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			v.SetConfigType("toml")

			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("reading settings %s: %w", path, err)
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("checking settings %s: %w", path, err)
		}
	}

	s := &Settings{
		LogLevel:      strings.ToLower(v.GetString(KeyLogLevel)),
		LogFormat:     strings.ToLower(v.GetString(KeyLogFormat)),
		CredentialsDB: v.GetString(KeyCredentialsDB),
		HTTPTimeout:   v.GetDuration(KeyHTTPTimeout),
		UserAgent:     v.GetString(KeyUserAgent),
		CompareDir:    v.GetString(KeyCompareDir),
	}

	if err := validateSettings(s); err != nil {
		return nil, fmt.Errorf("settings validation failed: %w", err)
	}

	return s, nil
}

func validateSettings(s *Settings) error {
	var errs []error

	switch s.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("%s: must be debug, info, warn or error, got %q", KeyLogLevel, s.LogLevel))
	}

	switch s.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("%s: must be text or json, got %q", KeyLogFormat, s.LogFormat))
	}

	if s.HTTPTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%s: must be positive, got %s", KeyHTTPTimeout, s.HTTPTimeout))
	}

	if s.CredentialsDB == "" {
		errs = append(errs, fmt.Errorf("%s: must not be empty", KeyCredentialsDB))
	}

	return errors.Join(errs...)
}
