// SPDX-License-Identifier: MPL-2.0

// Package config resolves dotctl's configuration: the platform directories,
// the optional config file, and the ordered package source list.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"dotctl/internal/issue"

	"github.com/spf13/viper"
)

const (
	// AppName is the application name, used for platform directories.
	AppName = "dotctl"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "toml"
	// SourcesFileName is the name of the source list file.
	SourcesFileName = "sources.toml"
)

// configDirOverride lets tests redirect the config directory.
var configDirOverride string

// dataDirOverride lets tests redirect the data directory.
var dataDirOverride string

// Config holds the resolved configuration values.
type Config struct {
	// SourcesFile is the path of the source list file.
	SourcesFile string `mapstructure:"sources_file"`
	// Verbose enables debug logging.
	Verbose bool `mapstructure:"verbose"`
}

// ConfigDir returns the dotctl configuration directory using platform
// conventions: Windows uses %APPDATA%, macOS uses ~/Library/Application
// Support, and Linux/others use $XDG_CONFIG_HOME (defaulting to ~/.config).
//
//nolint:revive // ConfigDir is more descriptive than Dir for external callers
func ConfigDir() (string, error) {
	if configDirOverride != "" {
		return configDirOverride, nil
	}

	var configDir string
	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, "Library", "Application Support")
	default: // Linux and others
		configDir = os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			configDir = filepath.Join(home, ".config")
		}
	}

	return filepath.Join(configDir, AppName), nil
}

// DataDir returns the user-scoped data directory that hosts the install
// state file, the backup archives and assembled git sources. Linux/others
// use $XDG_DATA_HOME (defaulting to ~/.local/share).
func DataDir() (string, error) {
	if dataDirOverride != "" {
		return dataDirOverride, nil
	}

	var dataDir string
	switch runtime.GOOS {
	case "windows":
		dataDir = os.Getenv("LOCALAPPDATA")
		if dataDir == "" {
			dataDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Local")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		dataDir = filepath.Join(home, "Library", "Application Support")
	default:
		dataDir = os.Getenv("XDG_DATA_HOME")
		if dataDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			dataDir = filepath.Join(home, ".local", "share")
		}
	}

	return filepath.Join(dataDir, AppName), nil
}

// SetDirOverrides redirects the config and data directories. Intended for
// tests and for the --data-dir / --config-dir escape hatches.
func SetDirOverrides(configDir, dataDir string) {
	configDirOverride = configDir
	dataDirOverride = dataDir
}

// Load reads the config file if present and fills in defaults otherwise.
// A missing config file is not an error.
func Load() (*Config, error) {
	cfgDir, err := ConfigDir()
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetDefault("sources_file", filepath.Join(cfgDir, SourcesFileName))
	v.SetDefault("verbose", false)

	v.SetConfigName(ConfigFileName)
	v.SetConfigType(ConfigFileExt)
	v.AddConfigPath(cfgDir)
	v.SetEnvPrefix(AppName)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, issue.Wrap(err, "read configuration", cfgDir,
				"Check the file's syntax, or remove it to fall back to defaults")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, issue.Wrap(err, "parse configuration", v.ConfigFileUsed(),
			"Check the file's syntax, or remove it to fall back to defaults")
	}
	return &cfg, nil
}

// EnsureDirs creates the config and data directories if they don't exist.
func EnsureDirs() error {
	cfgDir, err := ConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		return err
	}
	dataDir, err := DataDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dataDir, 0o755)
}
