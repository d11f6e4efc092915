package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB
)

// LoadWithFile loads configuration from a YAML file, then overrides with
// environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (EXECUTOR_MAX_ATTEMPTS, MATCHER_THRESHOLD, ...)
//  2. YAML config file (~/.config/orchd/config.yaml)
//  3. Hardcoded defaults
//
// The configPath parameter specifies the YAML file to load. If empty, the
// default path ~/.config/orchd/config.yaml is used.
//
// Only files under ~/.config/orchd/ or /etc/orchd/ are accepted, they must
// have 0600 or 0400 permissions, and may not exceed 1MB.
//
// Environment variables map to config keys by splitting on the first
// underscore: EXECUTOR_MAX_ATTEMPTS -> executor.max_attempts.
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "orchd", "config.yaml")
	}

	// Validate config path (even if file doesn't exist)
	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	// Load from YAML file if it exists
	if _, err := os.Stat(configPath); err == nil {
		// Open file once and validate using file descriptor to avoid TOCTOU race
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}

		if err := validateConfigFileProperties(info); err != nil {
			return nil, fmt.Errorf("config file validation failed: %w", err)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		// Use rawbytes provider to avoid re-opening the file
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Override with environment variables.
	// Split on first underscore only: SECTION_FIELD_NAME -> section.field_name.
	if err := k.Load(env.Provider("", ".", func(s string) string {
		lower := strings.ToLower(s)
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := NewDefaultConfig()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadFromBytes loads configuration from raw YAML bytes over defaults.
// Intended for tests and embedded configuration.
func LoadFromBytes(content []byte) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg := NewDefaultConfig()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// EnsureConfigDir creates the orchd config directory if it doesn't exist.
// The directory is created with 0700 permissions (owner only).
func EnsureConfigDir() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	configDir := filepath.Join(home, ".config", "orchd")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", configDir, err)
	}

	return nil
}

// validateConfigPath checks if path is in allowed directories.
// This validation runs even if the file doesn't exist yet.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	// Resolve symlinks so they cannot be used to escape allowed directories
	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		// Path may not exist yet; validate the unresolved path instead
		resolvedPath = absPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	allowedDirs := []string{
		filepath.Join(home, ".config", "orchd"),
		"/etc/orchd",
	}

	for _, dir := range allowedDirs {
		if strings.HasPrefix(resolvedPath, dir) {
			return nil
		}
	}

	return fmt.Errorf("config file must be in ~/.config/orchd/ or /etc/orchd/")
}

// validateConfigFileProperties checks file permissions and size.
// Takes FileInfo from an already-opened file descriptor to avoid TOCTOU race.
func validateConfigFileProperties(info os.FileInfo) error {
	// Permission model differs on Windows
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}

	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	return nil
}
