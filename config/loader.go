// Copyright (C) 2025 ats-kms-enclave contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// LoaderOptions configures the configuration loader
type LoaderOptions struct {
	// ConfigDir is the directory containing config files (default: ./config)
	ConfigDir string
	// Environment overrides automatic environment detection
	Environment string
	// SkipEnvSubstitution disables environment variable substitution
	SkipEnvSubstitution bool
	// SkipValidation disables configuration validation
	SkipValidation bool
}

// DefaultLoaderOptions returns default loader options
func DefaultLoaderOptions() LoaderOptions {
	return LoaderOptions{
		ConfigDir:           "config",
		Environment:         "",
		SkipEnvSubstitution: false,
		SkipValidation:      false,
	}
}

// Load loads configuration with automatic environment detection
func Load(opts ...LoaderOptions) (*Config, error) {
	options := DefaultLoaderOptions()
	if len(opts) > 0 {
		options = opts[0]
	}

	// Determine environment
	env := options.Environment
	if env == "" {
		env = GetEnvironment()
	}

	// Try to load environment-specific config file
	envConfigPath := filepath.Join(options.ConfigDir, fmt.Sprintf("%s.yaml", env))
	cfg, err := loadConfigFile(envConfigPath)
	if err != nil {
		// Fall back to default config file
		defaultConfigPath := filepath.Join(options.ConfigDir, "default.yaml")
		cfg, err = loadConfigFile(defaultConfigPath)
		if err != nil {
			// Fall back to config.yaml
			configPath := filepath.Join(options.ConfigDir, "config.yaml")
			cfg, err = loadConfigFile(configPath)
			if err != nil {
				// Return empty config with defaults
				cfg = &Config{Environment: env}
				setDefaults(cfg)
			}
		}
	}

	// Set environment
	if cfg.Environment == "" {
		cfg.Environment = env
	}

	// Substitute environment variables
	if !options.SkipEnvSubstitution {
		SubstituteEnvVarsInConfig(cfg)
	}

	// Override with environment variables (highest priority)
	applyEnvironmentOverrides(cfg)

	// Validate configuration
	if !options.SkipValidation {
		if err := ValidateConfiguration(cfg); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadConfigFile loads a single config file
func loadConfigFile(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}
	return LoadFromFile(path)
}

// applyEnvironmentOverrides overrides config with environment variables
func applyEnvironmentOverrides(cfg *Config) {
	if backend := os.Getenv("KMS_STORE_BACKEND"); backend != "" && cfg.Store != nil {
		cfg.Store.Backend = backend
	}
	if path := os.Getenv("KMS_STORE_PATH"); path != "" && cfg.Store != nil {
		cfg.Store.Path = path
	}

	if logLevel := os.Getenv("KMS_LOG_LEVEL"); logLevel != "" && cfg.Logging != nil {
		cfg.Logging.Level = logLevel
	}
	if logFormat := os.Getenv("KMS_LOG_FORMAT"); logFormat != "" && cfg.Logging != nil {
		cfg.Logging.Format = logFormat
	}

	if v := os.Getenv("KMS_METRICS_ENABLED"); v != "" && cfg.Metrics != nil {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Metrics.Enabled = enabled
		}
	}
	if v := os.Getenv("KMS_METRICS_PORT"); v != "" && cfg.Metrics != nil {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
		}
	}
}

// ValidateConfiguration checks a Config for internally inconsistent or
// out-of-range values after defaults have been applied.
func ValidateConfiguration(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	if cfg.Store != nil {
		switch cfg.Store.Backend {
		case "memory", "file":
		default:
			return fmt.Errorf("store: invalid backend %q, want memory or file", cfg.Store.Backend)
		}
		if cfg.Store.Backend == "file" && cfg.Store.Path == "" {
			return fmt.Errorf("store: path is required for the file backend")
		}
	}

	if cfg.Credential != nil {
		if cfg.Credential.PBKDF2TargetMS <= 0 {
			return fmt.Errorf("credential: pbkdf2_target_ms must be positive")
		}
		if cfg.Credential.PBKDF2IterationFloor <= 0 {
			return fmt.Errorf("credential: pbkdf2_iteration_floor must be positive")
		}
		if cfg.Credential.LockoutThreshold <= 0 {
			return fmt.Errorf("credential: lockout_threshold must be positive")
		}
	}

	if cfg.Lease != nil {
		if cfg.Lease.MaxTTL <= 0 {
			return fmt.Errorf("lease: max_ttl must be positive")
		}
		if cfg.Lease.DefaultQuotaPerHour <= 0 {
			return fmt.Errorf("lease: default_quota_per_hour must be positive")
		}
	}

	if cfg.Audit != nil {
		if cfg.Audit.RetentionFloor < 0 {
			return fmt.Errorf("audit: retention_floor must not be negative")
		}
		if cfg.Audit.RetentionMaxEntries < cfg.Audit.RetentionFloor {
			return fmt.Errorf("audit: retention_max_entries must not be below retention_floor")
		}
	}

	if cfg.Logging != nil {
		switch cfg.Logging.Level {
		case "debug", "info", "warn", "error":
		default:
			return fmt.Errorf("logging: invalid level %q", cfg.Logging.Level)
		}
	}

	return nil
}

// LoadForEnvironment loads configuration for a specific environment
func LoadForEnvironment(environment string) (*Config, error) {
	return Load(LoaderOptions{
		ConfigDir:   "config",
		Environment: environment,
	})
}

// MustLoad loads configuration or panics on error
func MustLoad(opts ...LoaderOptions) *Config {
	cfg, err := Load(opts...)
	if err != nil {
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}
	return cfg
}
