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

// Package config loads the enclave's configuration from YAML, with
// ${VAR}/${VAR:default} environment-variable substitution and
// environment-variable overrides layered on top.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the enclave.
type Config struct {
	Environment string           `yaml:"environment" json:"environment"`
	Store       *StoreConfig     `yaml:"store" json:"store"`
	Credential  *CredentialConfig `yaml:"credential" json:"credential"`
	Lease       *LeaseConfig     `yaml:"lease" json:"lease"`
	Audit       *AuditConfig     `yaml:"audit" json:"audit"`
	Logging     *LoggingConfig   `yaml:"logging" json:"logging"`
	Metrics     *MetricsConfig   `yaml:"metrics" json:"metrics"`
}

// StoreConfig selects and configures the record store backend.
type StoreConfig struct {
	Backend string `yaml:"backend" json:"backend"` // memory, file
	Path    string `yaml:"path" json:"path"`        // only used by the file backend
}

// CredentialConfig controls passphrase hardening and enrollment policy.
type CredentialConfig struct {
	// PBKDF2TargetMS is the wall-clock target (milliseconds) that
	// crypto.CalibrateIterations aims for when hardening a new passphrase.
	PBKDF2TargetMS int `yaml:"pbkdf2_target_ms" json:"pbkdf2_target_ms"`
	// PBKDF2IterationFloor is the minimum iteration count accepted
	// regardless of calibration result, guarding against a fast host
	// calibrating to something too weak.
	PBKDF2IterationFloor int `yaml:"pbkdf2_iteration_floor" json:"pbkdf2_iteration_floor"`
	// LockoutThreshold is the number of consecutive unlock failures
	// within LockoutWindow before a cooldown is imposed.
	LockoutThreshold int           `yaml:"lockout_threshold" json:"lockout_threshold"`
	LockoutWindow    time.Duration `yaml:"lockout_window" json:"lockout_window"`
	LockoutCooldown  time.Duration `yaml:"lockout_cooldown" json:"lockout_cooldown"`
}

// LeaseConfig bounds lease lifetime and default issuance quotas.
type LeaseConfig struct {
	MaxTTL              time.Duration `yaml:"max_ttl" json:"max_ttl"`
	DefaultTTL          time.Duration `yaml:"default_ttl" json:"default_ttl"`
	DefaultQuotaPerHour int           `yaml:"default_quota_per_hour" json:"default_quota_per_hour"`
	DefaultBucketSize   int           `yaml:"default_bucket_size" json:"default_bucket_size"`
	// DefaultSendsPerMinute is the token-bucket refill rate (tokens/min);
	// DefaultBucketSize is its burst ceiling.
	DefaultSendsPerMinute       int           `yaml:"default_sends_per_minute" json:"default_sends_per_minute"`
	DefaultSendsPerMinutePerEid int           `yaml:"default_sends_per_minute_per_eid" json:"default_sends_per_minute_per_eid"`
	JWTTTL                      time.Duration `yaml:"jwt_ttl" json:"jwt_ttl"`
}

// AuditConfig controls audit chain retention.
type AuditConfig struct {
	// RetentionFloor is the minimum number of entries kept regardless of
	// age or count-based pruning.
	RetentionFloor int `yaml:"retention_floor" json:"retention_floor"`
	// RetentionMaxEntries prunes the oldest entries once the chain grows
	// beyond this count, subject to RetentionFloor.
	RetentionMaxEntries int `yaml:"retention_max_entries" json:"retention_max_entries"`
	// RetentionWindow prunes entries older than this duration, subject
	// to RetentionFloor.
	RetentionWindow time.Duration `yaml:"retention_window" json:"retention_window"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

// MetricsConfig represents metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Port    int    `yaml:"port" json:"port"`
	Path    string `yaml:"path" json:"path"`
}

// LoadFromFile loads configuration from a file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}

	// Try to parse as YAML first
	if err := yaml.Unmarshal(data, cfg); err != nil {
		// Try JSON if YAML fails
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file (tried YAML and JSON): %w", err)
		}
	}

	setDefaults(cfg)

	return cfg, nil
}

// SaveToFile saves configuration to a file
func SaveToFile(cfg *Config, path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".json") {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setDefaults sets default values for configuration
func setDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	if cfg.Store == nil {
		cfg.Store = &StoreConfig{}
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "memory"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = ".ats-kms/store"
	}

	if cfg.Credential == nil {
		cfg.Credential = &CredentialConfig{}
	}
	if cfg.Credential.PBKDF2TargetMS == 0 {
		cfg.Credential.PBKDF2TargetMS = 350
	}
	if cfg.Credential.PBKDF2IterationFloor == 0 {
		cfg.Credential.PBKDF2IterationFloor = 200_000
	}
	if cfg.Credential.LockoutThreshold == 0 {
		cfg.Credential.LockoutThreshold = 5
	}
	if cfg.Credential.LockoutWindow == 0 {
		cfg.Credential.LockoutWindow = 5 * time.Minute
	}
	if cfg.Credential.LockoutCooldown == 0 {
		cfg.Credential.LockoutCooldown = time.Hour
	}

	if cfg.Lease == nil {
		cfg.Lease = &LeaseConfig{}
	}
	if cfg.Lease.MaxTTL == 0 {
		cfg.Lease.MaxTTL = 24 * time.Hour
	}
	if cfg.Lease.DefaultTTL == 0 {
		cfg.Lease.DefaultTTL = time.Hour
	}
	if cfg.Lease.DefaultQuotaPerHour == 0 {
		cfg.Lease.DefaultQuotaPerHour = 1000
	}
	if cfg.Lease.DefaultBucketSize == 0 {
		cfg.Lease.DefaultBucketSize = 50
	}
	if cfg.Lease.DefaultSendsPerMinute == 0 {
		cfg.Lease.DefaultSendsPerMinute = 120
	}
	if cfg.Lease.DefaultSendsPerMinutePerEid == 0 {
		cfg.Lease.DefaultSendsPerMinutePerEid = 5
	}
	if cfg.Lease.JWTTTL == 0 {
		cfg.Lease.JWTTTL = 15 * time.Minute
	}

	if cfg.Audit == nil {
		cfg.Audit = &AuditConfig{}
	}
	if cfg.Audit.RetentionFloor == 0 {
		cfg.Audit.RetentionFloor = 50
	}
	if cfg.Audit.RetentionMaxEntries == 0 {
		cfg.Audit.RetentionMaxEntries = 500
	}
	if cfg.Audit.RetentionWindow == 0 {
		cfg.Audit.RetentionWindow = 30 * 24 * time.Hour
	}

	if cfg.Logging == nil {
		cfg.Logging = &LoggingConfig{}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	if cfg.Metrics == nil {
		cfg.Metrics = &MetricsConfig{}
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}
