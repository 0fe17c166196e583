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
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	cfg, err := Load(LoaderOptions{
		ConfigDir:   ".",
		Environment: "development",
	})
	if err != nil {
		t.Fatalf("Failed to load development config: %v", err)
	}

	if cfg.Environment != "development" {
		t.Errorf("Environment = %q, want %q", cfg.Environment, "development")
	}

	if cfg.Store == nil || cfg.Store.Backend == "" {
		t.Error("Store backend should have a default value")
	}
}

func TestLoadForEnvironment(t *testing.T) {
	tests := []string{"development", "staging", "production", "local"}

	for _, env := range tests {
		t.Run(env, func(t *testing.T) {
			cfg, err := Load(LoaderOptions{
				ConfigDir:   ".",
				Environment: env,
			})
			if err != nil {
				t.Fatalf("Failed to load %s config: %v", env, err)
			}

			if cfg.Environment != env {
				t.Errorf("Environment = %q, want %q", cfg.Environment, env)
			}
		})
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	os.Setenv("KMS_STORE_BACKEND", "file")
	os.Setenv("KMS_LOG_LEVEL", "debug")
	defer os.Unsetenv("KMS_STORE_BACKEND")
	defer os.Unsetenv("KMS_LOG_LEVEL")

	cfg, err := Load(LoaderOptions{
		ConfigDir:   ".",
		Environment: "development",
	})
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Store != nil && cfg.Store.Backend != "file" {
		t.Errorf("Store.Backend = %q, want %q", cfg.Store.Backend, "file")
	}

	if cfg.Logging != nil && cfg.Logging.Level != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.Logging.Level, "debug")
	}
}

func TestLoadWithCustomConfigDir(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test.yaml")

	testConfig := `
environment: test
logging:
  level: info
  format: json
`
	if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := Load(LoaderOptions{
		ConfigDir:   tmpDir,
		Environment: "test",
	})
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg == nil {
		t.Fatal("Config should not be nil")
	}
}

func TestDefaultLoaderOptions(t *testing.T) {
	opts := DefaultLoaderOptions()

	if opts.ConfigDir != "config" {
		t.Errorf("ConfigDir = %q, want %q", opts.ConfigDir, "config")
	}

	if opts.SkipEnvSubstitution {
		t.Error("SkipEnvSubstitution should be false by default")
	}

	if opts.SkipValidation {
		t.Error("SkipValidation should be false by default")
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := &Config{}
	setDefaults(cfg)

	if cfg.Environment != "development" {
		t.Errorf("Default environment = %q, want %q", cfg.Environment, "development")
	}
	if cfg.Store.Backend != "memory" {
		t.Errorf("Default store backend = %q, want %q", cfg.Store.Backend, "memory")
	}
	if cfg.Credential.PBKDF2IterationFloor <= 0 {
		t.Error("PBKDF2IterationFloor should have a positive default")
	}
	if cfg.Lease.MaxTTL <= 0 {
		t.Error("Lease.MaxTTL should have a positive default")
	}
	if cfg.Audit.RetentionFloor <= 0 {
		t.Error("Audit.RetentionFloor should have a positive default")
	}
}

func TestValidateConfiguration(t *testing.T) {
	cfg := &Config{}
	setDefaults(cfg)
	if err := ValidateConfiguration(cfg); err != nil {
		t.Errorf("defaulted config should validate cleanly, got: %v", err)
	}

	cfg.Store.Backend = "postgres"
	if err := ValidateConfiguration(cfg); err == nil {
		t.Error("expected an error for an unsupported store backend")
	}
}
