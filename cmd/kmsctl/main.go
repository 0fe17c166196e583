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

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/lukium/ats-kms-enclave/audit"
	"github.com/lukium/ats-kms-enclave/config"
	"github.com/lukium/ats-kms-enclave/credential"
	"github.com/lukium/ats-kms-enclave/internal/logger"
	"github.com/lukium/ats-kms-enclave/keyengine"
	"github.com/lukium/ats-kms-enclave/store"
)

var (
	configFile string
	storeDir   string
)

var rootCmd = &cobra.Command{
	Use:   "kmsctl",
	Short: "ats-kms-enclave operator CLI",
	Long: `kmsctl drives the VAPID key management enclave directly against its
store, without going through the rpc wire protocol: enrollment setup,
VAPID key lifecycle, lease issuance and audit chain inspection for local
testing and operator maintenance tasks.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to a YAML/JSON config file (defaults built in if omitted)")
	rootCmd.PersistentFlags().StringVar(&storeDir, "store-dir", "", "override the configured store path (file backend only)")

	// Note: commands are registered in their respective files:
	// - setup.go: setupCmd
	// - keys.go: generateVAPIDCmd, signCmd
	// - lease.go: createLeaseCmd, issueJWTCmd
	// - audit.go: auditVerifyCmd, auditRotateKIAKCmd
	// - serve.go: serveCmd
	// - version.go: versionCmd
}

// defaultConfig mirrors config.setDefaults' values for the sub-configs
// kmsctl needs; it exists because LoadFromFile requires a file to parse
// and a bare CLI invocation with no --config should still work against
// the enclave's normal defaults.
func defaultConfig() *config.Config {
	return &config.Config{
		Environment: "development",
		Store:       &config.StoreConfig{Backend: "memory", Path: ".ats-kms/store"},
		Credential: &config.CredentialConfig{
			PBKDF2TargetMS:       350,
			PBKDF2IterationFloor: 200_000,
			LockoutThreshold:     5,
			LockoutWindow:        5 * time.Minute,
			LockoutCooldown:      time.Hour,
		},
		Lease: &config.LeaseConfig{
			MaxTTL:                      24 * time.Hour,
			DefaultTTL:                  time.Hour,
			DefaultQuotaPerHour:         1000,
			DefaultBucketSize:           50,
			DefaultSendsPerMinute:       120,
			DefaultSendsPerMinutePerEid: 5,
			JWTTTL:                      15 * time.Minute,
		},
		Audit: &config.AuditConfig{},
	}
}

func loadConfig() (*config.Config, error) {
	if configFile == "" {
		return defaultConfig(), nil
	}
	return config.LoadFromFile(configFile)
}

// enclave bundles everything a subcommand needs: the store, audit
// chain, credential manager and key engine, wired the same way
// cmd/kmsctl's eventual long-running service counterpart would.
type enclave struct {
	store store.Store
	chain *audit.Chain
	cred  *credential.Manager
	eng   *keyengine.Engine
}

func bootstrap() (*enclave, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if storeDir != "" {
		cfg.Store.Backend = "file"
		cfg.Store.Path = storeDir
	}

	var s store.Store
	switch cfg.Store.Backend {
	case "file":
		s, err = store.NewFileStore(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("open file store: %w", err)
		}
	default:
		s = store.NewMemoryStore()
	}

	log := logger.NewDefaultLogger()
	chain := audit.New(s)
	cred := credential.NewManager(s, chain, cfg.Credential, log)
	eng := keyengine.NewEngine(s, chain, cred, cfg.Lease, log)

	return &enclave{store: s, chain: chain, cred: cred, eng: eng}, nil
}
