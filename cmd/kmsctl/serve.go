package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lukium/ats-kms-enclave/internal/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Bootstrap the enclave and expose its Prometheus metrics",
	Long: `serve bootstraps the enclave against its configured store, the
same as every other kmsctl subcommand, and then blocks, exposing the
audit/lease/crypto counters and histograms the domain packages already
record at the configured metrics.port/metrics.path.

kmsctl has no RPC listener of its own: Dispatch is driven in-process by
an embedding host over whatever transport that host chooses. serve is
for operators who run a long-lived instance and want it scraped; it
does nothing for metrics.enabled: false configs beyond bootstrapping.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	e, err := bootstrap()
	if err != nil {
		return err
	}
	defer e.store.Close()

	if cfg.Metrics == nil || !cfg.Metrics.Enabled {
		fmt.Println("metrics.enabled is false; nothing to serve, exiting")
		return nil
	}

	addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
	fmt.Printf("metrics listening on %s%s\n", addr, cfg.Metrics.Path)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := metrics.StartServer(ctx, addr, cfg.Metrics.Path); err != nil {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
