package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	setupUserID     string
	setupPassphrase string
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Enroll a user under a passphrase",
	Long: `Creates the user's first enrollment and Master Secret under a
passphrase. Use addEnrollment via the rpc layer to add a passkey method
afterwards; kmsctl only drives the passphrase path directly.`,
	Example: `  kmsctl setup --user alice --passphrase "correct horse battery staple"`,
	RunE:    runSetup,
}

func init() {
	rootCmd.AddCommand(setupCmd)
	setupCmd.Flags().StringVar(&setupUserID, "user", "", "user ID to enroll")
	setupCmd.Flags().StringVar(&setupPassphrase, "passphrase", "", "passphrase, at least 8 characters")
	setupCmd.MarkFlagRequired("user")
	setupCmd.MarkFlagRequired("passphrase")
}

func runSetup(cmd *cobra.Command, args []string) error {
	e, err := bootstrap()
	if err != nil {
		return err
	}

	meta, err := e.cred.SetupPassphrase(setupUserID, setupPassphrase, nil)
	if err != nil {
		return fmt.Errorf("setup: %w", err)
	}

	out, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
