package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lukium/ats-kms-enclave/audit"
)

var auditVerifyCmd = &cobra.Command{
	Use:   "audit-verify",
	Short: "Verify the full tamper-evident audit chain",
	RunE:  runAuditVerify,
}

func init() {
	rootCmd.AddCommand(auditVerifyCmd)
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	e, err := bootstrap()
	if err != nil {
		return err
	}

	result, err := e.chain.VerifyChain()
	if err != nil {
		return fmt.Errorf("audit-verify: %w", err)
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	if !result.Valid {
		return fmt.Errorf("audit chain broken at sequence %d", result.BreakSeqNum)
	}
	return nil
}

var auditRequestID string

var auditRotateKIAKCmd = &cobra.Command{
	Use:   "audit-rotate-kiak",
	Short: "Rotate the instance audit key (KIAK) and chain a witnessed rotation entry",
	Long: `Rotates the Key-Instance Audit Key that signs entries for
operations with no authenticated user in scope (e.g. issue-jwt's
lease-only path). Not exposed over the rpc wire protocol: rotation is
an operator maintenance action, not something a client origin should
be able to trigger.`,
	Example: `  kmsctl audit-rotate-kiak --request-id ops-2026-07-30-01`,
	RunE:    runAuditRotateKIAK,
}

func init() {
	rootCmd.AddCommand(auditRotateKIAKCmd)
	auditRotateKIAKCmd.Flags().StringVar(&auditRequestID, "request-id", "", "operator-supplied identifier recorded in the rotation entry")
	auditRotateKIAKCmd.MarkFlagRequired("request-id")
}

func runAuditRotateKIAK(cmd *cobra.Command, args []string) error {
	e, err := bootstrap()
	if err != nil {
		return err
	}

	entry, err := audit.RotateKIAK(e.store, e.chain, auditRequestID)
	if err != nil {
		return fmt.Errorf("audit-rotate-kiak: %w", err)
	}

	out, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
