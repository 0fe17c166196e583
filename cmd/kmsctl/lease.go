package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lukium/ats-kms-enclave/credential"
)

var (
	leaseUserID     string
	leasePassphrase string
	leaseTTL        time.Duration
	leaseAutoExtend bool
)

var createLeaseCmd = &cobra.Command{
	Use:   "create-lease",
	Short: "Mint a time-bounded lease against a user's VAPID key",
	Long: `Creates a lease that lets issue-jwt sign push JWTs for ttl without
the user's credentials present again: the private key is re-wrapped
under a SessionKEK held in memory for this enclave process's lifetime.`,
	Example: `  kmsctl create-lease --user alice --passphrase "..." --ttl 1h --auto-extend`,
	RunE:    runCreateLease,
}

func init() {
	rootCmd.AddCommand(createLeaseCmd)
	createLeaseCmd.Flags().StringVar(&leaseUserID, "user", "", "user ID")
	createLeaseCmd.Flags().StringVar(&leasePassphrase, "passphrase", "", "passphrase")
	createLeaseCmd.Flags().DurationVar(&leaseTTL, "ttl", time.Hour, "lease lifetime")
	createLeaseCmd.Flags().BoolVar(&leaseAutoExtend, "auto-extend", false, "allow extendLeases to renew this lease with no credentials")
	createLeaseCmd.MarkFlagRequired("user")
	createLeaseCmd.MarkFlagRequired("passphrase")
}

func runCreateLease(cmd *cobra.Command, args []string) error {
	e, err := bootstrap()
	if err != nil {
		return err
	}
	creds := credential.AuthCredentials{UserID: leaseUserID, Method: credential.MethodPassphrase, Passphrase: leasePassphrase}

	meta, err := e.eng.CreateLease(creds, leaseTTL, leaseAutoExtend)
	if err != nil {
		return fmt.Errorf("create-lease: %w", err)
	}

	out, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

var (
	issueLeaseID string
	issueEid     string
)

var issueJWTCmd = &cobra.Command{
	Use:   "issue-jwt",
	Short: "Issue a push JWT against an existing lease, no credentials needed",
	Example: `  kmsctl issue-jwt --lease-id 3fa9c1... --eid endpoint-42`,
	RunE:    runIssueJWT,
}

func init() {
	rootCmd.AddCommand(issueJWTCmd)
	issueJWTCmd.Flags().StringVar(&issueLeaseID, "lease-id", "", "lease ID from create-lease")
	issueJWTCmd.Flags().StringVar(&issueEid, "eid", "", "push destination ID, for the per-destination quota limiter")
	issueJWTCmd.MarkFlagRequired("lease-id")
}

func runIssueJWT(cmd *cobra.Command, args []string) error {
	e, err := bootstrap()
	if err != nil {
		return err
	}

	signed, kid, err := e.eng.IssueVAPIDJWT(issueLeaseID, issueEid)
	if err != nil {
		return fmt.Errorf("issue-jwt: %w", err)
	}

	fmt.Printf("kid: %s\n", kid)
	fmt.Println(signed)
	return nil
}
