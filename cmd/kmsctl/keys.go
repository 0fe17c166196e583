package main

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/lukium/ats-kms-enclave/credential"
)

var (
	keysUserID     string
	keysPassphrase string
	regenerate     bool
)

var generateVAPIDCmd = &cobra.Command{
	Use:   "generate-vapid",
	Short: "Generate (or replace) a user's VAPID signing key",
	Example: `  kmsctl generate-vapid --user alice --passphrase "correct horse battery staple"
  kmsctl generate-vapid --user alice --passphrase "..." --regenerate`,
	RunE: runGenerateVAPID,
}

func init() {
	rootCmd.AddCommand(generateVAPIDCmd)
	generateVAPIDCmd.Flags().StringVar(&keysUserID, "user", "", "user ID")
	generateVAPIDCmd.Flags().StringVar(&keysPassphrase, "passphrase", "", "passphrase")
	generateVAPIDCmd.Flags().BoolVar(&regenerate, "regenerate", false, "replace an existing key instead of requiring none to exist")
	generateVAPIDCmd.MarkFlagRequired("user")
	generateVAPIDCmd.MarkFlagRequired("passphrase")
}

func runGenerateVAPID(cmd *cobra.Command, args []string) error {
	e, err := bootstrap()
	if err != nil {
		return err
	}
	creds := credential.AuthCredentials{UserID: keysUserID, Method: credential.MethodPassphrase, Passphrase: keysPassphrase}

	var kid string
	var pub []byte
	if regenerate {
		kid, pub, err = e.eng.RegenerateVAPID(creds)
	} else {
		kid, pub, err = e.eng.GenerateVAPID(creds)
	}
	if err != nil {
		return fmt.Errorf("generate-vapid: %w", err)
	}

	fmt.Printf("kid: %s\n", kid)
	fmt.Printf("publicKeyRaw: %s\n", base64.RawURLEncoding.EncodeToString(pub))
	return nil
}

var (
	signAud string
	signSub string
	signTTL time.Duration
)

var signCmd = &cobra.Command{
	Use:   "sign",
	Short: "Sign an ad-hoc RFC 8292 VAPID JWT with a user's key",
	Example: `  kmsctl sign --user alice --passphrase "..." --aud https://fcm.googleapis.com --sub mailto:ops@example.com`,
	RunE:    runSign,
}

func init() {
	rootCmd.AddCommand(signCmd)
	signCmd.Flags().StringVar(&keysUserID, "user", "", "user ID")
	signCmd.Flags().StringVar(&keysPassphrase, "passphrase", "", "passphrase")
	signCmd.Flags().StringVar(&signAud, "aud", "", "https origin of the push service")
	signCmd.Flags().StringVar(&signSub, "sub", "", "mailto: or https: contact URI")
	signCmd.Flags().DurationVar(&signTTL, "ttl", 15*time.Minute, "token lifetime, must be 24h or less")
	signCmd.MarkFlagRequired("user")
	signCmd.MarkFlagRequired("passphrase")
	signCmd.MarkFlagRequired("aud")
	signCmd.MarkFlagRequired("sub")
}

func runSign(cmd *cobra.Command, args []string) error {
	e, err := bootstrap()
	if err != nil {
		return err
	}
	creds := credential.AuthCredentials{UserID: keysUserID, Method: credential.MethodPassphrase, Passphrase: keysPassphrase}

	payload := jwt.MapClaims{
		"aud": signAud,
		"sub": signSub,
		"exp": time.Now().UTC().Add(signTTL).Unix(),
	}
	signed, kid, err := e.eng.SignJWT(creds, payload)
	if err != nil {
		return fmt.Errorf("sign: %w", err)
	}

	fmt.Printf("kid: %s\n", kid)
	fmt.Println(signed)
	return nil
}
