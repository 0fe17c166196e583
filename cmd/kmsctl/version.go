package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lukium/ats-kms-enclave/pkg/version"
)

var versionJSON bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print kmsctl's build version",
	RunE:  runVersion,
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "print as JSON instead of a formatted string")
}

func runVersion(cmd *cobra.Command, args []string) error {
	if !versionJSON {
		fmt.Println(version.String())
		return nil
	}

	out, err := json.MarshalIndent(version.Get(), "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
