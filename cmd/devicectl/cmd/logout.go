package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sonomandeep/deviceauth/api"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Revoke the device credential and forget it",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := loadCredentials()
		if err != nil {
			cmd.Println("Not logged in.")
			return nil
		}

		// Best effort: the server treats revoking an unknown token as a no-op,
		// and the local credential is removed either way.
		if _, err := postJSON(cmd.Context(), creds.Server+"/device/revoke",
			api.RevokeRequest{AccessToken: creds.AccessToken}, nil); err != nil {
			cmd.Printf("Warning: could not revoke on server: %v\n", err)
		}

		if err := removeCredentials(); err != nil {
			return fmt.Errorf("failed to remove credentials file: %w", err)
		}

		cmd.Println("Logged out.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(logoutCmd)
}
