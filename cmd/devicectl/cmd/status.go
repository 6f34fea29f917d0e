package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/sonomandeep/deviceauth/api"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current login status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := loadCredentials()
		if err != nil {
			cmd.Println("Not logged in.")
			return nil
		}

		req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, creds.Server+"/device/session", nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+creds.AccessToken)

		resp, err := httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to reach server: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			cmd.Println("Logged out: the saved credential is no longer valid.")
			return nil
		}

		var info api.SessionInfo
		if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
			return fmt.Errorf("failed to decode session info: %w", err)
		}

		cmd.Printf("Logged in as user %s (org %s)\n", info.UserID, info.OrgID)
		cmd.Printf("Credential expires %s\n", info.ExpiresAt.Local().Format(time.RFC1123))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
