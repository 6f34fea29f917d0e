package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sonomandeep/deviceauth/api"
	serrors "github.com/sonomandeep/deviceauth/errors"
)

const clientVersion = "1.0.0"

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in via device code",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		hostname, _ := os.Hostname()
		issueReq := api.DeviceCodeRequest{
			ClientID:       "devicectl",
			ClientName:     "devicectl",
			ClientVersion:  clientVersion,
			ClientHostname: hostname,
		}

		var issued api.DeviceCodeResponse
		status, err := postJSON(ctx, serverURL+"/device/code", issueReq, &issued)
		if err != nil {
			return fmt.Errorf("failed to request device code: %w", err)
		}
		if status != http.StatusOK {
			return fmt.Errorf("device code request failed with status %d", status)
		}

		cmd.Println("To authorize this device, open:")
		cmd.Println()
		cmd.Printf("    %s\n", issued.VerificationURIComplete)
		cmd.Println()
		cmd.Printf("and confirm the code: %s\n", issued.UserCode)
		cmd.Println()
		cmd.Println("Waiting for approval...")

		token, err := pollForToken(ctx, issued)
		if err != nil {
			return err
		}

		creds := &storedCredentials{
			Server:      serverURL,
			AccessToken: token.AccessToken,
			ExpiresAt:   time.Now().UTC().Add(time.Duration(token.ExpiresIn) * time.Second),
		}
		if err := saveCredentials(creds); err != nil {
			return fmt.Errorf("authorized, but failed to save credentials: %w", err)
		}

		cmd.Println("Logged in.")
		return nil
	},
}

// pollForToken polls the token endpoint until the flow resolves, honoring the
// server's interval and slow_down backpressure.
func pollForToken(ctx context.Context, issued api.DeviceCodeResponse) (*api.TokenResponse, error) {
	interval := issued.Interval
	if interval <= 0 {
		interval = 5
	}
	deadline := time.Now().Add(time.Duration(issued.ExpiresIn) * time.Second)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(interval) * time.Second):
		}

		if time.Now().After(deadline) {
			return nil, errors.New("the link expired before the request was approved; run the command again")
		}

		var resp pollResponse
		if _, err := postJSON(ctx, serverURL+"/device/token", api.TokenRequest{DeviceCode: issued.DeviceCode}, &resp); err != nil {
			return nil, fmt.Errorf("polling failed: %w", err)
		}

		switch resp.ErrorCode {
		case "":
			return &resp.TokenResponse, nil
		case serrors.AuthorizationPending:
			continue
		case serrors.SlowDown:
			interval += 5
			continue
		case serrors.AccessDenied:
			return nil, errors.New("authorization denied")
		case serrors.ExpiredToken:
			return nil, errors.New("the link expired before the request was approved; run the command again")
		default:
			return nil, fmt.Errorf("authorization failed: %s", resp.ErrorCode)
		}
	}
}

func init() {
	rootCmd.AddCommand(loginCmd)
}
