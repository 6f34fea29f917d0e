package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var serverURL string

var rootCmd = &cobra.Command{
	Use:   "devicectl",
	Short: "devicectl authenticates terminal agents via the device authorization flow",
	Long: `devicectl obtains account access for a terminal agent without ever seeing
the user's password: it requests a short code, the user confirms it in the
browser, and devicectl exchanges the approval for an API credential.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080",
		"base URL of the device authorization server")
}
