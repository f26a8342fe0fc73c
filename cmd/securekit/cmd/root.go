package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is stamped at build time.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "securekit",
	Short: "SecureKit is the client security agent for the rehabilitation platform",
	Long: `SecureKit runs the client-side security subsystem: encrypted local
storage, session and token management, and security audit logging with an
offline queue.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
