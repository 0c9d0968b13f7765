// Package main provides the TheraVoice API server.
package main

import (
	"fmt"
	"os"
	_ "time/tzdata"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "theravoice-api",
	Short: "TheraVoice API server and appointment reminder scheduler",
	Long: `TheraVoice API server and appointment reminder scheduler.

Configuration is read from environment variables (API_PORT, APPOINTMENT_TIMEZONE,
SMTP_HOST, OPENAI_API_KEY, HISTORY_ENABLED, LOG_LEVEL, ...).

Examples:
  theravoice-api                 # Start the server
  theravoice-api serve           # Same as above
  theravoice-api healthcheck     # Check a running server, exit 1 if unhealthy`,
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(healthcheckCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
