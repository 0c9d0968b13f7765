package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/theravoice/theravoice/pkg/client"
)

var healthcheckCmd = &cobra.Command{
	Use:   "healthcheck",
	Short: "Check a running server's health endpoint",
	Long: `Check a running server's health endpoint and exit non-zero if it is unhealthy.
Intended for container HEALTHCHECK directives.`,
	RunE: runHealthcheck,
}

var (
	healthcheckURL     string
	healthcheckTimeout time.Duration
)

func init() {
	healthcheckCmd.Flags().StringVar(&healthcheckURL, "url", "http://localhost:8000", "Base URL of the server")
	healthcheckCmd.Flags().DurationVar(&healthcheckTimeout, "timeout", 5*time.Second, "Request timeout")
}

func runHealthcheck(cmd *cobra.Command, _ []string) error {
	c, err := client.NewClient(healthcheckURL)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), healthcheckTimeout)
	defer cancel()

	health, err := c.Health(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if health.Status != "healthy" {
		return fmt.Errorf("server reported status %q", health.Status)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s (%d pending jobs)\n", health.Status, health.PendingJobs)
	return nil
}
