// Package commands holds the renderd operator CLI
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/paperhtml/renderd/internal/app"
	"github.com/paperhtml/renderd/internal/config"
	"github.com/paperhtml/renderd/internal/logger"
	"github.com/paperhtml/renderd/pkg/api/v1/client"
	"github.com/paperhtml/renderd/pkg/api/v1/routes"
)

// flag names
const (
	flagServerAddress = "server-address"
)

// environment variable names
const (
	envServerAddress = "RENDERD_SERVER_ADDRESS"
)

var (
	// clientInstance is the shared API client, created on first use
	clientInstance client.Client
	// serverAddress holds the target API server address. Flag parsing sets this.
	serverAddress string
)

// openApp connects to the database and backends for the maintenance
// commands. Tests replace it.
var openApp = func(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger.Configure(cfg.LogLevel)
	return app.New(ctx, cfg)
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&serverAddress, flagServerAddress, "s", routes.DefaultBaseURL, "Address of the renderd API server (env: RENDERD_SERVER_ADDRESS)")

	RootCmd.AddCommand(GetRenderCmd())
	RootCmd.AddCommand(GetStateCmd())
	RootCmd.AddCommand(GetMaintenanceCmds()...)
	RootCmd.AddCommand(GetBulkRenderCmd())
}

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "renderd",
	Short: "renderd CLI - operate the document render service",
	Long: `renderd CLI starts renders through the API and runs the maintenance jobs
(reconciliation, expiry, sweeping, bulk renders) directly against the database.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return RootCmd.Execute()
}

// getAPIClient returns the API client, creating it if necessary
func getAPIClient(cmd *cobra.Command) (client.Client, error) {
	if clientInstance != nil {
		return clientInstance, nil
	}

	address := serverAddress
	if f := cmd.Flag(flagServerAddress); f != nil {
		address = f.Value.String()
		if !f.Changed {
			if envAddr := os.Getenv(envServerAddress); envAddr != "" {
				address = envAddr
			}
		}
	}
	if address == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}

	opts := client.DefaultOptions()
	opts.BaseURL = address
	c, err := client.NewClient(opts)
	if err != nil {
		return nil, err
	}
	clientInstance = c
	return c, nil
}

// withApp opens the app, runs fn and closes the app again
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := openApp(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warnf("Failed to close connections: %v", err)
		}
	}()

	return fn(ctx, a)
}

// printJSON writes v as indented JSON to the command output
func printJSON(cmd *cobra.Command, v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("error formatting output: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return err
}
