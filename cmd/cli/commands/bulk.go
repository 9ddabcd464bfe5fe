package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/paperhtml/renderd/internal/app"
	"github.com/paperhtml/renderd/internal/services"
)

const (
	flagIDsFile      = "ids-file"
	flagOutputPrefix = "output-prefix"
	flagConcurrency  = "concurrency"
	flagStagger      = "stagger"
	flagWaitTimeout  = "wait-timeout"
)

// bulkOutput is printed by the bulk-render command
type bulkOutput struct {
	Requested int                      `json:"requested"`
	Rendered  int                      `json:"rendered"`
	Manifest  []services.ManifestEntry `json:"manifest"`
}

// GetBulkRenderCmd returns the bulk-render command
func GetBulkRenderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bulk-render",
		Short: "Render many documents outside the render lifecycle and write a manifest",
		Long: `Reads external document ids (one per line) from a file in output storage,
renders every renderable one under the output prefix and writes manifest.json
next to the outputs.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			idsFile, _ := cmd.Flags().GetString(flagIDsFile)
			opts := services.BulkOptions{}
			opts.OutputPrefix, _ = cmd.Flags().GetString(flagOutputPrefix)
			opts.Concurrency, _ = cmd.Flags().GetInt(flagConcurrency)
			opts.Stagger, _ = cmd.Flags().GetDuration(flagStagger)
			opts.WaitTimeout, _ = cmd.Flags().GetDuration(flagWaitTimeout)

			opts.OutputPrefix = strings.Trim(opts.OutputPrefix, "/")
			if opts.OutputPrefix == "" {
				return fmt.Errorf("--%s cannot be empty", flagOutputPrefix)
			}
			if opts.Concurrency < 1 {
				return fmt.Errorf("--%s must be at least 1", flagConcurrency)
			}

			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				ids, err := a.Bulk.ReadIDs(ctx, idsFile)
				if err != nil {
					return fmt.Errorf("failed to read ids: %w", err)
				}
				manifest, err := a.Bulk.Render(ctx, ids, opts)
				if err != nil {
					return fmt.Errorf("bulk render failed: %w", err)
				}
				return printJSON(cmd, bulkOutput{
					Requested: len(ids),
					Rendered:  len(manifest),
					Manifest:  manifest,
				})
			})
		},
	}

	cmd.Flags().String(flagIDsFile, "", "Storage key of the file listing external document ids")
	cmd.Flags().String(flagOutputPrefix, "", "Storage prefix outputs and the manifest are written under")
	cmd.Flags().Int(flagConcurrency, services.DefaultBulkConcurrency, "Number of renders running at once")
	cmd.Flags().Duration(flagStagger, services.DefaultBulkStagger, "Minimum delay between two job starts")
	cmd.Flags().Duration(flagWaitTimeout, services.DefaultBulkWaitTimeout, "Give up on a single job after this long")
	_ = cmd.MarkFlagRequired(flagIDsFile)
	_ = cmd.MarkFlagRequired(flagOutputPrefix)

	return cmd
}
