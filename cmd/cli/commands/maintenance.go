package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/paperhtml/renderd/internal/app"
	"github.com/paperhtml/renderd/internal/services"
)

const (
	flagMaxAge  = "max-age"
	flagStartID = "start"
)

// updateStateOutput is printed by the update-state command
type updateStateOutput struct {
	Reconcile *services.ReconcileReport `json:"reconcile"`
	Expiry    *services.ExpiryReport    `json:"expiry"`
}

// countOutput is printed by commands that only count affected renders
type countOutput struct {
	Count int64 `json:"count"`
}

// GetMaintenanceCmds returns the commands that operate on the database directly
func GetMaintenanceCmds() []*cobra.Command {
	return []*cobra.Command{
		reconcileCmd(),
		updateStateCmd(),
		sweepCmd(),
		expireCmd(),
		forceExpireCmd(),
		deleteExpiredCmd(),
		markFailedDeletedCmd(),
	}
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Sync every unfinished render with its container",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				report, err := a.Reconciler.ReconcileAll(ctx)
				if err != nil {
					return fmt.Errorf("failed to reconcile renders: %w", err)
				}
				return printJSON(cmd, report)
			})
		},
	}
}

func updateStateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update-state",
		Short: "Reconcile unfinished renders, then expire stale ones",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				reconcile, err := a.Reconciler.ReconcileAll(ctx)
				if err != nil {
					return fmt.Errorf("failed to reconcile renders: %w", err)
				}
				expiry, err := a.Expiry.ExpireStale(ctx)
				if err != nil {
					return fmt.Errorf("failed to expire renders: %w", err)
				}
				return printJSON(cmd, updateStateOutput{Reconcile: reconcile, Expiry: expiry})
			})
		},
	}
}

func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Force-remove render containers that have been running too long",
		RunE: func(cmd *cobra.Command, _ []string) error {
			maxAge, _ := cmd.Flags().GetDuration(flagMaxAge)
			if maxAge < 0 {
				return fmt.Errorf("--%s cannot be negative", flagMaxAge)
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				removed, err := a.Reconciler.SweepLongRunning(ctx, maxAge)
				if err != nil {
					return fmt.Errorf("failed to sweep containers: %w", err)
				}
				return printJSON(cmd, countOutput{Count: int64(removed)})
			})
		},
	}
	cmd.Flags().Duration(flagMaxAge, 0, "Remove containers older than this (default: RENDER_SWEEP_AGE)")
	return cmd
}

func expireCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "expire",
		Short: "Mark stale renders expired and purge their outputs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				report, err := a.Expiry.ExpireStale(ctx)
				if err != nil {
					return fmt.Errorf("failed to expire renders: %w", err)
				}
				return printJSON(cmd, report)
			})
		},
	}
}

func forceExpireCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "force-expire",
		Short: "Mark every render expired so documents are rendered again on next access",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				count, err := a.Expiry.ForceExpireAll(ctx)
				if err != nil {
					return fmt.Errorf("failed to expire renders: %w", err)
				}
				return printJSON(cmd, countOutput{Count: count})
			})
		},
	}
}

func deleteExpiredCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete-expired",
		Short: "Delete the outputs of expired renders and mark them deleted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			startID, _ := cmd.Flags().GetUint(flagStartID)
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				report, err := a.Expiry.DeleteExpiredOutputs(ctx, startID)
				if err != nil {
					return fmt.Errorf("failed to delete expired renders: %w", err)
				}
				return printJSON(cmd, report)
			})
		},
	}
	cmd.Flags().Uint(flagStartID, 0, "Resume from this render id")
	return cmd
}

func markFailedDeletedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mark-failed-deleted",
		Short: "Soft-delete failed renders so they are retried on next access",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				count, err := a.Expiry.MarkFailedAsDeleted(ctx)
				if err != nil {
					return fmt.Errorf("failed to mark failed renders deleted: %w", err)
				}
				return printJSON(cmd, countOutput{Count: count})
			})
		},
	}
}
