package main

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/aretw0/caretree/internal/cli"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile the offline queue with the server",
	Long: `Sends every queued offline session to the server and removes the items it
persisted or already knew. Rejected items are reported and dropped; items the
server could not process stay queued. With --refresh, the listed protocols are
re-cached first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		stringFlag(cmd, "operator", &cfg.Offline.OperatorID)
		stringFlag(cmd, "server", &cfg.Offline.Server)
		if cfg.Offline.Server == "" {
			return errors.New("no server configured (flag --server or offline.server)")
		}

		stack, err := cli.OpenOffline(cfg, logger)
		if err != nil {
			return err
		}
		ctx := cli.NewSignalContext(context.Background())
		defer ctx.Cancel()
		defer stack.Close(ctx)

		refresh, _ := cmd.Flags().GetStringSlice("refresh")
		if err := stack.Cache.Refresh(ctx, stack.Upstream, refresh...); err != nil {
			logger.Warn("protocol refresh incomplete", "err", err)
		}

		res, err := stack.Syncer.Drain(ctx)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().String("operator", "", "Operator owning the queue (overrides offline.operator_id)")
	syncCmd.Flags().String("server", "", "Server URL (overrides offline.server)")
	syncCmd.Flags().StringSlice("refresh", nil, "Protocol IDs to re-cache before syncing")
}
