package main

import (
	"context"
	"os"

	"github.com/aretw0/caretree/internal/cli"
	"github.com/aretw0/caretree/internal/presentation/tui"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run <protocol-id>",
	Short: "Run a triage session on the offline replica",
	Long: `Runs one interactive triage session on the local replica. The protocol comes
from the local cache, refreshed from --server when it is reachable. Answer each
question on its own line; ":back" undoes the last answer and "quit" abandons the
session. Finished and abandoned sessions are queued for reconciliation.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		stringFlag(cmd, "operator", &cfg.Offline.OperatorID)
		stringFlag(cmd, "server", &cfg.Offline.Server)
		stringFlag(cmd, "protocols", &cfg.Store.ProtocolDir)
		protocolID := args[0]

		stack, err := cli.OpenOffline(cfg, logger)
		if err != nil {
			return err
		}
		ctx := cli.NewSignalContext(context.Background())
		defer ctx.Cancel()
		defer func() {
			if err := stack.Close(context.Background()); err != nil {
				logger.Error("failed to close replica", "err", err)
			}
		}()

		if stack.Upstream != nil {
			if err := stack.Cache.Refresh(ctx, stack.Upstream, protocolID); err != nil {
				logger.Warn("working offline with the cached protocol", "err", err)
			}
		} else if len(stack.Cache.Protocols()) == 0 {
			n, err := cli.SeedCache(ctx, stack.Cache, cfg.Store)
			if err != nil {
				return err
			}
			logger.Info("protocol cache seeded", "dir", cfg.Store.ProtocolDir, "versions", n)
		}

		interactive := tui.IsTerminal(os.Stdout)
		opts := cli.SessionOptions{
			In:     os.Stdin,
			Out:    os.Stdout,
			Render: tui.PlainRenderer,
			Color:  interactive,
		}
		if interactive {
			opts.Render = tui.NewRenderer()
		}

		res, err := cli.RunSession(ctx, stack.Replica, protocolID, opts)
		if err != nil && !cli.IsInterrupted(err) {
			return err
		}
		logger.Debug("session ended", "session_id", res.Result.SessionID, "status", res.Result.Status, "abandoned", res.Abandoned)

		if stack.Syncer != nil {
			if _, drain, err := stack.Syncer.Trigger(context.Background()); err != nil {
				logger.Warn("queued sessions kept for a later sync", "err", err)
			} else if drain.Sent > 0 {
				logger.Info("queue synced", "persisted", drain.Persisted, "duplicates", drain.Duplicates, "rejected", len(drain.Rejected))
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().String("operator", "", "Operator running the session (overrides offline.operator_id)")
	runCmd.Flags().String("server", "", "Server to refresh protocols from and sync to (overrides offline.server)")
	runCmd.Flags().String("protocols", "", "Local protocol directory used to seed an empty cache")
}
