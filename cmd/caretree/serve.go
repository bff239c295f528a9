package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/aretw0/caretree/internal/cli"
	httpadapter "github.com/aretw0/caretree/pkg/adapters/http"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the triage HTTP server",
	Long: `Serves the triage session API and the bulk reconciliation endpoint used by
offline replicas. Protocol versions are loaded from store.protocol_dir.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		stringFlag(cmd, "addr", &cfg.Server.Addr)
		stringFlag(cmd, "backend", &cfg.Store.Backend)
		stringFlag(cmd, "protocols", &cfg.Store.ProtocolDir)

		stack, err := cli.BuildServer(cfg, logger)
		if err != nil {
			return err
		}
		defer stack.Close()

		opts := []httpadapter.Option{httpadapter.WithLogger(logger)}
		if cfg.Server.Metrics {
			opts = append(opts, httpadapter.WithMetrics(stack.Metrics.Handler()))
		}
		handler, err := httpadapter.NewHandler(stack.Sessions, stack.Reconciler, stack.Versions, opts...)
		if err != nil {
			return err
		}

		srv := &http.Server{
			Addr:         cfg.Server.Addr,
			Handler:      handler,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}

		ctx := cli.NewSignalContext(context.Background())
		defer ctx.Cancel()

		serverErrors := make(chan error, 1)
		go func() {
			logger.Info("CareTree server listening", "address", srv.Addr, "backend", cfg.Store.Backend)
			serverErrors <- srv.ListenAndServe()
		}()

		select {
		case err := <-serverErrors:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("server error: %w", err)
		case <-ctx.Done():
			logger.Info("Start shutdown", "signal", ctx.Signal())
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("Graceful shutdown did not complete", "timeout", cfg.Server.ShutdownTimeout, "err", err)
				return srv.Close()
			}
			logger.Info("CareTree server stopped gracefully")
			return nil
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Listen address (overrides server.addr)")
	serveCmd.Flags().String("backend", "", "Session store: memory, file or redis (overrides store.backend)")
	serveCmd.Flags().String("protocols", "", "Protocol version directory (overrides store.protocol_dir)")
}
