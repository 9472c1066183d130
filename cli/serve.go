package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"rgbdapi/api"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger := ctx.logger

			a, err := buildApp(cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.close(); err != nil {
					logger.Warn("shutdown cleanup failed", "error", err)
				}
			}()

			if !ctx.isDebug() {
				gin.SetMode(gin.ReleaseMode)
			}
			router := api.SetupRouter(a.manager, cfg, a.metrics, logger)
			srv := &http.Server{
				Addr:    ":" + cfg.Port,
				Handler: router,
			}

			sigCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a.manager.Start(sigCtx)

			serveErr := make(chan error, 1)
			go func() {
				logger.Info("server starting", "port", cfg.Port)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
			}()

			select {
			case err := <-serveErr:
				return err
			case <-sigCtx.Done():
			}

			// Restore default behavior on the interrupt signal.
			stop()
			logger.Info("shutting down gracefully, press Ctrl+C again to force")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return err
			}
			logger.Info("server exiting")
			return nil
		},
	}
}
