package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/satindergrewal/mixlab/internal/module"
	"github.com/satindergrewal/mixlab/internal/plugin"
	"github.com/satindergrewal/mixlab/internal/project"
	"github.com/satindergrewal/mixlab/internal/server"
	"github.com/satindergrewal/mixlab/internal/stream"
)

const shutdownTimeout = 5 * time.Second

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Open the project and serve it over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.config
			logger := ctx.logger()

			runCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			host := plugin.NewHost(plugin.UnavailableLoader, logger)
			defer host.Close()

			// Monitor bus: fan-out of monitor module output to listeners
			bus := stream.NewMonitorBus()
			go bus.Run(runCtx)

			p, err := project.OpenOrCreate(runCtx, cfg.ProjectDir, project.Options{
				Logger:      logger,
				EventBuffer: cfg.EventBuffer,
				Env: module.Env{
					Host:    host,
					VstPath: cfg.VstPath,
					Monitor: bus,
				},
			})
			if err != nil {
				return fmt.Errorf("open project: %w", err)
			}
			defer p.Close()

			addr := fmt.Sprintf(":%d", cfg.Port)
			srv := &http.Server{Addr: addr, Handler: server.New(p, bus, logger)}

			go func() {
				<-runCtx.Done()
				logger.Info("shutting down")
				shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
				defer done()
				// Streaming handlers never go idle; close them after the grace period.
				if err := srv.Shutdown(shutdownCtx); err != nil {
					_ = srv.Close()
				}
			}()

			logger.Info("mixlab live", slog.String("addr", addr), slog.String("project", cfg.ProjectDir))
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		},
	}
}
