package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goliatone/go-hooks/bootstrap"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "hooksd",
		Short:        "Outbound webhook delivery service",
		SilenceUsage: true,
	}
	cmd.AddCommand(newServeCmd(), newMigrateCmd())
	return cmd
}

func newServeCmd() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the management API, attempt workers and retry scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			environment, err := loadEnvironment()
			if err != nil {
				return err
			}
			if migrate {
				environment.DBAutoMigrate = true
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, environment)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply schema migrations before serving")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded schema migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			environment, err := loadEnvironment()
			if err != nil {
				return err
			}
			cfg := environment.bootstrapConfig()
			client, err := bootstrap.Open(cfg.Database)
			if err != nil {
				return err
			}
			defer client.Close()
			if err := bootstrap.Migrate(cmd.Context(), client, cfg.Database.Driver); err != nil {
				return err
			}
			logger := newLogger(newLogrus(environment.LogLevel, environment.LogFormat), "hooksd")
			logger.Info("migrations applied", "driver", cfg.Database.Driver)
			return nil
		},
	}
}

func serve(ctx context.Context, environment environment) error {
	base := newLogrus(environment.LogLevel, environment.LogFormat)
	provider := logrusProvider{base: base}
	logger := provider.GetLogger("hooksd")

	rt, err := bootstrap.Build(ctx, environment.bootstrapConfig(),
		bootstrap.WithLoggerProvider(provider),
	)
	if err != nil {
		return fmt.Errorf("hooksd: build runtime: %w", err)
	}
	if err := rt.Start(ctx); err != nil {
		_ = rt.Close(context.Background())
		return fmt.Errorf("hooksd: start runtime: %w", err)
	}

	server := &http.Server{
		Addr:              environment.ListenAddr,
		Handler:           rt.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("hooksd listening", "addr", environment.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			logger.Error("http server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), environment.ShutdownTimeout)
	defer cancel()
	logger.Info("hooksd shutting down")
	return errors.Join(server.Shutdown(shutdownCtx), rt.Close(shutdownCtx))
}
