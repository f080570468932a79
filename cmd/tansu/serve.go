package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/erazemk/tansu/internal/api"
	"github.com/erazemk/tansu/internal/auth"
	"github.com/erazemk/tansu/internal/metrics"
	"github.com/erazemk/tansu/internal/store"
	"github.com/erazemk/tansu/internal/tenant"
	"github.com/erazemk/tansu/internal/throttle"
	"github.com/erazemk/tansu/internal/workflow"
)

func newServeCmd(c *cli) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				c.cfg.Addr = addr
			}
			return c.serve(cmd.Context())
		},
	}
	cmd.Flags().StringVarP(&addr, "addr", "a", "", "listen address (overrides TANSU_ADDR)")
	return cmd
}

func (c *cli) serve(ctx context.Context) error {
	cfg := c.cfg
	database, err := c.openDB()
	if err != nil {
		return err
	}
	defer database.Close()
	slog.Info("database ready", "path", cfg.DBPath)

	sessionSecret, err := secret(ctx, cfg.SessionSecret, database, store.SettingSessionSecret)
	if err != nil {
		return err
	}
	rememberSecret, err := secret(ctx, cfg.RememberSecret, database, store.SettingRememberSecret)
	if err != nil {
		return err
	}

	pins := auth.NewPINVerifier(store.Identities{DB: database}, cfg.BcryptCost, nil)
	handler := api.NewRouter(api.Deps{
		DB:       database,
		Sessions: auth.NewSessionIssuer(sessionSecret, nil),
		Remember: auth.NewRememberIssuer(rememberSecret, nil),
		PINs:     pins,
		Throttle: throttle.New(nil),
		Workflow: workflow.NewEngine(store.Items{DB: database}, nil),
		Metrics:  metrics.New(),
		Resolver: tenant.Resolver{
			BaseDomain:    cfg.BaseDomain,
			AllowOverride: !cfg.Production(),
		},
		CookieSecure: cfg.CookieSecure,
		TrustProxy:   cfg.TrustProxy,
		BcryptCost:   cfg.BcryptCost,
	})

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server started", "addr", cfg.Addr, "env", cfg.Env, "base_domain", cfg.BaseDomain)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server forced to shutdown", "error", err)
		}
	}

	pins.Wait()
	slog.Info("server stopped, closing database")
	return nil
}

// secret returns configured, or the secret stored under key (generated on
// first use) when nothing is configured.
func secret(ctx context.Context, configured string, database *sql.DB, key string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	s, err := store.GetSecret(ctx, database, key)
	if err != nil {
		return "", fmt.Errorf("loading %s: %w", key, err)
	}
	return s, nil
}
