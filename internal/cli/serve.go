package cli

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	web "fitsync/internal/adapters/http"
	"fitsync/internal/adapters/http/middleware"
	"fitsync/internal/config"
)

// shutdownTimeout bounds graceful shutdown of the HTTP server.
const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *rootOptions, version string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the local API and background sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, version)
		},
	}
}

// csrfKey returns the configured key, or a random one outside production.
func csrfKey(cfg *config.Config) ([]byte, error) {
	if key := cfg.CSRFKeyBytes(); key != nil {
		return key, nil
	}
	if cfg.Production() {
		return nil, errors.New("server.csrf_key is required in production")
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate csrf key: %w", err)
	}
	slog.Warn("csrf_key_random", "detail", "set server.csrf_key so form sessions survive a restart")
	return key, nil
}

func runServe(ctx context.Context, cfg *config.Config, version string) error {
	key, err := csrfKey(cfg)
	if err != nil {
		return err
	}

	rt, err := openRuntime(ctx, cfg, runtimeOptions{metrics: true})
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.svc.Init(ctx); err != nil {
		return fmt.Errorf("start offline service: %w", err)
	}

	web.RateLimitPerSecond = cfg.Server.RateLimit
	handler := web.NewMux(web.Deps{
		Service:        rt.svc,
		Portal:         rt.client,
		Verifier:       middleware.NewTokenVerifier(cfg.Auth.MemberTokenHash, cfg.Auth.AdminTokenHash, middleware.NewSessionStore()),
		Collector:      rt.collector,
		CSRFKey:        key,
		TrustedOrigins: cfg.Server.TrustedOrigins,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server_starting",
			"version", version,
			"addr", cfg.Server.Addr,
			"env", cfg.Server.Env,
			"storage", cfg.Storage.Driver,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("server_stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
