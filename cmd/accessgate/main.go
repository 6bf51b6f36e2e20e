// Command accessgate verifies identity-broker tokens for internal services.
//
// It keeps the broker's current verification key cached, refreshing it in the
// background, and answers GET /verify/{aud} with the token's claims or 401.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/deepworx/accessgate/pkg/config"
	"github.com/deepworx/accessgate/pkg/health"
	"github.com/deepworx/accessgate/pkg/keycell"
	"github.com/deepworx/accessgate/pkg/otel"
	"github.com/deepworx/accessgate/pkg/rotator"
	"github.com/deepworx/accessgate/pkg/shutdown"
	"github.com/deepworx/accessgate/pkg/slogutil"
	"github.com/deepworx/accessgate/pkg/validator"
	"github.com/deepworx/accessgate/pkg/verifyhttp"
)

const loggerName = "github.com/deepworx/accessgate"

func main() {
	configPath := flag.String("config", config.PathFromEnv(), "path to a TOML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("accessgate stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx := context.Background()
	group := shutdown.NewGroup(cfg.Server.ShutdownTimeout)

	providers, err := otel.Setup(ctx, cfg.Telemetry, group)
	if err != nil {
		return err
	}
	if err := slogutil.Setup(cfg.Log, providers.LogHandler(loggerName)); err != nil {
		return err
	}

	cell := keycell.New(keycell.Options{ValidityWindow: cfg.Rotation.ValidityWindow})
	if err := keycell.RegisterMetrics(cell); err != nil {
		return err
	}

	fetcher, err := rotator.NewCertsFetcher(cfg.Broker.Domain, cfg.Broker.HTTPTimeout)
	if err != nil {
		return err
	}
	rot, err := rotator.New(cell, fetcher, cfg.Rotation.Rotator())
	if err != nil {
		return err
	}

	v, err := validator.New(cell, validator.Config{
		Issuer: cfg.Broker.Domain,
		Leeway: cfg.Validation.Leeway,
	})
	if err != nil {
		return err
	}

	monitor := health.NewMonitor(cfg.Health)
	if err := monitor.Register("keycell", keycell.NewHealthChecker(cell)); err != nil {
		return err
	}

	handler, err := verifyhttp.NewHandler(v, cfg.Broker.TokenHeader)
	if err != nil {
		return err
	}
	router, err := verifyhttp.NewRouter(handler, verifyhttp.WithHealth(monitor))
	if err != nil {
		return err
	}

	// Background workers stop after the HTTP server has drained.
	bgCtx, stopBackground := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Go(func() {
		if err := rot.Run(bgCtx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("rotator stopped", slog.String("error", err.Error()))
		}
	})
	wg.Go(func() {
		_ = monitor.Run(bgCtx)
	})
	group.Register("background", func(ctx context.Context) error {
		stopBackground()
		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveCtx, serveFailed := context.WithCancelCause(ctx)
	defer serveFailed(nil)
	go func() {
		slog.Info("accessgate listening",
			slog.String("addr", srv.Addr),
			slog.String("broker", cfg.Broker.Domain),
			slog.String("certs_url", fetcher.URL()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveFailed(fmt.Errorf("serve http: %w", err))
		}
	}()
	group.Register("http", srv.Shutdown)

	shutdownErr := group.WaitForSignal(serveCtx)
	if cause := context.Cause(serveCtx); cause != nil && !errors.Is(cause, context.Canceled) {
		return errors.Join(cause, shutdownErr)
	}
	if shutdownErr != nil {
		return shutdownErr
	}

	slog.Info("accessgate stopped cleanly")
	return nil
}
