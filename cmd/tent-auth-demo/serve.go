package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tent/tent-go/auth"
	"github.com/tent/tent-go/util"
	"github.com/tent/tent-go/util/cliutil"
	"github.com/tent/tent-go/util/ssrf"

	"github.com/urfave/cli/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func runServe(cctx *cli.Context) error {
	ctx, cancel := context.WithCancel(cctx.Context)
	defer cancel()
	logger := slog.Default().With("system", "tent-auth-demo")

	shutdownOTEL, err := cliutil.SetupOTEL(ctx, cctx.String("otel-exporter-otlp-endpoint"), "tent-auth-demo", cctx.String("env"))
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	defer func() {
		if err := shutdownOTEL(context.Background()); err != nil {
			logger.Error("failed to flush traces", "err", err)
		}
	}()

	app := auth.AppAttributes{
		Name:      cctx.String("app-name"),
		URL:       cctx.String("public-url"),
		ReadTypes: cctx.StringSlice("read-types"),
		Scopes:    cctx.StringSlice("scopes"),
	}
	if p := cctx.String("app-icon"); p != "" {
		app.Icon = &auth.Icon{Path: p}
	}

	srv, err := NewServer(Config{
		PublicURL:      cctx.String("public-url"),
		SessionSecret:  cctx.String("session-secret"),
		SessionBackend: cctx.String("session-backend"),
		RedisURL:       cctx.String("redis-url"),
		DatabaseURL:    cctx.String("database-url"),
		App:            app,
		StateTTL:       cctx.Duration("state-ttl"),
		HTTPClient:     tentHTTPClient(cctx, logger),
	}, logger)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(cctx.String("bind"))
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// Client for outbound requests to Tent servers. Entity URIs come from users, so by default
// connections to private networks are refused.
func tentHTTPClient(cctx *cli.Context, logger *slog.Logger) *http.Client {
	var transport http.RoundTripper = http.DefaultTransport
	if cctx.Bool("public-only") {
		transport = ssrf.PublicOnlyTransport()
	}

	var hc *http.Client
	if cctx.Bool("http-retries") {
		hc = util.RobustHTTPClient(logger, transport)
	} else {
		hc = &http.Client{Transport: transport}
	}
	hc.Timeout = cctx.Duration("http-timeout")
	hc.Transport = otelhttp.NewTransport(hc.Transport)
	return hc
}
