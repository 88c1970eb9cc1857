package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aqual-ai/aqual-gateway/internal/dotenv"
	"github.com/aqual-ai/aqual-gateway/pkg/core/realtime"
	"github.com/aqual-ai/aqual-gateway/pkg/core/realtime/gemini"
	"github.com/aqual-ai/aqual-gateway/pkg/gateway/config"
	"github.com/aqual-ai/aqual-gateway/pkg/gateway/live/sessions"
	gatewayserver "github.com/aqual-ai/aqual-gateway/pkg/gateway/server"
)

type gatewayDeps struct {
	loadConfig   func() (config.Config, error)
	newDialer    func(ctx context.Context, apiKey string) (realtime.Dialer, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultGatewayDeps() gatewayDeps {
	return gatewayDeps{
		loadConfig: config.LoadFromEnv,
		newDialer: func(ctx context.Context, apiKey string) (realtime.Dialer, error) {
			return gemini.NewDialer(ctx, apiKey)
		},
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func runGateway(ctx context.Context, logger *slog.Logger, deps gatewayDeps) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.newDialer == nil {
		return errors.New("missing newDialer dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var dialer realtime.Dialer
	if cfg.GeminiAPIKey != "" {
		dialer, err = deps.newDialer(ctx, cfg.GeminiAPIKey)
		if err != nil {
			return fmt.Errorf("create gemini dialer: %w", err)
		}
	} else {
		logger.Warn("GEMINI_API_KEY is not set, voice endpoints disabled")
	}

	slots := sessions.NewRegistry()
	gw, err := gatewayserver.New(cfg, logger, dialer, slots)
	if err != nil {
		return fmt.Errorf("build gateway: %w", err)
	}
	httpSrv := buildHTTPServer(cfg, gw.Handler())

	logger.Info("starting gateway", "addr", cfg.Addr, "live_model", cfg.LiveModel)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	if n := slots.CancelAll(); n > 0 {
		logger.Info("canceling live sessions", "count", n)
	}
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer waitCancel()
	if !slots.Wait(waitCtx) {
		logger.Warn("live sessions did not drain in time")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("gateway stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps gatewayDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := dotenv.Load(".env"); err != nil {
		fmt.Fprintf(stderr, "aqual-gateway: %v\n", err)
		return 1
	}

	if err := runGateway(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "aqual-gateway: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultGatewayDeps()))
}
