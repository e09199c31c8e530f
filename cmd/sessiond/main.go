// Command sessiond serves the session endpoints: internal login, cookie
// refresh and logout, and a guarded /auth/me route. Metrics and health are served
// on a separate listener.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/statlane/authsession/internal/config"
	"github.com/statlane/authsession/internal/obs"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", os.Getenv("SESSIOND_CONFIG"), "path to YAML config")
	flag.Parse()

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	logger, err := obs.NewLogger(cfg.Log.AsLoggerConfig(cfg.App))
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting sessiond", zap.String("env", cfg.App.Env), zap.String("ver", cfg.App.Version))

	app, err := bootstrap(rootCtx, cfg, logger)
	if err != nil {
		logger.Fatal("bootstrap", zap.Error(err))
	}
	defer app.Close()

	metricsSrv := obs.BootstrapMetricsServer(cfg.Server.MetricsAddr, app.metrics, app.Health, logger)

	router, err := newRouter(app.auth, app.users, cfg.Auth.InternalToken, cfg.Server.TrustedProxies, logger)
	if err != nil {
		logger.Fatal("router", zap.Error(err))
	}

	httpSrv := &http.Server{
		Addr:         cfg.Server.HTTPAddr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	httpErrCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.Server.HTTPAddr))
		httpErrCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal", zap.String("reason", "context canceled"))
	case err := <-httpErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http serve", zap.Error(err))
		}
	}

	shCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()

	_ = httpSrv.Shutdown(shCtx)
	_ = metricsSrv.Shutdown(shCtx)
	logger.Info("bye")
}
