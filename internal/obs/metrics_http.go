package obs

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// BootstrapMetricsServer serves metrics on /metrics and health on /healthz
// from a background goroutine.
func BootstrapMetricsServer(addr string, metrics http.Handler, health func(context.Context) error, l *zap.Logger) *http.Server {
	ms := NewMetricsServer(addr, metrics, health)

	go func() {
		l.Info("metrics listening", zap.String("addr", addr))
		if err := ms.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error("metrics server error", zap.Error(err))
		}
	}()

	return ms
}

func NewMetricsServer(addr string, metrics http.Handler, health func(context.Context) error) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      MetricsMux(metrics, health),
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		IdleTimeout:  30 * time.Second,
	}
}

func MetricsMux(metrics http.Handler, health func(context.Context) error) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		defer cancel()
		if err := health(ctx); err != nil {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
