package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// startObservabilityServer exposes /healthz and /metrics.
func (a *App) startObservabilityServer(ctx context.Context, port int) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		a.logger.Debug("Health check endpoint hit.", "remote_addr", r.RemoteAddr)
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "OK")
	})
	mux.Handle("/metrics", promhttp.HandlerFor(a.promReg, promhttp.HandlerOpts{}))

	addr := fmt.Sprintf(":%d", port)
	a.httpServer = &http.Server{Addr: addr, Handler: mux}

	go func() {
		a.logger.Info("🩺 Observability server starting", "address", fmt.Sprintf("http://localhost%s", addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("Observability server failed unexpectedly", "error", err)
		}
	}()
}

func (a *App) closeObservabilityServer(ctx context.Context) {
	if a.httpServer == nil {
		return
	}
	shutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	a.logger.Info("🩺 Shutting down observability server...")
	if err := a.httpServer.Shutdown(shutCtx); err != nil {
		a.logger.Error("Observability server shutdown failed", "error", err)
	}
	a.httpServer = nil
}
