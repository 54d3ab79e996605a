// Package app wires the engine's pieces into a runnable application:
// logger, node registry, session manager, controller, metrics and the
// optional run history recorder.
package app

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vk/opcflow/internal/controller"
	"github.com/vk/opcflow/internal/engine"
	"github.com/vk/opcflow/internal/opc"
	"github.com/vk/opcflow/internal/recorder"
	"github.com/vk/opcflow/internal/registry"
	"github.com/vk/opcflow/modules"
)

// App encapsulates the application's dependencies, configuration and
// lifecycle.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	registry *registry.Registry
	sessions *opc.Manager
	metrics  *engine.Metrics
	promReg  *prometheus.Registry
	ctrl     *controller.Controller
	history  *recorder.Recorder

	httpServer *http.Server
}

// Option overrides a dependency, primarily for tests.
type Option func(*App)

// WithDialer swaps the OPC-UA transport dialer.
func WithDialer(dial opc.Dialer) Option {
	return func(a *App) { a.sessions = opc.NewManager(dial) }
}

// New is the constructor for the main application. It returns a fully
// initialized App instance, including its own isolated logger and registry.
func New(outW io.Writer, cfg *Config, opts ...Option) (*App, error) {
	logger := buildLogger(cfg.LogLevel, cfg.LogFormat, outW)
	logger.Debug("Logger configured successfully.")

	reg := registry.New()
	modules.RegisterAll(reg)
	logger.Debug("All node modules registered.", "types", len(reg.Types()))

	promReg := prometheus.NewRegistry()
	metrics := engine.NewMetrics(promReg)

	a := &App{
		outW:     outW,
		logger:   logger,
		registry: reg,
		sessions: opc.NewManager(opc.Dial),
		metrics:  metrics,
		promReg:  promReg,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.ctrl = controller.New(reg, a.sessions, controller.WithMetrics(metrics))

	if cfg.MySQLDSN != "" {
		hist, err := recorder.Open(cfg.MySQLDSN)
		if err != nil {
			return nil, err
		}
		a.history = hist
		logger.Debug("Run history recorder configured.")
	}
	return a, nil
}

// Registry returns the application's registry. This is primarily for testing.
func (a *App) Registry() *registry.Registry {
	return a.registry
}

// Controller returns the run controller. This is primarily for testing.
func (a *App) Controller() *controller.Controller {
	return a.ctrl
}
