package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/vk/opcflow/internal/controller"
	"github.com/vk/opcflow/internal/ctxlog"
	"github.com/vk/opcflow/internal/flowfile"
	"github.com/vk/opcflow/internal/graph"
)

// stopGrace bounds how long a cancelled run may take to wind down.
const stopGrace = 10 * time.Second

// Run executes the configured workflow path. A directory runs every flow
// file underneath it in sequence; continuous mode requires a single file.
func (a *App) Run(ctx context.Context, cfg *Config) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	if cfg.MetricsPort > 0 {
		a.startObservabilityServer(ctx, cfg.MetricsPort)
		defer a.closeObservabilityServer(ctx)
	}
	defer a.shutdown(ctx)

	paths, err := a.resolveFlowPaths(cfg)
	if err != nil {
		return err
	}

	for _, path := range paths {
		name, g, err := flowfile.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load workflow %s: %w", path, err)
		}
		if name == "" {
			name = path
		}
		a.logger.Info("🧩 Workflow loaded.", "workflow", name, "nodes", len(g.Nodes()))

		if err := a.runWorkflow(ctx, cfg, name, g); err != nil {
			return err
		}
	}
	a.logger.Debug("App.Run method finished.")
	return nil
}

func (a *App) resolveFlowPaths(cfg *Config) ([]string, error) {
	info, err := os.Stat(cfg.FlowPath)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{cfg.FlowPath}, nil
	}
	if cfg.Mode == "continuous" {
		return nil, fmt.Errorf("continuous mode requires a single workflow file, got directory %s", cfg.FlowPath)
	}
	paths, err := flowfile.Discover(cfg.FlowPath)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no workflow files found under %s", cfg.FlowPath)
	}
	return paths, nil
}

func (a *App) runWorkflow(ctx context.Context, cfg *Config, name string, g *graph.Graph) error {
	opts := controller.Options{Workers: cfg.Workers}
	if cfg.Mode == "continuous" {
		opts.Mode = controller.Continuous
		opts.Interval = cfg.Interval
	}

	run, err := a.ctrl.Start(ctx, g, opts)
	if err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}

	if a.history != nil {
		go a.history.Watch(ctx, name, modeString(opts.Mode), run)
	}

	status, err := run.Wait(ctx)
	if err != nil {
		// The caller's context was cancelled: wind the run down gracefully.
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopGrace)
		defer cancel()
		if serr := run.Stop(stopCtx); serr != nil {
			return serr
		}
		status = run.Status()
	}

	switch status {
	case controller.RunFailed:
		return fmt.Errorf("run %s failed: %w", run.ID, run.Err())
	case controller.RunStopped:
		a.logger.Info("🛑 Run stopped.", "run", run.ID)
	default:
		a.logger.Info("🏁 Run finished.", "run", run.ID, "status", status.String())
	}
	return nil
}

func modeString(m controller.Mode) string {
	if m == controller.Continuous {
		return "continuous"
	}
	return "single"
}

func (a *App) shutdown(ctx context.Context) {
	a.sessions.Close(ctx)
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			a.logger.Warn("Closing run history failed.", "error", err)
		}
	}
}
