// Package recorder persists run history to MySQL. The schema is created
// lazily on first write so a fresh database needs no provisioning step.
package recorder

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/vk/opcflow/internal/controller"
	"github.com/vk/opcflow/internal/ctxlog"
)

const createRunsTable = `
CREATE TABLE IF NOT EXISTS runs (
	run_id      VARCHAR(36)  NOT NULL PRIMARY KEY,
	workflow    VARCHAR(255) NOT NULL,
	mode        VARCHAR(32)  NOT NULL,
	status      VARCHAR(32)  NOT NULL,
	error       TEXT,
	started_at  DATETIME(3)  NOT NULL,
	finished_at DATETIME(3)  NULL
)`

const createNodesTable = `
CREATE TABLE IF NOT EXISTS run_nodes (
	id          BIGINT       NOT NULL AUTO_INCREMENT PRIMARY KEY,
	run_id      VARCHAR(36)  NOT NULL,
	node_id     VARCHAR(255) NOT NULL,
	node_type   VARCHAR(64)  NOT NULL,
	status      VARCHAR(32)  NOT NULL,
	attempt     INT          NOT NULL,
	duration_ms BIGINT       NOT NULL,
	error       TEXT,
	finished_at DATETIME(3)  NOT NULL,
	INDEX idx_run_nodes_run (run_id)
)`

// RunRecord is one row of run history.
type RunRecord struct {
	RunID      string
	Workflow   string
	Mode       string
	Status     string
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// NodeRecord is one terminal node execution within a run.
type NodeRecord struct {
	RunID      string
	Node       string
	Type       string
	Status     string
	Attempt    int
	Duration   time.Duration
	Error      string
	FinishedAt time.Time
}

// Recorder writes run history rows. Safe for concurrent use.
type Recorder struct {
	db *sql.DB

	once    sync.Once
	initErr error
}

// Open prepares a recorder for the given MySQL DSN. The connection and
// schema are established lazily on first write.
func Open(dsn string) (*Recorder, error) {
	if dsn == "" {
		return nil, errors.New("recorder: empty DSN")
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("recorder: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(time.Minute)
	return &Recorder{db: db}, nil
}

// Close releases the connection pool.
func (r *Recorder) Close() error { return r.db.Close() }

func (r *Recorder) ensureSchema(ctx context.Context) error {
	r.once.Do(func() {
		for _, ddl := range []string{createRunsTable, createNodesTable} {
			if _, err := r.db.ExecContext(ctx, ddl); err != nil {
				r.initErr = fmt.Errorf("recorder: creating schema: %w", err)
				return
			}
		}
	})
	return r.initErr
}

// BeginRun inserts the run row in its running state.
func (r *Recorder) BeginRun(ctx context.Context, rec RunRecord) error {
	if err := r.ensureSchema(ctx); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, workflow, mode, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		rec.RunID, rec.Workflow, rec.Mode, rec.Status, rec.StartedAt)
	if err != nil {
		return fmt.Errorf("recorder: inserting run %s: %w", rec.RunID, err)
	}
	return nil
}

// FinishRun updates the run row with its terminal status.
func (r *Recorder) FinishRun(ctx context.Context, rec RunRecord) error {
	if err := r.ensureSchema(ctx); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE run_id = ?`,
		rec.Status, nullable(rec.Error), rec.FinishedAt, rec.RunID)
	if err != nil {
		return fmt.Errorf("recorder: finishing run %s: %w", rec.RunID, err)
	}
	return nil
}

// RecordNode appends one terminal node execution.
func (r *Recorder) RecordNode(ctx context.Context, rec NodeRecord) error {
	if err := r.ensureSchema(ctx); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO run_nodes (run_id, node_id, node_type, status, attempt, duration_ms, error, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.Node, rec.Type, rec.Status, rec.Attempt, rec.Duration.Milliseconds(),
		nullable(rec.Error), rec.FinishedAt)
	if err != nil {
		return fmt.Errorf("recorder: recording node %s/%s: %w", rec.RunID, rec.Node, err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Watch consumes a run's event stream and persists it. Blocks until the
// stream closes; storage failures are logged and do not disturb the run.
func (r *Recorder) Watch(ctx context.Context, workflow, mode string, run *controller.Run) {
	logger := ctxlog.FromContext(ctx).With("run", run.ID)
	started := time.Now()
	if err := r.BeginRun(ctx, RunRecord{
		RunID: run.ID, Workflow: workflow, Mode: mode,
		Status: controller.RunRunning.String(), StartedAt: started,
	}); err != nil {
		logger.Warn("Run history write failed.", "error", err)
	}

	for ev := range run.Events() {
		switch ev.Kind {
		case controller.NodeFinished:
			rec := NodeEventRecord(run.ID, ev)
			if err := r.RecordNode(ctx, rec); err != nil {
				logger.Warn("Node history write failed.", "node", ev.Node, "error", err)
			}
		case controller.RunFinished:
			rec := RunRecord{
				RunID: run.ID, Workflow: workflow, Mode: mode,
				Status: ev.RunStatus.String(), StartedAt: started, FinishedAt: ev.Time,
			}
			if ev.Err != nil {
				rec.Error = ev.Err.Error()
			}
			if err := r.FinishRun(ctx, rec); err != nil {
				logger.Warn("Run history write failed.", "error", err)
			}
		}
	}
}

// NodeEventRecord maps a node_finished event to its history row.
func NodeEventRecord(runID string, ev controller.Event) NodeRecord {
	rec := NodeRecord{
		RunID:      runID,
		Node:       ev.Node,
		Type:       ev.NodeType,
		Status:     ev.Status.String(),
		Attempt:    ev.Attempt,
		Duration:   ev.Duration,
		FinishedAt: ev.Time,
	}
	if ev.Err != nil {
		rec.Error = ev.Err.Error()
	}
	return rec
}
