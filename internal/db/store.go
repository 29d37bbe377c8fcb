package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Run statuses.
const (
	RunRunning        = "running"
	RunCompleted      = "completed"
	RunStalled        = "stalled"
	RunBudgetExceeded = "budget_exceeded"
	RunViolation      = "violation"
	RunFailed         = "failed"
	RunInterrupted    = "interrupted"
)

// Store provides persistence for runs, steps and events.
type Store struct {
	db *sql.DB
}

// NewStore creates a store for run/step persistence.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// RunRecord is a row of the runs table.
type RunRecord struct {
	RunID        string
	CreatedAt    string
	Issue        string
	Workflow     string
	Status       string
	Iteration    int
	CurrentPhase string
	Verdict      string
	StateDir     string
}

// StepRecord represents one executed phase.
type StepRecord struct {
	RunID     string
	StepIndex int
	Phase     string
	PhaseType string
	Iteration int
	Status    string
	ExitCode  *int
	NextPhase string
	StartedAt string
	EndedAt   string
	Summary   string
}

// Update contains updates for a run record.
type Update struct {
	Iteration    int
	CurrentPhase string
	Status       string
	Verdict      *string
}

// Event represents a timeline event for a run.
type Event struct {
	Type     string
	Message  string
	DataJSON string
}

// CreateRun inserts the run record and a run_started event.
func (s *Store) CreateRun(ctx context.Context, run RunRecord) error {
	if run.CreatedAt == "" {
		run.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	if run.Status == "" {
		run.Status = RunRunning
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin create run: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO runs(run_id, created_at, issue, workflow, status, iteration, current_phase, verdict, state_dir)
		VALUES(?, ?, ?, ?, ?, ?, ?, NULL, ?)`,
		run.RunID, run.CreatedAt, run.Issue, run.Workflow, run.Status, run.Iteration, run.CurrentPhase, run.StateDir); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert run: %w", err)
	}
	if err := s.insertEvent(ctx, tx, run.RunID, "run_started", "run started at "+run.CurrentPhase, ""); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create run: %w", err)
	}
	return nil
}

// UpdateRun applies a run update and optional event without inserting a step.
func (s *Store) UpdateRun(ctx context.Context, runID string, update Update, event *Event) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin update run: %w", err)
	}
	if event != nil {
		if err := s.insertEvent(ctx, tx, runID, event.Type, event.Message, event.DataJSON); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := updateRun(ctx, tx, runID, update); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update run: %w", err)
	}
	return nil
}

// CommitStep inserts the step record, events, and updates the run in one transaction.
func (s *Store) CommitStep(ctx context.Context, step StepRecord, events []Event, update Update) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin commit step: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO steps(run_id, step_index, phase, phase_type, iteration, status, exit_code, next_phase, started_at, ended_at, summary)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		step.RunID, step.StepIndex, step.Phase, step.PhaseType, step.Iteration, step.Status,
		nullableIntPtr(step.ExitCode), nullableString(step.NextPhase), step.StartedAt, step.EndedAt, nullableString(step.Summary)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert step: %w", err)
	}
	for _, ev := range events {
		if err := s.insertEvent(ctx, tx, step.RunID, ev.Type, ev.Message, ev.DataJSON); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := updateRun(ctx, tx, step.RunID, update); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit step: %w", err)
	}
	return nil
}

func updateRun(ctx context.Context, tx *sql.Tx, runID string, update Update) error {
	if _, err := tx.ExecContext(ctx, `UPDATE runs SET iteration=?, current_phase=?, status=?, verdict=? WHERE run_id=?`,
		update.Iteration, update.CurrentPhase, update.Status, nullableStringPtr(update.Verdict), runID); err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

func (s *Store) insertEvent(ctx context.Context, tx *sql.Tx, runID, typ, message, dataJSON string) error {
	seq, err := s.nextSeq(ctx, tx, runID)
	if err != nil {
		return err
	}
	ts := time.Now().UTC().Format(time.RFC3339)
	if _, err := tx.ExecContext(ctx, `INSERT INTO events(run_id, seq, ts, type, message, data_json) VALUES(?, ?, ?, ?, ?, ?)`,
		runID, seq, ts, typ, message, nullableString(dataJSON)); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *Store) nextSeq(ctx context.Context, tx *sql.Tx, runID string) (int, error) {
	var seq int
	row := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM events WHERE run_id=?`, runID)
	if err := row.Scan(&seq); err != nil {
		return 0, fmt.Errorf("read event seq: %w", err)
	}
	return seq + 1, nil
}

// DeleteRun removes a run with its steps and events.
func (s *Store) DeleteRun(ctx context.Context, runID string) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin delete run: %w", err)
	}
	for _, table := range []string{"events", "steps", "runs"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE run_id=?`, runID); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("delete from %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete run: %w", err)
	}
	return nil
}

// GetRunStatus returns the status for a run id, or empty if missing.
func (s *Store) GetRunStatus(ctx context.Context, runID string) (string, error) {
	row := s.db.QueryRowContext(ctx, `SELECT status FROM runs WHERE run_id=?`, runID)
	var status string
	if err := row.Scan(&status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("read run status: %w", err)
	}
	return status, nil
}

// ListRuns returns the newest runs first. limit <= 0 returns all runs.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	query := `SELECT run_id, created_at, issue, workflow, status, iteration, current_phase, COALESCE(verdict, ''), state_dir
		FROM runs ORDER BY created_at DESC, rowid DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.RunID, &r.CreatedAt, &r.Issue, &r.Workflow, &r.Status, &r.Iteration, &r.CurrentPhase, &r.Verdict, &r.StateDir); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return out, nil
}

// Steps returns the steps of a run in execution order.
func (s *Store) Steps(ctx context.Context, runID string) ([]StepRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT run_id, step_index, phase, phase_type, iteration, status, exit_code,
		COALESCE(next_phase, ''), started_at, ended_at, COALESCE(summary, '')
		FROM steps WHERE run_id=? ORDER BY step_index`, runID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []StepRecord
	for rows.Next() {
		var st StepRecord
		var exitCode sql.NullInt64
		if err := rows.Scan(&st.RunID, &st.StepIndex, &st.Phase, &st.PhaseType, &st.Iteration, &st.Status, &exitCode,
			&st.NextPhase, &st.StartedAt, &st.EndedAt, &st.Summary); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		if exitCode.Valid {
			code := int(exitCode.Int64)
			st.ExitCode = &code
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	return out, nil
}

// Events returns the events of a run in sequence order.
func (s *Store) Events(ctx context.Context, runID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT type, message, COALESCE(data_json, '') FROM events WHERE run_id=? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.Type, &ev.Message, &ev.DataJSON); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return out, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableStringPtr(value *string) any {
	if value == nil {
		return nil
	}
	return *value
}

func nullableIntPtr(value *int) any {
	if value == nil {
		return nil
	}
	return *value
}
