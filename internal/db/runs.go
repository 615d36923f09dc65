// ABOUTME: Provisioning run and step history.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Run is one recorded orchestrator operation.
type Run struct {
	ID         string     `json:"id"`
	Kind       string     `json:"kind"`
	Target     string     `json:"target"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Step is one entry in a run's ordered step log.
type Step struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	Seq       int       `json:"seq"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// RunStatusRunning marks a run that has not finished.
const RunStatusRunning = "running"

// CreateRun inserts a new run. An empty status defaults to running.
func (s *Store) CreateRun(ctx context.Context, run Run) error {
	if err := s.ready(); err != nil {
		return err
	}
	run.ID = strings.TrimSpace(run.ID)
	if run.ID == "" {
		return errors.New("run id is required")
	}
	run.Kind = strings.TrimSpace(run.Kind)
	if run.Kind == "" {
		return errors.New("run kind is required")
	}
	if run.Status == "" {
		run.Status = RunStatusRunning
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	var finishedAt interface{}
	if run.FinishedAt != nil {
		finishedAt = formatTime(*run.FinishedAt)
	}
	_, err := s.DB.ExecContext(ctx, `INSERT INTO runs (id, kind, target, status, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.Kind,
		run.Target,
		run.Status,
		nullIfEmpty(run.Error),
		formatTime(run.StartedAt),
		finishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}
	return nil
}

// FinishRun records the outcome of a run.
func (s *Store) FinishRun(ctx context.Context, id, status, errText string, finishedAt time.Time) error {
	if err := s.ready(); err != nil {
		return err
	}
	status = strings.TrimSpace(status)
	if status == "" {
		return errors.New("run status is required")
	}
	if finishedAt.IsZero() {
		finishedAt = time.Now().UTC()
	}
	res, err := s.DB.ExecContext(ctx, `UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		status, nullIfEmpty(errText), formatTime(finishedAt), id)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return nil
}

// AppendStep adds a step to the end of a run's log and returns it with its
// id and sequence number filled in.
func (s *Store) AppendStep(ctx context.Context, runID string, step Step) (Step, error) {
	if err := s.ready(); err != nil {
		return Step{}, err
	}
	step.Name = strings.TrimSpace(step.Name)
	if step.Name == "" {
		return Step{}, errors.New("step name is required")
	}
	if step.CreatedAt.IsZero() {
		step.CreatedAt = time.Now().UTC()
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return Step{}, fmt.Errorf("begin append step: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var seq int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM steps WHERE run_id = ?`, runID).Scan(&seq); err != nil {
		return Step{}, fmt.Errorf("next step seq: %w", err)
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO steps (run_id, seq, name, status, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		runID, seq, step.Name, step.Status, nullIfEmpty(step.Detail), formatTime(step.CreatedAt))
	if err != nil {
		return Step{}, fmt.Errorf("insert step %s for run %s: %w", step.Name, runID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Step{}, fmt.Errorf("step id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Step{}, fmt.Errorf("commit step: %w", err)
	}
	step.ID = id
	step.RunID = runID
	step.Seq = seq
	return step, nil
}

// GetRun loads a run by id.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	if err := s.ready(); err != nil {
		return Run{}, err
	}
	row := s.DB.QueryRowContext(ctx, `SELECT id, kind, target, status, error, started_at, finished_at
		FROM runs WHERE id = ?`, id)
	run, err := scanRunRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run %s: %w", id, err)
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, errors.New("limit must be positive")
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT id, kind, target, status, error, started_at, finished_at
		FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		run, err := scanRunRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

// ListSteps returns a run's steps in the order they were appended.
func (s *Store) ListSteps(ctx context.Context, runID string) ([]Step, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT id, run_id, seq, name, status, detail, created_at
		FROM steps WHERE run_id = ? ORDER BY seq ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()
	var out []Step
	for rows.Next() {
		var step Step
		var detail sql.NullString
		var createdAt string
		if err := rows.Scan(&step.ID, &step.RunID, &step.Seq, &step.Name, &step.Status, &detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		step.Detail = detail.String
		if step.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parse step created_at: %w", err)
		}
		out = append(out, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate steps: %w", err)
	}
	return out, nil
}

func scanRunRow(scanner interface{ Scan(dest ...any) error }) (Run, error) {
	var run Run
	var errText sql.NullString
	var startedAt string
	var finishedAt sql.NullString
	if err := scanner.Scan(&run.ID, &run.Kind, &run.Target, &run.Status, &errText, &startedAt, &finishedAt); err != nil {
		return Run{}, err
	}
	run.Error = errText.String
	var err error
	if run.StartedAt, err = parseTime(startedAt); err != nil {
		return Run{}, fmt.Errorf("parse run started_at: %w", err)
	}
	if finishedAt.Valid && finishedAt.String != "" {
		parsed, err := parseTime(finishedAt.String)
		if err != nil {
			return Run{}, fmt.Errorf("parse run finished_at: %w", err)
		}
		run.FinishedAt = &parsed
	}
	return run, nil
}
