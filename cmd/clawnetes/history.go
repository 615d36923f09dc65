package main

import (
	"context"
	"time"

	"github.com/clawnetes/clawnetes/internal/db"
	"github.com/clawnetes/clawnetes/internal/provision"
)

// runHistory adapts db.Store to provision.HistoryRecorder.
type runHistory struct {
	store *db.Store
}

func (h runHistory) StartRun(ctx context.Context, run provision.RunInfo) error {
	return h.store.CreateRun(ctx, db.Run{
		ID:        run.ID,
		Kind:      run.Kind,
		Target:    run.Target,
		Status:    db.RunStatusRunning,
		StartedAt: run.StartedAt,
	})
}

func (h runHistory) RecordStep(ctx context.Context, runID string, step provision.Step) error {
	_, err := h.store.AppendStep(ctx, runID, db.Step{
		Name:   step.Name,
		Status: string(step.Status),
		Detail: step.Detail,
	})
	return err
}

func (h runHistory) FinishRun(ctx context.Context, runID, status, errText string, finishedAt time.Time) error {
	return h.store.FinishRun(ctx, runID, status, errText, finishedAt)
}
