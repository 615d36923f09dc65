// ABOUTME: Drives one execution context from bare host to a running, reachable gateway.
// ABOUTME: Every step is recorded in a Report and mirrored to logs, metrics and run history.

// Package provision installs, configures and starts the OpenClaw gateway on a
// host reached through an executor.Executor. The orchestrator issues one
// command at a time and never runs steps concurrently.
package provision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/clawnetes/clawnetes/internal/executor"
	"github.com/clawnetes/clawnetes/internal/gatewayconfig"
	"github.com/clawnetes/clawnetes/internal/logging"
	"github.com/clawnetes/clawnetes/internal/redact"
	"github.com/google/uuid"
)

// State is an inferred provisioning milestone. States are never persisted on
// the host; DetectState derives them from probes.
type State string

const (
	StateUnprovisioned    State = "unprovisioned"
	StateRuntimeInstalled State = "runtime_installed"
	StateAppInstalled     State = "app_installed"
	StateConfigWritten    State = "config_written"
	StateServiceStopped   State = "service_stopped"
	StateServiceStarted   State = "service_started"
	StateVerified         State = "verified"
)

// StepStatus is the outcome of one step.
type StepStatus string

const (
	StepOK      StepStatus = "ok"
	StepSkipped StepStatus = "skipped"
	StepWarn    StepStatus = "warn"
	StepFailed  StepStatus = "failed"
)

// Step is one entry in a Report.
type Step struct {
	Name   string     `json:"name"`
	Status StepStatus `json:"status"`
	Detail string     `json:"detail,omitempty"`
}

// Report summarizes one orchestrator run.
type Report struct {
	RunID        string   `json:"run_id"`
	Kind         string   `json:"kind"`
	Target       string   `json:"target"`
	OS           string   `json:"os,omitempty"`
	States       []State  `json:"states"`
	Steps        []Step   `json:"steps"`
	Token        string   `json:"-"`
	DashboardURL string   `json:"-"`
	Warnings     []string `json:"warnings,omitempty"`
}

// Reached reports whether state was reached during the run.
func (r Report) Reached(state State) bool {
	for _, s := range r.States {
		if s == state {
			return true
		}
	}
	return false
}

// Recorder receives step and run metrics. *metrics.Metrics satisfies it.
type Recorder interface {
	IncStep(step, status string)
	ObserveProvision(result string, duration time.Duration)
}

// RunInfo identifies a run for history storage.
type RunInfo struct {
	ID        string
	Kind      string
	Target    string
	StartedAt time.Time
}

// HistoryRecorder persists runs and their steps. Failures to record are
// logged and never abort provisioning.
type HistoryRecorder interface {
	StartRun(ctx context.Context, run RunInfo) error
	RecordStep(ctx context.Context, runID string, step Step) error
	FinishRun(ctx context.Context, runID, status, errText string, finishedAt time.Time) error
}

const (
	DefaultAttempts  = 8
	DefaultInterval  = 3 * time.Second
	DefaultStopPause = 2 * time.Second
	DefaultSettle    = 5 * time.Second
)

// Orchestrator provisions one execution context. The zero value is not
// usable; Exec is required.
type Orchestrator struct {
	Exec     executor.Executor
	Logger   *slog.Logger
	Metrics  Recorder
	History  HistoryRecorder
	Redactor *redact.Redactor
	// Probe checks gateway reachability. Defaults to a TCP dial of
	// 127.0.0.1, which only makes sense for local execution contexts.
	Probe PortProber
	// Sleep waits between steps; tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
	// Home overrides the `echo $HOME` probe.
	Home string
	// Target labels runs in logs and history.
	Target      string
	TokenSource io.Reader

	Attempts  int
	Interval  time.Duration
	StopPause time.Duration
	Settle    time.Duration
}

// run carries per-invocation state.
type run struct {
	o       *Orchestrator
	ctx     context.Context
	logger  *slog.Logger
	report  Report
	started time.Time
	host    *hostInfo
}

func (o *Orchestrator) begin(ctx context.Context, kind string) (*run, error) {
	if o.Exec == nil {
		return nil, errors.New("orchestrator has no executor")
	}
	target := o.Target
	if target == "" {
		target = o.Exec.Describe()
	}
	r := &run{
		o:       o,
		ctx:     ctx,
		started: o.now(),
		report: Report{
			RunID:  uuid.NewString(),
			Kind:   kind,
			Target: target,
		},
	}
	r.logger = logging.OrDiscard(o.Logger).With("run_id", r.report.RunID, "kind", kind, "target", target)
	if o.History != nil {
		info := RunInfo{ID: r.report.RunID, Kind: kind, Target: target, StartedAt: r.started}
		if err := o.History.StartRun(ctx, info); err != nil {
			r.logger.Warn("record run start failed", "err", err)
		}
	}
	r.logger.Info("run started")
	return r, nil
}

// finish records the outcome and returns the report with err unchanged.
func (r *run) finish(err error) (Report, error) {
	status := "ok"
	errText := ""
	if err != nil {
		status = "failed"
		errText = r.o.redact(err.Error())
	}
	elapsed := r.o.now().Sub(r.started)
	if r.o.Metrics != nil {
		r.o.Metrics.ObserveProvision(status, elapsed)
	}
	if r.o.History != nil {
		// The caller's context may already be cancelled; history is still written.
		if herr := r.o.History.FinishRun(context.WithoutCancel(r.ctx), r.report.RunID, status, errText, r.o.now()); herr != nil {
			r.logger.Warn("record run finish failed", "err", herr)
		}
	}
	if err != nil {
		r.logger.Error("run failed", "err", errText, "elapsed", elapsed)
	} else {
		r.logger.Info("run finished", "elapsed", elapsed)
	}
	return r.report, err
}

func (r *run) step(name string, status StepStatus, detail string) {
	detail = r.o.redact(detail)
	s := Step{Name: name, Status: status, Detail: detail}
	r.report.Steps = append(r.report.Steps, s)
	if r.o.Metrics != nil {
		r.o.Metrics.IncStep(name, string(status))
	}
	if r.o.History != nil {
		if err := r.o.History.RecordStep(context.WithoutCancel(r.ctx), r.report.RunID, s); err != nil {
			r.logger.Warn("record step failed", "step", name, "err", err)
		}
	}
	level := slog.LevelInfo
	if status == StepWarn || status == StepFailed {
		level = slog.LevelWarn
	}
	r.logger.Log(r.ctx, level, "step", "name", name, "status", string(status), "detail", detail)
}

// fail records a failed step and wraps err with the step name.
func (r *run) fail(name string, err error) error {
	r.step(name, StepFailed, err.Error())
	return fmt.Errorf("%s: %w", name, err)
}

func (r *run) warn(format string, args ...any) {
	r.report.Warnings = append(r.report.Warnings, r.o.redact(fmt.Sprintf(format, args...)))
}

func (r *run) reach(state State) {
	if r.report.Reached(state) {
		return
	}
	r.report.States = append(r.report.States, state)
}

func (r *run) exec(command string) (executor.Result, error) {
	r.logger.Debug("exec", "cmd", r.o.redact(command))
	return r.o.Exec.Execute(r.ctx, command)
}

// output runs command and returns trimmed stdout.
func (r *run) output(command string) (string, error) {
	r.logger.Debug("exec", "cmd", r.o.redact(command))
	return executor.Output(r.ctx, r.o.Exec, command)
}

// bestEffort runs command and ignores failure.
func (r *run) bestEffort(command string) {
	if _, err := r.exec(command); err != nil {
		r.logger.Debug("best-effort command failed", "cmd", r.o.redact(command), "err", r.o.redact(err.Error()))
	}
}

func (r *run) sleep(d time.Duration) error {
	if d <= 0 {
		return nil
	}
	return r.o.sleep(r.ctx, d)
}

func (o *Orchestrator) redact(s string) string {
	return o.Redactor.Redact(s)
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) error {
	if o.Sleep != nil {
		return o.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (o *Orchestrator) attempts() int {
	if o.Attempts > 0 {
		return o.Attempts
	}
	return DefaultAttempts
}

func (o *Orchestrator) interval() time.Duration {
	if o.Interval > 0 {
		return o.Interval
	}
	return DefaultInterval
}

func (o *Orchestrator) stopPause() time.Duration {
	if o.StopPause > 0 {
		return o.StopPause
	}
	return DefaultStopPause
}

func (o *Orchestrator) settle() time.Duration {
	if o.Settle > 0 {
		return o.Settle
	}
	return DefaultSettle
}

func (o *Orchestrator) prober() PortProber {
	if o.Probe != nil {
		return o.Probe
	}
	return DialProber{Host: "127.0.0.1"}
}

func gatewayPort(intent gatewayconfig.Intent) int {
	if intent.GatewayPort > 0 {
		return intent.GatewayPort
	}
	return gatewayconfig.DefaultGatewayPort
}
