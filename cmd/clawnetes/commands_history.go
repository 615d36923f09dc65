package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/clawnetes/clawnetes/internal/db"
)

const defaultHistoryLimit = 20

func runHistoryCommand(ctx context.Context, args []string, base commonFlags) error {
	if len(args) > 0 {
		switch args[0] {
		case "show":
			return runHistoryShow(ctx, args[1:], base)
		case "tunnels":
			return runHistoryTunnels(ctx, args[1:], base)
		}
	}
	return runHistoryList(ctx, args, base)
}

func openHistory(opts commonFlags) (*app, *db.Store, error) {
	a, err := newApp(opts)
	if err != nil {
		return nil, nil, err
	}
	store := a.history()
	if store == nil {
		a.close()
		return nil, nil, newCLIError("run history is unavailable", "", "check db_path in the config: "+a.cfg.DBPath)
	}
	return a, store, nil
}

func runHistoryList(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("history")
	opts := base
	opts.bind(fs)
	var limit int
	var help bool
	fs.IntVar(&limit, "limit", defaultHistoryLimit, "number of runs to show")
	bindHelp(fs, &help)
	if err := parseFlags(fs, args, usageLine("history [--limit <n>] | history show <run_id> | history tunnels"), &help); err != nil {
		return err
	}
	if limit <= 0 {
		return newCLIError("--limit must be positive", "")
	}
	a, store, err := openHistory(opts)
	if err != nil {
		return err
	}
	defer a.close()
	runs, err := store.ListRuns(ctx, limit)
	if err != nil {
		return err
	}
	if opts.jsonOutput {
		if runs == nil {
			runs = []db.Run{}
		}
		return writeJSON(stdoutWriter, runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(stdoutWriter, "no runs recorded")
		return nil
	}
	w := tabwriter.NewWriter(stdoutWriter, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tKIND\tTARGET\tSTATUS\tSTARTED\tDURATION")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			run.ID, run.Kind, orDash(run.Target), run.Status,
			run.StartedAt.Local().Format(time.DateTime), duration(run.StartedAt, run.FinishedAt))
	}
	return w.Flush()
}

func runHistoryShow(ctx context.Context, args []string, base commonFlags) error {
	var runID string
	if len(args) > 0 && !isHelpToken(args[0]) && args[0] != "" && args[0][0] != '-' {
		runID, args = args[0], args[1:]
	}
	fs := newFlagSet("history show")
	opts := base
	opts.bind(fs)
	var help bool
	bindHelp(fs, &help)
	usage := usageLine("history show <run_id>")
	if err := parseFlags(fs, args, usage, &help); err != nil {
		return err
	}
	if runID == "" {
		usage()
		return newCLIError("run id is required", "clawnetes history")
	}
	a, store, err := openHistory(opts)
	if err != nil {
		return err
	}
	defer a.close()
	run, err := store.GetRun(ctx, runID)
	if errors.Is(err, db.ErrNotFound) {
		return wrapCLIError(err, fmt.Sprintf("run %s not found", runID), "clawnetes history")
	}
	if err != nil {
		return err
	}
	steps, err := store.ListSteps(ctx, runID)
	if err != nil {
		return err
	}
	if opts.jsonOutput {
		if steps == nil {
			steps = []db.Step{}
		}
		return writeJSON(stdoutWriter, map[string]any{"run": run, "steps": steps})
	}
	fmt.Fprintf(stdoutWriter, "run:      %s\n", run.ID)
	fmt.Fprintf(stdoutWriter, "kind:     %s\n", run.Kind)
	fmt.Fprintf(stdoutWriter, "target:   %s\n", orDash(run.Target))
	fmt.Fprintf(stdoutWriter, "status:   %s\n", run.Status)
	fmt.Fprintf(stdoutWriter, "duration: %s\n", duration(run.StartedAt, run.FinishedAt))
	if run.Error != "" {
		fmt.Fprintf(stdoutWriter, "error:    %s\n", firstLine(run.Error))
	}
	w := tabwriter.NewWriter(stdoutWriter, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\tSTEP\tSTATUS\tDETAIL")
	for _, step := range steps {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", step.Seq, step.Name, step.Status, firstLine(step.Detail))
	}
	return w.Flush()
}

func runHistoryTunnels(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("history tunnels")
	opts := base
	opts.bind(fs)
	var limit int
	var help bool
	fs.IntVar(&limit, "limit", defaultHistoryLimit, "number of tunnels to show")
	bindHelp(fs, &help)
	if err := parseFlags(fs, args, usageLine("history tunnels [--limit <n>]"), &help); err != nil {
		return err
	}
	if limit <= 0 {
		return newCLIError("--limit must be positive", "")
	}
	a, store, err := openHistory(opts)
	if err != nil {
		return err
	}
	defer a.close()
	tunnels, err := store.ListTunnels(ctx, limit)
	if err != nil {
		return err
	}
	if opts.jsonOutput {
		if tunnels == nil {
			tunnels = []db.Tunnel{}
		}
		return writeJSON(stdoutWriter, tunnels)
	}
	if len(tunnels) == 0 {
		fmt.Fprintln(stdoutWriter, "no tunnels recorded")
		return nil
	}
	w := tabwriter.NewWriter(stdoutWriter, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTARGET\tLOCAL\tREMOTE\tSTARTED\tDURATION\tREASON")
	for _, t := range tunnels {
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%s\t%s\t%s\n",
			t.ID, t.Target, t.LocalPort, t.RemotePort,
			t.StartedAt.Local().Format(time.DateTime), duration(t.StartedAt, t.StoppedAt), orDash(t.Reason))
	}
	return w.Flush()
}

func duration(start time.Time, end *time.Time) string {
	if end == nil {
		return "running"
	}
	return end.Sub(start).Round(time.Second).String()
}
