package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/clawnetes/clawnetes/internal/provision"
)

type reportOutput struct {
	provision.Report
	DashboardURL string `json:"dashboard_url,omitempty"`
}

// printReport renders the steps of a run. It is called for failed runs too,
// so the operator sees how far the run got.
func printReport(report provision.Report, jsonOutput bool) error {
	if report.RunID == "" {
		return nil
	}
	if jsonOutput {
		return writeJSON(stdoutWriter, reportOutput{Report: report, DashboardURL: report.DashboardURL})
	}
	w := tabwriter.NewWriter(stdoutWriter, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STEP\tSTATUS\tDETAIL")
	for _, step := range report.Steps {
		fmt.Fprintf(w, "%s\t%s\t%s\n", step.Name, step.Status, firstLine(step.Detail))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	for _, warning := range report.Warnings {
		fmt.Fprintln(stdoutWriter, "warning: "+warning)
	}
	fmt.Fprintf(stdoutWriter, "run: %s (%s on %s)\n", report.RunID, report.Kind, report.Target)
	if report.DashboardURL != "" {
		fmt.Fprintln(stdoutWriter, "dashboard: "+report.DashboardURL)
	}
	return nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx != -1 {
		return s[:idx] + " ..."
	}
	return s
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func orDash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}
