package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/dukex/playbook/pkg/models"
	"github.com/dukex/playbook/pkg/services"
	"github.com/fatih/color"
)

var (
	boldStyle  = color.New(color.Bold)
	okStyle    = color.New(color.FgGreen)
	failStyle  = color.New(color.FgRed)
	warnStyle  = color.New(color.FgYellow)
	mutedStyle = color.New(color.FgHiBlack)
)

func statusStyle(status string) *color.Color {
	switch status {
	case string(models.NodeStatusCompleted):
		return okStyle
	case string(models.NodeStatusFailed), string(models.NodeStatusBlocked):
		return failStyle
	case string(models.NodeStatusSkipped), string(models.ExecutionStatusStopped):
		return warnStyle
	default:
		return mutedStyle
	}
}

func printValidation(w io.Writer, name string, result *services.ValidationResult) {
	if result.Valid {
		okStyle.Fprintf(w, "✓ %s is valid\n", name)
	} else {
		failStyle.Fprintf(w, "✗ %s is invalid\n", name)
	}

	for _, problem := range result.Problems {
		failStyle.Fprintf(w, "  error: %s\n", problem)
	}

	for _, warning := range result.Warnings {
		warnStyle.Fprintf(w, "  warning: %s\n", warning)
	}

	if len(result.Order) > 0 {
		mutedStyle.Fprintf(w, "  steps: %s\n", strings.Join(result.Order, " "))
		mutedStyle.Fprintf(w, "  roots: %s\n", strings.Join(result.Roots, " "))
	}
}

func printSummary(w io.Writer, summary *models.ExecutionSummary) {
	boldStyle.Fprintf(w, "Execution %s ", summary.ExecutionID)
	statusStyle(string(summary.Status)).Fprintf(w, "%s\n", summary.Status)

	fmt.Fprintf(w, "  progress: %.0f%% of %d steps\n", summary.Progress*100, summary.TotalNodes)

	for _, status := range models.NodeStatuses() {
		if n := summary.Count(status); n > 0 {
			statusStyle(string(status)).Fprintf(w, "  %-10s %d\n", status, n)
		}
	}

	if len(summary.Timeline) == 0 {
		return
	}

	boldStyle.Fprintln(w, "Timeline")

	for _, attempt := range summary.Timeline {
		line := fmt.Sprintf("  %-20s #%d %-9s %6dms", attempt.NodeID, attempt.AttemptNumber, attempt.Status, attempt.DurationMs)
		if attempt.ErrorKind != "" {
			line += fmt.Sprintf("  %s: %s", attempt.ErrorKind, attempt.ErrorDetail)
		}

		statusStyle(string(attempt.Status)).Fprintln(w, line)
	}
}
