package main

import (
	"fmt"
	"os"

	"github.com/kalambet/creativemri/internal/api"
	"github.com/kalambet/creativemri/internal/progress"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(os.Stderr, "  %s %s\n", l, val)
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+msg))
}

func printProgress(ev progress.Event) {
	switch {
	case ev.Error != "":
		printError("%s", ev.Error)
	case ev.Stage == progress.StageDone:
		printSuccess("Report ready")
	case ev.Message != "":
		printStep("%s %d/%d: %s", ev.Stage, ev.Current, ev.Total, ev.Message)
	default:
		printStep("%s %d/%d", ev.Stage, ev.Current, ev.Total)
	}
}

func statusColor(status string) string {
	switch status {
	case "complete":
		return colorize(colorGreen, status)
	case "failed":
		return colorize(colorRed, status)
	case "running":
		return colorize(colorYellow, status)
	}
	return status
}

func printJob(j api.JobView) {
	printStatus("Job", "%s", j.ID)
	if j.Label != "" {
		printStatus("Label", "%s", j.Label)
	}
	printStatus("Status", "%s", statusColor(j.Status))
	printStatus("Progress", "%d/%d %s", j.Progress.Current, j.Progress.Total, j.Progress.Message)
	if j.Error != nil {
		printStatus("Error", "%s", *j.Error)
	}
}

func jobLine(j api.JobView) string {
	id := j.ID
	if len(id) > 8 {
		id = id[:8]
	}
	label := j.Label
	if len(label) > 40 {
		label = label[:40] + "..."
	}
	return fmt.Sprintf("%s  %-8s  %s  %d/%d  %s",
		colorize(colorCyan, id),
		statusColor(j.Status),
		j.CreatedAt.Format("2006-01-02 15:04"),
		j.Progress.Current, j.Progress.Total,
		label,
	)
}
