package main

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"finisher/internal/api"
)

var titleCaser = cases.Title(language.English)

// statusLabel turns a wire status such as "running_pass1" into "Running Pass1".
func statusLabel(status string) string {
	status = strings.TrimSpace(status)
	if status == "" {
		return "-"
	}
	return titleCaser.String(strings.ReplaceAll(status, "_", " "))
}

func formatProgress(job api.Job) string {
	switch job.Status {
	case "queued":
		return "-"
	case "completed":
		return "100%"
	}
	if job.Progress <= 0 {
		return "-"
	}
	label := fmt.Sprintf("%.0f%%", job.Progress*100)
	if job.ETASeconds > 0 {
		label += " (eta " + formatDuration(time.Duration(job.ETASeconds*float64(time.Second))) + ")"
	}
	return label
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}

func formatDurationMs(ms int64) string {
	return formatDuration(time.Duration(ms) * time.Millisecond)
}

// formatTimestamp renders an RFC3339 API timestamp in local time.
func formatTimestamp(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "-"
	}
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return value
	}
	return parsed.Local().Format("2006-01-02 15:04:05")
}

func queuePositionLabel(job api.Job) string {
	if job.Position < 0 {
		return "-"
	}
	return fmt.Sprintf("%d", job.Position+1)
}

func jobLabel(job api.Job) string {
	if desc := strings.TrimSpace(job.Description); desc != "" {
		return desc
	}
	return "(unnamed)"
}

func dashIfEmpty(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}
