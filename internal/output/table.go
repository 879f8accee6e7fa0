// Package output renders snapferry state for the terminal.
//
// This package includes:
//   - Tables for locations, snapshots, replication plans and run history
//   - Progress bars for transfers and spinners for scans
//
// Tables use fixed-width columns and emit ANSI colour only when stdout is a
// terminal and NO_COLOR is unset.
package output

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/blackwell-systems/snapferry/internal/location"
	"github.com/blackwell-systems/snapferry/internal/replicator"
	"github.com/blackwell-systems/snapferry/internal/retention"
	"github.com/blackwell-systems/snapferry/internal/store"
)

const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorGray   = "\033[90m"
)

// IsColorEnabled returns true if ANSI color codes should be emitted.
// It checks that os.Stdout is a TTY and that the NO_COLOR env var is not set.
func IsColorEnabled() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(os.Stdout.Fd())
}

// colorize wraps text in the given ANSI color code if color is enabled,
// otherwise returns the plain text.
func colorize(color, text string) string {
	if IsColorEnabled() {
		return color + text + colorReset
	}
	return text
}

// statusColor maps action, decision and run statuses to a colour.
func statusColor(status string) string {
	switch status {
	case "ok", "full", "incremental", "keep":
		return colorGreen
	case "skipped", "skip", "partial", "running":
		return colorYellow
	case "failed", "delete":
		return colorRed
	default:
		return colorGray
	}
}

// pad left-aligns s in a column of width n before colouring it, so escape
// codes do not break alignment.
func pad(s string, n int) string {
	if len(s) < n {
		s += strings.Repeat(" ", n-len(s))
	}
	return s
}

func rule(n int) string {
	return strings.Repeat("─", n) + "\n"
}

// RenderLocationTable renders a summary line per location.
func RenderLocationTable(locs ...*location.Location) string {
	if len(locs) == 0 {
		return "No locations.\n"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%-36s %-10s %-11s %s\n",
		"Location", "Snapshots", "Subvolumes", "Newest"))
	sb.WriteString(rule(76))

	for _, loc := range locs {
		newest := "never"
		var latest time.Time
		for _, v := range loc.Subvolumes() {
			snap, _ := loc.Latest(v)
			if t, err := snap.Time(time.Local); err == nil && t.After(latest) {
				latest = t
			}
		}
		if !latest.IsZero() {
			newest = formatRelativeTime(latest)
		}

		sb.WriteString(fmt.Sprintf("%-36s %-10d %-11d %s\n",
			truncate(loc.Path(), 36),
			loc.Len(),
			len(loc.Subvolumes()),
			newest))
	}
	return sb.String()
}

// RenderSnapshotTable lists the snapshots at loc. When peer is set, a
// column marks the snapshots also present there.
func RenderSnapshotTable(loc, peer *location.Location) string {
	snaps := loc.Snapshots()
	if len(snaps) == 0 {
		return fmt.Sprintf("No snapshots in %s.\n", loc.Path())
	}

	var sb strings.Builder
	if peer != nil {
		sb.WriteString(fmt.Sprintf("%-16s %-21s %-16s %s\n",
			"Subvolume", "Timestamp", "Age", "At Destination"))
	} else {
		sb.WriteString(fmt.Sprintf("%-16s %-21s %s\n",
			"Subvolume", "Timestamp", "Age"))
	}
	sb.WriteString(rule(70))

	for _, snap := range snaps {
		age := "unknown"
		if t, err := snap.Time(time.Local); err == nil {
			age = formatRelativeTime(t)
		}
		ts := snap.Timestamp()
		if snap.Classifier() != "" {
			ts = snap.Classifier() + "." + ts
		}

		if peer == nil {
			sb.WriteString(fmt.Sprintf("%-16s %-21s %s\n",
				truncate(snap.Subvolume(), 16), ts, age))
			continue
		}

		shared := "—"
		if snap.AtLocation(peer.ID()) {
			shared = colorize(colorGreen, "✓")
		}
		sb.WriteString(fmt.Sprintf("%-16s %-21s %-16s %s\n",
			truncate(snap.Subvolume(), 16), ts, age, shared))
	}
	return sb.String()
}

// RenderPlanTable renders pending replication directives.
func RenderPlanTable(plan []replicator.Directive) string {
	if len(plan) == 0 {
		return "Nothing to replicate.\n"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%-16s %-12s %-30s %s\n",
		"Subvolume", "Action", "Snapshot", "Parent"))
	sb.WriteString(rule(90))

	for _, d := range plan {
		action := d.Action.String()
		detail := d.ParentName()
		switch d.Action {
		case replicator.ActionSkip:
			detail = d.Reason
		case replicator.ActionFull:
			detail = "—"
		}
		sb.WriteString(fmt.Sprintf("%-16s %s %-30s %s\n",
			truncate(d.Subvolume, 16),
			colorize(statusColor(action), pad(action, 12)),
			truncate(d.SnapshotName(), 30),
			detail))
	}
	return sb.String()
}

// RenderReportTable renders the outcome of each directive in a run.
func RenderReportTable(report *replicator.Report) string {
	if len(report.Outcomes) == 0 {
		return "No subvolumes found.\n"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%-16s %-12s %-30s %-9s %s\n",
		"Subvolume", "Action", "Snapshot", "Status", "Duration"))
	sb.WriteString(rule(84))

	for _, o := range report.Outcomes {
		status := o.Status()
		duration := "—"
		if o.Duration > 0 {
			duration = formatDuration(o.Duration)
		}
		sb.WriteString(fmt.Sprintf("%-16s %-12s %-30s %s %s\n",
			truncate(o.Directive.Subvolume, 16),
			o.Directive.Action.String(),
			truncate(o.Directive.SnapshotName(), 30),
			colorize(statusColor(status), pad(status, 9)),
			duration))
	}
	return sb.String()
}

// RenderReportSummary renders a one-line summary of a run.
// Format: "2 transferred · 1 skipped · 0 failed in 4.2s"
func RenderReportSummary(report *replicator.Report) string {
	failed := report.Count("failed")
	failedText := fmt.Sprintf("%d failed", failed)
	if failed > 0 {
		failedText = colorize(colorRed, failedText)
	}
	return fmt.Sprintf("%d transferred · %d skipped · %s in %s",
		report.Count("ok"), report.Count("skipped"), failedText, formatDuration(report.Duration()))
}

// RenderRetentionTable renders a retention plan, one row per snapshot.
func RenderRetentionTable(plan *retention.Plan) string {
	if len(plan.Keep)+len(plan.Delete) == 0 {
		return fmt.Sprintf("No snapshots in %s.\n", plan.Location)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%-34s %-16s %-8s %s\n",
		"Snapshot", "Age", "Action", "Reason"))
	sb.WriteString(rule(84))

	write := func(d retention.Decision, action string) {
		age := "unknown"
		if t, err := d.Snapshot.Time(time.Local); err == nil {
			age = formatRelativeTime(t)
		}
		sb.WriteString(fmt.Sprintf("%-34s %-16s %s %s\n",
			truncate(d.Snapshot.Name(), 34),
			age,
			colorize(statusColor(action), pad(action, 8)),
			d.Reason))
	}
	for _, d := range plan.Delete {
		write(d, "delete")
	}
	for _, d := range plan.Keep {
		write(d, "keep")
	}
	return sb.String()
}

// RenderRunTable renders run history, newest first as given.
func RenderRunTable(runs []*store.Run) string {
	if len(runs) == 0 {
		return "No runs recorded.\n"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%-26s %-8s %-16s %-10s %s\n",
		"Run", "Kind", "Started", "Duration", "Status"))
	sb.WriteString(rule(76))

	for _, run := range runs {
		duration := "—"
		if !run.FinishedAt.IsZero() {
			duration = formatDuration(run.Duration())
		}
		status := run.Status
		if run.DryRun {
			status += " (dry run)"
		}
		sb.WriteString(fmt.Sprintf("%-26s %-8s %-16s %-10s %s\n",
			run.ID,
			run.Kind,
			formatRelativeTime(run.StartedAt),
			duration,
			colorize(statusColor(run.Status), status)))
	}
	return sb.String()
}

// RenderRunDetail renders one run with its transfers and deletions.
func RenderRunDetail(run *store.Run, transfers []*store.Transfer, deletions []*store.Deletion) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Run:         %s\n", run.ID))
	sb.WriteString(fmt.Sprintf("Kind:        %s\n", run.Kind))
	sb.WriteString(fmt.Sprintf("Source:      %s\n", run.Source))
	sb.WriteString(fmt.Sprintf("Destination: %s\n", run.Destination))
	sb.WriteString(fmt.Sprintf("Started:     %s (%s)\n",
		run.StartedAt.Local().Format("2006-01-02 15:04:05"), formatRelativeTime(run.StartedAt)))
	if !run.FinishedAt.IsZero() {
		sb.WriteString(fmt.Sprintf("Duration:    %s\n", formatDuration(run.Duration())))
	}
	sb.WriteString(fmt.Sprintf("Status:      %s\n", colorize(statusColor(run.Status), run.Status)))
	if run.DryRun {
		sb.WriteString("Dry run:     yes\n")
	}
	if run.Error != "" {
		sb.WriteString(fmt.Sprintf("Error:       %s\n", run.Error))
	}

	if len(transfers) > 0 {
		sb.WriteString("\nTransfers:\n")
		sb.WriteString(fmt.Sprintf("  %-16s %-12s %-30s %s\n", "Subvolume", "Action", "Snapshot", "Status"))
		sb.WriteString("  " + rule(70))
		for _, t := range transfers {
			status := colorize(statusColor(t.Status), t.Status)
			if t.Error != "" {
				status += ": " + t.Error
			}
			sb.WriteString(fmt.Sprintf("  %-16s %-12s %-30s %s\n",
				truncate(t.Subvolume, 16), t.Action, truncate(t.Snapshot, 30), status))
		}
	}

	if len(deletions) > 0 {
		sb.WriteString("\nDeletions:\n")
		sb.WriteString(fmt.Sprintf("  %-40s %s\n", "Path", "Status"))
		sb.WriteString("  " + rule(60))
		for _, d := range deletions {
			status := colorize(statusColor(d.Status), d.Status)
			if d.Error != "" {
				status += ": " + d.Error
			}
			sb.WriteString(fmt.Sprintf("  %-40s %s\n", truncate(d.Path, 40), status))
		}
	}

	return sb.String()
}

// formatRelativeTime converts a timestamp to relative time (e.g., "2 days ago").
func formatRelativeTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.Time(t)
}

// formatDuration rounds d for display.
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	case d < time.Minute:
		return d.Round(100 * time.Millisecond).String()
	default:
		return d.Round(time.Second).String()
	}
}

// truncate truncates a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
