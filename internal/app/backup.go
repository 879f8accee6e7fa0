package app

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/snapferry/internal/output"
	"github.com/blackwell-systems/snapferry/internal/replicator"
)

var (
	backupSubvolumes []string

	backupCmd = &cobra.Command{
		Use:   "backup",
		Short: "Replicate the newest snapshot of every subvolume",
		Long: `Scan the source and destination directories and send the newest source
snapshot of every subvolume to the destination.

A subvolume is sent incrementally against the newest snapshot both sides
share, in full when they share none, and skipped when the destination already
has its newest snapshot. A failed transfer does not stop the remaining
subvolumes; the command exits non-zero when any transfer failed.

Every run is recorded in the history database (see 'snapferry history').`,
		Example: `  # Replicate everything
  snapferry backup

  # Only the home and root subvolumes
  snapferry backup --subvolume home --subvolume root

  # Show the btrfs commands without running them
  snapferry backup --dry-run`,
		RunE: runBackup,
	}
)

func init() {
	backupCmd.Flags().StringSliceVar(&backupSubvolumes, "subvolume", nil, "only replicate these subvolumes (repeatable)")
	RootCmd.AddCommand(backupCmd)
}

func runBackup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}

	s, err := newSession(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if s.client.DryRun() {
		fmt.Println("Dry run: btrfs commands are logged, not executed.")
		fmt.Println()
	}

	spinner := output.NewSpinner("Replicating snapshots").ShowElapsed()
	spinner.Start()
	done := 0
	report, runErr := s.backup(ctx, backupSubvolumes, func(o replicator.Outcome) {
		done++
		spinner.UpdateMessage(fmt.Sprintf("Replicating snapshots (%d done, last: %s)", done, o.Directive.Subvolume))
	})
	spinner.Stop()
	if report == nil {
		return runErr
	}

	fmt.Print(output.RenderReportTable(report))
	fmt.Println()
	fmt.Println(output.RenderReportSummary(report))

	if runErr != nil {
		return fmt.Errorf("%d of %d transfers failed: %w", report.Count("failed"), len(report.Outcomes), runErr)
	}
	return nil
}
