package app

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/snapferry/internal/output"
	"github.com/blackwell-systems/snapferry/internal/retention"
)

var (
	cleanupTarget   string
	cleanupMaxAge   time.Duration
	cleanupKeepLast int

	cleanupCmd = &cobra.Command{
		Use:   "cleanup",
		Short: "Delete snapshots older than the retention window",
		Long: `Delete snapshots that fall outside the retention window.

By default the source is pruned. For every subvolume the newest snapshots
(retention.keep_last) are always kept, and the newest snapshot shared with the
other side is kept as the base of the next incremental backup
(retention.protect_shared). Snapshots whose timestamp cannot be parsed are
never deleted.

Deletions run one at a time with 'btrfs subvolume delete'; a failed deletion
does not stop the others.`,
		Example: `  # Prune source snapshots older than one day (the default)
  snapferry cleanup

  # Keep two days on the destination
  snapferry cleanup --target destination --max-age 48h

  # Show what would be deleted
  snapferry cleanup --dry-run`,
		RunE: runCleanup,
	}
)

func init() {
	cleanupCmd.Flags().StringVar(&cleanupTarget, "target", targetSource, "location to prune: source or destination")
	cleanupCmd.Flags().DurationVar(&cleanupMaxAge, "max-age", 0, "delete snapshots older than this (default: retention.max_age)")
	cleanupCmd.Flags().IntVar(&cleanupKeepLast, "keep-last", -1, "always keep the newest N snapshots per subvolume (default: retention.keep_last)")
	RootCmd.AddCommand(cleanupCmd)
}

// cleanupOverrides maps the cleanup flags onto retention settings.
func cleanupOverrides() map[string]any {
	overrides := make(map[string]any)
	if cleanupMaxAge > 0 {
		overrides["retention.max_age"] = cleanupMaxAge
	}
	if cleanupKeepLast >= 0 {
		overrides["retention.keep_last"] = cleanupKeepLast
	}
	return overrides
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cleanupOverrides())
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

	plan, err := s.planCleanup(ctx, cleanupTarget)
	if err != nil {
		return err
	}

	fmt.Printf("Retention for %s (max age %s, keep last %d)\n\n",
		plan.Location, cfg.Retention.MaxAge, cfg.Retention.KeepLast)
	fmt.Print(output.RenderRetentionTable(plan))
	fmt.Println()

	if len(plan.Delete) == 0 {
		fmt.Println("Nothing to delete.")
		return nil
	}
	if cfg.Btrfs.DryRun {
		fmt.Println("Dry run: btrfs commands are logged, not executed.")
	}

	progress := output.NewProgress(len(plan.Delete), "Deleting")
	result, applyErr := s.cleanup(ctx, plan, func(d retention.Decision, err error) {
		progress.Step(d.Snapshot.Name())
	})
	progress.Finish()
	if result == nil {
		return applyErr
	}

	fmt.Println()
	fmt.Printf("%d deleted · %d failed · %d kept\n", len(result.Deleted), len(result.Failed), len(plan.Keep))

	if applyErr != nil {
		return fmt.Errorf("%d of %d deletions failed: %w", len(result.Failed), len(plan.Delete), applyErr)
	}
	return nil
}
