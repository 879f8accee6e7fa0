package app

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/snapferry/internal/config"
	"github.com/blackwell-systems/snapferry/internal/logging"
	"github.com/blackwell-systems/snapferry/internal/output"
	"github.com/blackwell-systems/snapferry/internal/replicator"
	"github.com/blackwell-systems/snapferry/internal/store"
	"github.com/blackwell-systems/snapferry/internal/watcher"
)

var (
	statusPlan bool

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show snapshots at both locations",
		Long: `Scan the source and destination and list their snapshots. Snapshots present
at both locations are marked as shared; the newest shared snapshot of a
subvolume is the parent of its next incremental transfer.

With --plan the directives the next backup would execute are shown as well.
Nothing is changed.`,
		Example: `  snapferry status
  snapferry status --plan`,
		RunE: runStatus,
	}
)

func init() {
	statusCmd.Flags().BoolVar(&statusPlan, "plan", false, "show what the next backup would do")
	RootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}

	spinner := output.NewSpinner("Scanning snapshot directories")
	spinner.Start()
	src, dst, err := scanLocations(commandContext(cmd), cfg)
	spinner.Stop()
	if err != nil {
		return err
	}

	fmt.Print(output.RenderLocationTable(src, dst))
	fmt.Println()

	fmt.Printf("Source: %s\n\n", src.Path())
	fmt.Print(output.RenderSnapshotTable(src, dst))
	fmt.Println()

	fmt.Printf("Destination: %s\n\n", dst.Path())
	fmt.Print(output.RenderSnapshotTable(dst, src))
	fmt.Println()

	if statusPlan {
		fmt.Println("Next backup:")
		fmt.Println()
		planner := replicator.New(src, dst, nil, replicator.WithLogger(logging.Discard()))
		fmt.Print(output.RenderPlanTable(planner.PlanAll()))
		fmt.Println()
	}

	printHistory(cfg, src.Subvolumes())
	printDaemonStatus()
	return nil
}

// printHistory shows the newest recorded run and when each subvolume was
// last replicated, if the database has them. It never creates the database.
func printHistory(cfg *config.Config, subvolumes []string) {
	path, err := getDBPath(cfg)
	if err != nil {
		return
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Println("Last run:   none recorded")
		return
	}

	st, err := store.New(path)
	if err != nil {
		return
	}
	defer st.Close()

	runs, err := st.ListRuns(1)
	switch {
	case errors.Is(err, store.ErrNotInitialized), err == nil && len(runs) == 0:
		fmt.Println("Last run:   none recorded")
		return
	case err != nil:
		fmt.Println("Last run:   unavailable:", err)
		return
	default:
		run := runs[0]
		fmt.Printf("Last run:   %s %s (%s, %s)\n",
			run.Kind, run.Status, run.StartedAt.Local().Format("2006-01-02 15:04:05"), run.ID)
	}

	if len(subvolumes) == 0 {
		return
	}
	fmt.Println("Last replicated:")
	for _, sub := range subvolumes {
		last, err := st.LastSuccessfulTransfer(sub)
		switch {
		case err != nil:
			fmt.Printf("  %-20s unavailable: %v\n", sub, err)
		case last == nil:
			fmt.Printf("  %-20s never\n", sub)
		default:
			fmt.Printf("  %-20s %s (%s, %s)\n",
				sub, last.Snapshot, last.Action, last.CreatedAt.Local().Format("2006-01-02 15:04:05"))
		}
	}
}

func printDaemonStatus() {
	pidFile, err := getDefaultPIDFile()
	if err != nil {
		return
	}
	running, err := watcher.IsDaemonRunning(pidFile)
	switch {
	case err != nil:
		fmt.Println("Watcher:    unknown:", err)
	case running:
		fmt.Println("Watcher:    running")
	default:
		fmt.Println("Watcher:    stopped (run 'snapferry watch --daemon')")
	}
}
