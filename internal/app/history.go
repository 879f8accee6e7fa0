package app

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/snapferry/internal/output"
	"github.com/blackwell-systems/snapferry/internal/store"
)

var (
	historyLimit int
	historyRun   string

	historyCmd = &cobra.Command{
		Use:   "history",
		Short: "Show recorded backup and cleanup runs",
		Long: `List the backup and cleanup runs recorded in the history database, newest
first. With --run, show one run with every transfer and deletion it made.`,
		Example: `  # The last 20 runs
  snapferry history

  # Everything
  snapferry history --limit 0

  # One run in detail
  snapferry history --run 01HV6Z3X9K2M4N5P6Q7R8S9T0V`,
		RunE: runHistory,
	}
)

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of runs to show (0 for all)")
	historyCmd.Flags().StringVar(&historyRun, "run", "", "show the transfers and deletions of one run")
	RootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, _, err := readConfig(nil)
	if err != nil {
		return err
	}

	path, err := getDBPath(cfg)
	if err != nil {
		return fmt.Errorf("failed to get database path: %w", err)
	}

	// Neither the file nor the schema is created here, so a fresh install
	// reports ErrNotInitialized instead of an empty history.
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return store.ErrNotInitialized
	}
	st, err := store.New(path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer st.Close()

	if historyRun != "" {
		return showRun(st, historyRun)
	}

	runs, err := st.ListRuns(historyLimit)
	if err != nil {
		return err
	}
	fmt.Print(output.RenderRunTable(runs))
	return nil
}

func showRun(st *store.Store, id string) error {
	run, err := st.GetRun(id)
	if err != nil {
		return err
	}
	transfers, err := st.ListTransfers(id)
	if err != nil {
		return err
	}
	deletions, err := st.ListDeletions(id)
	if err != nil {
		return err
	}
	fmt.Print(output.RenderRunDetail(run, transfers, deletions))
	return nil
}
