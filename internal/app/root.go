package app

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/snapferry/internal/config"
)

var (
	configPath string
	dbPath     string
	logLevel   string
	dryRun     bool
	sourcePath string
	destPath   string

	// RootCmd is the root command for snapferry
	RootCmd = &cobra.Command{
		Use:   "snapferry",
		Short: "Incremental btrfs snapshot replication",
		Long: `snapferry replicates read-only btrfs snapshots from a source directory to a
destination directory with btrfs send/receive.

For every subvolume it sends the newest source snapshot. When the destination
already holds an older snapshot of the same subvolume the transfer is
incremental against the newest snapshot both sides share; otherwise the
snapshot is sent in full. Subvolumes that are already up to date are skipped.

Snapshot directories are named <subvolume>-<YYYY-MM-DD.HH-MM-SS>, for example
home-2024-03-11.02-30-00. Other entries are ignored.

Quick Start:
  1. snapferry config init --source /mnt/fsroot/snapshots --destination /mnt/backup
  2. snapferry status --plan
  3. snapferry backup
  4. snapferry cleanup

Examples:
  # Show what a backup would do
  snapferry status --plan

  # Replicate every subvolume
  snapferry backup

  # Print the btrfs commands without running them
  snapferry backup --dry-run

  # Prune source snapshots older than two days
  snapferry cleanup --max-age 48h

  # Back up whenever a new snapshot appears
  snapferry watch --daemon`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("snapferry: incremental btrfs snapshot replication")
			fmt.Println()
			path := configPath
			if path == "" {
				path, _ = config.DefaultPath()
			}
			if _, err := os.Stat(path); os.IsNotExist(err) {
				fmt.Println("Run 'snapferry config init' to get started.")
			} else {
				fmt.Println("Tip: Run 'snapferry status --plan' to see pending transfers.")
				fmt.Println("     Run 'snapferry backup' to replicate snapshots.")
			}
			fmt.Println("Run 'snapferry --help' for the full reference.")
			return nil
		},
	}
)

func init() {
	// Global flags
	RootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: ~/.config/snapferry/config.yaml)")
	RootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path (default: ~/.snapferry/snapferry.db)")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")
	RootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "log btrfs commands instead of running them")
	RootCmd.PersistentFlags().StringVar(&sourcePath, "source", "", "source snapshot directory")
	RootCmd.PersistentFlags().StringVar(&destPath, "destination", "", "destination snapshot directory")

	// Enable cobra's built-in suggestion feature for unknown subcommands
	RootCmd.SuggestionsMinimumDistance = 2
}

// Execute runs the root command
func Execute() error {
	return RootCmd.Execute()
}

// stateDir returns ~/.snapferry, creating it if needed.
func stateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	dir := filepath.Join(home, ".snapferry")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create snapferry directory: %w", err)
	}
	return dir, nil
}

// getDBPath returns the database path: the --db flag, then state.database
// from cfg, then the default. cfg may be nil.
func getDBPath(cfg *config.Config) (string, error) {
	if dbPath != "" {
		return dbPath, nil
	}
	if cfg != nil && cfg.State.Database != "" {
		return cfg.State.Database, nil
	}

	dir, err := stateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "snapferry.db"), nil
}

// getDefaultPIDFile returns the default PID file path
func getDefaultPIDFile() (string, error) {
	dir, err := stateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "watch.pid"), nil
}

// getDefaultLogFile returns the default log file path
func getDefaultLogFile() (string, error) {
	dir, err := stateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "watch.log"), nil
}
