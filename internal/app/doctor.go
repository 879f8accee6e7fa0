package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/snapferry/internal/btrfs"
	"github.com/blackwell-systems/snapferry/internal/config"
	"github.com/blackwell-systems/snapferry/internal/location"
	"github.com/blackwell-systems/snapferry/internal/snapshot"
	"github.com/blackwell-systems/snapferry/internal/store"
	"github.com/blackwell-systems/snapferry/internal/watcher"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose common issues and check system health",
	Long: `Runs diagnostic checks on your snapferry setup.

Checks:
  • Configuration is valid
  • The btrfs binary can be run
  • Source and destination directories are readable
  • History database is accessible
  • Watcher daemon is running

Exits 1 when a critical check fails and 2 when there are only warnings.`,
	RunE: runDoctor,
}

func init() {
	RootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	fmt.Println("Running snapferry diagnostics...")
	fmt.Println()

	// Critical issues fail the command; warnings exit 2.
	criticalIssues := 0
	warningIssues := 0

	// Check 1: configuration
	cfg, file, err := readConfig(nil)
	if err != nil {
		fmt.Println("✗ Cannot load configuration:", err)
		fmt.Println("  Action: Fix the config file or run 'snapferry config init --force'")
		fmt.Println()
		fmt.Printf("Found 1 critical issue(s) and 0 warning(s).\n")
		return fmt.Errorf("diagnostics failed")
	}
	if file == "" {
		fmt.Println("⚠ No config file found, using defaults and environment")
		fmt.Println("  Action: Run 'snapferry config init'")
		warningIssues++
	} else {
		fmt.Println("✓ Config file:", file)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Println("✗ Invalid configuration:", err)
		criticalIssues++
	} else {
		fmt.Println("✓ Configuration is valid")
	}

	ctx, cancel := context.WithTimeout(commandContext(cmd), 10*time.Second)
	defer cancel()

	// Check 2: btrfs binary
	if path, err := exec.LookPath(cfg.Btrfs.Binary); err != nil {
		fmt.Printf("✗ btrfs binary %q not found\n", cfg.Btrfs.Binary)
		fmt.Println("  Action: Install btrfs-progs or set btrfs.binary")
		criticalIssues++
	} else {
		client := btrfs.New(btrfs.WithBinary(path))
		if version, err := client.Version(ctx); err != nil {
			fmt.Println("✗ Cannot run btrfs:", err)
			criticalIssues++
		} else {
			fmt.Printf("✓ %s (%s)\n", version, path)
		}
	}

	// Check 3: snapshot directories
	reg := snapshot.NewRegistry()
	scanned := 0
	for _, loc := range []struct{ name, path string }{
		{"Source", cfg.Source},
		{"Destination", cfg.Destination},
	} {
		if loc.path == "" {
			continue
		}
		l, err := location.Scan(appFs, loc.path, reg)
		if err != nil {
			fmt.Printf("✗ %s not readable: %v\n", loc.name, err)
			criticalIssues++
			continue
		}
		fmt.Printf("✓ %s: %s (%d snapshots, %d subvolumes)\n",
			loc.name, l.Path(), l.Len(), len(l.Subvolumes()))
		scanned++
	}
	if scanned == 2 {
		shared := 0
		for _, snap := range reg.All() {
			if len(snap.Locations()) == 2 {
				shared++
			}
		}
		fmt.Printf("✓ Snapshots: %d distinct, %d at both locations\n", reg.Len(), shared)
	}

	// Check 4: history database
	if warn, crit := checkDatabase(cfg); crit {
		criticalIssues++
	} else if warn {
		warningIssues++
	}

	// Check 5: daemon
	pidFile, err := getDefaultPIDFile()
	if err != nil {
		fmt.Println("⚠ Failed to get PID file path:", err)
		warningIssues++
	} else if running, err := watcher.IsDaemonRunning(pidFile); err != nil {
		fmt.Println("⚠ Failed to check daemon status:", err)
		warningIssues++
	} else if !running {
		fmt.Println("⚠ Watcher daemon not running")
		fmt.Println("  Action: Run 'snapferry watch --daemon' for automatic backups")
		warningIssues++
	} else {
		fmt.Println("✓ Watcher daemon running")
	}

	// Check 6: privileges
	if os.Geteuid() != 0 && !cfg.Btrfs.DryRun {
		fmt.Println("⚠ Not running as root; btrfs send and receive usually need it")
		warningIssues++
	}

	fmt.Println()
	if criticalIssues == 0 && warningIssues == 0 {
		fmt.Println("✓ All checks passed!")
		fmt.Println()
		fmt.Println("Next steps:")
		fmt.Println("  • Preview: snapferry status --plan")
		fmt.Println("  • Replicate: snapferry backup")
		return nil
	}

	if criticalIssues > 0 {
		fmt.Printf("Found %d critical issue(s) and %d warning(s).\n", criticalIssues, warningIssues)
		return fmt.Errorf("diagnostics failed")
	}

	fmt.Printf("Found %d warning(s). Backups can run but the setup is not complete.\n", warningIssues)
	return &ExitError{Code: 2}
}

// checkDatabase reports whether the database produced a warning or a
// critical issue.
func checkDatabase(cfg *config.Config) (warning, critical bool) {
	path, err := getDBPath(cfg)
	if err != nil {
		fmt.Println("✗ Database path error:", err)
		return false, true
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Println("⚠ No history database yet:", path)
		fmt.Println("  Action: Run 'snapferry backup'")
		return true, false
	}

	st, err := store.New(path)
	if err != nil {
		fmt.Println("✗ Cannot open database:", err)
		return false, true
	}
	defer st.Close()

	runs, err := st.ListRuns(1)
	switch {
	case errors.Is(err, store.ErrNotInitialized):
		fmt.Println("⚠ History database is empty:", path)
		fmt.Println("  Action: Run 'snapferry backup'")
		return true, false
	case err != nil:
		fmt.Println("✗ Cannot read database:", err)
		return false, true
	case len(runs) == 0:
		fmt.Println("✓ Database found:", path)
		return false, false
	case runs[0].Status == store.StatusFailed || runs[0].Status == store.StatusPartial:
		fmt.Printf("⚠ Last %s run %s: %s\n", runs[0].Kind, runs[0].Status, runs[0].ID)
		fmt.Printf("  Action: Run 'snapferry history --run %s'\n", runs[0].ID)
		return true, false
	default:
		fmt.Printf("✓ Database found: %s (last run %s)\n", path, runs[0].Status)
		return false, false
	}
}
