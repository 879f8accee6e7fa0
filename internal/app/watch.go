package app

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/blackwell-systems/snapferry/internal/config"
	"github.com/blackwell-systems/snapferry/internal/output"
	"github.com/blackwell-systems/snapferry/internal/watcher"
)

var (
	watchDaemon      bool
	watchDaemonChild bool
	watchPIDFile     string
	watchLogFile     string
	watchStop        bool

	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Back up whenever a new snapshot appears",
		Long: `Watch the source directory and run a backup whenever a new snapshot is
created there.

Snapshot events are debounced (watch.debounce) so a burst of snapshots taken
together starts a single backup. A cron schedule (watch.schedule) adds
periodic backups. Only one backup runs at a time; triggers that arrive while a
backup is running are coalesced into one follow-up run. With watch.cleanup the
source is pruned after each backup.

Watch modes:
  • Foreground (default): Run in current terminal with Ctrl+C to stop
  • Daemon: Run as background process
  • Stop: Stop a running daemon`,
		Example: `  # Run in foreground (Ctrl+C to stop)
  snapferry watch

  # Run as background daemon
  snapferry watch --daemon

  # Stop running daemon
  snapferry watch --stop

  # Use custom PID and log files
  snapferry watch --daemon --pid-file /tmp/watch.pid --log-file /tmp/watch.log`,
		RunE: runWatch,
	}
)

func init() {
	watchCmd.Flags().BoolVar(&watchDaemon, "daemon", false, "run as background daemon")
	watchCmd.Flags().BoolVar(&watchDaemonChild, "daemon-child", false, "internal flag for daemon child process")
	watchCmd.Flags().StringVar(&watchPIDFile, "pid-file", "", "PID file path (default: ~/.snapferry/watch.pid)")
	watchCmd.Flags().StringVar(&watchLogFile, "log-file", "", "log file path (default: ~/.snapferry/watch.log)")
	watchCmd.Flags().BoolVar(&watchStop, "stop", false, "stop running daemon")

	// Hide the internal daemon-child flag from help
	watchCmd.Flags().MarkHidden("daemon-child")

	RootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	// Get default paths if not specified
	if watchPIDFile == "" {
		defaultPID, err := getDefaultPIDFile()
		if err != nil {
			return fmt.Errorf("failed to get default PID file path: %w", err)
		}
		watchPIDFile = defaultPID
	}

	if watchLogFile == "" {
		defaultLog, err := getDefaultLogFile()
		if err != nil {
			return fmt.Errorf("failed to get default log file path: %w", err)
		}
		watchLogFile = defaultLog
	}

	// Handle stop command
	if watchStop {
		return stopWatchDaemon()
	}

	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}

	// Handle daemon mode
	if watchDaemon {
		return startWatchDaemon()
	}

	s, err := newSession(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	w, err := newWatcher(s)
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	// Handle daemon child process
	if watchDaemonChild {
		// stdout and stderr are redirected to the log file.
		return w.Run(commandContext(cmd), watchPIDFile)
	}

	return runWatchForeground(cmd, w, cfg)
}

// newWatcher creates a watcher on the source directory that backs up, and
// optionally cleans up, on every trigger.
func newWatcher(s *session) (*watcher.Watcher, error) {
	opts := []watcher.Option{
		watcher.WithLogger(s.log),
		watcher.WithDebounce(s.cfg.Watch.Debounce),
		watcher.WithSchedule(s.cfg.Watch.Schedule),
		watcher.WithInitialRun(),
	}
	return watcher.New(s.cfg.Source, s.onTrigger, opts...)
}

// onTrigger is the watcher's run function.
func (s *session) onTrigger(ctx context.Context, t watcher.Trigger) error {
	log := s.log.WithField("reason", t.Reason)
	if t.Path != "" {
		log = log.WithField("path", t.Path)
	}
	log.Info("Starting backup")

	report, err := s.backup(ctx, nil, nil)
	if report != nil {
		log.WithFields(logrus.Fields{
			"transferred": report.Count("ok"),
			"skipped":     report.Count("skipped"),
			"failed":      report.Count("failed"),
			"duration":    report.Duration(),
		}).Info("Backup finished")
		for _, o := range report.Failed() {
			log.WithField("subvolume", o.Directive.Subvolume).WithError(o.Err).Warn("Transfer failed")
		}
	}
	if err != nil || !s.cfg.Watch.Cleanup {
		return err
	}

	plan, err := s.planCleanup(ctx, targetSource)
	if err != nil {
		return err
	}
	if len(plan.Delete) == 0 {
		return nil
	}
	_, err = s.cleanup(ctx, plan, nil)
	return err
}

// daemonArgs forwards the global flags to the daemon child.
func daemonArgs() []string {
	var args []string
	add := func(name, value string) {
		if value != "" {
			args = append(args, "--"+name, value)
		}
	}
	add("config", configPath)
	add("db", dbPath)
	add("log-level", logLevel)
	add("source", sourcePath)
	add("destination", destPath)
	if dryRun {
		args = append(args, "--dry-run")
	}
	add("pid-file", watchPIDFile)
	return args
}

func stopWatchDaemon() error {
	// Check if daemon is running
	running, err := watcher.IsDaemonRunning(watchPIDFile)
	if err != nil {
		return fmt.Errorf("failed to check daemon status: %w", err)
	}

	if !running {
		fmt.Println("Daemon is not running")
		return nil
	}

	spinner := output.NewSpinner("Stopping daemon")
	spinner.Start()
	if err := watcher.StopDaemon(watchPIDFile); err != nil {
		spinner.Stop()
		return fmt.Errorf("failed to stop daemon: %w", err)
	}
	spinner.StopWithMessage("✓ Daemon stopped")

	return nil
}

func startWatchDaemon() error {
	spinner := output.NewSpinner("Starting daemon")
	spinner.Start()
	pid, err := watcher.StartDaemon(watchPIDFile, watchLogFile, daemonArgs()...)
	if err != nil {
		spinner.Stop()
		return fmt.Errorf("failed to start daemon: %w", err)
	}
	spinner.StopWithMessage(fmt.Sprintf("✓ Daemon started (PID %d)", pid))

	fmt.Printf("\nSnapshot watcher started\n")
	fmt.Printf("  PID file: %s\n", watchPIDFile)
	fmt.Printf("  Log file: %s\n", watchLogFile)
	fmt.Printf("\nTo stop: snapferry watch --stop\n")

	return nil
}

func runWatchForeground(cmd *cobra.Command, w *watcher.Watcher, cfg *config.Config) error {
	fmt.Printf("Watching %s for new snapshots (press Ctrl+C to stop)...\n", cfg.Source)
	if cfg.Watch.Schedule != "" {
		fmt.Printf("Scheduled backups: %s\n", cfg.Watch.Schedule)
	}
	fmt.Println()

	if err := w.Run(commandContext(cmd), ""); err != nil {
		return err
	}

	fmt.Printf("Watcher stopped after %d run(s)\n", w.Runs())
	return nil
}
