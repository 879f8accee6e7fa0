// Package watcher runs backups when new snapshots appear or on a schedule.
//
// The Watcher listens for fsnotify create events in the source snapshot
// directory. Events whose base name parses as a snapshot start a debounce
// timer; when the timer fires a trigger is queued. A cron schedule can queue
// triggers as well. A single worker goroutine executes triggers one at a time,
// and triggers that arrive while a run is in progress collapse into one
// pending run.
//
// Key features:
//   - fsnotify events filtered to snapshot names
//   - Debounced bursts (one run per batch of new snapshots)
//   - Standard cron schedules via robfig/cron
//   - Daemon mode support with PID file management
//   - Graceful shutdown with SIGTERM/SIGINT handling
//
// Example usage:
//
//	w, err := watcher.New("/mnt/snapshots", runBackup,
//		watcher.WithDebounce(5*time.Second),
//		watcher.WithSchedule("@hourly"),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	if err := w.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//	defer w.Stop()
package watcher
