package app

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/blackwell-systems/snapferry/internal/config"
)

const (
	ts1 = "2024-01-01.00-00-00"
	ts2 = "2024-01-02.00-00-00"
	ts3 = "2024-01-03.00-00-00"
)

type commandEnv struct {
	home string
	src  string
	dst  string
	db   string
}

// setupCommandTest points HOME, the config directory and every flag at a
// temporary directory and uses `true` as the btrfs binary. Globals are
// restored when the test ends.
func setupCommandTest(t *testing.T) *commandEnv {
	t.Helper()

	home := t.TempDir()
	env := &commandEnv{
		home: home,
		src:  filepath.Join(home, "snapshots"),
		dst:  filepath.Join(home, "backup"),
		db:   filepath.Join(home, "history.db"),
	}
	for _, dir := range []string{env.src, env.dst} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("MkdirAll: %v", err)
		}
	}

	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("SNAPFERRY_BTRFS__BINARY", "true")

	saved := struct {
		configPath, dbPath, logLevel, sourcePath, destPath string
		dryRun                                             bool
		logOutput                                          io.Writer
		backupSubvolumes                                   []string
		cleanupTarget                                      string
		cleanupMaxAge                                      time.Duration
		cleanupKeepLast, historyLimit                      int
		historyRun                                         string
		statusPlan, configForce                            bool
	}{
		configPath, dbPath, logLevel, sourcePath, destPath,
		dryRun, logOutput, backupSubvolumes,
		cleanupTarget, cleanupMaxAge, cleanupKeepLast, historyLimit,
		historyRun, statusPlan, configForce,
	}
	t.Cleanup(func() {
		configPath, dbPath, logLevel = saved.configPath, saved.dbPath, saved.logLevel
		sourcePath, destPath = saved.sourcePath, saved.destPath
		dryRun, logOutput = saved.dryRun, saved.logOutput
		backupSubvolumes = saved.backupSubvolumes
		cleanupTarget, cleanupMaxAge, cleanupKeepLast = saved.cleanupTarget, saved.cleanupMaxAge, saved.cleanupKeepLast
		historyLimit, historyRun = saved.historyLimit, saved.historyRun
		statusPlan, configForce = saved.statusPlan, saved.configForce
	})

	configPath = ""
	dbPath = env.db
	logLevel = "error"
	sourcePath = env.src
	destPath = env.dst
	dryRun = false
	logOutput = io.Discard
	backupSubvolumes = nil
	cleanupTarget = targetSource
	cleanupMaxAge = 0
	cleanupKeepLast = -1
	historyLimit = 20
	historyRun = ""
	statusPlan = false
	configForce = false

	return env
}

// snapshots creates snapshot directories named <subvolume>-<timestamp>.
func (e *commandEnv) snapshots(t *testing.T, root string, names ...string) {
	t.Helper()
	for _, name := range names {
		if err := os.MkdirAll(filepath.Join(root, name), 0755); err != nil {
			t.Fatalf("MkdirAll: %v", err)
		}
	}
}

func defaultTestConfig() *config.Config {
	cfg := config.Default()
	cfg.Source = "/src"
	cfg.Destination = "/dst"
	return cfg
}

// captureStdout replaces os.Stdout with a pipe during f(), then restores it
// and returns all bytes written to stdout.
func captureStdout(t *testing.T, f func()) string {
	t.Helper()
	origStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	os.Stdout = w

	done := make(chan string)
	go func() {
		var buf bytes.Buffer
		buf.ReadFrom(r)
		done <- buf.String()
	}()

	defer func() { os.Stdout = origStdout }()
	f()

	w.Close()
	return <-done
}
