package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/blackwell-systems/snapferry/internal/btrfs"
	"github.com/blackwell-systems/snapferry/internal/config"
	"github.com/blackwell-systems/snapferry/internal/location"
	"github.com/blackwell-systems/snapferry/internal/logging"
	"github.com/blackwell-systems/snapferry/internal/metrics"
	"github.com/blackwell-systems/snapferry/internal/replicator"
	"github.com/blackwell-systems/snapferry/internal/retention"
	"github.com/blackwell-systems/snapferry/internal/snapshot"
	"github.com/blackwell-systems/snapferry/internal/store"
)

var (
	// appFs is the filesystem snapshot directories are scanned on.
	appFs afero.Fs = afero.NewOsFs()
	// logOutput receives log records; stdout is reserved for tables.
	logOutput io.Writer = os.Stderr
)

// ExitError makes main exit with Code without printing an error.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// flagOverrides returns the config keys set by persistent flags.
func flagOverrides() map[string]any {
	overrides := make(map[string]any)
	if sourcePath != "" {
		overrides["source"] = sourcePath
	}
	if destPath != "" {
		overrides["destination"] = destPath
	}
	if dryRun {
		overrides["btrfs.dry_run"] = true
	}
	if logLevel != "" {
		overrides["logging.level"] = logLevel
	}
	if dbPath != "" {
		overrides["state.database"] = dbPath
	}
	return overrides
}

// readConfig merges defaults, the config file, the environment and flags
// without validating the result. It also returns the config file read, which
// is empty when none was found.
func readConfig(extra map[string]any) (*config.Config, string, error) {
	loader := config.NewLoader(
		config.WithConfigFile(configPath),
		config.WithOverrides(flagOverrides()),
		config.WithOverrides(extra),
	)
	cfg, err := loader.Load()
	if err != nil {
		return nil, "", err
	}
	return cfg, loader.FilePath(), nil
}

// loadConfig is readConfig followed by validation.
func loadConfig(extra map[string]any) (*config.Config, error) {
	cfg, _, err := readConfig(extra)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// commandContext returns the command's context, or a background context
// when the command runs outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if cmd != nil && cmd.Context() != nil {
		return cmd.Context()
	}
	return context.Background()
}

// session holds everything a backup or cleanup run needs.
type session struct {
	cfg     *config.Config
	log     *logrus.Logger
	store   *store.Store
	client  *btrfs.Client
	metrics *metrics.Recorder
}

// newSession builds the logger, opens the history database and creates the
// btrfs client for cfg.
func newSession(cfg *config.Config) (*session, error) {
	log, err := logging.New(cfg.Logging, logOutput)
	if err != nil {
		return nil, err
	}

	path, err := getDBPath(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to get database path: %w", err)
	}
	st, err := store.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := st.CreateSchema(); err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to create database schema: %w", err)
	}

	client := btrfs.New(
		btrfs.WithBinary(cfg.Btrfs.Binary),
		btrfs.WithDryRun(cfg.Btrfs.DryRun),
		btrfs.WithLogger(log),
	)
	log.WithFields(logrus.Fields{
		"database": path,
		"binary":   client.Binary(),
		"dry_run":  client.DryRun(),
	}).Debug("Session opened")

	return &session{
		cfg:     cfg,
		log:     log,
		store:   st,
		client:  client,
		metrics: metrics.New(),
	}, nil
}

func (s *session) Close() error {
	return s.store.Close()
}

// scanLocations scans source and destination against one registry.
func scanLocations(ctx context.Context, cfg *config.Config) (src, dst *location.Location, err error) {
	locs, err := location.ScanAll(ctx, appFs, snapshot.NewRegistry(), cfg.Source, cfg.Destination)
	if err != nil {
		return nil, nil, err
	}
	return locs[0], locs[1], nil
}

func (s *session) startRun(kind string) (*store.Run, error) {
	run := &store.Run{
		Kind:        kind,
		Source:      s.cfg.Source,
		Destination: s.cfg.Destination,
		DryRun:      s.cfg.Btrfs.DryRun,
	}
	if err := s.store.InsertRun(run); err != nil {
		return nil, fmt.Errorf("failed to record run: %w", err)
	}
	return run, nil
}

func (s *session) finishRun(run *store.Run, status string, runErr error) {
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	if err := s.store.FinishRun(run.ID, status, time.Now(), msg); err != nil {
		s.log.WithError(err).Warn("Failed to record run result")
	}
}

// exportMetrics writes the textfile when state.metrics_file is set.
func (s *session) exportMetrics() {
	if s.cfg.State.MetricsFile == "" {
		return
	}
	if err := s.metrics.WriteTextfile(s.cfg.State.MetricsFile); err != nil {
		s.log.WithError(err).Warn("Failed to export metrics")
	}
}

// backup replicates every subvolume (or only subvolumes, when given) and
// records the run. onOutcome, if set, is called after every directive.
func (s *session) backup(ctx context.Context, subvolumes []string, onOutcome func(replicator.Outcome)) (*replicator.Report, error) {
	run, err := s.startRun(store.KindBackup)
	if err != nil {
		return nil, err
	}

	src, dst, err := scanLocations(ctx, s.cfg)
	if err != nil {
		s.finishRun(run, store.StatusFailed, err)
		return nil, err
	}

	r := replicator.New(src, dst, s.client,
		replicator.WithLogger(s.log.WithField("run", run.ID)),
		replicator.WithSubvolumes(subvolumes...),
		replicator.WithOutcomeHook(func(o replicator.Outcome) {
			s.recordTransfer(run.ID, o)
			if onOutcome != nil {
				onOutcome(o)
			}
		}),
	)

	report, runErr := r.Run(ctx)
	s.finishRun(run, report.Status(), runErr)
	s.metrics.RecordBackup(report)
	s.exportMetrics()
	return report, runErr
}

func (s *session) recordTransfer(runID string, o replicator.Outcome) {
	t := &store.Transfer{
		RunID:     runID,
		Subvolume: o.Directive.Subvolume,
		Snapshot:  o.Directive.SnapshotName(),
		Action:    o.Directive.Action.String(),
		Status:    o.Status(),
		Duration:  o.Duration,
	}
	if o.Directive.Parent != nil {
		t.Parent = o.Directive.ParentName()
	}
	if o.Err != nil {
		t.Error = o.Err.Error()
	}
	if err := s.store.InsertTransfer(t); err != nil {
		s.log.WithError(err).Warn("Failed to record transfer")
	}
}

// Cleanup targets.
const (
	targetSource      = "source"
	targetDestination = "destination"
)

// planCleanup scans both locations and plans retention for target, using
// the other location as the peer whose shared snapshots are protected.
func (s *session) planCleanup(ctx context.Context, target string) (*retention.Plan, error) {
	src, dst, err := scanLocations(ctx, s.cfg)
	if err != nil {
		return nil, err
	}

	loc, peer := src, dst
	switch target {
	case targetSource, "":
	case targetDestination:
		loc, peer = dst, src
	default:
		return nil, fmt.Errorf("invalid target %q: must be %q or %q", target, targetSource, targetDestination)
	}
	return retention.NewPlan(loc, peer, s.cfg.Retention.Policy(), time.Now()), nil
}

// cleanup deletes what plan marks for deletion and records the run.
// onResult, if set, is called after every deletion attempt.
func (s *session) cleanup(ctx context.Context, plan *retention.Plan, onResult func(retention.Decision, error)) (*retention.Result, error) {
	run, err := s.startRun(store.KindCleanup)
	if err != nil {
		return nil, err
	}

	cleaner := retention.NewCleaner(s.client, s.log.WithField("run", run.ID)).OnResult(onResult)
	result, applyErr := cleaner.Apply(ctx, plan)

	for _, d := range result.Deleted {
		s.recordDeletion(run.ID, plan.Location, d, nil)
	}
	for _, f := range result.Failed {
		s.recordDeletion(run.ID, plan.Location, f.Decision, f.Err)
	}

	status := store.StatusOK
	switch {
	case len(result.Failed) == 0:
	case len(result.Deleted) == 0:
		status = store.StatusFailed
	default:
		status = store.StatusPartial
	}
	s.finishRun(run, status, applyErr)
	s.metrics.RecordCleanup(result, run.StartedAt, time.Now())
	s.exportMetrics()
	return result, applyErr
}

func (s *session) recordDeletion(runID, loc string, d retention.Decision, delErr error) {
	del := &store.Deletion{
		RunID:     runID,
		Location:  loc,
		Subvolume: d.Snapshot.Subvolume(),
		Snapshot:  d.Snapshot.Name(),
		Path:      d.Path,
		Status:    store.StatusOK,
	}
	if delErr != nil {
		del.Status = store.StatusFailed
		del.Error = delErr.Error()
	}
	if err := s.store.InsertDeletion(del); err != nil {
		s.log.WithError(err).Warn("Failed to record deletion")
	}
}
