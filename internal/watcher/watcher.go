package watcher

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/blackwell-systems/snapferry/internal/snapshot"
)

// Trigger reasons.
const (
	ReasonStartup  = "startup"
	ReasonSnapshot = "new snapshot"
	ReasonSchedule = "schedule"
)

// Trigger describes why a run was requested.
type Trigger struct {
	Reason string
	Path   string // snapshot path for ReasonSnapshot
	At     time.Time
}

// RunFunc performs one backup run.
type RunFunc func(ctx context.Context, t Trigger) error

// Watcher queues runs from filesystem events and a cron schedule and
// executes them on a single worker.
type Watcher struct {
	root       string
	run        RunFunc
	debounce   time.Duration
	schedule   string
	initialRun bool
	log        logrus.FieldLogger

	fsw      *fsnotify.Watcher
	cron     *cron.Cron
	triggers chan Trigger
	stopCh   chan struct{}
	stopOnce sync.Once
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mu    sync.Mutex
	timer *time.Timer
	runs  int
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets how long to wait after the last snapshot event before
// queueing a run.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// WithSchedule adds a standard cron schedule. Empty disables it.
func WithSchedule(spec string) Option {
	return func(w *Watcher) { w.schedule = spec }
}

// WithInitialRun queues a run as soon as the watcher starts.
func WithInitialRun() Option {
	return func(w *Watcher) { w.initialRun = true }
}

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(w *Watcher) {
		if log != nil {
			w.log = log
		}
	}
}

// New creates a Watcher for the snapshot directory root.
func New(root string, run RunFunc, opts ...Option) (*Watcher, error) {
	if root == "" {
		return nil, errors.New("watch root cannot be empty")
	}
	if run == nil {
		return nil, errors.New("run function cannot be nil")
	}

	w := &Watcher{
		root:     root,
		run:      run,
		log:      logrus.StandardLogger(),
		triggers: make(chan Trigger, 1),
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start begins watching. Runs receive a context derived from ctx that is
// cancelled by Stop.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(w.root); err != nil {
		fsw.Close()
		return fmt.Errorf("failed to watch %s: %w", w.root, err)
	}

	if w.schedule != "" {
		c := cron.New()
		_, err := c.AddFunc(w.schedule, func() {
			w.enqueue(Trigger{Reason: ReasonSchedule, At: time.Now()})
		})
		if err != nil {
			fsw.Close()
			return fmt.Errorf("invalid schedule %q: %w", w.schedule, err)
		}
		w.cron = c
	}

	w.fsw = fsw
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.wg.Add(2)
	go w.watchEvents()
	go w.worker(runCtx)

	if w.cron != nil {
		w.cron.Start()
	}
	if w.initialRun {
		w.enqueue(Trigger{Reason: ReasonStartup, At: time.Now()})
	}

	w.log.WithFields(logrus.Fields{
		"path":     w.root,
		"schedule": w.schedule,
		"debounce": w.debounce,
	}).Info("Watching for new snapshots")
	return nil
}

// Stop halts the watcher, cancels a run in progress and waits for the
// worker to exit. It is safe to call more than once and before Start.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stopCh)

		if w.cron != nil {
			<-w.cron.Stop().Done()
		}

		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()

		if w.cancel != nil {
			w.cancel()
		}
		if w.fsw != nil {
			err = w.fsw.Close()
		}
		w.wg.Wait()
	})
	return err
}

// Runs returns how many runs the worker has started.
func (w *Watcher) Runs() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.runs
}

// enqueue queues t unless a run is already pending.
func (w *Watcher) enqueue(t Trigger) {
	select {
	case w.triggers <- t:
		w.log.WithField("reason", t.Reason).Debug("Queued backup run")
	default:
		w.log.WithField("reason", t.Reason).Debug("Backup run already pending")
	}
}

func (w *Watcher) watchEvents() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("fsnotify error")
		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	// inotify reports a rename into the directory (IN_MOVED_TO) as Create,
	// so snapshots moved into place are picked up here too.
	if !event.Has(fsnotify.Create) {
		return
	}
	if !snapshot.IsSnapshotName(filepath.Base(event.Name)) {
		return
	}

	w.log.WithField("path", event.Name).Debug("New snapshot detected")
	t := Trigger{Reason: ReasonSnapshot, Path: event.Name}

	if w.debounce <= 0 {
		t.At = time.Now()
		w.enqueue(t)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	// Stop closes stopCh before stopping the timer under mu, so no timer is
	// armed once Stop has begun.
	select {
	case <-w.stopCh:
		return
	default:
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		t.At = time.Now()
		w.enqueue(t)
	})
}

func (w *Watcher) worker(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case t := <-w.triggers:
			w.mu.Lock()
			w.runs++
			w.mu.Unlock()

			log := w.log.WithField("reason", t.Reason)
			if t.Path != "" {
				log = log.WithField("path", t.Path)
			}
			log.Info("Starting backup run")
			if err := w.run(ctx, t); err != nil {
				log.WithError(err).Error("Backup run failed")
			}
		case <-w.stopCh:
			return
		}
	}
}
