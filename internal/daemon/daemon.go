package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"animeindex/internal/catalog"
	"animeindex/internal/config"
	"animeindex/internal/logging"
	"animeindex/internal/queue"
	"animeindex/internal/scan"
	"animeindex/internal/workflow"
)

// Daemon coordinates the background processing services. The process holding
// the daemon lock is the primary: it also runs the scan schedule, the ops
// listener and log retention. Other daemons on the same data directory run
// their worker lanes only, claiming from the shared queue.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *queue.Store
	catalog  *catalog.Store
	workflow *workflow.Manager
	scanner  *scan.Scanner
	ops      *apiServer

	lockPath string
	lock     *flock.Flock
	primary  atomic.Bool

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	runErr  error
}

// Status represents daemon runtime information.
type Status struct {
	Running         bool
	Primary         bool
	Workflow        workflow.StatusSummary
	QueueDBPath     string
	CatalogDBPath   string
	LockFilePath    string
	OpsAddress      string
	ScanSchedule    string
	ScannerDisabled bool
}

// New constructs a daemon with initialized dependencies. A nil scanner
// disables scheduled scans.
func New(cfg *config.Config, store *queue.Store, catalogStore *catalog.Store, logger *slog.Logger, wf *workflow.Manager, scanner *scan.Scanner) (*Daemon, error) {
	if cfg == nil || store == nil || catalogStore == nil || wf == nil {
		return nil, errors.New("daemon requires config, stores, and workflow manager")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := filepath.Join(cfg.Paths.DataDir, "animeindex.lock")
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		catalog:  catalogStore,
		workflow: wf,
		scanner:  scanner,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.ops = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start launches the worker lanes. When the daemon lock is free it also
// prunes old run logs and starts the scan scheduler and the ops listener.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	d.primary.Store(ok)
	if !ok {
		d.logger.Info("daemon lock held by another process; running worker lanes only",
			logging.String("lock", d.lockPath),
			logging.String(logging.FieldEventType, "daemon_secondary"),
		)
	}

	runCtx, cancel := context.WithCancel(ctx)
	if d.primary.Load() {
		d.pruneLogs()
		if err := d.ops.start(runCtx); err != nil {
			cancel()
			_ = d.lock.Unlock()
			d.primary.Store(false)
			return fmt.Errorf("start ops listener: %w", err)
		}
	}
	d.cancel = cancel
	d.running.Store(true)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		summary, err := d.workflow.Run(runCtx, workflow.ModeDaemon)
		if err != nil {
			d.mu.Lock()
			d.runErr = err
			d.mu.Unlock()
			logging.ErrorWithContext(d.logger, "worker stopped with error", "worker_failed",
				logging.String(logging.FieldErrorHint, "check handler health and queue database"),
				logging.Error(err),
			)
			// Without workers the daemon has nothing to do.
			cancel()
			return
		}
		d.logger.Info("worker stopped", logging.Int("processed", summary.Processed))
	}()

	if d.primary.Load() && d.scanner != nil && d.cfg.Scan.Schedule != "" {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := d.scanner.Schedule(runCtx, d.cfg.Scan.Schedule); err != nil {
				logging.WarnWithContext(d.logger, "scan scheduler stopped", "scan_scheduler_failed",
					logging.String(logging.FieldErrorHint, "check scan.schedule"),
					logging.Error(err),
				)
			}
		}()
	}

	d.logger.Info("animeindex daemon started",
		logging.String("lock", d.lockPath),
		logging.Bool("primary", d.primary.Load()),
		logging.String("ops_address", d.ops.address()),
		logging.String("scan_schedule", d.cfg.Scan.Schedule),
	)
	return nil
}

// Wait blocks until the daemon's background work has stopped and returns the
// worker error, if any.
func (d *Daemon) Wait() error {
	d.wg.Wait()
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.runErr
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.wg.Wait()
	if d.primary.Load() {
		d.ops.stop()
		if err := d.lock.Unlock(); err != nil {
			d.logger.Warn("failed to release daemon lock", logging.Error(err))
		}
		d.primary.Store(false)
	}
	d.running.Store(false)
	d.logger.Info("animeindex daemon stopped")
}

// Run starts the daemon and blocks until ctx is cancelled or the workers stop.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}
	err := d.Wait()
	d.Stop()
	return err
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	return Status{
		Running:         d.running.Load(),
		Primary:         d.primary.Load(),
		Workflow:        d.workflow.Status(ctx),
		QueueDBPath:     d.cfg.QueueDatabasePath(),
		CatalogDBPath:   d.cfg.CatalogDatabasePath(),
		LockFilePath:    d.lockPath,
		OpsAddress:      d.ops.address(),
		ScanSchedule:    d.cfg.Scan.Schedule,
		ScannerDisabled: d.scanner == nil,
	}
}

// pruneLogs removes run logs older than logging.retention_days. The newest run
// log belongs to this process and is always kept.
func (d *Daemon) pruneLogs() {
	dir := d.cfg.Paths.LogDir
	current, err := logging.LatestLogFile(dir, config.LogFilePattern)
	if err != nil {
		d.logger.Debug("list run logs failed", logging.Error(err))
	}
	target := logging.RetentionTarget{Dir: dir, Pattern: config.LogFilePattern}
	if current != "" {
		target.Exclude = []string{current}
	}
	logging.CleanupOldLogs(d.logger, d.cfg.Logging.RetentionDays, target)
}
