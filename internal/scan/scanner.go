package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"animeindex/internal/catalog"
	"animeindex/internal/config"
	"animeindex/internal/enrich"
	"animeindex/internal/logging"
	"animeindex/internal/metrics"
	"animeindex/internal/providers"
	"animeindex/internal/queue"
)

// ErrLocked reports that another scan holds the scan lock.
var ErrLocked = errors.New("scan already running")

// Report summarizes one scan.
type Report struct {
	Started  time.Time
	Duration time.Duration
	// Results counts enqueue results per task kind.
	Results map[string]map[queue.EnqueueResult]int
}

// Queued returns how many tasks of kind the scan made pending.
func (r Report) Queued(kind string) int {
	total := 0
	for result, count := range r.Results[kind] {
		if result.Queued() {
			total += count
		}
	}
	return total
}

// Total returns the number of enqueue requests the scan issued.
func (r Report) Total() int {
	total := 0
	for _, results := range r.Results {
		for _, count := range results {
			total += count
		}
	}
	return total
}

func (r *Report) add(kind string, result queue.EnqueueResult) {
	if r.Results == nil {
		r.Results = make(map[string]map[queue.EnqueueResult]int)
	}
	if r.Results[kind] == nil {
		r.Results[kind] = make(map[queue.EnqueueResult]int)
	}
	r.Results[kind][result]++
}

// Scanner enqueues enrichment tasks for works that need them.
type Scanner struct {
	cfg      *config.Config
	queue    *queue.Store
	catalog  *catalog.Store
	registry *providers.Registry
	logger   *slog.Logger
	lock     *flock.Flock
	kinds    []string
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithKinds restricts a scan to the given task kinds.
func WithKinds(kinds ...string) Option {
	return func(s *Scanner) {
		s.kinds = kinds
	}
}

// New constructs a scanner. A nil registry enqueues for every configured
// source; otherwise sources without the needed capability are skipped.
func New(cfg *config.Config, queueStore *queue.Store, catalogStore *catalog.Store, registry *providers.Registry, logger *slog.Logger, opts ...Option) *Scanner {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Scanner{
		cfg:      cfg,
		queue:    queueStore,
		catalog:  catalogStore,
		registry: registry,
		logger:   logging.NewComponentLogger(logger, "scan"),
		lock:     flock.New(cfg.ScanLockPath()),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run performs one scan under the scan lock.
func (s *Scanner) Run(ctx context.Context) (Report, error) {
	report := Report{Started: time.Now()}
	ok, err := s.lock.TryLock()
	if err != nil {
		metrics.ScanRuns.WithLabelValues("error").Inc()
		return report, fmt.Errorf("acquire scan lock: %w", err)
	}
	if !ok {
		metrics.ScanRuns.WithLabelValues("locked").Inc()
		return report, ErrLocked
	}
	defer func() {
		if err := s.lock.Unlock(); err != nil {
			s.logger.Warn("scan lock release failed", logging.Error(err))
		}
	}()

	steps := []struct {
		kind string
		run  func(context.Context, *Report) error
	}{
		{config.KindResolveID, s.scanResolve},
		{config.KindFetchFacts, s.scanFacts},
		{config.KindCheckAvailability, s.scanAvailability},
		{config.KindGenerateScore, s.scanScores},
	}
	for _, step := range steps {
		if len(s.kinds) > 0 && !slices.Contains(s.kinds, step.kind) {
			continue
		}
		if err := step.run(ctx, &report); err != nil {
			metrics.ScanRuns.WithLabelValues("error").Inc()
			report.Duration = time.Since(report.Started)
			return report, fmt.Errorf("scan %s: %w", step.kind, err)
		}
	}
	report.Duration = time.Since(report.Started)
	metrics.ScanRuns.WithLabelValues("ok").Inc()

	attrs := []logging.Attr{
		logging.Int("requests", report.Total()),
		logging.Duration("duration", report.Duration),
		logging.String(logging.FieldEventType, "scan_complete"),
	}
	for _, kind := range config.KnownTaskKinds() {
		if queued := report.Queued(kind); queued > 0 {
			attrs = append(attrs, logging.Int(kind, queued))
		}
	}
	s.logger.Info("scan complete", logging.Args(attrs...)...)
	return report, nil
}

func (s *Scanner) scanResolve(ctx context.Context, report *Report) error {
	retry := days(s.cfg.Scan.ResolveRetryDays)
	for _, source := range s.cfg.Scan.Sources {
		source = strings.ToLower(strings.TrimSpace(source))
		if !s.can(func(r *providers.Registry) error { _, err := r.Searcher(source); return err }) {
			s.logger.Debug("skipping resolve scan; source not registered", logging.String(logging.FieldProvider, source))
			continue
		}
		err := s.eachWork(ctx, func(afterID int64, limit int) ([]*catalog.Work, error) {
			return s.catalog.ListUnlinked(ctx, source, afterID, limit)
		}, func(work *catalog.Work) error {
			return s.enqueue(ctx, report, work, queue.EnqueueRequest{
				Kind:     config.KindResolveID,
				Payload:  enrich.ResolvePayload{Source: source},
				FreshFor: retry,
			})
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Scanner) scanFacts(ctx context.Context, report *Report) error {
	source := s.cfg.Scan.FactsSource
	if source == "" {
		return nil
	}
	if !s.can(func(r *providers.Registry) error { _, err := r.Details(source); return err }) {
		s.logger.Debug("skipping facts scan; source not registered", logging.String(logging.FieldProvider, source))
		return nil
	}
	fresh := days(s.cfg.Scan.FactsFreshDays)
	return s.eachWork(ctx, func(afterID int64, limit int) ([]*catalog.Work, error) {
		return s.catalog.ListLinked(ctx, source, afterID, limit)
	}, func(work *catalog.Work) error {
		return s.enqueue(ctx, report, work, queue.EnqueueRequest{
			Kind:     config.KindFetchFacts,
			Payload:  enrich.FactsPayload{Source: source},
			FreshFor: fresh,
		})
	})
}

// scanAvailability enqueues forced checks: offers change over time, so a
// stored value is refreshed once it is older than the freshness window.
func (s *Scanner) scanAvailability(ctx context.Context, report *Report) error {
	source := s.cfg.Scan.AvailabilitySource
	if source == "" || len(s.cfg.Scan.Regions) == 0 {
		return nil
	}
	if !s.can(func(r *providers.Registry) error { _, err := r.Availability(source); return err }) {
		s.logger.Debug("skipping availability scan; source not registered", logging.String(logging.FieldProvider, source))
		return nil
	}
	fresh := days(s.cfg.Scan.AvailabilityFreshDays)
	return s.eachWork(ctx, func(afterID int64, limit int) ([]*catalog.Work, error) {
		return s.catalog.ListLinked(ctx, source, afterID, limit)
	}, func(work *catalog.Work) error {
		for _, region := range s.cfg.Scan.Regions {
			err := s.enqueue(ctx, report, work, queue.EnqueueRequest{
				Kind:     config.KindCheckAvailability,
				Payload:  enrich.AvailabilityPayload{Source: source, Region: strings.ToUpper(region), Force: true},
				FreshFor: fresh,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Scanner) scanScores(ctx context.Context, report *Report) error {
	if len(s.cfg.Scan.ScoreProfiles) == 0 {
		return nil
	}
	if !s.can(func(r *providers.Registry) error { _, err := r.Scorer(); return err }) {
		s.logger.Debug("skipping score scan; no scorer registered")
		return nil
	}
	retry := days(s.cfg.Scan.ResolveRetryDays)
	for _, profile := range s.cfg.Scan.ScoreProfiles {
		profile = strings.ToLower(strings.TrimSpace(profile))
		attr := enrich.ScoreAttribute(profile)
		err := s.eachWork(ctx, func(afterID int64, limit int) ([]*catalog.Work, error) {
			return s.catalog.ListMissing(ctx, attr, afterID, limit)
		}, func(work *catalog.Work) error {
			return s.enqueue(ctx, report, work, queue.EnqueueRequest{
				Kind:     config.KindGenerateScore,
				Payload:  enrich.ScorePayload{Profile: profile},
				FreshFor: retry,
			})
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Scanner) enqueue(ctx context.Context, report *Report, work *catalog.Work, req queue.EnqueueRequest) error {
	req.SubjectID = work.ID
	targets, err := enrich.TargetAttributes(req.Kind, req.Payload)
	if err != nil {
		return err
	}
	if len(targets) > 0 {
		protected, err := s.catalog.Protected(ctx, work.ID, targets...)
		if err != nil {
			return err
		}
		req.Protected = protected
	}
	result, err := s.queue.EnqueueWithPolicy(ctx, req)
	if err != nil {
		return err
	}
	metrics.ScanEnqueued.WithLabelValues(req.Kind, string(result)).Inc()
	report.add(req.Kind, result)
	return nil
}

// eachWork pages through list in id order, calling fn for every work.
func (s *Scanner) eachWork(ctx context.Context, list func(afterID int64, limit int) ([]*catalog.Work, error), fn func(*catalog.Work) error) error {
	batch := s.cfg.Scan.BatchSize
	if batch <= 0 {
		batch = 200
	}
	var afterID int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		works, err := list(afterID, batch)
		if err != nil {
			return err
		}
		for _, work := range works {
			if err := fn(work); err != nil {
				return err
			}
			afterID = work.ID
		}
		if len(works) < batch {
			return nil
		}
	}
}

func (s *Scanner) can(check func(*providers.Registry) error) bool {
	if s.registry == nil {
		return true
	}
	return check(s.registry) == nil
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}
