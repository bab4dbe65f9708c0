package worker

import (
	"context"
	"time"

	"alert_worker/core/port/out"
	"alert_worker/core/service/enrich"
	"alert_worker/core/service/idempotency"
	"alert_worker/core/service/maintenance"
	"alert_worker/core/service/notify"
	"alert_worker/pkg/logger"
)

const (
	schedulerTaskTimeout = 5 * time.Minute
	retryBatchLimit      = 10
	enrichPause          = 2 * time.Second
)

// SchedulerConfig holds the periodic maintenance knobs.
type SchedulerConfig struct {
	Interval       time.Duration
	StaleAfter     time.Duration // auto-resolve incidents idle this long
	QuietPeriod    time.Duration
	EnrichBatch    int
	EmailRetention time.Duration
	DLQRetention   time.Duration
}

// Scheduler runs the periodic cycle: stale auto-resolve, quiet-period
// resolution, maintenance matching, enrichment, DLQ retries, digest
// flushes and retention housekeeping. Tasks run in a fixed order; each
// one is isolated so a failure cannot starve the rest of the cycle.
type Scheduler struct {
	cfg SchedulerConfig

	incidents out.IncidentRepository
	emails    out.RawEmailRepository
	maint     *maintenance.Engine
	enricher  *enrich.Service // nil when advisory enrichment is disabled
	idem      *idempotency.Service
	notifier  *notify.Service
	handlers  map[string]idempotency.RetryHandler

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	log    *logger.Logger
}

func NewScheduler(
	cfg SchedulerConfig,
	incidents out.IncidentRepository,
	emails out.RawEmailRepository,
	maint *maintenance.Engine,
	enricher *enrich.Service,
	idem *idempotency.Service,
	notifier *notify.Service,
	handlers map[string]idempotency.RetryHandler,
) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:       cfg,
		incidents: incidents,
		emails:    emails,
		maint:     maint,
		enricher:  enricher,
		idem:      idem,
		notifier:  notifier,
		handlers:  handlers,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		log:       logger.Default().WithField("component", "scheduler"),
	}
}

func (s *Scheduler) Start() {
	s.log.WithField("interval", s.cfg.Interval.String()).Info("Starting scheduler")
	go s.run()
}

func (s *Scheduler) Stop() {
	s.cancel()
	<-s.done
	s.log.Info("Scheduler stopped")
}

func (s *Scheduler) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.Cycle()
		}
	}
}

// Cycle runs one full pass of every periodic task.
func (s *Scheduler) Cycle() {
	s.runTask("auto_resolve_stale", s.autoResolveStale)
	s.runTask("resolve_quiet", s.resolveQuiet)
	s.runTask("maintenance_match", s.maintenanceMatch)
	s.runTask("maintenance_clear", s.maintenanceClear)
	s.runTask("enrichment", s.enrichBatch)
	s.runTask("dlq_retry", s.retryDue)
	s.runTask("digest_flush", s.flushDigests)
	s.runTask("housekeeping", s.housekeep)
}

func (s *Scheduler) runTask(name string, fn func(ctx context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("task", name).Error("Scheduler task panicked: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(s.ctx, schedulerTaskTimeout)
	defer cancel()

	if err := fn(ctx); err != nil && ctx.Err() == nil {
		s.log.WithError(err).WithField("task", name).Error("Scheduler task failed")
	}
}

func (s *Scheduler) autoResolveStale(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-s.cfg.StaleAfter)
	n, err := s.incidents.AutoResolveStale(ctx, cutoff)
	if err != nil {
		return err
	}
	if n > 0 {
		s.log.WithField("count", n).Info("Auto-resolved stale incidents")
	}
	return nil
}

func (s *Scheduler) resolveQuiet(ctx context.Context) error {
	n, err := s.incidents.ResolveQuiet(ctx, s.cfg.QuietPeriod)
	if err != nil {
		return err
	}
	if n > 0 {
		s.log.WithField("count", n).Info("Resolved quiet incidents")
	}
	return nil
}

func (s *Scheduler) maintenanceMatch(ctx context.Context) error {
	_, err := s.maint.MatchIncidents(ctx)
	return err
}

func (s *Scheduler) maintenanceClear(ctx context.Context) error {
	_, err := s.maint.ClearExpired(ctx)
	return err
}

// enrichBatch enriches a small batch sequentially with a pause between
// calls to keep pressure off the advisory service.
func (s *Scheduler) enrichBatch(ctx context.Context) error {
	if s.enricher == nil {
		return nil
	}

	incidents, err := s.incidents.IncidentsForEnrichment(ctx, s.cfg.EnrichBatch)
	if err != nil {
		return err
	}

	for i, inc := range incidents {
		if ctx.Err() != nil {
			return nil
		}
		if i > 0 {
			time.Sleep(enrichPause)
		}
		if err := s.enricher.EnrichIncident(ctx, inc.ID); err != nil {
			s.log.WithError(err).WithField("incident_id", inc.ID).Warn("Enrichment failed")
		}
	}
	return nil
}

func (s *Scheduler) retryDue(ctx context.Context) error {
	n, err := s.idem.RetryDue(ctx, retryBatchLimit, s.handlers)
	if err != nil {
		return err
	}
	if n > 0 {
		s.log.WithField("count", n).Info("Replayed DLQ items")
	}
	return nil
}

func (s *Scheduler) flushDigests(ctx context.Context) error {
	if s.notifier == nil {
		return nil
	}
	_, err := s.notifier.FlushDigests(ctx)
	return err
}

func (s *Scheduler) housekeep(ctx context.Context) error {
	if err := s.idem.Housekeep(ctx, s.cfg.DLQRetention); err != nil {
		return err
	}

	cutoff := time.Now().UTC().Add(-s.cfg.EmailRetention)
	n, err := s.emails.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}
	if n > 0 {
		s.log.WithField("count", n).Info("Pruned raw emails past retention")
	}
	return nil
}
