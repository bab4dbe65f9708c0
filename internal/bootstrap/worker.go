package bootstrap

import (
	"context"
	"time"

	"alert_worker/adapter/in/worker"
	"alert_worker/adapter/out/provider"
	"alert_worker/config"
	"alert_worker/pkg/logger"

	"github.com/rs/zerolog"
)

// Worker bundles the poller, the stream processor and the scheduler.
type Worker struct {
	poller    *worker.Poller
	processor *worker.Processor
	scheduler *worker.Scheduler

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	zlog   zerolog.Logger
}

// NewWorker assembles the full processing side.
func NewWorker(cfg *config.Config) (*Worker, func(), error) {
	logLevel := logger.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = logger.LevelDebug
	}
	logger.Init(logger.Config{
		Level:   logLevel,
		Service: "alert-worker",
	})

	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	mailProvider, err := provider.New(ctx, cfg)
	if err != nil {
		cancel()
		cleanup()
		return nil, nil, err
	}

	poller := worker.NewPoller(
		mailProvider,
		deps.EmailRepo,
		deps.Intake,
		time.Duration(cfg.PollIntervalSec)*time.Second,
		time.Duration(cfg.InitialBackfillDays)*24*time.Hour,
	)

	processor := worker.NewProcessor(
		deps.Stream,
		worker.ProcessorConfig{
			Consumer:      cfg.WorkerID,
			Count:         int64(cfg.ConsumerBatchSize),
			Block:         time.Duration(cfg.ConsumerBlockMS) * time.Millisecond,
			LLMEnabled:    cfg.LLMParsingEnabled && deps.Extractor != nil,
			DLQMaxRetries: cfg.DLQMaxRetries,
		},
		deps.EmailRepo,
		deps.IncidentRepo,
		deps.Idempotency,
		deps.Parser,
		deps.Extractor,
		deps.Correlator,
		deps.Maintenance,
		deps.Notifier,
	)

	var sched *worker.Scheduler
	if cfg.SchedulerEnabled {
		sched = worker.NewScheduler(
			worker.SchedulerConfig{
				Interval:       time.Duration(cfg.SchedulerIntervalSec) * time.Second,
				StaleAfter:     cfg.IncidentAutoResolve(),
				QuietPeriod:    cfg.FlapQuietTime(),
				EnrichBatch:    cfg.EnrichBatchSize,
				EmailRetention: time.Duration(cfg.RawEmailRetentionDays) * 24 * time.Hour,
				DLQRetention:   time.Duration(cfg.DLQRetentionDays) * 24 * time.Hour,
			},
			deps.IncidentRepo,
			deps.EmailRepo,
			deps.Maintenance,
			deps.Enricher,
			deps.Idempotency,
			deps.Notifier,
			processor.RetryHandlers(),
		)
	}

	return &Worker{
		poller:    poller,
		processor: processor,
		scheduler: sched,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		zlog:      deps.Zlog.With().Str("component", "worker").Logger(),
	}, cleanup, nil
}

// Start runs all components and blocks on the stream processor until
// Stop is called.
func (w *Worker) Start() {
	w.poller.Start()
	if w.scheduler != nil {
		w.scheduler.Start()
	}
	w.zlog.Info().Msg("Worker started")

	if err := w.processor.Run(w.ctx); err != nil {
		w.zlog.Error().Err(err).Msg("Stream processor exited")
	}
	close(w.done)
}

// Stop shuts everything down in dependency order: stop fetching new
// mail first, then drain the consumer, then the scheduler.
func (w *Worker) Stop() {
	w.poller.Stop()
	w.cancel()
	<-w.done
	if w.scheduler != nil {
		w.scheduler.Stop()
	}
	w.zlog.Info().Msg("Worker stopped")
}
