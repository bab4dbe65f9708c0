// Package bootstrap wires configuration, adapters and services into the
// API server and the worker.
package bootstrap

import (
	"fmt"
	"os"
	"time"

	"alert_worker/adapter/out/llm"
	notifysink "alert_worker/adapter/out/notify"
	"alert_worker/adapter/out/persistence"
	"alert_worker/config"
	"alert_worker/core/domain"
	"alert_worker/core/port/out"
	"alert_worker/core/service/configver"
	"alert_worker/core/service/correlate"
	"alert_worker/core/service/enrich"
	"alert_worker/core/service/extract"
	"alert_worker/core/service/idempotency"
	"alert_worker/core/service/intake"
	"alert_worker/core/service/maintenance"
	"alert_worker/core/service/notify"
	"alert_worker/core/service/parse"
	"alert_worker/core/service/quarantine"
	"alert_worker/infra/database"
	"alert_worker/internal/stream"
	"alert_worker/pkg/logger"
	"alert_worker/pkg/redact"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Dependencies holds every shared adapter and service.
type Dependencies struct {
	Config *config.Config
	DB     *sqlx.DB
	Redis  *redis.Client
	Zlog   zerolog.Logger

	EmailRepo         *persistence.EmailAdapter
	IncidentRepo      *persistence.IncidentAdapter
	PatternRepo       *persistence.PatternAdapter
	QuarantineRepo    *persistence.QuarantineAdapter
	MaintenanceRepo   *persistence.MaintenanceAdapter
	IdempotencyRepo   *persistence.IdempotencyAdapter
	DLQRepo           *persistence.DLQAdapter
	NotificationRepo  *persistence.NotificationAdapter
	ConfigVersionRepo *persistence.ConfigVersionAdapter

	Stream   *stream.RedisStream
	Producer *stream.Producer

	Redactor *redact.Redactor

	Parser         *parse.Service
	Extractor      *extract.Service
	Correlator     *correlate.Service
	Maintenance    *maintenance.Engine
	Enricher       *enrich.Service
	Notifier       *notify.Service
	Idempotency    *idempotency.Service
	QuarantineSvc  *quarantine.Service
	ConfigVersions *configver.Service
	Intake         *intake.Service
}

// NewDependencies builds the full dependency graph. The returned cleanup
// closes connections in reverse order.
func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	db, err := database.NewSQLX(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	cleanups = append(cleanups, func() { _ = db.Close() })

	rdb, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	cleanups = append(cleanups, func() { _ = rdb.Close() })

	zlog := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
		With().Timestamp().Logger()

	deps := &Dependencies{
		Config: cfg,
		DB:     db,
		Redis:  rdb,
		Zlog:   zlog,

		EmailRepo:         persistence.NewEmailAdapter(db),
		IncidentRepo:      persistence.NewIncidentAdapter(db),
		PatternRepo:       persistence.NewPatternAdapter(db),
		QuarantineRepo:    persistence.NewQuarantineAdapter(db),
		MaintenanceRepo:   persistence.NewMaintenanceAdapter(db),
		IdempotencyRepo:   persistence.NewIdempotencyAdapter(db),
		DLQRepo:           persistence.NewDLQAdapter(db),
		NotificationRepo:  persistence.NewNotificationAdapter(db),
		ConfigVersionRepo: persistence.NewConfigVersionAdapter(db),
	}

	deps.Stream = stream.NewRedisStream(rdb, "alert-workers", zlog)
	deps.Producer = stream.NewProducer(deps.Stream)
	deps.Redactor = redact.New(cfg.RedactionPatterns)

	deps.Parser = parse.NewService()
	deps.Correlator = correlate.NewService(deps.IncidentRepo, cfg.DedupeWindow(), cfg.FlapQuietTime())
	deps.Maintenance = maintenance.NewEngine(
		deps.MaintenanceRepo,
		cfg.MaintenanceSubjectPrefixes,
		time.Duration(cfg.RRuleExpansionHorizonDays)*24*time.Hour,
	)
	deps.Idempotency = idempotency.NewService(
		deps.IdempotencyRepo,
		deps.DLQRepo,
		time.Duration(cfg.IdempotencyTTLHours)*time.Hour,
	)
	deps.Intake = intake.NewService(deps.EmailRepo, deps.Producer)
	deps.QuarantineSvc = quarantine.NewService(deps.QuarantineRepo, deps.EmailRepo, deps.Producer)
	deps.ConfigVersions = configver.NewService(deps.ConfigVersionRepo)

	if cfg.LLMParsingEnabled {
		generator, err := llm.NewGenerator(cfg)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("llm backend: %w", err)
		}
		deps.Extractor = extract.NewService(deps.PatternRepo, deps.QuarantineRepo, generator, deps.Redactor)
	}

	if cfg.RAGEnabled {
		advisory := llm.NewAdvisoryClient(cfg.RAGEndpoint, time.Duration(cfg.RAGTimeoutSec)*time.Second)
		deps.Enricher = enrich.NewService(deps.IncidentRepo, advisory, deps.Redactor)
	}

	if cfg.NotificationsEnabled {
		sinks := map[domain.ChannelType]out.NotificationSink{
			domain.ChannelSlack:   notifysink.NewSlackSink(),
			domain.ChannelWebhook: notifysink.NewWebhookSink(),
		}
		deps.Notifier = notify.NewService(
			deps.NotificationRepo,
			sinks,
			time.Duration(cfg.DigestIntervalMin)*time.Minute,
		)
	}

	logger.WithFields(map[string]any{
		"llm_parsing":   cfg.LLMParsingEnabled,
		"enrichment":    cfg.RAGEnabled,
		"notifications": cfg.NotificationsEnabled,
	}).Info("Dependencies initialized")

	return deps, cleanup, nil
}
