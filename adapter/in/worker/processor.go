package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"alert_worker/core/domain"
	"alert_worker/core/port/out"
	"alert_worker/core/service/correlate"
	"alert_worker/core/service/extract"
	"alert_worker/core/service/idempotency"
	"alert_worker/core/service/maintenance"
	"alert_worker/core/service/notify"
	"alert_worker/core/service/parse"
	"alert_worker/internal/stream"
	"alert_worker/pkg/apperr"
	"alert_worker/pkg/logger"
	"alert_worker/pkg/metrics"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

const (
	processTimeout = 3 * time.Minute

	// DLQ event type for the email pipeline.
	EventTypeEmailProcessing = "email_processing"
)

// Processor consumes email-ingested jobs and runs the pipeline: branch
// detection, extraction, correlation, maintenance mode lookup and
// notification. Every email runs under an idempotency key; failures park
// the job in the DLQ and ack the stream message so poison input cannot
// wedge the consumer group.
type Processor struct {
	stream   *stream.RedisStream
	consumer string
	count    int64
	block    time.Duration

	emails     out.RawEmailRepository
	incidents  out.IncidentRepository
	idem       *idempotency.Service
	parser     *parse.Service
	extractor  *extract.Service
	correlator *correlate.Service
	maint      *maintenance.Engine
	notifier   *notify.Service

	llmEnabled    bool
	dlqMaxRetries int

	log *logger.Logger
}

type ProcessorConfig struct {
	Consumer      string
	Count         int64
	Block         time.Duration
	LLMEnabled    bool
	DLQMaxRetries int
}

func NewProcessor(
	st *stream.RedisStream,
	cfg ProcessorConfig,
	emails out.RawEmailRepository,
	incidents out.IncidentRepository,
	idem *idempotency.Service,
	parser *parse.Service,
	extractor *extract.Service,
	correlator *correlate.Service,
	maint *maintenance.Engine,
	notifier *notify.Service,
) *Processor {
	return &Processor{
		stream:        st,
		consumer:      cfg.Consumer,
		count:         cfg.Count,
		block:         cfg.Block,
		emails:        emails,
		incidents:     incidents,
		idem:          idem,
		parser:        parser,
		extractor:     extractor,
		correlator:    correlator,
		maint:         maint,
		notifier:      notifier,
		llmEnabled:    cfg.LLMEnabled,
		dlqMaxRetries: cfg.DLQMaxRetries,
		log:           logger.Default().WithField("component", "processor"),
	}
}

// Run blocks consuming the email stream until the context is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	if err := p.stream.CreateGroup(ctx, stream.StreamEmails); err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}

	p.log.WithField("consumer", p.consumer).Info("Starting stream processor")
	p.stream.Consume(ctx, stream.StreamEmails, p.consumer, p.count, p.block, p.handle)
	p.log.Info("Stream processor stopped")
	return nil
}

func (p *Processor) handle(id string, data []byte) error {
	var job out.EmailIngestedJob
	if err := json.Unmarshal(data, &job); err != nil {
		p.log.WithError(err).WithField("message_id", id).Warn("Dropping malformed stream message")
		return nil
	}

	emailID, err := uuid.Parse(job.EmailID)
	if err != nil {
		p.log.WithError(err).WithField("message_id", id).Warn("Dropping message with invalid email id")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
	defer cancel()

	if err := p.ProcessEmail(ctx, emailID); err != nil {
		if errors.Is(err, apperr.ErrSkipped) {
			return nil
		}
		// Park in the DLQ and ack; the retry cycle owns it from here.
		if derr := p.idem.Enqueue(ctx, EventTypeEmailProcessing, map[string]any{
			"email_id": job.EmailID,
			"folder":   job.Folder,
		}, err, p.dlqMaxRetries); derr != nil {
			p.log.WithError(derr).WithField("email_id", job.EmailID).Error("Failed to enqueue DLQ item")
			return derr
		}
	}
	return nil
}

// ProcessEmail runs the full pipeline for one stored email under its
// idempotency key.
func (p *Processor) ProcessEmail(ctx context.Context, emailID uuid.UUID) error {
	email, err := p.emails.GetEmail(ctx, emailID)
	if err != nil {
		return fmt.Errorf("load email: %w", err)
	}
	if email == nil {
		p.log.WithField("email_id", emailID).Warn("Email not found, skipping")
		return nil
	}
	if email.ParseStatus == domain.ParseStatusRejected {
		return nil
	}

	key := idempotency.Key(emailID.String(), email.MessageID)
	_, err = p.idem.Run(ctx, key, func(ctx context.Context) ([]byte, error) {
		return p.process(ctx, email)
	})
	return err
}

type processResult struct {
	Branch     string `json:"branch"`
	IncidentID string `json:"incident_id,omitempty"`
	Outcome    string `json:"outcome,omitempty"`
}

func (p *Processor) process(ctx context.Context, email *domain.RawEmail) ([]byte, error) {
	started := time.Now()

	if p.maint.IsMaintenanceEmail(email) || strings.Contains(strings.ToLower(email.Folder), "maintenance") {
		if err := p.maint.ProcessEmail(ctx, email); err != nil {
			return nil, fmt.Errorf("maintenance email: %w", err)
		}
		if err := p.emails.UpdateParseStatus(ctx, email.ID, domain.ParseStatusSuccess, ""); err != nil {
			return nil, err
		}
		metrics.ProcessDuration.WithLabelValues("maintenance").Observe(time.Since(started).Seconds())
		return json.Marshal(processResult{Branch: "maintenance"})
	}

	event, outcome, err := p.buildEvent(ctx, email)
	if err != nil {
		return nil, err
	}
	if event == nil {
		// Quarantined: no event until an operator reviews it.
		if err := p.emails.UpdateParseStatus(ctx, email.ID, domain.ParseStatusQuarantine, ""); err != nil {
			return nil, err
		}
		metrics.ProcessDuration.WithLabelValues("quarantine").Observe(time.Since(started).Seconds())
		return json.Marshal(processResult{Branch: "alert", Outcome: "quarantined"})
	}
	metrics.EventsParsed.WithLabelValues(outcome).Inc()

	incidentID, err := p.correlator.ProcessEvent(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("correlate: %w", err)
	}

	result := processResult{Branch: "alert", Outcome: outcome}
	if incidentID != uuid.Nil {
		result.IncidentID = incidentID.String()
		p.notifyIncident(ctx, incidentID)
	}

	if err := p.emails.UpdateParseStatus(ctx, email.ID, domain.ParseStatusSuccess, ""); err != nil {
		return nil, err
	}
	metrics.ProcessDuration.WithLabelValues("alert").Observe(time.Since(started).Seconds())
	return json.Marshal(result)
}

// buildEvent routes the email through the static parser or the learning
// extractor. A nil event with nil error means the email was quarantined.
func (p *Processor) buildEvent(ctx context.Context, email *domain.RawEmail) (*domain.AlertEvent, string, error) {
	sourceTool := p.parser.DetermineSourceTool(email.Folder, email.Subject, email.Body())

	if p.parser.HasParser(sourceTool) || !p.llmEnabled {
		event, err := p.parser.Parse(email)
		if err != nil {
			return nil, "", fmt.Errorf("static parse: %w", err)
		}
		return event, domain.ExtractionTypeStatic, nil
	}

	result, err := p.extractor.Extract(ctx, email)
	if err != nil {
		return nil, "", fmt.Errorf("extract: %w", err)
	}
	if result == nil {
		return nil, "", nil
	}

	tool := result.SourceTool
	if tool == "" {
		tool = sourceTool
	}
	return parse.BuildEvent(email, tool, result.Fields), result.Type, nil
}

// notifyIncident is best effort; a sink outage must not fail the
// pipeline and trigger a reprocess.
func (p *Processor) notifyIncident(ctx context.Context, incidentID uuid.UUID) {
	if p.notifier == nil {
		return
	}

	inc, err := p.incidents.GetIncident(ctx, incidentID)
	if err != nil || inc == nil {
		p.log.WithError(err).WithField("incident_id", incidentID).Warn("Failed to load incident for notification")
		return
	}

	mode := domain.SuppressMode("")
	if inc.IsInMaintenance {
		if m, err := p.maint.ActiveModeFor(ctx, incidentID); err == nil {
			mode = m
		} else {
			p.log.WithError(err).WithField("incident_id", incidentID).Warn("Failed to resolve maintenance mode")
		}
	}

	if err := p.notifier.NotifyIncident(ctx, inc, mode); err != nil {
		p.log.WithError(err).WithField("incident_id", incidentID).Warn("Notification failed")
	}
}

// RetryHandlers exposes the DLQ handlers this processor can replay.
func (p *Processor) RetryHandlers() map[string]idempotency.RetryHandler {
	return map[string]idempotency.RetryHandler{
		EventTypeEmailProcessing: func(ctx context.Context, payload map[string]any) error {
			raw, _ := payload["email_id"].(string)
			emailID, err := uuid.Parse(raw)
			if err != nil {
				return fmt.Errorf("invalid email_id in DLQ payload: %w", err)
			}
			err = p.ProcessEmail(ctx, emailID)
			if errors.Is(err, apperr.ErrSkipped) {
				return nil
			}
			return err
		},
	}
}
