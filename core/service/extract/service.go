// Package extract is the learning extractor: a signature-indexed rule
// cache over an LLM fallback for unknown alert-email formats.
package extract

import (
	"context"
	"fmt"
	"strings"
	"time"

	"alert_worker/core/domain"
	"alert_worker/core/port/out"
	"alert_worker/pkg/logger"
	"alert_worker/pkg/metrics"
	"alert_worker/pkg/redact"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

const extractionSystemPrompt = `You are an alert-email parsing assistant. You respond with a single JSON object and nothing else. Never wrap the JSON in markdown fences or prose.`

const extractionPromptTemplate = `Analyze this monitoring alert email and extract structured fields.

Subject: %s

Body:
%s

Respond with a JSON object with exactly these keys:
- "extracted": object with any of the keys host, service, severity, state, summary that you can determine
- "source_name": short human name for the sending system
- "extraction_rules": object mapping each extracted field to {"source": "subject" or "body", "regex": "a regex with one capture group", "group": "capture group name or number", "normalize": optional object mapping raw values to normalized values}
- "confidence": number between 0 and 1 for how certain you are

The regexes must re-extract the same values from this email and generalize to future emails of the same format.`

type llmResponse struct {
	Extracted       map[string]string `json:"extracted" validate:"required"`
	SourceName      string            `json:"source_name" validate:"required,max=100"`
	ExtractionRules domain.RuleSet    `json:"extraction_rules"`
	Confidence      float64           `json:"confidence" validate:"gte=0,lte=1"`
}

// Service runs cached-rule extraction with an LLM learning fallback.
type Service struct {
	patterns   out.PatternRepository
	quarantine out.QuarantineRepository
	llm        out.Generator
	redactor   *redact.Redactor
	validate   *validator.Validate
	log        *logger.Logger
}

func NewService(patterns out.PatternRepository, quarantine out.QuarantineRepository, llm out.Generator, redactor *redact.Redactor) *Service {
	return &Service{
		patterns:   patterns,
		quarantine: quarantine,
		llm:        llm,
		redactor:   redactor,
		validate:   validator.New(),
		log:        logger.Default().WithField("component", "extractor"),
	}
}

// Extract resolves fields for an email, preferring the pattern cache and
// learning new rules through the LLM on a miss. A nil result with nil
// error means the extraction was quarantined.
func (s *Service) Extract(ctx context.Context, email *domain.RawEmail) (*domain.ExtractionResult, error) {
	started := time.Now()
	sig := FormatSignature(email.FromAddress, email.Subject, email.Body())

	cached, err := s.patterns.FindBySignature(ctx, sig)
	if err != nil {
		return nil, fmt.Errorf("pattern lookup: %w", err)
	}

	if cached != nil {
		if fields, ok := ApplyRules(cached.ExtractionRules, email.Subject, email.Body()); ok {
			if err := s.patterns.TouchMatch(ctx, sig); err != nil {
				s.log.WithError(err).Warn("Failed to bump pattern match count")
			}
			result := &domain.ExtractionResult{
				Fields:     fields,
				SourceTool: cached.SourceTool,
				SourceName: cached.SourceName,
				Confidence: 0.9,
				Type:       domain.ExtractionTypeCached,
			}
			s.audit(ctx, email.ID, &cached.ID, result, "", started)
			metrics.EventsParsed.WithLabelValues(domain.ExtractionTypeCached).Inc()
			return result, nil
		}
		s.log.WithField("signature", sig).Warn("Cached rules no longer match, re-learning")
	}

	if s.llm == nil {
		return nil, nil
	}
	return s.learn(ctx, email, sig, started)
}

func (s *Service) learn(ctx context.Context, email *domain.RawEmail, sig string, started time.Time) (*domain.ExtractionResult, error) {
	subject := s.redactor.Redact(email.Subject)
	body := s.redactor.Redact(email.Body())
	if len(body) > 4000 {
		body = body[:4000]
	}

	prompt := fmt.Sprintf(extractionPromptTemplate, subject, body)
	raw, err := s.llm.Generate(ctx, prompt, extractionSystemPrompt)
	if err != nil {
		metrics.LLMCalls.WithLabelValues("error").Inc()
		s.quarantineEmail(ctx, email, nil, 0, domain.QuarantineLLMError)
		return nil, fmt.Errorf("llm generate: %w", err)
	}
	metrics.LLMCalls.WithLabelValues("success").Inc()

	var resp llmResponse
	if err := json.Unmarshal([]byte(RepairJSON(raw)), &resp); err != nil {
		s.quarantineEmail(ctx, email, map[string]any{"raw_response": truncate(raw, 2000)}, 0, domain.QuarantineLLMError)
		return nil, fmt.Errorf("llm response parse: %w", err)
	}

	if err := s.validate.Struct(&resp); err != nil {
		s.quarantineEmail(ctx, email, toAnyMap(resp.Extracted), resp.Confidence, domain.QuarantineValidationFailed)
		s.audit(ctx, email.ID, nil, nil, raw, started)
		return nil, nil
	}
	normalizeExtracted(resp.Extracted)

	switch {
	case resp.Confidence < domain.ConfidenceQuarantineThreshold:
		s.quarantineEmail(ctx, email, toAnyMap(resp.Extracted), resp.Confidence, domain.QuarantineLowConfidence)
		s.audit(ctx, email.ID, nil, nil, raw, started)
		return nil, nil

	case resp.Confidence < domain.ConfidenceCacheThreshold:
		result := &domain.ExtractionResult{
			Fields:     resp.Extracted,
			SourceName: resp.SourceName,
			Confidence: resp.Confidence,
			Type:       domain.ExtractionTypeLowConfidence,
		}
		s.audit(ctx, email.ID, nil, result, raw, started)
		metrics.EventsParsed.WithLabelValues(domain.ExtractionTypeLowConfidence).Inc()
		return result, nil
	}

	emailID := email.ID
	pattern := &domain.PatternCache{
		SignatureHash:    sig,
		FromDomain:       FromDomain(email.FromAddress),
		SubjectPrefix:    SubjectPrefix(email.Subject),
		BodyMarkers:      BodyMarkers(email.Body()),
		SourceName:       resp.SourceName,
		SourceTool:       strings.ToLower(strings.ReplaceAll(resp.SourceName, " ", "_")),
		ExtractionRules:  resp.ExtractionRules,
		MatchCount:       1,
		CreatedFromEmail: &emailID,
	}
	if err := s.patterns.Upsert(ctx, pattern); err != nil {
		s.log.WithError(err).Error("Failed to cache learned pattern")
	}

	result := &domain.ExtractionResult{
		Fields:     resp.Extracted,
		SourceTool: pattern.SourceTool,
		SourceName: resp.SourceName,
		Confidence: resp.Confidence,
		Type:       domain.ExtractionTypeLearned,
	}
	s.audit(ctx, email.ID, nil, result, raw, started)
	metrics.EventsParsed.WithLabelValues(domain.ExtractionTypeLearned).Inc()
	return result, nil
}

// normalizeExtracted trims every field and runs severity/state through
// the shared alias tables.
func normalizeExtracted(fields map[string]string) {
	for k, v := range fields {
		v = strings.TrimSpace(v)
		if len(v) > 500 {
			v = v[:500]
		}
		switch k {
		case "severity":
			v = string(domain.NormalizeSeverity(v))
		case "state":
			v = string(domain.NormalizeState(v))
		}
		fields[k] = v
	}
}

func (s *Service) quarantineEmail(ctx context.Context, email *domain.RawEmail, data map[string]any, confidence float64, reason domain.QuarantineReason) {
	// LLM errors come back through the retry queue, so the same email can
	// hit this path several times. One pending row is enough.
	if reason == domain.QuarantineLLMError {
		pending, err := s.quarantine.HasPendingForEmail(ctx, email.ID)
		if err != nil {
			s.log.WithError(err).WithField("email_id", email.ID.String()).Error("Failed to check pending quarantine")
		} else if pending {
			return
		}
	}

	metrics.Quarantines.WithLabelValues(string(reason)).Inc()
	_, err := s.quarantine.Insert(ctx, &domain.QuarantineEvent{
		RawEmailID:     email.ID,
		ExtractionData: data,
		Confidence:     confidence,
		Reason:         reason,
	})
	if err != nil {
		s.log.WithError(err).WithField("email_id", email.ID.String()).Error("Failed to quarantine extraction")
	}
}

func (s *Service) audit(ctx context.Context, emailID uuid.UUID, patternID *int64, result *domain.ExtractionResult, rawResponse string, started time.Time) {
	entry := &domain.ExtractionLog{
		RawEmailID:  emailID,
		PatternID:   patternID,
		LLMResponse: truncate(rawResponse, 4000),
		DurationMS:  time.Since(started).Milliseconds(),
	}
	if result != nil {
		entry.ExtractionType = result.Type
		entry.Extracted = result.Fields
		entry.Confidence = result.Confidence
	}
	if err := s.patterns.LogExtraction(ctx, entry); err != nil {
		s.log.WithError(err).Warn("Failed to write extraction log")
	}
}

func toAnyMap(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
