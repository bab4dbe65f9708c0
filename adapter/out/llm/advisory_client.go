package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"alert_worker/core/domain"
	"alert_worker/core/port/out"
	"alert_worker/pkg/httputil"
	"alert_worker/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker"
)

// AdvisoryHTTPClient implements out.AdvisoryClient against the RAG
// advisory service. Calls go through a circuit breaker so a down
// advisory backend cannot stall the enrichment cycle: after 5
// consecutive failures the breaker opens for 60s and calls fail fast.
type AdvisoryHTTPClient struct {
	endpoint string
	timeout  time.Duration
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker
	log      *logger.Logger
}

func NewAdvisoryClient(endpoint string, timeout time.Duration) *AdvisoryHTTPClient {
	log := logger.Default().WithField("component", "advisory")
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "advisory",
		MaxRequests: 1,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(map[string]any{
				"from": from.String(),
				"to":   to.String(),
			}).Warn("Advisory circuit breaker state changed")
		},
	})
	return &AdvisoryHTTPClient{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		timeout:  timeout,
		client:   httputil.AdvisoryClient(),
		breaker:  breaker,
		log:      log,
	}
}

func (c *AdvisoryHTTPClient) Enrich(ctx context.Context, req *out.EnrichmentRequest) (*domain.Enrichment, error) {
	if c.endpoint == "" {
		return nil, fmt.Errorf("advisory endpoint not configured")
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.enrich(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return result.(*domain.Enrichment), nil
}

func (c *AdvisoryHTTPClient) enrich(ctx context.Context, req *out.EnrichmentRequest) (*domain.Enrichment, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal enrichment request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/enrich", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("advisory request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("advisory request: status %d: %s", resp.StatusCode, snippet)
	}

	var enrichment domain.Enrichment
	if err := json.NewDecoder(resp.Body).Decode(&enrichment); err != nil {
		return nil, fmt.Errorf("decode enrichment: %w", err)
	}
	return &enrichment, nil
}
