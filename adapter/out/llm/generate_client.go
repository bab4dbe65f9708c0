// Package llm implements the learning-extractor and advisory backends.
package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"alert_worker/pkg/httputil"
	"alert_worker/pkg/logger"

	"github.com/goccy/go-json"
)

// GenerateClient implements out.Generator against a self-hosted
// completion endpoint exposing POST /generate.
type GenerateClient struct {
	endpoint string
	timeout  time.Duration
	client   *http.Client
	log      *logger.Logger
}

func NewGenerateClient(endpoint string, timeout time.Duration) *GenerateClient {
	return &GenerateClient{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		timeout:  timeout,
		client:   httputil.LLMClient(),
		log:      logger.Default().WithField("component", "llm-generate"),
	}
}

type generateRequest struct {
	Prompt       string `json:"prompt"`
	SystemPrompt string `json:"system_prompt,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
}

func (c *GenerateClient) Generate(ctx context.Context, prompt, systemPrompt string) (string, error) {
	if c.endpoint == "" {
		return "", fmt.Errorf("llm endpoint not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(generateRequest{Prompt: prompt, SystemPrompt: systemPrompt})
	if err != nil {
		return "", fmt.Errorf("marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm generate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("llm generate: status %d: %s", resp.StatusCode, snippet)
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode generate response: %w", err)
	}

	c.log.WithFields(map[string]interface{}{
		"duration_ms": time.Since(started).Milliseconds(),
		"chars":       len(out.Response),
	}).Debug("LLM generation complete")
	return out.Response, nil
}
