package llm

import (
	"context"
	"fmt"
	"time"

	"alert_worker/pkg/logger"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient implements out.Generator via the chat completions API.
// JSON-object response format is requested so the repair pass has less
// to clean up.
type OpenAIClient struct {
	client *openai.Client
	model  string
	log    *logger.Logger
}

func NewOpenAIClient(apiKey, model string) *OpenAIClient {
	return &OpenAIClient{
		client: openai.NewClient(apiKey),
		model:  model,
		log:    logger.Default().WithField("component", "llm-openai"),
	}
}

func (c *OpenAIClient) Generate(ctx context.Context, prompt, systemPrompt string) (string, error) {
	messages := []openai.ChatCompletionMessage{}
	if systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	started := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: 0.1,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai completion: empty choices")
	}

	c.log.WithFields(map[string]any{
		"duration_ms":   time.Since(started).Milliseconds(),
		"prompt_tokens": resp.Usage.PromptTokens,
		"total_tokens":  resp.Usage.TotalTokens,
	}).Debug("LLM generation complete")
	return resp.Choices[0].Message.Content, nil
}
