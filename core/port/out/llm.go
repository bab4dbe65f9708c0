package out

import "context"

// Generator is the learning-extractor LLM backend.
type Generator interface {
	// Generate sends the prompt and returns the raw text response. The
	// response is expected to contain a JSON document, possibly wrapped in
	// model noise the caller must repair.
	Generate(ctx context.Context, prompt, systemPrompt string) (string, error)
}
