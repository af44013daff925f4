package ai

import (
	"context"
	"errors"
	"time"

	"github.com/teilomillet/gollm"
)

// GollmClient drives answer generation through teilomillet/gollm instead of
// hand-rolled HTTP, for deployments that prefer gollm's prompt-builder and
// retry ergonomics. It has no embedding endpoint of its own; callers that
// select this provider must pair it with a separate embedding backend at
// the orchestrator layer, the same separation the teacher draws between
// Embed and Summarize being independently swappable per provider.
type GollmClient struct {
	llm gollm.LLM
	dim int
}

// NewGollmClient builds a gollm-backed generator for config.SummaryModel.
func NewGollmClient(config *ClientConfig) (*GollmClient, error) {
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}
	if config.APIKey == "" {
		return nil, errors.New("PROVIDER_API_KEY unset")
	}

	model := config.SummaryModel
	if model == "" {
		model = "gpt-4o-mini"
	}

	llm, err := gollm.NewLLM(
		gollm.SetProvider("openai"),
		gollm.SetModel(model),
		gollm.SetAPIKey(config.APIKey),
		gollm.SetMaxTokens(500),
		gollm.SetMaxRetries(3),
		gollm.SetRetryDelay(2*time.Second),
	)
	if err != nil {
		return nil, err
	}

	return &GollmClient{llm: llm, dim: config.Dim}, nil
}

func (c *GollmClient) Embed(text string) ([]float32, error) {
	return nil, errors.New("gollm client has no embedding endpoint")
}

func (c *GollmClient) EmbedBatch(texts []string) ([][]float32, error) {
	return nil, errors.New("gollm client has no embedding endpoint")
}

// Generate builds a gollm.Prompt from the caller's system prompt and text,
// and drives completion through the configured provider.
func (c *GollmClient) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	p := gollm.NewPrompt(prompt, gollm.WithSystemPrompt(opts.SystemPrompt, gollm.CacheTypeEphemeral))
	return c.llm.Generate(ctx, p)
}

func (c *GollmClient) Dim() int { return c.dim }
