// Package ai hosts the embedding oracle and answer generator backends: a
// shared Client interface with OpenAI, Vertex AI (Gemini) and gollm
// implementations, plus a deterministic stub for tests — generalized from
// the teacher's code-summarizing Client into the retrieval core's
// embed/generate contract.
package ai

import (
	"context"
	"errors"

	"golang.org/x/time/rate"
	"gonum.org/v1/gonum/floats"
)

// Client is the embedding oracle and answer generator contract. Embed and
// EmbedBatch return L2-normalized vectors of Dim() length; Generate drives
// the answer-generation LLM with a fully-formed prompt.
type Client interface {
	Embed(text string) ([]float32, error)
	EmbedBatch(texts []string) ([][]float32, error)
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
	Dim() int
}

// GenerateOptions carries the decoding profile the Answer Generator (§4G)
// selected for this call.
type GenerateOptions struct {
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
}

// Provider enumerates the supported backends.
type Provider string

const (
	ProviderOpenAI   Provider = "openai"
	ProviderVertexAI Provider = "vertexai"
	ProviderGollm    Provider = "gollm"
	ProviderStub     Provider = "stub"
)

// ClientConfig configures whichever backend Provider selects.
type ClientConfig struct {
	APIKey       string
	EmbedModel   string
	SummaryModel string
	Dim          int
	ProjectID    string
	Provider     Provider
	Location     string

	// EmbedConcurrency paces a sequential-fan-out EmbedBatch implementation:
	// its upstream embedding calls are limited to this many per second, with
	// a burst of the same size. Zero means no limit.
	EmbedConcurrency int
}

// NewClient constructs the Client for config.Provider.
func NewClient(config *ClientConfig) (Client, error) {
	if config == nil {
		return nil, errors.New("client config is required")
	}

	ctx := context.Background()
	switch config.Provider {
	case ProviderOpenAI:
		return NewOpenAIClient(config), nil
	case ProviderVertexAI:
		return NewVertexAIClient(ctx, config)
	case ProviderGollm:
		return NewGollmClient(config)
	case ProviderStub:
		return NewStubClient(config.Dim), nil
	default:
		return nil, errors.New("unsupported provider: " + string(config.Provider))
	}
}

// embedBatchSequential fans EmbedBatch out to embed one call at a time,
// bounded by limiter when non-nil. Backends whose upstream API has no
// native multi-input embedding endpoint (OpenAI's single-string payload
// shape, the stub) share this helper rather than duplicating the loop.
func embedBatchSequential(embed func(string) ([]float32, error), limiter *rate.Limiter, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if limiter != nil {
			if err := limiter.Wait(context.Background()); err != nil {
				return nil, err
			}
		}
		v, err := embed(t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// normalize L2-normalizes v in place and returns it; a zero vector is left
// unchanged since it has no direction to normalize toward.
func normalize(v []float32) []float32 {
	if len(v) == 0 {
		return v
	}
	f64 := make([]float64, len(v))
	for i, x := range v {
		f64[i] = float64(x)
	}
	norm := floats.Norm(f64, 2)
	if norm == 0 {
		return v
	}
	floats.Scale(1/norm, f64)
	for i, x := range f64 {
		v[i] = float32(x)
	}
	return v
}

func newLimiter(concurrency int) *rate.Limiter {
	if concurrency <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(concurrency), concurrency)
}

// StubClient is a deterministic Client for tests and offline development:
// Embed returns the same unit vector (first component 1, the rest 0) of the
// configured dimension for every text, and Generate always returns an error.
type StubClient struct {
	dim int
}

// NewStubClient builds a StubClient with the given dimension.
func NewStubClient(dim int) *StubClient {
	return &StubClient{dim: dim}
}

func (s *StubClient) Embed(text string) ([]float32, error) {
	v := make([]float32, s.dim)
	if s.dim > 0 {
		v[0] = 1 // unit vector, satisfies the L2-normalized invariant
	}
	return v, nil
}

func (s *StubClient) EmbedBatch(texts []string) ([][]float32, error) {
	return embedBatchSequential(s.Embed, nil, texts)
}

func (s *StubClient) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	return "", errors.New("stub client has no generation model available")
}

func (s *StubClient) Dim() int { return s.dim }
