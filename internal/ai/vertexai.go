package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

type VertexAIClient struct {
	config *ClientConfig
	client *genai.Client
}

// NewVertexAIClient creates a new client for the Google Gemini API.
func NewVertexAIClient(ctx context.Context, config *ClientConfig) (*VertexAIClient, error) {
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}

	if config.EmbedModel == "" {
		config.EmbedModel = "text-embedding-005"
	}
	if config.SummaryModel == "" {
		config.SummaryModel = "gemini-2.0-flash"
	}
	if config.Dim == 0 {
		config.Dim = 768
	}
	if config.Location == "" && strings.TrimSpace(config.APIKey) == "" {
		config.Location = "us-central1"
	}

	cc := genai.ClientConfig{
		Backend: genai.BackendVertexAI,
	}

	if strings.TrimSpace(config.APIKey) != "" {
		cc.APIKey = config.APIKey
	}
	if strings.TrimSpace(config.ProjectID) != "" {
		cc.Project = config.ProjectID
	}
	if strings.TrimSpace(config.Location) != "" {
		cc.Location = config.Location
	}

	client, err := genai.NewClient(ctx, &cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &VertexAIClient{
		config: config,
		client: client,
	}, nil
}

// Close returns nil; it does not close or release the underlying genai
// client.
func (c *VertexAIClient) Close() error {
	return nil
}

// Embed calls EmbedContent with a single text.
func (c *VertexAIClient) Embed(text string) ([]float32, error) {
	vecs, err := c.embedAll(context.Background(), []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch sends every text in one EmbedContent call: Gemini's embedding
// endpoint accepts a slice of contents and returns one embedding per
// content, so batching here is a true multi-input call rather than a
// sequential fan-out.
func (c *VertexAIClient) EmbedBatch(texts []string) ([][]float32, error) {
	return c.embedAll(context.Background(), texts)
}

func (c *VertexAIClient) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	cfg := genai.EmbedContentConfig{
		TaskType: "RETRIEVAL_DOCUMENT",
	}

	contents := make([]*genai.Content, 0, len(texts))
	for _, t := range texts {
		contents = append(contents, genai.Text(t)[0])
	}

	res, err := c.client.Models.EmbedContent(ctx, c.config.EmbedModel, contents, &cfg)
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}
	if res == nil || len(res.Embeddings) != len(texts) {
		return nil, errors.New("embedding count mismatch")
	}

	out := make([][]float32, len(texts))
	for i, e := range res.Embeddings {
		out[i] = normalize(e.Values)
	}
	return out, nil
}

// Generate drives Gemini's GenerateContent with the caller's system
// instruction and decoding profile.
func (c *VertexAIClient) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	sysPrompt := genai.Text(opts.SystemPrompt)
	temp := float32(opts.Temperature)
	maxTokens := int32(opts.MaxTokens)
	cfg := genai.GenerateContentConfig{
		Temperature:       &temp,
		MaxOutputTokens:   maxTokens,
		SystemInstruction: sysPrompt[0],
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.config.SummaryModel, genai.Text(prompt), &cfg)
	if err != nil {
		return "", fmt.Errorf("generation failed: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("no answer returned")
	}

	part := resp.Candidates[0].Content.Parts[0]
	answer := strings.TrimSpace(string(part.Text))
	answer = strings.ReplaceAll(answer, "\n", " ")
	return answer, nil
}

func (c *VertexAIClient) Dim() int {
	return c.config.Dim
}
