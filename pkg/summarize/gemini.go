package summarize

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/lumenkind/sona/pkg/therapy"
)

// GeminiConfig configures the Gemini summary backend.
type GeminiConfig struct {
	APIKey string `yaml:"api_key" json:"api_key"`
	Model  string `yaml:"model" json:"model"`
}

func (c *GeminiConfig) validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("summarize: gemini api_key is required")
	}
	if c.Model == "" {
		return fmt.Errorf("summarize: gemini model is required")
	}
	return nil
}

// Gemini derives summaries through the Gemini generate-content API with a
// JSON response MIME type.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates the Gemini backend.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("summarize: gemini client: %w", err)
	}
	return &Gemini{client: client, model: cfg.Model}, nil
}

// Summarize implements Summarizer.
func (g *Gemini) Summarize(ctx context.Context, req Request) (*therapy.Summary, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, []*genai.Content{
		{Role: "user", Parts: []*genai.Part{{Text: buildPrompt(req)}}},
	}, &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: systemPrompt}}},
		ResponseMIMEType:  "application/json",
	})
	if err != nil {
		return nil, fmt.Errorf("summarize: %w: gemini generate: %v", therapy.ErrAdvisory, err)
	}

	var sb strings.Builder
	if resp != nil && len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			sb.WriteString(part.Text)
		}
	}
	summary, err := decodeSummary(sb.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", therapy.ErrAdvisory, err)
	}
	return summary, nil
}
