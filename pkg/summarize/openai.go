package summarize

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/lumenkind/sona/pkg/therapy"
)

// OpenAIConfig configures the OpenAI-compatible summary backend.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key" json:"api_key"`
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	Model   string `yaml:"model" json:"model"`
}

func (c *OpenAIConfig) validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("summarize: openai api_key is required")
	}
	if c.Model == "" {
		return fmt.Errorf("summarize: openai model is required")
	}
	return nil
}

// OpenAI derives summaries through a chat-completion endpoint with a
// strict JSON schema response format.
type OpenAI struct {
	client openai.Client
	model  string
	schema any
}

// NewOpenAI creates the OpenAI backend.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	schema, err := summarySchema()
	if err != nil {
		return nil, fmt.Errorf("summarize: schema: %w", err)
	}
	return &OpenAI{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
		schema: schema,
	}, nil
}

// Summarize implements Summarizer.
func (o *OpenAI) Summarize(ctx context.Context, req Request) (*therapy.Summary, error) {
	params := openai.ChatCompletionNewParams{
		Model: o.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(buildPrompt(req)),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "session_summary",
					Schema: o.schema,
					Strict: param.NewOpt(true),
				},
			},
		},
	}
	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("summarize: %w: openai chat: %v", therapy.ErrAdvisory, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("summarize: %w: no choices", therapy.ErrAdvisory)
	}
	choice := resp.Choices[0]
	if choice.Message.Refusal != "" {
		return nil, fmt.Errorf("summarize: %w: refused: %s", therapy.ErrAdvisory, choice.Message.Refusal)
	}
	summary, err := decodeSummary(choice.Message.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", therapy.ErrAdvisory, err)
	}
	return summary, nil
}
