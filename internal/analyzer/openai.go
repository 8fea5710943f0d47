package analyzer

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// ChatCompleter is the subset of the OpenAI chat completions service used here.
type ChatCompleter interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// OpenAIClientCreator builds a ChatCompleter. Replaced in tests.
type OpenAIClientCreator func(apiKey, baseURL string, timeout time.Duration) ChatCompleter

func defaultOpenAICreator(apiKey, baseURL string, timeout time.Duration) ChatCompleter {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(timeout),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(baseURL, "/")+"/"))
	}
	c := openai.NewClient(opts...)
	return &c.Chat.Completions
}

var newOpenAIClient OpenAIClientCreator = defaultOpenAICreator

type OpenAIGenerator struct {
	completions ChatCompleter
	model       string
	maxTokens   int
	temperature float64
}

func NewOpenAIGenerator(cfg Config) *OpenAIGenerator {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAIGenerator{
		completions: newOpenAIClient(cfg.APIKey, cfg.BaseURL, cfg.Timeout),
		model:       model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.temperature(),
	}
}

func (g *OpenAIGenerator) Provider() string  { return ProviderOpenAI }
func (g *OpenAIGenerator) ModelName() string { return g.model }

func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(g.model),
		Messages:    []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)},
		MaxTokens:   openai.Int(int64(g.maxTokens)),
		Temperature: openai.Float(g.temperature),
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
