package analyzer

import (
	"context"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicMessager is the subset of the Anthropic messages service used here.
type AnthropicMessager interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// AnthropicClientCreator builds an AnthropicMessager. Replaced in tests.
type AnthropicClientCreator func(apiKey, baseURL string, timeout time.Duration) AnthropicMessager

func defaultAnthropicCreator(apiKey, baseURL string, timeout time.Duration) AnthropicMessager {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(timeout),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(baseURL, "/")))
	}
	c := anthropic.NewClient(opts...)
	return &c.Messages
}

var newAnthropicClient AnthropicClientCreator = defaultAnthropicCreator

type AnthropicGenerator struct {
	messages    AnthropicMessager
	model       string
	maxTokens   int
	temperature float64
}

func NewAnthropicGenerator(cfg Config) *AnthropicGenerator {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultAnthropicModel
	}
	return &AnthropicGenerator{
		messages:    newAnthropicClient(cfg.APIKey, cfg.BaseURL, cfg.Timeout),
		model:       model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.temperature(),
	}
}

func (g *AnthropicGenerator) Provider() string  { return ProviderAnthropic }
func (g *AnthropicGenerator) ModelName() string { return g.model }

func (g *AnthropicGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(g.model),
		MaxTokens:   int64(g.maxTokens),
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))},
		Temperature: anthropic.Float(g.temperature),
	})
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, b := range resp.Content {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	return sb.String(), nil
}
