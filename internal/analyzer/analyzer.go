// Package analyzer produces the narrative text attached to a brief. A live analyzer
// calls an external text-generation provider; a demo analyzer renders a fixed
// template from local statistics when no credential is configured.
package analyzer

import (
	"fmt"
	"strings"
	"time"

	"github.com/drcokefloat/scanx-brief/internal/brief"
	"github.com/drcokefloat/scanx-brief/internal/logger"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"

	DefaultOpenAIModel    = "gpt-4-turbo"
	DefaultAnthropicModel = "claude-sonnet-4-5"
	DefaultMaxTokens      = 4000
	DefaultTemperature    = 0.7
	DefaultTimeout        = 120 * time.Second

	// PlaceholderAPIKey ships in sample configuration and never enables live mode.
	PlaceholderAPIKey = "sk-test-key-replace-with-real-key"

	NoTrialsMessage = "No clinical trials found for analysis."
)

// Config selects and bounds the provider. A nil Temperature means
// DefaultTemperature; any set value, including 0, is sent as given.
type Config struct {
	Provider    string
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature *float64
	Timeout     time.Duration
}

// Float returns a pointer to v, for Config.Temperature.
func Float(v float64) *float64 { return &v }

func (c Config) temperature() float64 {
	if c.Temperature == nil {
		return DefaultTemperature
	}
	return *c.Temperature
}

// HasUsableCredential reports whether key can drive live mode.
func HasUsableCredential(key string) bool {
	key = strings.TrimSpace(key)
	return key != "" && key != PlaceholderAPIKey
}

// New picks the live analyzer when a usable credential is configured and the demo
// analyzer otherwise. The choice is made once.
func New(cfg Config, log *logger.Logger) (brief.Analyzer, error) {
	log = log.With("component", "analyzer")
	if !HasUsableCredential(cfg.APIKey) {
		log.Warn("analysis API key not configured, running in demo mode")
		return NewDemoAnalyzer(nil), nil
	}
	gen, err := NewGenerator(cfg)
	if err != nil {
		return nil, err
	}
	log.Info("live analysis enabled", "provider", gen.Provider(), "model", gen.ModelName())
	return NewLiveAnalyzer(gen, nil, log), nil
}

// NewGenerator builds the provider client named by cfg.Provider (default openai).
func NewGenerator(cfg Config) (TextGenerator, error) {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderOpenAI:
		return NewOpenAIGenerator(cfg), nil
	case ProviderAnthropic:
		return NewAnthropicGenerator(cfg), nil
	default:
		return nil, fmt.Errorf("unknown analysis provider %q", cfg.Provider)
	}
}

// Error is a failed live analysis call. It is never downgraded to demo output.
type Error struct {
	Provider string
	Model    string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("failed to generate analysis with %s %s: %v", e.Provider, e.Model, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
