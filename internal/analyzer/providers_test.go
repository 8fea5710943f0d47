package analyzer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

type fakeCompleter struct {
	resp   *openai.ChatCompletion
	err    error
	params []openai.ChatCompletionNewParams
}

func (f *fakeCompleter) New(_ context.Context, body openai.ChatCompletionNewParams, _ ...option.RequestOption) (*openai.ChatCompletion, error) {
	f.params = append(f.params, body)
	return f.resp, f.err
}

func withFakeOpenAI(f *fakeCompleter) func() {
	old := newOpenAIClient
	newOpenAIClient = func(_, _ string, _ time.Duration) ChatCompleter { return f }
	return func() { newOpenAIClient = old }
}

type fakeMessager struct {
	resp   *anthropic.Message
	err    error
	params []anthropic.MessageNewParams
}

func (f *fakeMessager) New(_ context.Context, p anthropic.MessageNewParams, _ ...anthropicoption.RequestOption) (*anthropic.Message, error) {
	f.params = append(f.params, p)
	return f.resp, f.err
}

func withFakeAnthropic(f *fakeMessager) func() {
	old := newAnthropicClient
	newAnthropicClient = func(_, _ string, _ time.Duration) AnthropicMessager { return f }
	return func() { newAnthropicClient = old }
}

func TestOpenAIGenerator(t *testing.T) {
	fake := &fakeCompleter{resp: &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: "insights"}}},
	}}
	defer withFakeOpenAI(fake)()

	gen, err := NewGenerator(Config{Provider: "openai", APIKey: "k"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := gen.Generate(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "insights" {
		t.Fatalf("expected insights, got %q", got)
	}
	if len(fake.params) != 1 {
		t.Fatalf("expected one call, got %d", len(fake.params))
	}
	if string(fake.params[0].Model) != DefaultOpenAIModel {
		t.Fatalf("expected model %s, got %s", DefaultOpenAIModel, fake.params[0].Model)
	}
	if len(fake.params[0].Messages) != 1 {
		t.Fatalf("expected one message, got %d", len(fake.params[0].Messages))
	}
}

func TestOpenAIGeneratorNoChoices(t *testing.T) {
	defer withFakeOpenAI(&fakeCompleter{resp: &openai.ChatCompletion{}})()
	gen := NewOpenAIGenerator(Config{APIKey: "k"})
	if _, err := gen.Generate(context.Background(), "p"); err == nil {
		t.Fatal("expected error when no choices are returned")
	}
}

func TestOpenAIGeneratorPropagatesError(t *testing.T) {
	cause := errors.New("boom")
	defer withFakeOpenAI(&fakeCompleter{err: cause})()
	gen := NewOpenAIGenerator(Config{APIKey: "k", Model: "gpt-4o"})
	if gen.ModelName() != "gpt-4o" {
		t.Fatalf("expected configured model, got %s", gen.ModelName())
	}
	if _, err := gen.Generate(context.Background(), "p"); !errors.Is(err, cause) {
		t.Fatalf("expected cause, got %v", err)
	}
}

func TestAnthropicGenerator(t *testing.T) {
	fake := &fakeMessager{resp: &anthropic.Message{Content: []anthropic.ContentBlockUnion{
		{Type: "text", Text: "part one, "},
		{Type: "tool_use"},
		{Type: "text", Text: "part two"},
	}}}
	defer withFakeAnthropic(fake)()

	gen, err := NewGenerator(Config{Provider: "Anthropic", APIKey: "k"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gen.Provider() != ProviderAnthropic || gen.ModelName() != DefaultAnthropicModel {
		t.Fatalf("unexpected generator %s/%s", gen.Provider(), gen.ModelName())
	}
	got, err := gen.Generate(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "part one, part two" {
		t.Fatalf("expected joined text blocks, got %q", got)
	}
	if fake.params[0].MaxTokens != DefaultMaxTokens {
		t.Fatalf("expected max tokens %d, got %d", DefaultMaxTokens, fake.params[0].MaxTokens)
	}
}

func TestGeneratorTemperature(t *testing.T) {
	oa := &fakeCompleter{resp: &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: "ok"}}},
	}}
	defer withFakeOpenAI(oa)()
	an := &fakeMessager{resp: &anthropic.Message{Content: []anthropic.ContentBlockUnion{{Type: "text", Text: "ok"}}}}
	defer withFakeAnthropic(an)()

	for _, tc := range []struct {
		name string
		temp *float64
		want float64
	}{
		{"unset uses default", nil, DefaultTemperature},
		{"zero is kept", Float(0), 0},
		{"explicit", Float(1.2), 1.2},
	} {
		t.Run(tc.name, func(t *testing.T) {
			oa.params, an.params = nil, nil
			for _, provider := range []string{ProviderOpenAI, ProviderAnthropic} {
				gen, err := NewGenerator(Config{Provider: provider, APIKey: "k", Temperature: tc.temp})
				if err != nil {
					t.Fatal(err)
				}
				if _, err := gen.Generate(context.Background(), "p"); err != nil {
					t.Fatalf("%s: unexpected error: %v", provider, err)
				}
			}
			if got := oa.params[0].Temperature.Value; got != tc.want {
				t.Fatalf("openai temperature=%v want=%v", got, tc.want)
			}
			if got := an.params[0].Temperature.Value; got != tc.want {
				t.Fatalf("anthropic temperature=%v want=%v", got, tc.want)
			}
		})
	}
}
