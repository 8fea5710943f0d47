package analyzer

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drcokefloat/scanx-brief/internal/brief"
	"github.com/drcokefloat/scanx-brief/internal/logger"
	"github.com/drcokefloat/scanx-brief/internal/relevance"
)

// TextGenerator is a single-turn completion call.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	ModelName() string
	Provider() string
}

type LiveAnalyzer struct {
	gen    TextGenerator
	now    func() time.Time
	log    *logger.Logger
	tracer trace.Tracer
}

func NewLiveAnalyzer(gen TextGenerator, now func() time.Time, log *logger.Logger) *LiveAnalyzer {
	if now == nil {
		now = time.Now
	}
	return &LiveAnalyzer{
		gen:    gen,
		now:    now,
		log:    log,
		tracer: otel.Tracer("github.com/drcokefloat/scanx-brief/internal/analyzer"),
	}
}

func (a *LiveAnalyzer) Analyze(ctx context.Context, topic string, trials []brief.Trial) (string, error) {
	if len(trials) == 0 {
		return NoTrialsMessage, nil
	}
	ctx, span := a.tracer.Start(ctx, "analyzer.analyze", trace.WithAttributes(
		attribute.String("analyzer.provider", a.gen.Provider()),
		attribute.String("analyzer.model", a.gen.ModelName()),
		attribute.Int("analyzer.trials", len(trials)),
	))
	defer span.End()

	selected := relevance.Select(trials, a.now())
	prompt := BuildPrompt(topic, FormatTrials(selected))
	a.log.Info("generating narrative analysis", "topic", topic, "selected", len(selected), "of", len(trials), "model", a.gen.ModelName())

	text, err := a.gen.Generate(ctx, prompt)
	if err == nil && strings.TrimSpace(text) == "" {
		err = errors.New("provider returned empty text")
	}
	if err != nil {
		aerr := &Error{Provider: a.gen.Provider(), Model: a.gen.ModelName(), Err: err}
		span.RecordError(aerr)
		span.SetStatus(codes.Error, "analysis failed")
		a.log.Error("narrative analysis failed", "topic", topic, "error", err)
		return "", aerr
	}
	a.log.Info("narrative analysis generated", "topic", topic, "chars", len(text))
	return strings.TrimSpace(text), nil
}
