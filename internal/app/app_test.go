package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/drcokefloat/scanx-brief/internal/analyzer"
	"github.com/drcokefloat/scanx-brief/internal/config"
)

func TestNewWiresDemoModeWithoutKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	dbPath := filepath.Join(t.TempDir(), "scanx.db")

	a, err := New(context.Background(), "", func(c *config.Config) {
		c.Database.Path = dbPath
		c.Log.Level = "error"
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := a.Analyzer.(*analyzer.DemoAnalyzer); !ok {
		t.Fatalf("expected demo analyzer, got %T", a.Analyzer)
	}
	if a.Cfg.Database.Path != dbPath {
		t.Fatalf("expected override to apply, got %q", a.Cfg.Database.Path)
	}
	if err := a.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestNewRejectsInvalidOverride(t *testing.T) {
	_, err := New(context.Background(), "", func(c *config.Config) {
		c.Jobs.Concurrency = -1
	})
	if err == nil {
		t.Fatal("expected validation error")
	}
}

func TestPurgeLoopStopsOnCancel(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	a, err := New(context.Background(), "", func(c *config.Config) {
		c.Database.Path = filepath.Join(t.TempDir(), "scanx.db")
	})
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.PurgeLoop(ctx, time.Millisecond)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("purge loop did not stop")
	}
}
