// Package app wires the components shared by the server and CLI binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/drcokefloat/scanx-brief/internal/analyzer"
	"github.com/drcokefloat/scanx-brief/internal/brief"
	"github.com/drcokefloat/scanx-brief/internal/config"
	"github.com/drcokefloat/scanx-brief/internal/logger"
	"github.com/drcokefloat/scanx-brief/internal/registry"
	"github.com/drcokefloat/scanx-brief/internal/report"
	"github.com/drcokefloat/scanx-brief/internal/telemetry"
)

// Version is stamped at build time with -ldflags "-X .../internal/app.Version=...".
var Version = "dev"

type App struct {
	Log      *logger.Logger
	Cfg      *config.Config
	Store    *brief.SQLiteStore
	Registry *registry.Client
	Analyzer brief.Analyzer
	Service  *brief.Service
	PDF      *report.PDFRenderer

	shutdownTracing telemetry.Shutdown
}

// New loads configuration from configPath and builds every component. The caller
// owns the returned App and must Close it.
func New(ctx context.Context, configPath string, override func(*config.Config)) (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if override != nil {
		override(cfg)
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	log, err := logger.New(cfg.Log.Mode, cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	shutdown, err := telemetry.Init(ctx, cfg.Telemetry, Version, log)
	if err != nil {
		log.Warn("tracing disabled: exporter init failed", "error", err)
	}

	store, err := brief.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		log.Sync()
		return nil, err
	}

	regCfg := cfg.RegistryClientConfig()
	regCfg.Logger = log
	reg, err := registry.NewClient(regCfg)
	if err != nil {
		_ = store.Close()
		log.Sync()
		return nil, err
	}

	an, err := analyzer.New(cfg.AnalyzerConfig(), log)
	if err != nil {
		_ = store.Close()
		log.Sync()
		return nil, err
	}

	svc, err := brief.NewService(store, reg, an, cfg.ServiceConfig(), log)
	if err != nil {
		_ = store.Close()
		log.Sync()
		return nil, err
	}

	pdf, err := report.NewPDFRenderer(cfg.PDFOptions())
	if err != nil {
		_ = store.Close()
		log.Sync()
		return nil, err
	}

	log.Info("scanx initialized", "version", Version, "db", cfg.Database.Path, "registry", cfg.Registry.BaseURL)
	return &App{
		Log:             log,
		Cfg:             cfg,
		Store:           store,
		Registry:        reg,
		Analyzer:        an,
		Service:         svc,
		PDF:             pdf,
		shutdownTracing: shutdown,
	}, nil
}

// PurgeLoop deletes expired briefs every interval until ctx is done.
func (a *App) PurgeLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.Service.PurgeExpired(ctx); err != nil && ctx.Err() == nil {
				a.Log.Warn("purge expired briefs failed", "error", err)
			}
		}
	}
}

// Close flushes tracing and closes the database.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.shutdownTracing != nil {
		if err := a.shutdownTracing(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracing: %w", err))
		}
	}
	if err := a.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	a.Log.Sync()
	return errors.Join(errs...)
}
