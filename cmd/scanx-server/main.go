package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/drcokefloat/scanx-brief/internal/app"
	"github.com/drcokefloat/scanx-brief/internal/config"
	"github.com/drcokefloat/scanx-brief/internal/httpapi"
	"github.com/drcokefloat/scanx-brief/internal/jobs"
)

func main() {
	var (
		configPath = flag.String("config", config.DefaultConfigPath, "path to YAML config file")
		addr       = flag.String("addr", "", "listen address (overrides server.addr)")
		dbPath     = flag.String("db", "", "path to SQLite database file (overrides database.path)")
	)
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, *configPath, func(c *config.Config) {
		if *addr != "" {
			c.Server.Addr = *addr
		}
		if *dbPath != "" {
			c.Database.Path = *dbPath
		}
	})
	if err != nil {
		log.Fatal(err)
	}

	runner := jobs.NewRunner(a.Cfg.Jobs.Concurrency, a.Cfg.Jobs.Timeout, a.Log)
	handler := httpapi.NewServer(a.Service, runner, a.PDF, a.Log)
	srv := &http.Server{
		Addr:              a.Cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go a.PurgeLoop(ctx, a.Cfg.Briefs.PurgeInterval)

	errCh := make(chan error, 1)
	go func() {
		a.Log.Info("scanx-server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		a.Log.Info("shutdown requested")
	case err := <-errCh:
		if err != nil {
			a.Log.Error("http server failed", "error", err)
		}
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), a.Cfg.Server.ShutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.Log.Warn("http shutdown incomplete", "error", err)
	}
	if err := runner.Shutdown(shutdownCtx); err != nil {
		a.Log.Warn("background jobs canceled at shutdown", "error", err)
	}
	if err := a.Close(shutdownCtx); err != nil {
		log.Printf("close: %v", err)
	}
}
