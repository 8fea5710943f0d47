package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/drcokefloat/scanx-brief/internal/app"
	"github.com/drcokefloat/scanx-brief/internal/brief"
	"github.com/drcokefloat/scanx-brief/internal/config"
	"github.com/drcokefloat/scanx-brief/internal/registry"
	"github.com/drcokefloat/scanx-brief/internal/report"
)

type options struct {
	topics               []string
	condition            string
	intervention         string
	operator             string
	includeObservational bool
	owner                string
	refreshID            string
	concurrency          int
	markdownOut          string
	htmlOut              string
	pdfOut               string
}

func main() {
	var opts options
	configPath := flag.String("config", config.DefaultConfigPath, "path to YAML config file")
	dbPath := flag.String("db", "", "path to SQLite database file (overrides database.path)")
	topic := flag.String("topic", "", "topic to search (more topics may follow as arguments)")
	flag.StringVar(&opts.condition, "condition", "", "advanced search: condition term")
	flag.StringVar(&opts.intervention, "intervention", "", "advanced search: intervention term")
	flag.StringVar(&opts.operator, "operator", "AND", "advanced search: AND or OR")
	flag.BoolVar(&opts.includeObservational, "include-observational", false, "advanced search: keep observational studies")
	flag.StringVar(&opts.owner, "owner", "", "owner id recorded on generated briefs")
	flag.StringVar(&opts.refreshID, "refresh", "", "refresh the brief with this id instead of generating")
	flag.IntVar(&opts.concurrency, "concurrency", 2, "briefs generated in parallel when several topics are given")
	flag.StringVar(&opts.markdownOut, "markdown", "", "write the report markdown to this path (single brief only)")
	flag.StringVar(&opts.htmlOut, "html", "", "write the HTML report to this path (single brief only)")
	flag.StringVar(&opts.pdfOut, "pdf", "", "write the PDF report to this path (single brief only)")
	flag.Parse()

	if *topic != "" {
		opts.topics = append(opts.topics, *topic)
	}
	opts.topics = append(opts.topics, flag.Args()...)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, *configPath, func(c *config.Config) {
		if *dbPath != "" {
			c.Database.Path = *dbPath
		}
	})
	if err != nil {
		log.Fatal(err)
	}
	runErr := run(ctx, a, opts, os.Stdout)
	if err := a.Close(context.WithoutCancel(ctx)); err != nil {
		log.Printf("close: %v", err)
	}
	if runErr != nil {
		log.Fatal(runErr)
	}
}

func run(ctx context.Context, a *app.App, opts options, out io.Writer) error {
	if opts.refreshID != "" {
		// a failed refresh returns the restored brief alongside the error
		b, err := a.Service.Refresh(ctx, opts.refreshID)
		if b != nil {
			printBrief(out, b)
		}
		if err != nil {
			return fmt.Errorf("refresh %s: %w", opts.refreshID, err)
		}
		return writeExports(ctx, a, b, opts)
	}

	reqs, err := buildRequests(opts)
	if err != nil {
		return err
	}
	briefs, err := generateAll(ctx, a.Service, reqs, opts.concurrency)
	if err != nil {
		return err
	}

	failed := 0
	for _, b := range briefs {
		printBrief(out, b)
		if b.Status == brief.StatusFailed {
			failed++
		}
	}
	if len(briefs) == 1 && briefs[0].Status == brief.StatusCompleted {
		if err := writeExports(ctx, a, briefs[0], opts); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d briefs failed", failed, len(briefs))
	}
	return nil
}

// buildRequests turns flags into generate requests: one advanced search when a
// condition or intervention is set, otherwise one simple search per topic.
func buildRequests(opts options) ([]brief.GenerateRequest, error) {
	if opts.condition != "" || opts.intervention != "" {
		q := registry.AdvancedQuery{
			Condition:            opts.condition,
			Intervention:         opts.intervention,
			Operator:             registry.ParseOperator(opts.operator),
			IncludeObservational: opts.includeObservational,
		}
		term, err := q.BuildQuery()
		if err != nil {
			return nil, err
		}
		return []brief.GenerateRequest{{SearchTerm: term, DisplayTopic: q.DisplayTopic(), OwnerID: opts.owner}}, nil
	}
	var reqs []brief.GenerateRequest
	for _, t := range opts.topics {
		if t = strings.TrimSpace(t); t != "" {
			reqs = append(reqs, brief.GenerateRequest{SearchTerm: t, OwnerID: opts.owner})
		}
	}
	if len(reqs) == 0 {
		return nil, errors.New("nothing to do: pass -topic, -condition/-intervention or -refresh")
	}
	return reqs, nil
}

// generateAll runs each request to a terminal state. A failed pipeline still yields
// its failed brief; only errors that leave no brief abort the batch.
func generateAll(ctx context.Context, svc *brief.Service, reqs []brief.GenerateRequest, concurrency int) ([]*brief.Brief, error) {
	out := make([]*brief.Brief, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(concurrency, 1))
	for i, req := range reqs {
		g.Go(func() error {
			b, err := svc.Generate(gctx, req)
			if b == nil {
				return fmt.Errorf("%s: %w", req.SearchTerm, err)
			}
			out[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func printBrief(out io.Writer, b *brief.Brief) {
	fmt.Fprintf(out, "brief %s\n  topic:   %s\n  status:  %s\n  expires: %s\n",
		b.ID, b.Topic, b.Status, b.ExpiresAt.Format("2006-01-02"))
	if b.Summary != "" {
		fmt.Fprintf(out, "\n%s\n\n", b.Summary)
	}
}

func writeExports(ctx context.Context, a *app.App, b *brief.Brief, opts options) error {
	if opts.markdownOut == "" && opts.htmlOut == "" && opts.pdfOut == "" {
		return nil
	}
	d, err := a.Service.Dashboard(ctx, b.ID, b.OwnerID)
	if err != nil {
		return err
	}
	md := report.BuildMarkdown(d)
	if opts.markdownOut != "" {
		if err := os.WriteFile(opts.markdownOut, []byte(md), 0o644); err != nil {
			return fmt.Errorf("write markdown: %w", err)
		}
	}
	if opts.htmlOut == "" && opts.pdfOut == "" {
		return nil
	}
	doc, err := report.RenderHTML("ScanX brief: "+b.Topic, md)
	if err != nil {
		return err
	}
	if opts.htmlOut != "" {
		if err := os.WriteFile(opts.htmlOut, []byte(doc), 0o644); err != nil {
			return fmt.Errorf("write html: %w", err)
		}
	}
	if opts.pdfOut != "" {
		pdf, err := a.PDF.Render(ctx, doc)
		if err != nil {
			return fmt.Errorf("render pdf: %w", err)
		}
		if err := os.WriteFile(opts.pdfOut, pdf, 0o644); err != nil {
			return fmt.Errorf("write pdf: %w", err)
		}
	}
	return nil
}
