package report

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

const (
	DefaultPDFTimeout = 30 * time.Second
	DefaultPaper      = PaperA4
)

// Paper sizes accepted by PDFOptions.Paper.
const (
	PaperA4     = "a4"
	PaperLetter = "letter"
)

// paperInches maps a paper name to portrait width and height in inches.
var paperInches = map[string][2]float64{
	PaperA4:     {8.27, 11.69},
	PaperLetter: {8.5, 11},
}

// Header and footer templates use Chrome's print classes: title is the document
// <title> ("ScanX brief: topic"), date is the print time.
const (
	pdfHeader = `<div style="width:100%;font-size:8px;color:#888;padding:0 0.45in;">` +
		`<span class="title"></span></div>`
	pdfFooter = `<div style="width:100%;display:flex;justify-content:space-between;font-size:8px;color:#666;padding:0 0.45in;">` +
		`<span>Source: ClinicalTrials.gov &middot; printed <span class="date"></span></span>` +
		`<span>Page <span class="pageNumber"></span> of <span class="totalPages"></span></span></div>`
)

type PDFOptions struct {
	ChromePath string
	Timeout    time.Duration
	// Paper is PaperA4 or PaperLetter.
	Paper string
	// Landscape gives the trials table room for long titles and sponsor names.
	Landscape bool
}

// PDFRenderer prints HTML documents through a headless Chromium.
type PDFRenderer struct {
	chromePath string
	timeout    time.Duration
	paper      string
	landscape  bool
}

// NewPDFRenderer uses opts.ChromePath when set, otherwise the first Chromium found on
// the usual system paths, falling back to chromedp's own lookup.
func NewPDFRenderer(opts PDFOptions) (*PDFRenderer, error) {
	paper := strings.ToLower(strings.TrimSpace(opts.Paper))
	if paper == "" {
		paper = DefaultPaper
	}
	if _, ok := paperInches[paper]; !ok {
		return nil, fmt.Errorf("unsupported paper size %q", opts.Paper)
	}
	r := &PDFRenderer{
		chromePath: opts.ChromePath,
		timeout:    opts.Timeout,
		paper:      paper,
		landscape:  opts.Landscape,
	}
	if r.chromePath == "" {
		r.chromePath = detectChromePath()
	}
	if r.timeout <= 0 {
		r.timeout = DefaultPDFTimeout
	}
	return r, nil
}

// printParams builds the PrintToPDF call for the renderer's page setup. Margins leave
// room for the header and footer templates.
func (r *PDFRenderer) printParams() *page.PrintToPDFParams {
	size := paperInches[r.paper]
	return page.PrintToPDF().
		WithPrintBackground(true).
		WithLandscape(r.landscape).
		WithPreferCSSPageSize(false).
		WithDisplayHeaderFooter(true).
		WithHeaderTemplate(pdfHeader).
		WithFooterTemplate(pdfFooter).
		WithPaperWidth(size[0]).
		WithPaperHeight(size[1]).
		WithMarginTop(0.6).
		WithMarginBottom(0.7).
		WithMarginLeft(0.45).
		WithMarginRight(0.45)
}

func (r *PDFRenderer) Render(ctx context.Context, htmlDoc string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if r.chromePath != "" {
		opts = append(opts, chromedp.ExecPath(r.chromePath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	defer allocCancel()
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	defer browserCancel()

	var pdf []byte
	params := r.printParams()
	err := chromedp.Run(browserCtx,
		chromedp.Navigate("data:text/html;base64,"+base64.StdEncoding.EncodeToString([]byte(htmlDoc))),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			pdf, _, err = params.Do(ctx)
			return err
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("print pdf (%s, landscape=%t): %w", r.paper, r.landscape, err)
	}
	return pdf, nil
}

func detectChromePath() string {
	for _, p := range []string{
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/usr/bin/google-chrome",
		"/usr/bin/google-chrome-stable",
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
