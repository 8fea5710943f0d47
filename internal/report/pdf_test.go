package report

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

func TestNewPDFRendererPaper(t *testing.T) {
	r, err := NewPDFRenderer(PDFOptions{ChromePath: "/opt/chrome"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.paper != PaperA4 || r.timeout != DefaultPDFTimeout || r.chromePath != "/opt/chrome" {
		t.Fatalf("unexpected defaults: %+v", r)
	}
	if _, err := NewPDFRenderer(PDFOptions{Paper: "tabloid"}); err == nil {
		t.Fatal("expected error for unsupported paper")
	}
}

func TestPrintParams(t *testing.T) {
	r, err := NewPDFRenderer(PDFOptions{ChromePath: "/opt/chrome", Paper: "Letter", Landscape: true, Timeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	p := r.printParams()
	if p.PaperWidth != 8.5 || p.PaperHeight != 11 || !p.Landscape {
		t.Fatalf("unexpected page setup: width=%v height=%v landscape=%v", p.PaperWidth, p.PaperHeight, p.Landscape)
	}
	if !p.DisplayHeaderFooter || !p.PrintBackground {
		t.Fatalf("expected header/footer and backgrounds, got %+v", p)
	}
	if !strings.Contains(p.HeaderTemplate, `class="title"`) {
		t.Fatalf("expected document title in header, got %s", p.HeaderTemplate)
	}
	for _, want := range []string{"ClinicalTrials.gov", `class="pageNumber"`, `class="totalPages"`} {
		if !strings.Contains(p.FooterTemplate, want) {
			t.Fatalf("expected %q in footer, got %s", want, p.FooterTemplate)
		}
	}

	a4, _ := NewPDFRenderer(PDFOptions{ChromePath: "/opt/chrome"})
	if p := a4.printParams(); p.PaperWidth != 8.27 || p.PaperHeight != 11.69 || p.Landscape {
		t.Fatalf("unexpected a4 setup: %+v", p)
	}
}

func TestRenderPDFWithChrome(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping headless chrome in short mode")
	}
	path := os.Getenv("SCANX_CHROME_PATH")
	if path == "" {
		path = detectChromePath()
	}
	if path == "" {
		t.Skip("no chrome or chromium found")
	}
	r, err := NewPDFRenderer(PDFOptions{ChromePath: path, Landscape: true})
	if err != nil {
		t.Fatal(err)
	}
	doc, err := RenderHTML("ScanX brief: asthma", "# Asthma\n\n| NCT | Title |\n|---|---|\n| NCT1 | Budesonide |\n")
	if err != nil {
		t.Fatal(err)
	}
	out, err := r.Render(context.Background(), doc)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !bytes.HasPrefix(out, []byte("%PDF-")) {
		t.Fatalf("expected a PDF document, got %q", out[:min(len(out), 16)])
	}
}
