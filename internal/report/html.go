package report

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

const stylesheet = `body{font-family:-apple-system,"Segoe UI",Helvetica,Arial,sans-serif;color:#1f2937;background:#fff;margin:0;padding:0.6rem;line-height:1.5;}
.report-wrap{max-width:1000px;margin:0 auto;}
h1{font-size:1.6rem;border-bottom:3px solid #0f766e;padding-bottom:0.3rem;}
h2{font-size:1.25rem;color:#0f766e;margin-top:1.6rem;}
h3{font-size:1.05rem;}
a{color:#1d4ed8;text-decoration:underline;}
table{width:100%;border-collapse:collapse;border:1px solid #cbd5e1;font-size:0.8rem;}
th,td{border:1px solid #cbd5e1;padding:0.35rem 0.45rem;text-align:left;vertical-align:top;}
thead th{background:#f1f5f9;font-weight:700;}
h2[data-page-break-before="true"]{break-before:page;page-break-before:always;}
@media print{@page{size:auto;margin:12mm;} body{padding:0;} .report-wrap{max-width:none;}}
html,body,*{-webkit-print-color-adjust:exact !important;print-color-adjust:exact !important;}`

var trialsHeadingRe = regexp.MustCompile(`(?i)<h2([^>]*)>\s*Trials\s*</h2>`)

// RenderHTML converts report markdown into a complete, styled HTML document.
func RenderHTML(title, markdown string) (string, error) {
	var content strings.Builder
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	if err := md.Convert([]byte(markdown), &content); err != nil {
		return "", fmt.Errorf("markdown convert: %w", err)
	}
	return "<!doctype html><html><head><meta charset='utf-8'><title>" + html.EscapeString(title) + "</title>" +
		"<style>" + stylesheet + "</style></head><body>" +
		"<div class='report-wrap'>" + applyPrintLayoutHooks(content.String()) + "</div>" +
		"</body></html>", nil
}

// applyPrintLayoutHooks starts the trial table on a fresh printed page.
func applyPrintLayoutHooks(contentHTML string) string {
	return trialsHeadingRe.ReplaceAllString(contentHTML, `<h2$1 data-page-break-before="true">Trials</h2>`)
}
