package report

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/drcokefloat/scanx-brief/internal/brief"
	"github.com/drcokefloat/scanx-brief/internal/registry"
)

const reportTimeLayout = "January 2, 2006 at 3:04 PM MST"

// BuildMarkdown renders a dashboard as a standalone markdown document.
func BuildMarkdown(d *brief.Dashboard) string {
	b := d.Brief
	var sb strings.Builder

	fmt.Fprintf(&sb, "# Clinical Trial Brief: %s\n\n", b.Topic)
	fmt.Fprintf(&sb, "**Status:** %s  \n", statusLabel(b.Status))
	fmt.Fprintf(&sb, "**Last updated:** %s  \n", b.UpdatedAt.UTC().Format(reportTimeLayout))
	fmt.Fprintf(&sb, "**Trials:** %d (%d active or recruiting)\n\n", d.Stats.Total, d.Stats.Active)

	sb.WriteString("## Phase Distribution\n\n")
	sb.WriteString("| Phase 1 | Phase 2 | Phase 3 | Phase 4 |\n")
	sb.WriteString("|---|---|---|---|\n")
	fmt.Fprintf(&sb, "| %d | %d | %d | %d |\n\n", d.Stats.Phase1, d.Stats.Phase2, d.Stats.Phase3, d.Stats.Phase4)

	sb.WriteString("## Analysis\n\n")
	if strings.TrimSpace(b.Summary) == "" {
		sb.WriteString("_No analysis available yet._\n\n")
	} else {
		sb.WriteString(demoteHeadings(strings.TrimSpace(b.Summary)))
		sb.WriteString("\n\n")
	}

	if meta, ok := searchReport(b.SearchMetadata); ok {
		writeSearchReport(&sb, meta)
	}

	sb.WriteString("## Trials\n\n")
	if len(d.Trials) == 0 {
		sb.WriteString("_No trials recorded._\n")
		return sb.String()
	}
	sb.WriteString("| NCT ID | Title | Sponsor | Phase | Status | Start |\n")
	sb.WriteString("|---|---|---|---|---|---|\n")
	for _, t := range d.Trials {
		start := t.StartDateString()
		if start == "" {
			start = "N/A"
		}
		status := t.Status
		if status == "" {
			status = "N/A"
		}
		fmt.Fprintf(&sb, "| [%s](%s) | %s | %s | %s | %s | %s |\n",
			t.NCTID, t.URL, cell(t.Title), cell(t.SponsorLabel()), t.PhaseLabel(), cell(status), start)
	}
	return sb.String()
}

func writeSearchReport(sb *strings.Builder, r registry.Report) {
	sb.WriteString("## Search Transparency\n\n")
	fmt.Fprintf(sb, "**Query:** `%s`  \n", strings.ReplaceAll(r.Query, "`", "'"))
	fmt.Fprintf(sb, "**Registry results:** %d\n\n", r.TotalResults)
	if r.SearchExplanation != "" {
		sb.WriteString(r.SearchExplanation + "\n\n")
	}
	fa := r.FieldAnalysis
	if fa == nil || fa.TotalAnalyzed == 0 {
		return
	}
	fmt.Fprintf(sb, "Field analysis over %d sampled studies:\n\n", fa.TotalAnalyzed)
	sb.WriteString("| Field | Matches | Share |\n|---|---|---|\n")
	for _, row := range []struct {
		label string
		fc    registry.FieldCount
	}{
		{registry.FieldTitle, fa.TitleMatches},
		{registry.FieldConditions, fa.ConditionMatches},
		{registry.FieldInterventions, fa.InterventionMatches},
		{registry.FieldSummary, fa.SummaryMatches},
		{registry.FieldOther, fa.OtherMatches},
	} {
		fmt.Fprintf(sb, "| %s | %d | %.1f%% |\n", row.label, row.fc.Count, row.fc.Percentage)
	}
	sb.WriteString("\n")
}

func searchReport(raw json.RawMessage) (registry.Report, bool) {
	var r registry.Report
	if len(raw) == 0 || json.Unmarshal(raw, &r) != nil || r.Query == "" {
		return r, false
	}
	return r, true
}

func statusLabel(s brief.Status) string {
	switch s {
	case brief.StatusGenerating:
		return "Generating"
	case brief.StatusCompleted:
		return "Completed"
	case brief.StatusFailed:
		return "Failed"
	}
	return string(s)
}

// demoteHeadings pushes summary headings two levels down so they nest under ## Analysis.
func demoteHeadings(md string) string {
	lines := strings.Split(md, "\n")
	for i, l := range lines {
		loc := markdownHeadingRe.FindStringIndex(l)
		if loc == nil {
			continue
		}
		level := strings.Count(l[:loc[1]], "#")
		lines[i] = strings.Repeat("#", min(level+2, 6)) + " " + l[loc[1]:]
	}
	return strings.Join(lines, "\n")
}

func cell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "|", `\|`)
}

// Filename is a filesystem-safe name for a brief's exported report.
func Filename(b *brief.Brief, ext string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(b.Topic) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		case sb.Len() > 0 && !strings.HasSuffix(sb.String(), "-"):
			sb.WriteByte('-')
		}
	}
	name := strings.Trim(sb.String(), "-")
	if name == "" {
		name = "brief"
	}
	if len(name) > 60 {
		name = strings.TrimRight(name[:60], "-")
	}
	return fmt.Sprintf("scanx-%s-%s.%s", name, b.UpdatedAt.UTC().Format("20060102"), ext)
}
