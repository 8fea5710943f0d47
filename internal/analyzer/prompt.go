package analyzer

import (
	"fmt"
	"strings"

	"github.com/drcokefloat/scanx-brief/internal/brief"
)

// FormatTrials renders the trial block sent to the provider: an overview header with
// the phase distribution, then one line per trial in input order.
func FormatTrials(trials []brief.Trial) string {
	counts := map[string]int{}
	for _, t := range trials {
		counts[t.Phase]++
	}

	lines := make([]string, 0, len(trials)+5)
	lines = append(lines,
		"=== PIPELINE OVERVIEW ===",
		fmt.Sprintf("Total Trials: %d", len(trials)),
		fmt.Sprintf("Phase Distribution: Phase 1: %d, Phase 2: %d, Phase 3: %d, Phase 4: %d",
			counts["PHASE1"], counts["PHASE2"], counts["PHASE3"], counts["PHASE4"]),
		"",
		"=== TRIAL DETAILS ===",
	)
	for _, t := range trials {
		lines = append(lines, fmt.Sprintf("%s: %s | Sponsor: %s | Phase: %s | Status: %s | Start: %s",
			t.NCTID, t.Title, t.SponsorLabel(), t.PhaseLabel(), orNA(t.Status), orNA(t.StartDateString())))
	}
	return strings.Join(lines, "\n")
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

const promptTemplate = `You are an expert in clinical development and market access.

Based on these clinical trials for '%s', provide a comprehensive analysis including:

1. **Market Landscape Overview**: Current development trends, pipeline maturity, and key patterns
2. **Development Phases & Timeline**: Phase distribution analysis with realistic development timelines
3. **Key Players & Sponsor Activity**: Major sponsors, their focus areas, and competitive positioning
4. **Technology & Mechanism Analysis**: Group interventions by mechanism of action or therapeutic approach
5. **Development Patterns**: Common trial designs, target populations, and regulatory approaches
6. **Pipeline Gaps & Opportunities**: Underserved areas, emerging approaches, and development opportunities

Clinical Trial Data:
%s

Provide actionable insights for clinical development, focusing on pipeline intelligence, development timelines, and therapeutic opportunities.
`

func BuildPrompt(topic, trialText string) string {
	return fmt.Sprintf(promptTemplate, topic, trialText)
}
