package analyzer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/drcokefloat/scanx-brief/internal/brief"
)

const demoSponsorLimit = 5

// DemoAnalyzer renders a fixed narrative from local statistics. It never calls out.
type DemoAnalyzer struct {
	now func() time.Time
}

func NewDemoAnalyzer(now func() time.Time) *DemoAnalyzer {
	if now == nil {
		now = time.Now
	}
	return &DemoAnalyzer{now: now}
}

func (a *DemoAnalyzer) Analyze(_ context.Context, topic string, trials []brief.Trial) (string, error) {
	if len(trials) == 0 {
		return NoTrialsMessage, nil
	}

	sponsors := brief.UniqueSponsors(trials)
	var phases []string
	for _, p := range brief.UniquePhases(trials) {
		if p != "N/A" {
			phases = append(phases, p)
		}
	}
	recruiting := 0
	for _, t := range trials {
		if t.IsActive() {
			recruiting++
		}
	}

	phaseText := "Mixed phases"
	if len(phases) > 0 {
		phaseText = strings.Join(phases, ", ")
	}
	sponsorText := "Sponsor information is being processed."
	if len(sponsors) > 0 {
		sponsorText = "The top sponsors include: " + strings.Join(sponsors[:min(len(sponsors), demoSponsorLimit)], ", ") + "."
	}
	focus := "various study phases"
	outlook := "The completion of trials may indicate upcoming data readouts."
	if recruiting > 0 {
		focus = "recruiting new patients"
		outlook = "Multiple active trials indicate ongoing recruitment opportunities."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Clinical Trial Analysis for %s\n\n", topic)
	b.WriteString("**Note: This is a demo analysis generated without AI. Configure OPENAI_API_KEY for full AI-powered insights.**\n\n")
	b.WriteString("## Market Landscape Overview\n")
	fmt.Fprintf(&b, "The %s therapeutic area shows significant clinical activity with **%d trials** identified in our analysis. "+
		"This indicates a highly active research environment with substantial pharmaceutical interest.\n\n", topic, len(trials))
	b.WriteString("## Trial Distribution\n")
	fmt.Fprintf(&b, "- **Total Trials**: %d\n", len(trials))
	fmt.Fprintf(&b, "- **Active/Recruiting Trials**: %d\n", recruiting)
	fmt.Fprintf(&b, "- **Unique Sponsors**: %d\n", len(sponsors))
	fmt.Fprintf(&b, "- **Phase Distribution**: %s\n\n", phaseText)
	b.WriteString("## Key Sponsors\n")
	b.WriteString(sponsorText + "\n\n")
	b.WriteString("## Development Trends\n")
	fmt.Fprintf(&b, "Based on the trial data, %s research appears to focus on %s with a diverse portfolio of approaches from multiple pharmaceutical companies.\n\n", topic, focus)
	b.WriteString("## Strategic Opportunities\n")
	b.WriteString("The high level of activity in this space suggests strong market interest and potential for innovative therapeutic approaches. " + outlook + "\n\n")
	b.WriteString("## Next Steps\n")
	b.WriteString("For detailed competitive intelligence and market access strategies, please configure your OpenAI API key to enable full AI-powered analysis.\n\n")
	b.WriteString("---\n")
	fmt.Fprintf(&b, "*Demo analysis generated on %s*", a.now().Format("January 02, 2006"))
	return b.String(), nil
}
