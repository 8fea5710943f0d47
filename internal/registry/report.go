package registry

import (
	"context"
	"encoding/json"
	"math"
	"regexp"
	"strings"
)

const (
	FieldTitle         = "Study Title"
	FieldConditions    = "Medical Conditions"
	FieldInterventions = "Interventions/Drugs"
	FieldSummary       = "Study Summary"
	FieldOther         = "Other Fields (keywords, detailed descriptions, etc.)"

	sampleTitleLimit = 150
)

// Report describes how a query matched the returned studies. It is stored as the
// brief's search metadata and never used for filtering.
type Report struct {
	Query             string         `json:"query"`
	TotalResults      int            `json:"total_results"`
	SearchExplanation string         `json:"search_explanation"`
	FieldAnalysis     *FieldAnalysis `json:"field_analysis,omitempty"`
	SampleMatches     []SampleMatch  `json:"sample_matches"`
}

type FieldAnalysis struct {
	TotalAnalyzed       int        `json:"total_analyzed"`
	TitleMatches        FieldCount `json:"title_matches"`
	ConditionMatches    FieldCount `json:"condition_matches"`
	InterventionMatches FieldCount `json:"intervention_matches"`
	SummaryMatches      FieldCount `json:"summary_matches"`
	OtherMatches        FieldCount `json:"other_matches"`
}

type FieldCount struct {
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

type SampleMatch struct {
	NCTID         string   `json:"nct_id"`
	Title         string   `json:"title"`
	MatchedFields []string `json:"matched_fields"`
}

// SearchWithReport runs Search once and builds a Report over the first sampleSize
// records of the result.
func (c *Client) SearchWithReport(ctx context.Context, query string, sampleSize int) ([]json.RawMessage, Report, error) {
	studies, err := c.Search(ctx, query)
	if err != nil {
		return nil, Report{}, err
	}
	return studies, BuildReport(strings.TrimSpace(query), studies, sampleSize), nil
}

// BuildReport analyzes up to sampleSize studies. Records that fail to decode are
// skipped from the sample but still counted in TotalResults.
func BuildReport(query string, studies []json.RawMessage, sampleSize int) Report {
	report := Report{
		Query:             query,
		TotalResults:      len(studies),
		SearchExplanation: searchExplanation,
		SampleMatches:     []SampleMatch{},
	}
	if sampleSize <= 0 || len(studies) == 0 {
		return report
	}
	if sampleSize > len(studies) {
		sampleSize = len(studies)
	}

	words := queryWords(query)
	var title, cond, interv, summary, other int
	analyzed := 0
	for _, raw := range studies[:sampleSize] {
		study, err := DecodeStudy(raw)
		if err != nil {
			continue
		}
		analyzed++
		fields := matchedFields(study, words)
		for _, f := range fields {
			switch f {
			case FieldTitle:
				title++
			case FieldConditions:
				cond++
			case FieldInterventions:
				interv++
			case FieldSummary:
				summary++
			case FieldOther:
				other++
			}
		}
		report.SampleMatches = append(report.SampleMatches, SampleMatch{
			NCTID:         study.NCTID(),
			Title:         truncate(study.Title(), sampleTitleLimit),
			MatchedFields: fields,
		})
	}
	if analyzed == 0 {
		return report
	}
	report.FieldAnalysis = &FieldAnalysis{
		TotalAnalyzed:       analyzed,
		TitleMatches:        fieldCount(title, analyzed),
		ConditionMatches:    fieldCount(cond, analyzed),
		InterventionMatches: fieldCount(interv, analyzed),
		SummaryMatches:      fieldCount(summary, analyzed),
		OtherMatches:        fieldCount(other, analyzed),
	}
	return report
}

func matchedFields(study StudyV2, words []string) []string {
	fields := []string{}
	if containsAny(study.Title(), words) {
		fields = append(fields, FieldTitle)
	}
	if containsAny(strings.Join(study.Conditions(), " "), words) {
		fields = append(fields, FieldConditions)
	}
	if containsAny(strings.Join(study.InterventionNames(), " "), words) {
		fields = append(fields, FieldInterventions)
	}
	if containsAny(study.Summary(), words) {
		fields = append(fields, FieldSummary)
	}
	if len(fields) == 0 {
		fields = append(fields, FieldOther)
	}
	return fields
}

func (c *Client) logSampleAnalysis(query string, studies []json.RawMessage) {
	words := queryWords(query)
	n := min(len(studies), sampleLogSize)
	for i, raw := range studies[:n] {
		study, err := DecodeStudy(raw)
		if err != nil {
			continue
		}
		c.log.Debug("clinicaltrials sample match",
			"query", query,
			"rank", i+1,
			"nct_id", study.NCTID(),
			"fields", matchedFields(study, words),
			"title", truncate(study.Title(), 100),
		)
	}
}

var areaPrefixRe = regexp.MustCompile(`(?i)area\[[a-z]+\]`)

// queryWords lowercases query into match words, dropping field-scope markers,
// grouping parentheses and bare boolean operators.
func queryWords(query string) []string {
	cleaned := areaPrefixRe.ReplaceAllString(query, " ")
	cleaned = strings.NewReplacer("(", " ", ")", " ").Replace(cleaned)
	var words []string
	for _, w := range strings.Fields(strings.ToLower(cleaned)) {
		if w == "and" || w == "or" || w == "not" {
			continue
		}
		words = append(words, w)
	}
	return words
}

func containsAny(text string, words []string) bool {
	if text == "" {
		return false
	}
	lower := strings.ToLower(text)
	for _, w := range words {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

func fieldCount(count, total int) FieldCount {
	pct := float64(count) / float64(total) * 100
	return FieldCount{Count: count, Percentage: math.Round(pct*10) / 10}
}

const searchExplanation = `ClinicalTrials.gov's query.term parameter performs a comprehensive full-text search across multiple fields:

**Primary Search Fields:**
- Study Title (Brief Title)
- Medical Conditions (official condition names and synonyms)
- Interventions (drug names, therapies, devices)
- Study Summary/Abstract (brief summary text)

**Additional Search Areas (based on results analysis):**
- Detailed study descriptions
- Keywords and mesh terms
- Sponsor information
- Study design keywords
- Inclusion/exclusion criteria text

**Search Behavior:**
- Case-insensitive matching
- Partial word matching supported
- Searches across synonyms and related terms
- Returns studies where ANY search term matches in ANY field
- Uses ClinicalTrials.gov's internal relevance ranking

**Search Notes:**
- This is a broad "any field" search, not targeted field searching
- May return studies where search terms appear in secondary contexts
- For precision searching, use advanced search with condition and intervention fields
- Results ordering is based on ClinicalTrials.gov's relevance algorithm, not chronological`
