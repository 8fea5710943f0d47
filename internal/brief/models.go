package brief

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

type Status string

const (
	StatusGenerating Status = "generating"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusGenerating, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// ParseStatus accepts the stored lowercase names, case-insensitively.
func ParseStatus(s string) (Status, bool) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	return st, st.Valid()
}

const (
	DefaultTTL     = 30 * 24 * time.Hour
	MinTopicLength = 2
	MaxTopicLength = 200

	maxTitleLength   = 400
	maxSponsorLength = 200
	maxPhaseLength   = 20
	maxStatusLength  = 50
	maxNCTIDLength   = 20

	trialURLPrefix = "https://clinicaltrials.gov/study/"
)

// Brief is one topic's generated trial analysis.
type Brief struct {
	ID             string          `json:"id"`
	Topic          string          `json:"topic"`
	Status         Status          `json:"status"`
	OwnerID        string          `json:"owner_id,omitempty"`
	Summary        string          `json:"summary"`
	SearchMetadata json.RawMessage `json:"search_metadata,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	ExpiresAt      time.Time       `json:"expires_at"`
}

func (b *Brief) IsCompleted() bool { return b.Status == StatusCompleted }

func (b *Brief) IsExpired(now time.Time) bool { return now.After(b.ExpiresAt) }

// CanRefresh is false while a generation or refresh is in flight.
func (b *Brief) CanRefresh() bool {
	return b.Status == StatusCompleted || b.Status == StatusFailed
}

// SearchQuery is the query recorded in the search metadata, falling back to the topic.
func (b *Brief) SearchQuery() string {
	if len(b.SearchMetadata) > 0 {
		var meta struct {
			Query string `json:"query"`
		}
		if err := json.Unmarshal(b.SearchMetadata, &meta); err == nil && strings.TrimSpace(meta.Query) != "" {
			return meta.Query
		}
	}
	return b.Topic
}

// Trial is one normalized registry record attached to a Brief.
type Trial struct {
	ID        int64      `json:"id"`
	BriefID   string     `json:"brief_id"`
	NCTID     string     `json:"nct_id"`
	Title     string     `json:"title"`
	Sponsor   string     `json:"sponsor"`
	Phase     string     `json:"phase"`
	Status    string     `json:"status"`
	StartDate *time.Time `json:"start_date,omitempty"`
	URL       string     `json:"url"`
	CreatedAt time.Time  `json:"created_at"`
}

func TrialURL(nctID string) string { return trialURLPrefix + nctID }

// IsActive reports a recruiting status ("Recruiting", "NOT_YET_RECRUITING", ...).
func (t Trial) IsActive() bool {
	return strings.Contains(strings.ToLower(t.Status), "recruiting")
}

// PhaseLabel turns registry phase codes into display text: PHASE2 -> "Phase 2",
// PHASE1_PHASE2 -> "Phase 1/Phase 2".
func (t Trial) PhaseLabel() string {
	if t.Phase == "" {
		return "N/A"
	}
	return strings.ReplaceAll(strings.ReplaceAll(t.Phase, "PHASE", "Phase "), "_", "/")
}

func (t Trial) SponsorLabel() string {
	if t.Sponsor == "" {
		return "N/A"
	}
	return t.Sponsor
}

// StartDateString formats the start date as YYYY-MM-DD, or "" when unknown.
func (t Trial) StartDateString() string {
	if t.StartDate == nil {
		return ""
	}
	return t.StartDate.Format(time.DateOnly)
}

type Stats struct {
	Total  int `json:"total"`
	Active int `json:"active"`
	Phase1 int `json:"phase1"`
	Phase2 int `json:"phase2"`
	Phase3 int `json:"phase3"`
	Phase4 int `json:"phase4"`
}

func ComputeStats(trials []Trial) Stats {
	s := Stats{Total: len(trials)}
	for _, t := range trials {
		if t.IsActive() {
			s.Active++
		}
		switch t.Phase {
		case "PHASE1":
			s.Phase1++
		case "PHASE2":
			s.Phase2++
		case "PHASE3":
			s.Phase3++
		case "PHASE4":
			s.Phase4++
		}
	}
	return s
}

// UniqueSponsors returns the distinct non-empty sponsors, sorted.
func UniqueSponsors(trials []Trial) []string {
	return uniqueSorted(trials, func(t Trial) string { return t.Sponsor }, "")
}

// UniquePhases returns distinct phase codes, "N/A" standing in for empty ones.
func UniquePhases(trials []Trial) []string {
	return uniqueSorted(trials, func(t Trial) string { return t.Phase }, "N/A")
}

func UniqueStatuses(trials []Trial) []string {
	return uniqueSorted(trials, func(t Trial) string { return t.Status }, "N/A")
}

func uniqueSorted(trials []Trial, field func(Trial) string, empty string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, t := range trials {
		v := field(t)
		if v == "" {
			if empty == "" {
				continue
			}
			v = empty
		}
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// SortTrials orders by start date, newest first with unknown dates last, then by NCT id.
func SortTrials(trials []Trial) {
	sort.SliceStable(trials, func(i, j int) bool {
		a, b := trials[i].StartDate, trials[j].StartDate
		switch {
		case a != nil && b != nil && !a.Equal(*b):
			return a.After(*b)
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		}
		return trials[i].NCTID < trials[j].NCTID
	})
}
