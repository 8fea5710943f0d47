// Package relevance picks the subset of a brief's trials that goes into narrative
// analysis: later phases first, then recently started trials.
package relevance

import (
	"sort"
	"time"

	"github.com/drcokefloat/scanx-brief/internal/brief"
)

const (
	MaxSelected   = 50
	RecencyWindow = 365
)

var phaseWeights = map[string]float64{
	"PHASE4": 4,
	"PHASE3": 3,
	"PHASE2": 2,
	"PHASE1": 1,
}

// PhaseWeight is 4..1 for PHASE4..PHASE1 and 0 for anything else.
func PhaseWeight(phase string) float64 {
	return phaseWeights[phase]
}

// RecencyWeight decays linearly from 1 (started today) to 0 (a year or more ago).
// Unknown start dates score 0. Future dates clamp to 1.
func RecencyWeight(start *time.Time, now time.Time) float64 {
	if start == nil {
		return 0
	}
	days := int(dayOf(now).Sub(dayOf(*start)).Hours() / 24)
	w := float64(RecencyWindow-days) / RecencyWindow
	switch {
	case w < 0:
		return 0
	case w > 1:
		return 1
	}
	return w
}

func Score(t brief.Trial, now time.Time) float64 {
	return PhaseWeight(t.Phase) + RecencyWeight(t.StartDate, now)
}

// Select returns at most MaxSelected trials by descending score. Equal scores keep
// their input order. The input slice is not modified.
func Select(trials []brief.Trial, now time.Time) []brief.Trial {
	type scored struct {
		trial brief.Trial
		score float64
	}
	items := make([]scored, len(trials))
	for i, t := range trials {
		items[i] = scored{trial: t, score: Score(t, now)}
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].score > items[j].score
	})
	n := min(len(items), MaxSelected)
	out := make([]brief.Trial, n)
	for i := 0; i < n; i++ {
		out[i] = items[i].trial
	}
	return out
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
