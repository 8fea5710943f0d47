package relevance

import (
	"fmt"
	"testing"
	"time"

	"github.com/drcokefloat/scanx-brief/internal/brief"
)

var now = time.Date(2025, 6, 1, 15, 30, 0, 0, time.UTC)

func daysAgo(n int) *time.Time {
	t := now.AddDate(0, 0, -n)
	return &t
}

func TestPhaseOutranksRecency(t *testing.T) {
	trials := []brief.Trial{
		{NCTID: "P1", Phase: "PHASE1", StartDate: daysAgo(10)},
		{NCTID: "P4", Phase: "PHASE4", StartDate: daysAgo(10)},
	}
	got := Select(trials, now)
	if got[0].NCTID != "P4" {
		t.Fatalf("expected phase 4 first, got %s", got[0].NCTID)
	}
}

func TestRecentTrialFirstWithinPhase(t *testing.T) {
	trials := []brief.Trial{
		{NCTID: "OLD", Phase: "PHASE2", StartDate: daysAgo(400)},
		{NCTID: "NEW", Phase: "PHASE2", StartDate: daysAgo(40)},
	}
	got := Select(trials, now)
	if got[0].NCTID != "NEW" {
		t.Fatalf("expected recent trial first, got %s", got[0].NCTID)
	}
}

func TestTiesKeepInputOrder(t *testing.T) {
	trials := []brief.Trial{
		{NCTID: "A", Phase: "PHASE3"},
		{NCTID: "B", Phase: "PHASE3"},
		{NCTID: "C", Phase: "PHASE3"},
	}
	got := Select(trials, now)
	for i, want := range []string{"A", "B", "C"} {
		if got[i].NCTID != want {
			t.Fatalf("expected stable order A,B,C, got %s at %d", got[i].NCTID, i)
		}
	}
}

func TestSelectCapsOutput(t *testing.T) {
	trials := make([]brief.Trial, 0, 120)
	for i := 0; i < 120; i++ {
		trials = append(trials, brief.Trial{NCTID: fmt.Sprintf("NCT%03d", i), Phase: "PHASE2"})
	}
	got := Select(trials, now)
	if len(got) != MaxSelected {
		t.Fatalf("expected %d trials, got %d", MaxSelected, len(got))
	}
	if len(trials) != 120 || trials[0].NCTID != "NCT000" {
		t.Fatal("expected input untouched")
	}
	if len(Select(nil, now)) != 0 {
		t.Fatal("expected empty selection for empty input")
	}
}

func TestRecencyWeight(t *testing.T) {
	cases := []struct {
		start *time.Time
		want  float64
	}{
		{nil, 0},
		{daysAgo(0), 1},
		{daysAgo(365), 0},
		{daysAgo(1000), 0},
		{daysAgo(-30), 1},
	}
	for _, tc := range cases {
		if got := RecencyWeight(tc.start, now); got != tc.want {
			t.Fatalf("RecencyWeight(%v): expected %v, got %v", tc.start, tc.want, got)
		}
	}
	half := RecencyWeight(daysAgo(73), now)
	if half < 0.79 || half > 0.81 {
		t.Fatalf("expected ~0.8 for 73 days, got %v", half)
	}
}

func TestUnknownDateTreatedAsOldest(t *testing.T) {
	trials := []brief.Trial{
		{NCTID: "UNKNOWN", Phase: "PHASE3"},
		{NCTID: "DATED", Phase: "PHASE3", StartDate: daysAgo(300)},
	}
	if got := Select(trials, now); got[0].NCTID != "DATED" {
		t.Fatalf("expected dated trial first, got %s", got[0].NCTID)
	}
}

func TestPhaseWeight(t *testing.T) {
	for phase, want := range map[string]float64{"PHASE4": 4, "PHASE3": 3, "PHASE2": 2, "PHASE1": 1, "EARLY_PHASE1": 0, "": 0, "NA": 0} {
		if got := PhaseWeight(phase); got != want {
			t.Fatalf("PhaseWeight(%q): expected %v, got %v", phase, want, got)
		}
	}
}
