package brief

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/drcokefloat/scanx-brief/internal/logger"
	"github.com/drcokefloat/scanx-brief/internal/registry"
)

// Normalizer maps raw registry studies onto Trials, dropping records it cannot use.
type Normalizer struct {
	log *logger.Logger
}

func NewNormalizer(log *logger.Logger) *Normalizer {
	return &Normalizer{log: log}
}

// normalizedModules are the study modules a Trial is built from. A malformed module
// outside this list does not affect normalization.
var normalizedModules = []string{
	registry.ModuleStatus,
	registry.ModuleSponsorCollaborators,
	registry.ModuleDesign,
}

// Normalize returns ErrMissingIdentifier for studies without an NCT id and a
// *RecordError for records whose identification, status, sponsor or design module is
// malformed. An unparseable start date is not an error; the trial just has no date.
func (n *Normalizer) Normalize(raw json.RawMessage) (Trial, error) {
	study, err := registry.DecodeStudy(raw)
	if err != nil {
		return Trial{}, &RecordError{Err: err}
	}
	if err := study.ModuleErr(registry.ModuleIdentification); err != nil {
		return Trial{}, &RecordError{Err: err}
	}
	nctID := study.NCTID()
	if nctID == "" {
		return Trial{}, ErrMissingIdentifier
	}
	if err := study.ModuleErr(normalizedModules...); err != nil {
		return Trial{}, &RecordError{NCTID: nctID, Err: err}
	}
	start, err := ParsePartialDate(study.StartDate())
	if err != nil {
		n.log.Warn("unparseable start date", "nct_id", nctID, "date", study.StartDate(), "error", err)
	}
	return Trial{
		NCTID:     clip(nctID, maxNCTIDLength),
		Title:     clip(study.Title(), maxTitleLength),
		Sponsor:   clip(study.LeadSponsor(), maxSponsorLength),
		Phase:     clip(study.FirstPhase(), maxPhaseLength),
		Status:    clip(study.OverallStatus(), maxStatusLength),
		StartDate: start,
		URL:       TrialURL(nctID),
	}, nil
}

// NormalizeAll normalizes every record independently; failures are logged and the
// record skipped. It returns the kept trials and the number dropped.
func (n *Normalizer) NormalizeAll(raws []json.RawMessage) ([]Trial, int) {
	trials := make([]Trial, 0, len(raws))
	dropped := 0
	for i, raw := range raws {
		t, err := n.Normalize(raw)
		if err != nil {
			dropped++
			if errors.Is(err, ErrMissingIdentifier) {
				n.log.Warn("skipping study with no NCT id", "index", i)
				continue
			}
			var re *RecordError
			if !errors.As(err, &re) {
				re = &RecordError{Err: err}
			}
			re.Index = i
			n.log.Warn("skipping malformed study", "index", i, "nct_id", re.NCTID, "error", re)
			continue
		}
		trials = append(trials, t)
	}
	return trials, dropped
}

// ParsePartialDate handles the registry's YYYY, YYYY-MM and YYYY-MM-DD forms.
// Year-only and year-month values land on the first day of the period. Empty input
// returns nil with no error.
func ParsePartialDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	layout := time.DateOnly
	switch len(s) {
	case 4:
		layout = "2006"
	case 7:
		layout = "2006-01"
	}
	d, err := time.Parse(layout, s)
	if err != nil {
		return nil, fmt.Errorf("parse date %q: %w", s, err)
	}
	return &d, nil
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
