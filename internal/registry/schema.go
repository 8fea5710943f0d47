package registry

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SchemaVersion identifies the ClinicalTrials.gov payload layout StudyV2 maps.
const SchemaVersion = "ctgov-v2"

// StudyV2 is the subset of a ClinicalTrials.gov v2 study record the pipeline reads.
// Every nesting level is optional in the source payload; zero values stand in for
// missing modules.
type StudyV2 struct {
	ProtocolSection ProtocolSection `json:"protocolSection"`
}

// Module names inside protocolSection.
const (
	ModuleIdentification       = "identificationModule"
	ModuleStatus               = "statusModule"
	ModuleSponsorCollaborators = "sponsorCollaboratorsModule"
	ModuleDesign               = "designModule"
	ModuleConditions           = "conditionsModule"
	ModuleArmsInterventions    = "armsInterventionsModule"
	ModuleDescription          = "descriptionModule"
)

// ProtocolSection decodes each module on its own. A module with the wrong shape is
// left zero and its error kept, so a bad keywords list does not cost the record its
// identifier or title.
type ProtocolSection struct {
	IdentificationModule       IdentificationModule       `json:"identificationModule"`
	StatusModule               StatusModule               `json:"statusModule"`
	SponsorCollaboratorsModule SponsorCollaboratorsModule `json:"sponsorCollaboratorsModule"`
	DesignModule               DesignModule               `json:"designModule"`
	ConditionsModule           ConditionsModule           `json:"conditionsModule"`
	ArmsInterventionsModule    ArmsInterventionsModule    `json:"armsInterventionsModule"`
	DescriptionModule          DescriptionModule          `json:"descriptionModule"`

	moduleErrs map[string]error
}

func (p *ProtocolSection) UnmarshalJSON(data []byte) error {
	var modules map[string]json.RawMessage
	if err := json.Unmarshal(data, &modules); err != nil {
		return err
	}
	*p = ProtocolSection{}
	decodeModule(p, modules, ModuleIdentification, &p.IdentificationModule)
	decodeModule(p, modules, ModuleStatus, &p.StatusModule)
	decodeModule(p, modules, ModuleSponsorCollaborators, &p.SponsorCollaboratorsModule)
	decodeModule(p, modules, ModuleDesign, &p.DesignModule)
	decodeModule(p, modules, ModuleConditions, &p.ConditionsModule)
	decodeModule(p, modules, ModuleArmsInterventions, &p.ArmsInterventionsModule)
	decodeModule(p, modules, ModuleDescription, &p.DescriptionModule)
	return nil
}

func decodeModule[T any](p *ProtocolSection, modules map[string]json.RawMessage, name string, dst *T) {
	raw, ok := modules[name]
	if !ok || len(raw) == 0 || string(raw) == "null" {
		return
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		if p.moduleErrs == nil {
			p.moduleErrs = make(map[string]error)
		}
		p.moduleErrs[name] = fmt.Errorf("decode %s: %w", name, err)
		return
	}
	*dst = v
}

type IdentificationModule struct {
	NCTID      string `json:"nctId"`
	BriefTitle string `json:"briefTitle"`
}

type StatusModule struct {
	OverallStatus   string     `json:"overallStatus"`
	StartDateStruct DateStruct `json:"startDateStruct"`
}

type DateStruct struct {
	Date string `json:"date"`
	Type string `json:"type,omitempty"`
}

type SponsorCollaboratorsModule struct {
	LeadSponsor Sponsor `json:"leadSponsor"`
}

type Sponsor struct {
	Name  string `json:"name"`
	Class string `json:"class,omitempty"`
}

type DesignModule struct {
	StudyType string   `json:"studyType"`
	Phases    []string `json:"phases"`
}

// UnmarshalJSON fails only on a malformed phases list. studyType is informational and
// reads as "" when it has the wrong shape.
func (d *DesignModule) UnmarshalJSON(data []byte) error {
	var fields struct {
		StudyType json.RawMessage `json:"studyType"`
		Phases    []string        `json:"phases"`
	}
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*d = DesignModule{Phases: fields.Phases}
	if len(fields.StudyType) > 0 {
		_ = json.Unmarshal(fields.StudyType, &d.StudyType)
	}
	return nil
}

type ConditionsModule struct {
	Conditions []string `json:"conditions"`
	Keywords   []string `json:"keywords"`
}

type ArmsInterventionsModule struct {
	Interventions []Intervention `json:"interventions"`
}

type Intervention struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

type DescriptionModule struct {
	BriefSummary string `json:"briefSummary"`
}

// DecodeStudy maps one raw study record onto StudyV2. Only a record that is not an
// object, or whose protocolSection is not an object, fails here; broken modules are
// reported by ModuleErr and read as empty.
func DecodeStudy(raw json.RawMessage) (StudyV2, error) {
	var s StudyV2
	if len(raw) == 0 {
		return s, fmt.Errorf("decode study: empty record")
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return StudyV2{}, fmt.Errorf("decode study (%s): %w", SchemaVersion, err)
	}
	return s, nil
}

// ModuleErr returns the decode error of the first named module that was malformed.
func (s StudyV2) ModuleErr(names ...string) error {
	for _, name := range names {
		if err := s.ProtocolSection.moduleErrs[name]; err != nil {
			return err
		}
	}
	return nil
}

func (s StudyV2) NCTID() string {
	return strings.TrimSpace(s.ProtocolSection.IdentificationModule.NCTID)
}

func (s StudyV2) Title() string {
	return s.ProtocolSection.IdentificationModule.BriefTitle
}

func (s StudyV2) LeadSponsor() string {
	return s.ProtocolSection.SponsorCollaboratorsModule.LeadSponsor.Name
}

// FirstPhase returns the first listed phase code, or "".
func (s StudyV2) FirstPhase() string {
	if len(s.ProtocolSection.DesignModule.Phases) == 0 {
		return ""
	}
	return s.ProtocolSection.DesignModule.Phases[0]
}

func (s StudyV2) OverallStatus() string {
	return s.ProtocolSection.StatusModule.OverallStatus
}

func (s StudyV2) StartDate() string {
	return s.ProtocolSection.StatusModule.StartDateStruct.Date
}

func (s StudyV2) Conditions() []string {
	return s.ProtocolSection.ConditionsModule.Conditions
}

func (s StudyV2) InterventionNames() []string {
	items := s.ProtocolSection.ArmsInterventionsModule.Interventions
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Name)
	}
	return out
}

func (s StudyV2) Summary() string {
	return s.ProtocolSection.DescriptionModule.BriefSummary
}
