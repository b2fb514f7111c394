package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

var ErrInvalidMemoryType = goerr.New("invalid memory type")

type MemoryType string

const (
	MemoryTypePreference     MemoryType = "preference"
	MemoryTypeInfrastructure MemoryType = "infrastructure"
	MemoryTypeInvestigation  MemoryType = "investigation"
)

// Validate checks if the memory type is valid
func (t MemoryType) Validate() error {
	switch t {
	case MemoryTypePreference, MemoryTypeInfrastructure, MemoryTypeInvestigation:
		return nil
	default:
		return goerr.Wrap(ErrInvalidMemoryType, "unknown memory type", goerr.V("type", t))
	}
}

// MemoryRecord is one of Preference, InfrastructureKnowledge or InvestigationSummary
type MemoryRecord interface {
	MemoryType() MemoryType
	RecordKey() string
}

type ReportStyle string

const (
	ReportStyleExecutive ReportStyle = "executive"
	ReportStyleTechnical ReportStyle = "technical"
)

const (
	PreferenceKeyStyle             = "style"
	PreferenceKeyEscalationChannel = "escalation_channel"
)

// Preference holds per-actor settings. Written out-of-band, read-only to investigations.
type Preference struct {
	ActorID   ActorID           `firestore:"actor_id" json:"actor_id"`
	Settings  map[string]string `firestore:"settings" json:"settings"`
	UpdatedAt time.Time         `firestore:"updated_at" json:"updated_at"`
}

func (p *Preference) MemoryType() MemoryType { return MemoryTypePreference }
func (p *Preference) RecordKey() string     { return "preference/" + string(p.ActorID) }

// Style returns the requested report style; technical when absent or unknown
func (p *Preference) Style() ReportStyle {
	if p == nil {
		return ReportStyleTechnical
	}
	if strings.EqualFold(p.Settings[PreferenceKeyStyle], string(ReportStyleExecutive)) {
		return ReportStyleExecutive
	}
	return ReportStyleTechnical
}

// Get returns a setting value or empty string
func (p *Preference) Get(key string) string {
	if p == nil {
		return ""
	}
	return p.Settings[key]
}

type KnowledgeID string

// NewKnowledgeID generates a new unique KnowledgeID
func NewKnowledgeID() KnowledgeID {
	return KnowledgeID(uuid.New().String())
}

// InfrastructureKnowledge is a fact learned during a past investigation
type InfrastructureKnowledge struct {
	ID           KnowledgeID `firestore:"id" json:"id"`
	ActorID      ActorID     `firestore:"actor_id" json:"actor_id"`
	Fact         string      `firestore:"fact" json:"fact"`
	SourceDomain Domain      `firestore:"source_domain" json:"source_domain"`
	CreatedAt    time.Time   `firestore:"created_at" json:"created_at"`
}

func (k *InfrastructureKnowledge) MemoryType() MemoryType { return MemoryTypeInfrastructure }
func (k *InfrastructureKnowledge) RecordKey() string     { return "infrastructure/" + string(k.ID) }

type IncidentID string

// NewIncidentID generates a new unique IncidentID
func NewIncidentID() IncidentID {
	return IncidentID(uuid.New().String())
}

type ResolutionStatus string

const (
	ResolutionResolved   ResolutionStatus = "resolved"
	ResolutionUnresolved ResolutionStatus = "unresolved"
	ResolutionPartial    ResolutionStatus = "partial"
)

// InvestigationSummary is created exactly once per completed investigation and never updated
type InvestigationSummary struct {
	IncidentID  IncidentID       `firestore:"incident_id" json:"incident_id"`
	ActorID     ActorID          `firestore:"actor_id" json:"actor_id"`
	Query       string           `firestore:"query" json:"query"`
	Status      ResolutionStatus `firestore:"status" json:"status"`
	KeyFindings []string         `firestore:"key_findings" json:"key_findings"`
	CreatedAt   time.Time        `firestore:"created_at" json:"created_at"`
}

func (s *InvestigationSummary) MemoryType() MemoryType { return MemoryTypeInvestigation }
func (s *InvestigationSummary) RecordKey() string     { return "investigation/" + string(s.IncidentID) }

// Validate checks required fields of the summary
func (s *InvestigationSummary) Validate() error {
	if s.IncidentID == "" {
		return goerr.New("incident_id is required")
	}
	if s.ActorID == "" {
		return goerr.New("actor_id is required", goerr.V("incident_id", s.IncidentID))
	}
	if len(s.KeyFindings) == 0 {
		return goerr.New("summary without findings", goerr.V("incident_id", s.IncidentID))
	}
	return nil
}

// SearchText returns the text used for keyword and semantic matching
func (s *InvestigationSummary) SearchText() string {
	return s.Query + "\n" + strings.Join(s.KeyFindings, "\n")
}
