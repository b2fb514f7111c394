package model

import "time"

// Citation names the tool that was called and the fact extracted from its result
type Citation struct {
	Tool string `json:"tool"`
	Fact string `json:"fact"`
}

type FindingStatus string

const (
	FindingComplete   FindingStatus = "complete"
	FindingIncomplete FindingStatus = "incomplete"
)

type Assessment string

const (
	AssessmentHealthy  Assessment = "healthy"
	AssessmentDegraded Assessment = "degraded"
	AssessmentUnknown  Assessment = "unknown"
)

// ParseAssessment normalizes free text into an Assessment
func ParseAssessment(s string) Assessment {
	switch Assessment(s) {
	case AssessmentHealthy, AssessmentDegraded:
		return Assessment(s)
	default:
		return AssessmentUnknown
	}
}

// Finding is the structured result of one specialist agent. Callers must treat it as
// read-only; use Clone before deriving a modified value.
type Finding struct {
	Domain      Domain
	SubQuestion string
	Narrative   string
	Citations   []Citation
	// Gaps records evidence of absence, e.g. "get_cpu_metrics unavailable: timeout"
	Gaps       []string
	Learned    []string
	Assessment Assessment
	Status     FindingStatus
	ToolCalls  int
	Duration   time.Duration
}

// Clone returns a deep copy of the finding
func (f *Finding) Clone() *Finding {
	if f == nil {
		return nil
	}
	c := *f
	c.Citations = append([]Citation(nil), f.Citations...)
	c.Gaps = append([]string(nil), f.Gaps...)
	c.Learned = append([]string(nil), f.Learned...)
	return &c
}

// Incomplete reports whether the agent stopped before producing a final answer
func (f *Finding) Incomplete() bool {
	return f.Status == FindingIncomplete
}

// DomainFailure explains why a domain returned no or partial data
type DomainFailure struct {
	Domain Domain
	Reason string
}

// ConflictSide is one finding taking part in a conflict
type ConflictSide struct {
	Domain     Domain
	Assessment Assessment
	Narrative  string
	Citations  []Citation
}

// Conflict records findings that disagree about the health of the system. Both sides
// are reported with their evidence; neither is picked.
type Conflict struct {
	Healthy  []ConflictSide
	Degraded []ConflictSide
}
