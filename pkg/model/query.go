package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

var (
	ErrInvalidStrategy = goerr.New("invalid strategy")
	ErrInvalidDomain   = goerr.New("invalid domain")
	ErrInvalidQuery    = goerr.New("invalid query")
)

type ActorID string

type SessionID string

// NewSessionID generates a new unique SessionID
func NewSessionID() SessionID {
	return SessionID(uuid.New().String())
}

// Query is one user request. It is never modified after it is received.
type Query struct {
	Text       string
	ActorID    ActorID
	SessionID  SessionID
	ReceivedAt time.Time
}

// NewQuery builds a Query stamped with the current time
func NewQuery(text string, actorID ActorID, sessionID SessionID) *Query {
	return &Query{
		Text:       strings.TrimSpace(text),
		ActorID:    actorID,
		SessionID:  sessionID,
		ReceivedAt: time.Now(),
	}
}

// Validate checks required fields of the query
func (q *Query) Validate() error {
	if q == nil || strings.TrimSpace(q.Text) == "" {
		return goerr.Wrap(ErrInvalidQuery, "query text is empty")
	}
	if q.ActorID == "" {
		return goerr.Wrap(ErrInvalidQuery, "actor_id is required", goerr.V("query", q.Text))
	}
	return nil
}

type Strategy string

const (
	StrategyMemoryOnly Strategy = "memory_only"
	StrategyLiveOnly   Strategy = "live_only"
	StrategyHybrid     Strategy = "hybrid"
)

// Validate checks if the strategy is valid
func (s Strategy) Validate() error {
	switch s {
	case StrategyMemoryOnly, StrategyLiveOnly, StrategyHybrid:
		return nil
	default:
		return goerr.Wrap(ErrInvalidStrategy, "unknown strategy", goerr.V("strategy", s))
	}
}

// UsesMemory reports whether past investigations and infrastructure knowledge are consulted
func (s Strategy) UsesMemory() bool {
	return s == StrategyMemoryOnly || s == StrategyHybrid
}

// UsesLiveData reports whether specialist agents are dispatched
func (s Strategy) UsesLiveData() bool {
	return s == StrategyLiveOnly || s == StrategyHybrid
}

type Domain string

const (
	DomainKubernetes Domain = "kubernetes"
	DomainLogs       Domain = "logs"
	DomainMetrics    Domain = "metrics"
	DomainRunbooks   Domain = "runbooks"
)

// AllDomains returns every domain in canonical order. Deterministic sorts use this order.
func AllDomains() []Domain {
	return []Domain{DomainKubernetes, DomainLogs, DomainMetrics, DomainRunbooks}
}

// Validate checks if the domain is valid
func (d Domain) Validate() error {
	for _, v := range AllDomains() {
		if d == v {
			return nil
		}
	}
	return goerr.Wrap(ErrInvalidDomain, "unknown domain", goerr.V("domain", d))
}

// Rank returns the position of the domain in AllDomains, or len(AllDomains()) if unknown
func (d Domain) Rank() int {
	for i, v := range AllDomains() {
		if d == v {
			return i
		}
	}
	return len(AllDomains())
}

// Title returns a human readable name such as "Kubernetes"
func (d Domain) Title() string {
	if d == "" {
		return ""
	}
	return strings.ToUpper(string(d[:1])) + string(d[1:])
}

// ParseDomain converts a string into a Domain, accepting common aliases
func ParseDomain(s string) (Domain, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "kubernetes", "k8s":
		return DomainKubernetes, nil
	case "logs", "log", "logging":
		return DomainLogs, nil
	case "metrics", "metric", "monitoring":
		return DomainMetrics, nil
	case "runbooks", "runbook", "playbook", "playbooks":
		return DomainRunbooks, nil
	default:
		return "", goerr.Wrap(ErrInvalidDomain, "unknown domain", goerr.V("domain", s))
	}
}

// SubQuestion is a part of the query targeted at exactly one specialist domain
type SubQuestion struct {
	Domain Domain
	Text   string
}
