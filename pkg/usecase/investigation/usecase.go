package investigation

import (
	"context"
	"sort"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/pika/pkg/credential"
	"github.com/m-mizutani/pika/pkg/metrics"
	"github.com/m-mizutani/pika/pkg/model"
	"github.com/m-mizutani/pika/pkg/report"
	"github.com/m-mizutani/pika/pkg/repository"
	"github.com/m-mizutani/pika/pkg/routing"
)

const (
	DefaultTimeout    = 5 * time.Minute
	DefaultMaxResults = 5

	// recentTurns is how many earlier turns are passed to specialists as context
	recentTurns = 3
)

// Specialist investigates sub-questions of one domain
type Specialist interface {
	Domain() model.Domain
	Investigate(ctx context.Context, sq model.SubQuestion) (*model.Finding, error)
}

// UseCase coordinates one investigation from query to report
type UseCase struct {
	memory     repository.Memory
	agents     map[model.Domain]Specialist
	router     routing.Router
	reports    report.Store
	refresher  credential.Refresher
	observer   Observer
	metrics    *metrics.Metrics
	timeout    time.Duration
	maxResults int
	now        func() time.Time
}

// Option is a functional option for UseCase
type Option func(*UseCase)

// WithRouter replaces the keyword router
func WithRouter(r routing.Router) Option {
	return func(u *UseCase) {
		u.router = r
	}
}

// WithReportStore persists every report. Without a store the report is only returned.
func WithReportStore(s report.Store) Option {
	return func(u *UseCase) {
		u.reports = s
	}
}

// WithRefresher enables one credential refresh and retry after an auth_expired failure
func WithRefresher(r credential.Refresher) Option {
	return func(u *UseCase) {
		u.refresher = r
	}
}

// WithObserver receives progress events
func WithObserver(o Observer) Option {
	return func(u *UseCase) {
		u.observer = o
	}
}

// WithMetrics records investigation outcomes and memory operations
func WithMetrics(m *metrics.Metrics) Option {
	return func(u *UseCase) {
		u.metrics = m
	}
}

// WithTimeout sets the budget of the delegation phase
func WithTimeout(d time.Duration) Option {
	return func(u *UseCase) {
		u.timeout = d
	}
}

// WithMaxResults sets how many records of each memory type are retrieved
func WithMaxResults(n int) Option {
	return func(u *UseCase) {
		u.maxResults = n
	}
}

// WithClock overrides the time source used for report names and records
func WithClock(now func() time.Time) Option {
	return func(u *UseCase) {
		u.now = now
	}
}

// New creates a UseCase. At most one specialist per domain is accepted.
func New(memory repository.Memory, agents []Specialist, opts ...Option) (*UseCase, error) {
	if memory == nil {
		return nil, goerr.New("memory store is required")
	}

	u := &UseCase{
		memory:     memory,
		agents:     make(map[model.Domain]Specialist, len(agents)),
		router:     routing.NewKeyword(),
		observer:   nopObserver{},
		timeout:    DefaultTimeout,
		maxResults: DefaultMaxResults,
		now:        time.Now,
	}
	for _, a := range agents {
		if _, ok := u.agents[a.Domain()]; ok {
			return nil, goerr.New("duplicated specialist", goerr.V("domain", a.Domain()))
		}
		u.agents[a.Domain()] = a
	}
	for _, opt := range opts {
		opt(u)
	}

	if u.timeout <= 0 {
		return nil, goerr.New("investigation timeout must be positive", goerr.V("timeout", u.timeout))
	}
	if u.maxResults <= 0 {
		return nil, goerr.New("max results must be positive", goerr.V("max_results", u.maxResults))
	}
	return u, nil
}

// Domains returns the domains that have a specialist, in domain order
func (u *UseCase) Domains() []model.Domain {
	out := make([]model.Domain, 0, len(u.agents))
	for d := range u.agents {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rank() < out[j].Rank() })
	return out
}

// Result is the outcome of one investigation
type Result struct {
	Query    *model.Query
	Strategy model.Strategy
	Status   model.ResolutionStatus

	// Domains are the domains that were delegated to
	Domains     []model.Domain
	Aggregation *Aggregation

	PriorInvestigations []*model.InvestigationSummary
	Knowledge           []*model.InfrastructureKnowledge
	MemoryNotes         []string

	// IncidentID is set when a summary was written to memory
	IncidentID model.IncidentID

	Report     *model.Report
	ReportPath string
}

// Failures returns every domain that failed with its reason
func (r *Result) Failures() []model.DomainFailure {
	if r.Aggregation == nil {
		return nil
	}
	return r.Aggregation.Failures
}

func (u *UseCase) publish(ctx context.Context, ev Event) {
	ev.At = u.now()
	u.observer.OnEvent(ctx, ev)
}
