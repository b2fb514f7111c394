package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/pika/pkg/model"
)

// InMemory is a process-local Memory. Each record becomes visible only after the
// configured propagation delay, emulating an eventually consistent backend.
type InMemory struct {
	mu    sync.RWMutex
	delay time.Duration
	now   func() time.Time

	preferences    map[model.ActorID]stored[*model.Preference]
	infrastructure []stored[*model.InfrastructureKnowledge]
	investigations map[model.IncidentID]stored[*model.InvestigationSummary]
}

type stored[T any] struct {
	record    T
	visibleAt time.Time
}

// InMemoryOption configures InMemory
type InMemoryOption func(*InMemory)

// WithPropagationDelay sets how long a write stays invisible to retrieval
func WithPropagationDelay(d time.Duration) InMemoryOption {
	return func(m *InMemory) {
		m.delay = d
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) InMemoryOption {
	return func(m *InMemory) {
		m.now = now
	}
}

// NewInMemory creates an empty store
func NewInMemory(opts ...InMemoryOption) *InMemory {
	m := &InMemory{
		now:            time.Now,
		preferences:    make(map[model.ActorID]stored[*model.Preference]),
		investigations: make(map[model.IncidentID]stored[*model.InvestigationSummary]),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *InMemory) RetrieveMemory(ctx context.Context, memType model.MemoryType, query string, actorID model.ActorID, maxResults int) ([]model.MemoryRecord, error) {
	if err := memType.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, goerr.Wrap(err, "retrieval cancelled")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	now := m.now()

	switch memType {
	case model.MemoryTypePreference:
		s, ok := m.preferences[actorID]
		if !ok || now.Before(s.visibleAt) {
			return []model.MemoryRecord{}, nil
		}
		return []model.MemoryRecord{clonePreference(s.record)}, nil

	case model.MemoryTypeInfrastructure:
		var items []candidate[*model.InfrastructureKnowledge]
		for _, s := range m.infrastructure {
			if s.record.ActorID != actorID || now.Before(s.visibleAt) {
				continue
			}
			k := *s.record
			items = append(items, candidate[*model.InfrastructureKnowledge]{
				record: &k, key: k.RecordKey(), text: k.Fact + " " + string(k.SourceDomain), createdAt: k.CreatedAt,
			})
		}
		return toRecords(rankByKeyword(query, items, maxResults)), nil

	default:
		var items []candidate[*model.InvestigationSummary]
		for _, s := range m.investigations {
			if s.record.ActorID != actorID || now.Before(s.visibleAt) {
				continue
			}
			sum := cloneSummary(s.record)
			items = append(items, candidate[*model.InvestigationSummary]{
				record: sum, key: sum.RecordKey(), text: sum.SearchText(), createdAt: sum.CreatedAt,
			})
		}
		return toRecords(rankByKeyword(query, items, maxResults)), nil
	}
}

func (m *InMemory) SaveInvestigation(ctx context.Context, summary *model.InvestigationSummary) (model.IncidentID, error) {
	if err := summary.Validate(); err != nil {
		return "", goerr.Wrap(err, "invalid investigation summary")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.investigations[summary.IncidentID]; exists {
		return summary.IncidentID, nil
	}
	m.investigations[summary.IncidentID] = stored[*model.InvestigationSummary]{
		record:    cloneSummary(summary),
		visibleAt: m.now().Add(m.delay),
	}
	return summary.IncidentID, nil
}

func (m *InMemory) SaveInfrastructure(ctx context.Context, knowledge *model.InfrastructureKnowledge) error {
	if knowledge.Fact == "" {
		return goerr.New("infrastructure fact is empty")
	}
	k := *knowledge
	if k.ID == "" {
		k.ID = model.NewKnowledgeID()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.infrastructure = append(m.infrastructure, stored[*model.InfrastructureKnowledge]{
		record:    &k,
		visibleAt: m.now().Add(m.delay),
	})
	return nil
}

func (m *InMemory) PutPreference(ctx context.Context, pref *model.Preference) error {
	if pref.ActorID == "" {
		return goerr.New("actor_id is required for preference")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.preferences[pref.ActorID] = stored[*model.Preference]{
		record:    clonePreference(pref),
		visibleAt: m.now().Add(m.delay),
	}
	return nil
}

func (m *InMemory) ListInvestigations(ctx context.Context, actorID model.ActorID, limit int) ([]*model.InvestigationSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := m.now()

	var out []*model.InvestigationSummary
	for _, s := range m.investigations {
		if s.record.ActorID == actorID && !now.Before(s.visibleAt) {
			out = append(out, cloneSummary(s.record))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].IncidentID < out[j].IncidentID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func toRecords[T model.MemoryRecord](items []T) []model.MemoryRecord {
	out := make([]model.MemoryRecord, len(items))
	for i, it := range items {
		out[i] = it
	}
	return out
}

func cloneSummary(s *model.InvestigationSummary) *model.InvestigationSummary {
	c := *s
	c.KeyFindings = append([]string(nil), s.KeyFindings...)
	return &c
}

func clonePreference(p *model.Preference) *model.Preference {
	c := *p
	c.Settings = make(map[string]string, len(p.Settings))
	for k, v := range p.Settings {
		c.Settings[k] = v
	}
	return &c
}
