package repository

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/pika/pkg/model"
	"github.com/m-mizutani/pika/pkg/utils/logging"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	collectionPreferences    = "preferences"
	collectionInfrastructure = "infrastructure"
	collectionInvestigations = "investigations"

	// keywordScanLimit caps the documents fetched for client-side keyword ranking
	keywordScanLimit = 200
)

// Firestore implements Memory on Cloud Firestore. With an Embedder configured,
// infrastructure and investigation retrieval uses vector search (a vector index on
// "embedding" filtered by "actor_id" is required); otherwise keyword ranking.
type Firestore struct {
	client   *firestore.Client
	embedder Embedder
	now      func() time.Time
}

type infrastructureDoc struct {
	ID           string             `firestore:"id"`
	ActorID      string             `firestore:"actor_id"`
	Fact         string             `firestore:"fact"`
	SourceDomain string             `firestore:"source_domain"`
	Embedding    firestore.Vector32 `firestore:"embedding,omitempty"`
	CreatedAt    time.Time          `firestore:"created_at"`
}

type investigationDoc struct {
	IncidentID  string             `firestore:"incident_id"`
	ActorID     string             `firestore:"actor_id"`
	Query       string             `firestore:"query"`
	Status      string             `firestore:"status"`
	KeyFindings []string           `firestore:"key_findings"`
	Embedding   firestore.Vector32 `firestore:"embedding,omitempty"`
	CreatedAt   time.Time          `firestore:"created_at"`
}

// FirestoreOption configures Firestore
type FirestoreOption func(*Firestore)

// WithEmbedder enables vector search
func WithEmbedder(e Embedder) FirestoreOption {
	return func(f *Firestore) {
		f.embedder = e
	}
}

// NewFirestore connects to a Firestore database
func NewFirestore(ctx context.Context, projectID, databaseID string, opts ...FirestoreOption) (*Firestore, error) {
	if projectID == "" {
		return nil, goerr.New("project is required")
	}
	if databaseID == "" {
		databaseID = firestore.DefaultDatabaseID
	}

	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project", projectID),
			goerr.V("database", databaseID))
	}

	f := &Firestore{client: client, now: time.Now}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Close releases the client
func (f *Firestore) Close() error {
	return f.client.Close()
}

func (f *Firestore) RetrieveMemory(ctx context.Context, memType model.MemoryType, query string, actorID model.ActorID, maxResults int) ([]model.MemoryRecord, error) {
	if err := memType.Validate(); err != nil {
		return nil, err
	}

	switch memType {
	case model.MemoryTypePreference:
		pref, err := f.getPreference(ctx, actorID)
		if err != nil {
			return nil, err
		}
		if pref == nil {
			return []model.MemoryRecord{}, nil
		}
		return []model.MemoryRecord{pref}, nil

	case model.MemoryTypeInfrastructure:
		docs, err := f.search(ctx, collectionInfrastructure, query, actorID, maxResults)
		if err != nil {
			return nil, err
		}
		var items []candidate[*model.InfrastructureKnowledge]
		for _, snap := range docs {
			var d infrastructureDoc
			if err := snap.DataTo(&d); err != nil {
				return nil, goerr.Wrap(err, "failed to decode infrastructure record", goerr.V("id", snap.Ref.ID))
			}
			k := &model.InfrastructureKnowledge{
				ID:           model.KnowledgeID(d.ID),
				ActorID:      model.ActorID(d.ActorID),
				Fact:         d.Fact,
				SourceDomain: model.Domain(d.SourceDomain),
				CreatedAt:    d.CreatedAt,
			}
			items = append(items, candidate[*model.InfrastructureKnowledge]{
				record: k, key: k.RecordKey(), text: k.Fact + " " + d.SourceDomain, createdAt: k.CreatedAt,
			})
		}
		return toRecords(orderCandidates(f.embedder != nil, query, items, maxResults)), nil

	default:
		docs, err := f.search(ctx, collectionInvestigations, query, actorID, maxResults)
		if err != nil {
			return nil, err
		}
		var items []candidate[*model.InvestigationSummary]
		for _, snap := range docs {
			s, err := decodeInvestigation(snap)
			if err != nil {
				return nil, err
			}
			items = append(items, candidate[*model.InvestigationSummary]{
				record: s, key: s.RecordKey(), text: s.SearchText(), createdAt: s.CreatedAt,
			})
		}
		return toRecords(orderCandidates(f.embedder != nil, query, items, maxResults)), nil
	}
}

// orderCandidates keeps the vector search order, or ranks by keyword when the
// documents were fetched without vector search
func orderCandidates[T any](vector bool, query string, items []candidate[T], limit int) []T {
	if !vector {
		return rankByKeyword(query, items, limit)
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	out := make([]T, len(items))
	for i, it := range items {
		out[i] = it.record
	}
	return out
}

func (f *Firestore) search(ctx context.Context, collection, query string, actorID model.ActorID, maxResults int) ([]*firestore.DocumentSnapshot, error) {
	base := f.client.Collection(collection).Where("actor_id", "==", string(actorID))

	var iter *firestore.DocumentIterator
	if f.embedder != nil {
		vec, err := f.embedder.Embed(ctx, query)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to embed memory query")
		}
		limit := maxResults
		if limit <= 0 {
			limit = 10
		}
		iter = base.FindNearest("embedding", firestore.Vector32(vec), limit, firestore.DistanceMeasureCosine, nil).Documents(ctx)
	} else {
		iter = base.OrderBy("created_at", firestore.Desc).Limit(keywordScanLimit).Documents(ctx)
	}
	defer iter.Stop()

	var docs []*firestore.DocumentSnapshot
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to query memory",
				goerr.V("collection", collection),
				goerr.V("actor_id", actorID))
		}
		docs = append(docs, snap)
	}
	return docs, nil
}

func (f *Firestore) getPreference(ctx context.Context, actorID model.ActorID) (*model.Preference, error) {
	snap, err := f.client.Collection(collectionPreferences).Doc(string(actorID)).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get preference", goerr.V("actor_id", actorID))
	}

	var pref model.Preference
	if err := snap.DataTo(&pref); err != nil {
		return nil, goerr.Wrap(err, "failed to decode preference", goerr.V("actor_id", actorID))
	}
	return &pref, nil
}

func decodeInvestigation(snap *firestore.DocumentSnapshot) (*model.InvestigationSummary, error) {
	var d investigationDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, goerr.Wrap(err, "failed to decode investigation", goerr.V("id", snap.Ref.ID))
	}
	return &model.InvestigationSummary{
		IncidentID:  model.IncidentID(d.IncidentID),
		ActorID:     model.ActorID(d.ActorID),
		Query:       d.Query,
		Status:      model.ResolutionStatus(d.Status),
		KeyFindings: d.KeyFindings,
		CreatedAt:   d.CreatedAt,
	}, nil
}

func (f *Firestore) embed(ctx context.Context, text string) firestore.Vector32 {
	if f.embedder == nil {
		return nil
	}
	vec, err := f.embedder.Embed(ctx, text)
	if err != nil {
		// the record is still stored and reachable by keyword listing
		logging.From(ctx).Warn("failed to embed memory record", "error", err)
		return nil
	}
	return firestore.Vector32(vec)
}

func (f *Firestore) SaveInvestigation(ctx context.Context, summary *model.InvestigationSummary) (model.IncidentID, error) {
	if err := summary.Validate(); err != nil {
		return "", goerr.Wrap(err, "invalid investigation summary")
	}

	doc := investigationDoc{
		IncidentID:  string(summary.IncidentID),
		ActorID:     string(summary.ActorID),
		Query:       summary.Query,
		Status:      string(summary.Status),
		KeyFindings: summary.KeyFindings,
		Embedding:   f.embed(ctx, summary.SearchText()),
		CreatedAt:   summary.CreatedAt,
	}

	ref := f.client.Collection(collectionInvestigations).Doc(string(summary.IncidentID))
	if _, err := ref.Create(ctx, doc); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return summary.IncidentID, nil
		}
		return "", goerr.Wrap(err, "failed to save investigation", goerr.V("incident_id", summary.IncidentID))
	}
	return summary.IncidentID, nil
}

func (f *Firestore) SaveInfrastructure(ctx context.Context, knowledge *model.InfrastructureKnowledge) error {
	if knowledge.Fact == "" {
		return goerr.New("infrastructure fact is empty")
	}
	id := knowledge.ID
	if id == "" {
		id = model.NewKnowledgeID()
	}
	createdAt := knowledge.CreatedAt
	if createdAt.IsZero() {
		createdAt = f.now()
	}

	doc := infrastructureDoc{
		ID:           string(id),
		ActorID:      string(knowledge.ActorID),
		Fact:         knowledge.Fact,
		SourceDomain: string(knowledge.SourceDomain),
		Embedding:    f.embed(ctx, knowledge.Fact),
		CreatedAt:    createdAt,
	}
	if _, err := f.client.Collection(collectionInfrastructure).Doc(string(id)).Create(ctx, doc); err != nil {
		return goerr.Wrap(err, "failed to save infrastructure knowledge", goerr.V("id", id))
	}
	return nil
}

func (f *Firestore) PutPreference(ctx context.Context, pref *model.Preference) error {
	if pref.ActorID == "" {
		return goerr.New("actor_id is required for preference")
	}
	p := *pref
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = f.now()
	}
	if _, err := f.client.Collection(collectionPreferences).Doc(string(p.ActorID)).Set(ctx, &p); err != nil {
		return goerr.Wrap(err, "failed to put preference", goerr.V("actor_id", p.ActorID))
	}
	return nil
}

func (f *Firestore) ListInvestigations(ctx context.Context, actorID model.ActorID, limit int) ([]*model.InvestigationSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	iter := f.client.Collection(collectionInvestigations).
		Where("actor_id", "==", string(actorID)).
		OrderBy("created_at", firestore.Desc).
		Limit(limit).
		Documents(ctx)
	defer iter.Stop()

	var out []*model.InvestigationSummary
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to list investigations", goerr.V("actor_id", actorID))
		}
		s, err := decodeInvestigation(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
