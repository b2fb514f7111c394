package repository

import (
	"context"

	"github.com/m-mizutani/pika/pkg/model"
)

// Memory is the long-term memory store. Retrieval is best-effort and eventually
// consistent: a record may become visible some time after it was written.
type Memory interface {
	// RetrieveMemory searches records of one type for an actor. An empty result with a
	// nil error means nothing matched; it is not a failure.
	RetrieveMemory(ctx context.Context, memType model.MemoryType, query string, actorID model.ActorID, maxResults int) ([]model.MemoryRecord, error)

	// SaveInvestigation stores one summary. Saving the same IncidentID again is a no-op
	// that returns the same id.
	SaveInvestigation(ctx context.Context, summary *model.InvestigationSummary) (model.IncidentID, error)

	// SaveInfrastructure appends one learned fact
	SaveInfrastructure(ctx context.Context, knowledge *model.InfrastructureKnowledge) error

	// PutPreference writes an actor's preference. It is an administrative operation and
	// is never called during an investigation.
	PutPreference(ctx context.Context, pref *model.Preference) error

	// ListInvestigations returns the newest summaries of an actor
	ListInvestigations(ctx context.Context, actorID model.ActorID, limit int) ([]*model.InvestigationSummary, error)
}

// Embedder converts text into a vector for semantic search
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
