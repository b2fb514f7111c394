package investigation

import (
	"context"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/pika/pkg/model"
	"github.com/m-mizutani/pika/pkg/report"
	"github.com/m-mizutani/pika/pkg/utils/logging"
)

// NoPriorInvestigation is the memory note when retrieval found nothing
const NoPriorInvestigation = "No prior investigation found for this question"

type memoryContext struct {
	preference *model.Preference
	prior      []*model.InvestigationSummary
	knowledge  []*model.InfrastructureKnowledge
	notes      []string
}

// retrieveMemory reads the actor's preference and, for strategies that use memory, past
// investigations and infrastructure knowledge. Transport errors become notes; only
// cancellation is returned as error.
func (u *UseCase) retrieveMemory(ctx context.Context, q *model.Query, strategy model.Strategy) (*memoryContext, error) {
	logger := logging.From(ctx)
	mem := &memoryContext{}

	prefs, err := u.memory.RetrieveMemory(ctx, model.MemoryTypePreference, "", q.ActorID, 1)
	u.metrics.ObserveMemory("retrieve_preference", outcomeOf(err))
	switch {
	case ctx.Err() != nil:
		return nil, goerr.Wrap(ErrCancelled, "investigation cancelled during memory retrieval")
	case err != nil:
		logger.Warn("failed to read preference, using defaults", "error", err)
	case len(prefs) > 0:
		if p, ok := prefs[0].(*model.Preference); ok {
			mem.preference = p
		}
	}

	if !strategy.UsesMemory() {
		return mem, nil
	}

	paraphrases := Paraphrases(q.Text)

	summaries, err := u.retrieveAll(ctx, model.MemoryTypeInvestigation, paraphrases, q.ActorID)
	if ctx.Err() != nil {
		return nil, goerr.Wrap(ErrCancelled, "investigation cancelled during memory retrieval")
	}
	if err != nil {
		logger.Warn("failed to retrieve past investigations", "error", err)
		mem.notes = append(mem.notes, "Past investigations unavailable: memory store error")
	}
	for _, r := range summaries {
		if s, ok := r.(*model.InvestigationSummary); ok {
			mem.prior = append(mem.prior, s)
		}
	}
	if err == nil && len(mem.prior) == 0 {
		mem.notes = append(mem.notes, NoPriorInvestigation)
	}

	knowledge, err := u.retrieveAll(ctx, model.MemoryTypeInfrastructure, paraphrases, q.ActorID)
	if ctx.Err() != nil {
		return nil, goerr.Wrap(ErrCancelled, "investigation cancelled during memory retrieval")
	}
	if err != nil {
		logger.Warn("failed to retrieve infrastructure knowledge", "error", err)
		mem.notes = append(mem.notes, "Infrastructure knowledge unavailable: memory store error")
	}
	for _, r := range knowledge {
		if k, ok := r.(*model.InfrastructureKnowledge); ok {
			mem.knowledge = append(mem.knowledge, k)
		}
	}

	logger.Info("memory retrieved",
		"paraphrases", len(paraphrases),
		"investigations", len(mem.prior),
		"knowledge", len(mem.knowledge))
	return mem, nil
}

// retrieveAll searches with every paraphrase and merges the results by record key,
// keeping the order of first appearance. A paraphrase that fails does not discard the
// results of the others; the error is returned only when every paraphrase failed.
func (u *UseCase) retrieveAll(ctx context.Context, memType model.MemoryType, paraphrases []string, actorID model.ActorID) ([]model.MemoryRecord, error) {
	var (
		merged []model.MemoryRecord
		seen   = make(map[string]struct{})
		errs   []error
	)

	for _, p := range paraphrases {
		records, err := u.memory.RetrieveMemory(ctx, memType, p, actorID, u.maxResults)
		u.metrics.ObserveMemory("retrieve_"+string(memType), outcomeOf(err))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, r := range records {
			if _, ok := seen[r.RecordKey()]; ok {
				continue
			}
			seen[r.RecordKey()] = struct{}{}
			merged = append(merged, r)
		}
	}

	if len(merged) > u.maxResults {
		merged = merged[:u.maxResults]
	}
	if len(errs) > 0 && len(errs) == len(paraphrases) {
		return nil, goerr.Wrap(errs[0], "memory retrieval failed", goerr.V("type", memType))
	}
	return merged, nil
}

// writeMemory stores the investigation summary and learned facts. Failures are logged
// and do not fail the investigation. It returns the incident id when the summary was
// stored.
func (u *UseCase) writeMemory(ctx context.Context, q *model.Query, res *Result) model.IncidentID {
	logger := logging.From(ctx)
	agg := res.Aggregation
	now := u.now()

	summary := &model.InvestigationSummary{
		IncidentID:  model.NewIncidentID(),
		ActorID:     q.ActorID,
		Query:       q.Text,
		Status:      res.Status,
		KeyFindings: keyFindings(agg),
		CreatedAt:   now,
	}

	id, err := u.memory.SaveInvestigation(ctx, summary)
	u.metrics.ObserveMemory("save_investigation", outcomeOf(err))
	if err != nil {
		logger.Error("failed to save investigation summary", "error", err, "incident_id", summary.IncidentID)
		id = ""
	}

	seen := make(map[string]struct{})
	for _, f := range agg.Findings {
		for _, fact := range f.Learned {
			fact = strings.TrimSpace(fact)
			if fact == "" {
				continue
			}
			if _, ok := seen[fact]; ok {
				continue
			}
			seen[fact] = struct{}{}

			err := u.memory.SaveInfrastructure(ctx, &model.InfrastructureKnowledge{
				ID:           model.NewKnowledgeID(),
				ActorID:      q.ActorID,
				Fact:         fact,
				SourceDomain: f.Domain,
				CreatedAt:    now,
			})
			u.metrics.ObserveMemory("save_infrastructure", outcomeOf(err))
			if err != nil {
				logger.Error("failed to save infrastructure knowledge", "error", err, "fact", fact)
			}
		}
	}

	return id
}

// keyFindings is one line per finding followed by its citations
func keyFindings(agg *Aggregation) []string {
	var out []string
	for _, f := range agg.Findings {
		out = append(out, fmt.Sprintf("%s (%s): %s", f.Domain, f.Assessment, firstLine(f.Narrative)))
		for _, c := range f.Citations {
			out = append(out, report.FormatCitation(c))
		}
	}
	return out
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return "no narrative"
}

func outcomeOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
