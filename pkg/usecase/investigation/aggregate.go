package investigation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/m-mizutani/pika/pkg/model"
)

// Aggregation is the merged result of all findings of one investigation
type Aggregation struct {
	// Findings are copies sorted by domain order. A citation appears only in the first
	// finding that carries it.
	Findings []*model.Finding
	// Conflict is set when some findings are healthy and others degraded
	Conflict *model.Conflict
	// Failures lists every domain that returned no or partial data, with the reason
	Failures []model.DomainFailure
}

// Empty reports whether there is no finding
func (a *Aggregation) Empty() bool {
	return a == nil || len(a.Findings) == 0
}

// Complete reports whether every finding is complete and no domain failed
func (a *Aggregation) Complete() bool {
	return !a.Empty() && len(a.Failures) == 0
}

// Citations returns all citations in finding order
func (a *Aggregation) Citations() []model.Citation {
	var out []model.Citation
	for _, f := range a.Findings {
		out = append(out, f.Citations...)
	}
	return out
}

// Aggregate merges findings and failures. The result does not depend on the order of
// either argument. Input findings are never modified.
func Aggregate(findings []*model.Finding, failures []model.DomainFailure) *Aggregation {
	sorted := make([]*model.Finding, 0, len(findings))
	for _, f := range findings {
		if f != nil {
			sorted = append(sorted, f.Clone())
		}
	}
	sort.Slice(sorted, func(i, j int) bool {
		return findingLess(sorted[i], sorted[j])
	})

	seen := make(map[model.Citation]struct{})
	for _, f := range sorted {
		kept := make([]model.Citation, 0, len(f.Citations))
		for _, c := range f.Citations {
			if _, dup := seen[c]; dup {
				continue
			}
			seen[c] = struct{}{}
			kept = append(kept, c)
		}
		f.Citations = kept
	}

	agg := &Aggregation{Findings: sorted}

	var conflict model.Conflict
	for _, f := range sorted {
		side := model.ConflictSide{
			Domain:     f.Domain,
			Assessment: f.Assessment,
			Narrative:  f.Narrative,
			Citations:  append([]model.Citation(nil), f.Citations...),
		}
		switch f.Assessment {
		case model.AssessmentHealthy:
			conflict.Healthy = append(conflict.Healthy, side)
		case model.AssessmentDegraded:
			conflict.Degraded = append(conflict.Degraded, side)
		}
	}
	if len(conflict.Healthy) > 0 && len(conflict.Degraded) > 0 {
		agg.Conflict = &conflict
	}

	allFailures := append([]model.DomainFailure(nil), failures...)
	for _, f := range sorted {
		switch {
		case f.Incomplete():
			allFailures = append(allFailures, model.DomainFailure{
				Domain: f.Domain,
				Reason: "incomplete: " + joinOr(f.Gaps, "no final answer"),
			})
		case len(f.Gaps) > 0:
			allFailures = append(allFailures, model.DomainFailure{
				Domain: f.Domain,
				Reason: "partial data: " + strings.Join(f.Gaps, "; "),
			})
		}
	}
	sort.Slice(allFailures, func(i, j int) bool {
		if allFailures[i].Domain != allFailures[j].Domain {
			return allFailures[i].Domain.Rank() < allFailures[j].Domain.Rank()
		}
		return allFailures[i].Reason < allFailures[j].Reason
	})
	agg.Failures = dedupFailures(allFailures)

	return agg
}

// findingLess is a total order so that sorting is independent of input order
func findingLess(a, b *model.Finding) bool {
	if a.Domain != b.Domain {
		if a.Domain.Rank() != b.Domain.Rank() {
			return a.Domain.Rank() < b.Domain.Rank()
		}
		return a.Domain < b.Domain
	}
	if a.SubQuestion != b.SubQuestion {
		return a.SubQuestion < b.SubQuestion
	}
	if a.Narrative != b.Narrative {
		return a.Narrative < b.Narrative
	}
	return fmt.Sprint(a.Citations) < fmt.Sprint(b.Citations)
}

func dedupFailures(in []model.DomainFailure) []model.DomainFailure {
	out := make([]model.DomainFailure, 0, len(in))
	for i, f := range in {
		if i > 0 && in[i-1] == f {
			continue
		}
		out = append(out, f)
	}
	return out
}

func joinOr(items []string, fallback string) string {
	if len(items) == 0 {
		return fallback
	}
	return strings.Join(items, "; ")
}
