package investigation_test

import (
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/pika/pkg/model"
	"github.com/m-mizutani/pika/pkg/usecase/investigation"
)

func sampleFindings() []*model.Finding {
	return []*model.Finding{
		{
			Domain:     model.DomainMetrics,
			Narrative:  "p99 latency rose sharply",
			Citations:  []model.Citation{{Tool: "get_response_times", Fact: "p99 150ms -> 5000ms"}},
			Assessment: model.AssessmentDegraded,
			Status:     model.FindingComplete,
		},
		{
			Domain:    model.DomainKubernetes,
			Narrative: "all pods are running",
			Citations: []model.Citation{
				{Tool: "get_pod_status", Fact: "12/12 Running"},
				{Tool: "get_response_times", Fact: "p99 150ms -> 5000ms"},
			},
			Assessment: model.AssessmentHealthy,
			Status:     model.FindingComplete,
		},
		{
			Domain:     model.DomainLogs,
			Narrative:  "Investigation stopped before a final answer: tool-call budget of 8 exhausted before a final answer.",
			Citations:  []model.Citation{{Tool: "get_error_rates", Fact: "75% error rate"}},
			Gaps:       []string{"tool-call budget of 8 exhausted before a final answer"},
			Assessment: model.AssessmentUnknown,
			Status:     model.FindingIncomplete,
		},
	}
}

func permutations(items []*model.Finding) [][]*model.Finding {
	if len(items) <= 1 {
		return [][]*model.Finding{append([]*model.Finding(nil), items...)}
	}
	var out [][]*model.Finding
	for i := range items {
		rest := make([]*model.Finding, 0, len(items)-1)
		rest = append(rest, items[:i]...)
		rest = append(rest, items[i+1:]...)
		for _, p := range permutations(rest) {
			out = append(out, append([]*model.Finding{items[i]}, p...))
		}
	}
	return out
}

func TestAggregateIsCommutative(t *testing.T) {
	failures := []model.DomainFailure{{Domain: model.DomainRunbooks, Reason: "no specialist configured"}}
	want := investigation.Aggregate(sampleFindings(), failures)

	perms := permutations(sampleFindings())
	gt.A(t, perms).Length(6)
	for _, p := range perms {
		gt.Equal(t, investigation.Aggregate(p, failures), want)
	}
}

func TestAggregateOrdersAndDeduplicates(t *testing.T) {
	agg := investigation.Aggregate(sampleFindings(), nil)

	gt.A(t, agg.Findings).Length(3)
	gt.Equal(t, agg.Findings[0].Domain, model.DomainKubernetes)
	gt.Equal(t, agg.Findings[1].Domain, model.DomainLogs)
	gt.Equal(t, agg.Findings[2].Domain, model.DomainMetrics)

	// the shared citation stays with the first finding in domain order
	gt.Equal(t, agg.Findings[0].Citations, []model.Citation{
		{Tool: "get_pod_status", Fact: "12/12 Running"},
		{Tool: "get_response_times", Fact: "p99 150ms -> 5000ms"},
	})
	gt.A(t, agg.Findings[2].Citations).Length(0)
	gt.A(t, agg.Citations()).Length(3)

	gt.Equal(t, agg.Failures, []model.DomainFailure{
		{Domain: model.DomainLogs, Reason: "incomplete: tool-call budget of 8 exhausted before a final answer"},
	})
	gt.False(t, agg.Complete())
}

func TestAggregateDoesNotModifyInput(t *testing.T) {
	in := sampleFindings()
	_ = investigation.Aggregate(in, nil)
	gt.A(t, in[2].Citations).Length(1)
	gt.A(t, in[1].Citations).Length(2)
}

func TestAggregateConflict(t *testing.T) {
	agg := investigation.Aggregate(sampleFindings(), nil)

	gt.True(t, agg.Conflict != nil)
	gt.A(t, agg.Conflict.Healthy).Length(1)
	gt.A(t, agg.Conflict.Degraded).Length(1)
	gt.Equal(t, agg.Conflict.Healthy[0].Domain, model.DomainKubernetes)
	gt.Equal(t, agg.Conflict.Degraded[0].Domain, model.DomainMetrics)
	gt.Equal(t, agg.Conflict.Healthy[0].Citations[0], model.Citation{Tool: "get_pod_status", Fact: "12/12 Running"})
}

func TestAggregateNoConflictWhenAgreeing(t *testing.T) {
	agg := investigation.Aggregate(sampleFindings()[:1], nil)
	gt.True(t, agg.Conflict == nil)
	gt.True(t, agg.Complete())
}

func TestAggregateEmpty(t *testing.T) {
	agg := investigation.Aggregate(nil, []model.DomainFailure{{Domain: model.DomainLogs, Reason: "error: backend_error"}})
	gt.True(t, agg.Empty())
	gt.False(t, agg.Complete())
	gt.A(t, agg.Failures).Length(1)
}
