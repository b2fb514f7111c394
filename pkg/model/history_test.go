package model_test

import (
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/pika/pkg/model"
)

func TestConversationAppendIsImmutable(t *testing.T) {
	base := model.NewConversation("s1", "alice")
	first := base.Append(model.Turn{Query: "q1", At: time.Unix(1, 0)})
	second := first.Append(model.Turn{Query: "q2", At: time.Unix(2, 0)})
	branch := first.Append(model.Turn{Query: "other"})

	gt.Equal(t, base.Len(), 0)
	gt.Equal(t, first.Len(), 1)
	gt.Equal(t, second.Len(), 2)
	gt.Equal(t, branch.Len(), 2)
	gt.Equal(t, second.Turns()[1].Query, "q2")
	gt.Equal(t, branch.Turns()[1].Query, "other")

	turns := second.Turns()
	turns[0].Query = "mutated"
	gt.Equal(t, second.Turns()[0].Query, "q1")

	last, ok := second.Last()
	gt.True(t, ok)
	gt.Equal(t, last.Query, "q2")
	_, ok = base.Last()
	gt.False(t, ok)
	gt.Equal(t, second.SessionID(), model.SessionID("s1"))
}

func TestPreferenceStyle(t *testing.T) {
	var nilPref *model.Preference
	gt.Equal(t, nilPref.Style(), model.ReportStyleTechnical)

	p := &model.Preference{Settings: map[string]string{"style": "Executive"}}
	gt.Equal(t, p.Style(), model.ReportStyleExecutive)

	p = &model.Preference{Settings: map[string]string{"style": "verbose"}}
	gt.Equal(t, p.Style(), model.ReportStyleTechnical)
}

func TestParseDomain(t *testing.T) {
	testCases := []struct {
		input  string
		expect model.Domain
		valid  bool
	}{
		{"k8s", model.DomainKubernetes, true},
		{"Logs", model.DomainLogs, true},
		{"metric", model.DomainMetrics, true},
		{"playbook", model.DomainRunbooks, true},
		{"database", "", false},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			d, err := model.ParseDomain(tc.input)
			if tc.valid {
				gt.NoError(t, err)
				gt.Equal(t, d, tc.expect)
			} else {
				gt.Error(t, err)
			}
		})
	}
}

func TestFindingClone(t *testing.T) {
	f := &model.Finding{
		Domain:    model.DomainMetrics,
		Citations: []model.Citation{{Tool: "get_error_rates", Fact: "75% error rate"}},
		Gaps:      []string{"gap"},
	}
	c := f.Clone()
	c.Citations[0].Fact = "changed"
	c.Gaps = append(c.Gaps, "more")

	gt.Equal(t, f.Citations[0].Fact, "75% error rate")
	gt.A(t, f.Gaps).Length(1)
}

func TestInvestigationSummaryValidate(t *testing.T) {
	s := &model.InvestigationSummary{IncidentID: model.NewIncidentID(), ActorID: "alice"}
	gt.Error(t, s.Validate())

	s.KeyFindings = []string{"metrics: latency up"}
	gt.NoError(t, s.Validate())
}

func TestToolErrorAs(t *testing.T) {
	var err error = &model.ToolError{Kind: model.ToolErrorAuthExpired, Tool: "get_pod_status"}
	te, ok := model.AsToolError(err)
	gt.True(t, ok)
	gt.True(t, te.IsAuthExpired())
	gt.S(t, err.Error()).Contains("auth_expired")
}
