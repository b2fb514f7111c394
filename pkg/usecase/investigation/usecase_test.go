package investigation_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/pika/pkg/agent/specialist"
	"github.com/m-mizutani/pika/pkg/metrics"
	"github.com/m-mizutani/pika/pkg/model"
	"github.com/m-mizutani/pika/pkg/oracle"
	"github.com/m-mizutani/pika/pkg/report"
	"github.com/m-mizutani/pika/pkg/repository"
	"github.com/m-mizutani/pika/pkg/usecase/investigation"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

const actor model.ActorID = "alice"

var now = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

type invokeFunc func(ctx context.Context, name string, args map[string]any) (*model.ToolResult, error)

type mockGateway struct {
	invoke invokeFunc
	calls  atomic.Int32
}

func (m *mockGateway) ListTools(ctx context.Context) ([]*model.ToolDescriptor, error) {
	return []*model.ToolDescriptor{
		{Name: "get_pod_status", Description: "pod status", Domain: model.DomainKubernetes},
		{Name: "get_error_rates", Description: "error rates per service", Domain: model.DomainLogs},
		{Name: "get_response_times", Description: "latency percentiles", Domain: model.DomainMetrics},
	}, nil
}

func (m *mockGateway) InvokeTool(ctx context.Context, name string, args map[string]any) (*model.ToolResult, error) {
	m.calls.Add(1)
	return m.invoke(ctx, name, args)
}

func okInvoke(ctx context.Context, name string, args map[string]any) (*model.ToolResult, error) {
	return &model.ToolResult{Tool: name, Content: name + " ok"}, nil
}

// callThenAnswer calls one tool and answers once any evidence is available. It keeps
// no state so a retried delegation behaves the same.
func callThenAnswer(toolName string, answer oracle.FinalAnswer) oracle.Oracle {
	return oracle.Func(func(ctx context.Context, req *oracle.Request) (oracle.Action, error) {
		if len(req.Evidence) == 0 {
			return oracle.CallTool{Name: toolName, Args: map[string]any{"service": "api"}}, nil
		}
		return answer, nil
	})
}

var (
	logsAnswer = oracle.FinalAnswer{
		Text:       "Database timeouts dominate the errors.",
		Citations:  []model.Citation{{Tool: "get_error_rates", Fact: "75% error rate"}},
		Assessment: model.AssessmentDegraded,
	}
	metricsAnswer = oracle.FinalAnswer{
		Text:       "p99 latency rose sharply.",
		Citations:  []model.Citation{{Tool: "get_response_times", Fact: "p99 150ms -> 5000ms"}},
		Learned:    []string{"api-gateway depends on payment-db"},
		Assessment: model.AssessmentDegraded,
	}
	kubernetesAnswer = oracle.FinalAnswer{
		Text:       "All pods are running.",
		Assessment: model.AssessmentHealthy,
	}
)

func newAgents(t *testing.T, gw *mockGateway) []investigation.Specialist {
	t.Helper()
	build := func(d model.Domain, o oracle.Oracle) investigation.Specialist {
		a, err := specialist.New(d, gw, o, specialist.WithTimeout(5*time.Second))
		gt.NoError(t, err)
		return a
	}
	return []investigation.Specialist{
		build(model.DomainKubernetes, callThenAnswer("get_pod_status", kubernetesAnswer)),
		build(model.DomainLogs, callThenAnswer("get_error_rates", logsAnswer)),
		build(model.DomainMetrics, callThenAnswer("get_response_times", metricsAnswer)),
	}
}

type fixture struct {
	gw        *mockGateway
	memory    *repository.InMemory
	reportDir string
	metrics   *metrics.Metrics
	events    *eventLog
}

type eventLog struct {
	mu     sync.Mutex
	events []investigation.Event
}

func (l *eventLog) OnEvent(ctx context.Context, ev investigation.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) states() []investigation.State {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []investigation.State
	for _, ev := range l.events {
		if ev.Domain == "" {
			out = append(out, ev.State)
		}
	}
	return out
}

func newFixture(t *testing.T, invoke invokeFunc) *fixture {
	t.Helper()
	return &fixture{
		gw:        &mockGateway{invoke: invoke},
		memory:    repository.NewInMemory(),
		reportDir: t.TempDir(),
		metrics:   metrics.New(prometheus.NewRegistry()),
		events:    &eventLog{},
	}
}

func (f *fixture) useCase(t *testing.T, opts ...investigation.Option) *investigation.UseCase {
	t.Helper()
	store, err := report.NewFileStore(f.reportDir)
	gt.NoError(t, err)

	base := []investigation.Option{
		investigation.WithReportStore(store),
		investigation.WithObserver(f.events),
		investigation.WithMetrics(f.metrics),
		investigation.WithClock(func() time.Time { return now }),
	}
	uc, err := investigation.New(f.memory, newAgents(t, f.gw), append(base, opts...)...)
	gt.NoError(t, err)
	return uc
}

func (f *fixture) reportFiles(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(f.reportDir)
	gt.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func (f *fixture) savedSummaries(t *testing.T) []*model.InvestigationSummary {
	t.Helper()
	list, err := f.memory.ListInvestigations(context.Background(), actor, 10)
	gt.NoError(t, err)
	return list
}

func query(text string) *model.Query {
	return &model.Query{Text: text, ActorID: actor, SessionID: "session-1", ReceivedAt: now}
}

func TestMemoryOnlyMakesNoToolCalls(t *testing.T) {
	f := newFixture(t, okInvoke)
	ctx := context.Background()
	_, err := f.memory.SaveInvestigation(ctx, &model.InvestigationSummary{
		IncidentID:  "inc-1",
		ActorID:     actor,
		Query:       "flight-booking errors in checkout",
		Status:      model.ResolutionResolved,
		KeyFindings: []string{"logs (degraded): payment-db connection pool exhausted"},
		CreatedAt:   now.Add(-48 * time.Hour),
	})
	gt.NoError(t, err)

	uc := f.useCase(t)
	res, conv, err := uc.Investigate(ctx, nil, query("Have I investigated the flight-booking failures?"))
	gt.NoError(t, err)

	gt.Equal(t, res.Strategy, model.StrategyMemoryOnly)
	gt.Equal(t, f.gw.calls.Load(), int32(0))
	gt.A(t, res.PriorInvestigations).Length(1)
	gt.Equal(t, res.PriorInvestigations[0].IncidentID, model.IncidentID("inc-1"))
	gt.A(t, res.Domains).Length(0)
	gt.S(t, res.Report.Markdown).Contains("flight-booking errors in checkout")

	// nothing new was written to memory
	gt.A(t, f.savedSummaries(t)).Length(1)
	gt.Equal(t, res.IncidentID, model.IncidentID(""))

	gt.Equal(t, conv.Len(), 1)
	gt.NotEqual(t, res.ReportPath, "")
	gt.Equal(t, f.events.states(), []investigation.State{
		investigation.StateReceived,
		investigation.StateClassifying,
		investigation.StateRetrievingMemory,
		investigation.StateAggregating,
		investigation.StateReporting,
		investigation.StateDone,
	})
}

func TestMemoryOnlyWithoutHistory(t *testing.T) {
	f := newFixture(t, okInvoke)
	uc := f.useCase(t)

	res, _, err := uc.Investigate(context.Background(), nil, query("Have I investigated the flight-booking failures?"))
	gt.NoError(t, err)
	gt.Equal(t, res.Status, model.ResolutionUnresolved)
	gt.A(t, res.PriorInvestigations).Length(0)
	gt.Equal(t, res.MemoryNotes, []string{investigation.NoPriorInvestigation})
	gt.S(t, res.Report.Markdown).Contains("No prior investigation found")
	gt.Equal(t, f.gw.calls.Load(), int32(0))
	gt.A(t, f.savedSummaries(t)).Length(0)
}

func TestLiveInvestigationRunsSpecialistsConcurrently(t *testing.T) {
	// both tools block until the other one was called, so the investigation only
	// completes without gaps when the specialists run at the same time
	var arrived atomic.Int32
	barrier := make(chan struct{})
	invoke := func(ctx context.Context, name string, args map[string]any) (*model.ToolResult, error) {
		if arrived.Add(1) == 2 {
			close(barrier)
		}
		select {
		case <-barrier:
		case <-time.After(3 * time.Second):
			return nil, &model.ToolError{Kind: model.ToolErrorTimeout, Tool: name}
		}
		return &model.ToolResult{Tool: name, Content: name + " ok"}, nil
	}
	f := newFixture(t, invoke)
	uc := f.useCase(t)

	res, conv, err := uc.Investigate(context.Background(), nil, query("API response times degraded 3x in the last hour"))
	gt.NoError(t, err)

	gt.Equal(t, res.Strategy, model.StrategyLiveOnly)
	gt.Equal(t, res.Domains, []model.Domain{model.DomainLogs, model.DomainMetrics})
	gt.Equal(t, f.gw.calls.Load(), int32(2))
	gt.Equal(t, res.Status, model.ResolutionResolved)
	gt.A(t, res.Failures()).Length(0)

	md := res.Report.Markdown
	gt.S(t, md).Contains("`get_response_times`: p99 150ms -> 5000ms")
	gt.S(t, md).Contains("`get_error_rates`: 75% error rate")
	gt.S(t, md).Contains(report.CompletionMarker)

	data, err := os.ReadFile(res.ReportPath)
	gt.NoError(t, err)
	gt.Equal(t, string(data), md)
	gt.Equal(t, filepath.Base(res.ReportPath), res.Report.Name)

	summaries := f.savedSummaries(t)
	gt.A(t, summaries).Length(1)
	gt.Equal(t, summaries[0].IncidentID, res.IncidentID)
	gt.Equal(t, summaries[0].Status, model.ResolutionResolved)
	gt.S(t, summaries[0].SearchText()).Contains("p99 150ms -> 5000ms")

	learned, err := f.memory.RetrieveMemory(context.Background(), model.MemoryTypeInfrastructure, "payment-db", actor, 5)
	gt.NoError(t, err)
	gt.A(t, learned).Length(1)
	gt.Equal(t, learned[0].(*model.InfrastructureKnowledge).SourceDomain, model.DomainMetrics)

	turn, ok := conv.Last()
	gt.True(t, ok)
	gt.Equal(t, turn.Strategy, model.StrategyLiveOnly)
	gt.Equal(t, turn.ReportPath, res.ReportPath)

	gt.Equal(t, testutil.ToFloat64(f.metrics.Investigations.WithLabelValues("live_only", "resolved")), float64(1))
}

func TestPreferenceSelectsExecutiveReport(t *testing.T) {
	f := newFixture(t, okInvoke)
	gt.NoError(t, f.memory.PutPreference(context.Background(), &model.Preference{
		ActorID: actor,
		Settings: map[string]string{
			model.PreferenceKeyStyle:             "executive",
			model.PreferenceKeyEscalationChannel: "#payments-oncall",
		},
		UpdatedAt: now,
	}))
	uc := f.useCase(t)

	res, _, err := uc.Investigate(context.Background(), nil, query("API response times degraded 3x in the last hour"))
	gt.NoError(t, err)
	gt.Equal(t, res.Report.Style, model.ReportStyleExecutive)
	gt.S(t, res.Report.Markdown).Contains("## Business Impact")
	gt.S(t, res.Report.Markdown).Contains("#payments-oncall")
}

func TestAuthExpiredAbortsInvestigation(t *testing.T) {
	f := newFixture(t, func(ctx context.Context, name string, args map[string]any) (*model.ToolResult, error) {
		if name == "get_error_rates" {
			return nil, &model.ToolError{Kind: model.ToolErrorAuthExpired, Tool: name, Message: "HTTP 401"}
		}
		return &model.ToolResult{Tool: name, Content: name + " ok"}, nil
	})
	uc := f.useCase(t)

	conv := model.NewConversation("session-1", actor)
	res, next, err := uc.Investigate(context.Background(), conv, query("API response times degraded 3x in the last hour"))
	gt.Error(t, err)
	gt.True(t, res == nil)
	gt.True(t, errors.Is(err, investigation.ErrReauthenticationRequired))
	gt.S(t, err.Error()).Contains("re-authentication required")

	gt.Equal(t, next, conv)
	gt.A(t, f.savedSummaries(t)).Length(0)
	gt.A(t, f.reportFiles(t)).Length(0)
	gt.Equal(t, testutil.ToFloat64(f.metrics.Investigations.WithLabelValues("unknown", "reauthentication_required")), float64(1))
}

type mockRefresher struct {
	refresh func(ctx context.Context) error
	calls   atomic.Int32
}

func (m *mockRefresher) Refresh(ctx context.Context) error {
	m.calls.Add(1)
	return m.refresh(ctx)
}

func TestAuthExpiredRefreshesAndRetriesOnce(t *testing.T) {
	var refreshed atomic.Bool
	f := newFixture(t, func(ctx context.Context, name string, args map[string]any) (*model.ToolResult, error) {
		if name == "get_error_rates" && !refreshed.Load() {
			return nil, &model.ToolError{Kind: model.ToolErrorAuthExpired, Tool: name}
		}
		return &model.ToolResult{Tool: name, Content: name + " ok"}, nil
	})
	refresher := &mockRefresher{refresh: func(ctx context.Context) error {
		refreshed.Store(true)
		return nil
	}}
	uc := f.useCase(t, investigation.WithRefresher(refresher))

	res, _, err := uc.Investigate(context.Background(), nil, query("API response times degraded 3x in the last hour"))
	gt.NoError(t, err)
	gt.Equal(t, refresher.calls.Load(), int32(1))
	gt.Equal(t, res.Status, model.ResolutionResolved)
	gt.A(t, res.Aggregation.Findings).Length(2)
	gt.A(t, f.savedSummaries(t)).Length(1)
}

func TestAuthExpiredAfterRefresh(t *testing.T) {
	f := newFixture(t, func(ctx context.Context, name string, args map[string]any) (*model.ToolResult, error) {
		return nil, &model.ToolError{Kind: model.ToolErrorAuthExpired, Tool: name}
	})
	refresher := &mockRefresher{refresh: func(ctx context.Context) error { return nil }}
	uc := f.useCase(t, investigation.WithRefresher(refresher))

	_, _, err := uc.Investigate(context.Background(), nil, query("API response times degraded 3x in the last hour"))
	gt.True(t, errors.Is(err, investigation.ErrReauthenticationRequired))
	gt.Equal(t, refresher.calls.Load(), int32(1))
	gt.A(t, f.savedSummaries(t)).Length(0)
	gt.A(t, f.reportFiles(t)).Length(0)
}

func TestRefreshFailure(t *testing.T) {
	f := newFixture(t, func(ctx context.Context, name string, args map[string]any) (*model.ToolResult, error) {
		return nil, &model.ToolError{Kind: model.ToolErrorAuthExpired, Tool: name}
	})
	refresher := &mockRefresher{refresh: func(ctx context.Context) error { return errors.New("token endpoint down") }}
	uc := f.useCase(t, investigation.WithRefresher(refresher))

	_, _, err := uc.Investigate(context.Background(), nil, query("API response times degraded 3x in the last hour"))
	gt.True(t, errors.Is(err, investigation.ErrReauthenticationRequired))
	gt.Equal(t, refresher.calls.Load(), int32(1))
}

func TestCancelDiscardsInvestigation(t *testing.T) {
	started := make(chan struct{}, 4)
	f := newFixture(t, func(ctx context.Context, name string, args map[string]any) (*model.ToolResult, error) {
		started <- struct{}{}
		<-ctx.Done()
		return nil, &model.ToolError{Kind: model.ToolErrorTimeout, Tool: name, Cause: ctx.Err()}
	})
	uc := f.useCase(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, _, err := uc.Investigate(ctx, nil, query("API response times degraded 3x in the last hour"))
	gt.True(t, errors.Is(err, investigation.ErrCancelled))
	gt.A(t, f.savedSummaries(t)).Length(0)
	gt.A(t, f.reportFiles(t)).Length(0)
}

func cancelOn(state investigation.State, cancel context.CancelFunc) investigation.Observer {
	return investigation.ObserverFunc(func(_ context.Context, ev investigation.Event) {
		if ev.Domain == "" && ev.State == state {
			cancel()
		}
	})
}

func TestCancelWhileAggregatingSavesNothing(t *testing.T) {
	f := newFixture(t, okInvoke)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	uc := f.useCase(t, investigation.WithObserver(cancelOn(investigation.StateAggregating, cancel)))

	_, _, err := uc.Investigate(ctx, nil, query("API response times degraded 3x in the last hour"))
	gt.True(t, errors.Is(err, investigation.ErrCancelled))
	gt.A(t, f.savedSummaries(t)).Length(0)
	gt.A(t, f.reportFiles(t)).Length(0)
}

func TestCancelAfterMemoryWriteKeepsSummaryAndReportTogether(t *testing.T) {
	for _, state := range []investigation.State{investigation.StateWritingMemory, investigation.StateReporting} {
		t.Run(string(state), func(t *testing.T) {
			f := newFixture(t, okInvoke)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			uc := f.useCase(t, investigation.WithObserver(cancelOn(state, cancel)))

			res, _, err := uc.Investigate(ctx, nil, query("API response times degraded 3x in the last hour"))
			gt.NoError(t, err)
			gt.NotEqual(t, res.IncidentID, model.IncidentID(""))

			summaries := f.savedSummaries(t)
			gt.A(t, summaries).Length(1)
			gt.Equal(t, summaries[0].IncidentID, res.IncidentID)
			gt.Equal(t, f.reportFiles(t), []string{res.Report.Name})
		})
	}
}

func TestSameSecondInvestigationsKeepBothReports(t *testing.T) {
	f := newFixture(t, okInvoke)
	uc := f.useCase(t)

	first, _, err := uc.Investigate(context.Background(), nil, query("API response times degraded 3x in the last hour"))
	gt.NoError(t, err)
	second, _, err := uc.Investigate(context.Background(), nil, query("API response times degraded 3x in the last hour"))
	gt.NoError(t, err)

	gt.NotEqual(t, first.ReportPath, second.ReportPath)
	gt.NotEqual(t, first.Report.Name, second.Report.Name)
	gt.A(t, f.reportFiles(t)).Length(2)
	gt.A(t, f.savedSummaries(t)).Length(2)
}

func TestInvestigationBudgetYieldsPartialReport(t *testing.T) {
	f := newFixture(t, func(ctx context.Context, name string, args map[string]any) (*model.ToolResult, error) {
		if name == "get_response_times" {
			return &model.ToolResult{Tool: name, Content: "p99 150ms -> 5000ms"}, nil
		}
		<-ctx.Done()
		return nil, &model.ToolError{Kind: model.ToolErrorTimeout, Tool: name}
	})
	uc := f.useCase(t, investigation.WithTimeout(200*time.Millisecond))

	start := time.Now()
	res, _, err := uc.Investigate(context.Background(), nil, query("API response times degraded 3x in the last hour"))
	gt.NoError(t, err)
	gt.True(t, time.Since(start) < 3*time.Second)

	gt.Equal(t, res.Status, model.ResolutionPartial)
	gt.A(t, res.Aggregation.Findings).Length(2)
	gt.True(t, res.Aggregation.Findings[0].Incomplete())
	gt.Equal(t, res.Aggregation.Findings[0].Domain, model.DomainLogs)
	gt.A(t, res.Failures()).Length(1)
	gt.S(t, res.Report.Markdown).Contains("get_error_rates unavailable: timeout")
	gt.NotEqual(t, res.ReportPath, "")
}

func TestHybridTieBreakUsesMemoryAndLiveData(t *testing.T) {
	f := newFixture(t, okInvoke)
	uc := f.useCase(t)

	res, _, err := uc.Investigate(context.Background(), nil, query("payment-service checkout"))
	gt.NoError(t, err)
	gt.Equal(t, res.Strategy, model.StrategyHybrid)
	gt.Equal(t, res.Domains, []model.Domain{model.DomainKubernetes, model.DomainLogs, model.DomainMetrics})
	gt.Equal(t, f.gw.calls.Load(), int32(3))
	gt.Equal(t, res.MemoryNotes, []string{investigation.NoPriorInvestigation})

	// healthy kubernetes against degraded logs and metrics
	gt.True(t, res.Aggregation.Conflict != nil)
	gt.S(t, res.Report.Markdown).Contains("## Conflicting Findings")
}

type failingMemory struct {
	*repository.InMemory
}

func (m *failingMemory) RetrieveMemory(ctx context.Context, memType model.MemoryType, q string, actorID model.ActorID, maxResults int) ([]model.MemoryRecord, error) {
	if memType == model.MemoryTypeInvestigation {
		return nil, errors.New("firestore unavailable")
	}
	return m.InMemory.RetrieveMemory(ctx, memType, q, actorID, maxResults)
}

func TestMemoryErrorIsRecordedAsGap(t *testing.T) {
	gw := &mockGateway{invoke: okInvoke}
	mem := &failingMemory{InMemory: repository.NewInMemory()}
	uc, err := investigation.New(mem, newAgents(t, gw))
	gt.NoError(t, err)

	res, _, err := uc.Investigate(context.Background(), nil, query("payment-service checkout"))
	gt.NoError(t, err)
	gt.Equal(t, res.MemoryNotes, []string{"Past investigations unavailable: memory store error"})
	gt.S(t, res.Report.Markdown).Contains("Past investigations unavailable")
	gt.Equal(t, res.ReportPath, "")
}

func TestRoutedDomainWithoutSpecialist(t *testing.T) {
	gw := &mockGateway{invoke: okInvoke}
	agents := newAgents(t, gw)[2:] // metrics only
	uc, err := investigation.New(repository.NewInMemory(), agents)
	gt.NoError(t, err)

	res, _, err := uc.Investigate(context.Background(), nil, query("API response times degraded 3x in the last hour"))
	gt.NoError(t, err)
	gt.Equal(t, res.Domains, []model.Domain{model.DomainMetrics})
	gt.Equal(t, res.Status, model.ResolutionPartial)
	gt.Equal(t, res.Failures(), []model.DomainFailure{{Domain: model.DomainLogs, Reason: "no specialist configured"}})
}

func TestInvestigateRejectsInvalidQuery(t *testing.T) {
	uc, err := investigation.New(repository.NewInMemory(), nil)
	gt.NoError(t, err)

	_, _, err = uc.Investigate(context.Background(), nil, &model.Query{Text: "  ", ActorID: actor})
	gt.True(t, errors.Is(err, model.ErrInvalidQuery))
}

func TestNewRejectsDuplicatedSpecialist(t *testing.T) {
	gw := &mockGateway{invoke: okInvoke}
	agents := newAgents(t, gw)
	_, err := investigation.New(repository.NewInMemory(), append(agents, agents[0]))
	gt.Error(t, err)
}

func TestBuildSubQuestionCarriesContext(t *testing.T) {
	conv := model.NewConversation("session-1", actor).Append(model.Turn{
		Query:   "API response times degraded 3x in the last hour",
		Summary: "resolved (logs degraded, metrics degraded)",
	})
	knowledge := []*model.InfrastructureKnowledge{
		{Fact: "api-gateway depends on payment-db", SourceDomain: model.DomainMetrics},
		{Fact: "payment pods run in namespace pay", SourceDomain: model.DomainKubernetes},
	}

	sq := investigation.BuildSubQuestion(model.DomainMetrics, "Is it still slow?", conv, knowledge)
	gt.Equal(t, sq.Domain, model.DomainMetrics)
	gt.S(t, sq.Text).Contains("Is it still slow?")
	gt.S(t, sq.Text).Contains("API response times degraded 3x in the last hour")
	gt.S(t, sq.Text).Contains("api-gateway depends on payment-db")
	gt.S(t, sq.Text).NotContains("namespace pay")
}
