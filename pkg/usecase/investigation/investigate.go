package investigation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/pika/pkg/model"
	"github.com/m-mizutani/pika/pkg/report"
	"github.com/m-mizutani/pika/pkg/tracing"
	"github.com/m-mizutani/pika/pkg/utils/logging"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var domainFocus = map[model.Domain]string{
	model.DomainKubernetes: "pod, deployment and node state of the affected workloads",
	model.DomainLogs:       "error logs and error rates around the reported time",
	model.DomainMetrics:    "latency, throughput and resource metrics compared to baseline",
	model.DomainRunbooks:   "documented procedures that match the symptoms",
}

// Investigate answers one query. conv holds the earlier turns of the session and may be
// nil for a new session. The returned conversation has the new turn appended; on error
// it is the unchanged input.
//
// ErrCancelled is returned when ctx is cancelled and ErrReauthenticationRequired when
// the tool gateway keeps rejecting the credential. In both cases nothing is written to
// memory and no report is produced.
func (u *UseCase) Investigate(ctx context.Context, conv *model.Conversation, q *model.Query) (*Result, *model.Conversation, error) {
	if err := q.Validate(); err != nil {
		return nil, conv, err
	}
	if conv == nil {
		conv = model.NewConversation(q.SessionID, q.ActorID)
	}

	ctx, span := tracing.Tracer().Start(ctx, "investigation.investigate",
		trace.WithAttributes(attribute.String("pika.actor_id", string(q.ActorID))))
	defer span.End()

	logger := logging.From(ctx).With("actor_id", q.ActorID, "session_id", q.SessionID)
	ctx = logging.With(ctx, logger)

	res, err := u.investigate(ctx, conv, q)

	outcome := "error"
	strategy := "unknown"
	switch {
	case err == nil:
		outcome = string(res.Status)
		strategy = string(res.Strategy)
	case errors.Is(err, ErrCancelled):
		outcome = "cancelled"
	case errors.Is(err, ErrReauthenticationRequired):
		outcome = "reauthentication_required"
	}
	u.metrics.ObserveInvestigation(strategy, outcome)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		return nil, conv, err
	}
	span.SetAttributes(
		attribute.String("pika.strategy", string(res.Strategy)),
		attribute.String("pika.status", string(res.Status)),
	)

	next := conv.Append(model.Turn{
		Query:      q.Text,
		Strategy:   res.Strategy,
		Summary:    turnSummary(res),
		ReportPath: res.ReportPath,
		At:         u.now(),
	})
	return res, next, nil
}

func (u *UseCase) investigate(ctx context.Context, conv *model.Conversation, q *model.Query) (*Result, error) {
	logger := logging.From(ctx)

	u.transition(ctx, StateReceived, "", q.Text)

	u.transition(ctx, StateClassifying, "", "")
	strategy := Classify(q.Text)
	logger.Info("query classified", "strategy", strategy)
	res := &Result{Query: q, Strategy: strategy}

	u.transition(ctx, StateRetrievingMemory, strategy, "")
	mem, err := u.retrieveMemory(ctx, q, strategy)
	if err != nil {
		return nil, err
	}
	res.PriorInvestigations = mem.prior
	res.Knowledge = mem.knowledge
	res.MemoryNotes = mem.notes

	var (
		findings []*model.Finding
		failures []model.DomainFailure
		expired  bool
	)
	if strategy.UsesLiveData() {
		u.transition(ctx, StateDelegating, strategy, "")
		subs, routeFailures, err := u.plan(ctx, conv, q, mem.knowledge)
		if err != nil {
			return nil, err
		}
		for _, sq := range subs {
			res.Domains = append(res.Domains, sq.Domain)
		}
		findings, failures, expired, err = u.delegateWithRefresh(ctx, subs)
		if err != nil {
			return nil, err
		}
		failures = append(failures, routeFailures...)
	}

	if ctx.Err() != nil {
		return nil, goerr.Wrap(ErrCancelled, "investigation cancelled", goerr.V("query", q.Text))
	}

	u.transition(ctx, StateAggregating, strategy, "")
	agg := Aggregate(findings, failures)
	res.Aggregation = agg
	res.Status = resolutionStatus(agg, expired)

	// Last point where cancellation discards the investigation. Past it the summary
	// and the report are written as a pair so memory never refers to a missing report.
	if ctx.Err() != nil {
		return nil, goerr.Wrap(ErrCancelled, "investigation cancelled before saving", goerr.V("query", q.Text))
	}
	commitCtx := context.WithoutCancel(ctx)

	if !agg.Empty() {
		u.transition(ctx, StateWritingMemory, strategy, "")
		res.IncidentID = u.writeMemory(commitCtx, q, res)
	}

	u.transition(ctx, StateReporting, strategy, "")
	rep, err := report.Synthesize(&report.Input{
		Query:               q.Text,
		ActorID:             q.ActorID,
		Strategy:            strategy,
		Style:               mem.preference.Style(),
		EscalationChannel:   mem.preference.Get(model.PreferenceKeyEscalationChannel),
		Status:              res.Status,
		IncidentID:          res.IncidentID,
		Findings:            agg.Findings,
		Conflict:            agg.Conflict,
		Failures:            agg.Failures,
		PriorInvestigations: res.PriorInvestigations,
		Knowledge:           res.Knowledge,
		MemoryNotes:         res.MemoryNotes,
		GeneratedAt:         u.now(),
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to synthesize report")
	}
	res.Report = rep

	if u.reports != nil {
		path, err := u.reports.Save(commitCtx, rep)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to save report", goerr.V("name", rep.Name))
		}
		res.ReportPath = path
	}

	u.transition(ctx, StateDone, strategy, string(res.Status))
	return res, nil
}

func (u *UseCase) transition(ctx context.Context, state State, strategy model.Strategy, msg string) {
	logging.From(ctx).Debug("investigation state", "state", state, "strategy", strategy, "message", msg)
	u.publish(ctx, Event{State: state, Strategy: strategy, Message: msg})
}

// plan routes the query and builds one sub-question per routed domain that has a
// specialist. Routed domains without a specialist are returned as failures.
func (u *UseCase) plan(ctx context.Context, conv *model.Conversation, q *model.Query, knowledge []*model.InfrastructureKnowledge) ([]model.SubQuestion, []model.DomainFailure, error) {
	domains, err := u.router.Route(ctx, q.Text)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to route query", goerr.V("query", q.Text))
	}
	logging.From(ctx).Info("query routed", "domains", domains)

	var (
		subs     []model.SubQuestion
		failures []model.DomainFailure
	)
	for _, d := range domains {
		if _, ok := u.agents[d]; !ok {
			failures = append(failures, model.DomainFailure{Domain: d, Reason: "no specialist configured"})
			continue
		}
		subs = append(subs, BuildSubQuestion(d, q.Text, conv, knowledge))
	}
	return subs, failures, nil
}

// BuildSubQuestion phrases the query for one domain, adding the recent turns of the
// session and remembered infrastructure facts as context
func BuildSubQuestion(d model.Domain, query string, conv *model.Conversation, knowledge []*model.InfrastructureKnowledge) model.SubQuestion {
	var b strings.Builder
	b.WriteString(query)
	if focus, ok := domainFocus[d]; ok {
		fmt.Fprintf(&b, "\n\nFocus on %s.", focus)
	}

	if conv != nil && conv.Len() > 0 {
		turns := conv.Turns()
		if len(turns) > recentTurns {
			turns = turns[len(turns)-recentTurns:]
		}
		b.WriteString("\n\nEarlier in this session:")
		for _, t := range turns {
			fmt.Fprintf(&b, "\n- %q: %s", t.Query, t.Summary)
		}
	}

	var facts []string
	for _, k := range knowledge {
		if k.SourceDomain == d || k.SourceDomain == "" {
			facts = append(facts, k.Fact)
		}
	}
	if len(facts) > 0 {
		b.WriteString("\n\nKnown infrastructure facts:")
		for _, f := range facts {
			b.WriteString("\n- " + f)
		}
	}

	return model.SubQuestion{Domain: d, Text: b.String()}
}

// delegateWithRefresh runs the delegation under the investigation budget. An auth
// failure triggers at most one credential refresh and one retry.
func (u *UseCase) delegateWithRefresh(ctx context.Context, subs []model.SubQuestion) ([]*model.Finding, []model.DomainFailure, bool, error) {
	logger := logging.From(ctx)

	dctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	findings, failures, err := u.delegate(dctx, subs)
	if err != nil && isAuthExpired(err) && u.refresher != nil && ctx.Err() == nil {
		logger.Warn("tool gateway rejected credential, refreshing", "error", err)
		if rerr := u.refresher.Refresh(ctx); rerr != nil {
			logger.Warn("credential refresh failed", "error", rerr)
			return nil, nil, false, goerr.Wrap(ErrReauthenticationRequired, "credential refresh failed",
				goerr.V("refresh_error", rerr.Error()))
		}
		findings, failures, err = u.delegate(dctx, subs)
	}

	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, false, goerr.Wrap(ErrCancelled, "investigation cancelled during delegation")
		}
		if isAuthExpired(err) {
			return nil, nil, false, goerr.Wrap(ErrReauthenticationRequired, "tool gateway rejected the credential",
				goerr.V("cause", err.Error()))
		}
		return nil, nil, false, err
	}

	expired := ctx.Err() == nil && errors.Is(dctx.Err(), context.DeadlineExceeded)
	if expired {
		logger.Warn("investigation budget exhausted, reporting partial results", "timeout", u.timeout)
	}
	return findings, failures, expired, nil
}

type outcome struct {
	finding *model.Finding
	failure *model.DomainFailure
}

// delegate runs one specialist per sub-question concurrently. Findings are returned in
// completion order. Only an auth_expired failure is returned as error and cancels the
// other specialists; any other failure is recorded for its domain.
func (u *UseCase) delegate(ctx context.Context, subs []model.SubQuestion) ([]*model.Finding, []model.DomainFailure, error) {
	results := make(chan outcome, len(subs))
	eg, ectx := errgroup.WithContext(ctx)

	for _, sq := range subs {
		agent := u.agents[sq.Domain]
		eg.Go(func() error {
			u.publish(ectx, Event{State: StateDelegating, Domain: sq.Domain, Message: "started"})

			f, err := agent.Investigate(ectx, sq)
			if err != nil {
				if isAuthExpired(err) {
					u.publish(ectx, Event{State: StateDelegating, Domain: sq.Domain, Message: "credential rejected"})
					return err
				}
				logging.From(ctx).Warn("specialist failed", "domain", sq.Domain, "error", err)
				u.publish(ectx, Event{State: StateDelegating, Domain: sq.Domain, Message: "failed"})
				results <- outcome{failure: &model.DomainFailure{Domain: sq.Domain, Reason: failureReason(err)}}
				return nil
			}

			u.publish(ectx, Event{State: StateDelegating, Domain: sq.Domain, Message: string(f.Status)})
			results <- outcome{finding: f}
			return nil
		})
	}

	err := eg.Wait()
	close(results)
	if err != nil {
		return nil, nil, err
	}

	var (
		findings []*model.Finding
		failures []model.DomainFailure
	)
	for r := range results {
		if r.finding != nil {
			findings = append(findings, r.finding)
		}
		if r.failure != nil {
			failures = append(failures, *r.failure)
		}
	}
	return findings, failures, nil
}

func isAuthExpired(err error) bool {
	te, ok := model.AsToolError(err)
	return ok && te.IsAuthExpired()
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "error: time budget exhausted"
	case errors.Is(err, context.Canceled):
		return "error: cancelled"
	}
	if te, ok := model.AsToolError(err); ok {
		return "error: " + string(te.Kind)
	}
	return "error: " + err.Error()
}

func resolutionStatus(agg *Aggregation, expired bool) model.ResolutionStatus {
	switch {
	case agg.Empty():
		return model.ResolutionUnresolved
	case expired || !agg.Complete():
		return model.ResolutionPartial
	default:
		return model.ResolutionResolved
	}
}

func turnSummary(res *Result) string {
	agg := res.Aggregation
	if agg.Empty() {
		if res.Strategy == model.StrategyMemoryOnly {
			return fmt.Sprintf("%d prior investigation(s) found", len(res.PriorInvestigations))
		}
		return "no findings"
	}

	parts := make([]string, 0, len(agg.Findings))
	for _, f := range agg.Findings {
		parts = append(parts, fmt.Sprintf("%s %s", f.Domain, f.Assessment))
	}
	return fmt.Sprintf("%s (%s)", res.Status, strings.Join(parts, ", "))
}
