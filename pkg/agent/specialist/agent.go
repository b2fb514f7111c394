package specialist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/pika/pkg/metrics"
	"github.com/m-mizutani/pika/pkg/model"
	"github.com/m-mizutani/pika/pkg/oracle"
	"github.com/m-mizutani/pika/pkg/tool"
	"github.com/m-mizutani/pika/pkg/tracing"
	"github.com/m-mizutani/pika/pkg/utils/logging"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultMaxToolCalls = 8
	DefaultTimeout      = 2 * time.Minute

	// maxFactLength bounds facts cited automatically from tool results
	maxFactLength = 200
)

// ErrAuthExpired is returned when the gateway rejected the credential. The returned
// error also wraps the *model.ToolError.
var ErrAuthExpired = goerr.New("tool credential expired")

// Agent answers sub-questions of one domain with the tools tagged for that domain
type Agent struct {
	domain       model.Domain
	gateway      tool.Gateway
	oracle       oracle.Oracle
	maxToolCalls int
	timeout      time.Duration
	metrics      *metrics.Metrics
}

// Option is a functional option for Agent
type Option func(*Agent)

// WithMaxToolCalls sets the tool-call budget of one investigation
func WithMaxToolCalls(n int) Option {
	return func(a *Agent) {
		a.maxToolCalls = n
	}
}

// WithTimeout sets the wall-clock budget of one investigation
func WithTimeout(d time.Duration) Option {
	return func(a *Agent) {
		a.timeout = d
	}
}

// WithMetrics records agent runs and tool calls
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Agent) {
		a.metrics = m
	}
}

// New creates an agent for domain
func New(domain model.Domain, gateway tool.Gateway, o oracle.Oracle, opts ...Option) (*Agent, error) {
	if err := domain.Validate(); err != nil {
		return nil, err
	}
	if gateway == nil || o == nil {
		return nil, goerr.New("gateway and oracle are required", goerr.V("domain", domain))
	}

	a := &Agent{
		domain:       domain,
		gateway:      gateway,
		oracle:       o,
		maxToolCalls: DefaultMaxToolCalls,
		timeout:      DefaultTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.maxToolCalls <= 0 {
		return nil, goerr.New("tool-call budget must be positive", goerr.V("max_tool_calls", a.maxToolCalls))
	}
	return a, nil
}

// Domain returns the domain the agent is restricted to
func (a *Agent) Domain() model.Domain {
	return a.domain
}

// MaxToolCalls returns the tool-call budget
func (a *Agent) MaxToolCalls() int {
	return a.maxToolCalls
}

// Investigate runs the bounded reasoning loop for one sub-question. It returns a
// Finding (possibly incomplete) unless the caller cancelled ctx or the credential
// expired; in those cases the partial Finding is discarded.
func (a *Agent) Investigate(ctx context.Context, sq model.SubQuestion) (*model.Finding, error) {
	if sq.Domain != a.domain {
		return nil, goerr.New("sub-question is for another domain",
			goerr.V("agent", a.domain),
			goerr.V("sub_question", sq.Domain))
	}

	ctx, span := tracing.Tracer().Start(ctx, "specialist.investigate",
		trace.WithAttributes(attribute.String("pika.domain", string(a.domain))))
	defer span.End()

	logger := logging.From(ctx).With("domain", a.domain)
	ctx = logging.With(ctx, logger)

	r := &run{
		agent:   a,
		started: time.Now(),
		finding: &model.Finding{
			Domain:      a.domain,
			SubQuestion: sq.Text,
			Assessment:  model.AssessmentUnknown,
			Status:      model.FindingIncomplete,
		},
	}

	finding, err := r.loop(ctx, sq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.metrics.ObserveAgent(string(a.domain), "aborted", time.Since(r.started))
		return nil, err
	}

	finding.Duration = time.Since(r.started)
	span.SetAttributes(
		attribute.String("pika.finding.status", string(finding.Status)),
		attribute.Int("pika.finding.tool_calls", finding.ToolCalls),
	)
	a.metrics.ObserveAgent(string(a.domain), string(finding.Status), finding.Duration)
	logger.Info("specialist finished",
		"status", finding.Status,
		"tool_calls", finding.ToolCalls,
		"citations", len(finding.Citations),
		"gaps", len(finding.Gaps))
	return finding, nil
}

// run holds the mutable state of one Investigate call
type run struct {
	agent     *Agent
	started   time.Time
	finding   *model.Finding
	evidence  []oracle.Evidence
	citations []model.Citation
}

func (r *run) loop(parent context.Context, sq model.SubQuestion) (*model.Finding, error) {
	a := r.agent
	ctx, cancel := context.WithTimeout(parent, a.timeout)
	defer cancel()

	all, err := a.gateway.ListTools(ctx)
	if err != nil {
		if aborted := r.abortErr(parent, err); aborted != nil {
			return nil, aborted
		}
		return r.incomplete(fmt.Sprintf("tool catalog unavailable: %s", describeToolError(err))), nil
	}

	registry := tool.NewRegistry(a.domain, all)
	if registry.Len() == 0 {
		return r.incomplete("no tools available for this domain"), nil
	}

	system, err := buildSystemPrompt(promptData{
		Domain:       a.domain,
		Tools:        registry.Descriptors(),
		MaxToolCalls: a.maxToolCalls,
	})
	if err != nil {
		return nil, err
	}

	for {
		// cooperative cancellation point between tool calls
		if errors.Is(parent.Err(), context.Canceled) {
			return nil, goerr.Wrap(parent.Err(), "investigation cancelled", goerr.V("domain", a.domain))
		}
		if ctx.Err() != nil {
			return r.incomplete("time budget exhausted before a final answer"), nil
		}

		remaining := a.maxToolCalls - r.finding.ToolCalls
		if remaining <= 0 {
			return r.incomplete(fmt.Sprintf("tool-call budget of %d exhausted before a final answer", a.maxToolCalls)), nil
		}

		action, err := a.oracle.Decide(ctx, &oracle.Request{
			Domain:       a.domain,
			SystemPrompt: system,
			Question:     sq.Text,
			Tools:        registry.Descriptors(),
			Evidence:     append([]oracle.Evidence(nil), r.evidence...),
			Remaining:    remaining,
		})
		if err != nil {
			if errors.Is(parent.Err(), context.Canceled) {
				return nil, goerr.Wrap(parent.Err(), "investigation cancelled", goerr.V("domain", a.domain))
			}
			logging.From(ctx).Warn("reasoning failed", "error", err)
			return r.incomplete(fmt.Sprintf("reasoning failed: %s", oracleReason(err))), nil
		}

		switch act := action.(type) {
		case oracle.FinalAnswer:
			return r.complete(act), nil

		case oracle.CallTool:
			if err := r.callTool(ctx, parent, registry, act); err != nil {
				return nil, err
			}

		default:
			return r.incomplete(fmt.Sprintf("reasoning failed: unexpected action %T", action)), nil
		}
	}
}

func (r *run) callTool(ctx, parent context.Context, registry *tool.Registry, call oracle.CallTool) error {
	a := r.agent
	r.finding.ToolCalls++
	logger := logging.From(ctx)

	if _, err := registry.Get(call.Name); err != nil {
		msg := fmt.Sprintf("%s: tool %q is not available for the %s domain", model.ToolErrorNotFound, call.Name, a.domain)
		r.evidence = append(r.evidence, oracle.Evidence{Tool: call.Name, Args: call.Args, Error: msg})
		r.addGap(fmt.Sprintf("%s unavailable: %s", call.Name, model.ToolErrorNotFound))
		a.metrics.ObserveToolCall(string(a.domain), string(model.ToolErrorNotFound))
		logger.Warn("rejected tool outside domain", "tool", call.Name)
		return nil
	}

	ctx, span := tracing.Tracer().Start(ctx, "tool.invoke",
		trace.WithAttributes(attribute.String("pika.tool", call.Name)))
	result, err := a.gateway.InvokeTool(ctx, call.Name, call.Args)
	span.End()

	if err != nil {
		if aborted := r.abortErr(parent, err); aborted != nil {
			return aborted
		}
		kind := string(model.ToolErrorBackend)
		if te, ok := model.AsToolError(err); ok {
			kind = string(te.Kind)
		}
		a.metrics.ObserveToolCall(string(a.domain), kind)
		logger.Warn("tool call failed", "tool", call.Name, "error", err)

		r.evidence = append(r.evidence, oracle.Evidence{Tool: call.Name, Args: call.Args, Error: describeToolError(err)})
		r.addGap(fmt.Sprintf("%s unavailable: %s", call.Name, describeToolError(err)))
		return nil
	}

	a.metrics.ObserveToolCall(string(a.domain), "ok")
	logger.Debug("tool call succeeded", "tool", call.Name, "bytes", len(result.Content))
	r.evidence = append(r.evidence, oracle.Evidence{Tool: call.Name, Args: call.Args, Result: result.Content})
	if fact := firstFact(result.Content); fact != "" {
		r.citations = append(r.citations, model.Citation{Tool: call.Name, Fact: fact})
	}
	return nil
}

// abortErr returns the error that must end the investigation without a Finding, or nil
// when err is an ordinary failure to be recorded as a gap
func (r *run) abortErr(parent context.Context, err error) error {
	if te, ok := model.AsToolError(err); ok && te.IsAuthExpired() {
		return goerr.Wrap(errors.Join(ErrAuthExpired, te), "credential rejected by tool gateway",
			goerr.V("domain", r.agent.domain),
			goerr.V("tool", te.Tool))
	}
	if errors.Is(parent.Err(), context.Canceled) {
		return goerr.Wrap(parent.Err(), "investigation cancelled", goerr.V("domain", r.agent.domain))
	}
	return nil
}

func (r *run) complete(answer oracle.FinalAnswer) *model.Finding {
	f := r.finding
	f.Status = model.FindingComplete
	f.Narrative = answer.Text
	f.Assessment = answer.Assessment
	if f.Assessment == "" {
		f.Assessment = model.AssessmentUnknown
	}
	f.Learned = append([]string(nil), answer.Learned...)
	f.Citations = dedupCitations(append(append([]model.Citation(nil), answer.Citations...), r.citations...))
	return f
}

func (r *run) incomplete(reason string) *model.Finding {
	f := r.finding
	f.Status = model.FindingIncomplete
	r.addGap(reason)

	var b strings.Builder
	fmt.Fprintf(&b, "Investigation stopped before a final answer: %s.", reason)
	succeeded := 0
	for _, ev := range r.evidence {
		if !ev.Failed() {
			succeeded++
		}
	}
	if succeeded > 0 {
		fmt.Fprintf(&b, " %d tool result(s) were gathered and are cited as evidence.", succeeded)
	}
	f.Narrative = b.String()
	f.Citations = dedupCitations(r.citations)
	return f
}

func (r *run) addGap(gap string) {
	for _, g := range r.finding.Gaps {
		if g == gap {
			return
		}
	}
	r.finding.Gaps = append(r.finding.Gaps, gap)
}

func describeToolError(err error) string {
	te, ok := model.AsToolError(err)
	if !ok {
		return err.Error()
	}
	if te.Message == "" {
		return string(te.Kind)
	}
	return fmt.Sprintf("%s (%s)", te.Kind, te.Message)
}

func oracleReason(err error) string {
	if errors.Is(err, oracle.ErrMalformedAction) {
		return "malformed action"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "time budget exhausted"
	}
	return "oracle error"
}

// firstFact returns the first non-empty line of content, cut to maxFactLength runes
func firstFact(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if utf8.RuneCountInString(line) > maxFactLength {
			runes := []rune(line)
			line = strings.TrimSpace(string(runes[:maxFactLength])) + "..."
		}
		return line
	}
	return ""
}

func dedupCitations(in []model.Citation) []model.Citation {
	seen := make(map[model.Citation]struct{}, len(in))
	out := make([]model.Citation, 0, len(in))
	for _, c := range in {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
