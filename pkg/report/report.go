package report

import (
	"bytes"
	"embed"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/pika/pkg/model"
)

//go:embed templates/*.md
var templateFS embed.FS

// CompletionMarker is the last line of every report
const CompletionMarker = "**Investigation complete.**"

var (
	executiveTmpl = mustParse("executive.md")
	technicalTmpl = mustParse("technical.md")
)

func mustParse(name string) *template.Template {
	return template.Must(template.New(name).Funcs(funcMap).ParseFS(templateFS, "templates/header.md", "templates/"+name))
}

var funcMap = template.FuncMap{
	"citation":   FormatCitation,
	"firstLine":  firstLine,
	"domainList": domainList,
	"timestamp": func(t time.Time) string {
		return t.UTC().Format("2006-01-02 15:04:05 UTC")
	},
	"date": func(t time.Time) string {
		return t.UTC().Format("2006-01-02")
	},
	"marker": func() string { return CompletionMarker },
}

// Input is everything a report is rendered from. Synthesize is a pure function of it.
type Input struct {
	Query             string
	ActorID           model.ActorID
	Strategy          model.Strategy
	Style             model.ReportStyle
	EscalationChannel string
	Status            model.ResolutionStatus
	IncidentID        model.IncidentID

	// Findings are expected in domain order, as produced by aggregation
	Findings []*model.Finding
	Conflict *model.Conflict
	Failures []model.DomainFailure

	PriorInvestigations []*model.InvestigationSummary
	Knowledge           []*model.InfrastructureKnowledge
	MemoryNotes         []string

	GeneratedAt time.Time
}

type recommendations struct {
	Immediate []string
	ShortTerm []string
	LongTerm  []string
}

type view struct {
	*Input
	Domains         []model.Domain
	Summary         string
	Severity        string
	Channel         string
	Recommendations recommendations
	Timeline        []string
}

// Synthesize renders the report. The same Input always yields the same report.
func Synthesize(in *Input) (*model.Report, error) {
	if in == nil || strings.TrimSpace(in.Query) == "" {
		return nil, goerr.New("report input requires a query")
	}

	v := &view{
		Input:    in,
		Domains:  reportDomains(in),
		Summary:  summarize(in),
		Severity: severity(in),
		Channel:  in.EscalationChannel,
	}
	if v.Channel == "" {
		v.Channel = "not configured"
	}
	v.Recommendations = recommend(in)
	v.Timeline = timeline(in, v.Severity, v.Channel)

	tmpl := technicalTmpl
	style := model.ReportStyleTechnical
	if in.Style == model.ReportStyleExecutive {
		tmpl = executiveTmpl
		style = model.ReportStyleExecutive
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, v); err != nil {
		return nil, goerr.Wrap(err, "failed to render report", goerr.V("style", style))
	}

	return &model.Report{
		Name:      Name(in.GeneratedAt, in.Query),
		Style:     style,
		Markdown:  tidy(buf.String()),
		CreatedAt: in.GeneratedAt,
	}, nil
}

var (
	slugInvalid = regexp.MustCompile(`[^a-z0-9]+`)
	blankLines  = regexp.MustCompile(`\n{3,}`)
)

const maxSlugLength = 48

// Name returns the report file name: investigation_<YYYYMMDD_HHMMSS>_<query-slug>.md
func Name(at time.Time, query string) string {
	return fmt.Sprintf("investigation_%s_%s.md", at.UTC().Format("20060102_150405"), Slug(query))
}

// Slug converts a query into a lower-case, underscore separated file name part
func Slug(query string) string {
	s := strings.Trim(slugInvalid.ReplaceAllString(strings.ToLower(query), "_"), "_")
	if len(s) > maxSlugLength {
		s = strings.TrimRight(s[:maxSlugLength], "_")
	}
	if s == "" {
		return "query"
	}
	return s
}

// FormatCitation renders a citation as "`tool`: fact"
func FormatCitation(c model.Citation) string {
	return fmt.Sprintf("`%s`: %s", c.Tool, c.Fact)
}

func tidy(s string) string {
	return strings.TrimSpace(blankLines.ReplaceAllString(s, "\n\n")) + "\n"
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return "no narrative"
}

func domainList(domains []model.Domain) string {
	if len(domains) == 0 {
		return "none"
	}
	titles := make([]string, len(domains))
	for i, d := range domains {
		titles[i] = d.Title()
	}
	return strings.Join(titles, ", ")
}

func reportDomains(in *Input) []model.Domain {
	seen := map[model.Domain]struct{}{}
	var out []model.Domain
	add := func(d model.Domain) {
		if _, ok := seen[d]; !ok {
			seen[d] = struct{}{}
			out = append(out, d)
		}
	}
	for _, f := range in.Findings {
		add(f.Domain)
	}
	for _, f := range in.Failures {
		add(f.Domain)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rank() < out[j].Rank() })
	return out
}

func degradedDomains(in *Input) []model.Domain {
	var out []model.Domain
	for _, f := range in.Findings {
		if f.Assessment == model.AssessmentDegraded {
			out = append(out, f.Domain)
		}
	}
	return out
}

func summarize(in *Input) string {
	if len(in.Findings) == 0 {
		if in.Strategy == model.StrategyMemoryOnly {
			if len(in.PriorInvestigations) == 0 {
				return "No prior investigation found for this question. There are no past investigations on record."
			}
			return fmt.Sprintf("Found %d prior investigation(s) related to this question. The most recent one, on %s, was %s.",
				len(in.PriorInvestigations),
				in.PriorInvestigations[0].CreatedAt.UTC().Format("2006-01-02"),
				in.PriorInvestigations[0].Status)
		}
		return "No data: none of the specialists returned a finding. See the data gaps below."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d domain(s) investigated (%s).", len(in.Findings), domainList(findingDomains(in)))

	if degraded := degradedDomains(in); len(degraded) > 0 {
		fmt.Fprintf(&b, " Degradation reported by %s.", domainList(degraded))
	} else {
		b.WriteString(" No specialist reported a degradation.")
	}
	if in.Conflict != nil {
		b.WriteString(" Specialists disagree about system health; both views are listed.")
	}
	if len(in.Failures) > 0 {
		fmt.Fprintf(&b, " %d data gap(s) limit confidence.", len(in.Failures))
	}
	if len(in.PriorInvestigations) > 0 {
		fmt.Fprintf(&b, " %d related past investigation(s) found.", len(in.PriorInvestigations))
	}
	fmt.Fprintf(&b, " Overall status: %s.", in.Status)
	return b.String()
}

func findingDomains(in *Input) []model.Domain {
	out := make([]model.Domain, len(in.Findings))
	for i, f := range in.Findings {
		out[i] = f.Domain
	}
	return out
}

func severity(in *Input) string {
	switch {
	case len(in.Findings) == 0 && in.Strategy == model.StrategyMemoryOnly:
		return "informational"
	case len(degradedDomains(in)) > 0:
		return "high"
	case len(in.Failures) > 0 || len(in.Findings) == 0:
		return "medium"
	default:
		for _, f := range in.Findings {
			if f.Assessment != model.AssessmentHealthy {
				return "medium"
			}
		}
		return "low"
	}
}

func recommend(in *Input) recommendations {
	var r recommendations

	for _, f := range in.Findings {
		if f.Assessment == model.AssessmentDegraded {
			r.Immediate = append(r.Immediate, fmt.Sprintf("Mitigate the %s degradation: %s", f.Domain.Title(), firstLine(f.Narrative)))
		}
		if f.Domain == model.DomainRunbooks && f.Status == model.FindingComplete {
			r.Immediate = append(r.Immediate, "Apply the runbook procedure summarized under Runbooks")
		}
	}
	for _, f := range in.Failures {
		r.Immediate = append(r.Immediate, fmt.Sprintf("Restore %s data access (%s)", f.Domain.Title(), f.Reason))
	}
	if len(r.Immediate) == 0 {
		r.Immediate = append(r.Immediate, "No immediate action required; keep monitoring")
	}

	for _, f := range in.Findings {
		if f.Incomplete() {
			r.ShortTerm = append(r.ShortTerm, fmt.Sprintf("Finish the %s investigation; it stopped before a final answer", f.Domain.Title()))
		}
	}
	if in.Conflict != nil {
		r.ShortTerm = append(r.ShortTerm, "Reconcile the conflicting health signals between specialists")
	}
	r.ShortTerm = append(r.ShortTerm, fmt.Sprintf("Re-run the investigation to confirm recovery: %q", in.Query))

	for _, f := range in.Findings {
		for _, fact := range f.Learned {
			r.LongTerm = append(r.LongTerm, "Document in the service catalog: "+fact)
		}
	}
	r.LongTerm = append(r.LongTerm, "Record the root cause and add alerting for the signals cited above")

	return r
}

func timeline(in *Input, severity, channel string) []string {
	if severity == "informational" {
		return []string{"No escalation needed: this is a historical lookup"}
	}

	out := []string{fmt.Sprintf("Now: share this report in %s", channel)}
	if severity == "high" {
		out = append(out, "Within 15 minutes: page the owning team if the degradation persists")
	}
	if len(in.Failures) > 0 {
		out = append(out, "Within 30 minutes: restore access to the missing data sources")
	}
	out = append(out, "Within 1 hour: review progress and confirm recovery")
	return out
}
