package routing

import (
	"context"
	"os"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/pika/pkg/model"
	"github.com/m-mizutani/pika/pkg/utils/logging"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/topdown/print"
)

const policyQuery = "data.route.domains"

// regoPrintHook forwards Rego print() statements to the logger
type regoPrintHook struct {
	ctx context.Context
}

func (h *regoPrintHook) Print(_ print.Context, message string) error {
	logging.From(h.ctx).Debug("rego print", "message", message)
	return nil
}

// Policy routes with a Rego policy. The policy receives
//
//	{"query": <text>, "keywords": [<domains matched by the keyword table>]}
//
// and defines the set data.route.domains. When the policy yields nothing, the fallback
// router decides.
type Policy struct {
	query    *rego.PreparedEvalQuery
	fallback Router
}

// NewPolicy loads every .rego file in policyDir
func NewPolicy(ctx context.Context, policyDir string, fallback Router) (*Policy, error) {
	files, err := filepath.Glob(filepath.Join(policyDir, "*.rego"))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to glob policy files", goerr.V("dir", policyDir))
	}
	if len(files) == 0 {
		return nil, goerr.New("no routing policy found", goerr.V("dir", policyDir))
	}

	options := []func(*rego.Rego){
		rego.Query(policyQuery),
		rego.EnablePrintStatements(true),
	}
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read policy file", goerr.V("path", file))
		}
		options = append(options, rego.Module(file, string(data)))
	}

	prepared, err := rego.New(options...).PrepareForEval(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to prepare routing policy", goerr.V("dir", policyDir))
	}

	if fallback == nil {
		fallback = NewKeyword()
	}
	return &Policy{query: &prepared, fallback: fallback}, nil
}

func (p *Policy) Route(ctx context.Context, text string) ([]model.Domain, error) {
	keywords := make([]string, 0, len(model.AllDomains()))
	for _, d := range MatchKeywords(text) {
		keywords = append(keywords, string(d))
	}

	input := map[string]any{
		"query":    text,
		"keywords": keywords,
	}

	rs, err := p.query.Eval(ctx, rego.EvalInput(input), rego.EvalPrintHook(&regoPrintHook{ctx: ctx}))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to evaluate routing policy")
	}

	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return p.fallback.Route(ctx, text)
	}

	values, ok := rs[0].Expressions[0].Value.([]any)
	if !ok {
		return nil, goerr.New("invalid routing result: domains is not a set",
			goerr.V("value", rs[0].Expressions[0].Value))
	}

	seen := make(map[model.Domain]struct{}, len(values))
	domains := make([]model.Domain, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			return nil, goerr.New("invalid routing result: domain is not a string", goerr.V("value", v))
		}
		d, err := model.ParseDomain(s)
		if err != nil {
			return nil, goerr.Wrap(err, "routing policy returned unknown domain")
		}
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		domains = append(domains, d)
	}

	if len(domains) == 0 {
		return p.fallback.Route(ctx, text)
	}
	SortDomains(domains)
	logging.From(ctx).Debug("routing policy selected domains", "domains", domains)
	return domains, nil
}
