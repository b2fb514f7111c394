package gateway

import (
	"strings"
	"unicode"

	"github.com/m-mizutani/pika/pkg/model"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// domainKeywords is checked in order; the first domain with a matching token wins.
var domainKeywords = []struct {
	domain model.Domain
	tokens []string
}{
	{model.DomainRunbooks, []string{"runbook", "runbooks", "playbook", "playbooks", "escalation", "procedure", "procedures", "remediation", "troubleshooting"}},
	{model.DomainLogs, []string{"log", "logs", "logging"}},
	{model.DomainMetrics, []string{"metric", "metrics", "cpu", "memory", "latency", "performance", "availability", "throughput", "rate", "rates", "usage"}},
	{model.DomainKubernetes, []string{"k8s", "kube", "kubernetes", "pod", "pods", "deployment", "deployments", "node", "nodes", "namespace", "namespaces", "cluster", "event", "events", "container", "containers", "replica", "replicas", "service", "services"}},
}

// InferDomain guesses the domain of a tool from its name. Gateway targets are often
// prefixed, e.g. "k8s-api___get_pod_status".
func InferDomain(name string) (model.Domain, bool) {
	tokens := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}

	for _, kw := range domainKeywords {
		for _, t := range kw.tokens {
			if _, ok := set[t]; ok {
				return kw.domain, true
			}
		}
	}
	return "", false
}

// resolveDomain picks the tool's own "_meta.domain", then the server domain, then inference
func resolveDomain(t *mcp.Tool, serverDomain string) (model.Domain, bool) {
	if v, ok := t.Meta["domain"].(string); ok {
		if d, err := model.ParseDomain(v); err == nil {
			return d, true
		}
	}
	if serverDomain != "" {
		if d, err := model.ParseDomain(serverDomain); err == nil {
			return d, true
		}
	}
	return InferDomain(t.Name)
}
