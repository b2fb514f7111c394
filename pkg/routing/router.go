package routing

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/m-mizutani/pika/pkg/model"
)

// Router selects the specialist domains relevant to a query
type Router interface {
	Route(ctx context.Context, text string) ([]model.Domain, error)
}

// keywordTable maps each domain to words and phrases that implicate it. Single words
// match whole tokens (and their plural); phrases match as substrings.
var keywordTable = map[model.Domain][]string{
	model.DomainKubernetes: {
		"pod", "k8s", "kubernetes", "deployment", "node", "container", "crash", "crashloop",
		"crashloopbackoff", "oom", "oomkilled", "restart", "restarting", "namespace", "replica",
		"cluster", "image", "rollout", "statefulset", "daemonset", "evicted", "pending",
	},
	model.DomainLogs: {
		"log", "logging", "error", "exception", "stack trace", "failing", "failure", "fail",
		"5xx", "500", "502", "503", "crash", "degraded", "slow", "timeout", "refused", "panic",
	},
	model.DomainMetrics: {
		"metric", "latency", "response time", "cpu", "memory", "throughput", "error rate",
		"p95", "p99", "degraded", "slow", "spike", "spiking", "performance", "utilization",
		"saturation", "traffic", "qps", "rps",
	},
	model.DomainRunbooks: {
		"runbook", "playbook", "remediation", "remediate", "mitigate", "mitigation",
		"procedure", "escalate", "escalation", "how do i", "how to", "steps to", "fix",
	},
}

// fallbackDomains are used when no keyword matches; runbooks are only consulted when
// the query asks for procedures
var fallbackDomains = []model.Domain{model.DomainKubernetes, model.DomainLogs, model.DomainMetrics}

// Keyword routes by the keyword table
type Keyword struct{}

// NewKeyword creates a keyword router
func NewKeyword() *Keyword {
	return &Keyword{}
}

func (k *Keyword) Route(ctx context.Context, text string) ([]model.Domain, error) {
	domains := MatchKeywords(text)
	if len(domains) == 0 {
		return append([]model.Domain(nil), fallbackDomains...), nil
	}
	return domains, nil
}

// MatchKeywords returns the domains whose keywords appear in text, in canonical order.
// It returns nil when nothing matches.
func MatchKeywords(text string) []model.Domain {
	lower := strings.ToLower(text)
	tokens := tokenSet(lower)

	var matched []model.Domain
	for domain, keywords := range keywordTable {
		for _, kw := range keywords {
			if matchKeyword(lower, tokens, kw) {
				matched = append(matched, domain)
				break
			}
		}
	}
	SortDomains(matched)
	return matched
}

// SortDomains sorts domains in canonical order
func SortDomains(domains []model.Domain) {
	sort.Slice(domains, func(i, j int) bool {
		return domains[i].Rank() < domains[j].Rank()
	})
}

func matchKeyword(lower string, tokens map[string]struct{}, kw string) bool {
	if strings.Contains(kw, " ") {
		return strings.Contains(lower, kw)
	}
	if _, ok := tokens[kw]; ok {
		return true
	}
	if _, ok := tokens[kw+"s"]; ok {
		return true
	}
	_, ok := tokens[kw+"es"]
	return ok
}

func tokenSet(lower string) map[string]struct{} {
	fields := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})

	set := make(map[string]struct{}, len(fields)*2)
	for _, f := range fields {
		set[f] = struct{}{}
		if strings.Contains(f, "-") {
			for _, part := range strings.Split(f, "-") {
				if part != "" {
					set[part] = struct{}{}
				}
			}
		}
	}
	return set
}
