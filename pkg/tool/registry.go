package tool

import (
	"sort"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/pika/pkg/model"
)

var errToolNotFound = goerr.New("tool not found")

// Registry is the closed set of tools one domain may call
type Registry struct {
	domain model.Domain
	tools  map[string]*model.ToolDescriptor
	sorted []*model.ToolDescriptor
}

// NewRegistry keeps only the tools tagged with domain
func NewRegistry(domain model.Domain, all []*model.ToolDescriptor) *Registry {
	r := &Registry{
		domain: domain,
		tools:  make(map[string]*model.ToolDescriptor),
	}

	for _, t := range all {
		if t == nil || t.Domain != domain {
			continue
		}
		if _, dup := r.tools[t.Name]; dup {
			continue
		}
		r.tools[t.Name] = t
		r.sorted = append(r.sorted, t)
	}

	sort.Slice(r.sorted, func(i, j int) bool {
		return r.sorted[i].Name < r.sorted[j].Name
	})
	return r
}

// Domain returns the domain of the registry
func (r *Registry) Domain() model.Domain {
	return r.domain
}

// Get returns the descriptor of a tool in this domain
func (r *Registry) Get(name string) (*model.ToolDescriptor, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, goerr.Wrap(errToolNotFound, "tool is not available in this domain",
			goerr.V("name", name),
			goerr.V("domain", r.domain))
	}
	return t, nil
}

// Descriptors returns the tools sorted by name
func (r *Registry) Descriptors() []*model.ToolDescriptor {
	return append([]*model.ToolDescriptor(nil), r.sorted...)
}

// Names returns the tool names sorted
func (r *Registry) Names() []string {
	names := make([]string, len(r.sorted))
	for i, t := range r.sorted {
		names[i] = t.Name
	}
	return names
}

// Len returns the number of tools
func (r *Registry) Len() int {
	return len(r.sorted)
}
