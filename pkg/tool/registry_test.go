package tool_test

import (
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/pika/pkg/model"
	"github.com/m-mizutani/pika/pkg/tool"
)

func TestRegistryFiltersByDomain(t *testing.T) {
	all := []*model.ToolDescriptor{
		{Name: "get_pod_status", Domain: model.DomainKubernetes},
		{Name: "get_error_rates", Domain: model.DomainMetrics},
		{Name: "get_cpu_metrics", Domain: model.DomainMetrics},
		{Name: "get_cpu_metrics", Domain: model.DomainMetrics},
		nil,
	}

	r := tool.NewRegistry(model.DomainMetrics, all)
	gt.Equal(t, r.Domain(), model.DomainMetrics)
	gt.Equal(t, r.Len(), 2)
	gt.Equal(t, r.Names(), []string{"get_cpu_metrics", "get_error_rates"})

	d, err := r.Get("get_error_rates")
	gt.NoError(t, err)
	gt.Equal(t, d.Name, "get_error_rates")

	_, err = r.Get("get_pod_status")
	gt.Error(t, err)
}
