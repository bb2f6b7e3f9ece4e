package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNew_RegistersAllMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.QueueDepth.Set(3)
	m.ActiveWorkers.Set(2)
	m.TasksCompletedTotal.Inc()
	m.AgentInvocations.WithLabelValues("transient").Inc()

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	if len(families) == 0 {
		t.Fatal("expected registered metric families")
	}

	var found bool
	for _, f := range families {
		if f.GetName() == "ralph_queue_depth" {
			found = true
			if got := f.Metric[0].GetGauge().GetValue(); got != 3 {
				t.Errorf("expected queue depth 3, got %v", got)
			}
		}
	}
	if !found {
		t.Fatal("ralph_queue_depth not registered")
	}
}

func TestAgentInvocations_LabeledByCategory(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.AgentInvocations.WithLabelValues("rate_limited").Inc()
	m.AgentInvocations.WithLabelValues("rate_limited").Inc()
	m.AgentInvocations.WithLabelValues("permanent").Inc()

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range families {
		if f.GetName() != "ralph_agent_invocations_total" {
			continue
		}
		var total float64
		for _, metric := range f.Metric {
			total += metric.GetCounter().GetValue()
		}
		if total != 3 {
			t.Errorf("expected 3 total invocations, got %v", total)
		}
	}
}
