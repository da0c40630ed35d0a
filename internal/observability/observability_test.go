package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RegistryVersion.Set(42)
	m.RegistrySyncs.WithLabelValues("ok").Inc()
	m.MembershipSwaps.Add(3)

	if got := testutil.ToFloat64(m.RegistryVersion); got != 42 {
		t.Fatalf("registry version gauge = %v, want 42", got)
	}
	if got := testutil.ToFloat64(m.MembershipSwaps); got != 3 {
		t.Fatalf("membership changes counter = %v, want 3", got)
	}
}

func TestObserveHealthResetsGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveHealth(map[string]int{"healthy": 10, "dead": 1})
	if got := testutil.ToFloat64(m.HealthStatuses.WithLabelValues("dead")); got != 1 {
		t.Fatalf("dead gauge = %v, want 1", got)
	}

	m.ObserveHealth(map[string]int{"healthy": 11})
	if got := testutil.ToFloat64(m.HealthStatuses.WithLabelValues("dead")); got != 0 {
		t.Fatalf("dead gauge after reset = %v, want 0", got)
	}
}
