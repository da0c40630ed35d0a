package health

import (
	"context"
	"testing"
	"time"

	"github.com/icfleet/fleetd/internal/model"
	"github.com/icfleet/fleetd/internal/principal"
)

func TestTableDefaultsToUnknown(t *testing.T) {
	table := Table{principal.NodeIDFromUint64(1): model.HealthHealthy}
	if got := table.Get(principal.NodeIDFromUint64(2)); got != model.HealthUnknown {
		t.Fatalf("missing node status = %v, want unknown", got)
	}
}

func TestTableFilters(t *testing.T) {
	nodes := []*model.Node{
		{ID: principal.NodeIDFromUint64(1)},
		{ID: principal.NodeIDFromUint64(2)},
		{ID: principal.NodeIDFromUint64(3)},
	}
	table := Table{
		principal.NodeIDFromUint64(1): model.HealthHealthy,
		principal.NodeIDFromUint64(2): model.HealthDead,
		// node 3 absent -> unknown -> unhealthy
	}
	healthy := table.Healthy(nodes)
	if len(healthy) != 1 || healthy[0].ID != nodes[0].ID {
		t.Fatalf("healthy = %v, want only node 1", healthy)
	}
	unhealthy := table.Unhealthy(nodes)
	if len(unhealthy) != 2 {
		t.Fatalf("unhealthy = %d nodes, want 2", len(unhealthy))
	}
}

func TestAdapterCachesStatuses(t *testing.T) {
	calls := 0
	oracle := OracleFunc(func(context.Context) (map[principal.NodeID]model.Health, error) {
		calls++
		return map[principal.NodeID]model.Health{
			principal.NodeIDFromUint64(1): model.HealthDegraded,
		}, nil
	})
	a := NewAdapter(oracle, time.Minute)

	h, err := a.Status(context.Background(), principal.NodeIDFromUint64(1))
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if h != model.HealthDegraded {
		t.Fatalf("status = %v, want degraded", h)
	}
	if calls != 1 {
		t.Fatalf("oracle calls = %d, want 1", calls)
	}

	// Cached: no second oracle hit.
	if _, err := a.Status(context.Background(), principal.NodeIDFromUint64(1)); err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if calls != 1 {
		t.Fatalf("oracle calls after cached read = %d, want 1", calls)
	}

	// Unknown node misses the cache and triggers a refetch.
	h, err = a.Status(context.Background(), principal.NodeIDFromUint64(9))
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if h != model.HealthUnknown {
		t.Fatalf("status = %v, want unknown", h)
	}
	if calls != 2 {
		t.Fatalf("oracle calls = %d, want 2", calls)
	}
}
