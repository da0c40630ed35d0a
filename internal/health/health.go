// Package health adapts the node-health oracle. The oracle is a
// suspending collaborator; everything downstream works on an immutable
// Table so planning never observes a mid-computation status change.
package health

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/maypok86/otter"

	"github.com/icfleet/fleetd/internal/model"
	"github.com/icfleet/fleetd/internal/principal"
)

// Oracle is the upstream health feed.
type Oracle interface {
	// Nodes returns the status of every known node. Nodes absent from the
	// result default to Unknown.
	Nodes(ctx context.Context) (map[principal.NodeID]model.Health, error)
}

// OracleFunc adapts a function to the Oracle interface.
type OracleFunc func(ctx context.Context) (map[principal.NodeID]model.Health, error)

// Nodes implements Oracle.
func (f OracleFunc) Nodes(ctx context.Context) (map[principal.NodeID]model.Health, error) {
	return f(ctx)
}

// Table is an immutable point-in-time health view.
type Table map[principal.NodeID]model.Health

// Get returns the node's status, Unknown when absent.
func (t Table) Get(id principal.NodeID) model.Health {
	if h, ok := t[id]; ok {
		return h
	}
	return model.HealthUnknown
}

// Unhealthy filters the given nodes down to those that must not serve,
// preserving input order.
func (t Table) Unhealthy(nodes []*model.Node) []*model.Node {
	var out []*model.Node
	for _, n := range nodes {
		if !t.Get(n.ID).IsHealthy() {
			out = append(out, n)
		}
	}
	return out
}

// Healthy filters the given nodes down to those fit for assignment,
// preserving input order.
func (t Table) Healthy(nodes []*model.Node) []*model.Node {
	var out []*model.Node
	for _, n := range nodes {
		if t.Get(n.ID).IsHealthy() {
			out = append(out, n)
		}
	}
	return out
}

const adapterCacheCapacity = 8192

// Adapter caches oracle responses per node with a TTL so repeated
// planning calls inside one run do not refetch.
type Adapter struct {
	oracle Oracle
	ttl    time.Duration
	cache  otter.CacheWithVariableTTL[principal.NodeID, model.Health]

	mu          sync.Mutex
	lastFetched time.Time
}

// NewAdapter creates an Adapter with the given cache TTL.
func NewAdapter(oracle Oracle, ttl time.Duration) *Adapter {
	cache, err := otter.MustBuilder[principal.NodeID, model.Health](adapterCacheCapacity).
		Cost(func(_ principal.NodeID, _ model.Health) uint32 { return 1 }).
		WithVariableTTL().
		Build()
	if err != nil {
		panic("health: failed to create status cache: " + err.Error())
	}
	return &Adapter{oracle: oracle, ttl: ttl, cache: cache}
}

// Fetch returns a fresh immutable Table, filling the per-node cache.
func (a *Adapter) Fetch(ctx context.Context) (Table, error) {
	statuses, err := a.oracle.Nodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("health: fetch: %w", err)
	}
	table := make(Table, len(statuses))
	for id, h := range statuses {
		table[id] = h
		a.cache.Set(id, h, a.ttl)
	}
	a.mu.Lock()
	a.lastFetched = time.Now()
	a.mu.Unlock()
	log.Printf("[health] fetched %d node statuses", len(table))
	return table, nil
}

// Status returns one node's cached status, falling back to a full fetch
// on a cache miss. Missing entries report Unknown.
func (a *Adapter) Status(ctx context.Context, id principal.NodeID) (model.Health, error) {
	if h, ok := a.cache.Get(id); ok {
		return h, nil
	}
	table, err := a.Fetch(ctx)
	if err != nil {
		return model.HealthUnknown, err
	}
	return table.Get(id), nil
}

// LastFetched reports when the adapter last hit the oracle.
func (a *Adapter) LastFetched() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastFetched
}
