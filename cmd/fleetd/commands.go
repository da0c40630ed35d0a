package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/icfleet/fleetd/internal/config"
	"github.com/icfleet/fleetd/internal/geo"
	"github.com/icfleet/fleetd/internal/health"
	"github.com/icfleet/fleetd/internal/registry"
)

// cliContext bundles what the offline decision commands need: the
// projection restored from the local store plus the configured
// collaborators.
type cliContext struct {
	env        *config.EnvConfig
	runtime    *config.RuntimeConfig
	projection *registry.Projection
	store      *registry.Store
	enricher   *geo.Enricher
}

func (c *cliContext) Close() {
	if c.enricher != nil {
		c.enricher.Close()
	}
	if c.store != nil {
		c.store.Close()
	}
}

// loadCLIContext restores the projection from the delta log, syncing
// from the registry endpoint first when one is configured.
func loadCLIContext(ctx context.Context) (*cliContext, error) {
	envCfg, err := config.LoadEnvConfig()
	if err != nil {
		return nil, err
	}
	runtimeCfg, err := config.LoadRuntimeConfig(envCfg.RuntimeConfigPath)
	if err != nil {
		return nil, err
	}

	store, err := registry.OpenStore(envCfg.StateDir)
	if err != nil {
		return nil, err
	}
	out := &cliContext{env: envCfg, runtime: runtimeCfg, store: store}

	if envCfg.GeoDBPath != "" {
		reader, err := geo.Open(envCfg.GeoDBPath)
		if err != nil {
			store.Close()
			return nil, err
		}
		out.enricher = geo.NewEnricher(reader)
	}

	var source registry.Source
	if envCfg.RegistryEndpoint != "" {
		source = newHTTPDeltaSource(envCfg.RegistryEndpoint, runtimeCfg.OracleTimeout.Std())
	} else {
		source = registry.SourceFunc(func(context.Context, uint64) ([]registry.Delta, error) {
			return nil, nil
		})
	}
	out.projection = registry.NewProjection(registry.ProjectionConfig{
		Source:   source,
		Enricher: out.enricher,
		Store:    store,
	})
	if err := out.projection.Restore(); err != nil {
		out.Close()
		return nil, err
	}
	if envCfg.RegistryEndpoint != "" {
		if _, err := out.projection.SyncLatest(ctx); err != nil {
			out.Close()
			return nil, err
		}
	}
	if out.projection.Version() == 0 {
		out.Close()
		return nil, errors.New("empty registry projection: set FLEETD_REGISTRY_ENDPOINT or run serve first")
	}
	return out, nil
}

// fetchHealth returns the health table, empty when no oracle endpoint is
// configured (every node then counts as unknown).
func (c *cliContext) fetchHealth(ctx context.Context) (health.Table, error) {
	if c.env.HealthEndpoint == "" {
		return health.Table{}, nil
	}
	adapter := health.NewAdapter(newHTTPHealthOracle(c.env.HealthEndpoint, c.runtime.OracleTimeout.Std()), c.env.HealthCacheTTL)
	return adapter.Fetch(ctx)
}

// printJSON renders a command result to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
