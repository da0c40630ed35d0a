package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/icfleet/fleetd/internal/api"
	"github.com/icfleet/fleetd/internal/config"
	"github.com/icfleet/fleetd/internal/geo"
	"github.com/icfleet/fleetd/internal/health"
	"github.com/icfleet/fleetd/internal/observability"
	"github.com/icfleet/fleetd/internal/proposal"
	"github.com/icfleet/fleetd/internal/registry"
	"github.com/icfleet/fleetd/internal/rollout"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the fleetd daemon: registry sync, health refresh and the read-only API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// rolloutProvider builds the current rollout plan on demand for the API.
type rolloutProvider struct {
	projection *registry.Projection
	agent      proposal.Agent
	feed       rollout.StatusFeed
}

func (r *rolloutProvider) CurrentPlan(ctx context.Context) (*rollout.Plan, error) {
	snap, err := r.projection.Latest()
	if err != nil {
		return nil, err
	}
	graph, err := rollout.NewGraph(snap.ElectedReplicaVersions())
	if err != nil {
		return nil, err
	}
	var updates []proposal.SubnetUpdate
	if r.agent != nil {
		infos, err := r.agent.List(ctx, proposal.Filter{
			Topics: []proposal.Topic{proposal.TopicIcOsVersionDeployment},
		})
		if err != nil {
			return nil, err
		}
		updates = proposal.SubnetUpdates(infos)
	}
	builder := &rollout.Builder{
		Subnets: snap.Subnets(),
		Graph:   graph,
		Feed:    r.feed,
	}
	return builder.Plan(ctx, updates)
}

func runServe(cmd *cobra.Command, _ []string) error {
	envCfg, err := config.LoadEnvConfig()
	if err != nil {
		return err
	}
	if envCfg.RegistryEndpoint == "" {
		return errors.New("serve requires FLEETD_REGISTRY_ENDPOINT")
	}

	runtimeCfg, err := config.LoadRuntimeConfig(envCfg.RuntimeConfigPath)
	if err != nil {
		return err
	}
	oracleTimeout := runtimeCfg.OracleTimeout.Std()

	store, err := registry.OpenStore(envCfg.StateDir)
	if err != nil {
		return fmt.Errorf("open registry store: %w", err)
	}
	defer store.Close()

	var enricher *geo.Enricher
	if envCfg.GeoDBPath != "" {
		reader, err := geo.Open(envCfg.GeoDBPath)
		if err != nil {
			return err
		}
		enricher = geo.NewEnricher(reader)
		defer enricher.Close()
	}

	projection := registry.NewProjection(registry.ProjectionConfig{
		Source:   newHTTPDeltaSource(envCfg.RegistryEndpoint, oracleTimeout),
		Enricher: enricher,
		Store:    store,
	})
	if err := projection.Restore(); err != nil {
		return err
	}

	metrics := observability.New(prometheus.DefaultRegisterer)

	var healthAdapter *health.Adapter
	if envCfg.HealthEndpoint != "" {
		healthAdapter = health.NewAdapter(newHTTPHealthOracle(envCfg.HealthEndpoint, oracleTimeout), envCfg.HealthCacheTTL)
	}
	var agent proposal.Agent
	if envCfg.ProposalEndpoint != "" {
		agent = newHTTPProposalAgent(envCfg.ProposalEndpoint, oracleTimeout)
	}

	syncJob := func() {
		ctx, cancel := context.WithTimeout(context.Background(), oracleTimeout)
		defer cancel()
		version, err := projection.SyncLatest(ctx)
		if err != nil {
			log.Printf("[serve] registry sync failed: %v", err)
			metrics.RegistrySyncs.WithLabelValues("error").Inc()
			return
		}
		metrics.RegistrySyncs.WithLabelValues("ok").Inc()
		metrics.RegistryVersion.Set(float64(version))
	}
	refreshJob := func() {
		if healthAdapter == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), oracleTimeout)
		defer cancel()
		table, err := healthAdapter.Fetch(ctx)
		if err != nil {
			log.Printf("[serve] health refresh failed: %v", err)
			return
		}
		counts := make(map[string]int)
		for _, h := range table {
			counts[h.String()]++
		}
		metrics.ObserveHealth(counts)
	}

	// First sync before serving so the API starts with a view.
	syncJob()
	refreshJob()

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(envCfg.RegistrySyncSchedule, syncJob); err != nil {
		return fmt.Errorf("schedule registry sync: %w", err)
	}
	if _, err := scheduler.AddFunc(envCfg.HealthRefreshSchedule, refreshJob); err != nil {
		return fmt.Errorf("schedule health refresh: %w", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	serverCfg := api.ServerConfig{
		ListenAddress: envCfg.ListenAddress,
		Port:          envCfg.Port,
		AdminToken:    envCfg.AdminToken,
		Snapshots:     projection,
		Proposals:     agent,
	}
	if healthAdapter != nil {
		serverCfg.Health = healthAdapter
	}
	if agent != nil {
		serverCfg.Rollout = &rolloutProvider{projection: projection, agent: agent}
	}
	server := api.NewServer(serverCfg)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[serve] listening on %s:%d", envCfg.ListenAddress, envCfg.Port)
		errCh <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-stop:
		log.Printf("[serve] received %v, shutting down", sig)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}
