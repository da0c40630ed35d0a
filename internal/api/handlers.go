package api

import (
	"context"
	"net/http"

	"github.com/icfleet/fleetd/internal/discovery"
	"github.com/icfleet/fleetd/internal/health"
	"github.com/icfleet/fleetd/internal/model"
	"github.com/icfleet/fleetd/internal/proposal"
	"github.com/icfleet/fleetd/internal/registry"
	"github.com/icfleet/fleetd/internal/rollout"
)

// SnapshotProvider hands out the latest registry snapshot.
type SnapshotProvider interface {
	Latest() (*registry.Snapshot, error)
}

// HealthProvider hands out the current health table.
type HealthProvider interface {
	Fetch(ctx context.Context) (health.Table, error)
}

// RolloutPlanner builds the current rollout plan.
type RolloutPlanner interface {
	CurrentPlan(ctx context.Context) (*rollout.Plan, error)
}

// nodeView is the flattened node record served by the API.
type nodeView struct {
	ID            string            `json:"id"`
	IPv6          string            `json:"ipv6"`
	Operator      string            `json:"operator_id"`
	Subnet        string            `json:"subnet_id,omitempty"`
	DfinityOwned  bool              `json:"dfinity_owned,omitempty"`
	HostOSVersion string            `json:"hostos_version"`
	NodeType      string            `json:"node_type"`
	Health        string            `json:"health"`
	Features      map[string]string `json:"features"`
}

// subnetView is the flattened subnet record served by the API.
type subnetView struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Type           string   `json:"type"`
	ReplicaVersion string   `json:"replica_version"`
	Members        []string `json:"members"`
}

func featureMapView(fm model.FeatureMap) map[string]string {
	out := make(map[string]string)
	for _, f := range model.AllFeatures() {
		out[f.String()] = fm.Get(f)
	}
	return out
}

// HandleListNodes serves the node dump with health joined in.
func HandleListNodes(snapshots SnapshotProvider, healthProvider HealthProvider) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap, err := snapshots.Latest()
		if err != nil {
			WriteError(w, http.StatusServiceUnavailable, "REGISTRY_UNAVAILABLE", err.Error())
			return
		}
		table := health.Table{}
		if healthProvider != nil {
			if fetched, err := healthProvider.Fetch(r.Context()); err == nil {
				table = fetched
			}
		}

		var out []nodeView
		for _, n := range snap.Nodes() {
			view := nodeView{
				ID:            n.ID.String(),
				IPv6:          n.IPv6.String(),
				Operator:      n.OperatorID.String(),
				DfinityOwned:  n.DfinityOwned,
				HostOSVersion: n.HostOSVersion,
				NodeType:      n.NodeType,
				Health:        table.Get(n.ID).String(),
				Features:      featureMapView(n.Features),
			}
			if n.SubnetID != nil {
				view.Subnet = n.SubnetID.String()
			}
			out = append(out, view)
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"registry_version": snap.Version(),
			"nodes":            out,
		})
	})
}

// HandleListSubnets serves the subnet dump.
func HandleListSubnets(snapshots SnapshotProvider) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap, err := snapshots.Latest()
		if err != nil {
			WriteError(w, http.StatusServiceUnavailable, "REGISTRY_UNAVAILABLE", err.Error())
			return
		}
		var out []subnetView
		for _, s := range snap.Subnets() {
			view := subnetView{
				ID:             s.ID.String(),
				Name:           s.Metadata.Name,
				Type:           s.Type.String(),
				ReplicaVersion: s.ReplicaVersion,
			}
			for _, m := range s.Members {
				view.Members = append(view.Members, m.String())
			}
			out = append(out, view)
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"registry_version": snap.Version(),
			"subnets":          out,
		})
	})
}

// HandleRolloutPlan serves the current rollout plan.
func HandleRolloutPlan(planner RolloutPlanner) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		plan, err := planner.CurrentPlan(r.Context())
		if err != nil {
			WriteError(w, http.StatusServiceUnavailable, "ROLLOUT_UNAVAILABLE", err.Error())
			return
		}
		type updateView struct {
			SubnetID   string `json:"subnet_id"`
			SubnetName string `json:"subnet_name"`
			State      string `json:"state"`
			Patches    int    `json:"patches_available"`
		}
		type stageView struct {
			Start   string       `json:"start"`
			Active  bool         `json:"active"`
			Updates []updateView `json:"updates"`
		}
		out := struct {
			State         string      `json:"state"`
			LatestRelease string      `json:"latest_release"`
			Stages        []stageView `json:"stages"`
		}{
			State:         plan.State.String(),
			LatestRelease: plan.LatestRelease.CommitHash,
		}
		for _, s := range plan.Stages {
			sv := stageView{Start: s.Start.UTC().Format("2006-01-02T15:04:05Z"), Active: s.Active}
			for _, u := range s.Updates {
				sv.Updates = append(sv.Updates, updateView{
					SubnetID:   u.SubnetID.String(),
					SubnetName: u.SubnetName,
					State:      u.State.String(),
					Patches:    len(u.PatchesAvailable),
				})
			}
			out.Stages = append(out.Stages, sv)
		}
		WriteJSON(w, http.StatusOK, out)
	})
}

// HandleListProposals serves a filtered proposal listing.
func HandleListProposals(agent proposal.Agent) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		filter := proposal.Filter{}
		if topic := r.URL.Query().Get("topic"); topic != "" {
			for t := proposal.TopicUnspecified; t <= proposal.TopicNetworkEconomics; t++ {
				if t.String() == topic {
					filter.Topics = []proposal.Topic{t}
					break
				}
			}
		}
		if executed := r.URL.Query().Get("executed"); executed == "true" || executed == "false" {
			v := executed == "true"
			filter.Executed = &v
		}

		infos, err := agent.List(r.Context(), filter)
		if err != nil {
			WriteError(w, http.StatusServiceUnavailable, "PROPOSALS_UNAVAILABLE", err.Error())
			return
		}
		type proposalView struct {
			ID          string `json:"id"`
			Title       string `json:"title"`
			Topic       string `json:"topic"`
			SubmittedAt string `json:"submitted_at"`
			Executed    bool   `json:"executed"`
		}
		var out []proposalView
		for _, info := range filter.Apply(infos) {
			out = append(out, proposalView{
				ID:          info.ID.String(),
				Title:       info.Title,
				Topic:       info.Topic.String(),
				SubmittedAt: info.SubmittedAt.UTC().Format("2006-01-02T15:04:05Z"),
				Executed:    info.Executed,
			})
		}
		WriteJSON(w, http.StatusOK, map[string]any{"proposals": out})
	})
}

// HandleTargets serves the service-discovery target groups for one job.
func HandleTargets(snapshots SnapshotProvider) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		job := discovery.Job(r.PathValue("job"))
		if _, ok := job.Port(); !ok {
			WriteError(w, http.StatusNotFound, "UNKNOWN_JOB", "unknown scrape job")
			return
		}
		snap, err := snapshots.Latest()
		if err != nil {
			WriteError(w, http.StatusServiceUnavailable, "REGISTRY_UNAVAILABLE", err.Error())
			return
		}
		groups, err := discovery.Targets(snap, job)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "TARGETS_FAILED", err.Error())
			return
		}
		WriteJSON(w, http.StatusOK, groups)
	})
}

// HandleHealthz is the unauthenticated liveness endpoint.
func HandleHealthz() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}
