package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/icfleet/fleetd/internal/health"
	"github.com/icfleet/fleetd/internal/model"
	"github.com/icfleet/fleetd/internal/principal"
	"github.com/icfleet/fleetd/internal/proposal"
	"github.com/icfleet/fleetd/internal/registry"
	"github.com/icfleet/fleetd/internal/rollout"
)

// The decision core performs no network I/O itself; these thin JSON
// clients are the suspending collaborators injected into it.

func getJSON(ctx context.Context, client *http.Client, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", rawURL, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// httpDeltaSource implements registry.Source against a registry delta
// endpoint serving JSON triples.
type httpDeltaSource struct {
	endpoint string
	client   *http.Client
}

func newHTTPDeltaSource(endpoint string, timeout time.Duration) *httpDeltaSource {
	return &httpDeltaSource{endpoint: endpoint, client: &http.Client{Timeout: timeout}}
}

func (s *httpDeltaSource) Deltas(ctx context.Context, after uint64) ([]registry.Delta, error) {
	var wire []struct {
		Version   uint64 `json:"version"`
		Key       string `json:"key"`
		Value     []byte `json:"value,omitempty"`
		Tombstone bool   `json:"tombstone,omitempty"`
	}
	u := s.endpoint + "?after=" + strconv.FormatUint(after, 10)
	if err := getJSON(ctx, s.client, u, &wire); err != nil {
		return nil, fmt.Errorf("registry source: %w", err)
	}
	out := make([]registry.Delta, 0, len(wire))
	for _, d := range wire {
		delta := registry.Delta{Version: d.Version, Key: d.Key}
		if !d.Tombstone {
			value := d.Value
			if value == nil {
				value = []byte{}
			}
			delta.Value = value
		}
		out = append(out, delta)
	}
	return out, nil
}

// httpHealthOracle implements health.Oracle against a status endpoint
// serving node id -> status name.
type httpHealthOracle struct {
	endpoint string
	client   *http.Client
}

func newHTTPHealthOracle(endpoint string, timeout time.Duration) *httpHealthOracle {
	return &httpHealthOracle{endpoint: endpoint, client: &http.Client{Timeout: timeout}}
}

func (o *httpHealthOracle) Nodes(ctx context.Context) (map[principal.NodeID]model.Health, error) {
	var wire map[string]string
	if err := getJSON(ctx, o.client, o.endpoint, &wire); err != nil {
		return nil, fmt.Errorf("health oracle: %w", err)
	}
	out := make(map[principal.NodeID]model.Health, len(wire))
	for id, status := range wire {
		p, err := principal.Parse(id)
		if err != nil {
			continue
		}
		out[principal.NodeID{Principal: p}] = parseHealth(status)
	}
	return out, nil
}

func parseHealth(s string) model.Health {
	switch s {
	case "healthy":
		return model.HealthHealthy
	case "degraded":
		return model.HealthDegraded
	case "dead":
		return model.HealthDead
	default:
		return model.HealthUnknown
	}
}

// httpProposalAgent implements proposal.Agent against a listing endpoint.
type httpProposalAgent struct {
	endpoint string
	client   *http.Client
}

func newHTTPProposalAgent(endpoint string, timeout time.Duration) *httpProposalAgent {
	return &httpProposalAgent{endpoint: endpoint, client: &http.Client{Timeout: timeout}}
}

type wireProposal struct {
	ID          string          `json:"id"`
	Proposer    uint64          `json:"proposer"`
	Title       string          `json:"title"`
	Topic       string          `json:"topic"`
	SubmittedAt int64           `json:"submitted_at"`
	ExecutedAt  int64           `json:"executed_at,omitempty"`
	Executed    bool            `json:"executed"`
	Action      string          `json:"action"`
	Payload     json.RawMessage `json:"payload"`
}

func (a *httpProposalAgent) List(ctx context.Context, filter proposal.Filter) ([]proposal.Info, error) {
	var wire []wireProposal
	if err := getJSON(ctx, a.client, a.endpoint, &wire); err != nil {
		return nil, fmt.Errorf("proposal agent: %w", err)
	}
	out := make([]proposal.Info, 0, len(wire))
	for _, w := range wire {
		info, err := decodeProposal(w)
		if err != nil {
			// Unknown actions are outside the consumed envelope set.
			continue
		}
		out = append(out, info)
	}
	return filter.Apply(out), nil
}

func decodeProposal(w wireProposal) (proposal.Info, error) {
	p, err := principal.Parse(w.ID)
	if err != nil {
		return proposal.Info{}, err
	}
	info := proposal.Info{
		ID:          principal.ProposalID{Principal: p},
		Proposer:    w.Proposer,
		Title:       w.Title,
		Topic:       parseTopic(w.Topic),
		SubmittedAt: time.Unix(w.SubmittedAt, 0).UTC(),
		Executed:    w.Executed,
	}
	if w.ExecutedAt > 0 {
		info.ExecutedAt = time.Unix(w.ExecutedAt, 0).UTC()
	}
	payload, err := decodePayload(w.Action, w.Payload)
	if err != nil {
		return proposal.Info{}, err
	}
	info.Payload = payload
	return info, nil
}

func parseTopic(s string) proposal.Topic {
	for t := proposal.TopicUnspecified; t <= proposal.TopicNetworkEconomics; t++ {
		if t.String() == s {
			return t
		}
	}
	return proposal.TopicUnspecified
}

func decodePayload(action string, raw json.RawMessage) (proposal.Payload, error) {
	parseNodes := func(ids []string) ([]principal.NodeID, error) {
		out := make([]principal.NodeID, 0, len(ids))
		for _, id := range ids {
			p, err := principal.Parse(id)
			if err != nil {
				return nil, err
			}
			out = append(out, principal.NodeID{Principal: p})
		}
		return out, nil
	}
	parseSubnet := func(id string) (principal.SubnetID, error) {
		p, err := principal.Parse(id)
		return principal.SubnetID{Principal: p}, err
	}

	switch action {
	case "change_subnet_membership":
		var w struct {
			SubnetID string   `json:"subnet_id"`
			Added    []string `json:"added"`
			Removed  []string `json:"removed"`
		}
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, err
		}
		subnet, err := parseSubnet(w.SubnetID)
		if err != nil {
			return nil, err
		}
		added, err := parseNodes(w.Added)
		if err != nil {
			return nil, err
		}
		removed, err := parseNodes(w.Removed)
		if err != nil {
			return nil, err
		}
		return proposal.ChangeSubnetMembership{SubnetID: subnet, Added: added, Removed: removed}, nil
	case "create_subnet":
		var w struct {
			Members        []string `json:"members"`
			ReplicaVersion string   `json:"replica_version"`
		}
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, err
		}
		members, err := parseNodes(w.Members)
		if err != nil {
			return nil, err
		}
		return proposal.CreateSubnet{Members: members, ReplicaVersion: w.ReplicaVersion}, nil
	case "add_nodes_to_subnet":
		var w struct {
			SubnetID string   `json:"subnet_id"`
			Nodes    []string `json:"nodes"`
		}
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, err
		}
		subnet, err := parseSubnet(w.SubnetID)
		if err != nil {
			return nil, err
		}
		nodes, err := parseNodes(w.Nodes)
		if err != nil {
			return nil, err
		}
		return proposal.AddNodesToSubnet{SubnetID: subnet, Nodes: nodes}, nil
	case "remove_nodes_from_subnet":
		var w struct {
			SubnetID string   `json:"subnet_id"`
			Nodes    []string `json:"nodes"`
		}
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, err
		}
		subnet, err := parseSubnet(w.SubnetID)
		if err != nil {
			return nil, err
		}
		nodes, err := parseNodes(w.Nodes)
		if err != nil {
			return nil, err
		}
		return proposal.RemoveNodesFromSubnet{SubnetID: subnet, Nodes: nodes}, nil
	case "remove_nodes":
		var w struct {
			Nodes []string `json:"nodes"`
		}
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, err
		}
		nodes, err := parseNodes(w.Nodes)
		if err != nil {
			return nil, err
		}
		return proposal.RemoveNodes{Nodes: nodes}, nil
	case "deploy_guestos_to_all_subnet_nodes":
		var w struct {
			SubnetID string `json:"subnet_id"`
			Version  string `json:"replica_version_id"`
		}
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, err
		}
		subnet, err := parseSubnet(w.SubnetID)
		if err != nil {
			return nil, err
		}
		return proposal.DeployGuestOSToAllSubnetNodes{SubnetID: subnet, Version: w.Version}, nil
	case "update_unassigned_nodes_config":
		var w struct {
			Version string `json:"replica_version_id"`
		}
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, err
		}
		return proposal.UpdateUnassignedNodesConfig{Version: w.Version}, nil
	case "revise_elected_versions", "revise_elected_hostos_versions":
		var w struct {
			Elect   []string `json:"elect"`
			Unelect []string `json:"unelect"`
		}
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, err
		}
		return proposal.ReviseElectedVersions{
			HostOS:  action == "revise_elected_hostos_versions",
			Elect:   w.Elect,
			Unelect: w.Unelect,
		}, nil
	default:
		return nil, fmt.Errorf("unconsumed proposal action %q", action)
	}
}

// httpStatusFeed implements rollout.StatusFeed against a status endpoint.
type httpStatusFeed struct {
	endpoint string
	client   *http.Client
}

func newHTTPStatusFeed(endpoint string, timeout time.Duration) *httpStatusFeed {
	return &httpStatusFeed{endpoint: endpoint, client: &http.Client{Timeout: timeout}}
}

func (f *httpStatusFeed) Signals(ctx context.Context, subnetID principal.SubnetID, version string, since time.Time) (rollout.StatusSignals, error) {
	var wire struct {
		Preparing bool `json:"preparing"`
		Updating  bool `json:"updating"`
		Baked     bool `json:"baked"`
	}
	q := url.Values{}
	q.Set("subnet", subnetID.String())
	q.Set("version", version)
	q.Set("since", strconv.FormatInt(since.Unix(), 10))
	if err := getJSON(ctx, f.client, f.endpoint+"?"+q.Encode(), &wire); err != nil {
		return rollout.StatusSignals{}, fmt.Errorf("status feed: %w", err)
	}
	return rollout.StatusSignals{Preparing: wire.Preparing, Updating: wire.Updating, Baked: wire.Baked}, nil
}

var _ health.Oracle = (*httpHealthOracle)(nil)
var _ registry.Source = (*httpDeltaSource)(nil)
var _ proposal.Agent = (*httpProposalAgent)(nil)
var _ rollout.StatusFeed = (*httpStatusFeed)(nil)
