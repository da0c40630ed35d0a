package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/icfleet/fleetd/internal/health"
	"github.com/icfleet/fleetd/internal/model"
	"github.com/icfleet/fleetd/internal/principal"
	"github.com/icfleet/fleetd/internal/proposal"
	"github.com/icfleet/fleetd/internal/registry"
)

const testToken = "grapple-mosaic-Frontier-88"

func testProjection(t *testing.T) *registry.Projection {
	t.Helper()
	dc := principal.DataCenterIDFromUint64(1)
	op := principal.OperatorIDFromUint64(10)
	provider := principal.ProviderIDFromUint64(100)
	node := principal.NodeIDFromUint64(1000)
	subnet := principal.SubnetIDFromUint64(5000)

	deltas := []registry.Delta{
		{Version: 1, Key: registry.KeyFamilyDataCenter + dc.String(), Value: []byte(`{"name":"zh1","owner":"colo","continent":"eu","country":"ch","city":"zurich"}`)},
		{Version: 1, Key: registry.KeyFamilyOperator + op.String(), Value: []byte(fmt.Sprintf(`{"provider_id":%q,"datacenter_id":%q,"allowance_remaining":2}`, provider.String(), dc.String()))},
		{Version: 2, Key: registry.KeyFamilyNode + node.String(), Value: []byte(fmt.Sprintf(`{"ipv6":"2a00:fb01:400:100:6801::1","operator_id":%q,"hostos_version":"abc","node_type":"type1"}`, op.String()))},
		{Version: 2, Key: registry.KeyFamilySubnet + subnet.String(), Value: []byte(fmt.Sprintf(`{"type":"application","members":[%q],"replica_version":"v1","name":"App 1"}`, node.String()))},
	}
	p := registry.NewProjection(registry.ProjectionConfig{
		Source: registry.SourceFunc(func(_ context.Context, after uint64) ([]registry.Delta, error) {
			var out []registry.Delta
			for _, d := range deltas {
				if d.Version > after {
					out = append(out, d)
				}
			}
			return out, nil
		}),
	})
	if err := p.SyncTo(context.Background(), 2); err != nil {
		t.Fatalf("SyncTo failed: %v", err)
	}
	return p
}

type staticHealth health.Table

func (h staticHealth) Fetch(context.Context) (health.Table, error) {
	return health.Table(h), nil
}

func testServer(t *testing.T) *Server {
	t.Helper()
	table := staticHealth{principal.NodeIDFromUint64(1000): model.HealthHealthy}
	return NewServer(ServerConfig{
		ListenAddress: "127.0.0.1",
		Port:          0,
		AdminToken:    testToken,
		Snapshots:     testProjection(t),
		Health:        table,
		Proposals: proposal.AgentFunc(func(_ context.Context, _ proposal.Filter) ([]proposal.Info, error) {
			return []proposal.Info{
				{ID: principal.ProposalIDFromUint64(1), Title: "Update subnet", Topic: proposal.TopicIcOsVersionDeployment,
					SubmittedAt: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC), Executed: true},
				{ID: principal.ProposalIDFromUint64(2), Title: "Replace nodes", Topic: proposal.TopicSubnetManagement,
					SubmittedAt: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)},
			}, nil
		}),
	})
}

func get(t *testing.T, s *Server, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthzIsPublic(t *testing.T) {
	rec := get(t, testServer(t), "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("missing request id header")
	}
}

func TestAPIRequiresToken(t *testing.T) {
	s := testServer(t)
	if rec := get(t, s, "/api/v1/nodes", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("status without token = %d, want 401", rec.Code)
	}
	if rec := get(t, s, "/api/v1/nodes", "wrong"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("status with bad token = %d, want 401", rec.Code)
	}
	if rec := get(t, s, "/api/v1/nodes", testToken); rec.Code != http.StatusOK {
		t.Fatalf("status with token = %d, want 200", rec.Code)
	}
}

func TestListNodesJoinsHealthAndFeatures(t *testing.T) {
	rec := get(t, testServer(t), "/api/v1/nodes", testToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		RegistryVersion uint64 `json:"registry_version"`
		Nodes           []struct {
			ID       string            `json:"id"`
			Health   string            `json:"health"`
			Subnet   string            `json:"subnet_id"`
			Features map[string]string `json:"features"`
		} `json:"nodes"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.RegistryVersion != 2 {
		t.Fatalf("registry_version = %d, want 2", body.RegistryVersion)
	}
	if len(body.Nodes) != 1 {
		t.Fatalf("nodes = %d, want 1", len(body.Nodes))
	}
	n := body.Nodes[0]
	if n.Health != "healthy" {
		t.Fatalf("health = %q, want healthy", n.Health)
	}
	if n.Features["country"] != "ch" {
		t.Fatalf("country feature = %q, want ch", n.Features["country"])
	}
	if n.Subnet == "" {
		t.Fatal("subnet assignment missing")
	}
}

func TestListSubnets(t *testing.T) {
	rec := get(t, testServer(t), "/api/v1/subnets", testToken)
	var body struct {
		Subnets []struct {
			Name    string   `json:"name"`
			Members []string `json:"members"`
		} `json:"subnets"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Subnets) != 1 || body.Subnets[0].Name != "App 1" || len(body.Subnets[0].Members) != 1 {
		t.Fatalf("subnets = %+v", body.Subnets)
	}
}

func TestTargets(t *testing.T) {
	s := testServer(t)
	rec := get(t, s, "/api/v1/targets/replica", testToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var groups []struct {
		Targets []string          `json:"targets"`
		Labels  map[string]string `json:"labels"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &groups); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(groups) != 1 || len(groups[0].Targets) != 1 {
		t.Fatalf("groups = %+v", groups)
	}

	if rec := get(t, s, "/api/v1/targets/bogus", testToken); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown job status = %d, want 404", rec.Code)
	}
}

func TestListProposalsFilter(t *testing.T) {
	rec := get(t, testServer(t), "/api/v1/proposals?executed=true", testToken)
	var body struct {
		Proposals []struct {
			Title    string `json:"title"`
			Executed bool   `json:"executed"`
		} `json:"proposals"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Proposals) != 1 || !body.Proposals[0].Executed {
		t.Fatalf("proposals = %+v, want only the executed one", body.Proposals)
	}
}
