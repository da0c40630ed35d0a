package planner

import (
	"errors"
	"testing"

	"github.com/icfleet/fleetd/internal/model"
	"github.com/icfleet/fleetd/internal/principal"
	"github.com/icfleet/fleetd/internal/testutil"
)

func subnetRequest(members, pool []*model.Node) Request {
	// Give the membership exactly one dfinity-owned node so the baseline
	// business-rule penalty is zero.
	if len(members) > 0 {
		members[0].DfinityOwned = true
	}
	return Request{
		SubnetID:   principal.SubnetIDFromUint64(1),
		SubnetType: model.SubnetApplication,
		Members:    members,
		Pool:       pool,
	}
}

func TestPlanReplaceOneOfThirteen(t *testing.T) {
	members := testutil.Nodes(1, 13)
	pool := testutil.Nodes(100, 1)
	req := subnetRequest(members, pool)
	req.Replacements = 1

	change, err := Plan(req)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if len(change.Added) != 1 || len(change.Removed) != 1 {
		t.Fatalf("added=%d removed=%d, want 1/1", len(change.Added), len(change.Removed))
	}
	if change.Added[0] != pool[0].ID {
		t.Fatalf("added %v, want the only pool node", change.Added[0])
	}
	if change.ScoreAfter < change.ScoreBefore && !change.Warn {
		t.Fatalf("score regressed (%.2f -> %.2f) without warn", change.ScoreBefore, change.ScoreAfter)
	}
}

func TestPlanCountsAndDisjointness(t *testing.T) {
	pool := testutil.Nodes(100, 6)
	for _, k := range []int{0, 1, 2, 3} {
		req := subnetRequest(testutil.Nodes(1, 13), pool)
		req.Replacements = k
		change, err := Plan(req)
		if err != nil {
			t.Fatalf("Plan(k=%d) failed: %v", k, err)
		}
		if len(change.Added) != k || len(change.Removed) != k {
			t.Fatalf("k=%d: added=%d removed=%d", k, len(change.Added), len(change.Removed))
		}
		seen := make(map[principal.NodeID]struct{})
		for _, id := range change.Added {
			seen[id] = struct{}{}
		}
		for _, id := range change.Removed {
			if _, ok := seen[id]; ok {
				t.Fatalf("k=%d: node %v both added and removed", k, id)
			}
		}
	}
}

func TestPlanNotEnoughNodes(t *testing.T) {
	req := subnetRequest(testutil.Nodes(1, 4), testutil.Nodes(100, 1))
	req.Replacements = 2
	_, err := Plan(req)
	if !errors.Is(err, ErrNotEnoughNodes) {
		t.Fatalf("err = %v, want ErrNotEnoughNodes", err)
	}
}

func TestPlanRedundantInclude(t *testing.T) {
	members := testutil.Nodes(1, 4)
	req := subnetRequest(members, testutil.Nodes(100, 2))
	req.Replacements = 1
	req.ForceInclude = []principal.NodeID{members[2].ID}
	_, err := Plan(req)
	if !errors.Is(err, ErrRedundantInclude) {
		t.Fatalf("err = %v, want ErrRedundantInclude", err)
	}
}

func TestPlanForcedIncludeAlwaysAdded(t *testing.T) {
	pool := testutil.Nodes(100, 3)
	req := subnetRequest(testutil.Nodes(1, 7), pool)
	req.Replacements = 1
	req.ForceInclude = []principal.NodeID{pool[2].ID}

	change, err := Plan(req)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if len(change.Added) != 1 || change.Added[0] != pool[2].ID {
		t.Fatalf("added = %v, want forced node %v", change.Added, pool[2].ID)
	}
}

func TestPlanConflictingIncludeExclude(t *testing.T) {
	pool := testutil.Nodes(100, 3)
	req := subnetRequest(testutil.Nodes(1, 7), pool)
	req.Replacements = 1
	req.ForceInclude = []principal.NodeID{pool[0].ID}
	req.Exclude = []FeatureMatch{{
		Feature: model.FeatureCountry,
		Value:   pool[0].Features.Get(model.FeatureCountry),
	}}
	_, err := Plan(req)
	if !errors.Is(err, ErrConflictingFilters) {
		t.Fatalf("err = %v, want ErrConflictingFilters", err)
	}
}

func TestPlanExcludeShrinksPool(t *testing.T) {
	pool := testutil.Nodes(100, 2)
	req := subnetRequest(testutil.Nodes(1, 7), pool)
	req.Replacements = 2
	req.Exclude = []FeatureMatch{{
		Feature: model.FeatureCountry,
		Value:   pool[1].Features.Get(model.FeatureCountry),
	}}
	_, err := Plan(req)
	if !errors.Is(err, ErrNotEnoughNodes) {
		t.Fatalf("err = %v, want ErrNotEnoughNodes after exclusion", err)
	}
}

func TestPlanMustRemoveDrivesRemovals(t *testing.T) {
	members := testutil.Nodes(1, 13)
	pool := testutil.Nodes(100, 4)
	req := subnetRequest(members, pool)
	req.MustRemove = []principal.NodeID{members[3].ID, members[5].ID}
	req.Replacements = 2

	change, err := Plan(req)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	removed := make(map[principal.NodeID]struct{})
	for _, id := range change.Removed {
		removed[id] = struct{}{}
	}
	for _, want := range req.MustRemove {
		if _, ok := removed[want]; !ok {
			t.Fatalf("must-remove node %v missing from removals %v", want, change.Removed)
		}
	}
	if len(change.Removed) != 2 {
		t.Fatalf("removed = %d, want 2", len(change.Removed))
	}
}

func TestPlanMustRemoveNotMember(t *testing.T) {
	req := subnetRequest(testutil.Nodes(1, 4), testutil.Nodes(100, 2))
	req.MustRemove = []principal.NodeID{principal.NodeIDFromUint64(999)}
	_, err := Plan(req)
	if !errors.Is(err, ErrMustRemoveNotMember) {
		t.Fatalf("err = %v, want ErrMustRemoveNotMember", err)
	}
}

func TestPlanDegradedPoolSetsWarn(t *testing.T) {
	// Highly decentralized members, pool nodes all share one provider,
	// data center and country: any replacement worsens the evaluation.
	members := testutil.Nodes(1, 13)
	pool := testutil.Nodes(100, 3,
		testutil.WithFeature(model.FeatureNodeProvider, "mono-provider"),
		testutil.WithFeature(model.FeatureDataCenter, "mono-dc"),
		testutil.WithFeature(model.FeatureCountry, "mono-country"),
	)
	req := subnetRequest(members, pool)
	req.MustRemove = []principal.NodeID{members[1].ID, members[2].ID, members[3].ID}

	change, err := Plan(req)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if len(change.Added) != 3 {
		t.Fatalf("added = %d, want 3", len(change.Added))
	}
	if change.PenaltyAfter < change.PenaltyBefore {
		t.Fatalf("penalty cannot improve with a monoculture pool: %d -> %d", change.PenaltyBefore, change.PenaltyAfter)
	}
	if !change.Warn {
		t.Fatal("expected warn for a strictly worse result")
	}
}
