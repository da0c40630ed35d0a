package rewards

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/icfleet/fleetd/internal/model"
	"github.com/icfleet/fleetd/internal/principal"
)

func dayEnd(d int) time.Time {
	return time.Date(2024, 4, d, 23, 59, 59, 0, time.UTC)
}

func period(days int) Period {
	return Period{Start: dayEnd(1), End: dayEnd(days)}
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestMultiplierThresholds(t *testing.T) {
	cases := []struct {
		fr   float64
		want float64
	}{
		{0.0, 1.0},
		{0.05, 1.0},
		{0.1, 1.0},
		{0.35, 0.6},
		{0.6, 0.2},
		{0.95, 0.2},
		{1.0, 0.2},
	}
	for _, tc := range cases {
		if got := multiplier(tc.fr); !approx(got, tc.want) {
			t.Errorf("multiplier(%v) = %v, want %v", tc.fr, got, tc.want)
		}
	}
}

func rewardTable() model.NodeRewardsTable {
	table := model.NewNodeRewardsTable()
	table.SetRate("eu,de", "type1", model.RewardRate{XDRPermyriadPerMonth: 1000})
	coeff := uint64(70)
	table.SetRate("eu,de", "type3", model.RewardRate{XDRPermyriadPerMonth: 1000, CoefficientPercent: &coeff})
	return table
}

func rewardableNode(seed uint64, provider uint64, nodeType string) RewardableNode {
	return RewardableNode{
		ID:       principal.NodeIDFromUint64(seed),
		Provider: principal.ProviderIDFromUint64(provider),
		Region:   "eu,de,berlin",
		NodeType: nodeType,
	}
}

func metric(day int, subnet uint64, proposed, failed uint64) model.DailyNodeMetric {
	return model.DailyNodeMetric{
		DayEnd:   dayEnd(day),
		SubnetID: principal.SubnetIDFromUint64(subnet),
		Proposed: proposed,
		Failed:   failed,
	}
}

func TestRelativeFailureRateAgainstSubnetMedian(t *testing.T) {
	nodes := []RewardableNode{
		rewardableNode(1, 10, "type1"),
		rewardableNode(2, 11, "type1"),
		rewardableNode(3, 12, "type1"),
	}
	metrics := map[principal.NodeID][]model.DailyNodeMetric{
		nodes[0].ID: {metric(1, 7, 100, 0)},  // fr 0.0
		nodes[1].ID: {metric(1, 7, 90, 10)},  // fr 0.1 (the median)
		nodes[2].ID: {metric(1, 7, 50, 50)},  // fr 0.5 -> relative 0.4
	}
	res, err := Calculate(context.Background(), Request{
		Period: period(1), Table: rewardTable(), Nodes: nodes, Metrics: metrics,
	})
	if err != nil {
		t.Fatalf("Calculate failed: %v", err)
	}

	bad := res.Providers[nodes[2].Provider]
	if len(bad.Nodes) != 1 {
		t.Fatalf("provider 12 has %d node results, want 1", len(bad.Nodes))
	}
	if !approx(bad.Nodes[0].FailureRatePeriod, 0.4) {
		t.Fatalf("relative failure rate = %v, want 0.4", bad.Nodes[0].FailureRatePeriod)
	}
	if want := 1 - maxReduction*(0.4-MinFailureRate)/(MaxFailureRate-MinFailureRate); !approx(bad.Nodes[0].Multiplier, want) {
		t.Fatalf("multiplier = %v, want %v", bad.Nodes[0].Multiplier, want)
	}

	// The below-median node clamps to zero and keeps full rewards.
	good := res.Providers[nodes[0].Provider]
	if !approx(good.Nodes[0].Multiplier, 1.0) {
		t.Fatalf("below-median multiplier = %v, want 1.0", good.Nodes[0].Multiplier)
	}
	if good.XDRPermyriad != 1000 {
		t.Fatalf("provider 10 rewards = %d, want 1000", good.XDRPermyriad)
	}
}

func TestReversedMetricsSameResult(t *testing.T) {
	nodes := []RewardableNode{rewardableNode(1, 10, "type1"), rewardableNode(2, 11, "type1")}
	forward := map[principal.NodeID][]model.DailyNodeMetric{
		nodes[0].ID: {metric(1, 7, 90, 10), metric(2, 7, 50, 50), metric(3, 7, 100, 0)},
		nodes[1].ID: {metric(1, 7, 100, 0), metric(2, 7, 100, 0), metric(3, 7, 80, 20)},
	}
	backward := map[principal.NodeID][]model.DailyNodeMetric{
		nodes[0].ID: {metric(3, 7, 100, 0), metric(2, 7, 50, 50), metric(1, 7, 90, 10)},
		nodes[1].ID: {metric(3, 7, 80, 20), metric(2, 7, 100, 0), metric(1, 7, 100, 0)},
	}

	a, err := Calculate(context.Background(), Request{Period: period(3), Table: rewardTable(), Nodes: nodes, Metrics: forward})
	if err != nil {
		t.Fatalf("Calculate forward failed: %v", err)
	}
	b, err := Calculate(context.Background(), Request{Period: period(3), Table: rewardTable(), Nodes: nodes, Metrics: backward})
	if err != nil {
		t.Fatalf("Calculate backward failed: %v", err)
	}
	for _, n := range nodes {
		if a.Providers[n.Provider].XDRPermyriad != b.Providers[n.Provider].XDRPermyriad {
			t.Fatalf("provider %v rewards differ on metric order: %d vs %d",
				n.Provider, a.Providers[n.Provider].XDRPermyriad, b.Providers[n.Provider].XDRPermyriad)
		}
	}
}

func TestIdleDayDoesNotChangeMultiplier(t *testing.T) {
	node := rewardableNode(1, 10, "type1")
	withIdle := map[principal.NodeID][]model.DailyNodeMetric{
		node.ID: {metric(1, 7, 50, 50), metric(2, 7, 0, 0)},
	}
	withoutIdle := map[principal.NodeID][]model.DailyNodeMetric{
		node.ID: {metric(1, 7, 50, 50)},
	}
	a, err := Calculate(context.Background(), Request{Period: period(2), Table: rewardTable(), Nodes: []RewardableNode{node}, Metrics: withIdle})
	if err != nil {
		t.Fatalf("Calculate failed: %v", err)
	}
	b, err := Calculate(context.Background(), Request{Period: period(2), Table: rewardTable(), Nodes: []RewardableNode{node}, Metrics: withoutIdle})
	if err != nil {
		t.Fatalf("Calculate failed: %v", err)
	}
	ma := a.Providers[node.Provider].Nodes[0].Multiplier
	mb := b.Providers[node.Provider].Nodes[0].Multiplier
	if !approx(ma, mb) {
		t.Fatalf("idle day changed multiplier: %v vs %v", ma, mb)
	}
}

func TestFullyUnassignedNodeKeepsFullRewards(t *testing.T) {
	node := rewardableNode(1, 10, "type1")
	res, err := Calculate(context.Background(), Request{
		Period: period(7), Table: rewardTable(), Nodes: []RewardableNode{node},
		Metrics: map[principal.NodeID][]model.DailyNodeMetric{},
	})
	if err != nil {
		t.Fatalf("Calculate failed: %v", err)
	}
	pr := res.Providers[node.Provider]
	if pr.XDRPermyriad != 1000 || pr.XDRPermyriadNoReduction != 1000 {
		t.Fatalf("rewards = %d/%d, want 1000/1000", pr.XDRPermyriad, pr.XDRPermyriadNoReduction)
	}
	if pr.Nodes[0].DaysUnassigned != 7 {
		t.Fatalf("unassigned days = %d, want 7", pr.Nodes[0].DaysUnassigned)
	}
}

func TestType3PooledRewards(t *testing.T) {
	nodes := []RewardableNode{
		rewardableNode(1, 10, "type3"),
		rewardableNode(2, 10, "type3"),
	}
	res, err := Calculate(context.Background(), Request{
		Period: period(1), Table: rewardTable(), Nodes: nodes,
		Metrics: map[principal.NodeID][]model.DailyNodeMetric{},
	})
	if err != nil {
		t.Fatalf("Calculate failed: %v", err)
	}
	pr := res.Providers[nodes[0].Provider]
	// avg reward 1000, avg coefficient 0.7: 1000 + 700 = 1700 over two
	// nodes, 850 each.
	if pr.XDRPermyriad != 1700 {
		t.Fatalf("pooled type3 rewards = %d, want 1700", pr.XDRPermyriad)
	}
	for _, n := range pr.Nodes {
		if !approx(n.BaseXDRPermyriad, 850) {
			t.Fatalf("per-node base = %v, want 850", n.BaseXDRPermyriad)
		}
	}
}

func TestMissingRateFallsBackAndLogs(t *testing.T) {
	node := RewardableNode{
		ID:       principal.NodeIDFromUint64(1),
		Provider: principal.ProviderIDFromUint64(10),
		Region:   "na,us,boston",
		NodeType: "type1",
	}
	res, err := Calculate(context.Background(), Request{
		Period: period(1), Table: rewardTable(), Nodes: []RewardableNode{node},
		Metrics: map[principal.NodeID][]model.DailyNodeMetric{},
	})
	if err != nil {
		t.Fatalf("Calculate failed: %v", err)
	}
	pr := res.Providers[node.Provider]
	if pr.XDRPermyriad != fallbackXDRPermyriad {
		t.Fatalf("fallback rewards = %d, want %d", pr.XDRPermyriad, fallbackXDRPermyriad)
	}
	if entries := res.Log.Entries(node.Provider); len(entries) == 0 {
		t.Fatal("fallback must be recorded in the computation log")
	}
}

func TestValidationErrors(t *testing.T) {
	node := rewardableNode(1, 10, "type1")
	base := Request{Period: period(2), Table: rewardTable(), Nodes: []RewardableNode{node}}

	outside := base
	outside.Metrics = map[principal.NodeID][]model.DailyNodeMetric{node.ID: {metric(9, 7, 10, 0)}}
	if _, err := Calculate(context.Background(), outside); !errors.Is(err, ErrMetricOutsidePeriod) {
		t.Fatalf("err = %v, want ErrMetricOutsidePeriod", err)
	}

	dup := base
	dup.Metrics = map[principal.NodeID][]model.DailyNodeMetric{node.ID: {metric(1, 7, 10, 0), metric(1, 7, 20, 0)}}
	if _, err := Calculate(context.Background(), dup); !errors.Is(err, ErrDuplicateMetric) {
		t.Fatalf("err = %v, want ErrDuplicateMetric", err)
	}

	stranger := base
	stranger.Metrics = map[principal.NodeID][]model.DailyNodeMetric{principal.NodeIDFromUint64(99): {metric(1, 7, 10, 0)}}
	if _, err := Calculate(context.Background(), stranger); !errors.Is(err, ErrNodeNotRewardable) {
		t.Fatalf("err = %v, want ErrNodeNotRewardable", err)
	}
}

func TestCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Calculate(ctx, Request{
		Period: period(1), Table: rewardTable(),
		Nodes: []RewardableNode{rewardableNode(1, 10, "type1")},
	})
	if err == nil {
		t.Fatal("expected cancellation error")
	}
}

func TestNoRewardableNodesYieldsNothing(t *testing.T) {
	res, err := Calculate(context.Background(), Request{Period: period(1), Table: rewardTable()})
	if err != nil {
		t.Fatalf("Calculate failed: %v", err)
	}
	if len(res.Providers) != 0 {
		t.Fatalf("providers = %d, want 0", len(res.Providers))
	}
}
