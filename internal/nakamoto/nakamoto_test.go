package nakamoto

import (
	"fmt"
	"testing"

	"github.com/icfleet/fleetd/internal/model"
	"github.com/icfleet/fleetd/internal/principal"
)

// bucketCounts builds a counts map with synthetic values v0, v1, ...
func bucketCounts(sizes ...int) map[string]int {
	counts := make(map[string]int, len(sizes))
	for i, s := range sizes {
		counts[fmt.Sprintf("v%d", i)] = s
	}
	return counts
}

func TestCoefficientSmallSets(t *testing.T) {
	cases := []struct {
		sizes []int
		want  int
	}{
		{[]int{1, 2, 3}, 1},
		{[]int{1, 1, 2, 3, 5, 1}, 1},
		{[]int{1, 2, 1, 2, 1}, 2},
		{[]int{1}, 1},
		{[]int{3}, 1},
	}
	for _, tc := range cases {
		if got := coefficient(bucketCounts(tc.sizes...)); got != tc.want {
			t.Errorf("coefficient(%v) = %d, want %d", tc.sizes, got, tc.want)
		}
	}
}

func TestCoefficientEqualActors(t *testing.T) {
	// actors with one node each need 1 + actors/3 colluders.
	for actors := 1; actors < 100; actors++ {
		sizes := make([]int, actors)
		for i := range sizes {
			sizes[i] = 1
		}
		want := 1 + actors/3
		if got := coefficient(bucketCounts(sizes...)); got != want {
			t.Fatalf("coefficient(%d x 1) = %d, want %d", actors, got, want)
		}
	}
}

func TestCoefficientBounds(t *testing.T) {
	// For any non-empty bucket layout, 1 <= coefficient <= len(buckets).
	layouts := [][]int{{5}, {1, 1}, {7, 1, 1}, {2, 2, 2, 2}, {10, 10, 10}}
	for _, sizes := range layouts {
		got := coefficient(bucketCounts(sizes...))
		if got < 1 || got > len(sizes) {
			t.Fatalf("coefficient(%v) = %d out of [1,%d]", sizes, got, len(sizes))
		}
	}
}

func TestScoreAveragesFeatures(t *testing.T) {
	// Two nodes fully distinct in every feature: every coefficient is 1
	// (either node alone exceeds a third of the total: total 2, threshold
	// 0, first bucket 1 > 0), so the mean is 1.
	maps := []model.FeatureMap{
		model.UniformFeatureMap("a"),
		model.UniformFeatureMap("b"),
	}
	score := ScoreFeatureMaps(maps)
	if score.Total != 1 {
		t.Fatalf("total = %v, want 1", score.Total)
	}
	for f, c := range score.PerFeature {
		if c != 1 {
			t.Fatalf("feature %s coefficient = %d, want 1", f, c)
		}
	}
}

func testNode(seed uint64, owned bool, dc, provider string) *model.Node {
	return &model.Node{
		ID:           principal.NodeIDFromUint64(seed),
		OperatorID:   principal.OperatorID{Principal: principal.FromUint64(seed + 1000)},
		DfinityOwned: owned,
		Features: model.NewFeatureMap(map[model.NodeFeature]string{
			model.FeatureDataCenter:   dc,
			model.FeatureNodeProvider: provider,
		}),
	}
}

func TestPenaltyDfinityOwned(t *testing.T) {
	withOwned := []*model.Node{
		testNode(1, true, "dc1", "np1"),
		testNode(2, false, "dc2", "np2"),
	}
	if got := Penalty(model.SubnetApplication, withOwned); got != 0 {
		t.Fatalf("penalty with one owned node = %d, want 0", got)
	}

	noneOwned := []*model.Node{
		testNode(1, false, "dc1", "np1"),
		testNode(2, false, "dc2", "np2"),
	}
	if got := Penalty(model.SubnetApplication, noneOwned); got != WeightDfinityOwned {
		t.Fatalf("penalty with no owned node = %d, want %d", got, WeightDfinityOwned)
	}

	// System subnets require two owned nodes.
	if got := Penalty(model.SubnetSystem, withOwned); got != WeightDfinityOwned {
		t.Fatalf("system penalty with one owned node = %d, want %d", got, WeightDfinityOwned)
	}
}

func TestPenaltyDataCenterCap(t *testing.T) {
	// 14 nodes allow ceil(14/13) = 2 per data center; put 4 in one.
	nodes := make([]*model.Node, 0, 14)
	for i := 0; i < 14; i++ {
		dc := fmt.Sprintf("dc%d", i)
		if i < 4 {
			dc = "shared"
		}
		nodes = append(nodes, testNode(uint64(i), i == 0, dc, fmt.Sprintf("np%d", i)))
	}
	got := Penalty(model.SubnetApplication, nodes)
	if got != 2*WeightDataCenter {
		t.Fatalf("penalty = %d, want %d (two excess nodes in one dc)", got, 2*WeightDataCenter)
	}
}

func TestPenaltyProviderCap(t *testing.T) {
	nodes := []*model.Node{
		testNode(1, true, "dc1", "np-shared"),
		testNode(2, false, "dc2", "np-shared"),
		testNode(3, false, "dc3", "np-shared"),
	}
	// Application subnet: one per provider, two excess.
	if got := Penalty(model.SubnetApplication, nodes); got != 2*WeightNodeProvider {
		t.Fatalf("application penalty = %d, want %d", got, 2*WeightNodeProvider)
	}
	// System subnet: needs 2 owned (have 1) and allows two per provider.
	if got := Penalty(model.SubnetSystem, nodes); got != WeightDfinityOwned+WeightNodeProvider {
		t.Fatalf("system penalty = %d, want %d", got, WeightDfinityOwned+WeightNodeProvider)
	}
}

func TestPreferOrdersLexicographically(t *testing.T) {
	low := Score{Total: 1}
	high := Score{Total: 3}
	if !Prefer(0, low, 10, high) {
		t.Fatal("smaller penalty must win regardless of score")
	}
	if !Prefer(5, high, 5, low) {
		t.Fatal("equal penalty must fall back to larger total")
	}
	if Prefer(5, low, 5, low) {
		t.Fatal("equal candidates are not strictly preferred")
	}
}
