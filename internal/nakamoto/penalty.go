package nakamoto

import "github.com/icfleet/fleetd/internal/model"

// Business-rule weights. Penalties compare lexicographically against the
// Nakamoto score, so the relative magnitudes only order rule severity.
const (
	WeightDfinityOwned = 1000
	WeightNodeProvider = 100
	WeightDataCenter   = 10
)

// dfinityOwnedTarget is the required count of foundation-owned nodes.
func dfinityOwnedTarget(t model.SubnetType) int {
	if t == model.SubnetSystem {
		return 2
	}
	return 1
}

// memberCap is the per-operator and per-provider node limit.
func memberCap(t model.SubnetType) int {
	if t == model.SubnetSystem {
		return 2
	}
	return 1
}

// Penalty sums the business-rule costs of a candidate membership:
//   - deviation from the required dfinity-owned node count,
//   - more than ceil(len/13) nodes sharing one data center,
//   - more nodes per operator or per node provider than the subnet type
//     allows.
func Penalty(subnetType model.SubnetType, nodes []*model.Node) int {
	if len(nodes) == 0 {
		return 0
	}

	penalty := 0

	owned := 0
	for _, n := range nodes {
		if n.DfinityOwned {
			owned++
		}
	}
	penalty += absInt(owned-dfinityOwnedTarget(subnetType)) * WeightDfinityOwned

	maxPerDC := (len(nodes) + 12) / 13
	dcCounts := make(map[string]int)
	for _, n := range nodes {
		dcCounts[n.Features.Get(model.FeatureDataCenter)]++
	}
	for _, c := range dcCounts {
		if c > maxPerDC {
			penalty += (c - maxPerDC) * WeightDataCenter
		}
	}

	limit := memberCap(subnetType)
	operatorCounts := make(map[string]int)
	providerCounts := make(map[string]int)
	for _, n := range nodes {
		operatorCounts[n.OperatorID.String()]++
		providerCounts[n.Features.Get(model.FeatureNodeProvider)]++
	}
	for _, c := range operatorCounts {
		if c > limit {
			penalty += (c - limit) * WeightNodeProvider
		}
	}
	for _, c := range providerCounts {
		if c > limit {
			penalty += (c - limit) * WeightNodeProvider
		}
	}

	return penalty
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
