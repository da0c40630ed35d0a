package rewards

import (
	"math"
	"sort"

	"github.com/icfleet/fleetd/internal/model"
	"github.com/icfleet/fleetd/internal/principal"
)

// Fallback rate for (region, node type) pairs absent from the table,
// recorded in the computation log.
const (
	fallbackXDRPermyriad = 1
	fallbackCoefficient  = 100

	// type3 nodes without an explicit coefficient reduce at 80%.
	defaultType3Coefficient = 0.8
)

// providerRewards resolves base rewards for one provider's nodes and
// applies the performance multipliers. type3* nodes in the same
// continent:country group share an iterated coefficient-average reward;
// everything else uses the table rate directly.
func providerRewards(provider principal.ProviderID, nodes []RewardableNode, rates map[principal.NodeID]NodeRewards, table model.NodeRewardsTable, logger *Log) ProviderRewards {
	type type3Group struct {
		coefficients []float64
		baseRewards  []float64
	}
	groups := make(map[string]*type3Group)

	// First pass: gather type3 groups so the pooled average covers every
	// node of the provider in the region, regardless of metric presence.
	for _, n := range sortedRewardables(nodes) {
		if !model.IsType3(n.NodeType) {
			continue
		}
		rate, ok := table.GetRate(n.Region, n.NodeType)
		if !ok {
			logger.Printf(provider, "rate not found in rewards table for region %q type %q, using fallback", n.Region, n.NodeType)
			rate = fallbackRate()
		}
		coeff := defaultType3Coefficient
		if rate.CoefficientPercent != nil {
			coeff = float64(*rate.CoefficientPercent) / 100
		}
		key := model.Type3RegionKey(n.Region)
		g, ok := groups[key]
		if !ok {
			g = &type3Group{}
			groups[key] = g
		}
		g.coefficients = append(g.coefficients, coeff)
		g.baseRewards = append(g.baseRewards, float64(rate.XDRPermyriadPerMonth))
	}

	// Pooled type3 reward per region group: the i-th node earns
	// avg-reward * avg-coefficient^(i-1); each node gets the group mean.
	type3PerNode := make(map[string]float64, len(groups))
	for _, key := range sortedKeys(groups) {
		g := groups[key]
		coeffAvg := mean(g.coefficients)
		rewardAvg := mean(g.baseRewards)
		running := 1.0
		total := 0.0
		for range g.baseRewards {
			total += rewardAvg * running
			running *= coeffAvg
		}
		perNode := total / float64(len(g.baseRewards))
		type3PerNode[key] = perNode
		logger.Printf(provider, "type3 region %s: %d node(s), avg coefficient %.2f, avg reward %.0f, per-node reward %.0f",
			key, len(g.baseRewards), coeffAvg, rewardAvg, perNode)
	}

	out := ProviderRewards{Provider: provider}
	totalXDR := 0.0
	totalNoReduction := 0.0
	for _, n := range sortedRewardables(nodes) {
		var base float64
		if model.IsType3(n.NodeType) {
			base = type3PerNode[model.Type3RegionKey(n.Region)]
		} else {
			rate, ok := table.GetRate(n.Region, n.NodeType)
			if !ok {
				logger.Printf(provider, "rate not found in rewards table for region %q type %q, using fallback", n.Region, n.NodeType)
				rate = fallbackRate()
			}
			base = float64(rate.XDRPermyriadPerMonth)
		}

		nr := rates[n.ID]
		nr.BaseXDRPermyriad = base
		out.Nodes = append(out.Nodes, nr)

		totalNoReduction += base
		totalXDR += base * nr.Multiplier
	}
	out.XDRPermyriad = uint64(math.Round(totalXDR))
	out.XDRPermyriadNoReduction = uint64(math.Round(totalNoReduction))
	logger.Printf(provider, "total rewards %d XDR permyriad (%d without reduction) across %d node(s)",
		out.XDRPermyriad, out.XDRPermyriadNoReduction, len(out.Nodes))
	return out
}

func fallbackRate() model.RewardRate {
	coeff := uint64(fallbackCoefficient)
	return model.RewardRate{XDRPermyriadPerMonth: fallbackXDRPermyriad, CoefficientPercent: &coeff}
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
