// Package rewards turns per-node daily block-production metrics into a
// per-provider XDR permyriad reward amount: relative failure rates
// against the subnet median, extrapolation over unassigned days, a
// linear performance multiplier, and the pooled type3 base-reward
// computation.
package rewards

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/icfleet/fleetd/internal/model"
	"github.com/icfleet/fleetd/internal/principal"
)

var (
	// ErrMetricOutsidePeriod is returned for metrics dated outside the
	// reward period.
	ErrMetricOutsidePeriod = errors.New("rewards: metric outside reward period")

	// ErrDuplicateMetric is returned for a second (node, day, subnet) record.
	ErrDuplicateMetric = errors.New("rewards: duplicate metric")

	// ErrNodeNotRewardable is returned when metrics reference a node
	// absent from the rewardable set.
	ErrNodeNotRewardable = errors.New("rewards: node not in rewardables")

	// ErrInvalidPeriod is returned when the period is empty or reversed.
	ErrInvalidPeriod = errors.New("rewards: invalid reward period")
)

// Failure-rate thresholds of the linear multiplier.
const (
	MinFailureRate = 0.1
	MaxFailureRate = 0.6

	// maxReduction caps the reward reduction at 80%.
	maxReduction = 0.8
)

// Period is the inclusive reward period in whole UTC days.
type Period struct {
	Start time.Time
	End   time.Time
}

// TotalDays counts the calendar days covered.
func (p Period) TotalDays() int {
	start := dateOf(p.Start)
	end := dateOf(p.End)
	return int(end.Sub(start)/(24*time.Hour)) + 1
}

// Contains reports whether a metric day falls inside the period.
func (p Period) Contains(t time.Time) bool {
	d := dateOf(t)
	return !d.Before(dateOf(p.Start)) && !d.After(dateOf(p.End))
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// RewardableNode is one node eligible for rewards in the period, with
// the attributes the rewards table lookup needs.
type RewardableNode struct {
	ID       principal.NodeID
	Provider principal.ProviderID
	Region   string
	NodeType string
}

// Request is one rewards computation.
type Request struct {
	Period  Period
	Table   model.NodeRewardsTable
	Nodes   []RewardableNode
	Metrics map[principal.NodeID][]model.DailyNodeMetric
}

// NodeRewards carries the per-node outcome for auditing.
type NodeRewards struct {
	Node              principal.NodeID
	FailureRatePeriod float64
	Multiplier        float64
	BaseXDRPermyriad  float64
	DaysAssigned      int
	DaysUnassigned    int
}

// ProviderRewards is the per-provider total.
type ProviderRewards struct {
	Provider                principal.ProviderID
	XDRPermyriad            uint64
	XDRPermyriadNoReduction uint64
	Nodes                   []NodeRewards
}

// Result maps providers to their computed rewards, with the audit log of
// named operations.
type Result struct {
	Providers map[principal.ProviderID]ProviderRewards
	Log       *Log
}

// Calculate runs the full pipeline. The computation is deterministic and
// order-independent in its inputs; cancellation is checked between
// nodes.
func Calculate(ctx context.Context, req Request) (*Result, error) {
	if req.Period.End.Before(req.Period.Start) {
		return nil, fmt.Errorf("%w: %v after %v", ErrInvalidPeriod, req.Period.Start, req.Period.End)
	}

	rewardable := make(map[principal.NodeID]RewardableNode, len(req.Nodes))
	for _, n := range req.Nodes {
		rewardable[n.ID] = n
	}
	if err := validateMetrics(req, rewardable); err != nil {
		return nil, err
	}

	logger := NewLog()
	subnetMedians := subnetDailyMedians(req.Metrics)

	// Per-node period failure rate from subnet-relative daily rates.
	nodeRates := make(map[principal.NodeID]NodeRewards, len(req.Nodes))
	for _, n := range sortedRewardables(req.Nodes) {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("rewards: %w", err)
		}
		nodeRates[n.ID] = nodePeriodRate(n, req.Metrics[n.ID], req.Period, subnetMedians, logger)
	}

	byProvider := make(map[principal.ProviderID][]RewardableNode)
	for _, n := range req.Nodes {
		byProvider[n.Provider] = append(byProvider[n.Provider], n)
	}

	result := &Result{Providers: make(map[principal.ProviderID]ProviderRewards, len(byProvider)), Log: logger}
	for _, provider := range sortedProviders(byProvider) {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("rewards: %w", err)
		}
		result.Providers[provider] = providerRewards(provider, byProvider[provider], nodeRates, req.Table, logger)
	}
	return result, nil
}

func validateMetrics(req Request, rewardable map[principal.NodeID]RewardableNode) error {
	type dayKey struct {
		day    time.Time
		subnet principal.SubnetID
	}
	for node, metrics := range req.Metrics {
		if _, ok := rewardable[node]; !ok {
			return fmt.Errorf("%w: %s", ErrNodeNotRewardable, node.Short())
		}
		seen := make(map[dayKey]struct{}, len(metrics))
		for _, m := range metrics {
			if !req.Period.Contains(m.DayEnd) {
				return fmt.Errorf("%w: node %s day %s", ErrMetricOutsidePeriod, node.Short(), m.DayEnd.UTC().Format("2006-01-02"))
			}
			k := dayKey{day: dateOf(m.DayEnd), subnet: m.SubnetID}
			if _, dup := seen[k]; dup {
				return fmt.Errorf("%w: node %s day %s subnet %s", ErrDuplicateMetric, node.Short(), k.day.Format("2006-01-02"), m.SubnetID.Short())
			}
			seen[k] = struct{}{}
		}
	}
	return nil
}

// subnetDailyMedians computes, for every (subnet, day), the median of
// the defined node failure rates observed in that subnet that day.
func subnetDailyMedians(metrics map[principal.NodeID][]model.DailyNodeMetric) map[principal.SubnetID]map[time.Time]float64 {
	rates := make(map[principal.SubnetID]map[time.Time][]float64)
	for _, list := range metrics {
		for _, m := range list {
			fr, ok := m.FailureRate()
			if !ok {
				continue
			}
			day := dateOf(m.DayEnd)
			byDay, found := rates[m.SubnetID]
			if !found {
				byDay = make(map[time.Time][]float64)
				rates[m.SubnetID] = byDay
			}
			byDay[day] = append(byDay[day], fr)
		}
	}

	out := make(map[principal.SubnetID]map[time.Time]float64, len(rates))
	for subnet, byDay := range rates {
		medians := make(map[time.Time]float64, len(byDay))
		for day, values := range byDay {
			medians[day] = median(values)
		}
		out[subnet] = medians
	}
	return out
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// nodePeriodRate reduces one node's daily metrics to a period failure
// rate: per-day subnet-relative rates clamped at zero, averaged per day
// across subnets, then extrapolated over unassigned days with the
// observed mean (zero for a fully unassigned node).
func nodePeriodRate(n RewardableNode, metrics []model.DailyNodeMetric, period Period, medians map[principal.SubnetID]map[time.Time]float64, logger *Log) NodeRewards {
	perDay := make(map[time.Time][]float64)
	for _, m := range metrics {
		fr, ok := m.FailureRate()
		if !ok {
			// A day without any block activity carries no signal.
			continue
		}
		day := dateOf(m.DayEnd)
		rel := fr - medians[m.SubnetID][day]
		if rel < 0 {
			rel = 0
		}
		perDay[day] = append(perDay[day], rel)
	}

	observed := make([]float64, 0, len(perDay))
	for _, values := range perDay {
		observed = append(observed, mean(values))
	}

	daysAssigned := len(observed)
	totalDays := period.TotalDays()
	rate := 0.0
	if daysAssigned > 0 {
		// Extrapolating unassigned days with the observed mean leaves the
		// period mean equal to the observed mean.
		rate = mean(observed)
	}

	nr := NodeRewards{
		Node:              n.ID,
		FailureRatePeriod: rate,
		Multiplier:        multiplier(rate),
		DaysAssigned:      daysAssigned,
		DaysUnassigned:    totalDays - daysAssigned,
	}
	logger.Printf(n.Provider, "node %s: %d assigned / %d unassigned days, relative failure rate %.4f, multiplier %.4f",
		n.ID.Short(), nr.DaysAssigned, nr.DaysUnassigned, nr.FailureRatePeriod, nr.Multiplier)
	return nr
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// multiplier maps the period failure rate to the reward multiplier:
// full rewards up to MinFailureRate, linear reduction to 0.2 at
// MaxFailureRate and beyond.
func multiplier(failureRate float64) float64 {
	switch {
	case failureRate <= MinFailureRate:
		return 1.0
	case failureRate >= MaxFailureRate:
		return 1.0 - maxReduction
	default:
		reduction := maxReduction * (failureRate - MinFailureRate) / (MaxFailureRate - MinFailureRate)
		return 1.0 - reduction
	}
}

func sortedRewardables(nodes []RewardableNode) []RewardableNode {
	out := append([]RewardableNode(nil), nodes...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Compare(out[j].ID.Principal) < 0 })
	return out
}

func sortedProviders(byProvider map[principal.ProviderID][]RewardableNode) []principal.ProviderID {
	out := make([]principal.ProviderID, 0, len(byProvider))
	for p := range byProvider {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Compare(out[j].Principal) < 0 })
	return out
}
