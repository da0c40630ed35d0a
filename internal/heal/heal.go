// Package heal orchestrates the membership planner across every subnet
// that needs attention: unhealthy members, cordoned feature values, or
// business-rule violations. Each subnet change is bounded by the safe
// replacement cap of one sixth of the membership so consensus survives
// even if every new node fails its first catch-up package.
package heal

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/icfleet/fleetd/internal/health"
	"github.com/icfleet/fleetd/internal/model"
	"github.com/icfleet/fleetd/internal/nakamoto"
	"github.com/icfleet/fleetd/internal/planner"
	"github.com/icfleet/fleetd/internal/principal"
)

// DefaultImportantSubnets name the subnets healed before everything
// else. Their order here does not matter: important subnets are ordered
// among themselves by descending size, like the rest.
var DefaultImportantSubnets = []string{"NNS", "SNS", "Bitcoin", "Internet Identity", "tECDSA signing"}

// Cordon excludes a feature value fleet-wide: matching pool nodes are
// never picked, and matching members are replaced when the request sets
// RemoveCordoned.
type Cordon struct {
	Feature     model.NodeFeature
	Value       string
	Explanation string
}

// View is the registry surface the driver reads. Implemented by
// registry.Snapshot.
type View interface {
	Subnets() []*model.Subnet
	SubnetMembers(id principal.SubnetID) []*model.Node
	UnassignedNodes() []*model.Node
}

// Request configures one heal/optimize run.
type Request struct {
	View   View
	Health health.Table

	Cordons          []Cordon
	ImportantSubnets []string // defaults to DefaultImportantSubnets

	// Heal replaces unhealthy members. Optimize also visits subnets whose
	// only defect is a non-zero business-rule penalty. RemoveCordoned
	// replaces members matching a cordon.
	Heal           bool
	Optimize       bool
	RemoveCordoned bool
}

// workItem is one subnet with its defects, ordered important-first then
// by descending size.
type workItem struct {
	subnet    *model.Subnet
	members   []*model.Node
	unhealthy []*model.Node
	cordoned  []*model.Node
	important bool
}

// FixAndOptimize walks the work list and emits the selected change per
// subnet. Added nodes are subtracted from the shared pool before the
// next subnet is processed. Cancellation is checked between subnets; a
// cancelled run discards its partial result.
func FixAndOptimize(ctx context.Context, req Request) ([]model.CandidateChange, error) {
	important := req.ImportantSubnets
	if important == nil {
		important = DefaultImportantSubnets
	}
	importantSet := make(map[string]struct{}, len(important))
	for _, name := range important {
		importantSet[name] = struct{}{}
	}

	items := collectWork(req, importantSet)
	if len(items) == 0 {
		log.Print("[heal] nothing to do: all subnets healthy and compliant")
		return nil, nil
	}

	pool := req.Health.Healthy(req.View.UnassignedNodes())
	exclude := make([]planner.FeatureMatch, 0, len(req.Cordons))
	for _, c := range req.Cordons {
		exclude = append(exclude, planner.FeatureMatch{Feature: c.Feature, Value: c.Value})
	}

	var changes []model.CandidateChange
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("heal: %w", err)
		}

		change, ok := planSubnet(item, pool, exclude)
		if !ok {
			continue
		}
		changes = append(changes, change)

		added := make(map[principal.NodeID]struct{}, len(change.Added))
		for _, id := range change.Added {
			added[id] = struct{}{}
		}
		remaining := pool[:0]
		for _, n := range pool {
			if _, ok := added[n.ID]; !ok {
				remaining = append(remaining, n)
			}
		}
		pool = remaining
	}
	return changes, nil
}

// collectWork gathers subnets with unhealthy members, cordoned members,
// or rule violations, ordered by priority.
func collectWork(req Request, importantSet map[string]struct{}) []*workItem {
	byID := make(map[principal.SubnetID]*workItem)
	item := func(sub *model.Subnet) *workItem {
		if it, ok := byID[sub.ID]; ok {
			return it
		}
		_, imp := importantSet[sub.Metadata.Name]
		it := &workItem{
			subnet:    sub,
			members:   req.View.SubnetMembers(sub.ID),
			important: imp,
		}
		byID[sub.ID] = it
		return it
	}

	for _, sub := range req.View.Subnets() {
		members := req.View.SubnetMembers(sub.ID)

		if req.Heal {
			if unhealthy := req.Health.Unhealthy(members); len(unhealthy) > 0 {
				sortBySeverity(unhealthy, req.Health)
				item(sub).unhealthy = unhealthy
			}
		}
		if req.RemoveCordoned {
			var cordoned []*model.Node
			for _, n := range members {
				for _, c := range req.Cordons {
					if n.Features.Get(c.Feature) == c.Value {
						cordoned = append(cordoned, n)
						break
					}
				}
			}
			if len(cordoned) > 0 {
				it := item(sub)
				it.cordoned = subtractNodes(cordoned, it.unhealthy)
			}
		}
		if req.Optimize {
			if nakamoto.Penalty(sub.Type, members) > 0 {
				item(sub) // queued even with no members to replace
			}
		}
	}

	items := make([]*workItem, 0, len(byID))
	for _, it := range byID {
		items = append(items, it)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].important != items[j].important {
			return items[i].important
		}
		if len(items[i].members) != len(items[j].members) {
			return len(items[i].members) > len(items[j].members)
		}
		return items[i].subnet.ID.Compare(items[j].subnet.ID.Principal) < 0
	})
	return items
}

// planSubnet tries every optional replacement count and picks the
// penalty-minimizing change, or the fewest-replacements one when no
// candidate improves the penalty.
func planSubnet(item *workItem, pool []*model.Node, exclude []planner.FeatureMatch) (model.CandidateChange, bool) {
	// More than a third of stale nodes stalls the subnet; half of the
	// stale budget is added, half removed: len/3 * 1/2.
	maxReplaceable := len(item.members) / 6
	if maxReplaceable == 0 {
		log.Printf("[heal] subnet %s too small to replace nodes safely", item.subnet.ID.Short())
		return model.CandidateChange{}, false
	}

	toReplace := append(append([]*model.Node(nil), item.unhealthy...), item.cordoned...)
	if len(toReplace) > maxReplaceable {
		log.Printf("[heal] subnet %s: replacing %d of %d defective nodes (cap %d)",
			item.subnet.ID.Short(), maxReplaceable, len(toReplace), maxReplaceable)
		toReplace = toReplace[:maxReplaceable]
	}
	mustRemove := make([]principal.NodeID, 0, len(toReplace))
	for _, n := range toReplace {
		mustRemove = append(mustRemove, n.ID)
	}

	optimizeLimit := maxReplaceable - len(toReplace)
	var candidates []model.CandidateChange
	for o := 0; o <= optimizeLimit; o++ {
		change, err := planner.Plan(planner.Request{
			SubnetID:     item.subnet.ID,
			SubnetType:   item.subnet.Type,
			Members:      item.members,
			Pool:         pool,
			Replacements: len(toReplace) + o,
			MustRemove:   mustRemove,
			Exclude:      exclude,
			Motivation:   motivation(item, o),
		})
		if err != nil {
			log.Printf("[heal] subnet %s: plan with %d optimization(s) failed: %v", item.subnet.ID.Short(), o, err)
			continue
		}
		candidates = append(candidates, change)
	}
	if len(candidates) == 0 {
		log.Printf("[heal] no suitable changes found for subnet %s", item.subnet.ID.Short())
		return model.CandidateChange{}, false
	}

	// Lowest resulting penalty wins; among equals the best score. When
	// nothing improves on the current penalty, replace as little as
	// possible.
	minPenalty := candidates[0].PenaltyAfter
	for _, c := range candidates[1:] {
		if c.PenaltyAfter < minPenalty {
			minPenalty = c.PenaltyAfter
		}
	}
	best := candidates[0]
	if minPenalty < best.PenaltyBefore {
		found := false
		for _, c := range candidates {
			if c.PenaltyAfter != minPenalty {
				continue
			}
			if !found || c.ScoreAfter > best.ScoreAfter {
				best = c
				found = true
			}
		}
	}
	if len(best.Added) == 0 && len(best.Removed) == 0 {
		return model.CandidateChange{}, false
	}
	return best, true
}

func motivation(item *workItem, optimized int) string {
	var parts []string
	if len(item.unhealthy) > 0 {
		parts = append(parts, fmt.Sprintf("replacing %d unhealthy node(s) %s", len(item.unhealthy), shortIDs(item.unhealthy)))
	}
	if len(item.cordoned) > 0 {
		parts = append(parts, fmt.Sprintf("replacing %d cordoned node(s) %s", len(item.cordoned), shortIDs(item.cordoned)))
	}
	if optimized > 0 {
		parts = append(parts, fmt.Sprintf("optimizing %d additional node(s) for network topology", optimized))
	}
	if len(parts) == 0 {
		parts = append(parts, "optimizing network topology")
	}
	return fmt.Sprintf("subnet %s (%s): %s", item.subnet.ID.Short(), item.subnet.Metadata.Name, strings.Join(parts, "; "))
}

func shortIDs(nodes []*model.Node) string {
	shorts := make([]string, 0, len(nodes))
	for _, n := range nodes {
		shorts = append(shorts, n.ID.Short())
	}
	return "[" + strings.Join(shorts, " ") + "]"
}

// sortBySeverity orders unhealthy members dead-first, then degraded,
// then unknown; equal severities by principal.
func sortBySeverity(nodes []*model.Node, table health.Table) {
	rank := func(h model.Health) int {
		switch h {
		case model.HealthDead:
			return 0
		case model.HealthDegraded:
			return 1
		default:
			return 2
		}
	}
	sort.SliceStable(nodes, func(i, j int) bool {
		ri, rj := rank(table.Get(nodes[i].ID)), rank(table.Get(nodes[j].ID))
		if ri != rj {
			return ri < rj
		}
		return nodes[i].ID.Compare(nodes[j].ID.Principal) < 0
	})
}

func subtractNodes(nodes, drop []*model.Node) []*model.Node {
	dropSet := make(map[principal.NodeID]struct{}, len(drop))
	for _, n := range drop {
		dropSet[n.ID] = struct{}{}
	}
	out := make([]*model.Node, 0, len(nodes))
	for _, n := range nodes {
		if _, ok := dropSet[n.ID]; !ok {
			out = append(out, n)
		}
	}
	return out
}
