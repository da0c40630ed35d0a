// Package planner generates the single best membership change for one
// subnet: which nodes to remove and which pool candidates to add so the
// result satisfies health and filter constraints while improving, or at
// least preserving, the decentralization evaluation.
package planner

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/icfleet/fleetd/internal/model"
	"github.com/icfleet/fleetd/internal/nakamoto"
	"github.com/icfleet/fleetd/internal/principal"
)

var (
	// ErrNotEnoughNodes is returned when the candidate pool cannot cover
	// the requested replacement count.
	ErrNotEnoughNodes = errors.New("planner: not enough nodes")

	// ErrRedundantInclude is returned when a forced-include node already
	// belongs to the subnet.
	ErrRedundantInclude = errors.New("planner: redundant include")

	// ErrConflictingFilters is returned when a forced-include node is also
	// excluded by a caller filter or cordon.
	ErrConflictingFilters = errors.New("planner: conflicting include and exclude")

	// ErrMustRemoveNotMember is returned when a must-remove node is not a
	// member of the subnet.
	ErrMustRemoveNotMember = errors.New("planner: must-remove node is not a member")
)

// FeatureMatch excludes pool nodes carrying a specific feature value
// (the cordon mechanism).
type FeatureMatch struct {
	Feature model.NodeFeature
	Value   string
}

// Matches reports whether the node carries the cordoned value.
func (m FeatureMatch) Matches(n *model.Node) bool {
	return n.Features.Get(m.Feature) == m.Value
}

// Request describes one planning run.
type Request struct {
	SubnetID   principal.SubnetID
	SubnetType model.SubnetType
	Members    []*model.Node

	// Pool is the set of unassigned candidates. The planner applies the
	// exclusion filters; health filtering is the caller's business.
	Pool []*model.Node

	// Replacements is the desired replacement count k. When smaller than
	// len(MustRemove) it is raised to match.
	Replacements int

	ForceInclude []principal.NodeID
	MustRemove   []principal.NodeID
	Exclude      []FeatureMatch

	Motivation string
}

// Plan produces the best CandidateChange for the request. The result
// always has len(Added) == len(Removed) == k with disjoint sets; Warn is
// set when the evaluation could not be preserved.
func Plan(req Request) (model.CandidateChange, error) {
	members := sortedByID(req.Members)
	memberSet := idSet(members)

	pool := make([]*model.Node, 0, len(req.Pool))
	excluded := make(map[principal.NodeID]struct{})
	for _, n := range sortedByID(req.Pool) {
		if _, ok := memberSet[n.ID]; ok {
			continue
		}
		if matchesAny(n, req.Exclude) {
			excluded[n.ID] = struct{}{}
			continue
		}
		pool = append(pool, n)
	}

	forced := make([]*model.Node, 0, len(req.ForceInclude))
	for _, id := range req.ForceInclude {
		if _, ok := memberSet[id]; ok {
			return model.CandidateChange{}, fmt.Errorf("%w: %s", ErrRedundantInclude, id.Short())
		}
		if _, ok := excluded[id]; ok {
			return model.CandidateChange{}, fmt.Errorf("%w: %s", ErrConflictingFilters, id.Short())
		}
		node := findByID(pool, id)
		if node == nil {
			return model.CandidateChange{}, fmt.Errorf("%w: forced include %s not in pool", ErrNotEnoughNodes, id.Short())
		}
		forced = append(forced, node)
	}

	k := req.Replacements
	if k < len(req.MustRemove) {
		k = len(req.MustRemove)
	}
	if k < len(forced) {
		k = len(forced)
	}
	if k > len(pool) {
		return model.CandidateChange{}, fmt.Errorf("%w: need %d, pool has %d", ErrNotEnoughNodes, k, len(pool))
	}

	before := nakamoto.Evaluate(req.SubnetType, members)

	removed := make([]*model.Node, 0, k)
	kept := make([]*model.Node, 0, len(members))
	mustRemove := make(map[principal.NodeID]struct{}, len(req.MustRemove))
	for _, id := range req.MustRemove {
		if _, ok := memberSet[id]; !ok {
			return model.CandidateChange{}, fmt.Errorf("%w: %s", ErrMustRemoveNotMember, id.Short())
		}
		mustRemove[id] = struct{}{}
	}
	for _, n := range members {
		if _, ok := mustRemove[n.ID]; ok {
			removed = append(removed, n)
		} else {
			kept = append(kept, n)
		}
	}

	// Optimization removals: repeatedly drop the kept node whose best
	// pool replacement yields the strongest evaluation.
	available := append([]*model.Node(nil), pool...)
	for len(removed) < k {
		bestIdx := -1
		var bestEval nakamoto.Evaluation
		for i := range kept {
			trimmed := without(kept, i)
			_, eval, ok := bestAddition(req.SubnetType, trimmed, available)
			if !ok {
				continue
			}
			if bestIdx < 0 || eval.BetterThan(bestEval) {
				bestIdx = i
				bestEval = eval
			}
		}
		if bestIdx < 0 {
			break
		}
		removed = append(removed, kept[bestIdx])
		kept = without(kept, bestIdx)
	}
	// The pool may allow fewer optimization removals than requested;
	// drop the trailing kept nodes to honor the count.
	for len(removed) < k && len(kept) > 0 {
		removed = append(removed, kept[len(kept)-1])
		kept = kept[:len(kept)-1]
	}

	// Additions: forced first, then greedy by evaluation.
	added := append([]*model.Node(nil), forced...)
	available = subtract(available, idSet(added))
	for len(added) < k {
		idx, _, ok := bestAddition(req.SubnetType, append(append([]*model.Node(nil), kept...), added...), available)
		if !ok {
			return model.CandidateChange{}, fmt.Errorf("%w: pool exhausted at %d of %d additions", ErrNotEnoughNodes, len(added), k)
		}
		added = append(added, available[idx])
		available = without(available, idx)
	}

	result := append(append([]*model.Node(nil), kept...), added...)
	after := nakamoto.Evaluate(req.SubnetType, result)

	change := model.CandidateChange{
		SubnetID:      req.SubnetID,
		Added:         ids(added),
		Removed:       ids(removed),
		ScoreBefore:   before.Score.Total,
		ScoreAfter:    after.Score.Total,
		PenaltyBefore: before.Penalty,
		PenaltyAfter:  after.Penalty,
		Motivation:    req.Motivation,
		Warn:          before.BetterThan(after),
	}
	if change.Motivation == "" {
		change.Motivation = defaultMotivation(change)
	}
	return change, nil
}

// bestAddition returns the index and resulting evaluation of the pool
// node whose addition to base scores best. ok is false on an empty pool.
func bestAddition(subnetType model.SubnetType, base, pool []*model.Node) (int, nakamoto.Evaluation, bool) {
	bestIdx := -1
	var bestEval nakamoto.Evaluation
	for i, candidate := range pool {
		eval := nakamoto.Evaluate(subnetType, append(append([]*model.Node(nil), base...), candidate))
		if bestIdx < 0 || eval.BetterThan(bestEval) {
			bestIdx = i
			bestEval = eval
		}
	}
	if bestIdx < 0 {
		return 0, nakamoto.Evaluation{}, false
	}
	return bestIdx, bestEval, true
}

func defaultMotivation(c model.CandidateChange) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "replacing %d node(s) in subnet %s", len(c.Removed), c.SubnetID.Short())
	if c.PenaltyAfter != c.PenaltyBefore {
		fmt.Fprintf(&sb, "; topology penalty %d -> %d", c.PenaltyBefore, c.PenaltyAfter)
	}
	fmt.Fprintf(&sb, "; nakamoto %.2f -> %.2f", c.ScoreBefore, c.ScoreAfter)
	return sb.String()
}

func sortedByID(nodes []*model.Node) []*model.Node {
	out := append([]*model.Node(nil), nodes...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Compare(out[j].ID.Principal) < 0 })
	return out
}

func idSet(nodes []*model.Node) map[principal.NodeID]struct{} {
	set := make(map[principal.NodeID]struct{}, len(nodes))
	for _, n := range nodes {
		set[n.ID] = struct{}{}
	}
	return set
}

func ids(nodes []*model.Node) []principal.NodeID {
	out := make([]principal.NodeID, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.ID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Compare(out[j].Principal) < 0 })
	return out
}

func findByID(nodes []*model.Node, id principal.NodeID) *model.Node {
	for _, n := range nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

func without(nodes []*model.Node, i int) []*model.Node {
	out := make([]*model.Node, 0, len(nodes)-1)
	out = append(out, nodes[:i]...)
	return append(out, nodes[i+1:]...)
}

func subtract(nodes []*model.Node, drop map[principal.NodeID]struct{}) []*model.Node {
	out := make([]*model.Node, 0, len(nodes))
	for _, n := range nodes {
		if _, ok := drop[n.ID]; !ok {
			out = append(out, n)
		}
	}
	return out
}

func matchesAny(n *model.Node, filters []FeatureMatch) bool {
	for _, f := range filters {
		if f.Matches(n) {
			return true
		}
	}
	return false
}
