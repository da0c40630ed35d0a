// Package nakamoto scores the decentralization of a candidate subnet
// membership. The Nakamoto coefficient of a feature is the smallest
// number of distinct feature values whose aggregate node count strictly
// exceeds the Byzantine-fault threshold of one third of the membership.
package nakamoto

import (
	"sort"

	"github.com/icfleet/fleetd/internal/model"
)

// Score holds the per-feature coefficients and their arithmetic mean.
type Score struct {
	PerFeature map[model.NodeFeature]int
	Total      float64
}

// ScoreNodes computes the Score over a candidate membership.
func ScoreNodes(nodes []*model.Node) Score {
	maps := make([]model.FeatureMap, len(nodes))
	for i, n := range nodes {
		maps[i] = n.Features
	}
	return ScoreFeatureMaps(maps)
}

// ScoreFeatureMaps computes the Score over raw feature maps.
func ScoreFeatureMaps(maps []model.FeatureMap) Score {
	features := model.AllFeatures()
	per := make(map[model.NodeFeature]int, len(features))
	sum := 0
	for _, f := range features {
		counts := make(map[string]int)
		for _, fm := range maps {
			counts[fm.Get(f)]++
		}
		c := coefficient(counts)
		per[f] = c
		sum += c
	}
	return Score{
		PerFeature: per,
		Total:      float64(sum) / float64(len(features)),
	}
}

// coefficient consumes feature-value buckets from largest to smallest
// until their node sum strictly exceeds len/3. Equal-sized buckets are
// consumed in lexicographic value order so the walk is deterministic.
func coefficient(counts map[string]int) int {
	if len(counts) == 0 {
		return 0
	}
	type bucket struct {
		value string
		count int
	}
	buckets := make([]bucket, 0, len(counts))
	total := 0
	for v, c := range counts {
		buckets = append(buckets, bucket{value: v, count: c})
		total += c
	}
	sort.Slice(buckets, func(i, j int) bool {
		if buckets[i].count != buckets[j].count {
			return buckets[i].count > buckets[j].count
		}
		return buckets[i].value < buckets[j].value
	})

	// 2f+1 consensus: at most one third of the nodes may be malicious.
	maxMalicious := total / 3
	actors := 0
	covered := 0
	for _, b := range buckets {
		actors++
		covered += b.count
		if covered > maxMalicious {
			break
		}
	}
	return actors
}

// Prefer reports whether candidate a is strictly preferred over b:
// smaller penalty wins, then larger Nakamoto total.
func Prefer(aPenalty int, aScore Score, bPenalty int, bScore Score) bool {
	if aPenalty != bPenalty {
		return aPenalty < bPenalty
	}
	return aScore.Total > bScore.Total
}

// Evaluation pairs a Score with the business-rule penalty of the same
// membership, the comparison unit used by the planner.
type Evaluation struct {
	Score   Score
	Penalty int
}

// Evaluate computes both halves of the comparison for a membership.
func Evaluate(subnetType model.SubnetType, nodes []*model.Node) Evaluation {
	return Evaluation{
		Score:   ScoreNodes(nodes),
		Penalty: Penalty(subnetType, nodes),
	}
}

// BetterThan reports whether e is strictly preferred over o.
func (e Evaluation) BetterThan(o Evaluation) bool {
	return Prefer(e.Penalty, e.Score, o.Penalty, o.Score)
}
