// Package testutil provides fixture builders shared by the planning,
// healing and discovery tests: synthetic nodes with controllable features
// and subnets assembled from them.
package testutil

import (
	"fmt"
	"net/netip"

	"github.com/icfleet/fleetd/internal/model"
	"github.com/icfleet/fleetd/internal/principal"
)

// NodeOpt mutates a node under construction.
type NodeOpt func(*model.Node)

// WithDfinityOwned marks the node foundation-owned.
func WithDfinityOwned() NodeOpt {
	return func(n *model.Node) { n.DfinityOwned = true }
}

// WithFeature overrides one feature value.
func WithFeature(f model.NodeFeature, value string) NodeOpt {
	return func(n *model.Node) { n.Features = n.Features.With(f, value) }
}

// WithOperator overrides the operator id.
func WithOperator(seed uint64) NodeOpt {
	return func(n *model.Node) { n.OperatorID = principal.OperatorIDFromUint64(seed) }
}

// WithSubnet assigns the node to a subnet.
func WithSubnet(id principal.SubnetID) NodeOpt {
	return func(n *model.Node) { n.SubnetID = &id }
}

// WithNodeType overrides the reward node type.
func WithNodeType(t string) NodeOpt {
	return func(n *model.Node) { n.NodeType = t }
}

// Node builds a synthetic node. Every feature except the continent
// defaults to a value unique to the seed; the continent is one of four
// values, chosen by seed modulo 4.
func Node(seed uint64, opts ...NodeOpt) *model.Node {
	n := &model.Node{
		ID:         principal.NodeIDFromUint64(seed),
		IPv6:       netip.MustParseAddr(fmt.Sprintf("2001:db8::%x", seed+1)),
		OperatorID: principal.OperatorIDFromUint64(seed),
		NodeType:   "type1",
		Features: model.NewFeatureMap(map[model.NodeFeature]string{
			model.FeatureContinent:       fmt.Sprintf("continent-%d", seed%4),
			model.FeatureCountry:         fmt.Sprintf("country-%d", seed),
			model.FeatureCity:            fmt.Sprintf("city-%d", seed),
			model.FeatureDataCenter:      fmt.Sprintf("dc-%d", seed),
			model.FeatureDataCenterOwner: fmt.Sprintf("owner-%d", seed),
			model.FeatureNodeProvider:    fmt.Sprintf("provider-%d", seed),
		}),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Nodes builds count nodes with consecutive seeds starting at base.
func Nodes(base uint64, count int, opts ...NodeOpt) []*model.Node {
	out := make([]*model.Node, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, Node(base+uint64(i), opts...))
	}
	return out
}

// Subnet assembles a subnet whose members are the given nodes; each node
// gets its SubnetID set.
func Subnet(seed uint64, subnetType model.SubnetType, name string, members []*model.Node) *model.Subnet {
	id := principal.SubnetIDFromUint64(seed)
	sub := &model.Subnet{
		ID:       id,
		Type:     subnetType,
		Metadata: model.SubnetMetadata{Name: name},
	}
	for _, n := range members {
		n.SubnetID = &id
		sub.Members = append(sub.Members, n.ID)
	}
	return sub
}

// IDs extracts node ids.
func IDs(nodes []*model.Node) []principal.NodeID {
	out := make([]principal.NodeID, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.ID)
	}
	return out
}
