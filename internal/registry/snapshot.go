package registry

import (
	"fmt"
	"net/netip"
	"sort"
	"strings"

	"github.com/icfleet/fleetd/internal/model"
	"github.com/icfleet/fleetd/internal/principal"
)

// FeatureEnricher fills feature values the registry left unknown, e.g.
// geo features derived from the node address. Implementations must be
// pure lookups; the snapshot build never suspends.
type FeatureEnricher interface {
	Enrich(addr netip.Addr, features model.FeatureMap) model.FeatureMap
}

// UnassignedNodesConfig is the elected configuration for nodes outside
// any subnet.
type UnassignedNodesConfig struct {
	ReplicaVersion  string
	SSHReadonlyKeys []string
}

// Snapshot is an immutable typed view of the registry pinned at one
// version. All downstream components receive a Snapshot, never the live
// cache, so no mid-computation observation can mutate.
type Snapshot struct {
	version uint64
	raw     map[string][]byte

	nodes       map[principal.NodeID]*model.Node
	operators   map[principal.OperatorID]*model.Operator
	subnets     map[principal.SubnetID]*model.Subnet
	dataCenters map[principal.DataCenterID]*model.DataCenter

	electedReplica []model.Release
	electedHostOS  []model.Release
	rewardsTable   model.NodeRewardsTable
	rewardTypes    []string
	unassignedCfg  UnassignedNodesConfig
	apiBoundary    map[principal.NodeID]struct{}
}

// buildSnapshot materializes the typed views from the raw key space.
func buildSnapshot(version uint64, raw map[string][]byte, enricher FeatureEnricher) (*Snapshot, error) {
	s := &Snapshot{
		version:     version,
		raw:         raw,
		nodes:       make(map[principal.NodeID]*model.Node),
		operators:   make(map[principal.OperatorID]*model.Operator),
		subnets:     make(map[principal.SubnetID]*model.Subnet),
		dataCenters: make(map[principal.DataCenterID]*model.DataCenter),
		apiBoundary: make(map[principal.NodeID]struct{}),
	}

	for key, value := range raw {
		switch {
		case strings.HasPrefix(key, KeyFamilyOperator):
			p, err := parseKeyPrincipal(key, KeyFamilyOperator)
			if err != nil {
				return nil, err
			}
			op, err := decodeOperator(key, principal.OperatorID{Principal: p}, value)
			if err != nil {
				return nil, err
			}
			s.operators[op.ID] = op
		case strings.HasPrefix(key, KeyFamilyDataCenter):
			p, err := parseKeyPrincipal(key, KeyFamilyDataCenter)
			if err != nil {
				return nil, err
			}
			dc, err := decodeDataCenter(key, principal.DataCenterID{Principal: p}, value)
			if err != nil {
				return nil, err
			}
			s.dataCenters[dc.ID] = dc
		case strings.HasPrefix(key, KeyFamilyAPIBoundaryNode):
			p, err := parseKeyPrincipal(key, KeyFamilyAPIBoundaryNode)
			if err != nil {
				return nil, err
			}
			s.apiBoundary[principal.NodeID{Principal: p}] = struct{}{}
		}
	}

	for key, value := range raw {
		switch {
		case strings.HasPrefix(key, KeyFamilyNode):
			p, err := parseKeyPrincipal(key, KeyFamilyNode)
			if err != nil {
				return nil, err
			}
			node, opID, err := decodeNode(key, principal.NodeID{Principal: p}, value)
			if err != nil {
				return nil, err
			}
			op, ok := s.operators[opID]
			if !ok {
				return nil, fmt.Errorf("%w: node %s references operator %s", ErrNodeMissingOperator, node.ID.Short(), opID.Short())
			}
			node.Features = nodeFeatures(node, op, s.dataCenters, enricher)
			s.nodes[node.ID] = node
		case strings.HasPrefix(key, KeyFamilySubnet):
			p, err := parseKeyPrincipal(key, KeyFamilySubnet)
			if err != nil {
				return nil, err
			}
			subnet, err := decodeSubnet(key, principal.SubnetID{Principal: p}, value)
			if err != nil {
				return nil, err
			}
			s.subnets[subnet.ID] = subnet
		case key == KeyElectedReplicaVersions:
			releases, err := decodeReleases(key, value)
			if err != nil {
				return nil, err
			}
			s.electedReplica = releases
		case key == KeyElectedHostOSVersions:
			releases, err := decodeReleases(key, value)
			if err != nil {
				return nil, err
			}
			s.electedHostOS = releases
		case key == KeyNodeRewardsTable:
			table, err := decodeRewardsTable(key, value)
			if err != nil {
				return nil, err
			}
			s.rewardsTable = table
		case key == KeyNodeRewardTypes:
			types, err := decodeNodeRewardTypes(key, value)
			if err != nil {
				return nil, err
			}
			sort.Strings(types)
			s.rewardTypes = types
		case key == KeyUnassignedNodesConfig:
			cfg, err := decodeUnassignedConfig(key, value)
			if err != nil {
				return nil, err
			}
			s.unassignedCfg = cfg
		}
	}

	// Membership drives node.SubnetID; a node may belong to one subnet.
	assigned := make(map[principal.NodeID]principal.SubnetID)
	for _, subnet := range s.subnets {
		for _, member := range subnet.Members {
			if prev, ok := assigned[member]; ok && prev != subnet.ID {
				return nil, fmt.Errorf("%w: node %s is a member of subnets %s and %s",
					ErrNonUniqueID, member.Short(), prev.Short(), subnet.ID.Short())
			}
			assigned[member] = subnet.ID
			if node, ok := s.nodes[member]; ok {
				id := subnet.ID
				node.SubnetID = &id
			}
		}
	}

	return s, nil
}

// nodeFeatures derives the total feature map of a node from its
// operator's data center and provider, then lets the enricher fill any
// remaining unknown geo features from the node address.
func nodeFeatures(node *model.Node, op *model.Operator, dcs map[principal.DataCenterID]*model.DataCenter, enricher FeatureEnricher) model.FeatureMap {
	pairs := map[model.NodeFeature]string{
		model.FeatureNodeProvider: op.ProviderID.String(),
	}
	if op.DataCenterID != nil {
		if dc, ok := dcs[*op.DataCenterID]; ok {
			pairs[model.FeatureContinent] = dc.Continent
			pairs[model.FeatureCountry] = dc.Country
			pairs[model.FeatureCity] = dc.City
			pairs[model.FeatureDataCenter] = dc.Name
			pairs[model.FeatureDataCenterOwner] = dc.Owner
		}
	}
	features := model.NewFeatureMap(pairs)
	if enricher != nil {
		features = enricher.Enrich(node.IPv6, features)
	}
	return features
}

func parseKeyPrincipal(key, prefix string) (principal.Principal, error) {
	p, err := principal.Parse(strings.TrimPrefix(key, prefix))
	if err != nil {
		return principal.Principal{}, fmt.Errorf("%w: key %q: %v", ErrDecode, key, err)
	}
	return p, nil
}

// Version returns the registry version the snapshot is pinned at.
func (s *Snapshot) Version() uint64 { return s.version }

// Node returns one node by id.
func (s *Snapshot) Node(id principal.NodeID) (*model.Node, bool) {
	n, ok := s.nodes[id]
	return n, ok
}

// Nodes returns all nodes ordered by principal.
func (s *Snapshot) Nodes() []*model.Node {
	out := make([]*model.Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Compare(out[j].ID.Principal) < 0 })
	return out
}

// UnassignedNodes returns nodes outside every subnet, ordered by principal.
func (s *Snapshot) UnassignedNodes() []*model.Node {
	out := make([]*model.Node, 0)
	for _, n := range s.Nodes() {
		if !n.Assigned() {
			out = append(out, n)
		}
	}
	return out
}

// Operator returns one operator by id.
func (s *Snapshot) Operator(id principal.OperatorID) (*model.Operator, bool) {
	op, ok := s.operators[id]
	return op, ok
}

// Operators returns all operators ordered by principal.
func (s *Snapshot) Operators() []*model.Operator {
	out := make([]*model.Operator, 0, len(s.operators))
	for _, op := range s.operators {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Compare(out[j].ID.Principal) < 0 })
	return out
}

// Subnet returns one subnet by id.
func (s *Snapshot) Subnet(id principal.SubnetID) (*model.Subnet, bool) {
	sub, ok := s.subnets[id]
	return sub, ok
}

// Subnets returns all subnets ordered by principal.
func (s *Snapshot) Subnets() []*model.Subnet {
	out := make([]*model.Subnet, 0, len(s.subnets))
	for _, sub := range s.subnets {
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Compare(out[j].ID.Principal) < 0 })
	return out
}

// SubnetMembers resolves a subnet's member ids to nodes, preserving
// membership order. Members without a node record are skipped.
func (s *Snapshot) SubnetMembers(id principal.SubnetID) []*model.Node {
	sub, ok := s.subnets[id]
	if !ok {
		return nil
	}
	out := make([]*model.Node, 0, len(sub.Members))
	for _, m := range sub.Members {
		if n, ok := s.nodes[m]; ok {
			out = append(out, n)
		}
	}
	return out
}

// DataCenters returns all data centers ordered by principal.
func (s *Snapshot) DataCenters() []*model.DataCenter {
	out := make([]*model.DataCenter, 0, len(s.dataCenters))
	for _, dc := range s.dataCenters {
		out = append(out, dc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Compare(out[j].ID.Principal) < 0 })
	return out
}

// ElectedReplicaVersions returns the elected replica releases.
func (s *Snapshot) ElectedReplicaVersions() []model.Release { return s.electedReplica }

// ElectedHostOSVersions returns the elected host-OS releases.
func (s *Snapshot) ElectedHostOSVersions() []model.Release { return s.electedHostOS }

// RewardsTable returns the node rewards table. May be empty on networks
// that do not distribute rewards.
func (s *Snapshot) RewardsTable() model.NodeRewardsTable { return s.rewardsTable }

// NodeRewardTypes returns the known reward node types, sorted. Empty when
// the registry carries no reward-type table.
func (s *Snapshot) NodeRewardTypes() []string { return s.rewardTypes }

// UnassignedConfig returns the unassigned-nodes configuration.
func (s *Snapshot) UnassignedConfig() UnassignedNodesConfig { return s.unassignedCfg }

// APIBoundaryNodes returns the API boundary node set ordered by principal.
func (s *Snapshot) APIBoundaryNodes() []principal.NodeID {
	out := make([]principal.NodeID, 0, len(s.apiBoundary))
	for id := range s.apiBoundary {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Compare(out[j].Principal) < 0 })
	return out
}

// IsAPIBoundaryNode reports whether the node serves as an API boundary.
func (s *Snapshot) IsAPIBoundaryNode(id principal.NodeID) bool {
	_, ok := s.apiBoundary[id]
	return ok
}

// Family returns the key->value map for a typed prefix at the pinned
// version. The returned map is a copy.
func (s *Snapshot) Family(prefix string) map[string][]byte {
	out := make(map[string][]byte)
	for k, v := range s.raw {
		if strings.HasPrefix(k, prefix) {
			out[k] = v
		}
	}
	return out
}

// Get returns the raw value of one key.
func (s *Snapshot) Get(key string) ([]byte, error) {
	v, ok := s.raw[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q at version %d", ErrMissingKey, key, s.version)
	}
	return v, nil
}
