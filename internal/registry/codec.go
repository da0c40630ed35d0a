package registry

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"time"

	"github.com/icfleet/fleetd/internal/model"
	"github.com/icfleet/fleetd/internal/principal"
)

// Wire record shapes. Registry values are JSON documents; the projection
// is the only place that parses them, downstream components always see
// the typed model.

type nodeRecord struct {
	IPv6          string `json:"ipv6"`
	OperatorID    string `json:"operator_id"`
	HostOSVersion string `json:"hostos_version"`
	NodeType      string `json:"node_type"`
	DfinityOwned  bool   `json:"dfinity_owned,omitempty"`
}

type operatorRecord struct {
	ProviderID         string            `json:"provider_id"`
	DataCenterID       string            `json:"datacenter_id,omitempty"`
	AllowanceRemaining uint64            `json:"allowance_remaining"`
	RewardableCounts   map[string]uint32 `json:"rewardable_counts,omitempty"`
}

type subnetRecord struct {
	Type           string            `json:"type"`
	Members        []string          `json:"members"`
	ReplicaVersion string            `json:"replica_version"`
	Name           string            `json:"name"`
	Labels         map[string]string `json:"labels,omitempty"`
}

type dataCenterRecord struct {
	Name      string `json:"name"`
	Owner     string `json:"owner"`
	Continent string `json:"continent"`
	Country   string `json:"country"`
	City      string `json:"city"`
}

type releaseRecord struct {
	CommitHash    string `json:"commit_hash"`
	Name          string `json:"release_name"`
	Branch        string `json:"release_branch"`
	TimeUnix      int64  `json:"release_time"`
	PreviousPatch string `json:"previous_patch,omitempty"`
}

type rewardRateRecord struct {
	XDRPermyriadPerMonth uint64  `json:"xdr_permyriad_per_node_per_month"`
	CoefficientPercent   *uint64 `json:"reward_coefficient_percent,omitempty"`
}

type unassignedNodesConfigRecord struct {
	ReplicaVersion  string   `json:"replica_version"`
	SSHReadonlyKeys []string `json:"ssh_readonly_access,omitempty"`
}

func decodeJSON(key string, value []byte, out any) error {
	if err := json.Unmarshal(value, out); err != nil {
		return fmt.Errorf("%w: key %q: %v", ErrDecode, key, err)
	}
	return nil
}

func decodeNode(key string, id principal.NodeID, value []byte) (*model.Node, principal.OperatorID, error) {
	var rec nodeRecord
	if err := decodeJSON(key, value, &rec); err != nil {
		return nil, principal.OperatorID{}, err
	}
	opPrincipal, err := principal.Parse(rec.OperatorID)
	if err != nil {
		return nil, principal.OperatorID{}, fmt.Errorf("%w: key %q: operator id: %v", ErrDecode, key, err)
	}
	addr, err := netip.ParseAddr(rec.IPv6)
	if err != nil {
		return nil, principal.OperatorID{}, fmt.Errorf("%w: key %q: ipv6: %v", ErrDecode, key, err)
	}
	opID := principal.OperatorID{Principal: opPrincipal}
	return &model.Node{
		ID:            id,
		IPv6:          addr,
		OperatorID:    opID,
		DfinityOwned:  rec.DfinityOwned,
		HostOSVersion: rec.HostOSVersion,
		NodeType:      rec.NodeType,
	}, opID, nil
}

func decodeOperator(key string, id principal.OperatorID, value []byte) (*model.Operator, error) {
	var rec operatorRecord
	if err := decodeJSON(key, value, &rec); err != nil {
		return nil, err
	}
	providerPrincipal, err := principal.Parse(rec.ProviderID)
	if err != nil {
		return nil, fmt.Errorf("%w: key %q: provider id: %v", ErrDecode, key, err)
	}
	op := &model.Operator{
		ID:                 id,
		ProviderID:         principal.ProviderID{Principal: providerPrincipal},
		AllowanceRemaining: rec.AllowanceRemaining,
		RewardableCounts:   rec.RewardableCounts,
	}
	if rec.DataCenterID != "" {
		dcPrincipal, err := principal.Parse(rec.DataCenterID)
		if err != nil {
			return nil, fmt.Errorf("%w: key %q: datacenter id: %v", ErrDecode, key, err)
		}
		dcID := principal.DataCenterID{Principal: dcPrincipal}
		op.DataCenterID = &dcID
	}
	return op, nil
}

func decodeSubnet(key string, id principal.SubnetID, value []byte) (*model.Subnet, error) {
	var rec subnetRecord
	if err := decodeJSON(key, value, &rec); err != nil {
		return nil, err
	}
	subnet := &model.Subnet{
		ID:             id,
		Type:           parseSubnetType(rec.Type),
		ReplicaVersion: rec.ReplicaVersion,
		Metadata: model.SubnetMetadata{
			Name:   rec.Name,
			Labels: rec.Labels,
		},
	}
	subnet.Members = make([]principal.NodeID, 0, len(rec.Members))
	for _, m := range rec.Members {
		p, err := principal.Parse(m)
		if err != nil {
			return nil, fmt.Errorf("%w: key %q: member: %v", ErrDecode, key, err)
		}
		subnet.Members = append(subnet.Members, principal.NodeID{Principal: p})
	}
	return subnet, nil
}

func parseSubnetType(s string) model.SubnetType {
	switch s {
	case "system":
		return model.SubnetSystem
	case "verified_application":
		return model.SubnetVerifiedApplication
	default:
		return model.SubnetApplication
	}
}

func decodeDataCenter(key string, id principal.DataCenterID, value []byte) (*model.DataCenter, error) {
	var rec dataCenterRecord
	if err := decodeJSON(key, value, &rec); err != nil {
		return nil, err
	}
	return &model.DataCenter{
		ID:        id,
		Name:      rec.Name,
		Owner:     rec.Owner,
		Continent: rec.Continent,
		Country:   rec.Country,
		City:      rec.City,
	}, nil
}

func decodeReleases(key string, value []byte) ([]model.Release, error) {
	var recs []releaseRecord
	if err := decodeJSON(key, value, &recs); err != nil {
		return nil, err
	}
	out := make([]model.Release, 0, len(recs))
	for _, r := range recs {
		out = append(out, model.Release{
			CommitHash:    r.CommitHash,
			Name:          r.Name,
			Branch:        r.Branch,
			Time:          time.Unix(r.TimeUnix, 0).UTC(),
			PreviousPatch: r.PreviousPatch,
		})
	}
	return out, nil
}

func decodeRewardsTable(key string, value []byte) (model.NodeRewardsTable, error) {
	var raw map[string]map[string]rewardRateRecord
	if err := decodeJSON(key, value, &raw); err != nil {
		return model.NodeRewardsTable{}, err
	}
	table := model.NewNodeRewardsTable()
	for region, byType := range raw {
		for nodeType, rate := range byType {
			table.SetRate(region, nodeType, model.RewardRate{
				XDRPermyriadPerMonth: rate.XDRPermyriadPerMonth,
				CoefficientPercent:   rate.CoefficientPercent,
			})
		}
	}
	return table, nil
}

func decodeNodeRewardTypes(key string, value []byte) ([]string, error) {
	var types []string
	if err := decodeJSON(key, value, &types); err != nil {
		return nil, err
	}
	return types, nil
}

func decodeUnassignedConfig(key string, value []byte) (UnassignedNodesConfig, error) {
	var rec unassignedNodesConfigRecord
	if err := decodeJSON(key, value, &rec); err != nil {
		return UnassignedNodesConfig{}, err
	}
	return UnassignedNodesConfig{
		ReplicaVersion:  rec.ReplicaVersion,
		SSHReadonlyKeys: rec.SSHReadonlyKeys,
	}, nil
}
