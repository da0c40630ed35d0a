// Package model defines domain structs shared across the projection,
// planning, rollout and rewards layers: nodes, operators, providers,
// data centers, subnets, elected versions and per-day node metrics.
// Instances are owned by a registry snapshot; downstream code never
// mutates them, it projects a newer version instead.
package model

import (
	"net/netip"
	"time"

	"github.com/icfleet/fleetd/internal/principal"
)

// Health is the node status reported by the health oracle.
type Health int

const (
	HealthUnknown Health = iota
	HealthHealthy
	HealthDegraded
	HealthDead
)

// String implements fmt.Stringer.
func (h Health) String() string {
	switch h {
	case HealthHealthy:
		return "healthy"
	case HealthDegraded:
		return "degraded"
	case HealthDead:
		return "dead"
	default:
		return "unknown"
	}
}

// IsHealthy reports whether a node in this state may serve in a subnet.
func (h Health) IsHealthy() bool { return h == HealthHealthy }

// Node is a registered machine. Created by a registry transition and
// mutated only by later transitions.
type Node struct {
	ID            principal.NodeID
	IPv6          netip.Addr
	OperatorID    principal.OperatorID
	SubnetID      *principal.SubnetID // nil while unassigned
	DfinityOwned  bool
	HostOSVersion string
	NodeType      string
	Features      FeatureMap
}

// Assigned reports whether the node currently belongs to a subnet.
func (n *Node) Assigned() bool { return n.SubnetID != nil }

// Operator administers nodes under an allowance granted to its provider.
type Operator struct {
	ID                 principal.OperatorID
	ProviderID         principal.ProviderID
	DataCenterID       *principal.DataCenterID
	AllowanceRemaining uint64
	RewardableCounts   map[string]uint32 // node type -> count
}

// Provider owns one or more operators and receives rewards.
type Provider struct {
	ID   principal.ProviderID
	Name string
}

// DataCenter is a physical site hosting nodes.
type DataCenter struct {
	ID        principal.DataCenterID
	Name      string
	Owner     string
	Continent string
	Country   string
	City      string
}

// SubnetType classifies a subnet's governance tier.
type SubnetType int

const (
	SubnetApplication SubnetType = iota
	SubnetVerifiedApplication
	SubnetSystem
)

// String implements fmt.Stringer.
func (t SubnetType) String() string {
	switch t {
	case SubnetSystem:
		return "system"
	case SubnetVerifiedApplication:
		return "verified_application"
	default:
		return "application"
	}
}

// SubnetMetadata carries display information for a subnet.
type SubnetMetadata struct {
	Name   string
	Labels map[string]string
}

// Subnet is a consensus group. Members keeps registry insertion order,
// which downstream code relies on for deterministic iteration.
type Subnet struct {
	ID             principal.SubnetID
	Type           SubnetType
	Members        []principal.NodeID
	ReplicaVersion string
	Metadata       SubnetMetadata
}

// Release is an elected replica or host-OS version. PreviousPatch links
// the patch chain inside one release name; the chain is acyclic.
type Release struct {
	CommitHash    string
	Name          string
	Branch        string
	Time          time.Time
	PreviousPatch string // commit hash of the prior patch, empty at chain head
}

// DailyNodeMetric is one day of observed block production for a node
// inside one subnet. A node that moved subnets within a day produces one
// record per subnet.
type DailyNodeMetric struct {
	DayEnd   time.Time
	SubnetID principal.SubnetID
	Proposed uint64
	Failed   uint64
}

// FailureRate returns failed/(failed+proposed) and whether it is defined.
func (m DailyNodeMetric) FailureRate() (float64, bool) {
	total := m.Proposed + m.Failed
	if total == 0 {
		return 0, false
	}
	return float64(m.Failed) / float64(total), true
}

// CandidateChange is a proposed membership change for one subnet, the
// unit of output of the planner and the heal driver.
type CandidateChange struct {
	SubnetID      principal.SubnetID
	Added         []principal.NodeID
	Removed       []principal.NodeID
	ScoreBefore   float64
	ScoreAfter    float64
	PenaltyBefore int
	PenaltyAfter  int
	Motivation    string
	Warn          bool
}

// NodeCount returns the resulting membership size given the current one.
func (c CandidateChange) NodeCount(current int) int {
	return current + len(c.Added) - len(c.Removed)
}
