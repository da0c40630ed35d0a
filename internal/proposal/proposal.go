// Package proposal adapts the governance proposal listing. The core
// consumes decoded payload envelopes only; submission and transport stay
// with the external agent implementation.
package proposal

import (
	"context"
	"time"

	"github.com/icfleet/fleetd/internal/principal"
)

// Topic classifies proposals on the governance system.
type Topic int

const (
	TopicUnspecified Topic = iota
	TopicSubnetManagement
	TopicNodeAdmin
	TopicParticipantManagement
	TopicIcOsVersionElection
	TopicIcOsVersionDeployment
	TopicNetworkEconomics
)

// String implements fmt.Stringer.
func (t Topic) String() string {
	switch t {
	case TopicSubnetManagement:
		return "subnet_management"
	case TopicNodeAdmin:
		return "node_admin"
	case TopicParticipantManagement:
		return "participant_management"
	case TopicIcOsVersionElection:
		return "ic_os_version_election"
	case TopicIcOsVersionDeployment:
		return "ic_os_version_deployment"
	case TopicNetworkEconomics:
		return "network_economics"
	default:
		return "unspecified"
	}
}

// Info is one listed proposal with its decoded payload envelope.
type Info struct {
	ID          principal.ProposalID
	Proposer    uint64 // neuron id
	Title       string
	Topic       Topic
	SubmittedAt time.Time
	ExecutedAt  time.Time
	Executed    bool
	Payload     Payload
}

// Payload is the decoded action envelope. Only the variants the decision
// core consumes are modeled.
type Payload interface{ isPayload() }

// ChangeSubnetMembership swaps subnet members in one action.
type ChangeSubnetMembership struct {
	SubnetID principal.SubnetID
	Added    []principal.NodeID
	Removed  []principal.NodeID
}

// CreateSubnet forms a new subnet from unassigned nodes.
type CreateSubnet struct {
	Members        []principal.NodeID
	ReplicaVersion string
}

// AddNodesToSubnet grows a subnet.
type AddNodesToSubnet struct {
	SubnetID principal.SubnetID
	Nodes    []principal.NodeID
}

// RemoveNodesFromSubnet shrinks a subnet.
type RemoveNodesFromSubnet struct {
	SubnetID principal.SubnetID
	Nodes    []principal.NodeID
}

// RemoveNodes unregisters nodes entirely.
type RemoveNodes struct {
	Nodes []principal.NodeID
}

// DeployGuestOSToAllSubnetNodes rolls a replica version onto a subnet.
type DeployGuestOSToAllSubnetNodes struct {
	SubnetID principal.SubnetID
	Version  string
}

// UpdateUnassignedNodesConfig changes the version of unassigned nodes.
type UpdateUnassignedNodesConfig struct {
	Version string
}

// ReviseElectedVersions elects and unelects replica or host-OS versions.
type ReviseElectedVersions struct {
	HostOS  bool
	Elect   []string
	Unelect []string
}

func (ChangeSubnetMembership) isPayload()        {}
func (CreateSubnet) isPayload()                  {}
func (AddNodesToSubnet) isPayload()              {}
func (RemoveNodesFromSubnet) isPayload()         {}
func (RemoveNodes) isPayload()                   {}
func (DeployGuestOSToAllSubnetNodes) isPayload() {}
func (UpdateUnassignedNodesConfig) isPayload()   {}
func (ReviseElectedVersions) isPayload()         {}

// Agent lists proposals from the governance system. The only suspension
// point of the rollout scheduler.
type Agent interface {
	List(ctx context.Context, filter Filter) ([]Info, error)
}

// AgentFunc adapts a function to the Agent interface.
type AgentFunc func(ctx context.Context, filter Filter) ([]Info, error)

// List implements Agent.
func (f AgentFunc) List(ctx context.Context, filter Filter) ([]Info, error) {
	return f(ctx, filter)
}

// SubnetUpdate is the flattened view of a deploy-guestos proposal the
// rollout scheduler works with.
type SubnetUpdate struct {
	Info     Info
	SubnetID principal.SubnetID
	Version  string
}

// SubnetUpdates extracts deploy-guestos proposals in listing order.
func SubnetUpdates(infos []Info) []SubnetUpdate {
	var out []SubnetUpdate
	for _, info := range infos {
		if p, ok := info.Payload.(DeployGuestOSToAllSubnetNodes); ok {
			out = append(out, SubnetUpdate{Info: info, SubnetID: p.SubnetID, Version: p.Version})
		}
	}
	return out
}
