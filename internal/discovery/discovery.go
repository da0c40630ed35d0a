// Package discovery emits per-job scrape-target sets from a registry
// snapshot, in the file-sd target-group shape prometheus consumes.
package discovery

import (
	"fmt"
	"net/netip"
	"sort"

	"github.com/icfleet/fleetd/internal/model"
	"github.com/icfleet/fleetd/internal/principal"
)

// View is the registry surface the adapter reads. Implemented by
// registry.Snapshot.
type View interface {
	Subnets() []*model.Subnet
	SubnetMembers(id principal.SubnetID) []*model.Node
	UnassignedNodes() []*model.Node
}

// Job is one scrape job with its well-known port.
type Job string

const (
	JobReplica      Job = "replica"
	JobOrchestrator Job = "orchestrator"
	JobNodeExporter Job = "node_exporter"
	JobHostMetrics  Job = "host_node_exporter"
)

// jobPorts maps each job to the port its exporter listens on.
var jobPorts = map[Job]uint16{
	JobReplica:      9090,
	JobOrchestrator: 9091,
	JobNodeExporter: 9100,
	JobHostMetrics:  9100,
}

// AllJobs lists every job in canonical order.
func AllJobs() []Job {
	return []Job{JobReplica, JobOrchestrator, JobNodeExporter, JobHostMetrics}
}

// Port returns the job's scrape port.
func (j Job) Port() (uint16, bool) {
	p, ok := jobPorts[j]
	return p, ok
}

// TargetGroup is one labeled group of scrape targets.
type TargetGroup struct {
	Targets []string          `json:"targets"`
	Labels  map[string]string `json:"labels"`
}

// guestToHostAddr maps a replica (guest) IPv6 to the host address by
// flipping segment 4 from 0x6801 to 0x6800; the underlying MAC differs
// in exactly that bit. Addresses with any other layout are dropped.
func guestToHostAddr(addr netip.Addr) (netip.Addr, bool) {
	if !addr.Is6() || addr.Is4In6() {
		return netip.Addr{}, false
	}
	b := addr.As16()
	if b[8] != 0x68 || b[9] != 0x01 {
		return netip.Addr{}, false
	}
	b[9] = 0x00
	return netip.AddrFrom16(b), true
}

// Targets builds the target groups of one job over the snapshot: one
// group per subnet plus one for unassigned nodes. The host metrics job
// substitutes host addresses and drops nodes whose address does not
// follow the guest layout.
func Targets(snap View, job Job) ([]TargetGroup, error) {
	port, ok := job.Port()
	if !ok {
		return nil, fmt.Errorf("discovery: unknown job %q", job)
	}

	groupFor := func(subnetName string, nodes []*model.Node) TargetGroup {
		group := TargetGroup{
			Labels: map[string]string{
				"job": string(job),
			},
		}
		if subnetName != "" {
			group.Labels["ic_subnet"] = subnetName
		}
		for _, n := range nodes {
			addr := n.IPv6
			if job == JobHostMetrics {
				host, ok := guestToHostAddr(addr)
				if !ok {
					continue
				}
				addr = host
			}
			group.Targets = append(group.Targets, netip.AddrPortFrom(addr, port).String())
		}
		sort.Strings(group.Targets)
		return group
	}

	var out []TargetGroup
	for _, subnet := range snap.Subnets() {
		group := groupFor(subnet.Metadata.Name, snap.SubnetMembers(subnet.ID))
		if len(group.Targets) > 0 {
			out = append(out, group)
		}
	}
	if group := groupFor("", snap.UnassignedNodes()); len(group.Targets) > 0 {
		out = append(out, group)
	}
	return out, nil
}
