package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

var registryCmd = &cobra.Command{
	Use:   "registry",
	Short: "Inspect the projected registry",
}

var registryDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print the projected snapshot, optionally one key family",
	RunE:  runRegistryDump,
}

func init() {
	rootCmd.AddCommand(registryCmd)
	registryCmd.AddCommand(registryDumpCmd)
	registryDumpCmd.Flags().String("family", "", "key family prefix to dump raw (e.g. node_record_)")
}

func runRegistryDump(cmd *cobra.Command, _ []string) error {
	cli, err := loadCLIContext(cmd.Context())
	if err != nil {
		return err
	}
	defer cli.Close()

	snap, err := cli.projection.Latest()
	if err != nil {
		return err
	}

	if family, _ := cmd.Flags().GetString("family"); family != "" {
		raw := snap.Family(family)
		out := make(map[string]json.RawMessage, len(raw))
		for k, v := range raw {
			out[k] = json.RawMessage(v)
		}
		return printJSON(map[string]any{
			"version": snap.Version(),
			"family":  family,
			"records": out,
		})
	}

	type nodeDump struct {
		ID       string `json:"id"`
		IPv6     string `json:"ipv6"`
		Operator string `json:"operator_id"`
		Subnet   string `json:"subnet_id,omitempty"`
		NodeType string `json:"node_type"`
	}
	type subnetDump struct {
		ID             string `json:"id"`
		Name           string `json:"name"`
		Type           string `json:"type"`
		Members        int    `json:"members"`
		ReplicaVersion string `json:"replica_version"`
	}

	var nodes []nodeDump
	for _, n := range snap.Nodes() {
		d := nodeDump{
			ID:       n.ID.String(),
			IPv6:     n.IPv6.String(),
			Operator: n.OperatorID.String(),
			NodeType: n.NodeType,
		}
		if n.SubnetID != nil {
			d.Subnet = n.SubnetID.String()
		}
		nodes = append(nodes, d)
	}
	var subnets []subnetDump
	for _, s := range snap.Subnets() {
		subnets = append(subnets, subnetDump{
			ID:             s.ID.String(),
			Name:           s.Metadata.Name,
			Type:           s.Type.String(),
			Members:        len(s.Members),
			ReplicaVersion: s.ReplicaVersion,
		})
	}
	return printJSON(map[string]any{
		"version":          snap.Version(),
		"nodes":            nodes,
		"subnets":          subnets,
		"elected_versions": snap.ElectedReplicaVersions(),
		"reward_types":     snap.NodeRewardTypes(),
		"unassigned_nodes": len(snap.UnassignedNodes()),
	})
}
