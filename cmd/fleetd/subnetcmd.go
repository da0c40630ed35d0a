package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/icfleet/fleetd/internal/heal"
	"github.com/icfleet/fleetd/internal/model"
	"github.com/icfleet/fleetd/internal/planner"
	"github.com/icfleet/fleetd/internal/principal"
)

var subnetCmd = &cobra.Command{
	Use:   "subnet",
	Short: "Plan subnet membership changes",
}

var subnetHealCmd = &cobra.Command{
	Use:   "heal",
	Short: "Replace unhealthy and cordoned nodes across all subnets",
	RunE:  runSubnetHeal,
}

var subnetOptimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Improve decentralization of rule-violating subnets without healing",
	RunE:  runSubnetOptimize,
}

var subnetReplaceCmd = &cobra.Command{
	Use:   "replace SUBNET_ID",
	Short: "Replace nodes in one subnet",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubnetReplace,
}

func init() {
	rootCmd.AddCommand(subnetCmd)
	subnetCmd.AddCommand(subnetHealCmd)
	subnetCmd.AddCommand(subnetOptimizeCmd)
	subnetCmd.AddCommand(subnetReplaceCmd)

	subnetReplaceCmd.Flags().Int("count", 1, "replacement count")
	subnetReplaceCmd.Flags().StringSlice("must-remove", nil, "node ids that must leave the subnet")
	subnetReplaceCmd.Flags().StringSlice("include", nil, "node ids that must join the subnet")
}

// changeView renders a CandidateChange for output.
type changeView struct {
	SubnetID      string   `json:"subnet_id"`
	Added         []string `json:"added"`
	Removed       []string `json:"removed"`
	ScoreBefore   float64  `json:"score_before"`
	ScoreAfter    float64  `json:"score_after"`
	PenaltyBefore int      `json:"penalty_before"`
	PenaltyAfter  int      `json:"penalty_after"`
	Motivation    string   `json:"motivation"`
	Warn          bool     `json:"warn,omitempty"`
}

func viewOf(c model.CandidateChange) changeView {
	v := changeView{
		SubnetID:      c.SubnetID.String(),
		ScoreBefore:   c.ScoreBefore,
		ScoreAfter:    c.ScoreAfter,
		PenaltyBefore: c.PenaltyBefore,
		PenaltyAfter:  c.PenaltyAfter,
		Motivation:    c.Motivation,
		Warn:          c.Warn,
	}
	for _, id := range c.Added {
		v.Added = append(v.Added, id.String())
	}
	for _, id := range c.Removed {
		v.Removed = append(v.Removed, id.String())
	}
	return v
}

func runFixAndOptimize(cmd *cobra.Command, healNodes, optimize bool) error {
	cli, err := loadCLIContext(cmd.Context())
	if err != nil {
		return err
	}
	defer cli.Close()

	snap, err := cli.projection.Latest()
	if err != nil {
		return err
	}
	table, err := cli.fetchHealth(cmd.Context())
	if err != nil {
		return err
	}

	cordons := make([]heal.Cordon, 0, len(cli.runtime.Cordons))
	for _, c := range cli.runtime.Cordons {
		feature, ok := model.ParseNodeFeature(c.Feature)
		if !ok {
			return fmt.Errorf("unknown cordoned feature %q", c.Feature)
		}
		cordons = append(cordons, heal.Cordon{Feature: feature, Value: c.Value, Explanation: c.Explanation})
	}

	changes, err := heal.FixAndOptimize(cmd.Context(), heal.Request{
		View:             snap,
		Health:           table,
		Cordons:          cordons,
		ImportantSubnets: cli.runtime.ImportantSubnets,
		Heal:             healNodes && cli.runtime.HealEnabled,
		Optimize:         optimize && cli.runtime.OptimizeEnabled,
		RemoveCordoned:   healNodes && cli.runtime.RemoveCordonedEnabled,
	})
	if err != nil {
		return err
	}

	views := make([]changeView, 0, len(changes))
	for _, c := range changes {
		views = append(views, viewOf(c))
	}
	return printJSON(map[string]any{
		"registry_version": snap.Version(),
		"changes":          views,
	})
}

func runSubnetHeal(cmd *cobra.Command, _ []string) error {
	return runFixAndOptimize(cmd, true, true)
}

func runSubnetOptimize(cmd *cobra.Command, _ []string) error {
	return runFixAndOptimize(cmd, false, true)
}

func runSubnetReplace(cmd *cobra.Command, args []string) error {
	cli, err := loadCLIContext(cmd.Context())
	if err != nil {
		return err
	}
	defer cli.Close()

	subnetPrincipal, err := principal.Parse(args[0])
	if err != nil {
		return fmt.Errorf("subnet id: %w", err)
	}
	subnetID := principal.SubnetID{Principal: subnetPrincipal}

	snap, err := cli.projection.Latest()
	if err != nil {
		return err
	}
	subnet, ok := snap.Subnet(subnetID)
	if !ok {
		return fmt.Errorf("subnet %s not in registry", subnetID.Short())
	}
	table, err := cli.fetchHealth(cmd.Context())
	if err != nil {
		return err
	}

	parseNodeIDs := func(raw []string) ([]principal.NodeID, error) {
		out := make([]principal.NodeID, 0, len(raw))
		for _, s := range raw {
			p, err := principal.Parse(s)
			if err != nil {
				return nil, fmt.Errorf("node id %q: %w", s, err)
			}
			out = append(out, principal.NodeID{Principal: p})
		}
		return out, nil
	}
	mustRemoveRaw, _ := cmd.Flags().GetStringSlice("must-remove")
	includeRaw, _ := cmd.Flags().GetStringSlice("include")
	count, _ := cmd.Flags().GetInt("count")
	mustRemove, err := parseNodeIDs(mustRemoveRaw)
	if err != nil {
		return err
	}
	include, err := parseNodeIDs(includeRaw)
	if err != nil {
		return err
	}

	change, err := planner.Plan(planner.Request{
		SubnetID:     subnetID,
		SubnetType:   subnet.Type,
		Members:      snap.SubnetMembers(subnetID),
		Pool:         table.Healthy(snap.UnassignedNodes()),
		Replacements: count,
		MustRemove:   mustRemove,
		ForceInclude: include,
	})
	if err != nil {
		return err
	}
	return printJSON(viewOf(change))
}
