package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/icfleet/fleetd/internal/metricstore"
	"github.com/icfleet/fleetd/internal/registry"
	"github.com/icfleet/fleetd/internal/rewards"
)

var rewardsCmd = &cobra.Command{
	Use:   "rewards",
	Short: "Compute node provider rewards",
}

var rewardsCalculateCmd = &cobra.Command{
	Use:   "calculate",
	Short: "Compute per-provider rewards over a period",
	RunE:  runRewardsCalculate,
}

func init() {
	rootCmd.AddCommand(rewardsCmd)
	rewardsCmd.AddCommand(rewardsCalculateCmd)
	rewardsCalculateCmd.Flags().String("start", "", "period start day (YYYY-MM-DD)")
	rewardsCalculateCmd.Flags().String("end", "", "period end day (YYYY-MM-DD)")
	rewardsCalculateCmd.Flags().Bool("log", false, "include the computation log")
}

func parseDay(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid day %q: %w", s, err)
	}
	return t.UTC(), nil
}

func runRewardsCalculate(cmd *cobra.Command, _ []string) error {
	cli, err := loadCLIContext(cmd.Context())
	if err != nil {
		return err
	}
	defer cli.Close()

	startRaw, _ := cmd.Flags().GetString("start")
	endRaw, _ := cmd.Flags().GetString("end")
	var period rewards.Period
	switch {
	case startRaw != "" && endRaw != "":
		start, err := parseDay(startRaw)
		if err != nil {
			return err
		}
		end, err := parseDay(endRaw)
		if err != nil {
			return err
		}
		period = rewards.Period{Start: start, End: end}
	case startRaw == "" && endRaw == "":
		end := time.Now().UTC().AddDate(0, 0, -1)
		period = rewards.Period{Start: end.AddDate(0, 0, -(cli.runtime.RewardPeriodDays - 1)), End: end}
	default:
		return fmt.Errorf("--start and --end must be given together")
	}

	snap, err := cli.projection.Latest()
	if err != nil {
		return err
	}
	table := snap.RewardsTable()
	if table.Empty() {
		// Non-mainnet networks have no rewards table; an empty result is
		// the benign outcome.
		fmt.Println("registry carries no rewards table; nothing to compute")
		return nil
	}

	store, err := metricstore.Open(cli.env.CacheDir)
	if err != nil {
		return err
	}
	defer store.Close()
	metrics, err := store.QueryPeriod(period.Start, period.End)
	if err != nil {
		return err
	}

	rewardables, err := rewardableNodes(snap)
	if err != nil {
		return err
	}

	result, err := rewards.Calculate(cmd.Context(), rewards.Request{
		Period:  period,
		Table:   table,
		Nodes:   rewardables,
		Metrics: metrics,
	})
	if err != nil {
		return err
	}

	type providerView struct {
		Provider                string   `json:"provider_id"`
		XDRPermyriad            uint64   `json:"xdr_permyriad"`
		XDRPermyriadNoReduction uint64   `json:"xdr_permyriad_no_reduction"`
		Nodes                   int      `json:"nodes"`
		Log                     []string `json:"log,omitempty"`
	}
	includeLog, _ := cmd.Flags().GetBool("log")
	var providers []providerView
	for _, p := range result.Log.Providers() {
		pr, ok := result.Providers[p]
		if !ok {
			continue
		}
		view := providerView{
			Provider:                p.String(),
			XDRPermyriad:            pr.XDRPermyriad,
			XDRPermyriadNoReduction: pr.XDRPermyriadNoReduction,
			Nodes:                   len(pr.Nodes),
		}
		if includeLog {
			view.Log = result.Log.Entries(p)
		}
		providers = append(providers, view)
	}
	return printJSON(map[string]any{
		"period_start": period.Start.Format("2006-01-02"),
		"period_end":   period.End.Format("2006-01-02"),
		"providers":    providers,
	})
}

// rewardableNodes flattens the snapshot into the rewards pipeline input:
// provider via the node's operator, region from the feature map. When the
// registry carries a reward-type table, nodes with unlisted types are
// skipped.
func rewardableNodes(snap *registry.Snapshot) ([]rewards.RewardableNode, error) {
	known := make(map[string]struct{})
	for _, t := range snap.NodeRewardTypes() {
		known[t] = struct{}{}
	}

	var out []rewards.RewardableNode
	for _, n := range snap.Nodes() {
		if len(known) > 0 {
			if _, ok := known[n.NodeType]; !ok {
				continue
			}
		}
		op, ok := snap.Operator(n.OperatorID)
		if !ok {
			return nil, fmt.Errorf("node %s has no operator record", n.ID.Short())
		}
		out = append(out, rewards.RewardableNode{
			ID:       n.ID,
			Provider: op.ProviderID,
			Region:   n.Features.Region(),
			NodeType: n.NodeType,
		})
	}
	return out, nil
}
