package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/icfleet/fleetd/internal/proposal"
	"github.com/icfleet/fleetd/internal/rollout"
)

var rolloutCmd = &cobra.Command{
	Use:   "rollout",
	Short: "Inspect the staged version rollout",
}

var rolloutPlanCmd = &cobra.Command{
	Use:   "plan",
	Short: "Print the rollout plan for the latest release",
	RunE:  runRolloutPlan,
}

func init() {
	rootCmd.AddCommand(rolloutCmd)
	rolloutCmd.AddCommand(rolloutPlanCmd)
}

func runRolloutPlan(cmd *cobra.Command, _ []string) error {
	cli, err := loadCLIContext(cmd.Context())
	if err != nil {
		return err
	}
	defer cli.Close()

	snap, err := cli.projection.Latest()
	if err != nil {
		return err
	}
	graph, err := rollout.NewGraph(snap.ElectedReplicaVersions())
	if err != nil {
		return err
	}

	var updates []proposal.SubnetUpdate
	var feed rollout.StatusFeed
	timeout := cli.runtime.OracleTimeout.Std()
	if cli.env.ProposalEndpoint != "" {
		agent := newHTTPProposalAgent(cli.env.ProposalEndpoint, timeout)
		infos, err := agent.List(cmd.Context(), proposal.Filter{
			Topics: []proposal.Topic{proposal.TopicIcOsVersionDeployment},
		})
		if err != nil {
			return err
		}
		updates = proposal.SubnetUpdates(infos)
	}
	if cli.env.HealthEndpoint != "" {
		feed = newHTTPStatusFeed(cli.env.HealthEndpoint, timeout)
	}

	builder := &rollout.Builder{
		Subnets: snap.Subnets(),
		Graph:   graph,
		Feed:    feed,
	}
	plan, err := builder.Plan(cmd.Context(), updates)
	if err != nil {
		return err
	}
	if plan == nil {
		return errors.New("no rollout plan")
	}

	type updateView struct {
		SubnetID   string `json:"subnet_id"`
		SubnetName string `json:"subnet_name"`
		State      string `json:"state"`
		Patches    int    `json:"patches_available"`
	}
	type stageView struct {
		Start   string       `json:"start"`
		Active  bool         `json:"active,omitempty"`
		Updates []updateView `json:"updates"`
	}
	out := struct {
		State         string      `json:"state"`
		LatestRelease string      `json:"latest_release"`
		ReleaseName   string      `json:"release_name"`
		Stages        []stageView `json:"stages"`
	}{
		State:         plan.State.String(),
		LatestRelease: plan.LatestRelease.CommitHash,
		ReleaseName:   plan.LatestRelease.Name,
	}
	for _, s := range plan.Stages {
		sv := stageView{Start: s.Start.UTC().Format("2006-01-02 15:04"), Active: s.Active}
		if !s.HasStartTime {
			sv.Start = s.Start.UTC().Format("2006-01-02")
		}
		for _, u := range s.Updates {
			sv.Updates = append(sv.Updates, updateView{
				SubnetID:   u.SubnetID.String(),
				SubnetName: u.SubnetName,
				State:      u.State.String(),
				Patches:    len(u.PatchesAvailable),
			})
		}
		out.Stages = append(out.Stages, sv)
	}
	return printJSON(out)
}
