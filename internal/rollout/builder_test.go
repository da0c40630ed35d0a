package rollout

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/icfleet/fleetd/internal/model"
	"github.com/icfleet/fleetd/internal/principal"
	"github.com/icfleet/fleetd/internal/proposal"
)

const (
	oldVersion = "v1"
	newVersion = "v2"
)

func testGraph(t *testing.T) *Graph {
	t.Helper()
	g, err := NewGraph([]model.Release{
		{CommitHash: oldVersion, Name: "rc--2024-03-01", Time: day(1)},
		{CommitHash: newVersion, Name: "rc--2024-03-08", Time: day(8)},
	})
	if err != nil {
		t.Fatalf("NewGraph failed: %v", err)
	}
	return g
}

func testSubnets(count int) []*model.Subnet {
	subnets := make([]*model.Subnet, 0, count+1)
	for i := 0; i < count; i++ {
		subnets = append(subnets, &model.Subnet{
			ID:             principal.SubnetIDFromUint64(uint64(i + 1)),
			ReplicaVersion: oldVersion,
			Metadata:       model.SubnetMetadata{Name: fmt.Sprintf("App %d", i+1)},
		})
	}
	subnets = append(subnets, &model.Subnet{
		ID:             principal.SubnetIDFromUint64(999),
		ReplicaVersion: oldVersion,
		Metadata:       model.SubnetMetadata{Name: NNSSubnetName},
	})
	return subnets
}

// tuesday is a mid-week anchor so day layouts avoid weekend edges.
var tuesday = time.Date(2024, 3, 12, 10, 0, 0, 0, time.UTC)

func testBuilder(t *testing.T, subnetCount int) *Builder {
	t.Helper()
	return &Builder{
		Subnets: testSubnets(subnetCount),
		Graph:   testGraph(t),
		Now:     func() time.Time { return tuesday },
	}
}

func submittedUpdate(id uint64, subnet principal.SubnetID, at time.Time, executed bool) proposal.SubnetUpdate {
	return proposal.SubnetUpdate{
		Info: proposal.Info{
			ID:          principal.ProposalIDFromUint64(id),
			Topic:       proposal.TopicIcOsVersionDeployment,
			SubmittedAt: at,
			Executed:    executed,
		},
		SubnetID: subnet,
		Version:  newVersion,
	}
}

func TestPlanCanaryWhenNothingSubmitted(t *testing.T) {
	b := testBuilder(t, 6)
	plan, err := b.Plan(context.Background(), nil)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if plan.State != PlanScheduled {
		t.Fatalf("state = %v, want scheduled", plan.State)
	}
	if len(plan.Stages) == 0 {
		t.Fatal("no stages")
	}
	first := plan.Stages[0]
	if len(first.Updates) != 1 {
		t.Fatalf("canary stage has %d updates, want 1", len(first.Updates))
	}
	if !dateOf(first.Start).Equal(dateOf(tuesday)) {
		t.Fatalf("canary day = %v, want today", first.Start)
	}

	last := plan.Stages[len(plan.Stages)-1]
	if len(last.Updates) != 1 || last.Updates[0].SubnetName != NNSSubnetName {
		t.Fatalf("last stage = %+v, want the NNS subnet alone", last.Updates)
	}
	for _, s := range plan.Stages[:len(plan.Stages)-1] {
		for _, u := range s.Updates {
			if u.SubnetName == NNSSubnetName {
				t.Fatal("NNS scheduled before the last stage")
			}
		}
	}
}

func TestPlanStageSizesCapped(t *testing.T) {
	b := testBuilder(t, 20)
	plan, err := b.Plan(context.Background(), nil)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	total := 0
	for _, s := range plan.Stages {
		if len(s.Updates) > MaxStageSize {
			t.Fatalf("stage has %d updates, cap is %d", len(s.Updates), MaxStageSize)
		}
		total += len(s.Updates)
	}
	if total != 21 {
		t.Fatalf("scheduled %d subnets, want all 21", total)
	}
}

func TestPlanGroupsProposalsByProximity(t *testing.T) {
	b := testBuilder(t, 4)
	subnets := b.Subnets
	updates := []proposal.SubnetUpdate{
		submittedUpdate(1, subnets[0].ID, tuesday.Add(-2*time.Hour), false),
		submittedUpdate(2, subnets[1].ID, tuesday.Add(-2*time.Hour+10*time.Minute), false),
		submittedUpdate(3, subnets[2].ID, tuesday.Add(-1*time.Hour), false),
	}
	plan, err := b.Plan(context.Background(), updates)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	var submitted []Stage
	for _, s := range plan.Stages {
		if s.HasStartTime {
			submitted = append(submitted, s)
		}
	}
	if len(submitted) != 2 {
		t.Fatalf("submitted stages = %d, want 2", len(submitted))
	}
	if len(submitted[0].Updates) != 2 {
		t.Fatalf("first stage has %d updates, want the two within 30 minutes", len(submitted[0].Updates))
	}
	// A later stage implies the earlier one finished.
	if submitted[0].Active {
		t.Fatal("superseded stage still active")
	}
	for _, u := range submitted[0].Updates {
		if u.State != StateComplete {
			t.Fatalf("superseded update state = %v, want complete", u.State)
		}
	}
	if !submitted[1].Active {
		t.Fatal("latest submitted stage should be active")
	}
	if submitted[1].Updates[0].State != StateSubmitted {
		t.Fatalf("pending proposal state = %v, want submitted", submitted[1].Updates[0].State)
	}
}

func TestPlanResolvesExecutedStatesViaFeed(t *testing.T) {
	cases := []struct {
		signals StatusSignals
		want    UpdateState
	}{
		{StatusSignals{Preparing: true}, StatePreparing},
		{StatusSignals{Updating: true}, StateUpdating},
		{StatusSignals{Baked: true}, StateComplete},
		{StatusSignals{}, StateBaking},
	}
	for _, tc := range cases {
		b := testBuilder(t, 2)
		b.Feed = StatusFeedFunc(func(_ context.Context, _ principal.SubnetID, version string, _ time.Time) (StatusSignals, error) {
			if version != newVersion {
				t.Fatalf("feed queried for version %q", version)
			}
			return tc.signals, nil
		})
		updates := []proposal.SubnetUpdate{
			submittedUpdate(1, b.Subnets[0].ID, tuesday.Add(-time.Hour), true),
		}
		plan, err := b.Plan(context.Background(), updates)
		if err != nil {
			t.Fatalf("Plan failed: %v", err)
		}
		got := plan.Stages[0].Updates[0].State
		if got != tc.want {
			t.Fatalf("signals %+v -> state %v, want %v", tc.signals, got, tc.want)
		}
	}
}

func TestPlanUnknownSubnetVersion(t *testing.T) {
	b := testBuilder(t, 2)
	b.Subnets[0].ReplicaVersion = "never-elected"
	_, err := b.Plan(context.Background(), nil)
	if err == nil {
		t.Fatal("expected unknown version error")
	}
}

func TestPlanIgnoresProposalsForOlderReleases(t *testing.T) {
	b := testBuilder(t, 3)
	updates := []proposal.SubnetUpdate{
		{
			Info:     proposal.Info{ID: principal.ProposalIDFromUint64(9), SubmittedAt: tuesday.Add(-time.Hour)},
			SubnetID: b.Subnets[0].ID,
			Version:  oldVersion, // belongs to the previous release name
		},
	}
	plan, err := b.Plan(context.Background(), updates)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	for _, s := range plan.Stages {
		if s.HasStartTime {
			t.Fatal("old-release proposal produced a submitted stage")
		}
	}
}
