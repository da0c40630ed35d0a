package rollout

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/icfleet/fleetd/internal/model"
	"github.com/icfleet/fleetd/internal/principal"
	"github.com/icfleet/fleetd/internal/proposal"
)

const (
	// Proposals submitted within this window of each other belong to the
	// same rollout stage.
	StageProposalProximity = 30 * time.Minute

	// BakeDuration is how long a subnet must stay on the new version
	// without a paging alert before its update counts as complete.
	BakeDuration = 30 * time.Minute

	// MaxStageSize caps how many subnets upgrade in one stage.
	MaxStageSize = 4

	// NNSSubnetName marks the subnet that always rolls out last.
	NNSSubnetName = "NNS"
)

// UpdateState tracks one subnet's upgrade progress.
type UpdateState int

const (
	StateUnknown UpdateState = iota
	StateScheduled
	StateSubmitted
	StatePreparing
	StateUpdating
	StateBaking
	StateComplete
)

// String implements fmt.Stringer.
func (s UpdateState) String() string {
	switch s {
	case StateScheduled:
		return "scheduled"
	case StateSubmitted:
		return "submitted"
	case StatePreparing:
		return "preparing"
	case StateUpdating:
		return "updating"
	case StateBaking:
		return "baking"
	case StateComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// SubnetUpdate is one subnet's slot in a rollout stage.
type SubnetUpdate struct {
	State            UpdateState
	SubnetID         principal.SubnetID
	SubnetName       string
	Proposal         *proposal.SubnetUpdate
	PatchesAvailable []model.Release
	Release          model.Release
}

// Stage is a batch of subnet updates expected to execute and bake
// together. Submitted stages carry the proposal submission time; the
// scheduled ones only a day.
type Stage struct {
	Start        time.Time
	HasStartTime bool
	Updates      []SubnetUpdate
	Active       bool
}

// PlanState summarizes a whole rollout.
type PlanState int

const (
	PlanActive PlanState = iota
	PlanScheduled
	PlanComplete
)

// String implements fmt.Stringer.
func (s PlanState) String() string {
	switch s {
	case PlanScheduled:
		return "scheduled"
	case PlanComplete:
		return "complete"
	default:
		return "active"
	}
}

// Plan is the rollout of the latest release across all subnets.
type Plan struct {
	State         PlanState
	LatestRelease model.Release
	Stages        []Stage
}

// StatusSignals are the three observations the metrics feed reports for
// one subnet and version; see stateFromSignals for the mapping.
type StatusSignals struct {
	// Preparing: the count of nodes on the new version is still below the
	// DKG committee size.
	Preparing bool
	// Updating: some nodes report the new version, quorum not reached.
	Updating bool
	// Baked: 30 contiguous minutes on the version without a paging alert.
	Baked bool
}

// StatusFeed supplies StatusSignals. The only suspension point of the
// plan construction besides the proposal listing.
type StatusFeed interface {
	Signals(ctx context.Context, subnetID principal.SubnetID, version string, since time.Time) (StatusSignals, error)
}

// StatusFeedFunc adapts a function to the StatusFeed interface.
type StatusFeedFunc func(ctx context.Context, subnetID principal.SubnetID, version string, since time.Time) (StatusSignals, error)

// Signals implements StatusFeed.
func (f StatusFeedFunc) Signals(ctx context.Context, subnetID principal.SubnetID, version string, since time.Time) (StatusSignals, error) {
	return f(ctx, subnetID, version, since)
}

func stateFromSignals(s StatusSignals) UpdateState {
	switch {
	case s.Preparing:
		return StatePreparing
	case s.Updating:
		return StateUpdating
	case s.Baked:
		return StateComplete
	default:
		return StateBaking
	}
}

// Builder constructs rollout plans from a subnet snapshot, the elected
// release graph and a status feed.
type Builder struct {
	Subnets []*model.Subnet
	Graph   *Graph
	Feed    StatusFeed
	Now     func() time.Time
}

func (b *Builder) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

func (b *Builder) subnet(id principal.SubnetID) (*model.Subnet, bool) {
	for _, s := range b.Subnets {
		if s.ID == id {
			return s, true
		}
	}
	return nil, false
}

// Plan builds the rollout for the latest release given the in-flight
// upgrade proposals. Cancellation is checked between stage status
// observations.
func (b *Builder) Plan(ctx context.Context, updates []proposal.SubnetUpdate) (*Plan, error) {
	latest, ok := b.Graph.Latest()
	if !ok {
		return nil, fmt.Errorf("%w: empty release graph", ErrMalformedRelease)
	}

	relevant := make([]proposal.SubnetUpdate, 0, len(updates))
	for _, u := range updates {
		if b.Graph.NameContains(latest.Name, u.Version) {
			relevant = append(relevant, u)
		}
	}

	submitted, err := b.stagesFromProposals(ctx, relevant)
	if err != nil {
		return nil, err
	}

	today := dateOf(b.now())
	startDay := today
	if len(submitted) > 0 {
		startDay = dateOf(submitted[0].Start)
	}
	days := remainingDays(rolloutDays(startDay, today), today)

	scheduled, err := b.scheduleRemaining(latest, submitted, days, today)
	if err != nil {
		return nil, err
	}

	stages := make([]Stage, 0, len(submitted)+len(scheduled))
	for _, s := range append(submitted, scheduled...) {
		if len(s.Updates) > 0 {
			stages = append(stages, s)
		}
	}
	return &Plan{
		State:         planState(stages),
		LatestRelease: latest,
		Stages:        stages,
	}, nil
}

// scheduleRemaining lays the not-yet-submitted subnets over the rollout
// days: a canary alone when nothing was submitted yet, then stages that
// grow by one per day up to MaxStageSize, and the NNS subnet alone on
// the last day.
func (b *Builder) scheduleRemaining(latest model.Release, submitted []Stage, days []time.Time, today time.Time) ([]Stage, error) {
	inSubmitted := make(map[principal.SubnetID]struct{})
	for _, s := range submitted {
		for _, u := range s.Updates {
			inSubmitted[u.SubnetID] = struct{}{}
		}
	}

	var nnsSubnet *model.Subnet
	var leftover []*model.Subnet
	for _, s := range b.Subnets {
		if _, ok := inSubmitted[s.ID]; ok {
			continue
		}
		if s.Metadata.Name == NNSSubnetName {
			nnsSubnet = s
			continue
		}
		leftover = append(leftover, s)
	}
	sort.Slice(leftover, func(i, j int) bool { return leftover[i].ID.Compare(leftover[j].ID.Principal) < 0 })

	if len(days) == 0 {
		days = []time.Time{today}
	}
	// When only one subnet remains before the NNS day, finish it on the
	// first remaining day instead of stretching the layout.
	if len(leftover) == 1 {
		onFirst := false
		for _, s := range submitted {
			if dateOf(s.Start).Equal(days[0]) {
				onFirst = true
				break
			}
		}
		if !onFirst {
			days = days[:1]
		}
	}

	groups := make([][]Stage, len(days))
	overheads := make([]int, len(days))
	// The day before the NNS rollout runs two stages short so the week's
	// rollout finishes earlier in the day.
	if len(days) >= 2 {
		overheads[len(days)-2] = 2
	}
	submittedToday := 0
	allToday := true
	for _, s := range submitted {
		if dateOf(s.Start).Equal(today) {
			submittedToday++
		} else {
			allToday = false
		}
	}
	if allToday {
		overheads[0]++
	}
	overheads[0] += submittedToday

	// Canary: a rollout that has not started yet begins with a single
	// subnet today.
	if len(submitted) == 0 && len(leftover) > 0 {
		update, err := b.scheduledUpdate(latest, leftover[0])
		if err != nil {
			return nil, err
		}
		groups[0] = append(groups[0], Stage{Start: days[0], Updates: []SubnetUpdate{update}})
		leftover = leftover[1:]
	}

	distinctEarlierDays := make(map[time.Time]struct{})
	for _, s := range submitted {
		if d := dateOf(s.Start); !d.Equal(today) {
			distinctEarlierDays[d] = struct{}{}
		}
	}
	firstStageSizeToday := len(distinctEarlierDays) + 1

	fillable := len(days) - 1
	if fillable < 1 {
		fillable = len(days)
	}
	for len(leftover) > 0 {
		minCount := -1
		for i := 0; i < fillable; i++ {
			c := len(groups[i]) + overheads[i]
			if minCount < 0 || c < minCount {
				minCount = c
			}
		}
		for i := fillable - 1; i >= 0 && len(leftover) > 0; i-- {
			if len(groups[i])+overheads[i] > minCount {
				continue
			}
			size := firstStageSizeToday + i
			if len(groups[i]) > 0 {
				size++
			}
			if size > MaxStageSize {
				size = MaxStageSize
			}
			if size > len(leftover) {
				size = len(leftover)
			}
			stage := Stage{Start: days[i]}
			for _, s := range leftover[:size] {
				update, err := b.scheduledUpdate(latest, s)
				if err != nil {
					return nil, err
				}
				stage.Updates = append(stage.Updates, update)
			}
			leftover = leftover[size:]
			groups[i] = append(groups[i], stage)
		}
	}

	var out []Stage
	for _, g := range groups {
		out = append(out, g...)
	}
	if nnsSubnet != nil {
		update, err := b.scheduledUpdate(latest, nnsSubnet)
		if err != nil {
			return nil, err
		}
		out = append(out, Stage{Start: days[len(days)-1], Updates: []SubnetUpdate{update}})
	}
	return out, nil
}

// scheduledUpdate builds the not-yet-submitted update slot for a subnet.
func (b *Builder) scheduledUpdate(latest model.Release, s *model.Subnet) (SubnetUpdate, error) {
	if _, ok := b.Graph.Get(s.ReplicaVersion); !ok {
		return SubnetUpdate{}, fmt.Errorf("%w: subnet %s runs %s", ErrUnknownVersion, s.ID.Short(), s.ReplicaVersion)
	}
	patches, err := b.Graph.PatchesFor(s.ReplicaVersion)
	if err != nil {
		return SubnetUpdate{}, err
	}
	return SubnetUpdate{
		State:            StateScheduled,
		SubnetID:         s.ID,
		SubnetName:       s.Metadata.Name,
		PatchesAvailable: patches,
		Release:          latest,
	}, nil
}

// stagesFromProposals folds the submitted upgrade proposals into stages
// by submission-time proximity and resolves the last stage's states via
// the status feed.
func (b *Builder) stagesFromProposals(ctx context.Context, updates []proposal.SubnetUpdate) ([]Stage, error) {
	sorted := append([]proposal.SubnetUpdate(nil), updates...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Info.SubmittedAt.Before(sorted[j].Info.SubmittedAt)
	})

	var stages []Stage
	for i := range sorted {
		u := sorted[i]
		subnet, ok := b.subnet(u.SubnetID)
		if !ok {
			return nil, fmt.Errorf("%w: proposal %s targets unknown subnet %s",
				ErrUnknownVersion, u.Info.ID.Short(), u.SubnetID.Short())
		}
		release, ok := b.Graph.Get(u.Version)
		if !ok {
			return nil, fmt.Errorf("%w: proposal %s deploys %s", ErrUnknownVersion, u.Info.ID.Short(), u.Version)
		}
		patches, err := b.Graph.PatchesFor(u.Version)
		if err != nil {
			return nil, err
		}

		update := SubnetUpdate{
			State:            StateSubmitted,
			SubnetID:         u.SubnetID,
			SubnetName:       subnet.Metadata.Name,
			Proposal:         &sorted[i],
			PatchesAvailable: patches,
			Release:          release,
		}
		if u.Info.Executed {
			update.State = StateUnknown
		}

		if len(stages) > 0 {
			last := &stages[len(stages)-1]
			prev := last.Updates[len(last.Updates)-1].Proposal
			if u.Info.SubmittedAt.Sub(prev.Info.SubmittedAt) < StageProposalProximity {
				last.Updates = append(last.Updates, update)
				continue
			}
			// A new stage starting means the previous one finished.
			last.Active = false
			for j := range last.Updates {
				last.Updates[j].State = StateComplete
			}
		}
		stages = append(stages, Stage{
			Start:        u.Info.SubmittedAt,
			HasStartTime: true,
			Updates:      []SubnetUpdate{update},
			Active:       true,
		})
	}

	if len(stages) > 0 {
		last := &stages[len(stages)-1]
		for j := range last.Updates {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("rollout: %w", err)
			}
			u := &last.Updates[j]
			if u.State != StateUnknown || b.Feed == nil {
				continue
			}
			signals, err := b.Feed.Signals(ctx, u.SubnetID, u.Release.CommitHash, last.Start)
			if err != nil {
				log.Printf("[rollout] status of subnet %s on %s unavailable: %v", u.SubnetID.Short(), u.Release.CommitHash, err)
				continue
			}
			u.State = stateFromSignals(signals)
		}
		active := false
		for _, u := range last.Updates {
			if u.State != StateComplete {
				active = true
				break
			}
		}
		last.Active = active
	}
	return stages, nil
}

func planState(stages []Stage) PlanState {
	allScheduled, allComplete := true, true
	for _, s := range stages {
		for _, u := range s.Updates {
			if u.State != StateScheduled {
				allScheduled = false
			}
			if u.State != StateComplete {
				allComplete = false
			}
		}
	}
	switch {
	case allScheduled:
		return PlanScheduled
	case allComplete:
		return PlanComplete
	default:
		return PlanActive
	}
}
