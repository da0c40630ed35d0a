// Package rollout builds per-day rollout plans for new replica versions:
// which subnets upgrade together, when, and how far each in-flight
// upgrade has progressed.
package rollout

import (
	"errors"
	"fmt"
	"sort"

	"github.com/icfleet/fleetd/internal/model"
)

var (
	// ErrUnknownVersion is returned when a subnet runs a commit the
	// release graph does not contain.
	ErrUnknownVersion = errors.New("rollout: unknown version")

	// ErrMalformedRelease is returned for releases without a name or with
	// a broken patch chain.
	ErrMalformedRelease = errors.New("rollout: malformed release")
)

// Graph is an acyclic arena of releases keyed by commit hash. Patch
// chains are PreviousPatch links inside one release name.
type Graph struct {
	byHash map[string]model.Release
	// next maps a commit to the patch that supersedes it.
	next map[string]string
}

// NewGraph validates and indexes the elected releases: names must be
// non-empty, chains acyclic, and every chain node must share its release
// name with its ancestor.
func NewGraph(releases []model.Release) (*Graph, error) {
	g := &Graph{
		byHash: make(map[string]model.Release, len(releases)),
		next:   make(map[string]string, len(releases)),
	}
	for _, r := range releases {
		if r.CommitHash == "" || r.Name == "" {
			return nil, fmt.Errorf("%w: commit %q name %q", ErrMalformedRelease, r.CommitHash, r.Name)
		}
		if _, ok := g.byHash[r.CommitHash]; ok {
			return nil, fmt.Errorf("%w: duplicate commit %s", ErrMalformedRelease, r.CommitHash)
		}
		g.byHash[r.CommitHash] = r
	}
	for _, r := range releases {
		if r.PreviousPatch == "" {
			continue
		}
		prev, ok := g.byHash[r.PreviousPatch]
		if !ok {
			return nil, fmt.Errorf("%w: %s references unknown patch %s", ErrMalformedRelease, r.CommitHash, r.PreviousPatch)
		}
		if prev.Name != r.Name {
			return nil, fmt.Errorf("%w: %s and its ancestor %s disagree on release name", ErrMalformedRelease, r.CommitHash, r.PreviousPatch)
		}
		g.next[r.PreviousPatch] = r.CommitHash
	}
	// Walk every chain to its head; a cycle never terminates within
	// len(releases) steps.
	for _, r := range releases {
		steps := 0
		for cur := r; cur.PreviousPatch != ""; cur = g.byHash[cur.PreviousPatch] {
			steps++
			if steps > len(releases) {
				return nil, fmt.Errorf("%w: cycle through %s", ErrMalformedRelease, r.CommitHash)
			}
		}
	}
	return g, nil
}

// Get returns one release by commit hash.
func (g *Graph) Get(hash string) (model.Release, bool) {
	r, ok := g.byHash[hash]
	return r, ok
}

// Latest returns the release with the greatest release time.
func (g *Graph) Latest() (model.Release, bool) {
	var latest model.Release
	found := false
	for _, r := range g.byHash {
		if !found || r.Time.After(latest.Time) || (r.Time.Equal(latest.Time) && r.CommitHash > latest.CommitHash) {
			latest = r
			found = true
		}
	}
	return latest, found
}

// NameContains reports whether the commit belongs to the named release.
func (g *Graph) NameContains(name, hash string) bool {
	r, ok := g.byHash[hash]
	return ok && r.Name == name
}

// PatchesFor returns the patch chain strictly forward of the given
// commit, oldest first: the releases a subnet on that commit can still
// pick up.
func (g *Graph) PatchesFor(hash string) ([]model.Release, error) {
	if _, ok := g.byHash[hash]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVersion, hash)
	}
	var out []model.Release
	for cur := hash; ; {
		next, ok := g.next[cur]
		if !ok {
			break
		}
		out = append(out, g.byHash[next])
		cur = next
	}
	return out, nil
}

// Releases returns every release ordered by time, then commit hash.
func (g *Graph) Releases() []model.Release {
	out := make([]model.Release, 0, len(g.byHash))
	for _, r := range g.byHash {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Time.Equal(out[j].Time) {
			return out[i].Time.Before(out[j].Time)
		}
		return out[i].CommitHash < out[j].CommitHash
	})
	return out
}
