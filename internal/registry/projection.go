package registry

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/maypok86/otter"
	"github.com/puzpuzpuz/xsync/v3"
)

const snapshotCacheCapacity = 16

// Projection is the versioned cache over the registry delta stream and
// the single source of truth for every downstream component. The only
// writer is the sync path; readers obtain immutable snapshots.
type Projection struct {
	source   Source
	enricher FeatureEnricher
	store    *Store // optional delta log persistence

	mu      sync.RWMutex
	version uint64
	deltas  []Delta // applied log, ordered by version
	applied map[[16]byte]struct{}

	// latest mirrors the newest value of every live key so reads of the
	// current version never replay the log.
	latest *xsync.MapOf[string, []byte]

	snapshots otter.Cache[uint64, *Snapshot]
}

// ProjectionConfig configures a Projection.
type ProjectionConfig struct {
	Source   Source
	Enricher FeatureEnricher // optional
	Store    *Store          // optional
}

// NewProjection creates an empty projection at version zero.
func NewProjection(cfg ProjectionConfig) *Projection {
	cache, err := otter.MustBuilder[uint64, *Snapshot](snapshotCacheCapacity).
		Cost(func(_ uint64, _ *Snapshot) uint32 { return 1 }).
		Build()
	if err != nil {
		panic("registry: failed to create snapshot cache: " + err.Error())
	}
	return &Projection{
		source:    cfg.Source,
		enricher:  cfg.Enricher,
		store:     cfg.Store,
		applied:   make(map[[16]byte]struct{}),
		latest:    xsync.NewMapOf[string, []byte](),
		snapshots: cache,
	}
}

// Version returns the current cached version.
func (p *Projection) Version() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.version
}

// Restore replays a persisted delta log into an empty projection.
func (p *Projection) Restore() error {
	if p.store == nil {
		return nil
	}
	deltas, err := p.store.LoadDeltas()
	if err != nil {
		return fmt.Errorf("registry: restore: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, d := range deltas {
		p.applyLocked(d)
	}
	if len(deltas) > 0 {
		log.Printf("[registry] restored %d deltas, version %d", len(deltas), p.version)
	}
	return nil
}

// SyncTo advances the cache monotonically to the requested version,
// pulling deltas from the source. Requesting a version lower than the
// cached one fails with ErrNonMonotonic and leaves the cache untouched.
func (p *Projection) SyncTo(ctx context.Context, version uint64) error {
	p.mu.RLock()
	current := p.version
	p.mu.RUnlock()
	if version < current {
		return fmt.Errorf("%w: requested %d, cached %d", ErrNonMonotonic, version, current)
	}
	if version == current {
		return nil
	}

	incoming, err := p.source.Deltas(ctx, current)
	if err != nil {
		return fmt.Errorf("registry: fetch deltas after %d: %w", current, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	fresh := make([]Delta, 0, len(incoming))
	for _, d := range incoming {
		if d.Version > version {
			continue
		}
		if d.Version <= p.version {
			// A replaying source may re-deliver; identical content is benign.
			if _, ok := p.applied[d.ContentHash()]; ok {
				continue
			}
		}
		p.applyLocked(d)
		fresh = append(fresh, d)
	}
	if p.version < version {
		p.version = version
	}
	if p.store != nil {
		if err := p.store.AppendDeltas(fresh); err != nil {
			return fmt.Errorf("registry: persist deltas: %w", err)
		}
	}
	log.Printf("[registry] synced to version %d (%d new deltas)", p.version, len(fresh))
	return nil
}

func (p *Projection) applyLocked(d Delta) {
	p.deltas = append(p.deltas, d)
	p.applied[d.ContentHash()] = struct{}{}
	if d.Tombstone() {
		p.latest.Delete(d.Key)
	} else {
		p.latest.Store(d.Key, d.Value)
	}
	if d.Version > p.version {
		p.version = d.Version
	}
}

// SyncLatest pulls everything the source has past the cached version and
// applies it, returning the new version. The daemon's periodic sync path.
func (p *Projection) SyncLatest(ctx context.Context) (uint64, error) {
	p.mu.RLock()
	current := p.version
	p.mu.RUnlock()

	incoming, err := p.source.Deltas(ctx, current)
	if err != nil {
		return current, fmt.Errorf("registry: fetch deltas after %d: %w", current, err)
	}
	target := current
	for _, d := range incoming {
		if d.Version > target {
			target = d.Version
		}
	}
	if target == current {
		return current, nil
	}
	if err := p.SyncTo(ctx, target); err != nil {
		return current, err
	}
	return target, nil
}

// At returns an immutable view pinned at the given version. The version
// must have been synced already; snapshots are cached per version.
func (p *Projection) At(version uint64) (*Snapshot, error) {
	p.mu.RLock()
	current := p.version
	p.mu.RUnlock()
	if version > current {
		return nil, fmt.Errorf("%w: %d (cached %d)", ErrUnknownVersion, version, current)
	}

	if snap, ok := p.snapshots.Get(version); ok {
		return snap, nil
	}

	raw := make(map[string][]byte)
	p.mu.RLock()
	if version == p.version {
		// Fast path: the live mirror IS the requested version while the
		// read lock keeps the sync path out.
		p.latest.Range(func(k string, v []byte) bool {
			raw[k] = v
			return true
		})
	} else {
		for _, d := range p.deltas {
			if d.Version > version {
				continue
			}
			if d.Tombstone() {
				delete(raw, d.Key)
			} else {
				raw[d.Key] = d.Value
			}
		}
	}
	p.mu.RUnlock()

	snap, err := buildSnapshot(version, raw, p.enricher)
	if err != nil {
		return nil, err
	}
	p.snapshots.Set(version, snap)
	return snap, nil
}

// Latest returns the snapshot at the current version.
func (p *Projection) Latest() (*Snapshot, error) {
	return p.At(p.Version())
}

// Family returns the key->value map for a typed prefix at the pinned
// version, going through At so the view cannot change mid-read.
func (p *Projection) Family(version uint64, prefix string) (map[string][]byte, error) {
	snap, err := p.At(version)
	if err != nil {
		return nil, err
	}
	return snap.Family(prefix), nil
}
