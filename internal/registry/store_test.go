package registry

import (
	"context"
	"testing"
)

func TestStoreRoundTripAndRestore(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenStore(dir)
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	defer store.Close()

	deltas := fixtureDeltas(t)
	p := NewProjection(ProjectionConfig{Source: &memSource{deltas: deltas}, Store: store})
	if err := p.SyncTo(context.Background(), 3); err != nil {
		t.Fatalf("SyncTo failed: %v", err)
	}

	maxV, err := store.MaxVersion()
	if err != nil {
		t.Fatalf("MaxVersion failed: %v", err)
	}
	if maxV != 3 {
		t.Fatalf("max version = %d, want 3", maxV)
	}

	// A fresh projection restores from the log without touching the source.
	restored := NewProjection(ProjectionConfig{
		Source: SourceFunc(func(context.Context, uint64) ([]Delta, error) {
			t.Fatal("restore must not hit the source")
			return nil, nil
		}),
		Store: store,
	})
	if err := restored.Restore(); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if restored.Version() != 3 {
		t.Fatalf("restored version = %d, want 3", restored.Version())
	}
	snap, err := restored.Latest()
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if len(snap.Nodes()) != 2 || len(snap.Subnets()) != 1 {
		t.Fatalf("restored snapshot has %d nodes, %d subnets", len(snap.Nodes()), len(snap.Subnets()))
	}
}

func TestStoreAppendIsIdempotent(t *testing.T) {
	store, err := OpenStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	defer store.Close()

	deltas := fixtureDeltas(t)
	if err := store.AppendDeltas(deltas); err != nil {
		t.Fatalf("first append failed: %v", err)
	}
	if err := store.AppendDeltas(deltas); err != nil {
		t.Fatalf("second append failed: %v", err)
	}
	loaded, err := store.LoadDeltas()
	if err != nil {
		t.Fatalf("LoadDeltas failed: %v", err)
	}
	if len(loaded) != len(deltas) {
		t.Fatalf("loaded %d deltas, want %d", len(loaded), len(deltas))
	}
}
