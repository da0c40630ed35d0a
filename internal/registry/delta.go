package registry

import (
	"context"
	"encoding/binary"

	"github.com/zeebo/xxh3"
)

// Delta is one registry mutation: at Version, Key took Value. A nil
// Value deletes the key. Deltas arrive ordered by version; several keys
// may change in the same version.
type Delta struct {
	Version uint64
	Key     string
	Value   []byte
}

// Tombstone reports whether the delta deletes its key.
func (d Delta) Tombstone() bool { return d.Value == nil }

// ContentHash is a 128-bit digest over (version, key, value), used to
// detect idempotent re-deliveries when a source replays its stream.
func (d Delta) ContentHash() [16]byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], d.Version)
	h := xxh3.New()
	_, _ = h.Write(buf[:])
	_, _ = h.Write([]byte(d.Key))
	if d.Value != nil {
		_, _ = h.Write([]byte{1})
		_, _ = h.Write(d.Value)
	} else {
		_, _ = h.Write([]byte{0})
	}
	return h.Sum128().Bytes()
}

// Source supplies ordered registry deltas. The only suspension point of
// the projection; implementations perform the actual transport I/O.
type Source interface {
	// Deltas returns all deltas with version strictly greater than after,
	// ordered by version.
	Deltas(ctx context.Context, after uint64) ([]Delta, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context, after uint64) ([]Delta, error)

// Deltas implements Source.
func (f SourceFunc) Deltas(ctx context.Context, after uint64) ([]Delta, error) {
	return f(ctx, after)
}
