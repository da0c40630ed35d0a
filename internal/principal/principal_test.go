package principal

import (
	"sort"
	"testing"
)

func TestStringParseRoundTrip(t *testing.T) {
	for _, n := range []uint64{0, 1, 42, 1 << 40, ^uint64(0)} {
		p := FromUint64(n)
		s := p.String()
		back, err := Parse(s)
		if err != nil {
			t.Fatalf("Parse(%q) failed: %v", s, err)
		}
		if back != p {
			t.Fatalf("round trip mismatch for %d: %v != %v", n, back, p)
		}
	}
}

func TestParseRejectsCorruptChecksum(t *testing.T) {
	s := FromUint64(7).String()
	// Flip a character inside the first (checksum) group.
	corrupted := "a" + s[1:]
	if corrupted == s {
		corrupted = "b" + s[1:]
	}
	if _, err := Parse(corrupted); err == nil {
		t.Fatal("expected checksum error, got nil")
	}
}

func TestCompareOrdersByBytes(t *testing.T) {
	ids := []Principal{FromUint64(3), FromUint64(1), FromUint64(2)}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Compare(ids[j]) < 0 })
	for i, want := range []uint64{1, 2, 3} {
		if ids[i] != FromUint64(want) {
			t.Fatalf("position %d = %v, want FromUint64(%d)", i, ids[i], want)
		}
	}
}

func TestNewtypesAreDistinct(t *testing.T) {
	// The id kinds are distinct types, so mixing them does not compile;
	// at run time they wrap the same principal for the same seed.
	n := NodeIDFromUint64(1)
	s := SubnetIDFromUint64(1)
	if n.Principal != s.Principal {
		t.Fatal("same seed should produce same underlying principal")
	}
	if n.IsZero() {
		t.Fatal("non-zero id reported as zero")
	}
}

func TestShort(t *testing.T) {
	p := FromUint64(99)
	short := p.Short()
	if len(short) != 5 {
		t.Fatalf("Short() = %q, want 5 characters", short)
	}
}
