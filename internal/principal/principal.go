// Package principal provides the opaque 29-byte identifiers used across the
// registry: nodes, subnets, operators, providers, data centers and proposals.
// Each identifier kind is a distinct newtype so they cannot be mixed up.
package principal

import (
	"bytes"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"strings"
)

// Size is the fixed length of a principal in bytes.
const Size = 29

// Principal is an opaque 29-byte identifier.
type Principal [Size]byte

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// FromBytes builds a Principal from exactly Size bytes.
func FromBytes(b []byte) (Principal, error) {
	var p Principal
	if len(b) != Size {
		return p, fmt.Errorf("principal: expected %d bytes, got %d", Size, len(b))
	}
	copy(p[:], b)
	return p, nil
}

// FromUint64 builds a deterministic Principal from a small integer.
// The integer is big-endian encoded into the leading bytes. Intended for
// fixtures and tests.
func FromUint64(n uint64) Principal {
	var p Principal
	binary.BigEndian.PutUint64(p[:8], n)
	return p
}

// Parse decodes the canonical textual form produced by String.
func Parse(s string) (Principal, error) {
	var p Principal
	raw := strings.ToUpper(strings.ReplaceAll(s, "-", ""))
	decoded, err := b32.DecodeString(raw)
	if err != nil {
		return p, fmt.Errorf("principal: decode %q: %w", s, err)
	}
	if len(decoded) != Size+4 {
		return p, fmt.Errorf("principal: decoded length %d, want %d", len(decoded), Size+4)
	}
	body := decoded[4:]
	sum := crc32.ChecksumIEEE(body)
	var want [4]byte
	binary.BigEndian.PutUint32(want[:], sum)
	if !bytes.Equal(decoded[:4], want[:]) {
		return p, fmt.Errorf("principal: checksum mismatch in %q", s)
	}
	copy(p[:], body)
	return p, nil
}

// MustParse is Parse that panics on error. Fixture helper.
func MustParse(s string) Principal {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

// String renders the canonical textual form: crc32-prefixed base32,
// lowercase, in dash-separated groups of five.
func (p Principal) String() string {
	var buf [Size + 4]byte
	binary.BigEndian.PutUint32(buf[:4], crc32.ChecksumIEEE(p[:]))
	copy(buf[4:], p[:])
	enc := strings.ToLower(b32.EncodeToString(buf[:]))
	var sb strings.Builder
	for i := 0; i < len(enc); i += 5 {
		if i > 0 {
			sb.WriteByte('-')
		}
		end := i + 5
		if end > len(enc) {
			end = len(enc)
		}
		sb.WriteString(enc[i:end])
	}
	return sb.String()
}

// Short returns the first textual group, enough to recognize a principal in
// logs.
func (p Principal) Short() string {
	s := p.String()
	if i := strings.IndexByte(s, '-'); i > 0 {
		return s[:i]
	}
	return s
}

// Compare orders principals by their raw bytes.
func (p Principal) Compare(o Principal) int {
	return bytes.Compare(p[:], o[:])
}

// IsZero reports whether p is the zero principal.
func (p Principal) IsZero() bool {
	return p == Principal{}
}

// MarshalText implements encoding.TextMarshaler.
func (p Principal) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Principal) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// NodeID identifies a node.
type NodeID struct{ Principal }

// SubnetID identifies a subnet.
type SubnetID struct{ Principal }

// OperatorID identifies a node operator.
type OperatorID struct{ Principal }

// ProviderID identifies a node provider.
type ProviderID struct{ Principal }

// DataCenterID identifies a data center record.
type DataCenterID struct{ Principal }

// ProposalID identifies a governance proposal.
type ProposalID struct{ Principal }

// NodeIDFromUint64 is a fixture constructor.
func NodeIDFromUint64(n uint64) NodeID { return NodeID{FromUint64(n)} }

// SubnetIDFromUint64 is a fixture constructor.
func SubnetIDFromUint64(n uint64) SubnetID { return SubnetID{FromUint64(n)} }

// OperatorIDFromUint64 is a fixture constructor.
func OperatorIDFromUint64(n uint64) OperatorID { return OperatorID{FromUint64(n)} }

// ProviderIDFromUint64 is a fixture constructor.
func ProviderIDFromUint64(n uint64) ProviderID { return ProviderID{FromUint64(n)} }

// DataCenterIDFromUint64 is a fixture constructor.
func DataCenterIDFromUint64(n uint64) DataCenterID { return DataCenterID{FromUint64(n)} }

// ProposalIDFromUint64 is a fixture constructor.
func ProposalIDFromUint64(n uint64) ProposalID { return ProposalID{FromUint64(n)} }
