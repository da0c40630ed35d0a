package rewards

import (
	"fmt"
	"sort"

	"github.com/icfleet/fleetd/internal/principal"
)

// Log collects the named operations of one computation, grouped per
// provider, for auditing. It is returned with the result and never
// persisted.
type Log struct {
	entries map[principal.ProviderID][]string
}

// NewLog creates an empty computation log.
func NewLog() *Log {
	return &Log{entries: make(map[principal.ProviderID][]string)}
}

// Printf appends a formatted entry under the provider.
func (l *Log) Printf(provider principal.ProviderID, format string, args ...any) {
	l.entries[provider] = append(l.entries[provider], fmt.Sprintf(format, args...))
}

// Entries returns the provider's entries in append order.
func (l *Log) Entries(provider principal.ProviderID) []string {
	return l.entries[provider]
}

// Providers lists providers with entries, ordered by principal.
func (l *Log) Providers() []principal.ProviderID {
	out := make([]principal.ProviderID, 0, len(l.entries))
	for p := range l.entries {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Compare(out[j].Principal) < 0 })
	return out
}
