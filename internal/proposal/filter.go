package proposal

import "time"

// Filter narrows a proposal listing. Zero-value fields do not constrain.
type Filter struct {
	Topics   []Topic
	Proposer *uint64
	Executed *bool
	Since    time.Time
	Until    time.Time
	Limit    int
}

// Matches reports whether one proposal passes the filter.
func (f Filter) Matches(info Info) bool {
	if len(f.Topics) > 0 {
		found := false
		for _, t := range f.Topics {
			if info.Topic == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Proposer != nil && info.Proposer != *f.Proposer {
		return false
	}
	if f.Executed != nil && info.Executed != *f.Executed {
		return false
	}
	if !f.Since.IsZero() && info.SubmittedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && info.SubmittedAt.After(f.Until) {
		return false
	}
	return true
}

// Apply filters a listing, preserving order and honoring Limit.
func (f Filter) Apply(infos []Info) []Info {
	var out []Info
	for _, info := range infos {
		if !f.Matches(info) {
			continue
		}
		out = append(out, info)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}
