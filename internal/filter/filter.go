package filter

import (
	"strings"
	"time"

	"github.com/FirebirdSQL/fblib/pkg/types"
)

// Criteria selects a subset of a session's event stream.
type Criteria struct {
	Kinds    []string
	Statuses []string
	From     *time.Time
	To       *time.Time
	// NoInfos drops the interleaved info records. Info records carry no
	// timestamp or status, so the other criteria never match them; they
	// pass through unless dropped here.
	NoInfos bool
}

// Empty reports whether the criteria select everything.
func (c Criteria) Empty() bool {
	return len(c.Kinds) == 0 && len(c.Statuses) == 0 && c.From == nil && c.To == nil && !c.NoInfos
}

// Apply filters records against the criteria. Info records stay with the
// stream as long as the next event passes, so a filtered output still reads
// like a valid stream.
func Apply(recs []types.EventRecord, c Criteria) []types.EventRecord {
	if c.Empty() {
		return recs
	}
	out := make([]types.EventRecord, 0, len(recs))
	var pendingInfos []types.EventRecord
	for _, rec := range recs {
		if rec.Timestamp == nil {
			if !c.NoInfos {
				pendingInfos = append(pendingInfos, rec)
			}
			continue
		}
		if !matchKind(rec.Kind, c.Kinds) || !matchStatus(rec.Status, c.Statuses) || !inWindow(*rec.Timestamp, c.From, c.To) {
			pendingInfos = pendingInfos[:0]
			continue
		}
		out = append(out, pendingInfos...)
		pendingInfos = pendingInfos[:0]
		out = append(out, rec)
	}
	return out
}

func matchKind(kind string, kinds []string) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, k := range kinds {
		if strings.EqualFold(strings.TrimSpace(k), kind) {
			return true
		}
	}
	return false
}

func matchStatus(status string, statuses []string) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, s := range statuses {
		if strings.EqualFold(strings.TrimSpace(s), status) {
			return true
		}
	}
	return false
}

func inWindow(ts time.Time, from, to *time.Time) bool {
	if from != nil && ts.Before(*from) {
		return false
	}
	if to != nil && ts.After(*to) {
		return false
	}
	return true
}
