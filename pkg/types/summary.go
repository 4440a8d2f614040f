package types

import (
	"encoding/json"
	"sort"
	"time"
)

// Summary aggregates one session's event stream.
type Summary struct {
	SessionID    string         `json:"session_id"`
	EventCount   int            `json:"event_count"`
	InfoCount    int            `json:"info_count"`
	KindCounts   []KindCount    `json:"kind_counts"`
	StatusCounts map[string]int `json:"status_counts,omitempty"`
	Errors       []ErrorDetail  `json:"errors,omitempty"`
	First        *time.Time     `json:"first,omitempty"`
	Last         *time.Time     `json:"last,omitempty"`
}

// KindCount is one event kind with its occurrence count.
type KindCount struct {
	Kind  string `json:"kind"`
	Count int    `json:"count"`
}

// ErrorDetail is one ERROR entry surfaced in the summary.
type ErrorDetail struct {
	Seq     int       `json:"seq"`
	Time    time.Time `json:"time"`
	Place   string    `json:"place"`
	Details []string  `json:"details"`
}

// Summarize builds a Summary over stored records.
func Summarize(sessionID string, recs []EventRecord) Summary {
	sum := Summary{SessionID: sessionID, StatusCounts: map[string]int{}}
	kinds := map[string]int{}
	for _, rec := range recs {
		if rec.Timestamp == nil {
			sum.InfoCount++
			continue
		}
		sum.EventCount++
		kinds[rec.Kind]++
		if rec.Status != "" {
			sum.StatusCounts[rec.Status]++
		}
		if sum.First == nil || rec.Timestamp.Before(*sum.First) {
			t := *rec.Timestamp
			sum.First = &t
		}
		if sum.Last == nil || rec.Timestamp.After(*sum.Last) {
			t := *rec.Timestamp
			sum.Last = &t
		}
		if rec.Kind == "ERROR" || rec.Kind == "SERVICE_ERROR" {
			var payload struct {
				Place   string   `json:"place"`
				Details []string `json:"details"`
			}
			if err := json.Unmarshal(rec.Payload, &payload); err == nil {
				sum.Errors = append(sum.Errors, ErrorDetail{
					Seq:     rec.Seq,
					Time:    *rec.Timestamp,
					Place:   payload.Place,
					Details: payload.Details,
				})
			}
		}
	}
	for kind, n := range kinds {
		sum.KindCounts = append(sum.KindCounts, KindCount{Kind: kind, Count: n})
	}
	sort.Slice(sum.KindCounts, func(i, j int) bool {
		if sum.KindCounts[i].Count != sum.KindCounts[j].Count {
			return sum.KindCounts[i].Count > sum.KindCounts[j].Count
		}
		return sum.KindCounts[i].Kind < sum.KindCounts[j].Kind
	})
	if len(sum.StatusCounts) == 0 {
		sum.StatusCounts = nil
	}
	return sum
}
