package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/FirebirdSQL/fblib/pkg/trace"
)

// Session records one imported trace log.
type Session struct {
	ID           string    `json:"id"`
	Source       string    `json:"source"`
	Label        string    `json:"label"`
	EventCount   int       `json:"event_count"`
	UnknownCount int       `json:"unknown_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Status       string    `json:"status"`
}

// EventRecord is one parsed stream element in storable form. Events keep
// their sequence number and timestamp; info records carry neither and rely
// on row order for their position in the stream.
type EventRecord struct {
	ID        int64           `json:"id"`
	SessionID string          `json:"session_id"`
	Seq       int             `json:"seq,omitempty"`
	Kind      string          `json:"kind"`
	Status    string          `json:"status,omitempty"`
	Timestamp *time.Time      `json:"timestamp,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// NewEventRecord flattens a parsed element into a record.
func NewEventRecord(sessionID string, el trace.Element) (EventRecord, error) {
	payload, err := json.Marshal(el)
	if err != nil {
		return EventRecord{}, fmt.Errorf("marshal element: %w", err)
	}
	rec := EventRecord{SessionID: sessionID, Kind: elementKind(el), Payload: payload}
	if ev, ok := el.(trace.Event); ok {
		rec.Seq = ev.Seq()
		ts := ev.Time()
		rec.Timestamp = &ts
		rec.Status = elementStatus(payload)
	}
	return rec, nil
}

func elementKind(el trace.Element) string {
	switch el.(type) {
	case trace.AttachmentInfo:
		return "ATTACHMENT_INFO"
	case trace.TransactionInfo:
		return "TRANSACTION_INFO"
	case trace.ServiceInfo:
		return "SERVICE_INFO"
	case trace.SQLInfo:
		return "SQL_INFO"
	case trace.ParamSet:
		return "PARAM_SET"
	}
	if ev, ok := el.(trace.Event); ok {
		return ev.Kind().String()
	}
	return "UNKNOWN"
}

// elementStatus digs the status field out of the marshalled payload. Not
// every event carries one.
func elementStatus(payload json.RawMessage) string {
	var head struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		return ""
	}
	return head.Status
}
