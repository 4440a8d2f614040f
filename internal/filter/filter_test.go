package filter

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/FirebirdSQL/fblib/pkg/types"
)

func rec(seq int, kind, status string, ts time.Time) types.EventRecord {
	return types.EventRecord{Seq: seq, Kind: kind, Status: status, Timestamp: &ts, Payload: json.RawMessage(`{}`)}
}

func info(kind string) types.EventRecord {
	return types.EventRecord{Kind: kind, Payload: json.RawMessage(`{}`)}
}

func TestApplyByKind(t *testing.T) {
	base := time.Date(2014, 5, 23, 11, 0, 0, 0, time.UTC)
	recs := []types.EventRecord{
		rec(1, "ATTACH_DATABASE", "OK", base),
		rec(2, "START_TRANSACTION", "OK", base.Add(time.Second)),
		rec(3, "COMMIT_TRANSACTION", "OK", base.Add(2*time.Second)),
	}
	out := Apply(recs, Criteria{Kinds: []string{"start_transaction"}})
	if len(out) != 1 || out[0].Seq != 2 {
		t.Fatalf("unexpected result: %+v", out)
	}
}

func TestApplyByStatusAndWindow(t *testing.T) {
	base := time.Date(2014, 5, 23, 11, 0, 0, 0, time.UTC)
	recs := []types.EventRecord{
		rec(1, "ATTACH_DATABASE", "FAILED", base),
		rec(2, "ATTACH_DATABASE", "OK", base.Add(time.Minute)),
		rec(3, "ATTACH_DATABASE", "FAILED", base.Add(2*time.Minute)),
	}
	from := base.Add(30 * time.Second)
	out := Apply(recs, Criteria{Statuses: []string{"FAILED"}, From: &from})
	if len(out) != 1 || out[0].Seq != 3 {
		t.Fatalf("unexpected result: %+v", out)
	}
}

func TestApplyKeepsInfosOfMatchingEvents(t *testing.T) {
	base := time.Date(2014, 5, 23, 11, 0, 0, 0, time.UTC)
	recs := []types.EventRecord{
		info("ATTACHMENT_INFO"),
		rec(1, "ATTACH_DATABASE", "OK", base),
		info("TRANSACTION_INFO"),
		rec(2, "COMMIT_TRANSACTION", "OK", base.Add(time.Second)),
	}
	out := Apply(recs, Criteria{Kinds: []string{"COMMIT_TRANSACTION"}})
	if len(out) != 2 {
		t.Fatalf("expected 2 records, got %d: %+v", len(out), out)
	}
	// The info of the dropped attach event is dropped with it.
	if out[0].Kind != "TRANSACTION_INFO" || out[1].Kind != "COMMIT_TRANSACTION" {
		t.Fatalf("unexpected records: %+v", out)
	}
}

func TestApplyNoInfos(t *testing.T) {
	base := time.Date(2014, 5, 23, 11, 0, 0, 0, time.UTC)
	recs := []types.EventRecord{
		info("ATTACHMENT_INFO"),
		rec(1, "ATTACH_DATABASE", "OK", base),
	}
	out := Apply(recs, Criteria{NoInfos: true})
	if len(out) != 1 || out[0].Kind != "ATTACH_DATABASE" {
		t.Fatalf("unexpected result: %+v", out)
	}
}

func TestApplyEmptyCriteriaPassesThrough(t *testing.T) {
	recs := []types.EventRecord{info("SQL_INFO")}
	out := Apply(recs, Criteria{})
	if len(out) != 1 {
		t.Fatalf("expected pass-through, got %+v", out)
	}
}

func TestRedactParameterValues(t *testing.T) {
	payload := `{"param_id":1,"params":[{"type":"varchar(20)","str":"2810090906551"},{"type":"integer","int":4199300}]}`
	recs := []types.EventRecord{{Kind: "PARAM_SET", Payload: json.RawMessage(payload)}}

	out := Redact(recs, DefaultRedactConfig())
	var got struct {
		Params []map[string]any `json:"params"`
	}
	if err := json.Unmarshal(out[0].Payload, &got); err != nil {
		t.Fatal(err)
	}
	if got.Params[0]["str"] != "***REDACTED***" || got.Params[1]["int"] != "***REDACTED***" {
		t.Fatalf("values not redacted: %v", got.Params)
	}
	if got.Params[0]["type"] != "varchar(20)" {
		t.Fatalf("type should survive: %v", got.Params[0])
	}
}

func TestRedactLeavesOriginalRecords(t *testing.T) {
	payload := `{"value":"secret"}`
	recs := []types.EventRecord{{Kind: "SET_CONTEXT", Payload: json.RawMessage(payload)}}
	_ = Redact(recs, DefaultRedactConfig())
	if string(recs[0].Payload) != payload {
		t.Fatalf("input mutated: %s", recs[0].Payload)
	}
}
