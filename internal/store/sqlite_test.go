package store

import (
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/FirebirdSQL/fblib/pkg/types"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "fbtrace.db"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func eventRec(seq int, kind, status string, ts time.Time) types.EventRecord {
	payload, _ := json.Marshal(map[string]any{"event_id": seq, "status": status})
	return types.EventRecord{Seq: seq, Kind: kind, Status: status, Timestamp: &ts, Payload: payload}
}

func infoRec(kind string) types.EventRecord {
	return types.EventRecord{Kind: kind, Payload: json.RawMessage(`{}`)}
}

func TestSessionAndEventsCRUD(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	sess, err := s.CreateSession("/var/log/firebird/trace.log", "nightly audit")
	if err != nil {
		t.Fatal(err)
	}
	if sess.ID == "" {
		t.Fatalf("empty session id")
	}
	now := time.Now().UTC()
	recs := []types.EventRecord{
		infoRec("ATTACHMENT_INFO"),
		eventRec(1, "ATTACH_DATABASE", "OK", now),
		eventRec(2, "START_TRANSACTION", "OK", now.Add(time.Second)),
	}
	if err := s.SaveEvents(sess.ID, recs); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetEvents(sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 records, got %d", len(got))
	}
	// Row order preserves the stream: info record first, without timestamp.
	if got[0].Kind != "ATTACHMENT_INFO" || got[0].Timestamp != nil {
		t.Fatalf("unexpected first record: %+v", got[0])
	}
	if got[1].Kind != "ATTACH_DATABASE" || got[1].Seq != 1 || got[1].Timestamp == nil {
		t.Fatalf("unexpected second record: %+v", got[1])
	}
	// Only events count toward the session total.
	if sess2, err := s.GetSession(sess.ID); err != nil || sess2.EventCount != 2 {
		t.Fatalf("session event_count not updated: %+v err=%v", sess2, err)
	}
}

func TestUnknownCountAndStatus(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	sess, _ := s.CreateSession("trace.log", "")
	if err := s.SetUnknownCount(sess.ID, 3); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateSessionStatus(sess.ID, "parsed"); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetSession(sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.UnknownCount != 3 || got.Status != "parsed" {
		t.Fatalf("unexpected session: %+v", got)
	}
}

func TestCascadeDelete(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	sess, _ := s.CreateSession("trace.log", "")
	_ = s.SaveEvents(sess.ID, []types.EventRecord{eventRec(1, "ATTACH_DATABASE", "OK", time.Now().UTC())})
	if err := s.DeleteSession(sess.ID); err != nil {
		t.Fatal(err)
	}
	if recs, _ := s.GetEvents(sess.ID); len(recs) != 0 {
		t.Fatalf("expected events deleted")
	}
	if _, err := s.GetSession(sess.ID); err == nil {
		t.Fatalf("expected session deleted")
	}
}

func TestConcurrentReadWrite(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	sess, _ := s.CreateSession("trace.log", "concurrent")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.SaveEvents(sess.ID, []types.EventRecord{eventRec(i+1, "SET_CONTEXT", "", time.Now().UTC())})
		}(i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.ListSessions()
		}()
	}
	wg.Wait()

	recs, err := s.GetEvents(sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) == 0 {
		t.Fatalf("expected events")
	}
}
