package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/FirebirdSQL/fblib/internal/config"
	"github.com/FirebirdSQL/fblib/internal/store"
	"github.com/FirebirdSQL/fblib/pkg/types"
)

const ingestTrace = `2014-05-23T11:00:28.5840 (3720:0000000000EFD9E8) ATTACH_DATABASE
	/home/employee.fdb (ATT_8, SYSDBA:NONE, ISO88591, TCPv4:192.168.1.5)
	/opt/firebird/bin/isql:8723

2014-05-23T11:00:28.6160 (3720:0000000000EFD9E8) START_TRANSACTION
	/home/employee.fdb (ATT_8, SYSDBA:NONE, ISO88591, TCPv4:192.168.1.5)
	/opt/firebird/bin/isql:8723
		(TRA_1568, READ_COMMITTED | REC_VERSION | WAIT | READ_WRITE)

2014-05-23T11:00:29.9570 (3720:0000000000EFD9E8) COMMIT_TRANSACTION
	/home/employee.fdb (ATT_8, SYSDBA:NONE, ISO88591, TCPv4:192.168.1.5)
	/opt/firebird/bin/isql:8723
		(TRA_1568, READ_COMMITTED | REC_VERSION | WAIT | READ_WRITE)
      0 ms, 1 read(s), 1 write(s), 1 fetch(es), 1 mark(s)
`

func newTestServer(t *testing.T) (*Server, *store.SQLiteStore) {
	t.Helper()

	cfg := &config.Config{}
	cfg.SetDefaults()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "fbtrace.db"))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})

	srv, err := New(cfg, st)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return srv, st
}

func ingest(t *testing.T, srv *Server, text string) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/ingest?label=test", strings.NewReader(text))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("ingest status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		SessionID string `json:"session_id"`
		Events    int    `json:"events"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode ingest response: %v", err)
	}
	if resp.SessionID == "" {
		t.Fatalf("missing session_id in response")
	}
	return resp.SessionID
}

func TestServerSessionsEmpty(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var sessions []types.Session
	if err := json.NewDecoder(rec.Body).Decode(&sessions); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected empty sessions, got %d", len(sessions))
	}
}

func TestServerIngestAndEvents(t *testing.T) {
	srv, _ := newTestServer(t)
	sessionID := ingest(t, srv, ingestTrace)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/"+sessionID+"/events", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("events status = %d", rec.Code)
	}
	var events []types.EventRecord
	if err := json.NewDecoder(rec.Body).Decode(&events); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Kind != "ATTACH_DATABASE" || events[2].Kind != "COMMIT_TRANSACTION" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestServerEventsKindFilter(t *testing.T) {
	srv, _ := newTestServer(t)
	sessionID := ingest(t, srv, ingestTrace)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/"+sessionID+"/events?kind=START_TRANSACTION", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var events []types.EventRecord
	if err := json.NewDecoder(rec.Body).Decode(&events); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(events) != 1 || events[0].Kind != "START_TRANSACTION" {
		t.Fatalf("unexpected filtered events: %+v", events)
	}
}

func TestServerEventsBadTimeWindow(t *testing.T) {
	srv, _ := newTestServer(t)
	sessionID := ingest(t, srv, ingestTrace)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/"+sessionID+"/events?from=yesterday", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestServerSummary(t *testing.T) {
	srv, _ := newTestServer(t)
	sessionID := ingest(t, srv, ingestTrace)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/"+sessionID+"/summary", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var sum types.Summary
	if err := json.NewDecoder(rec.Body).Decode(&sum); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if sum.EventCount != 3 || len(sum.KindCounts) != 3 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
}

func TestServerDeleteSession(t *testing.T) {
	srv, _ := newTestServer(t)
	sessionID := ingest(t, srv, ingestTrace)

	req := httptest.NewRequest(http.MethodDelete, "/api/sessions/"+sessionID, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/sessions/"+sessionID, nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestServerIngestRejectsGarbage(t *testing.T) {
	srv, _ := newTestServer(t)

	text := `2014-05-23T11:00:45.5260 (3720:0000000000EFD9E8) PREPARE_STATEMENT
	/home/employee.fdb (ATT_8, SYSDBA:NONE, ISO88591, TCPv4:192.168.1.5)
		(TRA_1570, READ_COMMITTED | REC_VERSION | WAIT | READ_WRITE)
Statement 181:
this is not a separator
`
	req := httptest.NewRequest(http.MethodPost, "/api/ingest", bytes.NewReader([]byte(text)))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestServerIndexHTML(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	if !bytes.Contains(rec.Body.Bytes(), []byte("fbtrace")) {
		t.Fatalf("expected body to contain fbtrace")
	}
}
