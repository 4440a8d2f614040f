package server

import (
	_ "embed"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/FirebirdSQL/fblib/internal/config"
	"github.com/FirebirdSQL/fblib/internal/filter"
	"github.com/FirebirdSQL/fblib/internal/store"
	"github.com/FirebirdSQL/fblib/pkg/trace"
	"github.com/FirebirdSQL/fblib/pkg/types"
)

var (
	//go:embed ui.html
	uiHTML string

	uiTemplate = template.Must(template.New("ui").Parse(uiHTML))
)

// Server wraps the session browser UI and API handlers.
type Server struct {
	cfg   *config.Config
	store store.Store
	mux   *http.ServeMux
}

type uiData struct {
	SessionID string
}

// New constructs a new Server with routes registered.
func New(cfg *config.Config, st store.Store) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if st == nil {
		return nil, errors.New("store is nil")
	}

	srv := &Server{
		cfg:   cfg,
		store: st,
		mux:   http.NewServeMux(),
	}
	srv.registerRoutes()
	return srv, nil
}

// Handler returns the http handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe starts the server on addr.
func (s *Server) ListenAndServe(addr string) error {
	return http.ListenAndServe(addr, s.mux)
}

func (s *Server) registerRoutes() {
	// UI routes.
	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/session/", s.handleSessionPage)

	// API routes.
	s.mux.HandleFunc("/api/sessions", s.handleSessions)
	s.mux.HandleFunc("/api/sessions/", s.handleSessionRoutes)
	s.mux.HandleFunc("/api/ingest", s.handleIngest)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.renderUI(w, "")
}

func (s *Server) handleSessionPage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, tail, ok := splitPath(r.URL.Path, "/session/")
	if !ok || id == "" || tail != "" {
		http.NotFound(w, r)
		return
	}
	s.renderUI(w, id)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sessions, err := s.store.ListSessions()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if sessions == nil {
		sessions = []types.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleSessionRoutes(w http.ResponseWriter, r *http.Request) {
	id, tail, ok := splitPath(r.URL.Path, "/api/sessions/")
	if !ok || id == "" {
		http.NotFound(w, r)
		return
	}
	switch tail {
	case "":
		s.handleSessionDetail(w, r, id)
	case "events":
		s.handleSessionEvents(w, r, id)
	case "summary":
		s.handleSessionSummary(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleSessionDetail(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		sess, err := s.store.GetSession(id)
		if err != nil {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, sess)
	case http.MethodDelete:
		if _, err := s.store.GetSession(id); err != nil {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		if err := s.store.DeleteSession(id); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"session_id": id, "status": "deleted"})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, err := s.store.GetSession(id); err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	recs, err := s.store.GetEvents(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	criteria, err := criteriaFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	recs = filter.Apply(recs, criteria)
	if parseBoolParam(r, "redact") {
		recs = filter.Redact(recs, filter.DefaultRedactConfig())
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleSessionSummary(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, err := s.store.GetSession(id); err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	recs, err := s.store.GetEvents(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, types.Summarize(id, recs))
}

// handleIngest accepts a raw trace log in the request body and stores it as
// a new session.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	label := r.URL.Query().Get("label")

	p := trace.NewParser(trace.NewReaderSource(r.Body), s.cfg.ParserOptions())
	els, err := p.All()
	if err != nil {
		http.Error(w, "parse failed: "+err.Error(), http.StatusBadRequest)
		return
	}
	recs := make([]types.EventRecord, 0, len(els))
	for _, el := range els {
		rec, err := types.NewEventRecord("", el)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		recs = append(recs, rec)
	}

	sess, err := s.store.CreateSession("api", label)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := s.store.SaveEvents(sess.ID, recs); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if n := p.UnknownCount(); n > 0 {
		if err := s.store.SetUnknownCount(sess.ID, n); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	if err := s.store.UpdateSessionStatus(sess.ID, "parsed"); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"status":     "parsed",
		"events":     len(recs),
		"unknown":    p.UnknownCount(),
	})
}

func (s *Server) renderUI(w http.ResponseWriter, sessionID string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_ = uiTemplate.Execute(w, uiData{SessionID: sessionID})
}

func criteriaFromQuery(r *http.Request) (filter.Criteria, error) {
	q := r.URL.Query()
	c := filter.Criteria{
		Kinds:    splitParam(q.Get("kind")),
		Statuses: splitParam(q.Get("status")),
		NoInfos:  parseBoolParam(r, "no_infos"),
	}
	for _, spec := range []struct {
		key string
		dst **time.Time
	}{{"from", &c.From}, {"to", &c.To}} {
		v := q.Get(spec.key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return c, errors.New(spec.key + ": expected RFC 3339 timestamp")
		}
		*spec.dst = &t
	}
	return c, nil
}

func splitParam(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseBoolParam(r *http.Request, key string) bool {
	b, err := strconv.ParseBool(r.URL.Query().Get(key))
	return err == nil && b
}

func splitPath(fullPath, prefix string) (string, string, bool) {
	if !strings.HasPrefix(fullPath, prefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(fullPath, prefix)
	rest = strings.Trim(rest, "/")
	if rest == "" {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	id := parts[0]
	tail := ""
	if len(parts) > 1 {
		tail = strings.Join(parts[1:], "/")
	}
	return id, tail, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
