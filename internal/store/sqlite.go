package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/FirebirdSQL/fblib/pkg/types"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{db: db}
	if err := s.Init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Init() error {
	if _, err := s.db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return err
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			label TEXT NOT NULL,
			event_count INTEGER NOT NULL DEFAULT 0,
			unknown_count INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS trace_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL DEFAULT 0,
			kind TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT '',
			timestamp DATETIME,
			payload TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trace_session ON trace_events(session_id);`,
		`CREATE INDEX IF NOT EXISTS idx_trace_kind ON trace_events(session_id, kind);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) CreateSession(source, label string) (*types.Session, error) {
	now := time.Now().UTC()
	id, err := s.nextSessionID(now)
	if err != nil {
		return nil, err
	}
	sess := &types.Session{ID: id, Source: source, Label: label, Status: "imported", CreatedAt: now, UpdatedAt: now}
	_, err = s.db.Exec(`INSERT INTO sessions(id,source,label,event_count,unknown_count,status,created_at,updated_at) VALUES(?,?,?,?,?,?,?,?)`,
		sess.ID, sess.Source, sess.Label, sess.EventCount, sess.UnknownCount, sess.Status, sess.CreatedAt, sess.UpdatedAt)
	return sess, err
}

func (s *SQLiteStore) nextSessionID(now time.Time) (string, error) {
	prefix := fmt.Sprintf("sess_%s_", now.Format("20060102"))
	rows, err := s.db.Query(`SELECT id FROM sessions WHERE id LIKE ?`, prefix+"%")
	if err != nil {
		return "", err
	}
	defer rows.Close()
	maxN := 0
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", err
		}
		var n int
		_, _ = fmt.Sscanf(id, prefix+"%03d", &n)
		if n > maxN {
			maxN = n
		}
	}
	return fmt.Sprintf("%s%03d", prefix, maxN+1), nil
}

func (s *SQLiteStore) GetSession(id string) (*types.Session, error) {
	row := s.db.QueryRow(`SELECT id,source,label,event_count,unknown_count,status,created_at,updated_at FROM sessions WHERE id=?`, id)
	var out types.Session
	if err := row.Scan(&out.ID, &out.Source, &out.Label, &out.EventCount, &out.UnknownCount, &out.Status, &out.CreatedAt, &out.UpdatedAt); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *SQLiteStore) UpdateSessionStatus(id, status string) error {
	_, err := s.db.Exec(`UPDATE sessions SET status=?, updated_at=? WHERE id=?`, status, time.Now().UTC(), id)
	return err
}

func (s *SQLiteStore) ListSessions() ([]types.Session, error) {
	rows, err := s.db.Query(`SELECT id,source,label,event_count,unknown_count,status,created_at,updated_at FROM sessions ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []types.Session
	for rows.Next() {
		var s1 types.Session
		if err := rows.Scan(&s1.ID, &s1.Source, &s1.Label, &s1.EventCount, &s1.UnknownCount, &s1.Status, &s1.CreatedAt, &s1.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, s1)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteSession(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM trace_events WHERE session_id=?`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM sessions WHERE id=?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) SaveEvents(sessionID string, recs []types.EventRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stmt, err := tx.Prepare(`INSERT INTO trace_events(session_id,seq,kind,status,timestamp,payload) VALUES(?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	events := 0
	for _, rec := range recs {
		var ts any
		if rec.Timestamp != nil {
			ts = *rec.Timestamp
			events++
		}
		if _, err := stmt.Exec(sessionID, rec.Seq, rec.Kind, rec.Status, ts, string(rec.Payload)); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(`UPDATE sessions SET event_count=event_count+?, updated_at=? WHERE id=?`, events, time.Now().UTC(), sessionID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetEvents(sessionID string) ([]types.EventRecord, error) {
	rows, err := s.db.Query(`SELECT id,session_id,seq,kind,status,timestamp,payload FROM trace_events WHERE session_id=? ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]types.EventRecord, 0)
	for rows.Next() {
		var rec types.EventRecord
		var ts sql.NullTime
		var payload string
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Seq, &rec.Kind, &rec.Status, &ts, &payload); err != nil {
			return nil, err
		}
		if ts.Valid {
			t := ts.Time
			rec.Timestamp = &t
		}
		rec.Payload = json.RawMessage(payload)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SetUnknownCount(sessionID string, n int) error {
	_, err := s.db.Exec(`UPDATE sessions SET unknown_count=?, updated_at=? WHERE id=?`, n, time.Now().UTC(), sessionID)
	return err
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return errors.New("store is nil")
	}
	return s.db.Close()
}
