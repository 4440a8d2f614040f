package store

import "github.com/FirebirdSQL/fblib/pkg/types"

type Store interface {
	CreateSession(source, label string) (*types.Session, error)
	GetSession(id string) (*types.Session, error)
	UpdateSessionStatus(id, status string) error
	ListSessions() ([]types.Session, error)
	DeleteSession(id string) error

	SaveEvents(sessionID string, recs []types.EventRecord) error
	GetEvents(sessionID string) ([]types.EventRecord, error)
	SetUnknownCount(sessionID string, n int) error

	Close() error
}
