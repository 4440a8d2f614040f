package trace

import "time"

// Info is a contextual record attached to the stream. The parser emits each
// info record once, immediately before the first event that references it.
type Info interface {
	Element
	info()
}

// AttachmentInfo describes a database attachment seen in the trace.
// A detach event retires its id; a later attachment reusing the id is a new
// entity and produces a new record. Unresolved marks a record synthesized
// from an event that referenced an id never seen opened.
type AttachmentInfo struct {
	AttachmentFields
	Unresolved bool `json:"unresolved,omitempty"`
}

func (AttachmentInfo) element() {}
func (AttachmentInfo) info()    {}

// TransactionInfo describes a transaction seen in the trace. InitialID is
// set when the transaction is a retained continuation of an earlier one.
type TransactionInfo struct {
	AttachmentID  int      `json:"attachment_id"`
	TransactionID int      `json:"transaction_id"`
	Options       []string `json:"options"`
	InitialID     *int     `json:"initial_id"`
	Unresolved    bool     `json:"unresolved,omitempty"`
}

func (TransactionInfo) element() {}
func (TransactionInfo) info()    {}

// ServiceInfo describes a service manager attachment seen in the trace.
type ServiceInfo struct {
	ServiceID     int64   `json:"service_id"`
	User          string  `json:"user"`
	Protocol      string  `json:"protocol"`
	Address       string  `json:"address"`
	RemoteProcess *string `json:"remote_process"`
	RemotePID     *int    `json:"remote_pid"`
	Unresolved    bool    `json:"unresolved,omitempty"`
}

func (ServiceInfo) element() {}
func (ServiceInfo) info()    {}

// SQLInfo is an interned SQL statement text together with its access plan.
// Statements sharing text and plan share one id.
type SQLInfo struct {
	SQLID int     `json:"sql_id"`
	SQL   string  `json:"sql"`
	Plan  *string `json:"plan"`
}

func (SQLInfo) element() {}
func (SQLInfo) info()    {}

// ParamSet is an interned list of statement parameter values.
type ParamSet struct {
	ParamID int     `json:"param_id"`
	Params  []Value `json:"params"`
}

func (ParamSet) element() {}
func (ParamSet) info()    {}

// Value is one typed parameter value. Exactly one of the typed fields is
// set unless Null is true.
type Value struct {
	Type string     `json:"type"`
	Null bool       `json:"null,omitempty"`
	Str  *string    `json:"str,omitempty"`
	Int  *int64     `json:"int,omitempty"`
	Dec  *string    `json:"dec,omitempty"`
	Time *time.Time `json:"time,omitempty"`
}

// AccessStats is one row of the table access statistics block.
type AccessStats struct {
	Table   string `json:"table"`
	Natural int    `json:"natural"`
	Index   int    `json:"index"`
	Update  int    `json:"update"`
	Insert  int    `json:"insert"`
	Delete  int    `json:"delete"`
	Backout int    `json:"backout"`
	Purge   int    `json:"purge"`
	Expunge int    `json:"expunge"`
}
