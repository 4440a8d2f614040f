package trace

import "time"

// Status classifies the outcome recorded in an event header.
type Status string

const (
	StatusOK           Status = "OK"
	StatusFailed       Status = "FAILED"
	StatusUnauthorized Status = "UNAUTHORIZED"
	StatusUnknown      Status = "UNKNOWN"
)

// EventKind identifies one trace event variant.
type EventKind int

const (
	KindUnknown EventKind = iota
	KindTraceInit
	KindTraceSuspend
	KindTraceFinish
	KindCreateDatabase
	KindDropDatabase
	KindAttachDatabase
	KindDetachDatabase
	KindStartTransaction
	KindCommitTransaction
	KindRollbackTransaction
	KindCommitRetaining
	KindRollbackRetaining
	KindPrepareStatement
	KindStatementStart
	KindStatementFinish
	KindFreeStatement
	KindCloseCursor
	KindTriggerStart
	KindTriggerFinish
	KindFunctionStart
	KindFunctionFinish
	KindProcedureStart
	KindProcedureFinish
	KindServiceAttach
	KindServiceDetach
	KindServiceStart
	KindServiceQuery
	KindSetContext
	KindError
	KindWarning
	KindServiceError
	KindServiceWarning
	KindSweepStart
	KindSweepProgress
	KindSweepFinish
	KindSweepFailed
	KindCompileBLR
	KindExecuteBLR
	KindExecuteDYN
)

var kindNames = map[EventKind]string{
	KindUnknown:             "UNKNOWN",
	KindTraceInit:           "TRACE_INIT",
	KindTraceSuspend:        "TRACE_SUSPENDED",
	KindTraceFinish:         "TRACE_FINI",
	KindCreateDatabase:      "CREATE_DATABASE",
	KindDropDatabase:        "DROP_DATABASE",
	KindAttachDatabase:      "ATTACH_DATABASE",
	KindDetachDatabase:      "DETACH_DATABASE",
	KindStartTransaction:    "START_TRANSACTION",
	KindCommitTransaction:   "COMMIT_TRANSACTION",
	KindRollbackTransaction: "ROLLBACK_TRANSACTION",
	KindCommitRetaining:     "COMMIT_RETAINING",
	KindRollbackRetaining:   "ROLLBACK_RETAINING",
	KindPrepareStatement:    "PREPARE_STATEMENT",
	KindStatementStart:      "EXECUTE_STATEMENT_START",
	KindStatementFinish:     "EXECUTE_STATEMENT_FINISH",
	KindFreeStatement:       "FREE_STATEMENT",
	KindCloseCursor:         "CLOSE_CURSOR",
	KindTriggerStart:        "EXECUTE_TRIGGER_START",
	KindTriggerFinish:       "EXECUTE_TRIGGER_FINISH",
	KindFunctionStart:       "EXECUTE_FUNCTION_START",
	KindFunctionFinish:      "EXECUTE_FUNCTION_FINISH",
	KindProcedureStart:      "EXECUTE_PROCEDURE_START",
	KindProcedureFinish:     "EXECUTE_PROCEDURE_FINISH",
	KindServiceAttach:       "ATTACH_SERVICE",
	KindServiceDetach:       "DETACH_SERVICE",
	KindServiceStart:        "START_SERVICE",
	KindServiceQuery:        "QUERY_SERVICE",
	KindSetContext:          "SET_CONTEXT",
	KindError:               "ERROR",
	KindWarning:             "WARNING",
	KindServiceError:        "SERVICE_ERROR",
	KindServiceWarning:      "SERVICE_WARNING",
	KindSweepStart:          "SWEEP_START",
	KindSweepProgress:       "SWEEP_PROGRESS",
	KindSweepFinish:         "SWEEP_FINISH",
	KindSweepFailed:         "SWEEP_FAILED",
	KindCompileBLR:          "COMPILE_BLR",
	KindExecuteBLR:          "EXECUTE_BLR",
	KindExecuteDYN:          "EXECUTE_DYN",
}

func (k EventKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "UNKNOWN"
}

// headerTags maps the event tag as printed in a block header to its kind.
// Tags absent from this table classify as KindUnknown.
var headerTags = map[string]EventKind{
	"TRACE_INIT":               KindTraceInit,
	"TRACE_FINI":               KindTraceFinish,
	"CREATE_DATABASE":          KindCreateDatabase,
	"DROP_DATABASE":            KindDropDatabase,
	"ATTACH_DATABASE":          KindAttachDatabase,
	"DETACH_DATABASE":          KindDetachDatabase,
	"START_TRANSACTION":        KindStartTransaction,
	"COMMIT_TRANSACTION":       KindCommitTransaction,
	"ROLLBACK_TRANSACTION":     KindRollbackTransaction,
	"COMMIT_RETAINING":         KindCommitRetaining,
	"ROLLBACK_RETAINING":       KindRollbackRetaining,
	"PREPARE_STATEMENT":        KindPrepareStatement,
	"EXECUTE_STATEMENT_START":  KindStatementStart,
	"EXECUTE_STATEMENT_FINISH": KindStatementFinish,
	"FREE_STATEMENT":           KindFreeStatement,
	"CLOSE_CURSOR":             KindCloseCursor,
	"EXECUTE_TRIGGER_START":    KindTriggerStart,
	"EXECUTE_TRIGGER_FINISH":   KindTriggerFinish,
	"EXECUTE_FUNCTION_START":   KindFunctionStart,
	"EXECUTE_FUNCTION_FINISH":  KindFunctionFinish,
	"EXECUTE_PROCEDURE_START":  KindProcedureStart,
	"EXECUTE_PROCEDURE_FINISH": KindProcedureFinish,
	"ATTACH_SERVICE":           KindServiceAttach,
	"DETACH_SERVICE":           KindServiceDetach,
	"START_SERVICE":            KindServiceStart,
	"QUERY_SERVICE":            KindServiceQuery,
	"SET_CONTEXT":              KindSetContext,
	"ERROR":                    KindError,
	"WARNING":                  KindWarning,
	"SWEEP_START":              KindSweepStart,
	"SWEEP_PROGRESS":           KindSweepProgress,
	"SWEEP_FINISH":             KindSweepFinish,
	"SWEEP_FAILED":             KindSweepFailed,
	"COMPILE_BLR":              KindCompileBLR,
	"EXECUTE_BLR":              KindExecuteBLR,
	"EXECUTE_DYN":              KindExecuteDYN,
}

// Element is one item of the parsed stream: either an Event or an Info record.
// Info records always precede the event that first referenced them.
type Element interface {
	element()
}

// Event is one parsed trace log entry.
type Event interface {
	Element
	// Kind reports the event variant.
	Kind() EventKind
	// Seq reports the 1-based sequence id assigned during the parse.
	Seq() int
	// Time reports the event timestamp from the block header.
	Time() time.Time
}

// EventBase carries the fields shared by every event variant.
type EventBase struct {
	EventID   int       `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
}

func (e EventBase) element()        {}
func (e EventBase) Seq() int        { return e.EventID }
func (e EventBase) Time() time.Time { return e.Timestamp }

// Perf holds the optional performance counters printed after an operation.
// A nil field means the counter was not present in the log.
type Perf struct {
	RunTime *int `json:"run_time"`
	Reads   *int `json:"reads"`
	Writes  *int `json:"writes"`
	Fetches *int `json:"fetches"`
	Marks   *int `json:"marks"`
}

// AttachmentFields holds the database attachment description repeated in
// most event bodies.
type AttachmentFields struct {
	AttachmentID  int     `json:"attachment_id"`
	Database      string  `json:"database"`
	Charset       string  `json:"charset"`
	Protocol      string  `json:"protocol"`
	Address       string  `json:"address"`
	User          string  `json:"user"`
	Role          string  `json:"role"`
	RemoteProcess *string `json:"remote_process"`
	RemotePID     *int    `json:"remote_pid"`
}

type EventTraceInit struct {
	EventBase
	SessionName string `json:"session_name"`
}

type EventTraceSuspend struct {
	EventBase
	SessionName string `json:"session_name"`
}

type EventTraceFinish struct {
	EventBase
	SessionName string `json:"session_name"`
}

type EventCreate struct {
	EventBase
	Status Status `json:"status"`
	AttachmentFields
}

type EventDrop struct {
	EventBase
	Status Status `json:"status"`
	AttachmentFields
}

type EventAttach struct {
	EventBase
	Status Status `json:"status"`
	AttachmentFields
}

type EventDetach struct {
	EventBase
	Status Status `json:"status"`
	AttachmentFields
}

type EventTransactionStart struct {
	EventBase
	Status        Status   `json:"status"`
	AttachmentID  int      `json:"attachment_id"`
	TransactionID int      `json:"transaction_id"`
	Options       []string `json:"options"`
}

type EventCommit struct {
	EventBase
	Status        Status   `json:"status"`
	AttachmentID  int      `json:"attachment_id"`
	TransactionID int      `json:"transaction_id"`
	Options       []string `json:"options"`
	Perf
}

type EventRollback struct {
	EventBase
	Status        Status   `json:"status"`
	AttachmentID  int      `json:"attachment_id"`
	TransactionID int      `json:"transaction_id"`
	Options       []string `json:"options"`
	Perf
}

// EventCommitRetaining ends one transaction and opens its successor in one
// engine operation. TransactionID is the id being retired (the initial id);
// NewTransactionID is the successor when the engine reported or the parser
// inferred one, nil otherwise.
type EventCommitRetaining struct {
	EventBase
	Status           Status   `json:"status"`
	AttachmentID     int      `json:"attachment_id"`
	TransactionID    int      `json:"transaction_id"`
	Options          []string `json:"options"`
	NewTransactionID *int     `json:"new_transaction_id"`
	Perf
}

type EventRollbackRetaining struct {
	EventBase
	Status           Status   `json:"status"`
	AttachmentID     int      `json:"attachment_id"`
	TransactionID    int      `json:"transaction_id"`
	Options          []string `json:"options"`
	NewTransactionID *int     `json:"new_transaction_id"`
	Perf
}

type EventPrepareStatement struct {
	EventBase
	Status        Status `json:"status"`
	AttachmentID  int    `json:"attachment_id"`
	TransactionID int    `json:"transaction_id"`
	StatementID   int    `json:"statement_id"`
	SQLID         int    `json:"sql_id"`
	PrepareTime   *int   `json:"prepare_time"`
}

type EventStatementStart struct {
	EventBase
	Status        Status `json:"status"`
	AttachmentID  int    `json:"attachment_id"`
	TransactionID int    `json:"transaction_id"`
	StatementID   int    `json:"statement_id"`
	SQLID         int    `json:"sql_id"`
	ParamID       *int   `json:"param_id"`
}

type EventStatementFinish struct {
	EventBase
	Status        Status `json:"status"`
	AttachmentID  int    `json:"attachment_id"`
	TransactionID int    `json:"transaction_id"`
	StatementID   int    `json:"statement_id"`
	SQLID         int    `json:"sql_id"`
	ParamID       *int   `json:"param_id"`
	Records       *int   `json:"records"`
	Perf
	Access []AccessStats `json:"access"`
}

type EventFreeStatement struct {
	EventBase
	AttachmentID int `json:"attachment_id"`
	StatementID  int `json:"statement_id"`
	SQLID        int `json:"sql_id"`
}

type EventCloseCursor struct {
	EventBase
	AttachmentID int `json:"attachment_id"`
	StatementID  int `json:"statement_id"`
	SQLID        int `json:"sql_id"`
}

type EventTriggerStart struct {
	EventBase
	Status        Status  `json:"status"`
	AttachmentID  int     `json:"attachment_id"`
	TransactionID int     `json:"transaction_id"`
	Trigger       string  `json:"trigger"`
	Table         *string `json:"table"`
	TriggerEvent  string  `json:"trigger_event"`
}

type EventTriggerFinish struct {
	EventBase
	Status        Status  `json:"status"`
	AttachmentID  int     `json:"attachment_id"`
	TransactionID int     `json:"transaction_id"`
	Trigger       string  `json:"trigger"`
	Table         *string `json:"table"`
	TriggerEvent  string  `json:"trigger_event"`
	Perf
	Access []AccessStats `json:"access"`
}

type EventProcedureStart struct {
	EventBase
	Status        Status `json:"status"`
	AttachmentID  int    `json:"attachment_id"`
	TransactionID int    `json:"transaction_id"`
	Procedure     string `json:"procedure"`
	ParamID       *int   `json:"param_id"`
}

type EventProcedureFinish struct {
	EventBase
	Status        Status `json:"status"`
	AttachmentID  int    `json:"attachment_id"`
	TransactionID int    `json:"transaction_id"`
	Procedure     string `json:"procedure"`
	ParamID       *int   `json:"param_id"`
	Records       *int   `json:"records"`
	Perf
	Access []AccessStats `json:"access"`
}

type EventFunctionStart struct {
	EventBase
	Status        Status `json:"status"`
	AttachmentID  int    `json:"attachment_id"`
	TransactionID int    `json:"transaction_id"`
	Function      string `json:"function"`
	ParamID       *int   `json:"param_id"`
}

type EventFunctionFinish struct {
	EventBase
	Status        Status `json:"status"`
	AttachmentID  int    `json:"attachment_id"`
	TransactionID int    `json:"transaction_id"`
	Function      string `json:"function"`
	ParamID       *int   `json:"param_id"`
	Returns       *Value `json:"returns"`
	Perf
	Access []AccessStats `json:"access"`
}

type EventServiceAttach struct {
	EventBase
	Status    Status `json:"status"`
	ServiceID int64  `json:"service_id"`
}

type EventServiceDetach struct {
	EventBase
	Status    Status `json:"status"`
	ServiceID int64  `json:"service_id"`
}

type EventServiceStart struct {
	EventBase
	Status     Status   `json:"status"`
	ServiceID  int64    `json:"service_id"`
	Action     string   `json:"action"`
	Parameters []string `json:"parameters"`
}

// EventServiceQuery keeps the sent parameter block and the received result
// block as two distinct sequences.
type EventServiceQuery struct {
	EventBase
	Status    Status   `json:"status"`
	ServiceID int64    `json:"service_id"`
	Action    *string  `json:"action"`
	Sent      []string `json:"sent"`
	Received  []string `json:"received"`
}

type EventSetContext struct {
	EventBase
	AttachmentID  int    `json:"attachment_id"`
	TransactionID int    `json:"transaction_id"`
	Context       string `json:"context"`
	Key           string `json:"key"`
	Value         string `json:"value"`
}

type EventError struct {
	EventBase
	AttachmentID int      `json:"attachment_id"`
	Place        string   `json:"place"`
	Details      []string `json:"details"`
}

type EventWarning struct {
	EventBase
	AttachmentID int      `json:"attachment_id"`
	Place        string   `json:"place"`
	Details      []string `json:"details"`
}

type EventServiceError struct {
	EventBase
	ServiceID int64    `json:"service_id"`
	Place     string   `json:"place"`
	Details   []string `json:"details"`
}

type EventServiceWarning struct {
	EventBase
	ServiceID int64    `json:"service_id"`
	Place     string   `json:"place"`
	Details   []string `json:"details"`
}

type EventSweepStart struct {
	EventBase
	AttachmentID int `json:"attachment_id"`
	OIT          int `json:"oit"`
	OAT          int `json:"oat"`
	OST          int `json:"ost"`
	Next         int `json:"next"`
}

type EventSweepProgress struct {
	EventBase
	AttachmentID int `json:"attachment_id"`
	Perf
	Access []AccessStats `json:"access"`
}

type EventSweepFinish struct {
	EventBase
	AttachmentID int `json:"attachment_id"`
	OIT          int `json:"oit"`
	OAT          int `json:"oat"`
	OST          int `json:"ost"`
	Next         int `json:"next"`
	Perf
	Access []AccessStats `json:"access"`
}

type EventSweepFailed struct {
	EventBase
	AttachmentID int `json:"attachment_id"`
}

type EventBLRCompile struct {
	EventBase
	Status       Status  `json:"status"`
	AttachmentID int     `json:"attachment_id"`
	StatementID  *int    `json:"statement_id"`
	Content      *string `json:"content"`
	PrepareTime  *int    `json:"prepare_time"`
}

type EventBLRExecute struct {
	EventBase
	Status        Status  `json:"status"`
	AttachmentID  int     `json:"attachment_id"`
	TransactionID int     `json:"transaction_id"`
	StatementID   *int    `json:"statement_id"`
	Content       *string `json:"content"`
	Perf
	Access []AccessStats `json:"access"`
}

type EventDYNExecute struct {
	EventBase
	Status        Status  `json:"status"`
	AttachmentID  int     `json:"attachment_id"`
	TransactionID int     `json:"transaction_id"`
	Content       *string `json:"content"`
	RunTime       *int    `json:"run_time"`
}

// EventUnknown retains the raw block text of an entry whose header matched
// no known grammar. Data holds the block lines joined by newlines, verbatim.
type EventUnknown struct {
	EventBase
	Data string `json:"data"`
}

func (EventTraceInit) Kind() EventKind         { return KindTraceInit }
func (EventTraceSuspend) Kind() EventKind      { return KindTraceSuspend }
func (EventTraceFinish) Kind() EventKind       { return KindTraceFinish }
func (EventCreate) Kind() EventKind            { return KindCreateDatabase }
func (EventDrop) Kind() EventKind              { return KindDropDatabase }
func (EventAttach) Kind() EventKind            { return KindAttachDatabase }
func (EventDetach) Kind() EventKind            { return KindDetachDatabase }
func (EventTransactionStart) Kind() EventKind  { return KindStartTransaction }
func (EventCommit) Kind() EventKind            { return KindCommitTransaction }
func (EventRollback) Kind() EventKind          { return KindRollbackTransaction }
func (EventCommitRetaining) Kind() EventKind   { return KindCommitRetaining }
func (EventRollbackRetaining) Kind() EventKind { return KindRollbackRetaining }
func (EventPrepareStatement) Kind() EventKind  { return KindPrepareStatement }
func (EventStatementStart) Kind() EventKind    { return KindStatementStart }
func (EventStatementFinish) Kind() EventKind   { return KindStatementFinish }
func (EventFreeStatement) Kind() EventKind     { return KindFreeStatement }
func (EventCloseCursor) Kind() EventKind       { return KindCloseCursor }
func (EventTriggerStart) Kind() EventKind      { return KindTriggerStart }
func (EventTriggerFinish) Kind() EventKind     { return KindTriggerFinish }
func (EventFunctionStart) Kind() EventKind     { return KindFunctionStart }
func (EventFunctionFinish) Kind() EventKind    { return KindFunctionFinish }
func (EventProcedureStart) Kind() EventKind    { return KindProcedureStart }
func (EventProcedureFinish) Kind() EventKind   { return KindProcedureFinish }
func (EventServiceAttach) Kind() EventKind     { return KindServiceAttach }
func (EventServiceDetach) Kind() EventKind     { return KindServiceDetach }
func (EventServiceStart) Kind() EventKind      { return KindServiceStart }
func (EventServiceQuery) Kind() EventKind      { return KindServiceQuery }
func (EventSetContext) Kind() EventKind        { return KindSetContext }
func (EventError) Kind() EventKind             { return KindError }
func (EventWarning) Kind() EventKind           { return KindWarning }
func (EventServiceError) Kind() EventKind      { return KindServiceError }
func (EventServiceWarning) Kind() EventKind    { return KindServiceWarning }
func (EventSweepStart) Kind() EventKind        { return KindSweepStart }
func (EventSweepProgress) Kind() EventKind     { return KindSweepProgress }
func (EventSweepFinish) Kind() EventKind       { return KindSweepFinish }
func (EventSweepFailed) Kind() EventKind       { return KindSweepFailed }
func (EventBLRCompile) Kind() EventKind        { return KindCompileBLR }
func (EventBLRExecute) Kind() EventKind        { return KindExecuteBLR }
func (EventDYNExecute) Kind() EventKind        { return KindExecuteDYN }
func (EventUnknown) Kind() EventKind           { return KindUnknown }
