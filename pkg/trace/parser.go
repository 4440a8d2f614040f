package trace

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

var (
	// errMalformed classifies a recognized trace entry whose body does not
	// follow the expected grammar. Such entries degrade to unknown events
	// instead of failing the parse; the reason lands in Warnings.
	errMalformed = errors.New("malformed trace block")
	// ErrOrphanLine reports a pushed line that arrived outside any entry.
	ErrOrphanLine = errors.New("line is not part of a trace entry")
	// ErrNoSource reports a pull on a parser created for push mode.
	ErrNoSource = errors.New("parser has no line source")
)

// Options tune parser behavior.
type Options struct {
	// HasStatementFree tells the parser the traced engine reports
	// FREE_STATEMENT events. When false, interned statements are forgotten
	// after each EXECUTE_STATEMENT_FINISH so the id map cannot grow without
	// bound.
	HasStatementFree bool
	// StrictUnknown records a warning for every block that parses as an
	// unknown event. Parsing never aborts on unknown entries either way.
	StrictUnknown bool
	// InferRetainedID keeps a retained transaction alive under its original
	// number when the engine omits the "New number" line. With the option
	// off the original number is retired and the successor stays unknown.
	InferRetainedID bool
}

// DefaultOptions returns the options matching a modern engine trace.
func DefaultOptions() Options {
	return Options{HasStatementFree: true}
}

type parserState int

const (
	stateNotStarted parserState = iota
	stateRunning
	stateFinished
)

type sqlKey struct {
	sql     string
	plan    string
	hasPlan bool
}

// Parser turns trace session output into a stream of events and info
// records. A parser is not safe for concurrent use.
type Parser struct {
	opts    Options
	scanner *blockScanner
	state   parserState

	queue  []Element
	infos  []Info
	pushed []string

	seenAttachments  map[int]struct{}
	seenTransactions map[int]struct{}
	seenServices     map[int64]struct{}
	sqlIDs           map[sqlKey]int
	paramIDs         map[string]int

	nextSQLID   int
	nextParamID int
	nextEventID int

	lastTimestamp timeValue
	traceInfo     *TraceInfo
	unknownCount  int
	warnings      []string
}

// TraceInfo describes the trace session itself, captured from the first
// TRACE_INIT entry of the stream.
type TraceInfo struct {
	SessionID   int
	SessionName string
	Started     time.Time
}

func newParser(opts Options) *Parser {
	return &Parser{
		opts:             opts,
		seenAttachments:  map[int]struct{}{},
		seenTransactions: map[int]struct{}{},
		seenServices:     map[int64]struct{}{},
		sqlIDs:           map[sqlKey]int{},
		paramIDs:         map[string]int{},
		nextSQLID:        1,
		nextParamID:      1,
		nextEventID:      1,
	}
}

// NewParser returns a pull parser reading from src.
func NewParser(src LineSource, opts Options) *Parser {
	p := newParser(opts)
	p.scanner = newBlockScanner(src)
	return p
}

// NewPushParser returns a parser fed line by line through Push and Flush.
func NewPushParser(opts Options) *Parser {
	return newParser(opts)
}

// Next returns the next stream element. Info records precede the event that
// first referenced them. It returns io.EOF after the last element.
func (p *Parser) Next() (Element, error) {
	for len(p.queue) == 0 {
		if p.scanner == nil {
			return nil, ErrNoSource
		}
		if p.state == stateFinished {
			return nil, io.EOF
		}
		p.state = stateRunning
		block, err := p.scanner.scan()
		if err != nil {
			p.state = stateFinished
			return nil, err
		}
		ev, err := p.parseBlock(block)
		if err != nil {
			p.state = stateFinished
			return nil, err
		}
		p.enqueue(ev)
	}
	el := p.queue[0]
	p.queue = p.queue[1:]
	return el, nil
}

// All drains the parser and returns the complete element stream.
func (p *Parser) All() ([]Element, error) {
	var out []Element
	for {
		el, err := p.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, el)
	}
}

// Push feeds one line to the parser. It returns the completed elements when
// the line closes a pending entry, nil otherwise.
func (p *Parser) Push(line string) ([]Element, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, nil
	}
	if len(p.pushed) == 0 {
		if !isEntryHeader(line) {
			return nil, fmt.Errorf("%w: %q", ErrOrphanLine, line)
		}
		p.pushed = append(p.pushed, line)
		return nil, nil
	}
	if isEntryHeader(line) || isSuspendLine(line) {
		block := p.pushed
		p.pushed = []string{line}
		ev, err := p.parseBlock(block)
		if err != nil {
			return nil, err
		}
		p.enqueue(ev)
		return p.drain(), nil
	}
	p.pushed = append(p.pushed, line)
	return nil, nil
}

// Flush parses the entry still pending after the last pushed line.
func (p *Parser) Flush() ([]Element, error) {
	if len(p.pushed) == 0 {
		return nil, nil
	}
	block := p.pushed
	p.pushed = nil
	ev, err := p.parseBlock(block)
	if err != nil {
		return nil, err
	}
	p.enqueue(ev)
	return p.drain(), nil
}

func (p *Parser) enqueue(ev Event) {
	for _, info := range p.infos {
		p.queue = append(p.queue, info)
	}
	p.infos = p.infos[:0]
	p.queue = append(p.queue, ev)
}

func (p *Parser) drain() []Element {
	out := p.queue
	p.queue = nil
	return out
}

// TraceInfo returns the session description once a TRACE_INIT entry has
// been parsed.
func (p *Parser) TraceInfo() (TraceInfo, bool) {
	if p.traceInfo == nil {
		return TraceInfo{}, false
	}
	return *p.traceInfo, true
}

// UnknownCount reports how many blocks parsed as unknown events so far.
func (p *Parser) UnknownCount() int { return p.unknownCount }

// Warnings returns the anomalies collected during the parse: entries
// degraded to unknown, references to ids never seen opened and, under
// Options.StrictUnknown, every unknown classification.
func (p *Parser) Warnings() []string { return p.warnings }

// classify maps a block header line to its event kind. Headers carrying an
// unrecognized tag classify as unknown rather than failing the parse.
func classify(fields []string) EventKind {
	if len(fields) < 3 {
		return KindUnknown
	}
	tag := fields[2]
	if len(fields) == 3 || tag == "ERROR" || tag == "WARNING" {
		if k, ok := headerTags[tag]; ok {
			return k
		}
		return KindUnknown
	}
	if tag == "UNAUTHORIZED" || tag == "FAILED" {
		if len(fields) < 4 {
			return KindUnknown
		}
		if k, ok := headerTags[fields[3]]; ok {
			return k
		}
	}
	return KindUnknown
}

func headerStatus(fields []string) Status {
	if len(fields) == 3 || fields[2] == "ERROR" || fields[2] == "WARNING" {
		return StatusOK
	}
	switch fields[2] {
	case "UNAUTHORIZED":
		return StatusUnauthorized
	case "FAILED":
		return StatusFailed
	}
	return StatusUnknown
}

// parseHeader consumes the header line, assigns the event sequence id and
// remembers the timestamp for suspend banners that carry none.
func (p *Parser) parseHeader(d *deque) (EventBase, Status, error) {
	line := d.popFront()
	fields := strings.Fields(line)
	ts, err := parseTimestamp(fields[0])
	if err != nil {
		return EventBase{}, StatusUnknown, fmt.Errorf("%w: header timestamp in %q: %v", errMalformed, line, err)
	}
	p.lastTimestamp = timeValue{ts: ts, valid: true}
	base := EventBase{EventID: p.nextEventID, Timestamp: ts}
	p.nextEventID++
	return base, headerStatus(fields), nil
}

// parseBlock turns one segmented block into an event. A recognized entry
// whose body breaks the expected grammar degrades to an unknown event
// carrying the raw text; only the line source can fail a parse.
func (p *Parser) parseBlock(block []string) (Event, error) {
	eventID := p.nextEventID
	ev, err := p.dispatch(newDeque(block))
	if err == nil {
		return ev, nil
	}
	if !errors.Is(err, errMalformed) {
		return nil, err
	}
	// Info records queued before the failing line stay queued; their ids
	// were genuinely observed.
	p.nextEventID = eventID
	return p.buildDegraded(newDeque(block), err), nil
}

func (p *Parser) dispatch(d *deque) (Event, error) {
	if isSuspendLine(d.peek()) {
		return p.buildSuspend(d)
	}
	kind := classify(strings.Fields(d.peek()))
	switch kind {
	case KindTraceInit:
		return p.buildTraceInit(d)
	case KindTraceFinish:
		return p.buildTraceFinish(d)
	case KindCreateDatabase, KindDropDatabase, KindAttachDatabase, KindDetachDatabase:
		return p.buildAttachment(d, kind)
	case KindStartTransaction:
		return p.buildTransactionStart(d)
	case KindCommitTransaction, KindRollbackTransaction:
		return p.buildTransactionEnd(d, kind)
	case KindCommitRetaining, KindRollbackRetaining:
		return p.buildRetaining(d, kind)
	case KindPrepareStatement:
		return p.buildPrepareStatement(d)
	case KindStatementStart:
		return p.buildStatementStart(d)
	case KindStatementFinish:
		return p.buildStatementFinish(d)
	case KindFreeStatement, KindCloseCursor:
		return p.buildStatementDrop(d, kind)
	case KindTriggerStart:
		return p.buildTriggerStart(d)
	case KindTriggerFinish:
		return p.buildTriggerFinish(d)
	case KindProcedureStart, KindProcedureFinish:
		return p.buildProcedure(d, kind)
	case KindFunctionStart:
		return p.buildFunctionStart(d)
	case KindFunctionFinish:
		return p.buildFunctionFinish(d)
	case KindServiceAttach, KindServiceDetach:
		return p.buildServiceAttachment(d, kind)
	case KindServiceStart:
		return p.buildServiceStart(d)
	case KindServiceQuery:
		return p.buildServiceQuery(d)
	case KindSetContext:
		return p.buildSetContext(d)
	case KindError, KindWarning:
		return p.buildErrorWarning(d, kind)
	case KindSweepStart:
		return p.buildSweepStart(d)
	case KindSweepProgress:
		return p.buildSweepProgress(d)
	case KindSweepFinish:
		return p.buildSweepFinish(d)
	case KindSweepFailed:
		return p.buildSweepFailed(d)
	case KindCompileBLR:
		return p.buildBLRCompile(d)
	case KindExecuteBLR:
		return p.buildBLRExecute(d)
	case KindExecuteDYN:
		return p.buildDYNExecute(d)
	}
	return p.buildUnknown(d)
}

// timeValue distinguishes "no timestamp seen yet" from the zero time.
type timeValue struct {
	ts    time.Time
	valid bool
}

func (p *Parser) buildSuspend(d *deque) (Event, error) {
	line := d.popFront()
	base := EventBase{EventID: p.nextEventID}
	p.nextEventID++
	if p.lastTimestamp.valid {
		base.Timestamp = p.lastTimestamp.ts
	}
	name := line
	if i := strings.Index(line, " is suspended"); i >= 4 {
		name = line[4:i]
	}
	return EventTraceSuspend{
		EventBase:   base,
		SessionName: strings.ToUpper(strings.ReplaceAll(name, " ", "_")),
	}, nil
}

func (p *Parser) buildTraceInit(d *deque) (Event, error) {
	base, _, err := p.parseHeader(d)
	if err != nil {
		return nil, err
	}
	name := d.popFront()
	if p.traceInfo == nil {
		info := TraceInfo{SessionName: name, Started: base.Timestamp}
		if _, idStr, ok := rcut(name, "_"); ok {
			if n, cerr := strconv.Atoi(idStr); cerr == nil {
				info.SessionID = n
			}
		}
		p.traceInfo = &info
	}
	return EventTraceInit{EventBase: base, SessionName: name}, nil
}

func (p *Parser) buildTraceFinish(d *deque) (Event, error) {
	base, _, err := p.parseHeader(d)
	if err != nil {
		return nil, err
	}
	return EventTraceFinish{EventBase: base, SessionName: d.popFront()}, nil
}

func (p *Parser) buildAttachment(d *deque, kind EventKind) (Event, error) {
	base, status, err := p.parseHeader(d)
	if err != nil {
		return nil, err
	}
	af, err := p.parseAttachmentInfo(d, false)
	if err != nil {
		return nil, err
	}
	switch kind {
	case KindCreateDatabase:
		return EventCreate{EventBase: base, Status: status, AttachmentFields: af}, nil
	case KindDropDatabase:
		return EventDrop{EventBase: base, Status: status, AttachmentFields: af}, nil
	case KindDetachDatabase:
		delete(p.seenAttachments, af.AttachmentID)
		return EventDetach{EventBase: base, Status: status, AttachmentFields: af}, nil
	}
	return EventAttach{EventBase: base, Status: status, AttachmentFields: af}, nil
}

func (p *Parser) buildTransactionStart(d *deque) (Event, error) {
	base, status, err := p.parseHeader(d)
	if err != nil {
		return nil, err
	}
	af, err := p.parseAttachmentInfo(d, true)
	if err != nil {
		return nil, err
	}
	txID, options, err := p.parseTransactionInfo(d, af.AttachmentID, false)
	if err != nil {
		return nil, err
	}
	return EventTransactionStart{
		EventBase:     base,
		Status:        status,
		AttachmentID:  af.AttachmentID,
		TransactionID: txID,
		Options:       options,
	}, nil
}

func (p *Parser) buildTransactionEnd(d *deque, kind EventKind) (Event, error) {
	base, status, err := p.parseHeader(d)
	if err != nil {
		return nil, err
	}
	af, err := p.parseAttachmentInfo(d, true)
	if err != nil {
		return nil, err
	}
	txID, options, err := p.parseTransactionInfo(d, af.AttachmentID, false)
	if err != nil {
		return nil, err
	}
	perf, err := parseTransactionPerf(d)
	if err != nil {
		return nil, err
	}
	delete(p.seenTransactions, txID)
	if kind == KindCommitTransaction {
		return EventCommit{
			EventBase: base, Status: status,
			AttachmentID: af.AttachmentID, TransactionID: txID,
			Options: options, Perf: perf,
		}, nil
	}
	return EventRollback{
		EventBase: base, Status: status,
		AttachmentID: af.AttachmentID, TransactionID: txID,
		Options: options, Perf: perf,
	}, nil
}

// buildRetaining ends one transaction number and opens its successor. The
// initial number is always retired; the successor number joins the live set
// when the engine reported it. Without a "New number" line the successor is
// unknown, unless InferRetainedID keeps the original number live.
func (p *Parser) buildRetaining(d *deque, kind EventKind) (Event, error) {
	base, status, err := p.parseHeader(d)
	if err != nil {
		return nil, err
	}
	af, err := p.parseAttachmentInfo(d, true)
	if err != nil {
		return nil, err
	}
	txID, options, err := p.parseTransactionInfo(d, af.AttachmentID, false)
	if err != nil {
		return nil, err
	}
	var newID *int
	if !d.empty() && strings.HasPrefix(d.peek(), "New number") {
		n, cerr := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(d.popFront(), "New number")))
		if cerr != nil {
			return nil, fmt.Errorf("%w: retained transaction number: %v", errMalformed, cerr)
		}
		newID = intPtr(n)
	}
	perf, err := parseTransactionPerf(d)
	if err != nil {
		return nil, err
	}
	delete(p.seenTransactions, txID)
	switch {
	case newID != nil:
		p.seenTransactions[*newID] = struct{}{}
		p.infos = append(p.infos, TransactionInfo{
			AttachmentID:  af.AttachmentID,
			TransactionID: *newID,
			Options:       options,
			InitialID:     intPtr(txID),
		})
	case p.opts.InferRetainedID:
		newID = intPtr(txID)
		p.seenTransactions[txID] = struct{}{}
	}
	if kind == KindCommitRetaining {
		return EventCommitRetaining{
			EventBase: base, Status: status,
			AttachmentID: af.AttachmentID, TransactionID: txID,
			Options: options, NewTransactionID: newID, Perf: perf,
		}, nil
	}
	return EventRollbackRetaining{
		EventBase: base, Status: status,
		AttachmentID: af.AttachmentID, TransactionID: txID,
		Options: options, NewTransactionID: newID, Perf: perf,
	}, nil
}

// statementContext gathers the attachment, transaction, statement id, text
// and plan shared by the statement events.
type statementContext struct {
	attachmentID  int
	transactionID int
	statementID   int
	sql           string
	plan          *string
}

func (p *Parser) parseStatementContext(d *deque, status Status, withTransaction bool) (statementContext, error) {
	var sc statementContext
	af, err := p.parseAttachmentInfo(d, true)
	if err != nil {
		return sc, err
	}
	sc.attachmentID = af.AttachmentID
	if withTransaction {
		sc.transactionID, _, err = p.parseTransactionInfo(d, af.AttachmentID, true)
		if err != nil {
			return sc, err
		}
	}
	sc.statementID, err = parseStatementID(d, status)
	if err != nil {
		return sc, err
	}
	return sc, nil
}

func (p *Parser) buildPrepareStatement(d *deque) (Event, error) {
	base, status, err := p.parseHeader(d)
	if err != nil {
		return nil, err
	}
	sc, err := p.parseStatementContext(d, status, true)
	if err != nil {
		return nil, err
	}
	prepareTime, err := parsePrepareTime(d)
	if err != nil {
		return nil, err
	}
	sc.sql = parseSQLText(d)
	if sc.plan, err = parsePlan(d); err != nil {
		return nil, err
	}
	return EventPrepareStatement{
		EventBase: base, Status: status,
		AttachmentID: sc.attachmentID, TransactionID: sc.transactionID,
		StatementID: sc.statementID,
		SQLID:       p.internSQL(sc.sql, sc.plan),
		PrepareTime: prepareTime,
	}, nil
}

func (p *Parser) buildStatementStart(d *deque) (Event, error) {
	base, status, err := p.parseHeader(d)
	if err != nil {
		return nil, err
	}
	sc, err := p.parseStatementContext(d, status, true)
	if err != nil {
		return nil, err
	}
	sc.sql = parseSQLText(d)
	if sc.plan, err = parsePlan(d); err != nil {
		return nil, err
	}
	paramID, err := p.parseParameters(d)
	if err != nil {
		return nil, err
	}
	return EventStatementStart{
		EventBase: base, Status: status,
		AttachmentID: sc.attachmentID, TransactionID: sc.transactionID,
		StatementID: sc.statementID,
		SQLID:       p.internSQL(sc.sql, sc.plan),
		ParamID:     paramID,
	}, nil
}

func (p *Parser) buildStatementFinish(d *deque) (Event, error) {
	base, status, err := p.parseHeader(d)
	if err != nil {
		return nil, err
	}
	sc, err := p.parseStatementContext(d, status, true)
	if err != nil {
		return nil, err
	}
	sc.sql = parseSQLText(d)
	if sc.plan, err = parsePlan(d); err != nil {
		return nil, err
	}
	paramID, err := p.parseParameters(d)
	if err != nil {
		return nil, err
	}
	records, perf, access, err := parsePerformance(d)
	if err != nil {
		return nil, err
	}
	sqlID := p.internSQL(sc.sql, sc.plan)
	if !p.opts.HasStatementFree {
		p.forgetSQL(sc.sql, sc.plan)
	}
	return EventStatementFinish{
		EventBase: base, Status: status,
		AttachmentID: sc.attachmentID, TransactionID: sc.transactionID,
		StatementID: sc.statementID, SQLID: sqlID,
		ParamID: paramID, Records: records, Perf: perf, Access: access,
	}, nil
}

func (p *Parser) buildStatementDrop(d *deque, kind EventKind) (Event, error) {
	base, status, err := p.parseHeader(d)
	if err != nil {
		return nil, err
	}
	sc, err := p.parseStatementContext(d, status, false)
	if err != nil {
		return nil, err
	}
	sc.sql = parseSQLText(d)
	if sc.plan, err = parsePlan(d); err != nil {
		return nil, err
	}
	sqlID := p.internSQL(sc.sql, sc.plan)
	if kind == KindFreeStatement {
		p.forgetSQL(sc.sql, sc.plan)
		return EventFreeStatement{
			EventBase:    base,
			AttachmentID: sc.attachmentID,
			StatementID:  sc.statementID,
			SQLID:        sqlID,
		}, nil
	}
	return EventCloseCursor{
		EventBase:    base,
		AttachmentID: sc.attachmentID,
		StatementID:  sc.statementID,
		SQLID:        sqlID,
	}, nil
}

func (p *Parser) buildTriggerStart(d *deque) (Event, error) {
	base, status, err := p.parseHeader(d)
	if err != nil {
		return nil, err
	}
	af, err := p.parseAttachmentInfo(d, true)
	if err != nil {
		return nil, err
	}
	txID, _, err := p.parseTransactionInfo(d, af.AttachmentID, true)
	if err != nil {
		return nil, err
	}
	trigger, table, event, err := parseTrigger(d)
	if err != nil {
		return nil, err
	}
	return EventTriggerStart{
		EventBase: base, Status: status,
		AttachmentID: af.AttachmentID, TransactionID: txID,
		Trigger: trigger, Table: table, TriggerEvent: event,
	}, nil
}

func (p *Parser) buildTriggerFinish(d *deque) (Event, error) {
	base, status, err := p.parseHeader(d)
	if err != nil {
		return nil, err
	}
	af, err := p.parseAttachmentInfo(d, true)
	if err != nil {
		return nil, err
	}
	txID, _, err := p.parseTransactionInfo(d, af.AttachmentID, true)
	if err != nil {
		return nil, err
	}
	trigger, table, event, err := parseTrigger(d)
	if err != nil {
		return nil, err
	}
	_, perf, access, err := parsePerformance(d)
	if err != nil {
		return nil, err
	}
	return EventTriggerFinish{
		EventBase: base, Status: status,
		AttachmentID: af.AttachmentID, TransactionID: txID,
		Trigger: trigger, Table: table, TriggerEvent: event,
		Perf: perf, Access: access,
	}, nil
}

// parseRoutineName consumes the "Procedure NAME:" or "Function NAME:" line.
func parseRoutineName(d *deque) (string, error) {
	line := d.popFront()
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return "", fmt.Errorf("%w: routine name line %q", errMalformed, line)
	}
	return strings.TrimSuffix(fields[1], ":"), nil
}

func (p *Parser) buildProcedure(d *deque, kind EventKind) (Event, error) {
	base, status, err := p.parseHeader(d)
	if err != nil {
		return nil, err
	}
	af, err := p.parseAttachmentInfo(d, true)
	if err != nil {
		return nil, err
	}
	txID, _, err := p.parseTransactionInfo(d, af.AttachmentID, true)
	if err != nil {
		return nil, err
	}
	name, err := parseRoutineName(d)
	if err != nil {
		return nil, err
	}
	paramID, err := p.parseParameters(d)
	if err != nil {
		return nil, err
	}
	if kind == KindProcedureStart {
		return EventProcedureStart{
			EventBase: base, Status: status,
			AttachmentID: af.AttachmentID, TransactionID: txID,
			Procedure: name, ParamID: paramID,
		}, nil
	}
	records, perf, access, err := parsePerformance(d)
	if err != nil {
		return nil, err
	}
	return EventProcedureFinish{
		EventBase: base, Status: status,
		AttachmentID: af.AttachmentID, TransactionID: txID,
		Procedure: name, ParamID: paramID,
		Records: records, Perf: perf, Access: access,
	}, nil
}

func (p *Parser) buildFunctionStart(d *deque) (Event, error) {
	base, status, err := p.parseHeader(d)
	if err != nil {
		return nil, err
	}
	af, err := p.parseAttachmentInfo(d, true)
	if err != nil {
		return nil, err
	}
	txID, _, err := p.parseTransactionInfo(d, af.AttachmentID, true)
	if err != nil {
		return nil, err
	}
	name, err := parseRoutineName(d)
	if err != nil {
		return nil, err
	}
	paramID, err := p.parseParameters(d)
	if err != nil {
		return nil, err
	}
	return EventFunctionStart{
		EventBase: base, Status: status,
		AttachmentID: af.AttachmentID, TransactionID: txID,
		Function: name, ParamID: paramID,
	}, nil
}

func (p *Parser) buildFunctionFinish(d *deque) (Event, error) {
	base, status, err := p.parseHeader(d)
	if err != nil {
		return nil, err
	}
	af, err := p.parseAttachmentInfo(d, true)
	if err != nil {
		return nil, err
	}
	txID, _, err := p.parseTransactionInfo(d, af.AttachmentID, true)
	if err != nil {
		return nil, err
	}
	name, err := parseRoutineName(d)
	if err != nil {
		return nil, err
	}
	paramID, err := p.parseParameters(d)
	if err != nil {
		return nil, err
	}
	var returns *Value
	if !d.empty() {
		d.popFront() // the "returns:" label
		values, verr := parseParamsBlock(d)
		if verr != nil {
			return nil, verr
		}
		if len(values) == 0 {
			return nil, fmt.Errorf("%w: function return value expected", errMalformed)
		}
		returns = &values[0]
	}
	_, perf, access, err := parsePerformance(d)
	if err != nil {
		return nil, err
	}
	return EventFunctionFinish{
		EventBase: base, Status: status,
		AttachmentID: af.AttachmentID, TransactionID: txID,
		Function: name, ParamID: paramID, Returns: returns,
		Perf: perf, Access: access,
	}, nil
}

func (p *Parser) buildServiceAttachment(d *deque, kind EventKind) (Event, error) {
	base, status, err := p.parseHeader(d)
	if err != nil {
		return nil, err
	}
	svcID, err := p.parseService(d, kind == KindServiceAttach)
	if err != nil {
		return nil, err
	}
	if kind == KindServiceDetach {
		delete(p.seenServices, svcID)
		return EventServiceDetach{EventBase: base, Status: status, ServiceID: svcID}, nil
	}
	return EventServiceAttach{EventBase: base, Status: status, ServiceID: svcID}, nil
}

func (p *Parser) buildServiceStart(d *deque) (Event, error) {
	base, status, err := p.parseHeader(d)
	if err != nil {
		return nil, err
	}
	svcID, err := p.parseService(d, false)
	if err != nil {
		return nil, err
	}
	action := strings.Trim(d.popFront(), `"`)
	return EventServiceStart{
		EventBase: base, Status: status,
		ServiceID: svcID, Action: action, Parameters: d.rest(),
	}, nil
}

func (p *Parser) buildServiceQuery(d *deque) (Event, error) {
	base, status, err := p.parseHeader(d)
	if err != nil {
		return nil, err
	}
	svcID, err := p.parseService(d, false)
	if err != nil {
		return nil, err
	}
	ev := EventServiceQuery{
		EventBase: base, Status: status, ServiceID: svcID,
		Sent: []string{}, Received: []string{},
	}
	if d.empty() {
		return ev, nil
	}
	line := strings.TrimSpace(d.popFront())
	if len(line) >= 2 && line[0] == '"' && line[len(line)-1] == '"' {
		ev.Action = strPtr(strings.Trim(line, `"`))
		if d.empty() {
			return ev, nil
		}
		line = strings.TrimSpace(d.popFront())
	}
	if strings.HasPrefix(line, "Send portion of the query:") {
		for !d.empty() {
			line = strings.TrimSpace(d.popFront())
			if strings.HasPrefix(line, "Receive portion of the query:") {
				break
			}
			ev.Sent = append(ev.Sent, line)
		}
	}
	if strings.HasPrefix(line, "Receive portion of the query:") {
		for !d.empty() {
			ev.Received = append(ev.Received, strings.TrimSpace(d.popFront()))
		}
	}
	return ev, nil
}

func (p *Parser) buildSetContext(d *deque) (Event, error) {
	base, _, err := p.parseHeader(d)
	if err != nil {
		return nil, err
	}
	af, err := p.parseAttachmentInfo(d, true)
	if err != nil {
		return nil, err
	}
	txID, _, err := p.parseTransactionInfo(d, af.AttachmentID, true)
	if err != nil {
		return nil, err
	}
	line := d.popFront()
	context, rest, found := strings.Cut(line, "]")
	if !found || !strings.HasPrefix(context, "[") {
		return nil, fmt.Errorf("%w: context variable line %q", errMalformed, line)
	}
	key, value, found := strings.Cut(rest, "=")
	if !found {
		return nil, fmt.Errorf("%w: context variable line %q", errMalformed, line)
	}
	return EventSetContext{
		EventBase:    base,
		AttachmentID: af.AttachmentID, TransactionID: txID,
		Context: context[1:],
		Key:     strings.TrimSpace(key),
		Value:   strings.Trim(value, ` "`),
	}, nil
}

func (p *Parser) buildErrorWarning(d *deque, kind EventKind) (Event, error) {
	header := d.peek()
	_, place, found := strings.Cut(header, " AT ")
	if !found {
		return nil, fmt.Errorf("%w: error location in %q", errMalformed, header)
	}
	base, _, err := p.parseHeader(d)
	if err != nil {
		return nil, err
	}
	if strings.Contains(d.peek(), "service_mgr") {
		svcID, serr := p.parseService(d, false)
		if serr != nil {
			return nil, serr
		}
		if kind == KindWarning {
			return EventServiceWarning{EventBase: base, ServiceID: svcID, Place: place, Details: d.rest()}, nil
		}
		return EventServiceError{EventBase: base, ServiceID: svcID, Place: place, Details: d.rest()}, nil
	}
	af, err := p.parseAttachmentInfo(d, true)
	if err != nil {
		return nil, err
	}
	if kind == KindWarning {
		return EventWarning{EventBase: base, AttachmentID: af.AttachmentID, Place: place, Details: d.rest()}, nil
	}
	return EventError{EventBase: base, AttachmentID: af.AttachmentID, Place: place, Details: d.rest()}, nil
}

func (p *Parser) buildSweepStart(d *deque) (Event, error) {
	base, _, err := p.parseHeader(d)
	if err != nil {
		return nil, err
	}
	af, err := p.parseAttachmentInfo(d, true)
	if err != nil {
		return nil, err
	}
	c, err := parseSweepCounters(d)
	if err != nil {
		return nil, err
	}
	return EventSweepStart{
		EventBase:    base,
		AttachmentID: af.AttachmentID,
		OIT:          c.oit, OAT: c.oat, OST: c.ost, Next: c.next,
	}, nil
}

func (p *Parser) buildSweepProgress(d *deque) (Event, error) {
	base, _, err := p.parseHeader(d)
	if err != nil {
		return nil, err
	}
	af, err := p.parseAttachmentInfo(d, true)
	if err != nil {
		return nil, err
	}
	_, perf, access, err := parsePerformance(d)
	if err != nil {
		return nil, err
	}
	return EventSweepProgress{
		EventBase:    base,
		AttachmentID: af.AttachmentID,
		Perf:         perf, Access: access,
	}, nil
}

func (p *Parser) buildSweepFinish(d *deque) (Event, error) {
	base, _, err := p.parseHeader(d)
	if err != nil {
		return nil, err
	}
	af, err := p.parseAttachmentInfo(d, true)
	if err != nil {
		return nil, err
	}
	c, err := parseSweepCounters(d)
	if err != nil {
		return nil, err
	}
	_, perf, access, err := parsePerformance(d)
	if err != nil {
		return nil, err
	}
	return EventSweepFinish{
		EventBase:    base,
		AttachmentID: af.AttachmentID,
		OIT:          c.oit, OAT: c.oat, OST: c.ost, Next: c.next,
		Perf: perf, Access: access,
	}, nil
}

func (p *Parser) buildSweepFailed(d *deque) (Event, error) {
	base, _, err := p.parseHeader(d)
	if err != nil {
		return nil, err
	}
	af, err := p.parseAttachmentInfo(d, true)
	if err != nil {
		return nil, err
	}
	return EventSweepFailed{EventBase: base, AttachmentID: af.AttachmentID}, nil
}

func (p *Parser) buildBLRCompile(d *deque) (Event, error) {
	base, status, err := p.parseHeader(d)
	if err != nil {
		return nil, err
	}
	af, err := p.parseAttachmentInfo(d, true)
	if err != nil {
		return nil, err
	}
	stmtID, err := parseBLRStatementID(d)
	if err != nil {
		return nil, err
	}
	content := parseBLRContent(d)
	prepareTime, err := parsePrepareTime(d)
	if err != nil {
		return nil, err
	}
	return EventBLRCompile{
		EventBase: base, Status: status,
		AttachmentID: af.AttachmentID,
		StatementID:  stmtID, Content: content, PrepareTime: prepareTime,
	}, nil
}

func (p *Parser) buildBLRExecute(d *deque) (Event, error) {
	base, status, err := p.parseHeader(d)
	if err != nil {
		return nil, err
	}
	af, err := p.parseAttachmentInfo(d, true)
	if err != nil {
		return nil, err
	}
	txID, _, err := p.parseTransactionInfo(d, af.AttachmentID, true)
	if err != nil {
		return nil, err
	}
	stmtID, err := parseBLRStatementID(d)
	if err != nil {
		return nil, err
	}
	content := parseBLRContent(d)
	_, perf, access, err := parsePerformance(d)
	if err != nil {
		return nil, err
	}
	return EventBLRExecute{
		EventBase: base, Status: status,
		AttachmentID: af.AttachmentID, TransactionID: txID,
		StatementID: stmtID, Content: content,
		Perf: perf, Access: access,
	}, nil
}

func (p *Parser) buildDYNExecute(d *deque) (Event, error) {
	base, status, err := p.parseHeader(d)
	if err != nil {
		return nil, err
	}
	af, err := p.parseAttachmentInfo(d, true)
	if err != nil {
		return nil, err
	}
	txID, _, err := p.parseTransactionInfo(d, af.AttachmentID, true)
	if err != nil {
		return nil, err
	}
	content := parseBLRContent(d)
	var runTime *int
	if !d.empty() {
		fields := strings.Fields(d.popFront())
		n, cerr := strconv.Atoi(fields[0])
		if cerr != nil {
			return nil, fmt.Errorf("%w: DYN run time: %v", errMalformed, cerr)
		}
		runTime = intPtr(n)
	}
	return EventDYNExecute{
		EventBase: base, Status: status,
		AttachmentID: af.AttachmentID, TransactionID: txID,
		Content: content, RunTime: runTime,
	}, nil
}

// buildUnknown retains the block verbatim, minus the timestamp and process
// prefix of the header line.
func (p *Parser) buildUnknown(d *deque) (Event, error) {
	fields := strings.Fields(d.peek())
	base, _, err := p.parseHeader(d)
	if err != nil {
		return nil, err
	}
	var data []string
	if len(fields) > 2 {
		data = append(data, strings.Join(fields[2:], " "))
	} else {
		data = append(data, "")
	}
	data = append(data, d.rest()...)
	p.unknownCount++
	if p.opts.StrictUnknown {
		p.warnings = append(p.warnings, fmt.Sprintf("unknown trace entry %d at %s", base.EventID, base.Timestamp.Format("2006-01-02T15:04:05.0000")))
	}
	return EventUnknown{EventBase: base, Data: strings.Join(data, "\n")}, nil
}

// buildDegraded re-emits a recognized block whose body broke the expected
// grammar. The raw text is kept verbatim so the stream stays complete.
func (p *Parser) buildDegraded(d *deque, cause error) Event {
	fields := strings.Fields(d.popFront())
	base := EventBase{EventID: p.nextEventID}
	p.nextEventID++
	if ts, err := parseTimestamp(fields[0]); err == nil {
		base.Timestamp = ts
		p.lastTimestamp = timeValue{ts: ts, valid: true}
	} else if p.lastTimestamp.valid {
		base.Timestamp = p.lastTimestamp.ts
	}
	data := []string{""}
	if len(fields) > 2 {
		data[0] = strings.Join(fields[2:], " ")
	}
	data = append(data, d.rest()...)
	p.unknownCount++
	p.warnings = append(p.warnings, fmt.Sprintf("entry %d kept as unknown: %v", base.EventID, cause))
	return EventUnknown{EventBase: base, Data: strings.Join(data, "\n")}
}
