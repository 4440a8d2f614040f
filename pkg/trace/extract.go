package trace

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	stmtSeparator = "-------------------------------------------------------------------------------"
	planSeparator = "^^^^^^^^^^^^^^^^^^^^^^^^^^^^^^^^^^^^^^^^^^^^^^^^^^^^^^^^^^^^^^^^^^^^^^^^^^^^^^^"
	accessHeader  = "Table                             Natural     Index    Update    Insert    Delete   Backout     Purge   Expunge"
)

var accessSeparator = strings.Repeat("*", 111)

func isPlanSeparator(line string) bool { return line == planSeparator }

func isPerfStart(line string) bool {
	const suffix = " records fetched"
	if !strings.HasSuffix(line, suffix) {
		return false
	}
	n := strings.TrimSuffix(line, suffix)
	if n == "" {
		return false
	}
	for _, r := range n {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func isBLRPerfStart(line string) bool {
	for _, part := range strings.Fields(line) {
		switch part {
		case "ms", "read(s)", "write(s)", "fetch(es)", "mark(s)":
			return true
		}
	}
	return false
}

func isParamStart(line string) bool { return strings.HasPrefix(line, "param0 = ") }

func intPtr(v int) *int       { return &v }
func strPtr(s string) *string { return &s }

// safeInt treats a blank table cell as zero.
func safeInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

// parseAttachmentInfo consumes the attachment description at the head of the
// block: the database path with the parenthesized attachment spec, plus the
// optional remote process line that follows it. When check is set and the
// attachment id has not been seen, an AttachmentInfo synthesized from this
// block is queued and marked unresolved.
func (p *Parser) parseAttachmentInfo(d *deque, check bool) (AttachmentFields, error) {
	var af AttachmentFields
	line := d.popFront()
	database, spec, found := strings.Cut(line, " (")
	if !found {
		return af, fmt.Errorf("%w: attachment description expected in %q", errMalformed, line)
	}
	af.Database = database
	parts := strings.Split(strings.Trim(spec, "()"), ",")
	if len(parts) != 4 {
		return af, fmt.Errorf("%w: attachment spec %q", errMalformed, spec)
	}
	_, idStr, found := strings.Cut(parts[0], "_")
	if !found {
		return af, fmt.Errorf("%w: attachment id %q", errMalformed, parts[0])
	}
	id, err := strconv.Atoi(idStr)
	if err != nil {
		return af, fmt.Errorf("%w: attachment id %q: %v", errMalformed, parts[0], err)
	}
	af.AttachmentID = id
	af.Charset = strings.TrimSpace(parts[2])
	protoAddr := strings.TrimSpace(parts[3])
	if protoAddr == "<internal>" {
		af.Protocol, af.Address = protoAddr, protoAddr
	} else {
		proto, addr, found := strings.Cut(protoAddr, ":")
		if !found {
			return af, fmt.Errorf("%w: protocol address %q", errMalformed, protoAddr)
		}
		af.Protocol, af.Address = proto, addr
	}
	userRole := strings.TrimSpace(parts[1])
	if user, role, found := strings.Cut(userRole, ":"); found {
		af.User, af.Role = user, role
	} else {
		af.User, af.Role = userRole, "NONE"
	}
	if protoAddr != "<internal>" && !d.empty() {
		head := d.peek()
		if !strings.HasPrefix(head, "(TRA") && !strings.Contains(head, " ms,") &&
			!strings.Contains(head, "Transaction counters:") &&
			!strings.HasPrefix(head, "---") {
			// Only a trailing :pid marks a genuine remote process line; anything
			// else belongs to the event body.
			if proc, pid, found := rcut(head, ":"); found {
				if n, err := strconv.Atoi(pid); err == nil {
					af.RemoteProcess = strPtr(proc)
					af.RemotePID = intPtr(n)
					d.popFront()
				}
			}
		}
	}
	if check {
		if _, seen := p.seenAttachments[af.AttachmentID]; !seen {
			p.infos = append(p.infos, AttachmentInfo{AttachmentFields: af, Unresolved: true})
			p.warnings = append(p.warnings, fmt.Sprintf("unresolved attachment reference %d", af.AttachmentID))
		}
	}
	p.seenAttachments[af.AttachmentID] = struct{}{}
	return af, nil
}

// rcut is strings.Cut splitting at the last occurrence of sep.
func rcut(s, sep string) (before, after string, found bool) {
	i := strings.LastIndex(s, sep)
	if i < 0 {
		return s, "", false
	}
	return s[:i], s[i+len(sep):], true
}

// parseTransactionInfo consumes the parenthesized transaction spec. The
// three item form carries the initial id of a retained transaction.
func (p *Parser) parseTransactionInfo(d *deque, attachmentID int, check bool) (int, []string, error) {
	line := strings.Trim(d.popFront(), "\t ()")
	items := strings.Split(line, ",")
	var idPart, optPart string
	var initialID *int
	switch len(items) {
	case 2:
		idPart, optPart = items[0], items[1]
	case 3:
		idPart, optPart = items[0], items[2]
		_, initStr, _ := rcut(items[1], "_")
		n, err := strconv.Atoi(initStr)
		if err != nil {
			return 0, nil, fmt.Errorf("%w: initial transaction id %q: %v", errMalformed, items[1], err)
		}
		initialID = intPtr(n)
	default:
		return 0, nil, fmt.Errorf("%w: transaction spec %q", errMalformed, line)
	}
	_, idStr, found := strings.Cut(idPart, "_")
	if !found {
		return 0, nil, fmt.Errorf("%w: transaction id %q", errMalformed, idPart)
	}
	id, err := strconv.Atoi(idStr)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: transaction id %q: %v", errMalformed, idPart, err)
	}
	var options []string
	for _, opt := range strings.Split(optPart, "|") {
		options = append(options, strings.TrimSpace(opt))
	}
	if check {
		if _, seen := p.seenTransactions[id]; !seen {
			p.infos = append(p.infos, TransactionInfo{
				AttachmentID:  attachmentID,
				TransactionID: id,
				Options:       options,
				InitialID:     initialID,
				Unresolved:    true,
			})
			p.warnings = append(p.warnings, fmt.Sprintf("unresolved transaction reference %d", id))
		}
	}
	p.seenTransactions[id] = struct{}{}
	return id, options, nil
}

// parseCounters fills perf from one "N ms, N read(s), ..." line.
func parseCounters(line string, perf *Perf) error {
	for _, item := range strings.Split(line, ",") {
		fields := strings.Fields(item)
		if len(fields) != 2 {
			return fmt.Errorf("%w: performance counter %q", errMalformed, item)
		}
		n, err := strconv.Atoi(fields[0])
		if err != nil {
			return fmt.Errorf("%w: performance counter %q: %v", errMalformed, item, err)
		}
		switch {
		case strings.Contains(fields[1], "ms"):
			perf.RunTime = intPtr(n)
		case strings.Contains(fields[1], "read"):
			perf.Reads = intPtr(n)
		case strings.Contains(fields[1], "write"):
			perf.Writes = intPtr(n)
		case strings.Contains(fields[1], "fetch"):
			perf.Fetches = intPtr(n)
		case strings.Contains(fields[1], "mark"):
			perf.Marks = intPtr(n)
		default:
			return fmt.Errorf("%w: performance counter type %q", errMalformed, fields[1])
		}
	}
	return nil
}

// parseTransactionPerf consumes the optional counter line of transaction
// end events.
func parseTransactionPerf(d *deque) (Perf, error) {
	var perf Perf
	if d.empty() {
		return perf, nil
	}
	err := parseCounters(d.popFront(), &perf)
	return perf, err
}

// parseStatementID consumes the "Statement N:" line and the dash separator.
// Failed statements carry only the id, without the separated body.
func parseStatementID(d *deque, status Status) (id int, err error) {
	line := d.popFront()
	if strings.HasPrefix(line, "Statement") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, fmt.Errorf("%w: statement id line %q", errMalformed, line)
		}
		id, err = strconv.Atoi(strings.TrimSuffix(fields[1], ":"))
		if err != nil {
			return 0, fmt.Errorf("%w: statement id line %q: %v", errMalformed, line, err)
		}
		if status == StatusFailed {
			return id, nil
		}
		line = d.popFront()
	}
	if line != stmtSeparator {
		return id, fmt.Errorf("%w: statement separator expected, got %q", errMalformed, line)
	}
	return id, nil
}

// parsePrepareTime trims the trailing "N ms" line, if present, off the block.
func parsePrepareTime(d *deque) (*int, error) {
	if d.empty() || !strings.HasSuffix(d.tail(), " ms") {
		return nil, nil
	}
	fields := strings.Fields(d.popTail())
	n, err := strconv.Atoi(fields[0])
	if err != nil {
		return nil, fmt.Errorf("%w: prepare time %q: %v", errMalformed, strings.Join(fields, " "), err)
	}
	return intPtr(n), nil
}

// parseSQLText collects statement text up to the plan separator, performance
// counters or parameter block.
func parseSQLText(d *deque) string {
	if d.empty() {
		return ""
	}
	var sql []string
	for !d.empty() {
		line := d.peek()
		if isPlanSeparator(line) || isPerfStart(line) || isParamStart(line) {
			break
		}
		sql = append(sql, d.popFront())
	}
	return strings.Join(sql, "\n")
}

// parsePlan collects the access plan between the caret separator and the
// next section.
func parsePlan(d *deque) (*string, error) {
	if d.empty() {
		return nil, nil
	}
	line := d.peek()
	if isPerfStart(line) || isParamStart(line) {
		return nil, nil
	}
	if !isPlanSeparator(line) {
		return nil, fmt.Errorf("%w: plan separator expected, got %q", errMalformed, line)
	}
	d.popFront()
	var plan []string
	for !d.empty() {
		line = d.peek()
		if isPerfStart(line) || isParamStart(line) {
			break
		}
		plan = append(plan, d.popFront())
	}
	s := strings.Join(plan, "\n")
	return &s, nil
}

// parseValueSpec decodes one `type, "value"` parameter definition.
func parseValueSpec(spec string) (Value, error) {
	typ, raw, found := strings.Cut(spec, ",")
	if !found {
		return Value{}, fmt.Errorf("%w: parameter spec %q", errMalformed, spec)
	}
	v := Value{Type: typ}
	raw = strings.Trim(raw, ` "`)
	if raw == "<NULL>" {
		v.Null = true
		return v, nil
	}
	switch typ {
	case "smallint", "integer", "bigint":
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %s value %q: %v", errMalformed, typ, raw, err)
		}
		v.Int = &n
	case "timestamp":
		ts, err := parseTimestamp(raw)
		if err != nil {
			return Value{}, fmt.Errorf("%w: timestamp value %q: %v", errMalformed, raw, err)
		}
		v.Time = &ts
	case "date":
		ts, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return Value{}, fmt.Errorf("%w: date value %q: %v", errMalformed, raw, err)
		}
		v.Time = &ts
	case "time":
		ts, err := parseTimeOfDay(raw)
		if err != nil {
			return Value{}, fmt.Errorf("%w: time value %q: %v", errMalformed, raw, err)
		}
		v.Time = &ts
	case "float", "double precision":
		if _, err := strconv.ParseFloat(raw, 64); err != nil {
			return Value{}, fmt.Errorf("%w: %s value %q: %v", errMalformed, typ, raw, err)
		}
		v.Dec = &raw
	default:
		v.Str = &raw
	}
	return v, nil
}

func parseTimeOfDay(s string) (time.Time, error) {
	for _, layout := range []string{"15:04:05.0000", "15:04:05.000000", "15:04:05"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

// parseParamsBlock consumes the consecutive paramN lines.
func parseParamsBlock(d *deque) ([]Value, error) {
	var params []Value
	for !d.empty() && strings.HasPrefix(d.peek(), "param") {
		line := d.popFront()
		_, spec, found := strings.Cut(line, " = ")
		if !found {
			return nil, fmt.Errorf("%w: parameter line %q", errMalformed, line)
		}
		v, err := parseValueSpec(spec)
		if err != nil {
			return nil, err
		}
		params = append(params, v)
	}
	return params, nil
}

// parseParameters interns the parameter block and returns its set id, nil
// when the event carried no parameters.
func (p *Parser) parseParameters(d *deque) (*int, error) {
	params, err := parseParamsBlock(d)
	if err != nil {
		return nil, err
	}
	for !d.empty() && strings.HasSuffix(d.peek(), "more arguments skipped...") {
		d.popFront()
	}
	if len(params) == 0 {
		return nil, nil
	}
	key := paramKey(params)
	if id, ok := p.paramIDs[key]; ok {
		return intPtr(id), nil
	}
	id := p.nextParamID
	p.nextParamID++
	p.paramIDs[key] = id
	p.infos = append(p.infos, ParamSet{ParamID: id, Params: params})
	return intPtr(id), nil
}

// paramKey renders a parameter list into a canonical interning key.
func paramKey(params []Value) string {
	var b strings.Builder
	for _, v := range params {
		b.WriteString(v.Type)
		b.WriteByte('=')
		switch {
		case v.Null:
			b.WriteString("<NULL>")
		case v.Int != nil:
			b.WriteString(strconv.FormatInt(*v.Int, 10))
		case v.Dec != nil:
			b.WriteString(*v.Dec)
		case v.Time != nil:
			b.WriteString(v.Time.Format(time.RFC3339Nano))
		case v.Str != nil:
			b.WriteString(*v.Str)
		}
		b.WriteByte(';')
	}
	return b.String()
}

// parsePerformance consumes the optional records line, the counter line and
// the table access statistics that close most finish events.
func parsePerformance(d *deque) (records *int, perf Perf, access []AccessStats, err error) {
	if d.empty() {
		return nil, perf, nil, nil
	}
	if strings.Contains(d.peek(), "records fetched") {
		n, cerr := strconv.Atoi(strings.Fields(d.popFront())[0])
		if cerr != nil {
			return nil, perf, nil, fmt.Errorf("%w: fetched records count: %v", errMalformed, cerr)
		}
		records = intPtr(n)
	}
	if err = parseCounters(d.popFront(), &perf); err != nil {
		return nil, perf, nil, err
	}
	if d.empty() {
		return records, perf, nil, nil
	}
	if line := d.popFront(); line != accessHeader {
		return nil, perf, nil, fmt.Errorf("%w: access table header expected, got %q", errMalformed, line)
	}
	if line := d.popFront(); line != accessSeparator {
		return nil, perf, nil, fmt.Errorf("%w: access table separator expected, got %q", errMalformed, line)
	}
	access = []AccessStats{}
	for !d.empty() {
		row, rerr := parseAccessRow(d.popFront())
		if rerr != nil {
			return nil, perf, nil, rerr
		}
		access = append(access, row)
	}
	return records, perf, access, nil
}

// parseAccessRow splits one fixed width statistics row. Offsets follow the
// engine's table layout; a short row leaves the missing cells at zero.
func parseAccessRow(line string) (AccessStats, error) {
	cell := func(from, to int) string {
		if from >= len(line) {
			return ""
		}
		if to > len(line) {
			to = len(line)
		}
		return strings.TrimSpace(line[from:to])
	}
	var row AccessStats
	var err error
	row.Table = cell(0, 32)
	fields := []struct {
		dst      *int
		from, to int
	}{
		{&row.Natural, 32, 41}, {&row.Index, 41, 51}, {&row.Update, 51, 61},
		{&row.Insert, 61, 71}, {&row.Delete, 71, 81}, {&row.Backout, 81, 91},
		{&row.Purge, 91, 101}, {&row.Expunge, 101, 111},
	}
	for _, f := range fields {
		if *f.dst, err = safeInt(cell(f.from, f.to)); err != nil {
			return row, fmt.Errorf("%w: access stats row %q: %v", errMalformed, line, err)
		}
	}
	return row, nil
}

// internSQL returns the id for a statement text and plan pair, queueing a
// SQLInfo on first sight.
func (p *Parser) internSQL(sql string, plan *string) int {
	key := sqlKey{sql: sql}
	if plan != nil {
		key.plan, key.hasPlan = *plan, true
	}
	if id, ok := p.sqlIDs[key]; ok {
		return id
	}
	id := p.nextSQLID
	p.nextSQLID++
	p.sqlIDs[key] = id
	p.infos = append(p.infos, SQLInfo{SQLID: id, SQL: sql, Plan: plan})
	return id
}

func (p *Parser) forgetSQL(sql string, plan *string) {
	key := sqlKey{sql: sql}
	if plan != nil {
		key.plan, key.hasPlan = *plan, true
	}
	delete(p.sqlIDs, key)
}

// parseTrigger splits `NAME FOR TABLE (EVENT)`; the FOR TABLE part is absent
// for database level triggers.
func parseTrigger(d *deque) (trigger string, table *string, event string, err error) {
	line := d.popFront()
	name, ev, found := strings.Cut(line, "(")
	if !found {
		return "", nil, "", fmt.Errorf("%w: trigger description %q", errMalformed, line)
	}
	if tname, tbl, hasTable := strings.Cut(name, " FOR "); hasTable {
		trigger = tname
		table = strPtr(strings.TrimSpace(tbl))
	} else {
		trigger = strings.TrimSpace(name)
	}
	return trigger, table, strings.Trim(ev, "()"), nil
}

// parseService consumes the service_mgr connection description and returns
// the service id, queueing a ServiceInfo on first sight. A first sight that
// is not the service attach itself is marked unresolved.
func (p *Parser) parseService(d *deque, opening bool) (int64, error) {
	line := d.popFront()
	_, spec, found := strings.Cut(line, " (")
	if !found {
		return 0, fmt.Errorf("%w: service description %q", errMalformed, line)
	}
	items := strings.Split(strings.Trim(spec, "()"), ",")
	var remoteSpec string
	switch len(items) {
	case 4:
		remoteSpec = strings.TrimSpace(items[3])
	case 3:
	default:
		return 0, fmt.Errorf("%w: service spec %q", errMalformed, spec)
	}
	_, idStr, found := strings.Cut(items[0], " ")
	if !found {
		return 0, fmt.Errorf("%w: service id %q", errMalformed, items[0])
	}
	if !strings.HasPrefix(idStr, "0x") {
		idStr = "0x" + idStr
	}
	id, err := strconv.ParseInt(idStr, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: service id %q: %v", errMalformed, items[0], err)
	}
	if _, seen := p.seenServices[id]; !seen {
		info := ServiceInfo{ServiceID: id, User: strings.TrimSpace(items[1]), Unresolved: !opening}
		protoAddr := strings.TrimSpace(items[2])
		if protoAddr == "internal" {
			info.Protocol, info.Address = protoAddr, protoAddr
		} else {
			proto, addr, found := strings.Cut(protoAddr, ":")
			if !found {
				return 0, fmt.Errorf("%w: service address %q", errMalformed, protoAddr)
			}
			info.Protocol, info.Address = proto, addr
		}
		if remoteSpec != "" {
			proc, pid, found := rcut(remoteSpec, ":")
			if !found {
				return 0, fmt.Errorf("%w: service remote process %q", errMalformed, remoteSpec)
			}
			n, err := strconv.Atoi(pid)
			if err != nil {
				return 0, fmt.Errorf("%w: service remote pid %q: %v", errMalformed, remoteSpec, err)
			}
			info.RemoteProcess = strPtr(proc)
			info.RemotePID = intPtr(n)
		}
		if !opening {
			p.warnings = append(p.warnings, fmt.Sprintf("unresolved service reference 0x%X", id))
		}
		p.infos = append(p.infos, info)
		p.seenServices[id] = struct{}{}
	}
	return id, nil
}

// sweepCounters holds the transaction counter quartet of sweep events.
type sweepCounters struct {
	oit, oat, ost, next int
}

// parseSweepCounters consumes the "Transaction counters:" section. A counter
// line that turns out to be performance data is pushed back for the caller.
func parseSweepCounters(d *deque) (sweepCounters, error) {
	var c sweepCounters
	line := d.popFront()
	if line == "" {
		line = d.popFront()
	}
	if !strings.Contains(line, "Transaction counters:") {
		return c, fmt.Errorf("%w: transaction counters expected, got %q", errMalformed, line)
	}
	for !d.empty() {
		line = d.popFront()
		last := func() (int, error) {
			fields := strings.Fields(line)
			return strconv.Atoi(fields[len(fields)-1])
		}
		var err error
		switch {
		case strings.Contains(line, "Oldest interesting"):
			c.oit, err = last()
		case strings.Contains(line, "Oldest active"):
			c.oat, err = last()
		case strings.Contains(line, "Oldest snapshot"):
			c.ost, err = last()
		case strings.Contains(line, "Next transaction"):
			c.next, err = last()
		case strings.Contains(line, "ms"):
			d.pushFront(line)
			return c, nil
		}
		if err != nil {
			return c, fmt.Errorf("%w: transaction counter %q: %v", errMalformed, line, err)
		}
	}
	return c, nil
}

// parseBLRStatementID consumes the optional "Statement N:" line of BLR
// events.
func parseBLRStatementID(d *deque) (*int, error) {
	line := strings.TrimSpace(d.peek())
	if !strings.HasPrefix(line, "Statement ") || !strings.HasSuffix(line, ":") {
		return nil, nil
	}
	fields := strings.Fields(d.popFront())
	id, err := strconv.Atoi(strings.TrimSuffix(fields[1], ":"))
	if err != nil {
		return nil, fmt.Errorf("%w: statement id %q: %v", errMalformed, line, err)
	}
	return intPtr(id), nil
}

// parseBLRContent collects the BLR or DYN body between the dash separator
// and the performance counters.
func parseBLRContent(d *deque) *string {
	if d.peek() != stmtSeparator {
		return nil
	}
	d.popFront()
	var content []string
	for !d.empty() {
		line := d.peek()
		if isBLRPerfStart(line) {
			break
		}
		content = append(content, d.popFront())
	}
	s := strings.Join(content, "\n")
	return &s
}
