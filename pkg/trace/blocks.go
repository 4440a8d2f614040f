package trace

import (
	"io"
	"strings"
	"time"
)

// timestampLayouts covers the fractional second widths the engine emits.
var timestampLayouts = []string{
	"2006-01-02T15:04:05.0000",
	"2006-01-02T15:04:05.000000",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
}

func parseTimestamp(s string) (time.Time, error) {
	var err error
	for _, layout := range timestampLayouts {
		var ts time.Time
		if ts, err = time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, err
}

// isEntryHeader reports whether line opens a new log entry, which it does
// exactly when its first field parses as a timestamp.
func isEntryHeader(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	_, err := parseTimestamp(fields[0])
	return err == nil
}

// isSuspendLine matches the banner the engine prints when a session log
// fills up.
func isSuspendLine(line string) bool {
	return strings.Contains(line, "is suspended as its log is full ---")
}

// blockScanner groups source lines into entry blocks. A block starts at an
// entry header or suspend banner and collects every following non-blank line
// up to the next such boundary. Blank lines and anything before the first
// header are discarded.
type blockScanner struct {
	src  LineSource
	next []string
	done bool
}

func newBlockScanner(src LineSource) *blockScanner {
	return &blockScanner{src: src}
}

// scan returns the next complete block. It returns io.EOF when the source is
// exhausted and no block remains.
func (s *blockScanner) scan() ([]string, error) {
	if s.done {
		return nil, io.EOF
	}
	for {
		line, err := s.src.ReadLine()
		if err != nil {
			s.done = true
			if err == io.EOF && len(s.next) > 0 {
				block := s.next
				s.next = nil
				return block, nil
			}
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if len(s.next) == 0 {
			if isEntryHeader(line) {
				s.next = append(s.next, line)
			}
			continue
		}
		if isEntryHeader(line) || isSuspendLine(line) {
			block := s.next
			s.next = []string{line}
			return block, nil
		}
		s.next = append(s.next, line)
	}
}

// deque gives the parser the cursor operations the extractors need over one
// block: consume from the front, push back a lookahead, trim from the tail.
type deque struct {
	lines []string
}

func newDeque(lines []string) *deque {
	d := &deque{lines: make([]string, len(lines))}
	copy(d.lines, lines)
	return d
}

func (d *deque) empty() bool { return len(d.lines) == 0 }
func (d *deque) len() int    { return len(d.lines) }

func (d *deque) peek() string {
	if len(d.lines) == 0 {
		return ""
	}
	return d.lines[0]
}

func (d *deque) popFront() string {
	if len(d.lines) == 0 {
		return ""
	}
	line := d.lines[0]
	d.lines = d.lines[1:]
	return line
}

func (d *deque) pushFront(line string) {
	d.lines = append([]string{line}, d.lines...)
}

func (d *deque) tail() string {
	if len(d.lines) == 0 {
		return ""
	}
	return d.lines[len(d.lines)-1]
}

func (d *deque) popTail() string {
	if len(d.lines) == 0 {
		return ""
	}
	line := d.lines[len(d.lines)-1]
	d.lines = d.lines[:len(d.lines)-1]
	return line
}

func (d *deque) rest() []string {
	out := d.lines
	d.lines = nil
	return out
}
