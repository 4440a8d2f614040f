package trace

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestReaderSourceMatchesStringSource(t *testing.T) {
	text := attachBlock + "\n" + startTransactionBlock
	fromString := parseAll(t, text, DefaultOptions())
	fromReader, err := NewParser(NewReaderSource(strings.NewReader(text)), DefaultOptions()).All()
	if err != nil {
		t.Fatal(err)
	}
	if len(fromReader) != len(fromString) {
		t.Fatalf("reader produced %d elements, string produced %d", len(fromReader), len(fromString))
	}
}

func TestChannelSource(t *testing.T) {
	ch := make(chan string)
	go func() {
		for _, line := range strings.Split(attachBlock, "\n") {
			ch <- line
		}
		close(ch)
	}()
	els, err := NewParser(NewChannelSource(ch), DefaultOptions()).All()
	if err != nil {
		t.Fatal(err)
	}
	if len(els) != 1 {
		t.Fatalf("expected 1 event, got %d", len(els))
	}
	if _, ok := els[0].(EventAttach); !ok {
		t.Fatalf("expected EventAttach, got %T", els[0])
	}
}

func TestParseSessionFile(t *testing.T) {
	f, err := os.Open(filepath.Join("testdata", "session.trace"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	p := NewParser(NewReaderSource(f), DefaultOptions())
	els, err := p.All()
	if err != nil {
		t.Fatal(err)
	}
	// 8 events plus the SQLInfo record of the prepared statement.
	if len(els) != 9 {
		t.Fatalf("expected 9 elements, got %d", len(els))
	}
	events := 0
	for _, el := range els {
		if _, ok := el.(Event); ok {
			events++
		}
	}
	if events != 8 {
		t.Fatalf("expected 8 events, got %d", events)
	}
	if _, ok := els[0].(EventTraceInit); !ok {
		t.Fatalf("expected EventTraceInit first, got %T", els[0])
	}
	if _, ok := els[len(els)-1].(EventTraceFinish); !ok {
		t.Fatalf("expected EventTraceFinish last, got %T", els[len(els)-1])
	}
	if info, ok := p.TraceInfo(); !ok || info.SessionID != 1 {
		t.Fatalf("unexpected trace info: %+v ok=%v", info, ok)
	}
	if p.UnknownCount() != 0 {
		t.Fatalf("unknown count %d", p.UnknownCount())
	}
}

func TestPushModeMatchesPullMode(t *testing.T) {
	text := attachBlock + "\n" + startTransactionBlock + "\n" + statementFinishBlock + `
--- Session 1 is suspended as its log is full ---
2014-05-23T11:01:24.8080 (3720:0000000000EFD9E8) DETACH_DATABASE
	/home/employee.fdb (ATT_8, SYSDBA:NONE, ISO88591, TCPv4:192.168.1.5)
	/opt/firebird/bin/isql:8723
`
	pulled := parseAll(t, text, DefaultOptions())

	p := NewPushParser(DefaultOptions())
	var pushed []Element
	for _, line := range strings.Split(text, "\n") {
		out, err := p.Push(line)
		if err != nil {
			t.Fatal(err)
		}
		pushed = append(pushed, out...)
	}
	out, err := p.Flush()
	if err != nil {
		t.Fatal(err)
	}
	pushed = append(pushed, out...)

	if len(pushed) != len(pulled) {
		t.Fatalf("push produced %d elements, pull produced %d", len(pushed), len(pulled))
	}
	for i := range pushed {
		pushedEv, pushedOK := pushed[i].(Event)
		pulledEv, pulledOK := pulled[i].(Event)
		if pushedOK != pulledOK {
			t.Fatalf("element %d: push %T, pull %T", i, pushed[i], pulled[i])
		}
		if pushedOK && pushedEv.Kind() != pulledEv.Kind() {
			t.Fatalf("element %d: push %v, pull %v", i, pushedEv.Kind(), pulledEv.Kind())
		}
	}
}

func TestPushOrphanLine(t *testing.T) {
	p := NewPushParser(DefaultOptions())
	_, err := p.Push("	/home/employee.fdb (ATT_8, SYSDBA:NONE, ISO88591, TCPv4:192.168.1.5)")
	if !errors.Is(err, ErrOrphanLine) {
		t.Fatalf("expected ErrOrphanLine, got %v", err)
	}
}

func TestPushEmitsOnNextHeader(t *testing.T) {
	p := NewPushParser(DefaultOptions())
	var got []Element
	for _, line := range strings.Split(attachBlock, "\n") {
		out, err := p.Push(line)
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, out...)
	}
	// The block is still open, nothing emitted yet.
	if len(got) != 0 {
		t.Fatalf("expected no elements before flush, got %d", len(got))
	}
	out, err := p.Push("2014-05-23T11:01:24.8080 (3720:0000000000EFD9E8) DETACH_DATABASE")
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 element, got %d", len(out))
	}
	if _, ok := out[0].(EventAttach); !ok {
		t.Fatalf("expected EventAttach, got %T", out[0])
	}
}

func TestBlockScannerSkipsBlankLines(t *testing.T) {
	src := NewStringSource("\n\n" + attachBlock + "\n\n")
	s := &blockScanner{src: src}
	block, err := s.scan()
	if err != nil {
		t.Fatal(err)
	}
	if len(block) != 3 {
		t.Fatalf("expected 3 lines, got %d: %v", len(block), block)
	}
}

func TestTimestampVariants(t *testing.T) {
	for _, ts := range []string{
		"2014-05-23T11:00:28.5840",
		"2014-05-23T11:00:28.584000",
		"2014-05-23T11:00:28.584",
		"2014-05-23T11:00:28",
	} {
		if _, err := parseTimestamp(ts); err != nil {
			t.Fatalf("timestamp %q not accepted: %v", ts, err)
		}
	}
	if _, err := parseTimestamp("not-a-timestamp"); err == nil {
		t.Fatal("expected error for invalid timestamp")
	}
}
