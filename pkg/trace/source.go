package trace

import (
	"bufio"
	"io"
	"strings"
)

// LineSource supplies trace log lines one at a time. ReadLine returns io.EOF
// after the last line; any other error aborts the parse.
type LineSource interface {
	ReadLine() (string, error)
}

type readerSource struct {
	sc  *bufio.Scanner
	err error
}

// NewReaderSource reads lines from r. Lines longer than bufio's default are
// accepted up to 1 MiB, enough for multi-line SQL kept on one log line.
func NewReaderSource(r io.Reader) LineSource {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &readerSource{sc: sc}
}

func (s *readerSource) ReadLine() (string, error) {
	if s.err != nil {
		return "", s.err
	}
	if s.sc.Scan() {
		return s.sc.Text(), nil
	}
	if err := s.sc.Err(); err != nil {
		s.err = err
	} else {
		s.err = io.EOF
	}
	return "", s.err
}

type stringSource struct {
	lines []string
	pos   int
}

// NewStringSource splits text into lines and serves them in order.
func NewStringSource(text string) LineSource {
	return &stringSource{lines: strings.Split(text, "\n")}
}

func (s *stringSource) ReadLine() (string, error) {
	if s.pos >= len(s.lines) {
		return "", io.EOF
	}
	line := s.lines[s.pos]
	s.pos++
	return line, nil
}

type chanSource struct {
	ch <-chan string
}

// NewChannelSource serves lines from ch until it is closed.
func NewChannelSource(ch <-chan string) LineSource {
	return &chanSource{ch: ch}
}

func (s *chanSource) ReadLine() (string, error) {
	line, ok := <-s.ch
	if !ok {
		return "", io.EOF
	}
	return line, nil
}
