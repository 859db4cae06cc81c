// Package dxf parses AutoCAD DXF exchange files into the uniform
// die-boundary model. DXF is a line-oriented format of group code / value
// pairs; layers carry the semantics that decide which entities are dies.
package dxf

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fabworks/wafersampler/pkg/schematic"
)

// tag is one group code / value pair.
type tag struct {
	code  int
	value string
	line  int
}

// scanner pulls group code / value pairs off the stream, tracking line
// numbers for error reporting.
type scanner struct {
	sc   *bufio.Scanner
	line int
	// one pushed-back tag for lookahead
	pushed *tag
}

func newScanner(r io.Reader) *scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	return &scanner{sc: sc}
}

// next returns the next pair, or io.EOF at end of input.
func (s *scanner) next() (tag, error) {
	if s.pushed != nil {
		t := *s.pushed
		s.pushed = nil
		return t, nil
	}
	if !s.sc.Scan() {
		if err := s.sc.Err(); err != nil {
			return tag{}, err
		}
		return tag{}, io.EOF
	}
	s.line++
	codeStr := strings.TrimSpace(s.sc.Text())

	if !s.sc.Scan() {
		if err := s.sc.Err(); err != nil {
			return tag{}, err
		}
		return tag{}, s.errorf("group code %q without value", codeStr)
	}
	s.line++
	value := strings.TrimSpace(s.sc.Text())

	code, err := strconv.Atoi(codeStr)
	if err != nil {
		return tag{}, s.errorf("bad group code %q", codeStr)
	}
	return tag{code: code, value: value, line: s.line - 1}, nil
}

func (s *scanner) push(t tag) {
	s.pushed = &t
}

func (s *scanner) errorf(format string, args ...any) error {
	return &schematic.ParseError{
		Format: schematic.FormatDXF,
		Offset: int64(s.line),
		Reason: fmt.Sprintf(format, args...),
	}
}
