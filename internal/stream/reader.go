package stream

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

const maxFrameBytes = 4 * 1024 * 1024

var endFrame = []byte(`{"type":"end"}`)

// Reader splits a response body into event frames. It understands SSE
// framing (data lines terminated by a blank line) and bare NDJSON lines.
type Reader struct {
	scanner   *bufio.Scanner
	eventName string
	data      bytes.Buffer
	hasData   bool
	pending   []byte
}

func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxFrameBytes)
	return &Reader{scanner: scanner}
}

// Next returns the next frame payload. It returns io.EOF once the body is
// exhausted; a pending SSE event without its trailing blank line is flushed
// first.
func (r *Reader) Next() ([]byte, error) {
	if r.pending != nil {
		frame := r.pending
		r.pending = nil
		return frame, nil
	}

	for r.scanner.Scan() {
		line := strings.TrimSuffix(r.scanner.Text(), "\r")

		if line == "" {
			if frame, ok := r.flush(); ok {
				return frame, nil
			}
			continue
		}

		field, value, isField := splitField(line)
		if !isField {
			// NDJSON: a bare line is a whole frame.
			if frame, ok := r.flush(); ok {
				r.pending = []byte(line)
				return frame, nil
			}
			return []byte(line), nil
		}

		switch field {
		case "data":
			if r.hasData {
				r.data.WriteByte('\n')
			}
			r.data.WriteString(value)
			r.hasData = true
		case "event":
			r.eventName = value
		}
	}

	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	if frame, ok := r.flush(); ok {
		return frame, nil
	}
	return nil, io.EOF
}

func (r *Reader) flush() ([]byte, bool) {
	name := r.eventName
	r.eventName = ""
	if name == string(KindEnd) {
		r.data.Reset()
		r.hasData = false
		return append([]byte(nil), endFrame...), true
	}
	if !r.hasData {
		return nil, false
	}
	frame := append([]byte(nil), r.data.Bytes()...)
	r.data.Reset()
	r.hasData = false
	return frame, true
}

func splitField(line string) (string, string, bool) {
	if strings.HasPrefix(line, ":") {
		return "comment", "", true
	}
	for _, field := range []string{"data", "event", "id", "retry"} {
		if line == field {
			return field, "", true
		}
		if strings.HasPrefix(line, field+":") {
			value := strings.TrimPrefix(line, field+":")
			value = strings.TrimPrefix(value, " ")
			return field, value, true
		}
	}
	return "", "", false
}
