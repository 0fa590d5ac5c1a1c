package download

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
)

// maxLineSize bounds a single record of a database file.
const maxLineSize = 4 * 1024 * 1024

// Line is a single decoded record of a line-delimited JSON stream.
type Line struct {
	Text  string
	Value any
}

// LineDecoder turns a byte stream into a sequence of JSON values, one per line.
// It is single-use and not safe for concurrent calls to Next.
type LineDecoder struct {
	scanner *bufio.Scanner
	done    bool
}

// NewLineDecoder reads newline-delimited JSON from r. Lines may be terminated
// by "\n", "\r" or "\r\n".
func NewLineDecoder(r io.Reader) *LineDecoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	scanner.Split(splitLines)
	return &LineDecoder{scanner: scanner}
}

// Next returns the next non-empty record, or io.EOF once the stream is exhausted.
func (d *LineDecoder) Next() (Line, error) {
	if d.done {
		return Line{}, io.EOF
	}
	for d.scanner.Scan() {
		text := bytes.TrimSpace(d.scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		var value any
		if err := json.Unmarshal(text, &value); err != nil {
			d.done = true
			return Line{}, &DownloadError{Code: DatabaseFileInvalidJSON, Line: string(text), Err: err}
		}
		return Line{Text: string(text), Value: value}, nil
	}

	d.done = true
	if err := d.scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return Line{}, newError(DatabaseFileInvalidJSON, "line exceeds maximum size", err)
		}
		return Line{}, newError(DatabaseFileNotAccessible, "read failed", err)
	}
	return Line{}, io.EOF
}

// splitLines is a bufio.SplitFunc recognizing "\n", "\r" and "\r\n". A
// trailing "\r" at the end of the buffered data waits for more input so a
// "\r\n" split across two reads is treated as one terminator.
func splitLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\n' {
			return i + 1, data[:i], nil
		}
		if i+1 < len(data) {
			if data[i+1] == '\n' {
				return i + 2, data[:i], nil
			}
			return i + 1, data[:i], nil
		}
		if atEOF {
			return i + 1, data[:i], nil
		}
		return 0, nil, nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
