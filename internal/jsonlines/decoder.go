// Package jsonlines decodes a stream of newline-delimited JSON objects
// -- the wire format of a Kubernetes watch response -- from an
// io.Reader, accumulating partial lines across read chunks since a
// single object (e.g. a large Secret) can span many reads.
package jsonlines

import (
	"bufio"
	"io"

	"github.com/valyala/fastjson"
)

// DefaultBufferSize is the initial scan buffer size; individual lines
// can grow past this (e.g. megabyte-sized Secrets), so the scanner is
// configured to grow its buffer rather than fail on ErrTooLong.
const DefaultBufferSize = 1 << 20 // 1 MiB, per spec.md's "reasonable chunk size >= 1 MiB"

// MaxLineSize bounds how large a single watch event line may grow
// before decoding is aborted, guarding against a malformed or hostile
// stream never terminating a line.
const MaxLineSize = 64 << 20 // 64 MiB

// Decoder reads whole JSON lines out of a chunked stream.
type Decoder struct {
	scanner *bufio.Scanner
}

// NewDecoder wraps r with a growable line scanner.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, DefaultBufferSize)
	scanner.Buffer(buf, MaxLineSize)
	return &Decoder{scanner: scanner}
}

// Next returns the next whole JSON line as raw bytes, or io.EOF when
// the stream ends cleanly. The returned slice is only valid until the
// next call to Next.
func (d *Decoder) Next() ([]byte, error) {
	if !d.scanner.Scan() {
		if err := d.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	line := d.scanner.Bytes()
	// Watch streams sometimes interleave blank keep-alive lines; skip them.
	for len(trimSpace(line)) == 0 {
		if !d.scanner.Scan() {
			if err := d.scanner.Err(); err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		line = d.scanner.Bytes()
	}
	return line, nil
}

func trimSpace(b []byte) []byte {
	i, j := 0, len(b)
	for i < j && isSpace(b[i]) {
		i++
	}
	for j > i && isSpace(b[j-1]) {
		j--
	}
	return b[i:j]
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}

// PeekType cheaply extracts the watch event's "type" field (ADDED,
// MODIFIED, DELETED, ERROR, BOOKMARK) without fully unmarshalling the
// (possibly very large) "object" payload, using fastjson's
// lazily-parsed value tree.
func PeekType(line []byte) (string, error) {
	var p fastjson.Parser
	v, err := p.ParseBytes(line)
	if err != nil {
		return "", err
	}
	return string(v.GetStringBytes("type")), nil
}
