// Package transport implements the length-prefixed JSON framing used by
// both the command channel and the publish channel (spec.md §6: "length-
// prefixed JSON objects"). No Go ZeroMQ binding is available to preserve
// the source's REQ/REP and PUB/SUB wire semantics verbatim (SPEC_FULL.md
// §1.B); this is the one deliberately stdlib-only layer in the module,
// built directly on net.Conn plus encoding/binary.
package transport

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"net"
)

// MaxFrameSize bounds a single frame to guard against a malformed length
// prefix exhausting memory.
const MaxFrameSize = 16 << 20 // 16 MiB

// ErrFrameTooLarge is returned by ReadFrame when the length prefix
// exceeds MaxFrameSize.
var ErrFrameTooLarge = errors.New("transport: frame exceeds maximum size")

// WriteFrame writes a 4-byte big-endian length prefix followed by
// payload.
func WriteFrame(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads one length-prefixed frame from r.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// Conn wraps a net.Conn with a buffered reader, so ReadFrame never issues
// more syscalls than necessary for short frames arriving across multiple
// TCP segments.
type Conn struct {
	net.Conn
	r *bufio.Reader
}

// NewConn wraps c for framed reads and writes.
func NewConn(c net.Conn) *Conn {
	return &Conn{Conn: c, r: bufio.NewReader(c)}
}

// ReadFrame reads the next length-prefixed frame.
func (c *Conn) ReadFrame() ([]byte, error) {
	return ReadFrame(c.r)
}

// WriteFrame writes payload as a length-prefixed frame.
func (c *Conn) WriteFrame(payload []byte) error {
	return WriteFrame(c.Conn, payload)
}
