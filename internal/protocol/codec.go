// Package protocol implements the framed JSON wire protocol (C1) and the
// request/response taxonomy (C2) described in spec.md §4.1-§4.2. Framing
// is grounded on joblet's internal/joblet/ipc length-prefixed writer: a
// 4-byte big-endian payload length followed by the payload bytes.
package protocol

import (
	"encoding/binary"
	"fmt"
)

// DefaultMaxPayload is the default --max-message-size (5 MiB).
const DefaultMaxPayload = 5 * 1024 * 1024

const headerSize = 4

// FramingError is fatal for the channel: framing errors (oversized
// payload, malformed header) terminate the connection per spec.md §7.
type FramingError struct {
	Reason string
}

func (e *FramingError) Error() string { return "framing error: " + e.Reason }

// Codec incrementally decodes a length-prefixed byte stream into complete
// JSON payloads, and encodes outgoing payloads the same way. It is not
// safe for concurrent use: callers serialize Feed calls on one goroutine
// and Format calls on (possibly) another, per spec.md §4.1 "single-writer,
// single-reader".
type Codec struct {
	maxPayload int

	header     [headerSize]byte
	headerLen  int
	payloadLen int
	haveLen    bool
	payload    []byte
}

// NewCodec creates a Codec with the given maximum payload size in bytes
// (<=0 selects DefaultMaxPayload).
func NewCodec(maxPayload int) *Codec {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}
	return &Codec{maxPayload: maxPayload}
}

// Feed consumes an arbitrary-sized chunk of bytes and returns every
// complete JSON payload found within it (plus whatever came from earlier
// partial chunks). Partial trailing bytes are retained internally for the
// next Feed call. A chunk containing several complete messages yields all
// of them, in order.
func (c *Codec) Feed(chunk []byte) ([][]byte, error) {
	var out [][]byte

	for len(chunk) > 0 {
		if !c.haveLen {
			n := copy(c.header[c.headerLen:], chunk)
			c.headerLen += n
			chunk = chunk[n:]
			if c.headerLen < headerSize {
				break
			}
			c.payloadLen = int(binary.BigEndian.Uint32(c.header[:]))
			if c.payloadLen > c.maxPayload {
				return out, &FramingError{Reason: fmt.Sprintf(
					"payload length %d exceeds max %d", c.payloadLen, c.maxPayload)}
			}
			c.haveLen = true
			c.payload = make([]byte, 0, c.payloadLen)
		}

		need := c.payloadLen - len(c.payload)
		take := need
		if take > len(chunk) {
			take = len(chunk)
		}
		c.payload = append(c.payload, chunk[:take]...)
		chunk = chunk[take:]

		if len(c.payload) == c.payloadLen {
			out = append(out, c.payload)
			c.reset()
		}
	}

	return out, nil
}

func (c *Codec) reset() {
	c.headerLen = 0
	c.haveLen = false
	c.payloadLen = 0
	c.payload = nil
}

// Format prefixes payload with its 4-byte big-endian length, ready to
// write to the transport.
func Format(payload []byte) ([]byte, error) {
	if len(payload) > DefaultMaxPayload {
		// Formatting our own outgoing messages should never hit this
		// in practice; guard anyway so a runaway response can't wedge
		// the channel silently.
		return nil, &FramingError{Reason: fmt.Sprintf(
			"outgoing payload length %d exceeds max %d", len(payload), DefaultMaxPayload)}
	}
	out := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint32(out[:headerSize], uint32(len(payload)))
	copy(out[headerSize:], payload)
	return out, nil
}
