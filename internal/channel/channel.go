// Package channel implements the launcher channel (C3): the stdio
// transport between this plugin and the Launcher. It owns framing via
// internal/protocol's length-prefixed codec, a single reader loop that
// dispatches parsed requests to a Handler, and a mutex-synchronized
// writer so concurrent response producers (the stream manager, the
// dispatcher, the heartbeat timer) never interleave partial frames.
// Grounded on the teacher's persist/internal/ipc length-prefixed
// read loop, collapsed from "one goroutine per accepted connection" to
// "one goroutine over a single stdio pair".
package channel

import (
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/jsturma/launcher-plugin/internal/protocol"
	wireerrors "github.com/jsturma/launcher-plugin/pkg/errors"
	"github.com/jsturma/launcher-plugin/pkg/logger"
)

// Handler processes a parsed, structurally-valid request. Implemented by
// the plugin runtime (C9).
type Handler interface {
	Handle(req protocol.Request)
}

// Channel is the stdio transport.
type Channel struct {
	in      io.Reader
	out     io.Writer
	codec   *protocol.Codec
	handler Handler
	log     *logger.Logger

	writeMu sync.Mutex
}

// New constructs a Channel reading framed requests from in and writing
// framed responses to out. maxPayload bounds a single message's size; a
// payload larger than this is a fatal framing error (spec.md §4.1).
func New(in io.Reader, out io.Writer, maxPayload int, handler Handler) *Channel {
	if maxPayload <= 0 {
		maxPayload = protocol.DefaultMaxPayload
	}
	return &Channel{
		in:      in,
		out:     out,
		codec:   protocol.NewCodec(maxPayload),
		handler: handler,
		log:     logger.WithField("component", "channel"),
	}
}

// Run reads from in until EOF or a fatal framing error, dispatching every
// complete message it decodes. It returns nil on a clean EOF (the
// launcher closed the pipe) and a non-nil error otherwise.
func (c *Channel) Run() error {
	buf := make([]byte, 64*1024)
	for {
		n, readErr := c.in.Read(buf)
		if n > 0 {
			msgs, err := c.codec.Feed(buf[:n])
			if err != nil {
				c.log.Error("fatal framing error, closing channel", "error", err)
				return err
			}
			for _, payload := range msgs {
				c.dispatch(payload)
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			return readErr
		}
	}
}

func (c *Channel) dispatch(payload []byte) {
	req, err := protocol.ParseRequest(payload)
	if err != nil {
		c.log.Debug("rejecting unparseable request", "error", err)
		c.Send(protocol.NewError(0, wireerrors.KindInvalidRequest, err.Error()))
		return
	}
	if err := protocol.Validate(req); err != nil {
		c.log.Debug("rejecting invalid request", "requestId", req.ID(), "error", err)
		c.Send(protocol.NewError(req.ID(), wireerrors.KindInvalidRequest, err.Error()))
		return
	}

	c.log.Debug("request received", "type", req.Type(), "requestId", req.ID(), "summary", redactRequest(req))
	c.handler.Handle(req)
}

// Send writes resp as one framed message. Safe for concurrent callers.
func (c *Channel) Send(resp protocol.Response) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	framed, err := protocol.Format(payload)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.out.Write(framed); err != nil {
		return err
	}
	c.log.Debug("response sent", "type", resp.ResponseMessageType(), "requestId", resp.RequestID())
	return nil
}
