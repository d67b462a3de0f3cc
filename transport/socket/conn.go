package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/tailored-agentic-units/statesync/core/protocol"
	"github.com/tailored-agentic-units/statesync/observability"
	"github.com/tailored-agentic-units/statesync/processor"
)

type conn struct {
	server *Server
	ws     *websocket.Conn
	client processor.Client

	outbox *outbox
	inbox  chan protocol.Event
	ctx    context.Context
	cancel context.CancelFunc
}

func newConn(s *Server, ws *websocket.Conn, client processor.Client) *conn {
	ctx, cancel := context.WithCancel(s.ctx)
	return &conn{
		server: s,
		ws:     ws,
		client: client,
		outbox: newOutbox(ctx, s.cfg.BufferSize),
		inbox:  make(chan protocol.Event, s.cfg.BufferSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

// run serves the connection until the client disconnects or the server
// shuts down.
func (c *conn) run() {
	defer c.cancel()

	g, ctx := errgroup.WithContext(c.ctx)
	g.Go(func() error { defer c.cancel(); return c.readLoop(ctx) })
	g.Go(func() error { defer c.cancel(); return c.eventLoop(ctx) })
	g.Go(func() error { defer c.cancel(); return c.writeLoop(ctx) })
	g.Go(func() error {
		<-ctx.Done()
		// Unblocks the reader.
		c.ws.Close()
		return nil
	})

	if err := g.Wait(); err != nil && !isClosure(err) {
		c.server.events.Emit(c.server.ctx, EventError, observability.LevelVerbose, map[string]any{
			"sid":   c.client.SID,
			"error": err.Error(),
		})
	}
	c.outbox.Close()
}

func (c *conn) readLoop(ctx context.Context) error {
	cfg := c.server.cfg
	c.ws.SetReadLimit(cfg.ReadLimit)
	c.ws.SetReadDeadline(time.Now().Add(seconds(cfg.PongTimeout)))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(seconds(cfg.PongTimeout)))
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			return err
		}
		c.ws.SetReadDeadline(time.Now().Add(seconds(cfg.PongTimeout)))
		c.server.metrics.RecordFrameRecv(1)

		var f Frame
		if err := json.Unmarshal(message, &f); err != nil {
			c.reportError(ctx, fmt.Errorf("decode frame: %w", err))
			continue
		}

		switch f.Type {
		case FramePing:
			if err := c.outbox.Send(ctx, pongFrame()); err != nil {
				return err
			}
		case FrameEvent:
			var ev protocol.Event
			if err := json.Unmarshal(f.Data, &ev); err != nil {
				c.reportError(ctx, fmt.Errorf("decode event: %w", err))
				continue
			}
			select {
			case c.inbox <- ev:
			case <-ctx.Done():
				return nil
			}
		default:
			c.reportError(ctx, fmt.Errorf("%w: %q", ErrUnknownFrame, f.Type))
		}
	}
}

// eventLoop processes events in arrival order. Processing outlives a
// disconnect so handlers complete and state is persisted.
func (c *conn) eventLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-c.inbox:
			c.server.events.Emit(ctx, EventFrame, observability.LevelVerbose, map[string]any{
				"sid":   c.client.SID,
				"event": ev.Name,
			})
			err := c.server.processor.Process(context.WithoutCancel(ctx), ev, c.client, c.sendUpdate)
			if err != nil {
				c.reportError(ctx, err)
			}
		}
	}
}

func (c *conn) writeLoop(ctx context.Context) error {
	cfg := c.server.cfg
	ticker := time.NewTicker(seconds(cfg.PingInterval))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			deadline := time.Now().Add(seconds(cfg.WriteTimeout))
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			c.ws.WriteControl(websocket.CloseMessage, msg, deadline)
			return nil
		case f, ok := <-c.outbox.frames:
			if !ok {
				return nil
			}
			c.ws.SetWriteDeadline(time.Now().Add(seconds(cfg.WriteTimeout)))
			if err := c.ws.WriteJSON(f); err != nil {
				return err
			}
			c.server.metrics.RecordFrameSent(1)
		case <-ticker.C:
			deadline := time.Now().Add(seconds(cfg.WriteTimeout))
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return err
			}
		}
	}
}

func (c *conn) sendUpdate(ctx context.Context, upd protocol.StateUpdate) error {
	f, err := NewFrame(FrameEvent, upd)
	if err != nil {
		return err
	}
	return c.outbox.Send(ctx, f)
}

// reportError sends an error frame to the client. Failure to queue it is
// ignored; the connection is closing.
func (c *conn) reportError(ctx context.Context, err error) {
	c.server.metrics.RecordError(1)
	c.server.events.Emit(ctx, EventError, observability.LevelWarning, map[string]any{
		"sid":   c.client.SID,
		"error": err.Error(),
	})
	_ = c.outbox.Send(ctx, errorFrame(err))
}

func isClosure(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, ErrConnectionClosed) ||
		errors.Is(err, net.ErrClosed) ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived)
}
