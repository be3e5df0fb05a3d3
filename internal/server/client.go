package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"
	"github.com/srg/webble/internal/groutine"
)

// ErrClientClosed is returned by Notify once the connection is gone.
var ErrClientClosed = errors.New("client connection closed")

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
)

// Client is a single WebSocket connection. It is the bridge Caller for every
// command it sends, so notifications of subscriptions it starts come back to
// it.
//
// Responses are queued on a bounded channel and are never dropped while the
// connection is open. Notifications go through an overlapped ring buffer: a
// client that cannot keep up loses the oldest notifications, not the newest.
type Client struct {
	id     string
	conn   *websocket.Conn
	server *Server
	logger *logrus.Entry

	send   chan []byte
	outbox mpmc.RichOverlappedRingBuffer[json.RawMessage]
	wake   chan struct{}

	done      chan struct{}
	closeOnce sync.Once
	inflight  sync.WaitGroup
}

func newClient(conn *websocket.Conn, server *Server) *Client {
	id := uuid.NewString()
	return &Client{
		id:     id,
		conn:   conn,
		server: server,
		logger: server.logger.WithField("client", id),
		send:   make(chan []byte, 64),
		outbox: mpmc.NewOverlappedRingBuffer[json.RawMessage](server.opts.OutboxSize),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// ID returns the client's unique identifier.
func (c *Client) ID() string { return c.id }

// Notify queues a push for the client. It never blocks.
func (c *Client) Notify(payload json.RawMessage) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	overwrites, err := c.outbox.EnqueueM(payload)
	if err != nil {
		return fmt.Errorf("failed to queue notification: %w", err)
	}
	if overwrites > 0 {
		c.server.metrics.recordDropped(overwrites)
		c.logger.WithField("dropped", overwrites).Warn("Notification outbox full, dropped oldest")
	}

	c.signal()
	return nil
}

// signal wakes the write pump without blocking.
func (c *Client) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Done is closed when the connection has shut down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// run serves the connection until it closes or ctx is cancelled. In-flight
// commands are cancelled when the connection goes away.
func (c *Client) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	groutine.Go(ctx, "ws-writer", func(ctx context.Context) {
		c.writePump(ctx)
	})
	groutine.Go(ctx, "ws-closer", func(ctx context.Context) {
		<-ctx.Done()
		c.close()
	})

	c.readPump(ctx)
	cancel()
	c.inflight.Wait()
}

func (c *Client) readPump(ctx context.Context) {
	defer c.close()

	c.conn.SetReadLimit(c.server.opts.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.WithError(err).Warn("WebSocket read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		if msgType != websocket.TextMessage {
			c.logger.Debug("Ignoring non-text frame")
			continue
		}
		c.server.metrics.recordFrame("in", "request")

		c.inflight.Add(1)
		groutine.GoSafe(ctx, "ws-request", c.server.logger, func(ctx context.Context) {
			defer c.inflight.Done()
			resp := c.server.dispatcher.HandleRaw(ctx, c, data)
			c.respond(resp)
		})
	}
}

func (c *Client) respond(resp any) {
	data, err := json.Marshal(resp)
	if err != nil {
		c.logger.WithError(err).Error("Failed to marshal response")
		return
	}
	select {
	case c.send <- data:
	case <-c.done:
		c.logger.Debug("Dropping response for closed client")
	}
}

func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(c.server.opts.PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				return
			}
			c.server.metrics.recordFrame("out", "response")

		case <-c.wake:
			if err := c.flushOutbox(); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return

		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) flushOutbox() error {
	for !c.outbox.IsEmpty() {
		payload, err := c.outbox.Dequeue()
		if err != nil {
			// Raced with a concurrent overwrite; try again on the next pass.
			c.signal()
			return nil
		}
		if err := c.write(websocket.TextMessage, payload); err != nil {
			return err
		}
		c.server.metrics.recordFrame("out", "notification")
	}
	return nil
}

func (c *Client) write(msgType int, data []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(msgType, data); err != nil {
		c.logger.WithError(err).Debug("WebSocket write failed")
		return err
	}
	return nil
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
