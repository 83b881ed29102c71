package ws

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait bounds a single frame write before the peer counts as gone.
	writeWait = 10 * time.Second
	// pingPeriod keeps intermediaries from reaping idle streams.
	pingPeriod = 25 * time.Second
	// pongWait is how long the peer may stay silent after a ping.
	pongWait = 60 * time.Second
	// sendQueueSize absorbs broadcast bursts; overflow marks the peer slow.
	sendQueueSize = 16
)

// ErrSlowConsumer reports a peer that stopped draining its stream.
var ErrSlowConsumer = errors.New("websocket peer too slow")

// ErrClientClosed reports a send after the connection went away.
var ErrClientClosed = errors.New("websocket client closed")

// Client wraps a websocket connection with a bounded send queue and a
// single writer pump, so one stalled peer never blocks a broadcast loop.
type Client struct {
	conn *websocket.Conn
	log  *slog.Logger
	send chan []byte
	done chan struct{}
	once sync.Once
	slow atomic.Bool
}

// NewClient constructs a client wrapper and starts its writer pump.
func NewClient(conn *websocket.Conn, logger *slog.Logger) *Client {
	c := &Client{
		conn: conn,
		log:  logger,
		send: make(chan []byte, sendQueueSize),
		done: make(chan struct{}),
	}
	go c.writePump()
	return c
}

// Send queues a payload for the writer pump. A full queue means the peer
// stopped reading; the connection is closed as a slow consumer.
func (c *Client) Send(payload []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	case c.send <- payload:
		return nil
	default:
		c.log.Warn("websocket send queue full, dropping peer")
		c.slow.Store(true)
		c.Close()
		return ErrSlowConsumer
	}
}

// Close terminates the connection. Safe to call more than once and from
// any goroutine.
func (c *Client) Close() {
	c.once.Do(func() { close(c.done) })
}

// ReadUntilClose consumes and discards incoming frames so pongs are
// processed, returning when the peer disconnects. Streams that never
// expect client input block on this after registering.
func (c *Client) ReadUntilClose() {
	defer c.Close()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.log.Warn("websocket send failed", "error", err)
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			if c.slow.Load() {
				msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "SLOW_CONSUMER")
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = c.conn.WriteMessage(websocket.CloseMessage, msg)
			}
			return
		}
	}
}
