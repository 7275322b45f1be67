package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/weiawesome/wes-io-chat/internal/config"
	"github.com/weiawesome/wes-io-chat/pkg/log"
	"github.com/weiawesome/wes-io-chat/pkg/middleware"
	"github.com/weiawesome/wes-io-chat/pkg/protocol"
)

var (
	ErrSendBufferFull = errors.New("send buffer full")
	ErrClientClosed   = errors.New("client closed")
)

// Client is one WebSocket connection. Outbound frames are queued on a
// bounded buffer drained by WritePump; Deliver never blocks.
type Client struct {
	id       string
	identity middleware.Identity
	hub      *Hub
	conn     *websocket.Conn
	config   config.WebSocketConfig

	mu     sync.RWMutex
	send   chan []byte
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewClient wraps conn. The client's context derives from parent and is
// cancelled by Close.
func NewClient(parent context.Context, id string, identity middleware.Identity, hub *Hub, conn *websocket.Conn, cfg config.WebSocketConfig) *Client {
	size := cfg.SendBufferSize
	if size <= 0 {
		size = 256
	}
	ctx, cancel := context.WithCancel(parent)
	return &Client{
		id:       id,
		identity: identity,
		hub:      hub,
		conn:     conn,
		config:   cfg,
		send:     make(chan []byte, size),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (c *Client) ID() string                    { return c.id }
func (c *Client) Identity() middleware.Identity { return c.identity }

// Context is cancelled once the client is closed.
func (c *Client) Context() context.Context { return c.ctx }

// Deliver encodes f and queues it for the write pump.
func (c *Client) Deliver(f protocol.ServerFrame) error {
	data, err := protocol.Encode(f)
	if err != nil {
		return err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close stops accepting frames. WritePump flushes what is queued, sends a
// close frame and tears the socket down. Safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	c.cancel()
}

// Closed reports whether Close was called.
func (c *Client) Closed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// ReadPump reads frames until the connection fails and hands each one to
// handler. It unregisters the client on return.
func (c *Client) ReadPump(handler func(*Client, []byte)) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	if c.config.MaxMessageSize > 0 {
		c.conn.SetReadLimit(c.config.MaxMessageSize)
	}
	c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			l := log.Ctx(c.ctx)
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				l.Warn().Err(err).Msg("websocket read failed")
			} else {
				l.Debug().Err(err).Msg("websocket closed")
			}
			return
		}
		handler(c, message)
	}
}

// WritePump drains the send buffer and keeps the connection alive with
// pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
