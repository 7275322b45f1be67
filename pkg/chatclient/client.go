// Package chatclient is the consumer-facing side of the chat service: one
// Client is one explicit session with a connect/disconnect lifecycle, a
// lazy stream of inbound events and the HTTP history calls.
//
// The client never reconnects or resends on its own. After Disconnect or
// a transport failure the Events channel is closed and the Client is spent;
// create a new one to talk again.
package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/weiawesome/wes-io-chat/pkg/log"
	"github.com/weiawesome/wes-io-chat/pkg/middleware"
	"github.com/weiawesome/wes-io-chat/pkg/protocol"
	"github.com/weiawesome/wes-io-chat/pkg/response"
)

var (
	ErrEmptyMessage     = errors.New("message content is empty")
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected")
	ErrClosed           = errors.New("client is closed")
	ErrDisconnected     = errors.New("connection lost")
)

const defaultEventBuffer = 256

type Config struct {
	// BaseURL of the chat service, e.g. http://localhost:8090.
	BaseURL string
	// Token is sent as a bearer token when set.
	Token string
	// UserID is sent in UserIDHeader when Token is empty, and as the
	// requester of joins.
	UserID       string
	UserIDHeader string

	HTTPClient  *http.Client
	Dialer      *websocket.Dialer
	EventBuffer int
}

type Client struct {
	cfg        Config
	base       *url.URL
	httpClient *http.Client
	dialer     *websocket.Dialer

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
	stop   chan struct{}
	done   chan struct{}
	events chan Event
	err    error

	writeMu sync.Mutex
	joinMu  sync.Mutex

	pendingMu sync.Mutex
	pending   chan protocol.ServerFrame
}

func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}
	if cfg.UserIDHeader == "" {
		cfg.UserIDHeader = middleware.DefaultUserIDHdr
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}

	c := &Client{
		cfg:        cfg,
		base:       base,
		httpClient: cfg.HTTPClient,
		dialer:     cfg.Dialer,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		events:     make(chan Event, cfg.EventBuffer),
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if c.dialer == nil {
		c.dialer = websocket.DefaultDialer
	}
	return c, nil
}

func (c *Client) header() http.Header {
	h := http.Header{}
	if c.cfg.Token != "" {
		h.Set(middleware.AuthHeaderKey, middleware.BearerPrefix+c.cfg.Token)
	} else if c.cfg.UserID != "" {
		h.Set(c.cfg.UserIDHeader, c.cfg.UserID)
	}
	return h
}

// Connect opens the live connection. A Client connects at most once.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.conn != nil {
		return ErrAlreadyConnected
	}

	u := *c.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path += "/chat/ws"

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), c.header())
	if err != nil {
		if resp != nil {
			return fmt.Errorf("failed to connect: %s: %w", resp.Status, err)
		}
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.conn = conn
	go c.readLoop(conn)
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer close(c.done)
	defer close(c.events)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if !c.closed {
				c.err = err
			}
			c.mu.Unlock()
			return
		}

		f, err := protocol.DecodeServer(data)
		if err != nil {
			l := log.L()
			l.Debug().Err(err).Msg("chatclient: dropping undecodable frame")
			continue
		}
		if c.routeReply(f) {
			continue
		}

		select {
		case c.events <- f:
		case <-c.stop:
			return
		}
	}
}

// routeReply hands the outcome of a pending join to JoinRoom.
func (c *Client) routeReply(f protocol.ServerFrame) bool {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	if c.pending == nil || !isJoinReply(f) {
		return false
	}
	c.pending <- f
	c.pending = nil
	return true
}

func isJoinReply(f protocol.ServerFrame) bool {
	switch v := f.(type) {
	case protocol.History:
		return true
	case protocol.Error:
		switch v.Code {
		case protocol.CodeInvalidParticipants, protocol.CodeUnauthorizedParticipant,
			protocol.CodeConversationNotFound, protocol.CodeBadRequest, protocol.CodeInternalError:
			return true
		}
	}
	return false
}

// JoinRoom joins the conversation of p and returns its history snapshot.
// Join failures come back as protocol.Error values. Frames for the room
// arrive on Events from then on.
func (c *Client) JoinRoom(ctx context.Context, p JoinParams) (*protocol.History, error) {
	c.joinMu.Lock()
	defer c.joinMu.Unlock()

	reply := make(chan protocol.ServerFrame, 1)
	c.pendingMu.Lock()
	c.pending = reply
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		c.pending = nil
		c.pendingMu.Unlock()
	}()

	err := c.write(ctx, protocol.JoinRoom{
		ContentItemID: p.ContentItemID,
		CreatorID:     p.CreatorID,
		VisitorID:     p.VisitorID,
		RequesterID:   c.cfg.UserID,
	})
	if err != nil {
		return nil, err
	}

	select {
	case f := <-reply:
		switch v := f.(type) {
		case protocol.History:
			return &v, nil
		case protocol.Error:
			return nil, v
		}
		return nil, fmt.Errorf("unexpected %s frame", f.FrameType())
	case <-c.done:
		return nil, c.connErr()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SendMessage posts content to the joined room. Blank content is rejected
// without a round trip. The stored message comes back on Events.
func (c *Client) SendMessage(ctx context.Context, content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyMessage
	}
	return c.write(ctx, protocol.SendMessage{Content: content})
}

// LeaveRoom ends the room session and keeps the connection open.
func (c *Client) LeaveRoom(ctx context.Context) error {
	return c.write(ctx, protocol.LeaveRoom{})
}

// Ping asks the server for a Pong event.
func (c *Client) Ping(ctx context.Context) error {
	return c.write(ctx, protocol.Ping{})
}

// Events returns the inbound event stream. It is the same channel on every
// call and is closed once the connection ends.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Err reports why the connection ended, nil after a clean Disconnect.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Disconnect closes the connection and waits for the event stream to
// close. Safe to call more than once.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.stop)
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		close(c.events)
		return nil
	}

	c.writeMu.Lock()
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()

	err := conn.Close()
	<-c.done
	return err
}

func (c *Client) connErr() error {
	if err := c.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	return ErrClosed
}

func (c *Client) write(ctx context.Context, f protocol.ClientFrame) error {
	data, err := protocol.Encode(f)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn, closed := c.conn, c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(10 * time.Second)
	}
	conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send %s: %w", f.FrameType(), err)
	}
	return nil
}

// FetchHistory loads a conversation and its full history over HTTP,
// creating the conversation on first access.
func (c *Client) FetchHistory(ctx context.Context, p JoinParams) (*ConversationView, error) {
	q := url.Values{}
	q.Set("content_item_id", p.ContentItemID)
	q.Set("creator_id", p.CreatorID)
	q.Set("visitor_id", p.VisitorID)

	var view ConversationView
	if err := c.getJSON(ctx, "/api/v1/chat", q, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// ListConversations lists the caller's conversations about a content item.
func (c *Client) ListConversations(ctx context.Context, contentItemID string) ([]ConversationSummary, error) {
	q := url.Values{}
	q.Set("content_item_id", contentItemID)

	var out []ConversationSummary
	if err := c.getJSON(ctx, "/api/v1/chats", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out interface{}) error {
	u := *c.base
	u.Path += path
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	req.Header = c.header()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	env := response.Envelope[json.RawMessage]{}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	if !env.Success || resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: resp.StatusCode, Code: response.CodeInternal}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode %s data: %w", path, err)
	}
	return nil
}
