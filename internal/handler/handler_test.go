package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/weiawesome/wes-io-chat/internal/config"
	"github.com/weiawesome/wes-io-chat/internal/directory"
	"github.com/weiawesome/wes-io-chat/internal/domain"
	"github.com/weiawesome/wes-io-chat/internal/hub"
	"github.com/weiawesome/wes-io-chat/internal/presence"
	"github.com/weiawesome/wes-io-chat/internal/registry"
	"github.com/weiawesome/wes-io-chat/internal/room"
	"github.com/weiawesome/wes-io-chat/internal/service"
	"github.com/weiawesome/wes-io-chat/internal/store"
	"github.com/weiawesome/wes-io-chat/pkg/middleware"
	"github.com/weiawesome/wes-io-chat/pkg/protocol"
	"github.com/weiawesome/wes-io-chat/pkg/response"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	*httptest.Server
	rooms *room.Manager
	hub   *hub.Hub
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	reg := registry.NewMemoryRegistry()
	st := store.NewMemoryMessageStore(reg, store.Options{MaxContentLength: 20})
	tracker := presence.NewTracker()
	rooms := room.NewManager(reg, st, tracker)
	h := hub.NewHub()
	go h.Run()

	auth := middleware.NewTrustedHeaderMiddleware("")
	wsCfg := config.WebSocketConfig{
		PingInterval:     time.Minute,
		PongWait:         2 * time.Minute,
		WriteWait:        time.Second,
		MaxMessageSize:   4096,
		SendBufferSize:   16,
		OperationTimeout: 2 * time.Second,
	}
	svc := service.NewChatService(reg, st, nil, time.Minute, directory.NewMemoryDirectory(), service.TrackerPresence(tracker))

	r := gin.New()
	NewWSHandler(h, rooms, auth, wsCfg).RegisterRoutes(r)
	NewHTTPHandler(svc, auth, h, rooms).RegisterRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		h.Stop()
	})
	return &testServer{Server: srv, rooms: rooms, hub: h}
}

func (s *testServer) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/chat/ws"
	header := http.Header{}
	header.Set(middleware.DefaultUserIDHdr, userID)
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("Dial(%s) error = %v", userID, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, f protocol.ClientFrame) {
	t.Helper()
	data, err := protocol.Encode(f)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
}

func recv(t *testing.T, conn *websocket.Conn) protocol.ServerFrame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	f, err := protocol.DecodeServer(data)
	if err != nil {
		t.Fatalf("DecodeServer(%s) error = %v", data, err)
	}
	return f
}

func recvError(t *testing.T, conn *websocket.Conn, code string) {
	t.Helper()
	f := recv(t, conn)
	e, ok := f.(protocol.Error)
	if !ok || e.Code != code {
		t.Fatalf("frame = %+v, want error %s", f, code)
	}
}

var join = protocol.JoinRoom{ContentItemID: "E", CreatorID: "C1", VisitorID: "U1"}

func TestWS_JoinSendAndPresence(t *testing.T) {
	s := newTestServer(t)

	c1 := s.dial(t, "C1")
	send(t, c1, join)
	h, ok := recv(t, c1).(protocol.History)
	if !ok || len(h.Messages) != 0 || len(h.Online) != 1 || h.Online[0] != "C1" {
		t.Fatalf("C1 history = %+v", h)
	}

	u1 := s.dial(t, "U1")
	send(t, u1, join)
	if h, ok := recv(t, u1).(protocol.History); !ok || len(h.Online) != 2 {
		t.Fatalf("U1 history = %+v", h)
	}
	if got, want := recv(t, c1), (protocol.PresenceChanged{ConversationID: h.ConversationID, ParticipantID: "U1", Online: true}); got != want {
		t.Fatalf("C1 frame = %+v, want %+v", got, want)
	}

	send(t, u1, protocol.SendMessage{Content: "hi"})
	for _, conn := range []*websocket.Conn{c1, u1} {
		mr, ok := recv(t, conn).(protocol.MessageReceived)
		if !ok || mr.Content != "hi" || mr.SenderID != "U1" || mr.Seq != 1 {
			t.Fatalf("frame = %+v, want message hi", mr)
		}
	}

	send(t, u1, protocol.Ping{})
	if f := recv(t, u1); f != (protocol.Pong{}) {
		t.Fatalf("frame = %+v, want pong", f)
	}

	u1.Close()
	if got, want := recv(t, c1), (protocol.PresenceChanged{ConversationID: h.ConversationID, ParticipantID: "U1", Online: false}); got != want {
		t.Fatalf("C1 frame = %+v, want %+v", got, want)
	}
}

func TestWS_RejectedFramesKeepConnection(t *testing.T) {
	s := newTestServer(t)
	c1 := s.dial(t, "C1")

	c1.WriteMessage(websocket.TextMessage, []byte(`{"type":"dance","data":{}}`))
	recvError(t, c1, protocol.CodeBadRequest)

	c1.WriteMessage(websocket.TextMessage, []byte(`{"type":"send_message","data":{"content":"hi","extra":1}}`))
	recvError(t, c1, protocol.CodeBadRequest)

	send(t, c1, protocol.SendMessage{Content: "hi"})
	recvError(t, c1, protocol.CodeNotJoined)

	send(t, c1, protocol.JoinRoom{ContentItemID: "E", CreatorID: "C1", VisitorID: "C1"})
	recvError(t, c1, protocol.CodeInvalidParticipants)

	send(t, c1, join)
	recv(t, c1)

	send(t, c1, protocol.SendMessage{Content: "   "})
	recvError(t, c1, protocol.CodeEmptyMessage)

	send(t, c1, protocol.SendMessage{Content: strings.Repeat("x", 21)})
	recvError(t, c1, protocol.CodeMessageTooLong)

	send(t, c1, protocol.Ping{})
	if f := recv(t, c1); f != (protocol.Pong{}) {
		t.Fatalf("frame = %+v, want pong", f)
	}
}

func TestWS_UnauthorizedJoinClosesConnection(t *testing.T) {
	s := newTestServer(t)

	u3 := s.dial(t, "U3")
	send(t, u3, join)
	recvError(t, u3, protocol.CodeUnauthorizedParticipant)

	u3.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := u3.ReadMessage()
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		t.Fatalf("ReadMessage() error = %v, want close frame", err)
	}
	if s.rooms.SessionCount() != 0 {
		t.Errorf("SessionCount() = %d, want 0", s.rooms.SessionCount())
	}
}

func TestWS_RequesterMismatch(t *testing.T) {
	s := newTestServer(t)

	c1 := s.dial(t, "C1")
	send(t, c1, protocol.JoinRoom{ContentItemID: "E", CreatorID: "C1", VisitorID: "U1", RequesterID: "U1"})
	recvError(t, c1, protocol.CodeUnauthorizedParticipant)
}

func TestWS_RequiresIdentity(t *testing.T) {
	s := newTestServer(t)
	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/chat/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("Dial() without identity succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("response = %v, want 401", resp)
	}
}

func getJSON(t *testing.T, s *testServer, path, userID string, out interface{}) int {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, s.URL+path, nil)
	if userID != "" {
		req.Header.Set(middleware.DefaultUserIDHdr, userID)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s error = %v", path, err)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode %s error = %v", path, err)
	}
	return resp.StatusCode
}

func TestHTTP_GetChat(t *testing.T) {
	s := newTestServer(t)
	path := "/api/v1/chat?content_item_id=E&creator_id=C1&visitor_id=U1"

	var ok response.Envelope[service.ConversationView]
	if status := getJSON(t, s, path, "U1", &ok); status != http.StatusOK || !ok.Success {
		t.Fatalf("status = %d, body = %+v", status, ok)
	}
	if ok.Data.Conversation == nil || ok.Data.Conversation.ID != (domain.ParticipantTriple{ContentItemID: "E", CreatorID: "C1", VisitorID: "U1"}).ConversationID() {
		t.Errorf("Conversation = %+v", ok.Data.Conversation)
	}

	tests := []struct {
		name   string
		path   string
		user   string
		status int
		code   string
	}{
		{"no identity", path, "", http.StatusUnauthorized, response.CodeUnauthorized},
		{"outsider", path, "U3", http.StatusForbidden, protocol.CodeUnauthorizedParticipant},
		{"same ids", "/api/v1/chat?content_item_id=E&creator_id=C1&visitor_id=C1", "C1", http.StatusBadRequest, protocol.CodeInvalidParticipants},
		{"list without item", "/api/v1/chats", "C1", http.StatusBadRequest, response.CodeBadRequest},
		{"unknown conversation", "/api/v1/conversations/nope/presence", "C1", http.StatusNotFound, protocol.CodeConversationNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body response.Envelope[json.RawMessage]
			status := getJSON(t, s, tt.path, tt.user, &body)
			if status != tt.status {
				t.Errorf("status = %d, want %d", status, tt.status)
			}
			if body.Success || body.Error == nil || body.Error.Code != tt.code {
				t.Errorf("body = %+v, want error %s", body, tt.code)
			}
		})
	}
}

func TestHTTP_PresenceAndList(t *testing.T) {
	s := newTestServer(t)

	c1 := s.dial(t, "C1")
	send(t, c1, join)
	h := recv(t, c1).(protocol.History)

	var presenceBody response.Envelope[struct {
		Online []string `json:"online"`
	}]
	getJSON(t, s, fmt.Sprintf("/api/v1/conversations/%s/presence", h.ConversationID), "U1", &presenceBody)
	if got := presenceBody.Data.Online; len(got) != 1 || got[0] != "C1" {
		t.Errorf("online = %v, want [C1]", got)
	}

	var list response.Envelope[[]service.ConversationSummary]
	getJSON(t, s, "/api/v1/chats?content_item_id=E", "C1", &list)
	if len(list.Data) != 1 || list.Data[0].Conversation.ID != h.ConversationID {
		t.Errorf("chats = %+v", list.Data)
	}

	var health response.Envelope[map[string]interface{}]
	getJSON(t, s, "/health", "", &health)
	if health.Data["status"] != "ok" || health.Data["sessions"] != float64(1) {
		t.Errorf("health = %+v", health.Data)
	}
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		allowed []string
		origin  string
		want    bool
	}{
		{nil, "https://evil.example", true},
		{[]string{"https://app.example"}, "https://app.example", true},
		{[]string{"https://app.example"}, "https://evil.example", false},
		{[]string{"https://app.example"}, "", true},
		{[]string{"*"}, "https://any.example", true},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/chat/ws", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		if got := checkOrigin(tt.allowed)(r); got != tt.want {
			t.Errorf("checkOrigin(%v)(%q) = %v, want %v", tt.allowed, tt.origin, got, tt.want)
		}
	}
}
