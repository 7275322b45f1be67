package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/weiawesome/wes-io-chat/internal/config"
	"github.com/weiawesome/wes-io-chat/internal/domain"
	"github.com/weiawesome/wes-io-chat/internal/hub"
	"github.com/weiawesome/wes-io-chat/internal/room"
	"github.com/weiawesome/wes-io-chat/pkg/log"
	"github.com/weiawesome/wes-io-chat/pkg/middleware"
	"github.com/weiawesome/wes-io-chat/pkg/protocol"
)

type WSHandler struct {
	hub      *hub.Hub
	rooms    *room.Manager
	auth     *middleware.AuthMiddleware
	wsCfg    config.WebSocketConfig
	upgrader websocket.Upgrader
}

func NewWSHandler(h *hub.Hub, rooms *room.Manager, auth *middleware.AuthMiddleware, wsCfg config.WebSocketConfig) *WSHandler {
	return &WSHandler{
		hub:   h,
		rooms: rooms,
		auth:  auth,
		wsCfg: wsCfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(wsCfg.AllowedOrigins),
		},
	}
}

// checkOrigin accepts any origin when allowed is empty.
func checkOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		if len(allowed) == 0 {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}

func (h *WSHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	l := log.Ctx(r.Context())

	identity, err := h.auth.Authenticate(r)
	if err != nil {
		l.Warn().Err(err).Msg("websocket authentication failed")
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	id := uuid.New().String()
	// The request context ends with this handler; the client outlives it.
	base := log.WithFields(log.WithLogger(context.Background(), l),
		log.FieldConnectionID, id,
		log.FieldUserID, identity.UserID,
	)
	client := hub.NewClient(base, id, identity, h.hub, conn, h.wsCfg)

	h.hub.Register(client)

	go client.WritePump()
	go func() {
		client.ReadPump(h.handleMessage)
		h.rooms.Leave(base, client.ID())
	}()
}

func (h *WSHandler) handleMessage(client *hub.Client, message []byte) {
	frame, err := protocol.DecodeClient(message)
	if err != nil {
		h.reply(client, err)
		return
	}

	ctx := client.Context()
	if h.wsCfg.OperationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.wsCfg.OperationTimeout)
		defer cancel()
	}

	l := log.Ctx(ctx)
	l.Debug().Str(log.FieldFrameType, string(frame.FrameType())).Msg("frame received")

	switch f := frame.(type) {
	case protocol.JoinRoom:
		h.handleJoin(ctx, client, f)

	case protocol.SendMessage:
		if _, err := h.rooms.Send(ctx, client.ID(), f.Content); err != nil {
			h.reply(client, err)
		}

	case protocol.LeaveRoom:
		h.rooms.Leave(ctx, client.ID())

	case protocol.Ping:
		client.Deliver(protocol.Pong{})
	}
}

func (h *WSHandler) handleJoin(ctx context.Context, client *hub.Client, f protocol.JoinRoom) {
	requester := client.Identity().UserID
	if f.RequesterID != "" && f.RequesterID != requester {
		h.reply(client, domain.ErrUnauthorizedParticipant)
		client.Close()
		return
	}

	_, err := h.rooms.Join(ctx, client, room.JoinRequest{
		ParticipantTriple: domain.ParticipantTriple{
			ContentItemID: f.ContentItemID,
			CreatorID:     f.CreatorID,
			VisitorID:     f.VisitorID,
		},
		RequesterID: requester,
	})
	if err == nil {
		return
	}

	h.reply(client, err)
	if errors.Is(err, domain.ErrUnauthorizedParticipant) {
		client.Close()
	}
}

// reply sends err to the client as an error frame.
func (h *WSHandler) reply(client *hub.Client, err error) {
	status, frame := classify(err)
	l := log.Ctx(client.Context())
	if status >= http.StatusInternalServerError {
		l.Error().Err(err).Msg("frame handling failed")
	} else {
		l.Debug().Err(err).Str("code", frame.Code).Msg("frame rejected")
	}
	if derr := client.Deliver(frame); derr != nil && !errors.Is(derr, hub.ErrClientClosed) {
		l.Warn().Err(derr).Msg("failed to deliver error frame")
	}
}

func (h *WSHandler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/chat/ws", func(c *gin.Context) {
		h.HandleWebSocket(c.Writer, c.Request)
	})
}
