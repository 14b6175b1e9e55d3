package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"chatserver/internal/bridge"
	"chatserver/internal/realtime"
	"chatserver/internal/util"
)

const (
	maxFrameBytes = 16 << 10
	readWait      = 60 * time.Second
)

// Inbound websocket frame. Clients subscribe to room topics and publish
// messages over the same socket.
type wsInbound struct {
	Type    string `json:"type"` // subscribe | unsubscribe | message
	RoomID  string `json:"roomId"`
	Content string `json:"content"`
}

type wsOutbound struct {
	Type        string    `json:"type"` // message | error | subscribed | unsubscribed
	RoomID      string    `json:"roomId,omitempty"`
	MessageID   string    `json:"messageId,omitempty"`
	SenderEmail string    `json:"senderEmail,omitempty"`
	SenderName  string    `json:"senderName,omitempty"`
	Content     string    `json:"content,omitempty"`
	CreatedAt   time.Time `json:"createdAt,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// MarshalEvent renders a bridge event as the outbound message frame that
// subscribed websocket clients receive.
func MarshalEvent(ev bridge.Event) ([]byte, error) {
	return json.Marshal(wsOutbound{
		Type:        "message",
		RoomID:      ev.RoomID,
		MessageID:   ev.MessageID,
		SenderEmail: ev.SenderEmail,
		SenderName:  ev.SenderName,
		Content:     ev.Content,
		CreatedAt:   ev.CreatedAt,
	})
}

func (s *Server) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return util.OriginAllowed(s.allowedOrigins, r.Header.Get("Origin"))
		},
	}
}

// handleConnect upgrades to a websocket. The token travels in the "token"
// query parameter (browser websocket clients cannot set headers), falling
// back to the Authorization header.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token, _ = bearerToken(r)
	}
	if token == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	member, err := s.app.ResolveToken(r.Context(), token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	upgrader := s.upgrader()
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		return
	}

	conn := realtime.NewConnection(member.ID, member.Email, ws)
	s.hub.Attach(conn)
	defer func() {
		s.hub.Detach(conn)
		conn.Close(websocket.CloseNormalClosure, "bye")
	}()

	logger := util.LoggerFromContext(r.Context())
	logger.Info("websocket connected", "member_id", member.ID, "connection_id", conn.ID)

	ws.SetReadLimit(maxFrameBytes)
	_ = ws.SetReadDeadline(time.Now().Add(readWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var frame wsInbound
		if err := json.Unmarshal(data, &frame); err != nil {
			s.sendError(conn, "", "invalid frame")
			continue
		}
		s.dispatchFrame(r, conn, frame)
	}
}

func (s *Server) dispatchFrame(r *http.Request, conn *realtime.Connection, frame wsInbound) {
	ctx := r.Context()
	switch frame.Type {
	case "subscribe":
		in, err := s.app.IsRoomParticipant(ctx, conn.MemberEmail, frame.RoomID)
		if err != nil || !in {
			s.sendError(conn, frame.RoomID, "cannot subscribe to this room")
			return
		}
		s.hub.Subscribe(frame.RoomID, conn)
		s.sendAck(conn, "subscribed", frame.RoomID)
	case "unsubscribe":
		s.hub.Unsubscribe(frame.RoomID, conn)
		s.sendAck(conn, "unsubscribed", frame.RoomID)
	case "message":
		if frame.Content == "" {
			s.sendError(conn, frame.RoomID, "content is required")
			return
		}
		if s.publishLimiter != nil && !s.publishLimiter.Allow("publish:"+conn.MemberID) {
			s.sendError(conn, frame.RoomID, "too many messages")
			return
		}
		in, err := s.app.IsRoomParticipant(ctx, conn.MemberEmail, frame.RoomID)
		if err != nil || !in {
			s.sendError(conn, frame.RoomID, "cannot send to this room")
			return
		}
		// Delivery back to subscribers happens through the bridge relay;
		// the sender receives its own message the same way.
		if _, err := s.app.SaveMessage(ctx, frame.RoomID, conn.MemberEmail, frame.Content); err != nil {
			s.sendError(conn, frame.RoomID, "message not saved")
		}
	default:
		s.sendError(conn, frame.RoomID, "unknown frame type")
	}
}

func (s *Server) sendAck(conn *realtime.Connection, kind, roomID string) {
	payload, err := json.Marshal(wsOutbound{Type: kind, RoomID: roomID})
	if err != nil {
		return
	}
	_ = conn.Send(payload)
}

func (s *Server) sendError(conn *realtime.Connection, roomID, msg string) {
	payload, err := json.Marshal(wsOutbound{Type: "error", RoomID: roomID, Error: msg})
	if err != nil {
		return
	}
	_ = conn.Send(payload)
}
