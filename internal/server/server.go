// Package server exposes the chat service over HTTP and websocket. Routes
// are declared in one table in routes(); handlers stay thin and delegate to
// the app layer.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"chatserver/internal/app"
	"chatserver/internal/ratelimit"
	"chatserver/internal/realtime"
	"chatserver/internal/util"
	"chatserver/pkg/auth"
	"chatserver/pkg/domain"
	"chatserver/pkg/storage"
)

const (
	maxBodyBytes       = 1 << 20
	maxAttachmentBytes = 10 << 20
	presignExpiry      = 15 * time.Minute
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	Hub            *realtime.Hub
	Attachments    storage.AttachmentStore       // optional; attachment routes 503 without it
	LoginLimiter   *ratelimit.FixedWindowLimiter // optional
	PublishLimiter *ratelimit.FixedWindowLimiter // optional
	AllowedOrigins []string
}

// Server exposes the HTTP and websocket endpoints.
type Server struct {
	app            *app.App
	hub            *realtime.Hub
	attachments    storage.AttachmentStore
	loginLimiter   *ratelimit.FixedWindowLimiter
	publishLimiter *ratelimit.FixedWindowLimiter
	allowedOrigins []string
	mux            *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:            cfg.App,
		hub:            cfg.Hub,
		attachments:    cfg.Attachments,
		loginLimiter:   cfg.LoginLimiter,
		publishLimiter: cfg.PublishLimiter,
		allowedOrigins: cfg.AllowedOrigins,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler with the middleware chain applied.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(
		util.WithRequestLog("chatserver",
			util.WithSecurityHeaders(
				util.WithCORS(s.allowedOrigins, s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	s.mux.HandleFunc("POST /member/create", s.handleMemberCreate)
	s.mux.HandleFunc("POST /member/doLogin", s.handleLogin)
	s.mux.Handle("POST /member/logout", s.withMember(s.handleLogout))
	s.mux.Handle("GET /member/list", s.withMember(s.handleMemberList))

	s.mux.Handle("POST /chat/room/group/create", s.withMember(s.handleGroupCreate))
	s.mux.Handle("GET /chat/room/group/list", s.withMember(s.handleGroupList))
	s.mux.Handle("POST /chat/room/group/{roomId}/join", s.withMember(s.handleGroupJoin))
	s.mux.Handle("DELETE /chat/room/group/{roomId}/leave", s.withMember(s.handleGroupLeave))
	s.mux.Handle("POST /chat/room/private/create", s.withMember(s.handlePrivateCreate))

	s.mux.Handle("GET /chat/history/{roomId}", s.withMember(s.handleHistory))
	s.mux.Handle("POST /chat/room/{roomId}/read", s.withMember(s.handleMarkRead))
	s.mux.Handle("GET /chat/my/rooms", s.withMember(s.handleMyRooms))
	s.mux.Handle("POST /chat/room/{roomId}/attachment", s.withMember(s.handleAttachment))

	s.mux.HandleFunc("GET /connect", s.handleConnect)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type memberHandler func(http.ResponseWriter, *http.Request, domain.Member)

func (s *Server) withMember(next memberHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		member, err := s.app.ResolveToken(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, member)
	})
}

type createMemberRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleMemberCreate(w http.ResponseWriter, r *http.Request) {
	var req createMemberRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	member, err := s.app.Register(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMemberResponse(member))
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token  string         `json:"token"`
	Member memberResponse `json:"member"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.loginLimiter != nil && !s.loginLimiter.Allow("login:"+util.ClientIP(r, nil)) {
		writeError(w, http.StatusTooManyRequests, "too many login attempts")
		return
	}
	var req loginRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	member, token, err := s.app.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token, Member: toMemberResponse(member)})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, _ domain.Member) {
	token, _ := bearerToken(r)
	if err := s.app.Logout(r.Context(), token); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

func (s *Server) handleMemberList(w http.ResponseWriter, r *http.Request, _ domain.Member) {
	members, err := s.app.ListMembers(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	res := make([]memberResponse, 0, len(members))
	for _, m := range members {
		res = append(res, toMemberResponse(m))
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGroupCreate(w http.ResponseWriter, r *http.Request, member domain.Member) {
	name := r.URL.Query().Get("roomName")
	room, err := s.app.CreateGroupRoom(r.Context(), member.ID, name)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRoomResponse(room))
}

func (s *Server) handleGroupList(w http.ResponseWriter, r *http.Request, _ domain.Member) {
	rooms, err := s.app.ListGroupRooms(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	res := make([]roomResponse, 0, len(rooms))
	for _, room := range rooms {
		res = append(res, toRoomResponse(room))
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGroupJoin(w http.ResponseWriter, r *http.Request, member domain.Member) {
	if err := s.app.JoinGroupRoom(r.Context(), member.ID, r.PathValue("roomId")); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "joined"})
}

func (s *Server) handleGroupLeave(w http.ResponseWriter, r *http.Request, member domain.Member) {
	if err := s.app.LeaveGroupRoom(r.Context(), member.ID, r.PathValue("roomId")); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "left"})
}

func (s *Server) handlePrivateCreate(w http.ResponseWriter, r *http.Request, member domain.Member) {
	otherID := r.URL.Query().Get("otherMemberId")
	if otherID == "" {
		writeError(w, http.StatusBadRequest, "otherMemberId is required")
		return
	}
	if otherID == member.ID {
		writeError(w, http.StatusBadRequest, "cannot open a private room with yourself")
		return
	}
	room, err := s.app.GetOrCreatePrivateRoom(r.Context(), member.ID, otherID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRoomResponse(room))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request, member domain.Member) {
	msgs, err := s.app.ChatHistory(r.Context(), member.ID, r.PathValue("roomId"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	res := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		res = append(res, toMessageResponse(m))
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request, member domain.Member) {
	if err := s.app.MarkRead(r.Context(), member.ID, r.PathValue("roomId")); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "read"})
}

func (s *Server) handleMyRooms(w http.ResponseWriter, r *http.Request, member domain.Member) {
	rooms, err := s.app.MyRooms(r.Context(), member.ID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	res := make([]roomSummaryResponse, 0, len(rooms))
	for _, room := range rooms {
		res = append(res, roomSummaryResponse{
			RoomID:      room.RoomID,
			RoomName:    room.RoomName,
			Kind:        string(room.Kind),
			UnreadCount: room.UnreadCount,
		})
	}
	writeJSON(w, http.StatusOK, res)
}

type attachmentResponse struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

func (s *Server) handleAttachment(w http.ResponseWriter, r *http.Request, member domain.Member) {
	if s.attachments == nil {
		writeError(w, http.StatusServiceUnavailable, "attachment storage not configured")
		return
	}
	roomID := r.PathValue("roomId")
	in, err := s.app.IsRoomParticipant(r.Context(), member.Email, roomID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if !in {
		writeError(w, http.StatusForbidden, "not a participant of this room")
		return
	}
	if err := r.ParseMultipartForm(maxAttachmentBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()
	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key, err := s.attachments.Put(r.Context(), roomID, util.NewID()+"_"+header.Filename, file, header.Size, contentType)
	if err != nil {
		writeError(w, http.StatusBadGateway, "attachment upload failed")
		return
	}
	url, err := s.attachments.PresignGet(r.Context(), key, presignExpiry)
	if err != nil {
		writeError(w, http.StatusBadGateway, "attachment link failed")
		return
	}
	writeJSON(w, http.StatusCreated, attachmentResponse{Key: key, URL: url})
}

type memberResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

func toMemberResponse(m domain.Member) memberResponse {
	return memberResponse{ID: m.ID, Name: m.Name, Email: m.Email, CreatedAt: m.CreatedAt}
}

type roomResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"createdAt"`
}

func toRoomResponse(room domain.Room) roomResponse {
	return roomResponse{ID: room.ID, Name: room.Name, Kind: string(room.Kind), CreatedAt: room.CreatedAt}
}

type messageResponse struct {
	ID          string    `json:"id"`
	RoomID      string    `json:"roomId"`
	SenderEmail string    `json:"senderEmail"`
	SenderName  string    `json:"senderName"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"createdAt"`
}

func toMessageResponse(m domain.Message) messageResponse {
	return messageResponse{
		ID:          m.ID,
		RoomID:      m.RoomID,
		SenderEmail: m.SenderEmail,
		SenderName:  m.SenderName,
		Content:     m.Content,
		CreatedAt:   m.CreatedAt,
	}
}

type roomSummaryResponse struct {
	RoomID      string `json:"roomId"`
	RoomName    string `json:"roomName"`
	Kind        string `json:"kind"`
	UnreadCount int64  `json:"unreadCount"`
}

func decodeBody(r *http.Request, dst any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrRoomNotFound),
		errors.Is(err, domain.ErrMemberNotFound),
		errors.Is(err, domain.ErrParticipantNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrNotParticipant):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrNotGroupRoom),
		errors.Is(err, auth.ErrWeakPassword):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrEmailExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidCredentials),
		errors.Is(err, auth.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, err.Error())
	case strings.Contains(err.Error(), "required"):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}
