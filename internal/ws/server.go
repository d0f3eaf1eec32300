package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"chatpresence/internal/apperr"
	"chatpresence/internal/authz"
	"chatpresence/internal/dispatcher"
	"chatpresence/internal/presence"
	"chatpresence/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	dispatchTimeout = 1900 * time.Millisecond
	cleanupTimeout  = 30 * time.Second
	sendBuffer      = 256
)

// Profiles resolves the user behind a handshake. storage.Storage satisfies it.
type Profiles interface {
	GetUser(ctx context.Context, userID string) (storage.User, error)
}

type WsServer struct {
	hub      *Hub
	router   *Router
	core     *dispatcher.Dispatcher
	profiles Profiles
	upgrader websocket.Upgrader

	connectTimeout time.Duration
}

func NewWsServer(h *Hub, core *dispatcher.Dispatcher, profiles Profiles) *WsServer {
	srv := &WsServer{
		hub:            h,
		router:         NewRouter(),
		core:           core,
		profiles:       profiles,
		connectTimeout: dispatchTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true }, // dev-only
		},
	}
	srv.registerHandlers() // ← all WS endpoints configured here
	return srv
}

// ---------------------------------------------------------------------------
//  Public: Gin entry-point
// ---------------------------------------------------------------------------

func (s *WsServer) Handle(ginCtx *gin.Context) {
	userID := ginCtx.Query("user_id")
	if userID == "" {
		ginCtx.JSON(http.StatusBadRequest, apperr.BodyOf(dispatcher.ErrInvalidUser))
		return
	}
	info := s.profile(ginCtx.Request.Context(), userID, ginCtx.Query("display_name"))

	rawConn, err := s.upgrader.Upgrade(ginCtx.Writer, ginCtx.Request, nil)
	if err != nil {
		zap.L().Warn("ws.upgrade", zap.Error(err))
		return
	}
	rawConn.SetReadLimit(maxMessageSize)

	conn := newClientConn(rawConn, userID, sendBuffer)
	s.hub.add(conn)
	go conn.writePump()

	ctx, cancel := context.WithTimeout(context.Background(), s.connectTimeout)
	err = s.core.Connect(ctx, userID, conn, info)
	cancel()
	if err != nil {
		zap.L().Warn("ws.connect", zap.String("user_id", userID), zap.Error(err))
		_ = conn.Send("error", apperr.BodyOf(err))
		conn.Close("connect failed")
		s.hub.remove(conn)
		if errors.Is(err, dispatcher.ErrBusy) {
			go s.undoConnect(conn)
		}
		return
	}
	zap.L().Debug("ws.connected", zap.String("user_id", userID), zap.String("conn_id", conn.id))

	go s.reader(conn)
}

// ---------------------------------------------------------------------------
//  Private helpers
// ---------------------------------------------------------------------------

// profile looks the user up in storage. Unknown users join as guests under
// the name they sent.
func (s *WsServer) profile(ctx context.Context, userID, displayName string) presence.Info {
	info := presence.Info{DisplayName: displayName, Role: authz.Guest}
	if s.profiles == nil {
		return info
	}
	ctx, cancel := context.WithTimeout(ctx, dispatchTimeout)
	defer cancel()
	u, err := s.profiles.GetUser(ctx, userID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			zap.L().Warn("ws.profile", zap.String("user_id", userID), zap.Error(err))
		}
		return info
	}
	if u.DisplayName != "" {
		info.DisplayName = u.DisplayName
	}
	info.Role = u.Role
	info.Muted = u.Muted
	return info
}

// undoConnect follows a timed-out Connect with a Disconnect for the same
// connection. The loop runs commands in order, so a Connect that was queued
// but not yet applied is removed again as soon as it lands.
func (s *WsServer) undoConnect(conn *clientConn) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := s.core.Disconnect(ctx, conn.userID, conn); err != nil {
		zap.L().Warn("ws.undo_connect", zap.String("user_id", conn.userID), zap.Error(err))
	}
}

func (s *WsServer) reader(conn *clientConn) {
	defer func() {
		s.hub.remove(conn)
		conn.Close("bye")
		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		if err := s.core.Disconnect(ctx, conn.userID, conn); err != nil {
			zap.L().Warn("ws.disconnect", zap.String("user_id", conn.userID), zap.Error(err))
		}
		cancel()
	}()

	_ = conn.rawConn.SetReadDeadline(time.Now().Add(pongWait))
	conn.rawConn.SetPongHandler(func(string) error {
		return conn.rawConn.SetReadDeadline(time.Now().Add(pongWait))
	})

	cc := &ConnContext{UserID: conn.userID, Conn: conn}

	for {
		_, data, err := conn.rawConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				zap.L().Debug("ws.read", zap.String("user_id", conn.userID), zap.Error(err))
			}
			return // client closed or errored
		}
		_ = conn.rawConn.SetReadDeadline(time.Now().Add(pongWait))

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			_ = conn.Send("error", apperr.BodyOf(ErrInvalidPayload))
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		res, err := s.router.dispatch(ctx, cc, env)
		cancel()

		// ---- error -> {"event":"error", "body":{...}} ---------------
		if err != nil {
			if apperr.KindOf(err) == apperr.Invariant {
				zap.L().Error("ws.dispatch", zap.String("event", env.Event), zap.Error(err))
			}
			_ = conn.Send("error", apperr.BodyOf(err))
			continue
		}

		// ---- success -> {"event":"<evt>-ack", "body":{...}} --------
		_ = conn.Send(env.Event+"-ack", res)
	}
}
