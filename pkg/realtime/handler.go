package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aeolun/chorus/pkg/protocol"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = (pongWait * 9) / 10
	maxFrameSize = 64 * 1024
)

// Authenticator resolves the identity behind an upgrade request.
type Authenticator func(r *http.Request) (Identity, error)

// Handler upgrades HTTP requests to change feed sessions.
type Handler struct {
	sessions *SessionManager
	auth     Authenticator
	log      *zap.SugaredLogger
	upgrader websocket.Upgrader
}

// NewHandler creates a websocket handler serving sessions from sm.
func NewHandler(sm *SessionManager, auth Authenticator, log *zap.SugaredLogger) *Handler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Handler{
		sessions: sm,
		auth:     auth,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser clients are served from other origins; tokens gate access.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP authenticates, upgrades and runs the session until either side closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, err := h.auth(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debugw("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	wsConn.SetReadLimit(maxFrameSize)

	conn := NewSafeConn(wsConn)
	sess := h.sessions.CreateSession(conn, identity)
	h.log.Debugw("realtime session opened", "session", sess.ID, "user", identity.UserID, "remote", sess.RemoteAddr)

	go h.writeLoop(sess)
	h.readLoop(sess, wsConn)
}

// readLoop handles client envelopes until the connection fails
func (h *Handler) readLoop(sess *Session, wsConn *websocket.Conn) {
	defer h.sessions.RemoveSession(sess.ID)

	wsConn.SetReadDeadline(time.Now().Add(pongWait))
	wsConn.SetPongHandler(func(string) error {
		return wsConn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		env, err := sess.Conn.ReadEnvelope()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debugw("realtime read error", "session", sess.ID, "error", err)
			}
			return
		}
		wsConn.SetReadDeadline(time.Now().Add(pongWait))

		if err := h.handleEnvelope(sess, env); err != nil {
			h.reply(sess, protocol.TypeError, env.Ref, env.Topic, protocol.ErrorPayload{Message: err.Error()})
		}
	}
}

// handleEnvelope dispatches a client envelope
func (h *Handler) handleEnvelope(sess *Session, env protocol.Envelope) error {
	switch env.Type {
	case protocol.TypeSubscribe:
		if env.Topic == "" {
			return errors.New("subscribe requires a topic")
		}
		var req protocol.SubscribeRequest
		if err := json.Unmarshal(env.Data, &req); err != nil {
			return fmt.Errorf("decode subscribe: %w", err)
		}
		filter, err := protocol.ParseFilter(req.Filter)
		if err != nil {
			return err
		}
		if err := h.sessions.Subscribe(sess, TopicSubscription{Topic: env.Topic, Table: req.Table, Filter: filter}); err != nil {
			return err
		}
		h.reply(sess, protocol.TypeSubscribed, env.Ref, env.Topic, nil)
		return nil

	case protocol.TypeUnsubscribe:
		h.sessions.Unsubscribe(sess, env.Topic)
		h.reply(sess, protocol.TypeUnsubscribed, env.Ref, env.Topic, nil)
		return nil

	case protocol.TypePing:
		h.reply(sess, protocol.TypePong, env.Ref, "", nil)
		return nil

	default:
		return fmt.Errorf("unsupported envelope type %q", env.Type)
	}
}

// reply queues a response envelope behind any pending events
func (h *Handler) reply(sess *Session, typ, ref, topic string, data any) {
	env, err := protocol.NewEnvelope(typ, ref, topic, data)
	if err != nil {
		h.log.Errorw("encode reply", "session", sess.ID, "type", typ, "error", err)
		return
	}
	if !sess.enqueue(env) {
		h.log.Debugw("dropping reply for slow session", "session", sess.ID, "type", typ)
	}
}

// writeLoop drains the session's queue and keeps the connection alive
func (h *Handler) writeLoop(sess *Session) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sess.done:
			return
		case env := <-sess.send:
			if err := sess.Conn.WriteEnvelope(env); err != nil {
				h.log.Debugw("realtime write error", "session", sess.ID, "error", err)
				h.sessions.RemoveSession(sess.ID)
				return
			}
		case <-ticker.C:
			if err := sess.Conn.WritePing(); err != nil {
				h.sessions.RemoveSession(sess.ID)
				return
			}
		}
	}
}
