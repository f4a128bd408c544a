package app

import (
	"context"
	"encoding/json"
	"time"

	"ephemeral_chat_service/internal/relay/domain"
	"ephemeral_chat_service/pkg/logger"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SocketOptions websocket transport setting
type SocketOptions struct {
	PingInterval    time.Duration
	PingTimeout     time.Duration
	MaxMessageBytes int64
	WriteTimeout    time.Duration
}

func (o SocketOptions) withDefaults() SocketOptions {
	if o.PingInterval <= 0 {
		o.PingInterval = 25 * time.Second
	}
	if o.PingTimeout <= 0 {
		o.PingTimeout = 20 * time.Second
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 1 << 20
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	return o
}

// RelayWebsocketHandler 每條 websocket 連線的進入點
type RelayWebsocketHandler struct {
	hub   *Hub
	relay *RelayUseCase
	opts  SocketOptions
}

// NewRelayWebsocketHandler create RelayWebsocketHandler
func NewRelayWebsocketHandler(hub *Hub, relay *RelayUseCase, opts SocketOptions) *RelayWebsocketHandler {
	return &RelayWebsocketHandler{
		hub:   hub,
		relay: relay,
		opts:  opts.withDefaults(),
	}
}

// HandleConnection 註冊連線, 啟動 write pump, 在目前 goroutine 跑 read loop
func (h *RelayWebsocketHandler) HandleConnection(ctx context.Context, conn *websocket.Conn) {
	sess := &Session{ConnectionID: uuid.NewString()}
	c := h.hub.Register(sess.ConnectionID)
	logger.Log.Info("websocket open",
		zap.String("connectionID", sess.ConnectionID),
		zap.String("remote", conn.RemoteAddr().String()))

	connCtx, cancel := context.WithCancel(ctx)
	pumpDone := make(chan struct{})
	readDone := make(chan struct{})
	watchDone := make(chan struct{})

	// conn 在 handler return 後會被回收, 所有用到 conn 的 goroutine 都要先結束
	defer func() {
		close(readDone)
		<-watchDone
		cancel()
		// 斷線視為非主動離開
		h.relay.Leave(sess, false)
		h.hub.Unregister(sess.ConnectionID)
		<-pumpDone
		conn.Close()
		logger.Log.Info("websocket close", zap.String("connectionID", sess.ConnectionID))
	}()

	readWait := h.opts.PingInterval + h.opts.PingTimeout
	conn.SetReadLimit(h.opts.MaxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(readWait))

	//server發出ping之後client連線正常會回pong
	conn.SetPongHandler(func(appData string) error {
		logger.Log.Debug("received pong", zap.String("connectionID", sess.ConnectionID))
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})

	//client發出ping, 手動回 pong 並延長 deadline
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
	})

	go h.writePump(connCtx, conn, c, pumpDone)

	// shutdown 時中斷 read loop
	go func() {
		defer close(watchDone)
		select {
		case <-ctx.Done():
			conn.Close()
		case <-readDone:
		}
	}()

	h.hub.Emit([]string{sess.ConnectionID}, domain.EventConnected, domain.ConnectedPayload{ID: sess.ConnectionID})

	for {
		mt, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Log.Info("connection closed", zap.String("connectionID", sess.ConnectionID))
			} else {
				//直接斷線 1006 / read deadline
				logger.Log.Warn("websocket read error", zap.String("connectionID", sess.ConnectionID), zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		h.execWebsocketAction(sess, mt, message)
	}
}

// writePump 唯一寫 data frame 的 goroutine, 同時定期送 ping
func (h *RelayWebsocketHandler) writePump(ctx context.Context, conn *websocket.Conn, c *Connection, done chan<- struct{}) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer func() {
		ticker.Stop()
		close(done)
	}()

	for {
		select {
		case frame, ok := <-c.Send():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				logger.Log.Warn("write message error", zap.String("connectionID", c.ID), zap.Error(err))
				h.drain(c)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.opts.WriteTimeout)); err != nil {
				logger.Log.Warn("ping error", zap.String("connectionID", c.ID), zap.Error(err))
				h.drain(c)
				return
			}
		case <-ctx.Done():
			h.drain(c)
			return
		}
	}
}

// drain 寫入失敗後丟棄剩下的 frame 直到 Unregister 關閉 channel
func (h *RelayWebsocketHandler) drain(c *Connection) {
	go func() {
		for range c.Send() {
		}
	}()
}

func (h *RelayWebsocketHandler) execWebsocketAction(sess *Session, mt int, msg []byte) {
	switch mt {
	case websocket.TextMessage:
		h.textMessageAction(sess, msg)

	//! close ping pong fiber會自動處理，故需使用setHandler處理
	default:
		h.hub.Emit([]string{sess.ConnectionID}, domain.EventError, domain.ErrorPayload{
			Code:    domain.CodeUnknownEvent,
			Message: "only text frames are supported",
		})
	}
}

func (h *RelayWebsocketHandler) textMessageAction(sess *Session, msg []byte) {
	var env domain.Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		h.relay.fail(sess, domain.ErrInvalidPayload)
		return
	}

	if err := h.dispatch(sess, env); err != nil {
		logger.Log.Warn("websocket event failed",
			zap.String("connectionID", sess.ConnectionID),
			zap.String("event", string(env.Event)),
			zap.Error(err))
	}
}

func (h *RelayWebsocketHandler) dispatch(sess *Session, env domain.Envelope) error {
	switch env.Event {
	case domain.EventJoinRoom:
		var req domain.JoinRoomPayload
		if err := env.Decode(&req); err != nil {
			return h.relay.fail(sess, domain.ErrInvalidPayload)
		}
		return h.relay.Join(sess, req)

	case domain.EventSendMessage:
		var req domain.SendMessagePayload
		if err := env.Decode(&req); err != nil {
			return h.relay.fail(sess, domain.ErrInvalidPayload)
		}
		return h.relay.SendMessage(sess, req)

	case domain.EventUserTyping:
		var req domain.TypingPayload
		if err := env.Decode(&req); err != nil {
			return h.relay.fail(sess, domain.ErrInvalidPayload)
		}
		return h.relay.SetTyping(sess, req)

	case domain.EventRequestOldMessages:
		var req domain.RequestOldMessagesPayload
		if err := env.Decode(&req); err != nil {
			return h.relay.fail(sess, domain.ErrInvalidPayload)
		}
		return h.relay.RequestHistory(sess, req)

	case domain.EventShareOldMessages:
		var req domain.ShareOldMessagesPayload
		if err := env.Decode(&req); err != nil {
			return h.relay.fail(sess, domain.ErrInvalidPayload)
		}
		return h.relay.ShareHistory(sess, req)

	case domain.EventLeaveRoom:
		h.relay.Leave(sess, true)
		return nil

	default:
		h.hub.Emit([]string{sess.ConnectionID}, domain.EventError, domain.ErrorPayload{
			Code:    domain.CodeUnknownEvent,
			Message: "unknown event " + string(env.Event),
		})
		return nil
	}
}
