package client

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"ephemeral_chat_service/internal/relay/domain"
	"ephemeral_chat_service/pkg/logger"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrConnClosed conn 已經關閉
var ErrConnClosed = errors.New("connection closed")

// Conn 一條已建立的連線
type Conn interface {
	ReadEnvelope() (domain.Envelope, error)
	WriteEnvelope(env domain.Envelope) error
	Close() error
	// RTT 最近一次 ping/pong 的來回時間, 尚未量測時為 0
	RTT() time.Duration
}

// Transport 建立連線
type Transport interface {
	Dial(ctx context.Context) (Conn, error)
}

// TransportOptions websocket client setting
type TransportOptions struct {
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	PingTimeout      time.Duration
	WriteTimeout     time.Duration
	Header           http.Header
}

// WebsocketTransport gorilla/websocket 實作
type WebsocketTransport struct {
	url  string
	opts TransportOptions
}

var _ Transport = (*WebsocketTransport)(nil)

// NewWebsocketTransport create WebsocketTransport
func NewWebsocketTransport(url string, opts TransportOptions) *WebsocketTransport {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 25 * time.Second
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = 20 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	return &WebsocketTransport{url: url, opts: opts}
}

// Dial 建立連線並啟動 ping loop
func (t *WebsocketTransport) Dial(ctx context.Context) (Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: t.opts.HandshakeTimeout,
	}
	ws, _, err := dialer.DialContext(ctx, t.url, t.opts.Header)
	if err != nil {
		return nil, err
	}

	c := &wsConn{
		conn:     ws,
		opts:     t.opts,
		readWait: t.opts.PingInterval + t.opts.PingTimeout,
		done:     make(chan struct{}),
	}
	_ = ws.SetReadDeadline(time.Now().Add(c.readWait))
	ws.SetPongHandler(func(string) error {
		if sent := c.pingSent.Load(); sent > 0 {
			c.rtt.Store(time.Now().UnixNano() - sent)
		}
		return ws.SetReadDeadline(time.Now().Add(c.readWait))
	})

	go c.pingLoop()
	return c, nil
}

type wsConn struct {
	conn     *websocket.Conn
	opts     TransportOptions
	readWait time.Duration

	writeMu  sync.Mutex
	pingSent atomic.Int64
	rtt      atomic.Int64

	done      chan struct{}
	closeOnce sync.Once
}

func (c *wsConn) ReadEnvelope() (domain.Envelope, error) {
	var env domain.Envelope
	if err := c.conn.ReadJSON(&env); err != nil {
		return env, err
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(c.readWait))
	return env, nil
}

func (c *wsConn) WriteEnvelope(env domain.Envelope) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	return c.conn.WriteJSON(env)
}

func (c *wsConn) RTT() time.Duration {
	return time.Duration(c.rtt.Load())
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

// pingLoop 定期送 ping, pong 回來時計算 RTT
func (c *wsConn) pingLoop() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.pingSent.Store(time.Now().UnixNano())
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout)); err != nil {
				logger.Log.Warn("client ping error", zap.Error(err))
				return
			}
		}
	}
}
