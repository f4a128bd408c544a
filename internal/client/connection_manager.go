package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"ephemeral_chat_service/internal/relay/domain"
	"ephemeral_chat_service/pkg"
	"ephemeral_chat_service/pkg/encrypt"
	"ephemeral_chat_service/pkg/logger"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Phase 連線生命週期
type Phase string

const (
	PhaseDisconnected Phase = "disconnected"
	PhaseConnecting   Phase = "connecting"
	PhaseJoined       Phase = "joined"
	PhaseReconnecting Phase = "reconnecting"
	PhaseLeft         Phase = "left"
)

const (
	// outboundBuffer 每條連線待送 envelope 的上限, 滿了就丟棄
	outboundBuffer = 64
	// closeFlushTimeout Close 時等待 leave-room 送出的上限
	closeFlushTimeout = time.Second
)

var (
	// ErrAlreadyStarted Start 只能呼叫一次
	ErrAlreadyStarted = errors.New("connection manager already started")
	// ErrReconnectExhausted 重試次數用完
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
)

// Options ConnectionManager setting
type Options struct {
	Room      string
	UserName  string
	Transport Transport
	Cipher    encrypt.Cipher

	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	MaxReconnectDelay    time.Duration
	ConnectTimeout       time.Duration

	MergeStrategy MergeStrategy
	Now           func() time.Time
}

func (o Options) withDefaults() Options {
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = 5
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = time.Second
	}
	if o.MaxReconnectDelay < o.ReconnectDelay {
		o.MaxReconnectDelay = 5 * time.Second
		if o.MaxReconnectDelay < o.ReconnectDelay {
			o.MaxReconnectDelay = o.ReconnectDelay
		}
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// State UI 需要的快照
type State struct {
	Room         string
	Phase        Phase
	IsConnected  bool
	ConnectionID string
	MemberID     string
	Messages     []Message
	Users        []string
	UsersTyping  []string
	Destroyed    bool
	LastError    string
	Health       HealthLevel
}

// ConnectionManager 維持一個房間的連線, 重連後自動 rejoin 並要求 replay
type ConnectionManager struct {
	opts Options

	mu           sync.Mutex
	started      bool
	phase        Phase
	conn         Conn
	out          chan domain.Envelope
	writerDone   chan struct{}
	connectionID string
	memberID     string
	ownIDs       []string
	users        []string
	typing       []string
	destroyed    bool
	lastError    string
	rejoining    bool
	lastInbound  time.Time
	reconnects   []time.Time
	reconciler   *Reconciler

	updates chan struct{}
	wake    chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewConnectionManager create ConnectionManager, room code 格式錯誤時回傳 error
func NewConnectionManager(opts Options) (*ConnectionManager, error) {
	room, err := domain.NormalizeRoomCode(opts.Room)
	if err != nil {
		return nil, err
	}
	if opts.Transport == nil {
		return nil, errors.New("transport is required")
	}
	if opts.Cipher == nil {
		c, err := encrypt.NewRoomCipher(room, "")
		if err != nil {
			return nil, err
		}
		opts.Cipher = c
	}
	opts.Room = room
	opts.UserName = domain.SanitizeDisplayName(opts.UserName)
	opts = opts.withDefaults()

	return &ConnectionManager{
		opts:       opts,
		phase:      PhaseDisconnected,
		reconciler: NewReconciler(opts.MergeStrategy, opts.Now),
		updates:    make(chan struct{}, 1),
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}, nil
}

// Start 啟動背景連線, 不會等待連線完成
func (m *ConnectionManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return ErrAlreadyStarted
	}
	m.started = true
	m.phase = PhaseConnecting

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	go m.run(runCtx)
	m.notifyLocked()
	return nil
}

// Updates 狀態變更通知, 多次變更會合併成一次
func (m *ConnectionManager) Updates() <-chan struct{} {
	return m.updates
}

// Done run loop 結束時關閉
func (m *ConnectionManager) Done() <-chan struct{} {
	return m.done
}

// State 目前狀態快照
func (m *ConnectionManager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.opts.Now()
	return State{
		Room:         m.opts.Room,
		Phase:        m.phase,
		IsConnected:  m.connectedLocked(),
		ConnectionID: m.connectionID,
		MemberID:     m.memberID,
		Messages:     m.reconciler.Messages(),
		Users:        copyStrings(m.users),
		UsersTyping:  copyStrings(m.typing),
		Destroyed:    m.destroyed,
		LastError:    m.lastError,
		Health:       EvaluateHealth(m.healthStatsLocked(now), now),
	}
}

// Send 加密後送出, 先 optimistic 加入本地; 未連線時回傳 false, 不重送
func (m *ConnectionManager) Send(text, replyToID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connectedLocked() || text == "" {
		return false
	}

	now := m.opts.Now()
	cipherText, err := m.opts.Cipher.Encrypt(text)
	if err != nil {
		logger.Log.Error("encrypt message", zap.Error(err))
		return false
	}

	msg := Message{
		ID:        domain.NewMessageID(now),
		Kind:      domain.MessageKindUser,
		UserID:    m.memberID,
		Text:      text,
		Timestamp: now.UnixMilli(),
	}
	payload := domain.SendMessagePayload{
		EncryptedData: cipherText,
		UserID:        m.memberID,
		MessageID:     msg.ID,
		Timestamp:     msg.Timestamp,
	}

	if replyToID != "" {
		if target, ok := m.reconciler.Find(replyToID); ok && target.IsUser() {
			ref, err := m.replyRefLocked(&Reply{ID: target.ID, UserID: target.UserID, Text: target.Text})
			if err == nil {
				payload.ReplyTo = ref
				msg.ReplyTo = &Reply{ID: target.ID, UserID: target.UserID, Text: target.Text}
			}
		}
	}

	m.reconciler.AppendLocal(msg)
	m.writeLocked(domain.EventSendMessage, payload)
	m.notifyLocked()
	return true
}

// SendTyping fire-and-forget
func (m *ConnectionManager) SendTyping(isTyping bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connectedLocked() {
		return false
	}
	return m.writeLocked(domain.EventUserTyping, domain.TypingPayload{UserID: m.memberID, IsTyping: isTyping})
}

// SetVisible 回到前景: 斷線時立即重連, 已連線時要求 replay
func (m *ConnectionManager) SetVisible(visible bool) {
	if !visible {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.phase == PhaseLeft || !m.started:
		return
	case m.connectedLocked():
		m.requestHistoryLocked()
	case m.conn == nil:
		// 第一次連線的 back-off 期間也算斷線
		select {
		case m.wake <- struct{}{}:
		default:
		}
	}
}

// Close 連線中先送 leave-room, 再關閉連線並等待 run loop 結束
func (m *ConnectionManager) Close() {
	m.mu.Lock()
	if m.phase == PhaseLeft {
		m.mu.Unlock()
		return
	}
	if m.connectedLocked() {
		m.writeLocked(domain.EventLeaveRoom, domain.LeaveRoomPayload{RoomID: m.opts.Room, UserName: m.opts.UserName})
	}
	m.phase = PhaseLeft
	conn := m.conn
	writerDone := m.detachLocked()
	cancel := m.cancel
	started := m.started
	m.notifyLocked()
	m.mu.Unlock()

	if conn != nil {
		// 等 writer 把 leave-room 送出, 連線卡住時不無限等待
		select {
		case <-writerDone:
		case <-time.After(closeFlushTimeout):
		}
		_ = conn.Close()
	}
	if cancel != nil {
		cancel()
	}
	if started {
		<-m.done
	}
}

func (m *ConnectionManager) run(ctx context.Context) {
	defer close(m.done)

	for {
		conn, err := m.connect(ctx)
		if err != nil {
			if ctx.Err() != nil || m.isLeft() {
				return
			}
			logger.Log.Warn("reconnect stopped, waiting for wake", zap.String("room", m.opts.Room), zap.Error(err))
			m.setPhase(PhaseDisconnected)
			select {
			case <-ctx.Done():
				return
			case <-m.wake:
				m.setPhase(PhaseReconnecting)
				continue
			}
		}

		m.serve(ctx, conn)
		if ctx.Err() != nil || m.isLeft() {
			return
		}
		m.onDisconnect()
	}
}

// connect 依 back-off 重試, 等待期間可被 wake 提前喚醒
func (m *ConnectionManager) connect(ctx context.Context) (Conn, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = m.opts.ReconnectDelay
	eb.MaxInterval = m.opts.MaxReconnectDelay
	eb.Multiplier = 2
	eb.MaxElapsedTime = 0
	bo := backoff.WithMaxRetries(eb, uint64(m.opts.MaxReconnectAttempts-1))
	bo.Reset()

	for {
		dialCtx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
		conn, err := m.opts.Transport.Dial(dialCtx)
		cancel()
		if err == nil {
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Log.Warn("dial failed", zap.String("room", m.opts.Room), zap.Error(err))

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			return nil, ErrReconnectExhausted
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-m.wake:
			timer.Stop()
			bo.Reset()
		case <-timer.C:
		}
	}
}

// serve 讀取直到連線中斷
func (m *ConnectionManager) serve(ctx context.Context, conn Conn) {
	m.mu.Lock()
	if m.phase == PhaseLeft {
		m.mu.Unlock()
		_ = conn.Close()
		return
	}
	out := make(chan domain.Envelope, outboundBuffer)
	writerDone := make(chan struct{})
	m.conn = conn
	m.out = out
	m.writerDone = writerDone
	// 連線成功前留下的 wake 已經沒有意義
	select {
	case <-m.wake:
	default:
	}
	m.mu.Unlock()

	go m.writeLoop(conn, out, writerDone)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	for {
		env, err := conn.ReadEnvelope()
		if err != nil {
			logger.Log.Debug("read envelope", zap.Error(err))
			m.mu.Lock()
			if m.conn == conn {
				m.detachLocked()
			}
			m.mu.Unlock()
			_ = conn.Close()
			return
		}
		m.handle(env)
	}
}

// writeLoop 唯一寫入 conn 的 goroutine, out 關閉或寫入失敗時結束
func (m *ConnectionManager) writeLoop(conn Conn, out <-chan domain.Envelope, done chan<- struct{}) {
	defer close(done)

	for env := range out {
		if err := conn.WriteEnvelope(env); err != nil {
			logger.Log.Warn("write envelope", zap.String("event", string(env.Event)), zap.Error(err))
			// 讓 read loop 也結束, 由 run 負責重連
			_ = conn.Close()
			return
		}
	}
}

// detachLocked 解除目前的連線並關閉 outbound queue, 回傳 writer 結束的 channel
func (m *ConnectionManager) detachLocked() <-chan struct{} {
	done := m.writerDone
	if m.out != nil {
		close(m.out)
	}
	m.conn = nil
	m.out = nil
	m.writerDone = nil
	return done
}

func (m *ConnectionManager) onDisconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase == PhaseLeft {
		return
	}
	m.phase = PhaseReconnecting
	m.rejoining = m.memberID != ""
	m.typing = nil

	now := m.opts.Now()
	recent := m.reconnects[:0]
	for _, t := range m.reconnects {
		if now.Sub(t) <= ReconnectWindow {
			recent = append(recent, t)
		}
	}
	m.reconnects = append(recent, now)
	m.notifyLocked()
}

func (m *ConnectionManager) handle(env domain.Envelope) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastInbound = m.opts.Now()

	var err error
	switch env.Event {
	case domain.EventConnected:
		var p domain.ConnectedPayload
		if err = env.Decode(&p); err == nil {
			m.connectionID = p.ID
			m.writeLocked(domain.EventJoinRoom, domain.JoinRoomPayload{RoomID: m.opts.Room, UserName: m.opts.UserName})
		}

	case domain.EventJoinedRoom:
		var p domain.PresencePayload
		if err = env.Decode(&p); err == nil {
			m.onJoinedLocked(p)
		}

	case domain.EventUserJoined:
		var p domain.PresencePayload
		if err = env.Decode(&p); err == nil {
			m.users = copyStrings(p.Users)
			if p.UserID != "" && p.UserID != m.memberID {
				m.reconciler.AddJoinNotice(p.UserID)
			}
		}

	case domain.EventUserLeft:
		var p domain.PresencePayload
		if err = env.Decode(&p); err == nil {
			m.users = copyStrings(p.Users)
			if p.UserID != "" && p.UserID != m.memberID {
				m.reconciler.AddLeftNotice(p.UserID)
			}
		}

	case domain.EventReceiveMessage:
		var p domain.ReceiveMessagePayload
		if err = env.Decode(&p); err == nil {
			m.onReceiveLocked(p)
		}

	case domain.EventUsersTyping:
		var p domain.UsersTypingPayload
		if err = env.Decode(&p); err == nil {
			m.typing = m.othersLocked(p.UserIDs)
		}

	case domain.EventRequestOldMessages:
		var p domain.RequestOldMessagesPayload
		if err = env.Decode(&p); err == nil {
			m.shareHistoryLocked(p)
		}

	case domain.EventLoadOldMessages:
		var p domain.LoadOldMessagesPayload
		if err = env.Decode(&p); err == nil {
			m.reconciler.MergeHistory(m.decryptHistoryLocked(p.Messages))
		}

	case domain.EventChatDestroyed:
		m.destroyed = true
		m.users = nil
		m.typing = nil

	case domain.EventError:
		var p domain.ErrorPayload
		if err = env.Decode(&p); err == nil {
			m.lastError = p.Message
			logger.Log.Warn("server error", zap.String("code", string(p.Code)), zap.String("message", p.Message))
		}

	default:
		logger.Log.Debug("ignore event", zap.String("event", string(env.Event)))
		return
	}

	if err != nil {
		logger.Log.Warn("decode event", zap.String("event", string(env.Event)), zap.Error(err))
		return
	}
	m.notifyLocked()
}

func (m *ConnectionManager) onJoinedLocked(p domain.PresencePayload) {
	m.memberID = p.UserID
	if p.UserID != "" && !pkg.Contains(m.ownIDs, p.UserID) {
		m.ownIDs = append(m.ownIDs, p.UserID)
	}
	m.users = copyStrings(p.Users)
	m.phase = PhaseJoined
	m.destroyed = false
	m.lastError = ""
	m.reconciler.AddSelfJoined()

	if m.rejoining {
		m.rejoining = false
		m.requestHistoryLocked()
	}
}

func (m *ConnectionManager) onReceiveLocked(p domain.ReceiveMessagePayload) {
	text, err := m.opts.Cipher.Decrypt(p.EncryptedData)
	if err != nil {
		logger.Log.Warn("decrypt message", zap.String("messageID", p.MessageID), zap.Error(err))
		return
	}
	m.reconciler.AppendRemote(Message{
		ID:        p.MessageID,
		Kind:      domain.MessageKindUser,
		UserID:    p.UserID,
		Text:      text,
		ReplyTo:   m.decryptReplyLocked(p.ReplyTo),
		Timestamp: p.Timestamp,
	})
}

// shareHistoryLocked 其他成員要求 replay, 重新加密本地的使用者訊息
func (m *ConnectionManager) shareHistoryLocked(p domain.RequestOldMessagesPayload) {
	if p.RequesterID == "" || p.RequesterID == m.connectionID {
		return
	}

	local := m.reconciler.UserMessages()
	records := make([]domain.HistoryRecord, 0, len(local))
	for _, msg := range local {
		cipherText, err := m.opts.Cipher.Encrypt(msg.Text)
		if err != nil {
			logger.Log.Error("encrypt history", zap.Error(err))
			continue
		}
		rec := domain.HistoryRecord{
			ID:            msg.ID,
			Type:          domain.MessageKindUser,
			UserID:        msg.UserID,
			EncryptedData: cipherText,
			Timestamp:     msg.Timestamp,
		}
		if msg.ReplyTo != nil {
			if ref, err := m.replyRefLocked(msg.ReplyTo); err == nil {
				rec.ReplyTo = ref
			}
		}
		records = append(records, rec)
	}

	m.writeLocked(domain.EventShareOldMessages, domain.ShareOldMessagesPayload{
		RequesterID: p.RequesterID,
		Messages:    records,
	})
}

func (m *ConnectionManager) decryptHistoryLocked(records []domain.HistoryRecord) []Message {
	out := make([]Message, 0, len(records))
	for _, rec := range records {
		if rec.Type != "" && rec.Type != domain.MessageKindUser {
			continue
		}
		text, err := m.opts.Cipher.Decrypt(rec.EncryptedData)
		if err != nil {
			logger.Log.Warn("decrypt history", zap.String("messageID", rec.ID), zap.Error(err))
			continue
		}
		out = append(out, Message{
			ID:        rec.ID,
			Kind:      domain.MessageKindUser,
			UserID:    rec.UserID,
			Text:      text,
			ReplyTo:   m.decryptReplyLocked(rec.ReplyTo),
			Timestamp: rec.Timestamp,
			IsSent:    pkg.Contains(m.ownIDs, rec.UserID),
		})
	}
	return out
}

func (m *ConnectionManager) replyRefLocked(r *Reply) (*domain.ReplyRef, error) {
	cipherText, err := m.opts.Cipher.Encrypt(r.Text)
	if err != nil {
		return nil, err
	}
	return &domain.ReplyRef{ID: r.ID, UserID: r.UserID, EncryptedText: cipherText}, nil
}

func (m *ConnectionManager) decryptReplyLocked(ref *domain.ReplyRef) *Reply {
	if ref == nil {
		return nil
	}
	text, err := m.opts.Cipher.Decrypt(ref.EncryptedText)
	if err != nil {
		return &Reply{ID: ref.ID, UserID: ref.UserID}
	}
	return &Reply{ID: ref.ID, UserID: ref.UserID, Text: text}
}

func (m *ConnectionManager) requestHistoryLocked() {
	m.writeLocked(domain.EventRequestOldMessages, domain.RequestOldMessagesPayload{
		RoomID: m.opts.Room,
		UserID: m.memberID,
	})
}

// othersLocked 排除自己的 connection id 與 member id
func (m *ConnectionManager) othersLocked(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == m.connectionID || id == m.memberID {
			continue
		}
		out = append(out, id)
	}
	return out
}

// writeLocked 放進 outbound queue, 不等待網路
func (m *ConnectionManager) writeLocked(event domain.Event, payload interface{}) bool {
	if m.conn == nil || m.out == nil {
		return false
	}
	env, err := domain.NewEnvelope(event, payload)
	if err != nil {
		logger.Log.Error("marshal payload", zap.String("event", string(event)), zap.Error(err))
		return false
	}
	select {
	case m.out <- env:
		return true
	default:
		logger.Log.Warn("outbound queue full, drop", zap.String("event", string(event)))
		return false
	}
}

func (m *ConnectionManager) connectedLocked() bool {
	return m.conn != nil && m.phase == PhaseJoined
}

func (m *ConnectionManager) healthStatsLocked(now time.Time) HealthStats {
	recent := 0
	for _, t := range m.reconnects {
		if now.Sub(t) <= ReconnectWindow {
			recent++
		}
	}
	var rtt time.Duration
	if m.conn != nil {
		rtt = m.conn.RTT()
	}
	return HealthStats{
		Connected:        m.connectedLocked(),
		LastMessageAt:    m.lastInbound,
		RecentReconnects: recent,
		RTT:              rtt,
	}
}

func (m *ConnectionManager) setPhase(p Phase) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase == PhaseLeft {
		return
	}
	m.phase = p
	m.notifyLocked()
}

func (m *ConnectionManager) isLeft() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase == PhaseLeft
}

func (m *ConnectionManager) notifyLocked() {
	select {
	case m.updates <- struct{}{}:
	default:
	}
}

func copyStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
