package app

import (
	"context"
	"sync"
	"time"

	"ephemeral_chat_service/internal/relay/domain"
	"ephemeral_chat_service/internal/relay/repository"
	"ephemeral_chat_service/pkg/logger"

	"go.uber.org/zap"
)

// Session 每條連線的狀態, 只由該連線的 read loop 使用
type Session struct {
	ConnectionID string
	Room         string
	MemberID     string
	UserName     string
}

// InRoom 是否已加入房間
func (s *Session) InRoom() bool {
	return s.Room != "" && s.MemberID != ""
}

// RelayOptions relay 行為設定
type RelayOptions struct {
	// EmptyRoomGrace 斷線造成空房時延遲刪除, 0 表示立即刪除
	EmptyRoomGrace time.Duration
	Now            func() time.Time
}

// RelayUseCase 把 client intent 轉成 registry 變更與廣播
// 所有 event 在同一把鎖內處理, 廣播順序與變更順序一致
type RelayUseCase struct {
	mu      sync.Mutex
	rooms   repository.RoomRepository
	emitter Emitter
	opts    RelayOptions
	pending map[string]*time.Timer
}

// NewRelayUseCase create RelayUseCase
func NewRelayUseCase(rooms repository.RoomRepository, emitter Emitter, opts RelayOptions) *RelayUseCase {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &RelayUseCase{
		rooms:   rooms,
		emitter: emitter,
		opts:    opts,
		pending: make(map[string]*time.Timer),
	}
}

// Join 加入房間, 回 joined-room 給自己, user-joined 給其他成員
func (uc *RelayUseCase) Join(sess *Session, req domain.JoinRoomPayload) error {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	code, err := domain.NormalizeRoomCode(req.RoomID)
	if err != nil {
		return uc.fail(sess, err)
	}

	// 同一條連線重複 join 同一間, 只重送 ack
	if sess.Room == code && uc.rooms.IsMember(code, sess.ConnectionID) {
		uc.emitter.Emit([]string{sess.ConnectionID}, domain.EventJoinedRoom, domain.PresencePayload{
			UserID: sess.MemberID,
			Users:  uc.rooms.Members(code),
		})
		return nil
	}

	// 先加入新房間, 失敗時 session 留在原本的房間
	res, err := uc.rooms.Join(code, sess.ConnectionID, req.UserName)
	if err != nil {
		return uc.fail(sess, err)
	}
	if sess.Room != "" && sess.Room != code {
		uc.leaveLocked(sess, false)
	}
	uc.cancelPendingLocked(code)

	sess.Room = code
	sess.MemberID = res.MemberID
	sess.UserName = domain.DisplayName(res.MemberID)

	logger.Log.Info("join room",
		zap.String("room", code),
		zap.String("memberID", res.MemberID),
		zap.Int("members", len(res.Members)),
		zap.Bool("created", res.Created))

	presence := domain.PresencePayload{UserID: res.MemberID, Users: res.Members}
	uc.emitter.Emit([]string{sess.ConnectionID}, domain.EventJoinedRoom, presence)
	uc.emitter.Emit(res.Peers, domain.EventUserJoined, presence)
	return nil
}

// SendMessage 轉發給其他成員, 不回送給自己, 不讀取也不保存密文
func (uc *RelayUseCase) SendMessage(sess *Session, req domain.SendMessagePayload) error {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	if !sess.InRoom() {
		return uc.fail(sess, domain.ErrNotInRoom)
	}
	if req.EncryptedData == "" {
		return uc.fail(sess, domain.ErrInvalidPayload)
	}

	now := uc.opts.Now()
	// sender 以 session 為準
	req.UserID = sess.MemberID
	if req.MessageID == "" {
		req.MessageID = domain.NewMessageID(now)
	}
	if req.Timestamp == 0 {
		req.Timestamp = now.UnixMilli()
	}

	peers := uc.rooms.Peers(sess.Room, sess.ConnectionID)
	uc.emitter.Emit(peers, domain.EventReceiveMessage, domain.ReceiveMessagePayload(req))
	logger.Log.Debug("relay message",
		zap.String("room", sess.Room),
		zap.String("messageID", req.MessageID),
		zap.Int("peers", len(peers)))
	return nil
}

// SetTyping 更新 typing 集合並把完整集合廣播給整個房間 (包含自己)
func (uc *RelayUseCase) SetTyping(sess *Session, req domain.TypingPayload) error {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	if !sess.InRoom() {
		// typing 是 fire-and-forget, 不回錯誤
		logger.Log.Debug("typing without room", zap.String("connectionID", sess.ConnectionID))
		return nil
	}

	res, ok := uc.rooms.SetTyping(sess.Room, sess.MemberID, req.IsTyping)
	if !ok {
		return nil
	}
	uc.emitter.Emit(res.Recipients, domain.EventUsersTyping, domain.UsersTypingPayload{UserIDs: res.Typing})
	return nil
}

// RequestHistory 把 replay 請求轉給其他成員, 沒有其他成員時直接回空的 load-old-messages
func (uc *RelayUseCase) RequestHistory(sess *Session, req domain.RequestOldMessagesPayload) error {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	if !sess.InRoom() {
		return uc.fail(sess, domain.ErrNotInRoom)
	}

	peers := uc.rooms.Peers(sess.Room, sess.ConnectionID)
	if len(peers) == 0 {
		uc.emitter.Emit([]string{sess.ConnectionID}, domain.EventLoadOldMessages,
			domain.LoadOldMessagesPayload{Messages: []domain.HistoryRecord{}})
		return nil
	}

	uc.emitter.Emit(peers, domain.EventRequestOldMessages, domain.RequestOldMessagesPayload{
		RoomID:      sess.Room,
		UserID:      sess.MemberID,
		RequesterID: sess.ConnectionID,
	})
	return nil
}

// ShareHistory peer 回覆的紀錄轉交給同房間的 requester
func (uc *RelayUseCase) ShareHistory(sess *Session, req domain.ShareOldMessagesPayload) error {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	if !sess.InRoom() {
		return uc.fail(sess, domain.ErrNotInRoom)
	}
	if req.RequesterID == "" || req.RequesterID == sess.ConnectionID {
		return uc.fail(sess, domain.ErrInvalidPayload)
	}
	// requester 已離開或在別的房間, 丟棄
	if !uc.rooms.IsMember(sess.Room, req.RequesterID) {
		logger.Log.Debug("drop shared history",
			zap.String("room", sess.Room),
			zap.String("requesterID", req.RequesterID))
		return nil
	}

	messages := req.Messages
	if messages == nil {
		messages = []domain.HistoryRecord{}
	}
	uc.emitter.Emit([]string{req.RequesterID}, domain.EventLoadOldMessages,
		domain.LoadOldMessagesPayload{Messages: messages})
	return nil
}

// Leave explicit 為 client 主動離開, 否則為斷線
func (uc *RelayUseCase) Leave(sess *Session, explicit bool) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	uc.leaveLocked(sess, explicit)
}

func (uc *RelayUseCase) leaveLocked(sess *Session, explicit bool) {
	if sess.Room == "" {
		return
	}
	code := sess.Room
	sess.Room, sess.MemberID = "", ""

	res, ok := uc.rooms.Leave(code, sess.ConnectionID)
	if !ok {
		return
	}

	logger.Log.Info("leave room",
		zap.String("room", code),
		zap.String("memberID", res.MemberID),
		zap.Bool("explicit", explicit),
		zap.Int("members", len(res.Members)))

	uc.emitter.Emit(res.Recipients, domain.EventUserLeft, domain.PresencePayload{
		UserID: res.MemberID,
		Users:  res.Members,
	})
	if res.TypingChanged {
		uc.emitter.Emit(res.Recipients, domain.EventUsersTyping, domain.UsersTypingPayload{UserIDs: res.Typing})
	}

	if !res.Empty {
		return
	}
	if explicit || uc.opts.EmptyRoomGrace <= 0 {
		uc.destroyLocked(code, sess.ConnectionID)
		return
	}
	uc.scheduleDestroyLocked(code)
}

// destroyLocked 刪除房間, 通知仍然連著的 leaver
func (uc *RelayUseCase) destroyLocked(code, notify string) {
	uc.cancelPendingLocked(code)
	if !uc.rooms.DestroyIfEmpty(code) {
		return
	}
	logger.Log.Info("room destroyed", zap.String("room", code))
	if notify != "" {
		uc.emitter.Emit([]string{notify}, domain.EventChatDestroyed, domain.ChatDestroyedPayload{RoomID: code})
	}
}

// scheduleDestroyLocked 斷線後保留空房一段時間, 讓快速重連可以回到同一間
func (uc *RelayUseCase) scheduleDestroyLocked(code string) {
	uc.cancelPendingLocked(code)

	var timer *time.Timer
	timer = time.AfterFunc(uc.opts.EmptyRoomGrace, func() {
		uc.mu.Lock()
		defer uc.mu.Unlock()

		if uc.pending[code] != timer {
			return
		}
		delete(uc.pending, code)
		if uc.rooms.DestroyIfEmpty(code) {
			logger.Log.Info("room destroyed after grace", zap.String("room", code))
		}
	})
	uc.pending[code] = timer
}

func (uc *RelayUseCase) cancelPendingLocked(code string) {
	if t, ok := uc.pending[code]; ok {
		t.Stop()
		delete(uc.pending, code)
	}
}

// Janitor 定期清除沒有人加入的空房間, ctx 結束時停止
func (uc *RelayUseCase) Janitor(ctx context.Context, interval, ttl time.Duration) {
	if interval <= 0 || ttl <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			uc.EvictIdle(ttl)
		}
	}
}

// EvictIdle 清除閒置超過 ttl 的空房間
func (uc *RelayUseCase) EvictIdle(ttl time.Duration) []string {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	evicted := uc.rooms.EvictIdle(uc.opts.Now(), ttl)
	for _, code := range evicted {
		uc.cancelPendingLocked(code)
	}
	if len(evicted) > 0 {
		logger.Log.Info("evict idle rooms", zap.Strings("rooms", evicted))
	}
	return evicted
}

// Close 停止所有等待中的刪除
func (uc *RelayUseCase) Close() {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	for code := range uc.pending {
		uc.cancelPendingLocked(code)
	}
}

// fail 回 error event 給 caller, 同時回傳 err 讓呼叫端記錄
func (uc *RelayUseCase) fail(sess *Session, err error) error {
	uc.emitter.Emit([]string{sess.ConnectionID}, domain.EventError, domain.ErrorPayload{
		Code:    domain.CodeOf(err),
		Message: err.Error(),
	})
	return err
}
