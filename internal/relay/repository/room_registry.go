package repository

import (
	"sync"
	"time"

	"ephemeral_chat_service/internal/relay/domain"
	"ephemeral_chat_service/pkg"
)

// RoomRepository room code → {members, typing} 的存取介面
type RoomRepository interface {
	Join(code, connectionID, displayName string) (JoinResult, error)
	Leave(code, connectionID string) (LeaveResult, bool)
	SetTyping(code, memberID string, isTyping bool) (TypingResult, bool)
	Peers(code, exceptConnectionID string) []string
	Recipients(code string) []string
	Members(code string) []string
	IsMember(code, connectionID string) bool
	Destroy(code string) bool
	DestroyIfEmpty(code string) bool
	Exists(code string) bool
	Create(code string) bool
	Count() int
	EvictIdle(now time.Time, ttl time.Duration) []string
}

// JoinResult join 之後的房間狀態
type JoinResult struct {
	MemberID string
	// Members 目前全部 member id, 包含自己
	Members []string
	// Peers 其他成員的 connection id
	Peers   []string
	Created bool
}

// LeaveResult leave 之後的房間狀態
type LeaveResult struct {
	MemberID string
	Members  []string
	// Recipients 剩餘成員的 connection id
	Recipients    []string
	Typing        []string
	TypingChanged bool
	Empty         bool
}

// TypingResult typing 變更後的完整集合
type TypingResult struct {
	Typing     []string
	Recipients []string
	Changed    bool
}

// RegistryOptions room registry setting
type RegistryOptions struct {
	// MaxMembers 0 表示不限制
	MaxMembers int
	Now        func() time.Time
}

// RoomRegistry in-memory room registry, 重啟後全部消失
type RoomRegistry struct {
	mu    sync.Mutex
	rooms map[string]*domain.Room
	opts  RegistryOptions
}

var _ RoomRepository = (*RoomRegistry)(nil)

// NewRoomRegistry create RoomRegistry
func NewRoomRegistry(opts RegistryOptions) *RoomRegistry {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &RoomRegistry{
		rooms: make(map[string]*domain.Room),
		opts:  opts,
	}
}

// Join 房間不存在時建立, 產生 member id 並加入
func (r *RoomRegistry) Join(code, connectionID, displayName string) (JoinResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[code]
	created := false
	if !ok {
		room = r.newRoom(code)
		r.rooms[code] = room
		created = true
	}

	// 同一條連線重複 join, 沿用原本的 member id
	if m, _, found := room.FindMember(connectionID); found {
		return JoinResult{
			MemberID: m.MemberID,
			Members:  room.MemberIDs(),
			Peers:    room.ConnectionIDs(connectionID),
		}, nil
	}

	if r.opts.MaxMembers > 0 && len(room.Members) >= r.opts.MaxMembers {
		return JoinResult{}, domain.ErrRoomFull
	}

	member := domain.Member{
		ConnectionID: connectionID,
		MemberID:     domain.NewMemberID(displayName),
		DisplayName:  domain.SanitizeDisplayName(displayName),
		JoinedAt:     r.opts.Now(),
	}
	room.Members = append(room.Members, member)
	room.EmptySince = time.Time{}

	return JoinResult{
		MemberID: member.MemberID,
		Members:  room.MemberIDs(),
		Peers:    room.ConnectionIDs(connectionID),
		Created:  created,
	}, nil
}

// Leave 移除成員與 typing 狀態, 房間空了不會自動刪除 (由呼叫端決定)
func (r *RoomRegistry) Leave(code, connectionID string) (LeaveResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[code]
	if !ok {
		return LeaveResult{}, false
	}
	member, idx, found := room.FindMember(connectionID)
	if !found {
		return LeaveResult{}, false
	}

	room.Members = append(room.Members[:idx], room.Members[idx+1:]...)

	typingChanged := pkg.Contains(room.Typing, member.MemberID)
	if typingChanged {
		room.Typing = pkg.Remove(room.Typing, member.MemberID)
	}

	empty := len(room.Members) == 0
	if empty {
		room.EmptySince = r.opts.Now()
	}

	return LeaveResult{
		MemberID:      member.MemberID,
		Members:       room.MemberIDs(),
		Recipients:    room.ConnectionIDs(""),
		Typing:        copyStrings(room.Typing),
		TypingChanged: typingChanged,
		Empty:         empty,
	}, true
}

// SetTyping 更新 typing 集合, 回傳完整集合與房間內所有連線
func (r *RoomRegistry) SetTyping(code, memberID string, isTyping bool) (TypingResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[code]
	if !ok || !pkg.Contains(room.MemberIDs(), memberID) {
		return TypingResult{}, false
	}

	before := len(room.Typing)
	if isTyping {
		room.Typing = pkg.AppendIfNotExists(room.Typing, memberID)
	} else {
		room.Typing = pkg.Remove(room.Typing, memberID)
	}

	return TypingResult{
		Typing:     copyStrings(room.Typing),
		Recipients: room.ConnectionIDs(""),
		Changed:    before != len(room.Typing),
	}, true
}

// Peers 房間內除了 exceptConnectionID 以外的連線
func (r *RoomRegistry) Peers(code, exceptConnectionID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[code]
	if !ok {
		return nil
	}
	return room.ConnectionIDs(exceptConnectionID)
}

// Recipients 房間內所有連線
func (r *RoomRegistry) Recipients(code string) []string {
	return r.Peers(code, "")
}

// Members 房間內所有 member id
func (r *RoomRegistry) Members(code string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[code]
	if !ok {
		return nil
	}
	return room.MemberIDs()
}

// IsMember connection 是否在房間內
func (r *RoomRegistry) IsMember(code, connectionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[code]
	if !ok {
		return false
	}
	_, _, found := room.FindMember(connectionID)
	return found
}

// Destroy 刪除房間
func (r *RoomRegistry) Destroy(code string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rooms[code]; !ok {
		return false
	}
	delete(r.rooms, code)
	return true
}

// DestroyIfEmpty 房間仍然沒有成員時才刪除
func (r *RoomRegistry) DestroyIfEmpty(code string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[code]
	if !ok || len(room.Members) > 0 {
		return false
	}
	delete(r.rooms, code)
	return true
}

// Exists 只讀, 不會建立房間
func (r *RoomRegistry) Exists(code string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.rooms[code]
	return ok
}

// Create 不存在時建立, 回傳是否為新建
func (r *RoomRegistry) Create(code string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rooms[code]; ok {
		return false
	}
	r.rooms[code] = r.newRoom(code)
	return true
}

// Count 目前房間數
func (r *RoomRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// EvictIdle 刪除沒有成員且閒置超過 ttl 的房間
func (r *RoomRegistry) EvictIdle(now time.Time, ttl time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted []string
	for code, room := range r.rooms {
		if len(room.Members) > 0 || room.EmptySince.IsZero() {
			continue
		}
		if now.Sub(room.EmptySince) >= ttl {
			delete(r.rooms, code)
			evicted = append(evicted, code)
		}
	}
	return evicted
}

func (r *RoomRegistry) newRoom(code string) *domain.Room {
	now := r.opts.Now()
	return &domain.Room{
		Code:       code,
		CreatedAt:  now,
		EmptySince: now,
	}
}

func copyStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
