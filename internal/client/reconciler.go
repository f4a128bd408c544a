package client

import (
	"fmt"
	"sort"
	"time"

	"ephemeral_chat_service/internal/relay/domain"

	lru "github.com/hashicorp/golang-lru"
)

const (
	// SeenCapacity dedup 用的 message id 上限, 超過時淘汰最舊的
	SeenCapacity = 100
	// LeftDedupWindow 同一個成員的 left notice 在這段時間內只出現一次
	LeftDedupWindow = 5 * time.Second

	selfJoinedText = "You joined the chat"
)

// MergeStrategy load-old-messages 的合併方式
type MergeStrategy int

const (
	// MergeHeuristic 依數量與最新時間判斷哪一邊比較完整
	MergeHeuristic MergeStrategy = iota
	// MergeUnion 取聯集後依 timestamp, id 排序
	MergeUnion
)

// Reconciler 本地訊息序列, 不是 goroutine safe, 由 ConnectionManager 的鎖保護
type Reconciler struct {
	messages []Message
	seen     *lru.Cache
	leftAt   map[string]time.Time
	strategy MergeStrategy
	now      func() time.Time
}

// NewReconciler create Reconciler
func NewReconciler(strategy MergeStrategy, now func() time.Time) *Reconciler {
	if now == nil {
		now = time.Now
	}
	seen, err := lru.New(SeenCapacity)
	if err != nil {
		// 只有 size <= 0 才會失敗
		panic(err)
	}
	return &Reconciler{
		seen:     seen,
		leftAt:   make(map[string]time.Time),
		strategy: strategy,
		now:      now,
	}
}

// Messages 目前序列的副本
func (r *Reconciler) Messages() []Message {
	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// UserMessages 只包含使用者訊息
func (r *Reconciler) UserMessages() []Message {
	var out []Message
	for _, m := range r.messages {
		if m.IsUser() {
			out = append(out, m)
		}
	}
	return out
}

// Find find message by id
func (r *Reconciler) Find(id string) (Message, bool) {
	if i := r.indexOf(id); i >= 0 {
		return r.messages[i], true
	}
	return Message{}, false
}

// AppendLocal 自己送出的訊息 (optimistic)
func (r *Reconciler) AppendLocal(m Message) {
	m.IsSent = true
	r.seen.Add(m.ID, struct{}{})
	r.messages = append(r.messages, m)
}

// AppendRemote 收到的訊息, 重複 id 回傳 false
// 只比對最近 SeenCapacity 個 id
func (r *Reconciler) AppendRemote(m Message) bool {
	if r.seen.Contains(m.ID) {
		return false
	}
	r.seen.Add(m.ID, struct{}{})
	r.messages = append(r.messages, m)
	return true
}

// AddSelfJoined 同一天同樣的 banner 只加一次
func (r *Reconciler) AddSelfJoined() bool {
	now := r.now()
	for _, m := range r.messages {
		if m.Notice == NoticeSelfJoined && m.Text == selfJoinedText && sameDay(m.Timestamp, now) {
			return false
		}
	}
	r.appendSystem(NoticeSelfJoined, "", selfJoinedText)
	return true
}

// AddJoinNotice 其他成員加入
func (r *Reconciler) AddJoinNotice(memberID string) {
	r.appendSystem(NoticeJoined, memberID, fmt.Sprintf("%s joined the chat", domain.DisplayName(memberID)))
}

// AddLeftNotice 重複的 left 事件 (斷線 + 主動離開) 只留一筆
func (r *Reconciler) AddLeftNotice(memberID string) bool {
	now := r.now()
	if at, ok := r.leftAt[memberID]; ok && now.Sub(at) < LeftDedupWindow {
		return false
	}
	r.leftAt[memberID] = now

	text := fmt.Sprintf("%s left the chat", domain.DisplayName(memberID))
	for _, m := range r.messages {
		if m.Notice == NoticeLeft && m.UserID == memberID && m.Text == text {
			return false
		}
	}
	r.appendSystem(NoticeLeft, memberID, text)
	return true
}

// MergeHistory 合併 replay 的訊息, 同一份 payload 套用多次不會產生重複 id
func (r *Reconciler) MergeHistory(history []Message) {
	history = uniqueByID(history)

	if r.strategy == MergeUnion {
		r.union(history)
		return
	}

	localUser := r.UserMessages()
	if len(localUser) == 0 || len(history) > len(localUser) || maxTimestamp(history) > maxTimestamp(localUser) {
		r.replace(history)
		return
	}
	r.prependUnknown(history)
}

// Reset 清空所有狀態
func (r *Reconciler) Reset() {
	r.messages = nil
	r.seen.Purge()
	r.leftAt = make(map[string]time.Time)
}

// replace 以 history 為準, 只保留今天的 self-joined banner
func (r *Reconciler) replace(history []Message) {
	now := r.now()
	next := make([]Message, 0, len(history)+1)
	next = append(next, history...)
	for _, m := range r.messages {
		if m.Notice == NoticeSelfJoined && sameDay(m.Timestamp, now) {
			next = append(next, m)
		}
	}
	sort.SliceStable(next, func(i, j int) bool {
		return next[i].Timestamp < next[j].Timestamp
	})

	r.messages = next
	r.rebuildSeen()
}

// prependUnknown 只補上本地沒有的 id, replay 都是比較舊的訊息所以放在前面
func (r *Reconciler) prependUnknown(history []Message) {
	var unknown []Message
	for _, m := range history {
		if r.indexOf(m.ID) < 0 {
			unknown = append(unknown, m)
		}
	}
	if len(unknown) == 0 {
		return
	}
	r.messages = append(unknown, r.messages...)
	for _, m := range unknown {
		r.seen.Add(m.ID, struct{}{})
	}
}

func (r *Reconciler) union(history []Message) {
	for _, m := range history {
		if r.indexOf(m.ID) < 0 {
			r.messages = append(r.messages, m)
		}
	}
	sort.SliceStable(r.messages, func(i, j int) bool {
		a, b := r.messages[i], r.messages[j]
		if a.Timestamp != b.Timestamp {
			return a.Timestamp < b.Timestamp
		}
		return a.ID < b.ID
	})
	r.rebuildSeen()
}

func (r *Reconciler) appendSystem(notice Notice, memberID, text string) {
	now := r.now()
	m := Message{
		ID:        fmt.Sprintf("sys_%s_%d_%s", notice, now.UnixMilli(), domain.RandomSuffix()),
		Kind:      domain.MessageKindSystem,
		Notice:    notice,
		UserID:    memberID,
		Text:      text,
		Timestamp: now.UnixMilli(),
	}
	r.seen.Add(m.ID, struct{}{})
	r.messages = append(r.messages, m)
}

func (r *Reconciler) indexOf(id string) int {
	for i := range r.messages {
		if r.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (r *Reconciler) rebuildSeen() {
	r.seen.Purge()
	for _, m := range r.messages {
		r.seen.Add(m.ID, struct{}{})
	}
}

func uniqueByID(in []Message) []Message {
	seen := make(map[string]struct{}, len(in))
	out := make([]Message, 0, len(in))
	for _, m := range in {
		if m.ID == "" {
			continue
		}
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	return out
}

func maxTimestamp(msgs []Message) int64 {
	var latest int64
	for _, m := range msgs {
		if m.Timestamp > latest {
			latest = m.Timestamp
		}
	}
	return latest
}

func sameDay(ms int64, now time.Time) bool {
	t := time.UnixMilli(ms).In(now.Location())
	y1, m1, d1 := t.Date()
	y2, m2, d2 := now.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}
