package client

import (
	"fmt"
	"testing"
	"time"

	"ephemeral_chat_service/internal/relay/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Add(d time.Duration) { c.now = c.now.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 4, 12, 0, 0, 0, time.Local)}
}

func userMsg(id, user, text string, ts int64) Message {
	return Message{ID: id, Kind: domain.MessageKindUser, UserID: user, Text: text, Timestamp: ts}
}

func ids(msgs []Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func assertUniqueIDs(t *testing.T, msgs []Message) {
	t.Helper()
	seen := map[string]bool{}
	for _, m := range msgs {
		assert.False(t, seen[m.ID], "duplicate id %s", m.ID)
		seen[m.ID] = true
	}
}

func TestReconciler_AppendRemoteDedup(t *testing.T) {
	r := NewReconciler(MergeHeuristic, newClock().Now)

	assert.True(t, r.AppendRemote(userMsg("m1", "bob_1", "hi", 1)))
	assert.False(t, r.AppendRemote(userMsg("m1", "bob_1", "hi", 1)))
	assert.Len(t, r.Messages(), 1)

	r.AppendLocal(userMsg("m2", "me_1", "yo", 2))
	assert.False(t, r.AppendRemote(userMsg("m2", "me_1", "yo", 2)))
	msgs := r.Messages()
	require.Len(t, msgs, 2)
	assert.True(t, msgs[1].IsSent)
	assert.False(t, msgs[0].IsSent)
}

// seen set 只保留最近 SeenCapacity 個 id, 最舊的先淘汰
func TestReconciler_SeenSetBounded(t *testing.T) {
	r := NewReconciler(MergeHeuristic, newClock().Now)

	total := SeenCapacity * 3
	msgIDs := make([]string, 0, total)
	for i := 0; i < total; i++ {
		id := fmt.Sprintf("msg_%d_aaaaaaaaa", i)
		msgIDs = append(msgIDs, id)
		require.True(t, r.AppendRemote(userMsg(id, "bob_1", "x", int64(i))))
		require.LessOrEqual(t, r.seen.Len(), SeenCapacity)
	}
	assert.Equal(t, SeenCapacity, r.seen.Len())
	assert.False(t, r.seen.Contains(msgIDs[0]))
	assert.False(t, r.seen.Contains(msgIDs[total-SeenCapacity-1]))
	assert.True(t, r.seen.Contains(msgIDs[total-SeenCapacity]))

	// 最近的 id 仍然去重
	assert.False(t, r.AppendRemote(userMsg(msgIDs[total-1], "bob_1", "x", 0)))
	// 已淘汰的 id 不再視為重複
	assert.True(t, r.AppendRemote(userMsg(msgIDs[0], "bob_1", "x", 0)))
	assert.Len(t, r.Messages(), total+1)
}

func TestReconciler_AddSelfJoinedOncePerDay(t *testing.T) {
	clock := newClock()
	r := NewReconciler(MergeHeuristic, clock.Now)

	assert.True(t, r.AddSelfJoined())
	clock.Add(time.Hour)
	assert.False(t, r.AddSelfJoined())

	clock.Add(24 * time.Hour)
	assert.True(t, r.AddSelfJoined())
	assert.Len(t, r.Messages(), 2)
}

func TestReconciler_AddLeftNoticeGuards(t *testing.T) {
	clock := newClock()
	r := NewReconciler(MergeHeuristic, clock.Now)

	// 斷線 + 主動離開的重複事件
	assert.True(t, r.AddLeftNotice("bob_abc"))
	assert.False(t, r.AddLeftNotice("bob_abc"))

	// 超過 window 仍有同樣的 notice
	clock.Add(10 * time.Second)
	assert.False(t, r.AddLeftNotice("bob_abc"))

	// 不同成員不受影響
	assert.True(t, r.AddLeftNotice("carol_def"))

	msgs := r.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "bob left the chat", msgs[0].Text)
	assert.Equal(t, NoticeLeft, msgs[0].Notice)
	assert.Equal(t, domain.MessageKindSystem, msgs[0].Kind)
}

func TestReconciler_AddJoinNotice(t *testing.T) {
	r := NewReconciler(MergeHeuristic, newClock().Now)
	r.AddJoinNotice("bob_abc")

	msgs := r.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "bob joined the chat", msgs[0].Text)
	assert.Equal(t, NoticeJoined, msgs[0].Notice)
}

// 本地沒有使用者訊息時直接取代, 保留今天的 banner
func TestReconciler_MergeReplaceWhenEmpty(t *testing.T) {
	clock := newClock()
	r := NewReconciler(MergeHeuristic, clock.Now)
	r.AddSelfJoined()
	r.AddJoinNotice("bob_1")

	ts := clock.now.UnixMilli()
	r.MergeHistory([]Message{
		userMsg("m1", "bob_1", "a", ts-2000),
		userMsg("m2", "bob_1", "b", ts-1000),
	})

	msgs := r.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"m1", "m2"}, ids(msgs[:2]))
	assert.Equal(t, NoticeSelfJoined, msgs[2].Notice)
}

// server 比較多或比較新時取代
func TestReconciler_MergeReplaceWhenHistoryLarger(t *testing.T) {
	r := NewReconciler(MergeHeuristic, newClock().Now)
	r.AppendRemote(userMsg("m2", "bob_1", "b", 20))

	r.MergeHistory([]Message{
		userMsg("m1", "bob_1", "a", 10),
		userMsg("m2", "bob_1", "b", 20),
		userMsg("m3", "bob_1", "c", 30),
	})
	assert.Equal(t, []string{"m1", "m2", "m3"}, ids(r.Messages()))
}

func TestReconciler_MergeReplaceWhenHistoryNewer(t *testing.T) {
	r := NewReconciler(MergeHeuristic, newClock().Now)
	r.AppendRemote(userMsg("m1", "bob_1", "a", 10))
	r.AppendRemote(userMsg("m2", "bob_1", "b", 20))

	r.MergeHistory([]Message{userMsg("m9", "bob_1", "z", 99)})
	assert.Equal(t, []string{"m9"}, ids(r.Messages()))
}

// 本地比較完整時, 只補上未知的 id 放在前面
func TestReconciler_MergePrependUnknown(t *testing.T) {
	r := NewReconciler(MergeHeuristic, newClock().Now)
	r.AppendRemote(userMsg("m2", "bob_1", "b", 20))
	r.AppendRemote(userMsg("m3", "bob_1", "c", 30))

	r.MergeHistory([]Message{
		userMsg("m1", "bob_1", "a", 10),
		userMsg("m3", "bob_1", "c", 30),
	})
	assert.Equal(t, []string{"m1", "m2", "m3"}, ids(r.Messages()))
}

// 同一份 payload 套用兩次不會重複
func TestReconciler_MergeIdempotent(t *testing.T) {
	clock := newClock()
	history := []Message{
		userMsg("m1", "bob_1", "a", 10),
		userMsg("m2", "bob_1", "b", 20),
		userMsg("m2", "bob_1", "b", 20),
	}

	for _, strategy := range []MergeStrategy{MergeHeuristic, MergeUnion} {
		r := NewReconciler(strategy, clock.Now)
		r.AddSelfJoined()
		r.AppendLocal(userMsg("m5", "me_1", "mine", 5))

		r.MergeHistory(history)
		first := ids(r.Messages())
		r.MergeHistory(history)

		assert.Equal(t, first, ids(r.Messages()))
		assertUniqueIDs(t, r.Messages())
	}
}

func TestReconciler_MergeUnion(t *testing.T) {
	r := NewReconciler(MergeUnion, newClock().Now)
	r.AppendRemote(userMsg("b", "bob_1", "late", 30))
	r.AppendLocal(userMsg("c", "me_1", "mine", 20))

	r.MergeHistory([]Message{
		userMsg("a", "bob_1", "early", 10),
		userMsg("d", "bob_1", "tie", 20),
	})
	assert.Equal(t, []string{"a", "c", "d", "b"}, ids(r.Messages()))
}

func TestReconciler_Reset(t *testing.T) {
	r := NewReconciler(MergeHeuristic, newClock().Now)
	r.AppendRemote(userMsg("m1", "bob_1", "a", 10))
	r.AddLeftNotice("bob_1")
	r.Reset()

	assert.Empty(t, r.Messages())
	assert.True(t, r.AppendRemote(userMsg("m1", "bob_1", "a", 10)))
	assert.True(t, r.AddLeftNotice("bob_1"))
}
