package domain

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	nanoid "github.com/jaevor/go-nanoid"
)

const (
	// RoomCodeMinLen room code 最短長度
	RoomCodeMinLen = 4
	// RoomCodeMaxLen room code 最長長度
	RoomCodeMaxLen = 8
	// NewRoomCodeLen 新建 room code 的長度
	NewRoomCodeLen = 6
	// MaxDisplayNameLen display name 上限 (rune)
	MaxDisplayNameLen = 32

	suffixLen      = 9
	codeAlphabet   = "abcdefghijklmnopqrstuvwxyz0123456789"
	anonymousName  = "anonymous"
	memberIDSep    = "_"
	messageIDStart = "msg_"
)

var roomCodePattern = regexp.MustCompile(`^[a-z0-9]{4,8}$`)

// nanoid generator 不保證 goroutine safe, 用 mutex 包起來
type idSource struct {
	mu  sync.Mutex
	gen func() string
}

func newIDSource(length int) *idSource {
	gen, err := nanoid.CustomASCII(codeAlphabet, length)
	if err != nil {
		panic(fmt.Sprintf("nanoid generator: %v", err))
	}
	return &idSource{gen: gen}
}

func (s *idSource) next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen()
}

var (
	suffixSource   = newIDSource(suffixLen)
	roomCodeSource = newIDSource(NewRoomCodeLen)
)

// NormalizeRoomCode 去空白並轉小寫, 格式不符回傳 ErrInvalidRoomCode
func NormalizeRoomCode(code string) (string, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	if !roomCodePattern.MatchString(code) {
		return "", ErrInvalidRoomCode
	}
	return code, nil
}

// NewRoomCode 產生新的 room code
func NewRoomCode() string {
	return roomCodeSource.next()
}

// RandomSuffix 9 碼隨機字串
func RandomSuffix() string {
	return suffixSource.next()
}

// SanitizeDisplayName 去空白, 截斷, 空字串改為 anonymous
func SanitizeDisplayName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return anonymousName
	}
	if utf8.RuneCountInString(name) > MaxDisplayNameLen {
		name = string([]rune(name)[:MaxDisplayNameLen])
	}
	return name
}

// NewMemberID {displayName}_{randomSuffix}
func NewMemberID(displayName string) string {
	return SanitizeDisplayName(displayName) + memberIDSep + RandomSuffix()
}

// DisplayName 從 member id 取回 display name
func DisplayName(memberID string) string {
	i := strings.LastIndex(memberID, memberIDSep)
	if i <= 0 {
		return memberID
	}
	return memberID[:i]
}

// NewMessageID msg_{timestamp}_{randomSuffix}, 由發送端 client 產生
func NewMessageID(now time.Time) string {
	return fmt.Sprintf("%s%d_%s", messageIDStart, now.UnixMilli(), RandomSuffix())
}

// Member 房間成員, ConnectionID 是 bookkeeping 的 key
type Member struct {
	ConnectionID string
	MemberID     string
	DisplayName  string
	JoinedAt     time.Time
}

// Room 記憶體中的房間, 不持久化
type Room struct {
	Code       string
	Members    []Member
	Typing     []string
	CreatedAt  time.Time
	EmptySince time.Time
}

// MemberIDs 依加入順序
func (r *Room) MemberIDs() []string {
	ids := make([]string, 0, len(r.Members))
	for _, m := range r.Members {
		ids = append(ids, m.MemberID)
	}
	return ids
}

// ConnectionIDs 依加入順序, except 不為空時排除該連線
func (r *Room) ConnectionIDs(except string) []string {
	ids := make([]string, 0, len(r.Members))
	for _, m := range r.Members {
		if m.ConnectionID != except {
			ids = append(ids, m.ConnectionID)
		}
	}
	return ids
}

// FindMember find member by connection id
func (r *Room) FindMember(connectionID string) (Member, int, bool) {
	for i, m := range r.Members {
		if m.ConnectionID == connectionID {
			return m, i, true
		}
	}
	return Member{}, -1, false
}
