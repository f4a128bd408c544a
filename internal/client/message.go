package client

import "ephemeral_chat_service/internal/relay/domain"

// Notice system message 的種類
type Notice string

const (
	// NoticeSelfJoined 自己加入的 banner, 每天只出現一次
	NoticeSelfJoined Notice = "self-joined"
	// NoticeJoined 其他成員加入
	NoticeJoined Notice = "joined"
	// NoticeLeft 其他成員離開
	NoticeLeft Notice = "left"
)

// Reply 被回覆訊息的預覽 (已解密)
type Reply struct {
	ID     string
	UserID string
	Text   string
}

// Message 本地訊息, Text 為明文
type Message struct {
	ID        string
	Kind      domain.MessageKind
	Notice    Notice
	UserID    string
	Text      string
	ReplyTo   *Reply
	Timestamp int64
	IsSent    bool
}

// IsUser 是否為使用者訊息
func (m Message) IsUser() bool {
	return m.Kind == domain.MessageKindUser
}
