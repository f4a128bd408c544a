package domain

// MessageKind message type
type MessageKind string

const (
	// MessageKindSystem 系統訊息 (加入/離開)
	MessageKindSystem MessageKind = "system"
	// MessageKindUser 使用者訊息, 內容為密文
	MessageKindUser MessageKind = "user"
)
