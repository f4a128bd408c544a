package domain

import "encoding/json"

// Event websocket event name
type Event string

const (
	// EventConnected S→C transport session id
	EventConnected Event = "connected"
	// EventJoinRoom C→S join intent
	EventJoinRoom Event = "join-room"
	// EventJoinedRoom S→C join ack with assigned identity
	EventJoinedRoom Event = "joined-room"
	// EventUserJoined S→C presence delta
	EventUserJoined Event = "user-joined"
	// EventUserLeft S→C presence delta
	EventUserLeft Event = "user-left"
	// EventSendMessage C→S relay intent
	EventSendMessage Event = "send-message"
	// EventReceiveMessage S→C fan-out to peers only
	EventReceiveMessage Event = "receive-message"
	// EventUserTyping C→S typing toggle
	EventUserTyping Event = "user-typing"
	// EventUsersTyping S→C full current typing set
	EventUsersTyping Event = "users-typing"
	// EventRequestOldMessages C→S replay request, S→C forwarded to peers
	EventRequestOldMessages Event = "request-old-messages"
	// EventShareOldMessages C→S peer answer to a replay request
	EventShareOldMessages Event = "share-old-messages"
	// EventLoadOldMessages S→C replay payload
	EventLoadOldMessages Event = "load-old-messages"
	// EventLeaveRoom C→S explicit leave
	EventLeaveRoom Event = "leave-room"
	// EventChatDestroyed S→C room teardown notice
	EventChatDestroyed Event = "chat-destroyed"
	// EventError S→C request could not be served
	EventError Event = "error"
)

// Envelope 每個 websocket frame 的外層
type Envelope struct {
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshal payload into an Envelope
func NewEnvelope(event Event, payload interface{}) (Envelope, error) {
	env := Envelope{Event: event}
	if payload == nil {
		return env, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return env, err
	}
	env.Data = data
	return env, nil
}

// Decode 解析 Data; 空 Data 不算錯誤, 欄位保持零值
func (e Envelope) Decode(v interface{}) error {
	if len(e.Data) == 0 || string(e.Data) == "null" {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

// ConnectedPayload connected
type ConnectedPayload struct {
	ID string `json:"id"`
}

// JoinRoomPayload join-room
type JoinRoomPayload struct {
	RoomID   string `json:"roomId"`
	UserName string `json:"userName"`
}

// PresencePayload joined-room / user-joined / user-left
type PresencePayload struct {
	UserID string   `json:"userId"`
	Users  []string `json:"users"`
}

// ReplyRef 回覆的目標訊息 (sender 與密文片段為冗餘資料)
type ReplyRef struct {
	ID            string `json:"id"`
	UserID        string `json:"userId"`
	EncryptedText string `json:"encryptedText,omitempty"`
}

// SendMessagePayload send-message
type SendMessagePayload struct {
	EncryptedData string    `json:"encryptedData"`
	UserID        string    `json:"userId"`
	MessageID     string    `json:"messageId"`
	ReplyTo       *ReplyRef `json:"replyTo,omitempty"`
	Timestamp     int64     `json:"timestamp,omitempty"`
}

// ReceiveMessagePayload receive-message
type ReceiveMessagePayload SendMessagePayload

// TypingPayload user-typing
type TypingPayload struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// UsersTypingPayload users-typing
type UsersTypingPayload struct {
	UserIDs []string `json:"userIds"`
}

// RequestOldMessagesPayload request-old-messages
// RequesterID 只在 server 轉發給其他成員時帶上
type RequestOldMessagesPayload struct {
	RoomID      string `json:"roomId"`
	UserID      string `json:"userId"`
	RequesterID string `json:"requesterId,omitempty"`
}

// HistoryRecord 重播用的訊息, 內容仍是密文
type HistoryRecord struct {
	ID            string      `json:"id"`
	Type          MessageKind `json:"type"`
	UserID        string      `json:"userId"`
	EncryptedData string      `json:"encryptedData"`
	ReplyTo       *ReplyRef   `json:"replyTo,omitempty"`
	Timestamp     int64       `json:"timestamp"`
}

// ShareOldMessagesPayload share-old-messages
type ShareOldMessagesPayload struct {
	RequesterID string          `json:"requesterId"`
	Messages    []HistoryRecord `json:"messages"`
}

// LoadOldMessagesPayload load-old-messages
type LoadOldMessagesPayload struct {
	Messages []HistoryRecord `json:"messages"`
}

// LeaveRoomPayload leave-room
type LeaveRoomPayload struct {
	RoomID   string `json:"roomId"`
	UserName string `json:"userName"`
}

// ChatDestroyedPayload chat-destroyed
type ChatDestroyedPayload struct {
	RoomID string `json:"roomId"`
}

// ErrorPayload error
type ErrorPayload struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}
