package domain

import "errors"

// ErrorCode error event code
type ErrorCode string

const (
	// CodeInvalidRoom room code 格式錯誤
	CodeInvalidRoom ErrorCode = "invalid-room"
	// CodeRoomFull 房間人數已滿
	CodeRoomFull ErrorCode = "room-full"
	// CodeNotInRoom 尚未加入房間
	CodeNotInRoom ErrorCode = "not-in-room"
	// CodeInvalidPayload payload 無法解析或缺少欄位
	CodeInvalidPayload ErrorCode = "invalid-payload"
	// CodeUnknownEvent 不認識的 event
	CodeUnknownEvent ErrorCode = "unknown-event"
)

var (
	// ErrInvalidRoomCode room code 必須是 4-8 碼英數字
	ErrInvalidRoomCode = errors.New("room code must be 4-8 alphanumeric characters")
	// ErrRoomFull room is full
	ErrRoomFull = errors.New("room is full")
	// ErrNotInRoom connection has not joined a room
	ErrNotInRoom = errors.New("connection has not joined a room")
	// ErrInvalidPayload invalid payload
	ErrInvalidPayload = errors.New("invalid payload")
	// ErrRoomNotFound room not found
	ErrRoomNotFound = errors.New("room not found")
)

// CodeOf 對應 error event 的 code
func CodeOf(err error) ErrorCode {
	switch {
	case errors.Is(err, ErrInvalidRoomCode):
		return CodeInvalidRoom
	case errors.Is(err, ErrRoomFull):
		return CodeRoomFull
	case errors.Is(err, ErrNotInRoom), errors.Is(err, ErrRoomNotFound):
		return CodeNotInRoom
	default:
		return CodeInvalidPayload
	}
}
