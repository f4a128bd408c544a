package app

import (
	"ephemeral_chat_service/internal/relay/domain"

	"github.com/stretchr/testify/mock"
)

// MockEmitter Mock Emitter
type MockEmitter struct {
	mock.Mock
}

// Emit mock emit event
func (m *MockEmitter) Emit(connectionIDs []string, event domain.Event, payload interface{}) {
	m.Called(connectionIDs, event, payload)
}

// SentEvent 實際有收件人的 Emit
type SentEvent struct {
	IDs     []string
	Event   domain.Event
	Payload interface{}
}

// Sent 回傳有收件人的 Emit 紀錄
func (m *MockEmitter) Sent() []SentEvent {
	var out []SentEvent
	for _, c := range m.Calls {
		if c.Method != "Emit" {
			continue
		}
		ids, _ := c.Arguments.Get(0).([]string)
		if len(ids) == 0 {
			continue
		}
		out = append(out, SentEvent{IDs: ids, Event: c.Arguments.Get(1).(domain.Event), Payload: c.Arguments.Get(2)})
	}
	return out
}

// To 指定連線收到的某個 event, 依送出順序
func (m *MockEmitter) To(connectionID string, event domain.Event) []interface{} {
	var out []interface{}
	for _, s := range m.Sent() {
		if s.Event != event {
			continue
		}
		for _, id := range s.IDs {
			if id == connectionID {
				out = append(out, s.Payload)
				break
			}
		}
	}
	return out
}

// Reset 清除紀錄
func (m *MockEmitter) Reset() {
	m.Calls = nil
}

func newMockEmitter() *MockEmitter {
	m := new(MockEmitter)
	m.On("Emit", mock.Anything, mock.Anything, mock.Anything).Return()
	return m
}
