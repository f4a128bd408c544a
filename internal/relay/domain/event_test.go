package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelope_WireFormat(t *testing.T) {
	env, err := NewEnvelope(EventJoinRoom, JoinRoomPayload{RoomID: "ab12cd", UserName: "alice"})
	require.NoError(t, err)

	raw, err := json.Marshal(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"join-room","data":{"roomId":"ab12cd","userName":"alice"}}`, string(raw))
}

func TestEnvelope_DecodeMissingFields(t *testing.T) {
	// 缺少 users 陣列不算錯誤
	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(`{"event":"user-left","data":{"userId":"bob_1"}}`), &env))

	var p PresencePayload
	require.NoError(t, env.Decode(&p))
	assert.Equal(t, "bob_1", p.UserID)
	assert.Nil(t, p.Users)

	// 沒有 data
	var destroyed Envelope
	require.NoError(t, json.Unmarshal([]byte(`{"event":"chat-destroyed"}`), &destroyed))
	var d ChatDestroyedPayload
	assert.NoError(t, destroyed.Decode(&d))

	// data 型別錯誤
	var bad Envelope
	require.NoError(t, json.Unmarshal([]byte(`{"event":"users-typing","data":{"userIds":"x"}}`), &bad))
	var typing UsersTypingPayload
	assert.Error(t, bad.Decode(&typing))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeInvalidRoom, CodeOf(ErrInvalidRoomCode))
	assert.Equal(t, CodeRoomFull, CodeOf(fmt.Errorf("join: %w", ErrRoomFull)))
	assert.Equal(t, CodeNotInRoom, CodeOf(ErrNotInRoom))
	assert.Equal(t, CodeInvalidPayload, CodeOf(errors.New("boom")))
}
