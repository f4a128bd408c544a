package errprocess

import (
	"errors"
	"testing"

	"ephemeral_chat_service/pkg/logger"

	"github.com/stretchr/testify/assert"
)

func TestWrap(t *testing.T) {
	logger.SetNewNop()
	base := errors.New("dial refused")

	err := Wrap("connect", base)
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "connect: dial refused", err.Error())

	assert.NoError(t, Wrap("connect", nil))
}

func TestSet(t *testing.T) {
	logger.SetNewNop()
	assert.EqualError(t, Set("room not found"), "room not found")
}
