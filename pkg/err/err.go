package errprocess

import (
	"errors"
	"fmt"

	"ephemeral_chat_service/pkg/logger"

	"go.uber.org/zap"
)

// Set set err info
func Set(errMsg string) error {
	logger.Log.Error(errMsg)
	return errors.New(errMsg)
}

// Wrap 記錄並包裝錯誤, err 為 nil 時回傳 nil
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	logger.Log.Error(op, zap.Error(err))
	return fmt.Errorf("%s: %w", op, err)
}
