package handlers

import (
	"errors"
	"time"

	"ephemeral_chat_service/internal/relay/domain"
	"ephemeral_chat_service/internal/relay/repository"
	"ephemeral_chat_service/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// 新 room code 撞號時重試次數
const mintAttempts = 5

// ConnectionCounter 目前連線數, relay hub 實作
type ConnectionCounter interface {
	Count() int
}

// CheckRoomRes check-room 回應
type CheckRoomRes struct {
	Exists bool `json:"exists"`
}

// CreateRoomRes create-room 回應, 只有 mint 時帶 roomId
type CreateRoomRes struct {
	Success bool   `json:"success"`
	Created bool   `json:"created"`
	RoomID  string `json:"roomId,omitempty"`
}

// HealthRes 服務狀態
type HealthRes struct {
	Status      string  `json:"status"`
	Uptime      float64 `json:"uptime"`
	Rooms       int     `json:"rooms"`
	Connections int     `json:"connections"`
}

// ErrorRes 錯誤回應
type ErrorRes struct {
	Error string `json:"error"`
}

// RoomHandler 房間相關的 HTTP 请求, 與 relay 共用同一個 registry
type RoomHandler struct {
	rooms   repository.RoomRepository
	conns   ConnectionCounter
	started time.Time
}

// NewRoomHandler 创建 RoomHandler
func NewRoomHandler(rooms repository.RoomRepository, conns ConnectionCounter) *RoomHandler {
	return &RoomHandler{
		rooms:   rooms,
		conns:   conns,
		started: time.Now(),
	}
}

// CheckRoom 查詢房間是否存在, 不會建立房間
// @Summary 查詢房間
// @Description 只讀取, 不會建立房間
// @Tags Rooms
// @Produce json
// @Param roomId path string true "room code, 4-8 碼英數字"
// @Success 200 {object} CheckRoomRes
// @Failure 400 {object} ErrorRes "room code 格式錯誤"
// @Failure 429 {object} ErrorRes "請求過多"
// @Router /api/check-room/{roomId} [get]
func (h *RoomHandler) CheckRoom(c *fiber.Ctx) error {
	code, err := domain.NormalizeRoomCode(c.Params("roomId"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorRes{Error: err.Error()})
	}
	return c.JSON(CheckRoomRes{Exists: h.rooms.Exists(code)})
}

// CreateRoom 不存在時建立, 已存在回 created=false
// @Summary 建立指定房間
// @Description 房間已存在時 created=false, 不是錯誤
// @Tags Rooms
// @Produce json
// @Param roomId path string true "room code, 4-8 碼英數字"
// @Success 200 {object} CreateRoomRes
// @Failure 400 {object} ErrorRes "room code 格式錯誤"
// @Failure 429 {object} ErrorRes "請求過多"
// @Router /api/create-room/{roomId} [post]
func (h *RoomHandler) CreateRoom(c *fiber.Ctx) error {
	code, err := domain.NormalizeRoomCode(c.Params("roomId"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorRes{Error: err.Error()})
	}

	created := h.rooms.Create(code)
	logger.Log.Info("create room", zap.String("room", code), zap.Bool("created", created))
	return c.JSON(CreateRoomRes{Success: true, Created: created})
}

// MintRoom 產生新的 room code 並建立
// @Summary 產生新房間
// @Tags Rooms
// @Produce json
// @Success 200 {object} CreateRoomRes
// @Failure 429 {object} ErrorRes "請求過多"
// @Failure 500 {object} ErrorRes "無法產生 room code"
// @Router /api/create-room [post]
func (h *RoomHandler) MintRoom(c *fiber.Ctx) error {
	for i := 0; i < mintAttempts; i++ {
		code := domain.NewRoomCode()
		if h.rooms.Create(code) {
			logger.Log.Info("mint room", zap.String("room", code))
			return c.JSON(CreateRoomRes{Success: true, Created: true, RoomID: code})
		}
	}
	return fiber.NewError(fiber.StatusInternalServerError, "could not allocate a room code")
}

// Health 服務狀態
// @Summary 服務狀態
// @Tags System
// @Produce json
// @Success 200 {object} HealthRes
// @Router /api/health [get]
func (h *RoomHandler) Health(c *fiber.Ctx) error {
	connections := 0
	if h.conns != nil {
		connections = h.conns.Count()
	}
	return c.JSON(HealthRes{
		Status:      "ok",
		Uptime:      time.Since(h.started).Seconds(),
		Rooms:       h.rooms.Count(),
		Connections: connections,
	})
}

// ErrorHandler fiber 錯誤統一回 JSON
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := "internal server error"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		msg = fe.Message
	}
	if code >= fiber.StatusInternalServerError {
		logger.Log.Error("request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err))
	}
	return c.Status(code).JSON(ErrorRes{Error: msg})
}
