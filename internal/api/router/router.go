package router

import (
	_ "ephemeral_chat_service/docs"
	"ephemeral_chat_service/internal/api/handlers"
	"ephemeral_chat_service/pkg/middlewares"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/swagger"
)

// HealthPath 不受 rate limit 限制
const HealthPath = "/api/health"

// RegisterRoutes 注册房間相關的路由
// @title Ephemeral Chat Relay API
// @version 1.0
// @description Room gateway for the ephemeral chat relay
// @host localhost:3001
// @BasePath /
func RegisterRoutes(app *fiber.App, roomHandler *handlers.RoomHandler, limit middlewares.RateLimitConfig) {
	app.Get("/swagger/*", swagger.HandlerDefault)
	app.Get("/", handlers.ConnectCheck)
	app.Post("/debug", handlers.DebugLogFlag)

	limit.SkipPaths = append(limit.SkipPaths, HealthPath)

	api := app.Group("/api", middlewares.RateLimiter(limit))
	api.Get("/health", roomHandler.Health)
	api.Get("/check-room/:roomId", roomHandler.CheckRoom)
	api.Post("/create-room", roomHandler.MintRoom)
	api.Post("/create-room/:roomId", roomHandler.CreateRoom)
}
