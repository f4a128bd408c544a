package router

import (
	"context"
	"strings"

	"ephemeral_chat_service/internal/relay/app"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// SocketPath websocket endpoint
const SocketPath = "/socket"

// RegisterRoutes 註冊 websocket 路由, ctx 結束時所有連線會被關閉
func RegisterRoutes(ctx context.Context, r *fiber.App, relayWebsocket *app.RelayWebsocketHandler, allowedOrigins string) {
	r.Use(SocketPath, func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	r.Get(SocketPath, websocket.New(func(c *websocket.Conn) {
		relayWebsocket.HandleConnection(ctx, c)
	}, websocket.Config{
		Origins: splitOrigins(allowedOrigins),
	}))
}

func splitOrigins(origins string) []string {
	var out []string
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
