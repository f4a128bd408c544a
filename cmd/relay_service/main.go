package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"ephemeral_chat_service/internal/api/handlers"
	apirouter "ephemeral_chat_service/internal/api/router"
	"ephemeral_chat_service/internal/relay/app"
	"ephemeral_chat_service/internal/relay/repository"
	relayrouter "ephemeral_chat_service/internal/relay/router"
	"ephemeral_chat_service/pkg/config"
	"ephemeral_chat_service/pkg/database"
	errprocess "ephemeral_chat_service/pkg/err"
	"ephemeral_chat_service/pkg/logger"
	"ephemeral_chat_service/pkg/middlewares"
	testtool "ephemeral_chat_service/pkg/test_tool"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiber_log "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logger.Log = logger.Initialize(config.EnvConfig.RelayService, config.EnvConfig.RelayServiceLogPath)
	defer logger.Log.Sync()

	cfg, err := config.LoadConfig[config.Relay](config.EnvConfig.RelayService, config.EnvConfig.RelayServiceYAMLPath, config.RelayDefaults())
	if err != nil {
		logger.Log.Fatal("load config", zap.Error(err))
	}
	if config.EnvConfig.RelayServicePort != "" {
		cfg.Port = config.EnvConfig.RelayServicePort
	}

	// 1. 房間 registry, relay 與 http gateway 共用
	rooms := repository.NewRoomRegistry(repository.RegistryOptions{MaxMembers: cfg.Room.MaxMembers})
	hub := app.NewHub(cfg.Socket.SendBuffer)
	relayUC := app.NewRelayUseCase(rooms, hub, app.RelayOptions{EmptyRoomGrace: cfg.Room.EmptyRoomGrace})

	// 2. rate limit storage, 沒有設定 redis 時使用記憶體
	limit := middlewares.RateLimitConfig{Max: cfg.RateLimit.Max, Window: cfg.RateLimit.Window}
	var redisStorage *database.RedisStorage
	if cfg.Redis.Addr != "" {
		client, err := database.NewRedisClient(database.RedisConnection{
			Addr:          cfg.Redis.Addr,
			Password:      cfg.Redis.Password,
			DB:            cfg.Redis.RedisDB,
			RetryCount:    cfg.Redis.RetryCount,
			RetryInterval: cfg.Redis.RetryInterval,
		})
		if err != nil {
			logger.Log.Fatal("connect redis", zap.Error(errprocess.Wrap("rate limit storage", err)))
		}
		redisStorage = database.NewRedisStorage(client, cfg.Redis.Prefix)
		limit.Storage = redisStorage
		logger.Log.Info("rate limit storage: redis", zap.String("addr", cfg.Redis.Addr))
	}

	// 3. Fiber
	r := fiber.New(fiber.Config{
		ErrorHandler:          handlers.ErrorHandler,
		DisableStartupMessage: config.IsProduction(),
	})
	r.Use(recover.New())
	r.Use(fiber_log.New(fiber_log.Config{
		Output: accessLogOutput(config.EnvConfig.RelayServiceLogPath),
	}))
	r.Use(cors.New(cors.Config{AllowOrigins: cfg.AllowedOrigins}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	apirouter.RegisterRoutes(r, handlers.NewRoomHandler(rooms, hub), limit)
	relayrouter.RegisterRoutes(ctx, r, app.NewRelayWebsocketHandler(hub, relayUC, app.SocketOptions{
		PingInterval:    cfg.Socket.PingInterval,
		PingTimeout:     cfg.Socket.PingTimeout,
		MaxMessageBytes: cfg.Socket.MaxMessageBytes,
	}), cfg.AllowedOrigins)

	go relayUC.Janitor(ctx, cfg.Room.JanitorInterval, cfg.Room.EmptyRoomTTL)
	testtool.StartPprof(cfg.PprofAddr)

	go func() {
		logger.Log.Info("relay service listening", zap.String("port", cfg.Port))
		if err := r.Listen(":" + cfg.Port); err != nil {
			logger.Log.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"relay": func(ctx context.Context) error {
				logger.Log.Info("Graceful shutdown initiated...")
				// 先關閉 websocket, 再停止 http
				cancel()
				relayUC.Close()
				return r.ShutdownWithContext(ctx)
			},
			"redis": func(ctx context.Context) error {
				if redisStorage == nil {
					return nil
				}
				return redisStorage.Close()
			},
		},
	)

	exitCode := <-wait
	logger.Log.Info("relay service exited", zap.Int("code", exitCode))
	logger.Log.Sync()
	os.Exit(exitCode)
}

// accessLogOutput 有 log 目錄時寫入 access.log, 否則輸出到 stdout
func accessLogOutput(logDir string) io.Writer {
	if logDir == "" {
		return os.Stdout
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		logger.Log.Fatal("create log dir", zap.Error(err))
	}
	file, err := os.OpenFile(filepath.Join(logDir, "access.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		logger.Log.Fatal("Failed to open access log", zap.Error(err))
	}
	return file
}
