package router

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ephemeral_chat_service/internal/api/handlers"
	"ephemeral_chat_service/internal/relay/repository"
	"ephemeral_chat_service/pkg/logger"
	"ephemeral_chat_service/pkg/middlewares"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedCounter int

func (f fixedCounter) Count() int { return int(f) }

func newTestApp(max int) (*fiber.App, *repository.RoomRegistry) {
	logger.SetNewNop()
	rooms := repository.NewRoomRegistry(repository.RegistryOptions{})
	app := fiber.New(fiber.Config{ErrorHandler: handlers.ErrorHandler})
	RegisterRoutes(app, handlers.NewRoomHandler(rooms, fixedCounter(2)), middlewares.RateLimitConfig{
		Max:    max,
		Window: time.Minute,
	})
	return app, rooms
}

func doJSON(t *testing.T, app *fiber.App, method, path string) (int, map[string]interface{}) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(method, path, nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]interface{}{}
	if len(body) > 0 {
		require.NoError(t, json.Unmarshal(body, &out), string(body))
	}
	return resp.StatusCode, out
}

// 測試 check / create 流程
func TestRoutes_CheckAndCreate(t *testing.T) {
	app, rooms := newTestApp(100)

	status, body := doJSON(t, app, http.MethodGet, "/api/check-room/AB12CD")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["exists"])
	// check 不會建立房間
	assert.Equal(t, 0, rooms.Count())

	status, body = doJSON(t, app, http.MethodPost, "/api/create-room/AB12CD")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, true, body["created"])

	status, body = doJSON(t, app, http.MethodPost, "/api/create-room/ab12cd")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, false, body["created"])

	status, body = doJSON(t, app, http.MethodGet, "/api/check-room/ab12cd")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["exists"])
}

func TestRoutes_InvalidRoomCode(t *testing.T) {
	app, rooms := newTestApp(100)

	for _, path := range []string{"/api/check-room/ab", "/api/check-room/waytoolongcode", "/api/check-room/ab-12"} {
		status, body := doJSON(t, app, http.MethodGet, path)
		assert.Equal(t, http.StatusBadRequest, status, path)
		assert.NotEmpty(t, body["error"], path)
	}
	status, _ := doJSON(t, app, http.MethodPost, "/api/create-room/a_b_c")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, 0, rooms.Count())
}

func TestRoutes_MintRoom(t *testing.T) {
	app, rooms := newTestApp(100)

	status, body := doJSON(t, app, http.MethodPost, "/api/create-room")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["created"])
	code, ok := body["roomId"].(string)
	require.True(t, ok)
	assert.Regexp(t, `^[a-z0-9]{6}$`, code)
	assert.True(t, rooms.Exists(code))
}

func TestRoutes_Health(t *testing.T) {
	app, rooms := newTestApp(100)
	rooms.Create("ab12cd")

	status, body := doJSON(t, app, http.MethodGet, "/api/health")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(1), body["rooms"])
	assert.Equal(t, float64(2), body["connections"])
	assert.Contains(t, body, "uptime")
}

// 超過限制回 429, health 不計數
func TestRoutes_RateLimit(t *testing.T) {
	app, _ := newTestApp(2)

	for i := 0; i < 2; i++ {
		status, _ := doJSON(t, app, http.MethodGet, "/api/check-room/ab12cd")
		assert.Equal(t, http.StatusOK, status)
	}
	status, body := doJSON(t, app, http.MethodGet, "/api/check-room/ab12cd")
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.NotEmpty(t, body["error"])

	status, _ = doJSON(t, app, http.MethodGet, HealthPath)
	assert.Equal(t, http.StatusOK, status)
}

func TestRoutes_DebugFlag(t *testing.T) {
	app, _ := newTestApp(100)

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/debug?status=true", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, logger.Log.IsDebugMode())

	resp, err = app.Test(httptest.NewRequest(http.MethodPost, "/debug?status=maybe", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRoutes_NotFoundIsJSON(t *testing.T) {
	app, _ := newTestApp(100)

	status, body := doJSON(t, app, http.MethodGet, "/api/nope")
	assert.Equal(t, http.StatusNotFound, status)
	assert.NotEmpty(t, body["error"])
}

// swagger 文件包含所有 /api 路由
func TestRoutes_SwaggerDoc(t *testing.T) {
	app, _ := newTestApp(100)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/swagger/doc.json", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var doc struct {
		Paths map[string]interface{} `json:"paths"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	for _, path := range []string{"/api/check-room/{roomId}", "/api/create-room", "/api/create-room/{roomId}", "/api/health"} {
		assert.Contains(t, doc.Paths, path)
	}
}

// 指定 code 建立時不帶 roomId
func TestRoutes_CreateRoomOmitsRoomID(t *testing.T) {
	app, _ := newTestApp(100)

	status, body := doJSON(t, app, http.MethodPost, "/api/create-room/ab12cd")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])
	assert.NotContains(t, body, "roomId")
}
