package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig[Relay]("relay_service", t.TempDir(), RelayDefaults())
	require.NoError(t, err)

	assert.Equal(t, "3001", cfg.Port)
	assert.Equal(t, 3*time.Second, cfg.Room.EmptyRoomGrace)
	assert.Equal(t, 10*time.Minute, cfg.Room.EmptyRoomTTL)
	assert.Equal(t, 64, cfg.Socket.SendBuffer)
	assert.Equal(t, int64(1<<20), cfg.Socket.MaxMessageBytes)
	assert.Equal(t, 100, cfg.RateLimit.Max)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.Empty(t, cfg.Redis.Addr)
}

func TestLoadConfig_YAMLWithEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := `port: "4000"
room:
  max_members: 8
  empty_room_grace: 500ms
redis:
  addr: "${TEST_REDIS_ADDR}"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "relay_service.yaml"), []byte(yaml), 0644))
	t.Setenv("TEST_REDIS_ADDR", "redis:6379")

	cfg, err := LoadConfig[Relay]("relay_service", dir, RelayDefaults())
	require.NoError(t, err)

	assert.Equal(t, "4000", cfg.Port)
	assert.Equal(t, 8, cfg.Room.MaxMembers)
	assert.Equal(t, 500*time.Millisecond, cfg.Room.EmptyRoomGrace)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	// yaml 沒寫的 key 仍然是 default
	assert.Equal(t, time.Minute, cfg.Room.JanitorInterval)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("ROOM_MAX_MEMBERS", "3")

	cfg, err := LoadConfig[Relay]("relay_service", t.TempDir(), RelayDefaults())
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Room.MaxMembers)
}

func TestLoadConfig_ChatClient(t *testing.T) {
	cfg, err := LoadConfig[ChatClient]("chat_client", t.TempDir(), ChatClientDefaults())
	require.NoError(t, err)

	assert.Equal(t, "ws://localhost:3001/socket", cfg.URL)
	assert.Equal(t, 5, cfg.MaxReconnectAttempts)
	assert.Equal(t, time.Second, cfg.ReconnectDelay)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
}

func TestLoadConfig_BrokenYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "relay_service.yaml"), []byte("port: [oops"), 0644))

	_, err := LoadConfig[Relay]("relay_service", dir, RelayDefaults())
	assert.Error(t, err)
}

func TestGetPath(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "marker.txt"), nil, 0644))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(nested))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	path, err := GetPath("marker.txt", 5)
	require.NoError(t, err)
	assert.Equal(t, "../.././marker.txt", path)

	_, err = GetPath("missing.txt", 2)
	assert.Error(t, err)
}
