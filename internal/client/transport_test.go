package client

import (
	"context"
	"net"
	"testing"
	"time"

	"ephemeral_chat_service/internal/relay/app"
	"ephemeral_chat_service/internal/relay/repository"
	relayrouter "ephemeral_chat_service/internal/relay/router"
	"ephemeral_chat_service/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startRelayServer(t *testing.T) string {
	t.Helper()
	logger.SetNewNop()

	hub := app.NewHub(32)
	relay := app.NewRelayUseCase(repository.NewRoomRegistry(repository.RegistryOptions{}), hub, app.RelayOptions{})
	handler := app.NewRelayWebsocketHandler(hub, relay, app.SocketOptions{})

	f := fiber.New(fiber.Config{DisableStartupMessage: true})
	ctx, cancel := context.WithCancel(context.Background())
	relayrouter.RegisterRoutes(ctx, f, handler, "*")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = f.Listener(ln) }()

	t.Cleanup(func() {
		cancel()
		_ = f.Shutdown()
		relay.Close()
	})
	return "ws://" + ln.Addr().String() + relayrouter.SocketPath
}

func newLiveManager(t *testing.T, url, name string) *ConnectionManager {
	t.Helper()
	m, err := NewConnectionManager(Options{
		Room:      "ab12cd",
		UserName:  name,
		Transport: NewWebsocketTransport(url, TransportOptions{PingInterval: 50 * time.Millisecond}),
	})
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(m.Close)
	return m
}

// 兩個 client 經過真實的 relay 互傳加密訊息
func TestWebsocketTransport_EndToEnd(t *testing.T) {
	url := startRelayServer(t)

	alice := newLiveManager(t, url, "alice")
	eventually(t, alice, func(s State) bool { return s.Phase == PhaseJoined })

	bob := newLiveManager(t, url, "bob")
	eventually(t, bob, func(s State) bool { return s.Phase == PhaseJoined && len(s.Users) == 2 })
	eventually(t, alice, func(s State) bool { return len(s.Users) == 2 })

	require.True(t, alice.Send("hello bob", ""))
	s := eventually(t, bob, func(s State) bool {
		for _, m := range s.Messages {
			if m.IsUser() && m.Text == "hello bob" {
				return true
			}
		}
		return false
	})
	assert.Equal(t, HealthExcellent, s.Health)

	// alice 不會收到自己的 echo
	time.Sleep(50 * time.Millisecond)
	count := 0
	for _, m := range alice.State().Messages {
		if m.Text == "hello bob" {
			count++
		}
	}
	assert.Equal(t, 1, count)

	// bob 主動離開, alice 看到 left notice
	bob.Close()
	s = eventually(t, alice, func(s State) bool { return len(s.Users) == 1 })
	last := s.Messages[len(s.Messages)-1]
	assert.Equal(t, NoticeLeft, last.Notice)
}

func TestWebsocketTransport_DialError(t *testing.T) {
	tr := NewWebsocketTransport("ws://127.0.0.1:1/socket", TransportOptions{HandshakeTimeout: 200 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := tr.Dial(ctx)
	assert.Error(t, err)
}
