package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"ephemeral_chat_service/internal/client"
	"ephemeral_chat_service/internal/relay/domain"
	"ephemeral_chat_service/pkg/config"
	"ephemeral_chat_service/pkg/encrypt"
	"ephemeral_chat_service/pkg/logger"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.LoadConfig[config.ChatClient](config.EnvConfig.ChatClient, config.EnvConfig.ChatClientYAMLPath, config.ChatClientDefaults())
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	url := flag.String("url", cfg.URL, "relay websocket url")
	room := flag.String("room", "", "room code (4-8 alphanumeric)")
	name := flag.String("name", "anonymous", "display name")
	secret := flag.String("secret", cfg.Secret, "optional shared secret mixed into the room key")
	debug := flag.Bool("debug", false, "print debug logs")
	flag.Parse()

	// log 只寫檔案, 避免干擾終端輸出
	if config.EnvConfig.ChatClientLogPath != "" {
		logger.Log = logger.Initialize(config.EnvConfig.ChatClient, config.EnvConfig.ChatClientLogPath)
		logger.Log.SetDebugMode(*debug)
	}
	defer logger.Log.Sync()

	code, err := domain.NormalizeRoomCode(*room)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -room: %v\n", err)
		os.Exit(2)
	}
	cipher, err := encrypt.NewRoomCipher(code, *secret)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cipher: %v\n", err)
		os.Exit(1)
	}

	m, err := client.NewConnectionManager(client.Options{
		Room:     code,
		UserName: *name,
		Transport: client.NewWebsocketTransport(*url, client.TransportOptions{
			HandshakeTimeout: cfg.ConnectTimeout,
			PingInterval:     cfg.PingInterval,
			PingTimeout:      cfg.PingTimeout,
		}),
		Cipher:               cipher,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectDelay:    cfg.MaxReconnectDelay,
		ConnectTimeout:       cfg.ConnectTimeout,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "client: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := m.Start(ctx); err != nil {
		logger.Log.Fatal("start client", zap.Error(err))
	}
	fmt.Printf("room %s as %s via %s\n", code, domain.SanitizeDisplayName(*name), *url)
	fmt.Println("commands: /typing, /reply <id> <text>, /visible, /quit")

	go render(ctx, m)

	typing := client.NewTypingDebouncer(client.DefaultTypingIdle, func(isTyping bool) {
		m.SendTyping(isTyping)
	})

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			if !handleLine(m, typing, strings.TrimSpace(line)) {
				break loop
			}
		}
	}

	typing.Stop()
	m.Close()
	fmt.Println("bye")
}

// handleLine 回傳 false 表示結束
func handleLine(m *client.ConnectionManager, typing *client.TypingDebouncer, line string) bool {
	switch {
	case line == "":
		return true
	case line == "/quit":
		return false
	case line == "/typing":
		typing.Keystroke()
	case line == "/visible":
		m.SetVisible(true)
	case strings.HasPrefix(line, "/reply "):
		parts := strings.SplitN(strings.TrimPrefix(line, "/reply "), " ", 2)
		if len(parts) != 2 {
			fmt.Println("usage: /reply <id> <text>")
			return true
		}
		typing.Stop()
		if !m.Send(parts[1], parts[0]) {
			fmt.Println("not connected, message dropped")
		}
	default:
		typing.Stop()
		if !m.Send(line, "") {
			fmt.Println("not connected, message dropped")
		}
	}
	return true
}

// render 只印出新的訊息與狀態變化
func render(ctx context.Context, m *client.ConnectionManager) {
	printed := map[string]bool{}
	var lastStatus, lastTyping, lastErr string

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.Updates():
		}

		s := m.State()
		status := fmt.Sprintf("-- %s (health: %s, users: %d)", s.Phase, s.Health, len(s.Users))
		if s.Destroyed {
			status += " room destroyed"
		}
		if status != lastStatus {
			fmt.Println(status)
			lastStatus = status
		}

		for _, msg := range s.Messages {
			if printed[msg.ID] {
				continue
			}
			printed[msg.ID] = true
			fmt.Println(formatMessage(msg))
		}

		typing := ""
		if len(s.UsersTyping) > 0 {
			names := make([]string, 0, len(s.UsersTyping))
			for _, id := range s.UsersTyping {
				names = append(names, domain.DisplayName(id))
			}
			typing = "* " + strings.Join(names, ", ") + " typing..."
		}
		if typing != lastTyping {
			if typing != "" {
				fmt.Println(typing)
			}
			lastTyping = typing
		}
		if s.LastError != lastErr {
			if s.LastError != "" {
				fmt.Println("!! " + s.LastError)
			}
			lastErr = s.LastError
		}
	}
}

func formatMessage(msg client.Message) string {
	ts := time.UnixMilli(msg.Timestamp).Format("15:04:05")
	if !msg.IsUser() {
		return fmt.Sprintf("[%s] * %s", ts, msg.Text)
	}

	who := domain.DisplayName(msg.UserID)
	if msg.IsSent {
		who = "you"
	}
	out := fmt.Sprintf("[%s] %s: %s  (%s)", ts, who, msg.Text, msg.ID)
	if msg.ReplyTo != nil {
		out = fmt.Sprintf("    > %s: %s\n%s", domain.DisplayName(msg.ReplyTo.UserID), msg.ReplyTo.Text, out)
	}
	return out
}
