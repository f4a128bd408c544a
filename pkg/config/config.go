package config

import "time"

// Relay definition relay_service YAML structure
type Relay struct {
	Port           string          `mapstructure:"port"`
	AllowedOrigins string          `mapstructure:"allowed_origins"`
	PprofAddr      string          `mapstructure:"pprof_addr"`
	Room           RoomConfig      `mapstructure:"room"`
	Socket         SocketConfig    `mapstructure:"socket"`
	RateLimit      RateLimitConfig `mapstructure:"rate_limit"`
	Redis          RedisConfig     `mapstructure:"redis"`
}

// RoomConfig definition room lifecycle setting
type RoomConfig struct {
	// MaxMembers 0 表示不限制
	MaxMembers      int           `mapstructure:"max_members"`
	EmptyRoomGrace  time.Duration `mapstructure:"empty_room_grace"`
	EmptyRoomTTL    time.Duration `mapstructure:"empty_room_ttl"`
	JanitorInterval time.Duration `mapstructure:"janitor_interval"`
}

// SocketConfig definition websocket transport setting
type SocketConfig struct {
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
	SendBuffer      int           `mapstructure:"send_buffer"`
	MaxMessageBytes int64         `mapstructure:"max_message_bytes"`
}

// RateLimitConfig definition fixed window limit per IP
type RateLimitConfig struct {
	Max    int           `mapstructure:"max"`
	Window time.Duration `mapstructure:"window"`
}

// RedisConfig definition redis setting, Addr 為空時使用記憶體
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	RedisDB  int    `mapstructure:"redis_db"`
	Prefix   string `mapstructure:"prefix"`

	RetryCount    int           `mapstructure:"retry_count"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

// ChatClient definition chat_client YAML structure
type ChatClient struct {
	URL                  string        `mapstructure:"url"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
	ReconnectDelay       time.Duration `mapstructure:"reconnect_delay"`
	MaxReconnectDelay    time.Duration `mapstructure:"max_reconnect_delay"`
	ConnectTimeout       time.Duration `mapstructure:"connect_timeout"`
	PingInterval         time.Duration `mapstructure:"ping_interval"`
	PingTimeout          time.Duration `mapstructure:"ping_timeout"`
	Secret               string        `mapstructure:"secret"`
}

// RelayDefaults default value for relay_service
func RelayDefaults() map[string]interface{} {
	return map[string]interface{}{
		"port":                     "3001",
		"allowed_origins":          "*",
		"pprof_addr":               "localhost:6060",
		"room.max_members":         0,
		"room.empty_room_grace":    "3s",
		"room.empty_room_ttl":      "10m",
		"room.janitor_interval":    "1m",
		"socket.ping_interval":     "25s",
		"socket.ping_timeout":      "20s",
		"socket.send_buffer":       64,
		"socket.max_message_bytes": 1 << 20,
		"rate_limit.max":           100,
		"rate_limit.window":        "1m",
		"redis.addr":               "",
		"redis.redis_db":           0,
		"redis.prefix":             "ratelimit:",
		"redis.retry_count":        3,
		"redis.retry_interval":     "2s",
	}
}

// ChatClientDefaults default value for chat_client
func ChatClientDefaults() map[string]interface{} {
	return map[string]interface{}{
		"url":                    "ws://localhost:3001/socket",
		"max_reconnect_attempts": 5,
		"reconnect_delay":        "1s",
		"max_reconnect_delay":    "5s",
		"connect_timeout":        "10s",
		"ping_interval":          "25s",
		"ping_timeout":           "20s",
		"secret":                 "",
	}
}
