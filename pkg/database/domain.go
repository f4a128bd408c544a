package database

import "time"

// RedisConnection definition redis setting
type RedisConnection struct {
	Addr     string
	Password string
	DB       int

	RetryCount    int
	RetryInterval time.Duration
}
