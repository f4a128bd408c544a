package client

import (
	"sync"
	"time"
)

// DefaultTypingIdle 停止輸入多久後自動送出 typing=false
const DefaultTypingIdle = 1500 * time.Millisecond

// TypingDebouncer 每次狀態轉換只送一次, 閒置後自動清除
type TypingDebouncer struct {
	mu     sync.Mutex
	idle   time.Duration
	send   func(isTyping bool)
	typing bool
	timer  *time.Timer
	gen    uint64
}

// NewTypingDebouncer create TypingDebouncer
func NewTypingDebouncer(idle time.Duration, send func(isTyping bool)) *TypingDebouncer {
	if idle <= 0 {
		idle = DefaultTypingIdle
	}
	return &TypingDebouncer{idle: idle, send: send}
}

// Keystroke 使用者輸入
func (d *TypingDebouncer) Keystroke() {
	d.mu.Lock()
	start := !d.typing
	d.typing = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = time.AfterFunc(d.idle, func() { d.expire(gen) })
	d.mu.Unlock()

	if start {
		d.send(true)
	}
}

// Stop 送出訊息或閒置時呼叫
func (d *TypingDebouncer) Stop() {
	d.mu.Lock()
	wasTyping := d.typing
	d.typing = false
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()

	if wasTyping {
		d.send(false)
	}
}

// expire 只處理最後一次 Keystroke 設定的 timer
func (d *TypingDebouncer) expire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || !d.typing {
		d.mu.Unlock()
		return
	}
	d.typing = false
	d.timer = nil
	d.mu.Unlock()

	d.send(false)
}

// IsTyping 目前狀態
func (d *TypingDebouncer) IsTyping() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.typing
}
