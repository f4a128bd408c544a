package client

import "time"

// HealthLevel 連線品質
type HealthLevel string

const (
	HealthOffline   HealthLevel = "offline"
	HealthPoor      HealthLevel = "poor"
	HealthGood      HealthLevel = "good"
	HealthExcellent HealthLevel = "excellent"
)

// 門檻
const (
	poorSilence    = 60 * time.Second
	poorRTT        = time.Second
	poorReconnects = 3

	goodSilence = 30 * time.Second
	goodRTT     = 300 * time.Millisecond

	// ReconnectWindow 只計算這段時間內的重連次數
	ReconnectWindow = 5 * time.Minute
)

// HealthStats 評估連線品質需要的數據
type HealthStats struct {
	Connected bool
	// LastMessageAt 最後一次收到 server frame 的時間, zero 表示尚未收到
	LastMessageAt    time.Time
	RecentReconnects int
	RTT              time.Duration
}

// EvaluateHealth 只讀取 stats, 不改變任何狀態
func EvaluateHealth(s HealthStats, now time.Time) HealthLevel {
	if !s.Connected {
		return HealthOffline
	}

	var silence time.Duration
	if !s.LastMessageAt.IsZero() {
		silence = now.Sub(s.LastMessageAt)
	}

	switch {
	case silence > poorSilence || s.RTT > poorRTT || s.RecentReconnects >= poorReconnects:
		return HealthPoor
	case silence > goodSilence || s.RTT > goodRTT || s.RecentReconnects > 0:
		return HealthGood
	default:
		return HealthExcellent
	}
}
