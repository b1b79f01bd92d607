// =============================================================================
// 文件: internal/metrics/metrics.go
// 描述: 传输统计 - 进程内计数，用于健康检查和退出时的汇总
// =============================================================================
package metrics

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// Transfer 传输统计
type Transfer struct {
	messages  uint64
	bytes     uint64
	startTime time.Time
	lastUnix  int64 // 最近一条消息的时间 (UnixNano)
}

// NewTransfer 创建传输统计
func NewTransfer() *Transfer {
	return &Transfer{startTime: time.Now()}
}

// Add 记录一条消息
func (t *Transfer) Add(n int) {
	atomic.AddUint64(&t.messages, 1)
	atomic.AddUint64(&t.bytes, uint64(n))
	atomic.StoreInt64(&t.lastUnix, time.Now().UnixNano())
}

// Messages 消息数
func (t *Transfer) Messages() uint64 {
	return atomic.LoadUint64(&t.messages)
}

// Bytes 字节数
func (t *Transfer) Bytes() uint64 {
	return atomic.LoadUint64(&t.bytes)
}

// GetUptime 运行时间
func (t *Transfer) GetUptime() time.Duration {
	return time.Since(t.startTime)
}

// LastActivity 最近一条消息的时间，尚无消息时为零值
func (t *Transfer) LastActivity() time.Time {
	n := atomic.LoadInt64(&t.lastUnix)
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Rate 平均速率 (字节/秒)
func (t *Transfer) Rate() float64 {
	secs := t.GetUptime().Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(t.Bytes()) / secs
}

// Summary 人类可读的汇总
func (t *Transfer) Summary() string {
	return fmt.Sprintf("%s 条消息, %s, 用时 %s, 平均 %s/s",
		humanize.Comma(int64(t.Messages())),
		humanize.IBytes(t.Bytes()),
		t.GetUptime().Round(time.Millisecond),
		humanize.IBytes(uint64(t.Rate())))
}

// GetStats 获取所有统计信息
func (t *Transfer) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"uptime":   t.GetUptime().String(),
		"messages": t.Messages(),
		"bytes":    t.Bytes(),
		"rate":     humanize.IBytes(uint64(t.Rate())) + "/s",
	}
}
