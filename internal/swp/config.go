// =============================================================================
// 文件: internal/swp/config.go
// 描述: 滑动窗口端点配置与选项
// =============================================================================
package swp

import (
	"errors"
	"fmt"
	"time"

	"github.com/mrcgq/swp/internal/dedup"
	"github.com/mrcgq/swp/internal/logger"
	"github.com/mrcgq/swp/internal/protocol"
)

// 错误定义
var (
	ErrClosed        = errors.New("端点已关闭")
	ErrInvalidConfig = errors.New("无效的 SWP 配置")
)

// 默认参数
const (
	DefaultWindowSize        = 5
	DefaultRetransmitTimeout = time.Second
)

// Config 端点配置
type Config struct {
	MaxSegmentSize    int           // 每段最大负载字节数，不超过 protocol.MaxSegmentSize
	WindowSize        int           // 在途段 / 缓冲段上限
	RetransmitTimeout time.Duration // 单段重传超时
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		MaxSegmentSize:    protocol.MaxSegmentSize,
		WindowSize:        DefaultWindowSize,
		RetransmitTimeout: DefaultRetransmitTimeout,
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.MaxSegmentSize < 1 || c.MaxSegmentSize > protocol.MaxSegmentSize {
		return fmt.Errorf("%w: max_segment_size 必须在 1-%d 之间，当前 %d",
			ErrInvalidConfig, protocol.MaxSegmentSize, c.MaxSegmentSize)
	}
	if c.WindowSize < 1 {
		return fmt.Errorf("%w: window_size 必须 >= 1，当前 %d", ErrInvalidConfig, c.WindowSize)
	}
	if c.RetransmitTimeout <= 0 {
		return fmt.Errorf("%w: retransmit_timeout 必须 > 0", ErrInvalidConfig)
	}
	return nil
}

// =============================================================================
// 选项
// =============================================================================

type options struct {
	log   *logger.Logger
	id    string
	dedup *dedup.Filter
}

// Option 端点选项
type Option func(*options)

// WithLogger 设置日志器，组件名会被替换为 Sender / Receiver
func WithLogger(l *logger.Logger) Option {
	return func(o *options) {
		o.log = l
	}
}

// WithID 指定端点 ID (默认随机 UUID)
func WithID(id string) Option {
	return func(o *options) {
		o.id = id
	}
}

// WithDedupFilter 指定接收端的重传到达过滤器
func WithDedupFilter(f *dedup.Filter) Option {
	return func(o *options) {
		o.dedup = f
	}
}

// shortID 日志里使用的短 ID
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
