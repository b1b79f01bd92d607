// =============================================================================
// 文件: internal/transport/lossy.go
// 描述: 丢包模拟链路 - 按概率丢弃或重复发出的数据报
// =============================================================================
package transport

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

// LossyOptions 丢包参数
type LossyOptions struct {
	LossProbability      float64 // [0,1) 丢弃概率
	DuplicateProbability float64 // [0,1) 重复发送概率
	Seed                 int64   // 0 表示使用当前时间
}

// LossyLink 包装任意 Link，在发送方向上模拟丢包和重复
type LossyLink struct {
	Link

	opts LossyOptions
	rng  *rand.Rand
	mu   sync.Mutex

	dropped    uint64
	duplicated uint64
}

// NewLossyLink 创建丢包模拟链路
func NewLossyLink(inner Link, opts LossyOptions) *LossyLink {
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &LossyLink{
		Link: inner,
		opts: opts,
		rng:  rand.New(rand.NewSource(seed)),
	}
}

func (l *LossyLink) roll() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rng.Float64()
}

// Send 按概率丢弃，丢弃时仍返回 nil (对调用方不可见)
func (l *LossyLink) Send(data []byte) error {
	if l.opts.LossProbability > 0 && l.roll() < l.opts.LossProbability {
		atomic.AddUint64(&l.dropped, 1)
		return nil
	}

	if err := l.Link.Send(data); err != nil {
		return err
	}

	if l.opts.DuplicateProbability > 0 && l.roll() < l.opts.DuplicateProbability {
		atomic.AddUint64(&l.duplicated, 1)
		return l.Link.Send(data)
	}
	return nil
}

// Dropped 已丢弃数量
func (l *LossyLink) Dropped() uint64 {
	return atomic.LoadUint64(&l.dropped)
}

// Duplicated 已重复数量
func (l *LossyLink) Duplicated() uint64 {
	return atomic.LoadUint64(&l.duplicated)
}
