// =============================================================================
// 文件: internal/timer/registry.go
// 描述: 重传定时器表 - 每个序列号一个可取消的单次定时器
// =============================================================================
package timer

import (
	"sync"
	"time"
)

// Callback 定时器到期回调
type Callback func(seq uint32)

// entry 一次 Start 对应一个 entry，回调用指针比较判断自己是否已过期
type entry struct {
	t *time.Timer
}

// Registry 定时器表
type Registry struct {
	timers  map[uint32]*entry
	stopped bool
	fired   uint64
	mu      sync.Mutex
}

// New 创建定时器表
func New() *Registry {
	return &Registry{
		timers: make(map[uint32]*entry),
	}
}

// Start 为 seq 启动定时器，已存在的定时器会被替换
// Stop 之后调用为空操作
func (r *Registry) Start(seq uint32, d time.Duration, fn Callback) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return
	}

	if old, ok := r.timers[seq]; ok {
		old.t.Stop()
	}

	e := &entry{}
	e.t = time.AfterFunc(d, func() {
		r.mu.Lock()
		// 已被取消或替换
		if cur, ok := r.timers[seq]; !ok || cur != e {
			r.mu.Unlock()
			return
		}
		delete(r.timers, seq)
		r.fired++
		r.mu.Unlock()

		fn(seq)
	})
	r.timers[seq] = e
}

// Cancel 取消 seq 的定时器，返回 true 表示移除了一个仍有效的定时器
func (r *Registry) Cancel(seq uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.timers[seq]
	if !ok {
		return false
	}
	e.t.Stop()
	delete(r.timers, seq)
	return true
}

// active seq 是否有待触发的定时器
func (r *Registry) active(seq uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.timers[seq]
	return ok
}

// Len 待触发定时器数量
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}

// Fired 已触发次数
func (r *Registry) Fired() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fired
}

// Stop 取消所有定时器，此后 Start 不再生效
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stopped = true
	for seq, e := range r.timers {
		e.t.Stop()
		delete(r.timers, seq)
	}
}
