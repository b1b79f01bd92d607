// =============================================================================
// 文件: internal/transport/pipe.go
// 描述: 内存链路 - 一对互联的端点，可挂过滤器模拟丢包/重复/乱序
// =============================================================================
package transport

import (
	"sync"
	"sync/atomic"
)

// pipeQueueSize 每个方向的缓冲数据报数量，满时按丢包处理
const pipeQueueSize = 4096

// Filter 出方向过滤器: 返回实际投递的数据报 (空表示丢弃)
type Filter func(data []byte) [][]byte

// PipeEnd 内存链路端点
type PipeEnd struct {
	in   chan []byte
	peer *PipeEnd

	filter   Filter
	filterMu sync.RWMutex

	done      chan struct{}
	closeOnce sync.Once

	sent    uint64
	dropped uint64
}

// Pipe 创建一对互联端点
func Pipe() (*PipeEnd, *PipeEnd) {
	a := &PipeEnd{in: make(chan []byte, pipeQueueSize), done: make(chan struct{})}
	b := &PipeEnd{in: make(chan []byte, pipeQueueSize), done: make(chan struct{})}
	a.peer, b.peer = b, a
	return a, b
}

// SetFilter 设置出方向过滤器，nil 表示直通
func (p *PipeEnd) SetFilter(f Filter) {
	p.filterMu.Lock()
	p.filter = f
	p.filterMu.Unlock()
}

// Send 发送到对端
func (p *PipeEnd) Send(data []byte) error {
	select {
	case <-p.done:
		return ErrLinkClosed
	default:
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	p.filterMu.RLock()
	f := p.filter
	p.filterMu.RUnlock()

	out := [][]byte{buf}
	if f != nil {
		out = f(buf)
	}

	for _, d := range out {
		p.peer.deliver(d)
	}
	atomic.AddUint64(&p.sent, 1)
	return nil
}

// Inject 直接向本端的入队列放入一个数据报 (绕过过滤器)
func (p *PipeEnd) Inject(data []byte) {
	buf := make([]byte, len(data))
	copy(buf, data)
	p.deliver(buf)
}

func (p *PipeEnd) deliver(d []byte) {
	select {
	case <-p.done:
		atomic.AddUint64(&p.dropped, 1)
	case p.in <- d:
	default:
		// 队列满，视为链路丢包
		atomic.AddUint64(&p.dropped, 1)
	}
}

// Recv 接收数据报 (阻塞)
func (p *PipeEnd) Recv() ([]byte, error) {
	select {
	case d := <-p.in:
		return d, nil
	case <-p.done:
		return nil, ErrLinkClosed
	}
}

// Close 关闭本端
func (p *PipeEnd) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
	})
	return nil
}

// Sent 已发送数量
func (p *PipeEnd) Sent() uint64 {
	return atomic.LoadUint64(&p.sent)
}

// Dropped 投递到本端时被丢弃的数量
func (p *PipeEnd) Dropped() uint64 {
	return atomic.LoadUint64(&p.dropped)
}
