// =============================================================================
// 文件: internal/swp/delivery.go
// 描述: 交付队列 - 已按序就绪、等待应用取走的数据块
// =============================================================================
package swp

import (
	"context"
	"sync"

	"gopkg.in/eapache/queue.v1"
)

type deliveryQueue struct {
	mu     sync.Mutex
	q      *queue.Queue
	bytes  int
	notify chan struct{}
	done   chan struct{}
	closed bool
}

func newDeliveryQueue() *deliveryQueue {
	return &deliveryQueue{
		q:      queue.New(),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (d *deliveryQueue) signal() {
	select {
	case d.notify <- struct{}{}:
	default:
	}
}

func (d *deliveryQueue) push(chunk []byte) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.q.Add(chunk)
	d.bytes += len(chunk)
	d.mu.Unlock()

	d.signal()
}

// tryPop 非阻塞取出，队列为空时 ok 为 false
func (d *deliveryQueue) tryPop() (chunk []byte, ok bool, closed bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.q.Length() == 0 {
		return nil, false, d.closed
	}
	chunk = d.q.Remove().([]byte)
	d.bytes -= len(chunk)
	if d.q.Length() > 0 {
		// 唤醒下一个等待者
		d.signal()
	}
	return chunk, true, d.closed
}

// pop 阻塞直到有数据、队列关闭且取空、或 ctx 结束
func (d *deliveryQueue) pop(ctx context.Context) ([]byte, error) {
	for {
		chunk, ok, closed := d.tryPop()
		if ok {
			return chunk, nil
		}
		if closed {
			return nil, ErrClosed
		}

		select {
		case <-d.notify:
		case <-d.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// close 关闭后不再接收新数据，已入队的数据仍可取出
func (d *deliveryQueue) close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	close(d.done)
}

func (d *deliveryQueue) length() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.q.Length()
}

// size 待取走的块数与字节数
func (d *deliveryQueue) size() (chunks, bytes int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.q.Length(), d.bytes
}
