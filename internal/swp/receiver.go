// =============================================================================
// 文件: internal/swp/receiver.go
// 描述: 接收端 - 乱序重组、按序交付、累计确认
// =============================================================================
package swp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/mrcgq/swp/internal/dedup"
	"github.com/mrcgq/swp/internal/interval"
	"github.com/mrcgq/swp/internal/logger"
	"github.com/mrcgq/swp/internal/protocol"
	"github.com/mrcgq/swp/internal/transport"
)

// Receiver 接收端
//
// frontier 之前的字节都已按序交付 (或已进入交付队列)，pending 中的片段
// 全部位于 frontier 之后且互不重叠。pending 与令牌计数只由接收循环访问。
type Receiver struct {
	link transport.Link
	cfg  *Config
	id   string
	log  *logger.Logger

	// 窗口令牌，持有数 == pending 中的片段数
	window *semaphore.Weighted
	held   int

	pending  *interval.Store
	frontier uint32 // atomic
	buffered int64  // atomic, pending.Len() 的镜像
	bufBytes int64  // atomic

	seen     *dedup.Filter
	delivery *deliveryQueue

	ctx       context.Context
	cancel    context.CancelFunc
	group     *errgroup.Group
	closed    int32
	closeOnce sync.Once
	closeErr  error

	stats receiverCounters
}

// NewReceiver 创建接收端并启动接收循环
func NewReceiver(link transport.Link, cfg *Config, opts ...Option) (*Receiver, error) {
	if link == nil {
		return nil, fmt.Errorf("%w: link 为空", ErrInvalidConfig)
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.id == "" {
		o.id = uuid.New().String()
	}
	if o.dedup == nil {
		o.dedup = dedup.New(dedup.DefaultGenerationSize, dedup.DefaultFalsePositive)
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)

	r := &Receiver{
		link:     link,
		cfg:      cfg,
		id:       o.id,
		log:      o.log.Named("Receiver " + shortID(o.id)),
		window:   semaphore.NewWeighted(int64(cfg.WindowSize)),
		pending:  interval.New(),
		seen:     o.dedup,
		delivery: newDeliveryQueue(),
		ctx:      gctx,
		cancel:   cancel,
		group:    group,
	}

	group.Go(r.ingestLoop)

	r.log.Infof("接收端已启动: window=%d", cfg.WindowSize)
	return r, nil
}

// ID 端点 ID
func (r *Receiver) ID() string {
	return r.id
}

// Recv 阻塞直到下一个按序数据块就绪
func (r *Receiver) Recv() ([]byte, error) {
	return r.RecvContext(context.Background())
}

// RecvContext 阻塞直到下一个按序数据块就绪或 ctx 结束
//
// Close 之后仍会先返回已就绪的数据块，取空后返回 ErrClosed。
func (r *Receiver) RecvContext(ctx context.Context) ([]byte, error) {
	return r.delivery.pop(ctx)
}

// ingestLoop 接收循环
func (r *Receiver) ingestLoop() error {
	for {
		raw, err := r.link.Recv()
		if err != nil {
			if r.ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, transport.ErrLinkClosed) {
				r.linkClosed()
				return nil
			}
			r.log.Errorf("链路接收失败: %v", err)
			continue
		}
		r.handleDatagram(raw)
	}
}

// linkClosed 链路被对端或外部关闭: 不再有新数据，
// 已就绪的数据块仍可取走，之后 Recv 返回 ErrClosed
func (r *Receiver) linkClosed() {
	if !atomic.CompareAndSwapInt32(&r.closed, 0, 1) {
		return
	}
	r.cancel()
	r.delivery.close()
	r.log.Infof("链路已断开, 接收端停止: 确认前沿 %d, 待取 %d 块", r.Frontier(), r.Ready())
}

func (r *Receiver) handleDatagram(raw []byte) {
	pkt, err := protocol.Decode(raw)
	if err != nil {
		atomic.AddUint64(&r.stats.malformed, 1)
		r.log.Debugf("丢弃畸形包: %v", err)
		return
	}
	r.log.Debugf("Received: %s", pkt)

	if pkt.Kind != protocol.KindData {
		atomic.AddUint64(&r.stats.ignoredAcks, 1)
		return
	}
	atomic.AddUint64(&r.stats.segmentsReceived, 1)

	if r.seen.CheckAndMark(pkt.Seq, len(pkt.Payload)) {
		atomic.AddUint64(&r.stats.retransmittedArrivals, 1)
	}

	frontier := atomic.LoadUint32(&r.frontier)

	// 已全部确认过的段: 重发当前 ACK，发送端可能丢了上一个
	if pkt.End() <= frontier {
		atomic.AddUint64(&r.stats.duplicates, 1)
		r.sendAck(frontier)
		return
	}

	start, data := pkt.Seq, pkt.Payload
	if start < frontier {
		data = data[frontier-start:]
		start = frontier
	}
	if start > frontier {
		atomic.AddUint64(&r.stats.outOfOrder, 1)
	}

	novel := r.pending.Insert(start, data)
	if len(novel) == 0 {
		atomic.AddUint64(&r.stats.duplicates, 1)
	}

	ready, next := r.pending.PopContiguous(frontier)
	if next != frontier {
		atomic.StoreUint32(&r.frontier, next)
		r.log.Debugf("交付 %d 块, 确认前沿 %d -> %d", len(ready), frontier, next)
	}
	r.reconcileWindow(novel)

	// 先确认再交付: 应用读到数据时对应的 ACK 已经发出
	r.sendAck(next)
	for _, span := range ready {
		atomic.AddUint64(&r.stats.bytesDelivered, uint64(span.Len()))
		r.delivery.push(span.Data)
	}
}

// reconcileWindow 使令牌持有数等于缓冲片段数
//
// 令牌不足时，本次新加入的片段按偏移从高到低丢弃，由发送端重传。
func (r *Receiver) reconcileWindow(novel []interval.Span) {
	want := r.pending.Len()

	switch {
	case want > r.held:
		if r.window.TryAcquire(int64(want - r.held)) {
			r.held = want
			break
		}
		for r.held < want && r.window.TryAcquire(1) {
			r.held++
		}
		for i := len(novel) - 1; i >= 0 && r.pending.Len() > r.held; i-- {
			if r.pending.Delete(novel[i].Start) {
				atomic.AddUint64(&r.stats.windowDrops, 1)
				r.log.Debugf("窗口已满, 丢弃片段 [%d,%d)", novel[i].Start, novel[i].End)
			}
		}
	case want < r.held:
		r.window.Release(int64(r.held - want))
		r.held = want
	}

	atomic.StoreInt64(&r.buffered, int64(r.pending.Len()))
	atomic.StoreInt64(&r.bufBytes, int64(r.pending.Bytes()))
}

func (r *Receiver) sendAck(ack uint32) {
	if err := r.link.Send(protocol.NewAckPacket(ack).Encode()); err != nil {
		if !r.isClosed() {
			r.log.Errorf("发送 ACK %d 失败: %v", ack, err)
		}
		return
	}
	atomic.AddUint64(&r.stats.acksSent, 1)
}

// Frontier 确认前沿
func (r *Receiver) Frontier() uint32 {
	return atomic.LoadUint32(&r.frontier)
}

// Buffered 乱序缓冲中的片段数
func (r *Receiver) Buffered() int {
	return int(atomic.LoadInt64(&r.buffered))
}

// Ready 交付队列中等待取走的数据块数
func (r *Receiver) Ready() int {
	return r.delivery.length()
}

// Stats 统计快照
func (r *Receiver) Stats() ReceiverStats {
	st := r.stats.snapshot()
	st.Frontier = r.Frontier()
	st.Buffered = r.Buffered()
	st.BufferedBytes = int(atomic.LoadInt64(&r.bufBytes))
	st.Ready, st.ReadyBytes = r.delivery.size()
	return st
}

func (r *Receiver) isClosed() bool {
	return atomic.LoadInt32(&r.closed) != 0
}

// Close 关闭链路并等待接收循环退出，已就绪的数据仍可 Recv
func (r *Receiver) Close() error {
	r.closeOnce.Do(func() {
		atomic.StoreInt32(&r.closed, 1)
		r.cancel()

		if err := r.link.Close(); err != nil {
			r.closeErr = fmt.Errorf("关闭链路: %w", err)
		}
		r.group.Wait()

		r.pending.Clear()
		if r.held > 0 {
			r.window.Release(int64(r.held))
			r.held = 0
		}
		atomic.StoreInt64(&r.buffered, 0)
		atomic.StoreInt64(&r.bufBytes, 0)
		r.delivery.close()

		r.log.Infof("接收端已关闭: 确认前沿 %d, 已交付 %d 字节",
			r.Frontier(), atomic.LoadUint64(&r.stats.bytesDelivered))
	})
	return r.closeErr
}
