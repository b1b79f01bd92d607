// =============================================================================
// 文件: internal/swp/sender.go
// 描述: 发送端 - 分段、窗口控制、逐段重传、累计确认处理
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

	"github.com/mrcgq/swp/internal/logger"
	"github.com/mrcgq/swp/internal/protocol"
	"github.com/mrcgq/swp/internal/timer"
	"github.com/mrcgq/swp/internal/transport"
)

// segment 在途段
type segment struct {
	packet  []byte // 已编码的 DATA 包，重传时原样发送
	length  int
	retries int
}

// Sender 发送端
type Sender struct {
	link transport.Link
	cfg  *Config
	id   string
	log  *logger.Logger

	// 窗口令牌，每个在途段持有一个
	window *semaphore.Weighted
	timers *timer.Registry

	mu       sync.Mutex
	nextSeq  uint32
	inFlight map[uint32]*segment
	idle     chan struct{} // Flush 等待在途清空

	ctx       context.Context
	cancel    context.CancelFunc
	group     *errgroup.Group
	closed    int32
	closeOnce sync.Once
	closeErr  error

	stats senderCounters
}

// NewSender 创建发送端并启动 ACK 接收循环
func NewSender(link transport.Link, cfg *Config, opts ...Option) (*Sender, error) {
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

	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)

	s := &Sender{
		link:     link,
		cfg:      cfg,
		id:       o.id,
		log:      o.log.Named("Sender " + shortID(o.id)),
		window:   semaphore.NewWeighted(int64(cfg.WindowSize)),
		timers:   timer.New(),
		inFlight: make(map[uint32]*segment),
		ctx:      gctx,
		cancel:   cancel,
		group:    group,
	}

	group.Go(s.ackLoop)

	s.log.Infof("发送端已启动: mss=%d window=%d rto=%v",
		cfg.MaxSegmentSize, cfg.WindowSize, cfg.RetransmitTimeout)
	return s, nil
}

// ID 端点 ID
func (s *Sender) ID() string {
	return s.id
}

// Send 发送数据，所有段交给链路后返回
func (s *Sender) Send(data []byte) error {
	return s.SendContext(context.Background(), data)
}

// SendContext 发送数据，窗口已满时阻塞，可被 ctx 或 Close 打断
//
// 被打断时已交给链路的段仍会被可靠送达，未发出的部分不会再发送。
func (s *Sender) SendContext(ctx context.Context, data []byte) error {
	if s.isClosed() {
		return ErrClosed
	}

	mss := s.cfg.MaxSegmentSize
	for off := 0; off < len(data); off += mss {
		end := min(off+mss, len(data))
		if err := s.sendSegment(ctx, data[off:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sender) sendSegment(ctx context.Context, chunk []byte) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}

	payload := make([]byte, len(chunk))
	copy(payload, chunk)

	s.mu.Lock()
	if s.isClosed() {
		s.mu.Unlock()
		s.window.Release(1)
		return ErrClosed
	}
	seq := s.nextSeq
	s.nextSeq += uint32(len(payload))
	pkt := protocol.NewDataPacket(seq, payload).Encode()
	s.inFlight[seq] = &segment{packet: pkt, length: len(payload)}
	s.timers.Start(seq, s.cfg.RetransmitTimeout, s.retransmit)
	s.mu.Unlock()

	atomic.AddUint64(&s.stats.segmentsSent, 1)
	atomic.AddUint64(&s.stats.bytesSent, uint64(len(payload)))
	s.log.Debugf("发送 DATA seq=%d len=%d", seq, len(payload))

	s.transmit(pkt)
	return nil
}

// acquire 获取一个窗口令牌
func (s *Sender) acquire(ctx context.Context) error {
	if s.window.TryAcquire(1) {
		return nil
	}
	atomic.AddUint64(&s.stats.windowBlocked, 1)

	actx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	if err := s.window.Acquire(actx, 1); err != nil {
		if s.ctx.Err() != nil {
			return ErrClosed
		}
		return err
	}
	if s.isClosed() {
		s.window.Release(1)
		return ErrClosed
	}
	return nil
}

// transmit 交给链路，失败只记录，由重传兜底
func (s *Sender) transmit(pkt []byte) {
	if err := s.link.Send(pkt); err != nil {
		if s.isClosed() {
			return
		}
		atomic.AddUint64(&s.stats.sendErrors, 1)
		s.log.Errorf("链路发送失败: %v", err)
	}
}

// retransmit 定时器回调
func (s *Sender) retransmit(seq uint32) {
	s.mu.Lock()
	seg, ok := s.inFlight[seq]
	if !ok || s.isClosed() {
		s.mu.Unlock()
		return
	}
	seg.retries++
	retries := seg.retries
	pkt := seg.packet
	s.timers.Start(seq, s.cfg.RetransmitTimeout, s.retransmit)
	s.mu.Unlock()

	atomic.AddUint64(&s.stats.retransmits, 1)
	s.log.Debugf("重传 seq=%d 第 %d 次", seq, retries)

	s.transmit(pkt)
}

// ackLoop 接收循环
func (s *Sender) ackLoop() error {
	for {
		raw, err := s.link.Recv()
		if err != nil {
			if s.ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, transport.ErrLinkClosed) {
				s.linkClosed()
				return nil
			}
			s.log.Errorf("链路接收失败: %v", err)
			continue
		}

		pkt, err := protocol.Decode(raw)
		if err != nil {
			atomic.AddUint64(&s.stats.malformed, 1)
			s.log.Debugf("丢弃畸形包: %v", err)
			continue
		}
		s.log.Debugf("Received: %s", pkt)

		if pkt.Kind != protocol.KindAck {
			atomic.AddUint64(&s.stats.ignoredData, 1)
			continue
		}
		s.handleAck(pkt.Seq)
	}
}

// linkClosed 链路被对端或外部关闭，之后不可能再收到 ACK:
// 停止重传并唤醒 Send / Flush 的等待者，它们返回 ErrClosed
func (s *Sender) linkClosed() {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return
	}
	s.timers.Stop()
	s.cancel()
	s.log.Infof("链路已断开, 发送端停止: 未确认 %d 段", s.InFlight())
}

// handleAck 累计确认: 所有 seq+len <= ack 的段出窗
func (s *Sender) handleAck(ack uint32) {
	atomic.AddUint64(&s.stats.acksReceived, 1)

	s.mu.Lock()
	released := 0
	for seq, seg := range s.inFlight {
		if seq+uint32(seg.length) <= ack {
			s.timers.Cancel(seq)
			delete(s.inFlight, seq)
			released++
		}
	}
	if len(s.inFlight) == 0 && s.idle != nil {
		close(s.idle)
		s.idle = nil
	}
	s.mu.Unlock()

	if released == 0 {
		atomic.AddUint64(&s.stats.staleAcks, 1)
		return
	}
	s.window.Release(int64(released))
	s.log.Debugf("ACK %d 确认 %d 段", ack, released)
}

// Flush 阻塞直到所有在途段被确认
func (s *Sender) Flush(ctx context.Context) error {
	s.mu.Lock()
	if len(s.inFlight) == 0 {
		s.mu.Unlock()
		return nil
	}
	if s.idle == nil {
		s.idle = make(chan struct{})
	}
	idle := s.idle
	s.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-s.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InFlight 在途段数
func (s *Sender) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inFlight)
}

// NextSeq 下一个待分配的字节偏移
func (s *Sender) NextSeq() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextSeq
}

// Stats 统计快照
func (s *Sender) Stats() SenderStats {
	st := s.stats.snapshot()
	s.mu.Lock()
	st.InFlight = len(s.inFlight)
	st.NextSeq = s.nextSeq
	s.mu.Unlock()
	st.TimerFires = s.timers.Fired()
	return st
}

func (s *Sender) isClosed() bool {
	return atomic.LoadInt32(&s.closed) != 0
}

// Close 停止定时器、释放等待者、关闭链路并等待接收循环退出
func (s *Sender) Close() error {
	s.closeOnce.Do(func() {
		atomic.StoreInt32(&s.closed, 1)
		s.cancel()
		s.timers.Stop()

		if err := s.link.Close(); err != nil {
			s.closeErr = fmt.Errorf("关闭链路: %w", err)
		}
		s.group.Wait()

		s.mu.Lock()
		unacked := len(s.inFlight)
		if s.idle != nil {
			close(s.idle)
			s.idle = nil
		}
		s.mu.Unlock()

		s.log.Infof("发送端已关闭: 已发送 %d 段, 重传 %d 次, 未确认 %d 段",
			atomic.LoadUint64(&s.stats.segmentsSent),
			atomic.LoadUint64(&s.stats.retransmits),
			unacked)
	})
	return s.closeErr
}
