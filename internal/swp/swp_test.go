// =============================================================================
// 文件: internal/swp/swp_test.go
// 描述: 发送端 / 接收端端到端测试
// =============================================================================
package swp

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrcgq/swp/internal/protocol"
	"github.com/mrcgq/swp/internal/transport"
)

// pair 一对通过内存链路相连的端点
type pair struct {
	sendEnd *transport.PipeEnd
	recvEnd *transport.PipeEnd
	sender  *Sender
	recv    *Receiver
}

func newPair(t *testing.T, cfg *Config) *pair {
	t.Helper()
	a, b := transport.Pipe()
	return newPairOn(t, cfg, a, b, a, b)
}

func newPairOn(t *testing.T, cfg *Config, sendEnd, recvEnd *transport.PipeEnd, sendLink, recvLink transport.Link) *pair {
	t.Helper()

	s, err := NewSender(sendLink, cfg)
	require.NoError(t, err)
	r, err := NewReceiver(recvLink, cfg)
	require.NoError(t, err)

	p := &pair{sendEnd: sendEnd, recvEnd: recvEnd, sender: s, recv: r}
	t.Cleanup(func() {
		p.sender.Close()
		p.recv.Close()
	})
	return p
}

func testConfig(mss, window int, rto time.Duration) *Config {
	return &Config{
		MaxSegmentSize:    mss,
		WindowSize:        window,
		RetransmitTimeout: rto,
	}
}

// recvAll 读取直到累计 n 字节
func recvAll(t *testing.T, r *Receiver, n int, timeout time.Duration) ([]byte, [][]byte) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var buf bytes.Buffer
	var chunks [][]byte
	for buf.Len() < n {
		chunk, err := r.RecvContext(ctx)
		require.NoError(t, err, "已收到 %d/%d 字节", buf.Len(), n)
		buf.Write(chunk)
		chunks = append(chunks, chunk)
	}
	return buf.Bytes(), chunks
}

func randomBytes(n int, seed int64) []byte {
	data := make([]byte, n)
	rand.New(rand.NewSource(seed)).Read(data)
	return data
}

// ackRecorder 记录经过过滤器的 ACK
type ackRecorder struct {
	mu   sync.Mutex
	acks []uint32
}

func (a *ackRecorder) filter(d []byte) [][]byte {
	if pkt, err := protocol.Decode(d); err == nil && pkt.Kind == protocol.KindAck {
		a.mu.Lock()
		a.acks = append(a.acks, pkt.Seq)
		a.mu.Unlock()
	}
	return [][]byte{d}
}

func (a *ackRecorder) get() []uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]uint32(nil), a.acks...)
}

// =============================================================================
// 基本场景
// =============================================================================

func TestHelloWorld(t *testing.T) {
	p := newPair(t, testConfig(5, 5, 5*time.Second))
	rec := &ackRecorder{}
	p.recvEnd.SetFilter(rec.filter)

	require.NoError(t, p.sender.Send([]byte("hello world")))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, want := range []string{"hello", " worl", "d"} {
		chunk, err := p.recv.RecvContext(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, string(chunk))
	}

	require.NoError(t, p.sender.Flush(ctx))
	assert.Equal(t, []uint32{5, 10, 11}, rec.get())
	assert.Equal(t, uint32(11), p.sender.NextSeq())
	assert.Equal(t, 0, p.sender.InFlight())
	assert.Equal(t, uint32(11), p.recv.Frontier())
	assert.Equal(t, uint64(0), p.sender.Stats().Retransmits)
}

func TestRoundTripLarge(t *testing.T) {
	p := newPair(t, DefaultConfig())
	data := randomBytes(200*1024, 1)

	errCh := make(chan error, 1)
	go func() {
		errCh <- p.sender.Send(data)
	}()

	got, chunks := recvAll(t, p.recv, len(data), 10*time.Second)
	require.NoError(t, <-errCh)
	assert.True(t, bytes.Equal(data, got), "数据不一致")

	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), protocol.MaxSegmentSize)
	}
	assert.Equal(t, uint64(len(data)), p.recv.Stats().BytesDelivered)
}

func TestEmptySendIsNoop(t *testing.T) {
	p := newPair(t, DefaultConfig())

	require.NoError(t, p.sender.Send(nil))
	require.NoError(t, p.sender.Send([]byte{}))
	assert.Equal(t, uint32(0), p.sender.NextSeq())
	assert.Equal(t, uint64(0), p.sender.Stats().SegmentsSent)
}

func TestSequentialSendsContinueOffsets(t *testing.T) {
	p := newPair(t, testConfig(4, 5, time.Second))

	require.NoError(t, p.sender.Send([]byte("abcdef")))
	require.NoError(t, p.sender.Send([]byte("gh")))

	got, chunks := recvAll(t, p.recv, 8, 5*time.Second)
	assert.Equal(t, "abcdefgh", string(got))
	require.Len(t, chunks, 3)
	assert.Equal(t, "abcd", string(chunks[0]))
	assert.Equal(t, "ef", string(chunks[1]))
	assert.Equal(t, "gh", string(chunks[2]))
	assert.Equal(t, uint32(8), p.sender.NextSeq())
}

func TestConcurrentSendersNeverShareRanges(t *testing.T) {
	p := newPair(t, testConfig(64, 8, time.Second))

	const senders = 4
	const perSender = 50

	var wg sync.WaitGroup
	var want []string
	for i := 0; i < senders; i++ {
		for j := 0; j < perSender; j++ {
			want = append(want, string([]byte{'a' + byte(i), byte(j)}))
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < perSender; j++ {
				assert.NoError(t, p.sender.Send([]byte{'a' + byte(i), byte(j)}))
			}
		}(i)
	}

	_, chunks := recvAll(t, p.recv, senders*perSender*2, 10*time.Second)
	wg.Wait()

	var got []string
	for _, c := range chunks {
		got = append(got, string(c))
	}
	sort.Strings(want)
	sort.Strings(got)
	assert.Equal(t, want, got)
}

// =============================================================================
// 不可靠链路
// =============================================================================

func TestDuplicateTolerance(t *testing.T) {
	a, b := transport.Pipe()
	// 每个数据报都发三次
	triple := func(d []byte) [][]byte { return [][]byte{d, d, d} }
	a.SetFilter(triple)
	b.SetFilter(triple)
	p := newPairOn(t, testConfig(100, 5, time.Second), a, b, a, b)

	data := randomBytes(5000, 2)
	errCh := make(chan error, 1)
	go func() { errCh <- p.sender.Send(data) }()

	got, _ := recvAll(t, p.recv, len(data), 10*time.Second)
	require.NoError(t, <-errCh)
	assert.Equal(t, data, got)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.sender.Flush(ctx))

	st := p.recv.Stats()
	assert.Greater(t, st.Duplicates, uint64(0))
	assert.Greater(t, st.RetransmittedArrivals, uint64(0))
	assert.Greater(t, p.sender.Stats().StaleAcks, uint64(0))

	// 重复不会产生额外交付
	extra, cancelExtra := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancelExtra()
	_, err := p.recv.RecvContext(extra)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestReorderTolerance(t *testing.T) {
	a, b := transport.Pipe()

	// 相邻两个数据报交换顺序
	var mu sync.Mutex
	var held []byte
	a.SetFilter(func(d []byte) [][]byte {
		mu.Lock()
		defer mu.Unlock()
		if held == nil {
			held = d
			return nil
		}
		out := [][]byte{d, held}
		held = nil
		return out
	})
	p := newPairOn(t, testConfig(10, 5, 50*time.Millisecond), a, b, a, b)

	data := randomBytes(1000, 3)
	errCh := make(chan error, 1)
	go func() { errCh <- p.sender.Send(data) }()

	got, _ := recvAll(t, p.recv, len(data), 10*time.Second)
	require.NoError(t, <-errCh)
	assert.Equal(t, data, got)
	assert.Greater(t, p.recv.Stats().OutOfOrder, uint64(0))
}

func TestLossRecovery(t *testing.T) {
	a, b := transport.Pipe()
	lossySend := transport.NewLossyLink(a, transport.LossyOptions{LossProbability: 0.3, Seed: 11})
	lossyRecv := transport.NewLossyLink(b, transport.LossyOptions{LossProbability: 0.3, Seed: 12})
	p := newPairOn(t, testConfig(200, 5, 20*time.Millisecond), a, b, lossySend, lossyRecv)

	data := randomBytes(20*1024, 4)
	errCh := make(chan error, 1)
	go func() { errCh <- p.sender.Send(data) }()

	got, _ := recvAll(t, p.recv, len(data), 20*time.Second)
	require.NoError(t, <-errCh)
	assert.Equal(t, data, got)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, p.sender.Flush(ctx))

	assert.Greater(t, lossySend.Dropped(), uint64(0))
	st := p.sender.Stats()
	assert.Greater(t, st.Retransmits, uint64(0))
	assert.GreaterOrEqual(t, st.TimerFires, st.Retransmits, "每次重传都来自一次定时器触发")
}

func TestLostAckIsRecoveredByDuplicateAck(t *testing.T) {
	a, b := transport.Pipe()

	// 丢掉接收端的第一个 ACK
	var mu sync.Mutex
	dropped := false
	b.SetFilter(func(d []byte) [][]byte {
		mu.Lock()
		defer mu.Unlock()
		if !dropped {
			dropped = true
			return nil
		}
		return [][]byte{d}
	})
	p := newPairOn(t, testConfig(5, 5, 30*time.Millisecond), a, b, a, b)

	require.NoError(t, p.sender.Send([]byte("hello")))
	got, _ := recvAll(t, p.recv, 5, 5*time.Second)
	assert.Equal(t, "hello", string(got))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.sender.Flush(ctx))

	assert.GreaterOrEqual(t, p.sender.Stats().Retransmits, uint64(1))
	assert.GreaterOrEqual(t, p.recv.Stats().Duplicates, uint64(1))
}

// =============================================================================
// 窗口
// =============================================================================

func TestSenderWindowBound(t *testing.T) {
	a, b := transport.Pipe()
	// 吞掉所有 DATA
	a.SetFilter(func(d []byte) [][]byte { return nil })
	p := newPairOn(t, testConfig(1, 3, time.Hour), a, b, a, b)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := p.sender.SendContext(ctx, []byte("0123456789"))
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "窗口满时应阻塞到 ctx 超时: %v", err)
	assert.Equal(t, 3, p.sender.InFlight())
	assert.Equal(t, uint32(3), p.sender.NextSeq())
	assert.Equal(t, uint64(1), p.sender.Stats().WindowBlocked)
}

func TestSenderWindowReleasedByAck(t *testing.T) {
	a, _ := transport.Pipe()
	s, err := NewSender(a, testConfig(1, 2, time.Hour))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Send([]byte("ab")))
	assert.Equal(t, 2, s.InFlight())

	done := make(chan error, 1)
	go func() { done <- s.Send([]byte("c")) }()

	select {
	case <-done:
		t.Fatal("窗口已满时 Send 不应返回")
	case <-time.After(50 * time.Millisecond):
	}

	// 只确认第一个字节
	a.Inject(protocol.NewAckPacket(1).Encode())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("ACK 之后 Send 应该继续")
	}
	assert.Equal(t, 2, s.InFlight())
	assert.Equal(t, uint32(3), s.NextSeq())
}

func TestReceiverWindowDropsNewest(t *testing.T) {
	a, b := transport.Pipe()
	r, err := NewReceiver(b, testConfig(10, 2, time.Second))
	require.NoError(t, err)
	defer r.Close()

	for _, seq := range []uint32{10, 20, 30} {
		b.Inject(protocol.NewDataPacket(seq, []byte("xxxxx")).Encode())
	}

	require.Eventually(t, func() bool {
		return r.Stats().WindowDrops == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, r.Buffered())
	assert.Equal(t, uint64(3), r.Stats().SegmentsReceived)

	// 补齐 [0,10) 后 [10,15) 可交付，[20,25) 仍缓冲
	b.Inject(protocol.NewDataPacket(0, []byte("0123456789")).Encode())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	chunk, err := r.RecvContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(chunk))
	chunk, err = r.RecvContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "xxxxx", string(chunk))

	assert.Equal(t, uint32(15), r.Frontier())
	require.Eventually(t, func() bool { return r.Buffered() == 1 }, time.Second, 5*time.Millisecond)

	// 被丢弃的 [30,35) 重传后可以缓冲
	b.Inject(protocol.NewDataPacket(30, []byte("xxxxx")).Encode())
	require.Eventually(t, func() bool { return r.Buffered() == 2 }, time.Second, 5*time.Millisecond)

	// ACK 都发往 a
	_, err = a.Recv()
	require.NoError(t, err)
}

// =============================================================================
// 乱序与畸形包
// =============================================================================

func TestOutOfOrderScenario(t *testing.T) {
	a, b := transport.Pipe()
	r, err := NewReceiver(b, testConfig(5, 5, time.Second))
	require.NoError(t, err)
	defer r.Close()

	readAck := func() uint32 {
		raw, err := a.Recv()
		require.NoError(t, err)
		pkt, err := protocol.Decode(raw)
		require.NoError(t, err)
		require.Equal(t, protocol.KindAck, pkt.Kind)
		return pkt.Seq
	}

	b.Inject(protocol.NewDataPacket(5, []byte(" worl")).Encode())
	assert.Equal(t, uint32(0), readAck(), "空洞未补齐前 ACK 停在 0")
	assert.Equal(t, 1, r.Buffered())

	b.Inject(protocol.NewDataPacket(0, []byte("hello")).Encode())
	assert.Equal(t, uint32(10), readAck())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, want := range []string{"hello", " worl"} {
		chunk, err := r.RecvContext(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, string(chunk))
	}

	// 已确认范围内的段: 重发当前 ACK
	b.Inject(protocol.NewDataPacket(0, []byte("hello")).Encode())
	assert.Equal(t, uint32(10), readAck())
	assert.Equal(t, uint64(1), r.Stats().Duplicates)
	assert.Equal(t, uint64(1), r.Stats().OutOfOrder)
}

func TestPartialOverlapIsTrimmed(t *testing.T) {
	a, b := transport.Pipe()
	r, err := NewReceiver(b, testConfig(10, 5, time.Second))
	require.NoError(t, err)
	defer r.Close()

	b.Inject(protocol.NewDataPacket(0, []byte("abcd")).Encode())
	b.Inject(protocol.NewDataPacket(2, []byte("cdef")).Encode())

	got, chunks := recvAll(t, r, 6, 2*time.Second)
	assert.Equal(t, "abcdef", string(got))
	require.Len(t, chunks, 2)
	assert.Equal(t, "ef", string(chunks[1]))
	assert.Equal(t, uint32(6), r.Frontier())

	// 消耗 ACK
	for i := 0; i < 2; i++ {
		_, err := a.Recv()
		require.NoError(t, err)
	}
}

func TestMalformedDatagramsAreDropped(t *testing.T) {
	a, b := transport.Pipe()
	r, err := NewReceiver(b, testConfig(10, 5, time.Second))
	require.NoError(t, err)
	defer r.Close()

	b.Inject([]byte{0xFF})
	b.Inject([]byte{'X', 0, 0, 0, 0, 'a'})
	b.Inject([]byte{'D', 0, 0, 0, 0})
	b.Inject(protocol.NewAckPacket(7).Encode())
	b.Inject(protocol.NewDataPacket(0, []byte("ok")).Encode())

	got, _ := recvAll(t, r, 2, 2*time.Second)
	assert.Equal(t, "ok", string(got))

	st := r.Stats()
	assert.Equal(t, uint64(3), st.Malformed)
	assert.Equal(t, uint64(1), st.IgnoredAcks)
	assert.Equal(t, uint64(1), st.SegmentsReceived)

	_, err = a.Recv()
	require.NoError(t, err)
}

func TestSenderIgnoresDataAndStaleAcks(t *testing.T) {
	a, _ := transport.Pipe()
	s, err := NewSender(a, testConfig(10, 5, time.Hour))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Send([]byte("abc")))

	a.Inject(protocol.NewDataPacket(0, []byte("zz")).Encode())
	a.Inject(protocol.NewAckPacket(0).Encode())
	a.Inject([]byte{1, 2})

	require.Eventually(t, func() bool {
		st := s.Stats()
		return st.IgnoredData == 1 && st.StaleAcks == 1 && st.Malformed == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, s.InFlight())

	a.Inject(protocol.NewAckPacket(3).Encode())
	require.Eventually(t, func() bool { return s.InFlight() == 0 }, 2*time.Second, 5*time.Millisecond)
}

// =============================================================================
// 生命周期
// =============================================================================

func TestInvalidConfig(t *testing.T) {
	a, _ := transport.Pipe()

	cases := []*Config{
		testConfig(0, 5, time.Second),
		testConfig(protocol.MaxSegmentSize+1, 5, time.Second),
		testConfig(10, 0, time.Second),
		testConfig(10, 5, 0),
	}
	for _, cfg := range cases {
		_, err := NewSender(a, cfg)
		assert.True(t, errors.Is(err, ErrInvalidConfig), "%+v", cfg)
		_, err = NewReceiver(a, cfg)
		assert.True(t, errors.Is(err, ErrInvalidConfig), "%+v", cfg)
	}

	_, err := NewSender(nil, nil)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestSenderCloseUnblocksSend(t *testing.T) {
	a, _ := transport.Pipe()
	s, err := NewSender(a, testConfig(1, 1, time.Hour))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Send([]byte("ab")) }()

	require.Eventually(t, func() bool { return s.Stats().WindowBlocked == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Close())

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, ErrClosed))
	case <-time.After(2 * time.Second):
		t.Fatal("Close 应该解除 Send 阻塞")
	}

	assert.True(t, errors.Is(s.Send([]byte("x")), ErrClosed))
	assert.True(t, errors.Is(s.Flush(context.Background()), ErrClosed))
	assert.NoError(t, s.Close(), "重复关闭应该是空操作")
}

func TestReceiverCloseDrainsReady(t *testing.T) {
	p := newPair(t, testConfig(3, 5, time.Second))

	require.NoError(t, p.sender.Send([]byte("abcdef")))
	require.Eventually(t, func() bool { return p.recv.Frontier() == 6 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, p.recv.Close())

	chunk, err := p.recv.Recv()
	require.NoError(t, err)
	assert.Equal(t, "abc", string(chunk))
	chunk, err = p.recv.Recv()
	require.NoError(t, err)
	assert.Equal(t, "def", string(chunk))

	_, err = p.recv.Recv()
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestReceiverCloseUnblocksRecv(t *testing.T) {
	_, b := transport.Pipe()
	r, err := NewReceiver(b, nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := r.Recv()
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, r.Close())

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, ErrClosed))
	case <-time.After(2 * time.Second):
		t.Fatal("Close 应该解除 Recv 阻塞")
	}
}

func TestEndpointIDs(t *testing.T) {
	a, b := transport.Pipe()
	s, err := NewSender(a, nil, WithID("sender-1"))
	require.NoError(t, err)
	defer s.Close()
	r, err := NewReceiver(b, nil)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, "sender-1", s.ID())
	assert.Len(t, r.ID(), 36)
}

// =============================================================================
// 链路被对端关闭
// =============================================================================

func TestReceiverLinkClosedByPeer(t *testing.T) {
	_, b := transport.Pipe()
	r, err := NewReceiver(b, testConfig(10, 5, time.Second))
	require.NoError(t, err)
	defer r.Close()

	b.Inject(protocol.NewDataPacket(0, []byte("abc")).Encode())
	b.Inject(protocol.NewDataPacket(10, []byte("xyz")).Encode())
	require.Eventually(t, func() bool { return r.Buffered() == 1 }, 2*time.Second, 5*time.Millisecond)

	st := r.Stats()
	assert.Equal(t, 1, st.Ready)
	assert.Equal(t, 3, st.ReadyBytes)

	// 不经过 Receiver.Close 直接关闭链路
	require.NoError(t, b.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	chunk, err := r.RecvContext(ctx)
	require.NoError(t, err, "已就绪的数据仍可取走")
	assert.Equal(t, "abc", string(chunk))

	_, err = r.RecvContext(ctx)
	assert.True(t, errors.Is(err, ErrClosed), "取空后应返回 ErrClosed, 实际 %v", err)
	assert.Equal(t, 0, r.Stats().ReadyBytes)
	assert.NoError(t, r.Close())
}

func TestReceiverLinkClosedUnblocksRecv(t *testing.T) {
	_, b := transport.Pipe()
	r, err := NewReceiver(b, nil)
	require.NoError(t, err)
	defer r.Close()

	done := make(chan error, 1)
	go func() {
		_, err := r.Recv()
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, b.Close())

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, ErrClosed))
	case <-time.After(2 * time.Second):
		t.Fatal("链路关闭应该解除 Recv 阻塞")
	}
}

func TestSenderLinkClosedByPeer(t *testing.T) {
	a, _ := transport.Pipe()
	s, err := NewSender(a, testConfig(1, 1, time.Hour))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Send([]byte("a")))

	sendDone := make(chan error, 1)
	go func() { sendDone <- s.Send([]byte("b")) }()
	require.Eventually(t, func() bool { return s.Stats().WindowBlocked == 1 }, 2*time.Second, 5*time.Millisecond)

	flushDone := make(chan error, 1)
	go func() { flushDone <- s.Flush(context.Background()) }()

	require.NoError(t, a.Close())

	for name, ch := range map[string]chan error{"Send": sendDone, "Flush": flushDone} {
		select {
		case err := <-ch:
			assert.True(t, errors.Is(err, ErrClosed), "%s: %v", name, err)
		case <-time.After(2 * time.Second):
			t.Fatalf("链路关闭应该解除 %s 阻塞", name)
		}
	}

	assert.True(t, errors.Is(s.Send([]byte("c")), ErrClosed))
	assert.Equal(t, 0, s.timers.Len(), "重传定时器应已停止")
	assert.Equal(t, 1, s.InFlight())
	assert.NoError(t, s.Close())
}

func TestWebSocketPeerDisconnect(t *testing.T) {
	acceptor := transport.NewWebSocketAcceptor(nil)
	defer acceptor.Close()
	srv := httptest.NewServer(acceptor)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	dialed := make(chan *transport.WebSocketLink, 1)
	go func() {
		l, err := transport.DialWebSocket(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"))
		if err == nil {
			dialed <- l
		}
	}()

	serverLink, err := acceptor.Accept(ctx)
	require.NoError(t, err)
	r, err := NewReceiver(serverLink, testConfig(10, 5, 50*time.Millisecond))
	require.NoError(t, err)
	defer r.Close()

	var clientLink *transport.WebSocketLink
	select {
	case clientLink = <-dialed:
	case <-ctx.Done():
		t.Fatal("WebSocket 连接超时")
	}
	s, err := NewSender(clientLink, testConfig(10, 5, 50*time.Millisecond))
	require.NoError(t, err)

	require.NoError(t, s.Send([]byte("hello")))
	require.NoError(t, s.Flush(ctx))
	require.NoError(t, s.Close())

	chunk, err := r.RecvContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(chunk))

	rctx, rcancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer rcancel()
	_, err = r.RecvContext(rctx)
	assert.True(t, errors.Is(err, ErrClosed), "发送端断开后 Recv 应返回 ErrClosed, 实际 %v", err)
}

// =============================================================================
// 接收窗口与乱序
// =============================================================================

func TestReadyChunksDoNotHoldWindow(t *testing.T) {
	_, b := transport.Pipe()
	r, err := NewReceiver(b, testConfig(4, 2, time.Second))
	require.NoError(t, err)
	defer r.Close()

	// 应用不取数据: 交付队列可以超过窗口，窗口只约束乱序缓冲
	for i := 0; i < 5; i++ {
		b.Inject(protocol.NewDataPacket(uint32(i*4), []byte("abcd")).Encode())
	}
	require.Eventually(t, func() bool { return r.Ready() == 5 }, 2*time.Second, 5*time.Millisecond)

	st := r.Stats()
	assert.Equal(t, uint64(0), st.WindowDrops)
	assert.Equal(t, 0, st.Buffered)
	assert.Equal(t, 20, st.ReadyBytes)
	require.True(t, r.window.TryAcquire(2), "交付后令牌应全部归还")
	r.window.Release(2)

	// 交付队列积压时乱序片段仍按窗口缓冲
	b.Inject(protocol.NewDataPacket(28, []byte("zzzz")).Encode())
	b.Inject(protocol.NewDataPacket(24, []byte("yyyy")).Encode())
	require.Eventually(t, func() bool { return r.Buffered() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(0), r.Stats().WindowDrops)
}

// permutations 返回 0..n-1 的全部排列
func permutations(n int) [][]int {
	if n == 0 {
		return [][]int{{}}
	}
	var out [][]int
	for _, p := range permutations(n - 1) {
		for i := 0; i <= len(p); i++ {
			q := make([]int, 0, n)
			q = append(q, p[:i]...)
			q = append(q, n-1)
			q = append(q, p[i:]...)
			out = append(out, q)
		}
	}
	return out
}

func TestEveryPermutationIsReassembled(t *testing.T) {
	segments := []string{"abcd", "efgh", "ijkl", "mnop"}
	perms := permutations(len(segments))
	require.Len(t, perms, 24)

	for _, order := range perms {
		a, b := transport.Pipe()
		r, err := NewReceiver(b, testConfig(4, len(segments), time.Second))
		require.NoError(t, err)

		for _, i := range order {
			b.Inject(protocol.NewDataPacket(uint32(i*4), []byte(segments[i])).Encode())
		}

		got, _ := recvAll(t, r, 16, 2*time.Second)
		assert.Equal(t, "abcdefghijklmnop", string(got), "顺序 %v", order)

		// 每个数据报一个 ACK，前沿单调不减，最后确认全部字节
		var last uint32
		for range order {
			raw, err := a.Recv()
			require.NoError(t, err)
			pkt, err := protocol.Decode(raw)
			require.NoError(t, err)
			require.Equal(t, protocol.KindAck, pkt.Kind)
			assert.GreaterOrEqual(t, pkt.Seq, last, "顺序 %v", order)
			last = pkt.Seq
		}
		assert.Equal(t, uint32(16), last, "顺序 %v", order)

		st := r.Stats()
		assert.Equal(t, uint64(0), st.WindowDrops, "顺序 %v", order)
		assert.Equal(t, uint64(0), st.Duplicates, "顺序 %v", order)
		r.Close()
	}
}
