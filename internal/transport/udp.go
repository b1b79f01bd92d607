// =============================================================================
// 文件: internal/transport/udp.go
// 描述: UDP 数据报链路 - 发送端 Dial 固定对端，接收端 Listen 回发给最近的对端
// =============================================================================
package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/mrcgq/swp/internal/logger"
)

// =============================================================================
// 缓冲区配置
// =============================================================================

const (
	defaultSocketBufferSize = 1 * 1024 * 1024 // 1MB
	minSocketBufferSize     = 64 * 1024
	maxSocketBufferSize     = 64 * 1024 * 1024
)

// clampBufferSize 限制缓冲区大小在合理范围内
func clampBufferSize(size int) int {
	if size < minSocketBufferSize {
		return minSocketBufferSize
	}
	if size > maxSocketBufferSize {
		return maxSocketBufferSize
	}
	return size
}

// UDPOptions UDP 链路参数
type UDPOptions struct {
	ReadBufferSize  int
	WriteBufferSize int
	Logger          *logger.Logger
}

// DefaultUDPOptions 默认参数
func DefaultUDPOptions() UDPOptions {
	return UDPOptions{
		ReadBufferSize:  defaultSocketBufferSize,
		WriteBufferSize: defaultSocketBufferSize,
	}
}

// =============================================================================
// UDPLink
// =============================================================================

// UDPLink 基于 UDP socket 的链路
type UDPLink struct {
	conn      *net.UDPConn
	connected bool // DialUDP 创建，对端固定

	// 接收端: 最近一个发来数据报的地址
	peer   *net.UDPAddr
	peerMu sync.RWMutex

	log    *logger.Logger
	closed int32
	buf    []byte

	// 统计
	datagramsSent uint64
	datagramsRecv uint64
}

// DialUDP 创建指向 remote 的链路 (发送端)
func DialUDP(remote string, opts UDPOptions) (*UDPLink, error) {
	raddr, err := net.ResolveUDPAddr("udp", remote)
	if err != nil {
		return nil, fmt.Errorf("解析地址: %w", err)
	}

	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("连接失败: %w", err)
	}

	l := newUDPLink(conn, opts)
	l.connected = true
	l.peer = raddr
	l.log.Infof("UDP 链路已建立: %s -> %s", conn.LocalAddr(), raddr)
	return l, nil
}

// ListenUDP 在 local 上监听 (接收端)
func ListenUDP(local string, opts UDPOptions) (*UDPLink, error) {
	laddr, err := net.ResolveUDPAddr("udp", local)
	if err != nil {
		return nil, fmt.Errorf("解析地址: %w", err)
	}

	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("监听失败: %w", err)
	}

	l := newUDPLink(conn, opts)
	l.log.Infof("UDP 链路监听: %s", conn.LocalAddr())
	return l, nil
}

func newUDPLink(conn *net.UDPConn, opts UDPOptions) *UDPLink {
	l := &UDPLink{
		conn: conn,
		log:  opts.Logger.Named("UDP"),
		buf:  make([]byte, maxDatagramSize),
	}

	if opts.ReadBufferSize > 0 {
		if err := conn.SetReadBuffer(clampBufferSize(opts.ReadBufferSize)); err != nil {
			l.log.Infof("读缓冲区设置失败: %v", err)
		}
	}
	if opts.WriteBufferSize > 0 {
		if err := conn.SetWriteBuffer(clampBufferSize(opts.WriteBufferSize)); err != nil {
			l.log.Infof("写缓冲区设置失败: %v", err)
		}
	}
	return l
}

// Send 发送数据报
func (l *UDPLink) Send(data []byte) error {
	if l.IsClosed() {
		return ErrLinkClosed
	}

	var err error
	if l.connected {
		_, err = l.conn.Write(data)
	} else {
		peer := l.Peer()
		if peer == nil {
			return ErrNoPeer
		}
		_, err = l.conn.WriteToUDP(data, peer)
	}
	if err != nil {
		return fmt.Errorf("UDP 发送失败: %w", err)
	}

	atomic.AddUint64(&l.datagramsSent, 1)
	return nil
}

// Recv 接收数据报 (阻塞)，只允许单个 goroutine 调用
func (l *UDPLink) Recv() ([]byte, error) {
	n, from, err := l.conn.ReadFromUDP(l.buf)
	if err != nil {
		if l.IsClosed() || errors.Is(err, net.ErrClosed) {
			return nil, ErrLinkClosed
		}
		return nil, fmt.Errorf("UDP 接收失败: %w", err)
	}

	if !l.connected && from != nil {
		l.peerMu.Lock()
		l.peer = from
		l.peerMu.Unlock()
	}

	atomic.AddUint64(&l.datagramsRecv, 1)

	data := make([]byte, n)
	copy(data, l.buf[:n])
	return data, nil
}

// Close 关闭链路，阻塞中的 Recv 会返回
func (l *UDPLink) Close() error {
	if !atomic.CompareAndSwapInt32(&l.closed, 0, 1) {
		return nil
	}
	return l.conn.Close()
}

// IsClosed 是否已关闭
func (l *UDPLink) IsClosed() bool {
	return atomic.LoadInt32(&l.closed) != 0
}

// Peer 当前对端地址
func (l *UDPLink) Peer() *net.UDPAddr {
	l.peerMu.RLock()
	defer l.peerMu.RUnlock()
	return l.peer
}

// LocalAddr 本地地址
func (l *UDPLink) LocalAddr() *net.UDPAddr {
	return l.conn.LocalAddr().(*net.UDPAddr)
}

// Stats 数据报统计 (发送, 接收)
func (l *UDPLink) Stats() (sent, recv uint64) {
	return atomic.LoadUint64(&l.datagramsSent), atomic.LoadUint64(&l.datagramsRecv)
}
