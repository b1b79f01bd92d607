// =============================================================================
// 文件: internal/transport/websocket.go
// 描述: WebSocket 数据报链路 - 每条二进制消息即一个数据报
// =============================================================================
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mrcgq/swp/internal/logger"
)

const (
	wsWriteTimeout = 30 * time.Second
	wsBufferSize   = 32 * 1024
)

// =============================================================================
// WebSocketLink
// =============================================================================

// WebSocketLink 基于 WebSocket 连接的链路
type WebSocketLink struct {
	conn *websocket.Conn

	writeMu   sync.Mutex
	closed    int32
	closeOnce sync.Once
}

// NewWebSocketLink 包装已建立的 WebSocket 连接
func NewWebSocketLink(conn *websocket.Conn) *WebSocketLink {
	return &WebSocketLink{conn: conn}
}

// DialWebSocket 连接 WebSocket 服务端 (ws:// 或 wss://)
func DialWebSocket(ctx context.Context, url string) (*WebSocketLink, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   wsBufferSize,
		WriteBufferSize:  wsBufferSize,
	}

	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket 握手失败 (%s): %w", resp.Status, err)
		}
		return nil, fmt.Errorf("WebSocket 连接失败: %w", err)
	}
	return NewWebSocketLink(conn), nil
}

// Send 发送一条二进制消息
func (l *WebSocketLink) Send(data []byte) error {
	if atomic.LoadInt32(&l.closed) != 0 {
		return ErrLinkClosed
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	l.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := l.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("WebSocket 写入失败: %w", err)
	}
	return nil
}

// Recv 接收下一条二进制消息，非二进制消息被忽略
func (l *WebSocketLink) Recv() ([]byte, error) {
	for {
		messageType, data, err := l.conn.ReadMessage()
		if err != nil {
			// 读错误后连接不可再用，一律视为关闭
			return nil, fmt.Errorf("%w: %v", ErrLinkClosed, err)
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		return data, nil
	}
}

// Close 发送关闭帧并关闭连接
func (l *WebSocketLink) Close() error {
	var err error
	l.closeOnce.Do(func() {
		atomic.StoreInt32(&l.closed, 1)

		l.writeMu.Lock()
		l.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		l.writeMu.Unlock()

		err = l.conn.Close()
	})
	return err
}

// =============================================================================
// WebSocketAcceptor
// =============================================================================

// ErrAcceptorClosed 接收器已关闭
var ErrAcceptorClosed = errors.New("WebSocket 接收器已关闭")

// WebSocketAcceptor 把升级后的连接作为链路交给 Accept 调用方
type WebSocketAcceptor struct {
	upgrader websocket.Upgrader
	links    chan *WebSocketLink
	log      *logger.Logger

	httpServer *http.Server
	listener   net.Listener
	done       chan struct{}
	closeOnce  sync.Once
	wg         sync.WaitGroup

	activeConns int64
}

// NewWebSocketAcceptor 创建接收器
func NewWebSocketAcceptor(log *logger.Logger) *WebSocketAcceptor {
	return &WebSocketAcceptor{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  wsBufferSize,
			WriteBufferSize: wsBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				return true // 允许所有来源
			},
		},
		links: make(chan *WebSocketLink),
		log:   log.Named("WebSocket"),
		done:  make(chan struct{}),
	}
}

// ServeHTTP 升级连接并等待 Accept 取走
func (a *WebSocketAcceptor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.Debugf("WebSocket 升级失败: %v", err)
		return
	}

	link := NewWebSocketLink(conn)
	select {
	case a.links <- link:
		atomic.AddInt64(&a.activeConns, 1)
		a.log.Debugf("WebSocket 连接: %s", r.RemoteAddr)
	case <-a.done:
		link.Close()
	case <-r.Context().Done():
		link.Close()
	}
}

// Accept 等待下一条链路
func (a *WebSocketAcceptor) Accept(ctx context.Context) (*WebSocketLink, error) {
	select {
	case link := <-a.links:
		return link, nil
	case <-a.done:
		return nil, ErrAcceptorClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ListenAndServe 在 addr 的 path 上启动 HTTP 服务
//
// 监听失败时直接返回错误，成功后在后台提供服务。
func (a *WebSocketAcceptor) ListenAndServe(addr, path string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("WebSocket 监听 %s 失败: %w", addr, err)
	}
	a.listener = ln

	mux := http.NewServeMux()
	mux.Handle(path, a)
	a.httpServer = &http.Server{Handler: mux}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			a.log.Errorf("HTTP 服务器错误: %v", err)
		}
	}()

	a.log.Infof("WebSocket 服务已启动: %s%s", ln.Addr(), path)
	return nil
}

// Addr 实际监听地址，ListenAndServe 之前为 nil
func (a *WebSocketAcceptor) Addr() net.Addr {
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

// Close 停止接收，已交出的链路由调用方关闭
func (a *WebSocketAcceptor) Close() error {
	a.closeOnce.Do(func() {
		close(a.done)
		if a.httpServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			a.httpServer.Shutdown(ctx)
		}
		a.wg.Wait()
	})
	return nil
}

// ActiveConns 已交出的连接数
func (a *WebSocketAcceptor) ActiveConns() int64 {
	return atomic.LoadInt64(&a.activeConns)
}
