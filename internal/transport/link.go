// =============================================================================
// 文件: internal/transport/link.go
// 描述: 不可靠数据报链路 - 统一接口定义
// =============================================================================
package transport

import (
	"errors"
)

// 错误定义
var (
	ErrLinkClosed = errors.New("链路已关闭")
	ErrNoPeer     = errors.New("尚未收到对端数据报，无法回发")
)

// Link 不可靠数据报链路
//
// Send 即发即忘，不保证送达；Recv 阻塞直到收到一个完整数据报。
// 链路可能丢包、延迟、重复，但不会篡改已送达数据报的内容。
// Close 之后 Recv 返回 ErrLinkClosed (可能被包装)。
type Link interface {
	Send(data []byte) error
	Recv() ([]byte, error)
	Close() error
}

// maxDatagramSize 读缓冲区大小
const maxDatagramSize = 65535
