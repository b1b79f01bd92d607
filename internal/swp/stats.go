// =============================================================================
// 文件: internal/swp/stats.go
// 描述: 端点统计
// =============================================================================
package swp

import (
	"sync/atomic"
)

// SenderStats 发送端统计快照
type SenderStats struct {
	SegmentsSent  uint64 // 首次发送的段数
	Retransmits   uint64
	AcksReceived  uint64
	StaleAcks     uint64 // 未确认任何段的 ACK
	BytesSent     uint64 // 首次发送的负载字节数
	Malformed     uint64
	IgnoredData   uint64 // 发送端链路上收到的 DATA
	SendErrors    uint64
	InFlight      int
	NextSeq       uint32
	WindowBlocked uint64 // 因窗口已满而等待的次数
	TimerFires    uint64 // 重传定时器触发次数
}

// ReceiverStats 接收端统计快照
type ReceiverStats struct {
	SegmentsReceived      uint64
	Duplicates            uint64 // 完全落在已确认范围或已缓冲范围内的段
	OutOfOrder            uint64 // 起点超过确认前沿的段
	WindowDrops           uint64 // 因窗口已满而未缓冲的片段
	Malformed             uint64
	IgnoredAcks           uint64
	AcksSent              uint64
	BytesDelivered        uint64
	RetransmittedArrivals uint64 // 过滤器判定以前见过的段
	Frontier              uint32
	Buffered              int
	BufferedBytes         int
	Ready                 int // 交付队列中待应用取走的块数
	ReadyBytes            int
}

type senderCounters struct {
	segmentsSent  uint64
	retransmits   uint64
	acksReceived  uint64
	staleAcks     uint64
	bytesSent     uint64
	malformed     uint64
	ignoredData   uint64
	sendErrors    uint64
	windowBlocked uint64
}

func (c *senderCounters) snapshot() SenderStats {
	return SenderStats{
		SegmentsSent:  atomic.LoadUint64(&c.segmentsSent),
		Retransmits:   atomic.LoadUint64(&c.retransmits),
		AcksReceived:  atomic.LoadUint64(&c.acksReceived),
		StaleAcks:     atomic.LoadUint64(&c.staleAcks),
		BytesSent:     atomic.LoadUint64(&c.bytesSent),
		Malformed:     atomic.LoadUint64(&c.malformed),
		IgnoredData:   atomic.LoadUint64(&c.ignoredData),
		SendErrors:    atomic.LoadUint64(&c.sendErrors),
		WindowBlocked: atomic.LoadUint64(&c.windowBlocked),
	}
}

type receiverCounters struct {
	segmentsReceived      uint64
	duplicates            uint64
	outOfOrder            uint64
	windowDrops           uint64
	malformed             uint64
	ignoredAcks           uint64
	acksSent              uint64
	bytesDelivered        uint64
	retransmittedArrivals uint64
}

func (c *receiverCounters) snapshot() ReceiverStats {
	return ReceiverStats{
		SegmentsReceived:      atomic.LoadUint64(&c.segmentsReceived),
		Duplicates:            atomic.LoadUint64(&c.duplicates),
		OutOfOrder:            atomic.LoadUint64(&c.outOfOrder),
		WindowDrops:           atomic.LoadUint64(&c.windowDrops),
		Malformed:             atomic.LoadUint64(&c.malformed),
		IgnoredAcks:           atomic.LoadUint64(&c.ignoredAcks),
		AcksSent:              atomic.LoadUint64(&c.acksSent),
		BytesDelivered:        atomic.LoadUint64(&c.bytesDelivered),
		RetransmittedArrivals: atomic.LoadUint64(&c.retransmittedArrivals),
	}
}
