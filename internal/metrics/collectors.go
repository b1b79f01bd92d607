// =============================================================================
// 文件: internal/metrics/collectors.go
// 描述: Prometheus 指标收集器 - 采集时拉取各端点的统计快照
// =============================================================================
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mrcgq/swp/internal/swp"
)

const namespace = "swp"

// SenderStats 发送端统计接口
type SenderStats interface {
	ID() string
	Stats() swp.SenderStats
}

// ReceiverStats 接收端统计接口
type ReceiverStats interface {
	ID() string
	Stats() swp.ReceiverStats
}

// LinkStats 丢包模拟链路统计接口
type LinkStats interface {
	Dropped() uint64
	Duplicated() uint64
}

// =============================================================================
// EndpointCollector
// =============================================================================

// EndpointCollector 端点指标收集器
type EndpointCollector struct {
	mu        sync.RWMutex
	senders   map[string]SenderStats
	receivers map[string]ReceiverStats
	links     map[string]LinkStats

	// 发送端
	segmentsSentDesc *prometheus.Desc
	retransmitsDesc  *prometheus.Desc
	acksRecvDesc     *prometheus.Desc
	staleAcksDesc    *prometheus.Desc
	bytesSentDesc    *prometheus.Desc
	inFlightDesc     *prometheus.Desc
	timerFiresDesc   *prometheus.Desc

	// 接收端
	segmentsRecvDesc   *prometheus.Desc
	duplicatesDesc     *prometheus.Desc
	outOfOrderDesc     *prometheus.Desc
	windowDropsDesc    *prometheus.Desc
	malformedDesc      *prometheus.Desc
	acksSentDesc       *prometheus.Desc
	bytesDeliveredDesc *prometheus.Desc
	retransArrivalDesc *prometheus.Desc
	frontierDesc       *prometheus.Desc
	bufferedDesc       *prometheus.Desc
	readyBytesDesc     *prometheus.Desc

	// 链路
	linkDroppedDesc    *prometheus.Desc
	linkDuplicatedDesc *prometheus.Desc
}

// NewEndpointCollector 创建端点收集器
func NewEndpointCollector() *EndpointCollector {
	label := []string{"endpoint"}
	desc := func(subsystem, name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, label, nil)
	}

	return &EndpointCollector{
		senders:   make(map[string]SenderStats),
		receivers: make(map[string]ReceiverStats),
		links:     make(map[string]LinkStats),

		segmentsSentDesc: desc("sender", "segments_sent_total", "Segments transmitted for the first time"),
		retransmitsDesc:  desc("sender", "retransmits_total", "Segments retransmitted after timeout"),
		acksRecvDesc:     desc("sender", "acks_received_total", "ACK packets processed"),
		staleAcksDesc:    desc("sender", "stale_acks_total", "ACK packets that acknowledged nothing new"),
		bytesSentDesc:    desc("sender", "bytes_sent_total", "Payload bytes transmitted for the first time"),
		inFlightDesc:     desc("sender", "in_flight", "Unacknowledged segments"),
		timerFiresDesc:   desc("sender", "timer_fires_total", "Retransmission timers that fired"),

		segmentsRecvDesc:   desc("receiver", "segments_received_total", "DATA packets received"),
		duplicatesDesc:     desc("receiver", "duplicates_total", "DATA packets carrying no new bytes"),
		outOfOrderDesc:     desc("receiver", "out_of_order_total", "DATA packets starting beyond the ack frontier"),
		windowDropsDesc:    desc("receiver", "window_drops_total", "Spans discarded because the receive window was full"),
		malformedDesc:      desc("receiver", "malformed_total", "Datagrams that failed to decode"),
		acksSentDesc:       desc("receiver", "acks_sent_total", "ACK packets sent"),
		bytesDeliveredDesc: desc("receiver", "bytes_delivered_total", "Bytes handed to the delivery queue"),
		retransArrivalDesc: desc("receiver", "retransmitted_arrivals_total", "DATA packets seen before (approximate)"),
		frontierDesc:       desc("receiver", "frontier", "Cumulative ack frontier"),
		bufferedDesc:       desc("receiver", "buffered", "Out-of-order spans buffered"),
		readyBytesDesc:     desc("receiver", "ready_bytes", "Bytes waiting in the delivery queue"),

		linkDroppedDesc:    desc("link", "dropped_total", "Datagrams dropped by loss simulation"),
		linkDuplicatedDesc: desc("link", "duplicated_total", "Datagrams duplicated by loss simulation"),
	}
}

// AddSender 注册发送端
func (c *EndpointCollector) AddSender(s SenderStats) {
	c.mu.Lock()
	c.senders[s.ID()] = s
	c.mu.Unlock()
}

// AddReceiver 注册接收端
func (c *EndpointCollector) AddReceiver(r ReceiverStats) {
	c.mu.Lock()
	c.receivers[r.ID()] = r
	c.mu.Unlock()
}

// AddLink 注册链路，id 通常与所属端点一致
func (c *EndpointCollector) AddLink(id string, l LinkStats) {
	c.mu.Lock()
	c.links[id] = l
	c.mu.Unlock()
}

// Remove 注销端点及其链路
func (c *EndpointCollector) Remove(id string) {
	c.mu.Lock()
	delete(c.senders, id)
	delete(c.receivers, id)
	delete(c.links, id)
	c.mu.Unlock()
}

// Len 已注册的端点数
func (c *EndpointCollector) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.senders) + len(c.receivers)
}

// Describe 实现 prometheus.Collector
func (c *EndpointCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.segmentsSentDesc, c.retransmitsDesc, c.acksRecvDesc, c.staleAcksDesc,
		c.bytesSentDesc, c.inFlightDesc, c.timerFiresDesc,
		c.segmentsRecvDesc, c.duplicatesDesc, c.outOfOrderDesc, c.windowDropsDesc,
		c.malformedDesc, c.acksSentDesc, c.bytesDeliveredDesc, c.retransArrivalDesc,
		c.frontierDesc, c.bufferedDesc, c.readyBytesDesc,
		c.linkDroppedDesc, c.linkDuplicatedDesc,
	} {
		ch <- d
	}
}

// Collect 实现 prometheus.Collector
func (c *EndpointCollector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	counter := func(d *prometheus.Desc, v uint64, id string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), id)
	}
	gauge := func(d *prometheus.Desc, v float64, id string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, id)
	}

	for id, s := range c.senders {
		st := s.Stats()
		counter(c.segmentsSentDesc, st.SegmentsSent, id)
		counter(c.retransmitsDesc, st.Retransmits, id)
		counter(c.acksRecvDesc, st.AcksReceived, id)
		counter(c.staleAcksDesc, st.StaleAcks, id)
		counter(c.bytesSentDesc, st.BytesSent, id)
		gauge(c.inFlightDesc, float64(st.InFlight), id)
		counter(c.timerFiresDesc, st.TimerFires, id)
	}

	for id, r := range c.receivers {
		st := r.Stats()
		counter(c.segmentsRecvDesc, st.SegmentsReceived, id)
		counter(c.duplicatesDesc, st.Duplicates, id)
		counter(c.outOfOrderDesc, st.OutOfOrder, id)
		counter(c.windowDropsDesc, st.WindowDrops, id)
		counter(c.malformedDesc, st.Malformed, id)
		counter(c.acksSentDesc, st.AcksSent, id)
		counter(c.bytesDeliveredDesc, st.BytesDelivered, id)
		counter(c.retransArrivalDesc, st.RetransmittedArrivals, id)
		gauge(c.frontierDesc, float64(st.Frontier), id)
		gauge(c.bufferedDesc, float64(st.Buffered), id)
		gauge(c.readyBytesDesc, float64(st.ReadyBytes), id)
	}

	for id, l := range c.links {
		counter(c.linkDroppedDesc, l.Dropped(), id)
		counter(c.linkDuplicatedDesc, l.Duplicated(), id)
	}
}
