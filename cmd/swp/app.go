// =============================================================================
// 文件: cmd/swp/app.go
// 描述: 运行时装配 - 日志、链路、监控、健康检查、横幅
// =============================================================================
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"github.com/dustin/go-humanize"

	"github.com/mrcgq/swp/internal/config"
	"github.com/mrcgq/swp/internal/logger"
	"github.com/mrcgq/swp/internal/metrics"
	"github.com/mrcgq/swp/internal/swp"
	"github.com/mrcgq/swp/internal/transport"
)

// application 一次 send / recv 运行所需的公共组件
type application struct {
	cfg  *config.Config
	role string
	log  *logger.Logger

	logCloser io.Closer
	acceptor  *transport.WebSocketAcceptor
	lossy     *transport.LossyLink
	udp       atomic.Pointer[transport.UDPLink] // 健康探针并发读取

	// 未启用监控时只作为指标容器，不监听端口
	monitor  *metrics.Server
	transfer *metrics.Transfer
}

func newApplication(cfg *config.Config, role string) *application {
	a := &application{
		cfg:      cfg,
		role:     role,
		transfer: metrics.NewTransfer(),
	}

	if cfg.LogFile != "" {
		a.logCloser = logger.SetOutputFile(logger.DefaultFileOptions(cfg.LogFile))
	} else {
		// 标准输出留给数据
		logger.SetOutput(os.Stderr)
	}
	a.log = logger.New(strings.ToUpper(role[:1])+role[1:], logger.ParseLevel(cfg.LogLevel))

	m := cfg.Metrics
	a.monitor = metrics.NewServer(metrics.ServerOptions{
		Listen:      m.Listen,
		MetricsPath: m.Path,
		HealthPath:  m.HealthPath,
		EnablePprof: m.EnablePprof,
		Version:     Version,
		Logger:      a.log,
	})
	a.monitor.SetComponent("link", a.linkHealth)
	return a
}

// startMetrics 启动监控服务 (未启用时为空操作)
func (a *application) startMetrics(ctx context.Context) error {
	if !a.cfg.Metrics.Enabled {
		return nil
	}
	return a.monitor.Start(ctx)
}

// linkHealth 丢包模拟过半时视为降级
func (a *application) linkHealth() metrics.ComponentHealth {
	ch := metrics.ComponentHealth{Status: metrics.StatusHealthy, Message: a.cfg.Link.Type}
	if a.cfg.Link.LossProbability >= 0.5 {
		ch.Status = metrics.StatusDegraded
		ch.Message = fmt.Sprintf("%s, 模拟丢包 %.0f%%", a.cfg.Link.Type, a.cfg.Link.LossProbability*100)
	}
	if u := a.udp.Load(); u != nil {
		sent, recv := u.Stats()
		ch.Message += fmt.Sprintf(", 数据报 发送 %d 接收 %d", sent, recv)
	}
	return ch
}

// wrapLink 按配置套上丢包模拟
func (a *application) wrapLink(link transport.Link) transport.Link {
	l := a.cfg.Link
	if l.LossProbability == 0 && l.DuplicateProbability == 0 {
		return link
	}
	a.lossy = transport.NewLossyLink(link, transport.LossyOptions{
		LossProbability:      l.LossProbability,
		DuplicateProbability: l.DuplicateProbability,
	})
	a.log.Infof("丢包模拟: loss=%.2f dup=%.2f", l.LossProbability, l.DuplicateProbability)
	return a.lossy
}

func (a *application) udpOptions() transport.UDPOptions {
	opts := transport.DefaultUDPOptions()
	if a.cfg.Link.ReadBufferSize > 0 {
		opts.ReadBufferSize = a.cfg.Link.ReadBufferSize
	}
	if a.cfg.Link.WriteBufferSize > 0 {
		opts.WriteBufferSize = a.cfg.Link.WriteBufferSize
	}
	opts.Logger = a.log
	return opts
}

// dialLink 发送端链路
func (a *application) dialLink(ctx context.Context) (transport.Link, error) {
	switch a.cfg.Link.Type {
	case config.LinkWebSocket:
		url := a.cfg.WebSocketURL()
		link, err := transport.DialWebSocket(ctx, url)
		if err != nil {
			return nil, err
		}
		a.log.Infof("已连接 %s", url)
		return a.wrapLink(link), nil
	default:
		link, err := transport.DialUDP(a.cfg.Link.Remote, a.udpOptions())
		if err != nil {
			return nil, err
		}
		a.udp.Store(link)
		a.log.Infof("UDP 目标 %s (本地 %s)", a.cfg.Link.Remote, link.LocalAddr())
		return a.wrapLink(link), nil
	}
}

// listenLink 接收端链路，websocket 时等待第一个连接
func (a *application) listenLink(ctx context.Context) (transport.Link, error) {
	switch a.cfg.Link.Type {
	case config.LinkWebSocket:
		a.acceptor = transport.NewWebSocketAcceptor(a.log)
		if err := a.acceptor.ListenAndServe(a.cfg.Link.Listen, a.cfg.Link.Path); err != nil {
			return nil, err
		}
		a.log.Infof("等待 WebSocket 连接...")
		link, err := a.acceptor.Accept(ctx)
		if err != nil {
			return nil, err
		}
		return a.wrapLink(link), nil
	default:
		link, err := transport.ListenUDP(a.cfg.Link.Listen, a.udpOptions())
		if err != nil {
			return nil, err
		}
		a.udp.Store(link)
		a.log.Infof("UDP 监听 %s", link.LocalAddr())
		return a.wrapLink(link), nil
	}
}

// registerSender 发送端接入监控
func (a *application) registerSender(sender *swp.Sender) {
	a.monitor.Endpoints().AddSender(sender)
	a.registerLink(sender.ID())
	a.monitor.SetComponent(a.role, func() metrics.ComponentHealth {
		st := sender.Stats()
		return metrics.ComponentHealth{
			Status:  metrics.StatusHealthy,
			Message: fmt.Sprintf("in_flight=%d next_seq=%d retransmits=%d", st.InFlight, st.NextSeq, st.Retransmits),
		}
	})
}

// registerReceiver 接收端接入监控
func (a *application) registerReceiver(receiver *swp.Receiver) {
	a.monitor.Endpoints().AddReceiver(receiver)
	a.registerLink(receiver.ID())
	a.monitor.SetComponent(a.role, func() metrics.ComponentHealth {
		st := receiver.Stats()
		return metrics.ComponentHealth{
			Status:  metrics.StatusHealthy,
			Message: fmt.Sprintf("frontier=%d buffered=%d window_drops=%d", st.Frontier, st.Buffered, st.WindowDrops),
		}
	})
}

// registerLink 链路统计挂到端点 ID 下
func (a *application) registerLink(id string) {
	if a.lossy != nil {
		a.monitor.Endpoints().AddLink(id, a.lossy)
	}
}

// recordMessage 记录一条应用消息
func (a *application) recordMessage(direction string, n int) {
	a.transfer.Add(n)
	a.monitor.App().RecordMessage(direction, n)
}

// recordError 记录一次应用层错误
func (a *application) recordError(kind string) {
	a.monitor.App().RecordError(kind)
}

// close 释放公共组件
func (a *application) close() {
	if a.acceptor != nil {
		a.acceptor.Close()
	}
	a.monitor.SetAlive(false)
	a.monitor.Stop()
	if a.lossy != nil {
		a.log.Infof("丢包模拟: 丢弃 %d, 重复 %d", a.lossy.Dropped(), a.lossy.Duplicated())
	}
	if u := a.udp.Load(); u != nil {
		sent, recv := u.Stats()
		a.log.Infof("UDP 数据报: 发送 %d, 接收 %d", sent, recv)
	}
	if a.logCloser != nil {
		a.logCloser.Close()
		logger.SetOutput(os.Stderr)
	}
}

// printBanner 启动横幅 (标准错误)
func (a *application) printBanner() {
	c := a.cfg
	addr := c.Link.Remote
	if a.role == "receiver" {
		addr = c.Link.Listen
	}

	w := os.Stderr
	fmt.Fprintln(w)
	fmt.Fprintln(w, "╔══════════════════════════════════════════════════════════════════╗")
	fmt.Fprintf(w, "║  SWP v%-59s║\n", Version)
	fmt.Fprintln(w, "╠══════════════════════════════════════════════════════════════════╣")
	fmt.Fprintf(w, "║  角色: %-58s║\n", a.role)
	fmt.Fprintf(w, "║  链路: %-58s║\n", c.Link.Type+" "+addr)
	fmt.Fprintf(w, "║  分段: %-58s║\n", humanize.IBytes(uint64(c.SWP.MaxSegmentSize)))
	fmt.Fprintf(w, "║  窗口: %-58s║\n", fmt.Sprintf("%d 段", c.SWP.WindowSize))
	fmt.Fprintf(w, "║  重传: %-58s║\n", c.RetransmitTimeout())
	fmt.Fprintf(w, "║  日志: %-58s║\n", logger.LevelName(a.log.Level()))
	if c.Link.LossProbability > 0 {
		fmt.Fprintf(w, "║  丢包: %-58s║\n", fmt.Sprintf("%.0f%%", c.Link.LossProbability*100))
	}
	if url := a.monitor.URL(); url != "" {
		fmt.Fprintf(w, "║  监控: %-58s║\n", url)
	}
	fmt.Fprintln(w, "╚══════════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(w)
}
