// =============================================================================
// 文件: internal/metrics/server.go
// 描述: 监控服务 - Prometheus 指标、端点健康汇总、可选 pprof
// =============================================================================
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mrcgq/swp/internal/logger"
)

// 健康状态取值，按严重程度递增
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

var statusRank = map[string]int{
	StatusHealthy:   0,
	StatusDegraded:  1,
	StatusUnhealthy: 2,
}

// worse 取两者中更严重的状态
func worse(a, b string) string {
	if statusRank[b] > statusRank[a] {
		return b
	}
	return a
}

// ServerOptions 监控服务参数
type ServerOptions struct {
	Listen      string
	MetricsPath string
	HealthPath  string
	EnablePprof bool
	Version     string
	Logger      *logger.Logger
}

// HealthStatus 健康状态
type HealthStatus struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Uptime     string                     `json:"uptime,omitempty"`
	Endpoints  int                        `json:"endpoints"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

// ComponentHealth 组件健康状态
type ComponentHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Server 监控服务
//
// 端点注册到 Endpoints() 后才算就绪；组件探针决定整体健康度。
// 未调用 Start 时仍可作为指标容器使用。
type Server struct {
	opts      ServerOptions
	registry  *prometheus.Registry
	endpoints *EndpointCollector
	app       *AppMetrics
	log       *logger.Logger
	startedAt time.Time

	httpServer *http.Server
	listener   net.Listener
	wg         sync.WaitGroup

	alive int32

	mu         sync.RWMutex
	components map[string]func() ComponentHealth
}

// NewServer 创建监控服务
func NewServer(opts ServerOptions) *Server {
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}
	if opts.HealthPath == "" {
		opts.HealthPath = "/health"
	}

	// 自定义 registry，避免污染全局
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	endpoints := NewEndpointCollector()
	registry.MustRegister(endpoints)

	return &Server{
		opts:       opts,
		registry:   registry,
		endpoints:  endpoints,
		app:        NewAppMetrics(registry),
		log:        opts.Logger.Named("Metrics"),
		startedAt:  time.Now(),
		alive:      1,
		components: make(map[string]func() ComponentHealth),
	}
}

// Endpoints 端点收集器
func (s *Server) Endpoints() *EndpointCollector { return s.endpoints }

// App 应用层指标
func (s *Server) App() *AppMetrics { return s.app }

// Registry 底层 registry
func (s *Server) Registry() *prometheus.Registry { return s.registry }

// SetComponent 设置组件探针，fn 为 nil 时移除
func (s *Server) SetComponent(name string, fn func() ComponentHealth) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn == nil {
		delete(s.components, name)
		return
	}
	s.components[name] = fn
}

// SetAlive 设置存活状态
func (s *Server) SetAlive(alive bool) {
	if alive {
		atomic.StoreInt32(&s.alive, 1)
	} else {
		atomic.StoreInt32(&s.alive, 0)
	}
}

// Health 汇总当前健康状态
func (s *Server) Health() HealthStatus {
	status := HealthStatus{
		Status:     StatusHealthy,
		Timestamp:  time.Now(),
		Version:    s.opts.Version,
		Uptime:     time.Since(s.startedAt).Round(time.Second).String(),
		Endpoints:  s.endpoints.Len(),
		Components: make(map[string]ComponentHealth),
	}

	s.mu.RLock()
	for name, fn := range s.components {
		ch := fn()
		status.Components[name] = ch
		status.Status = worse(status.Status, ch.Status)
	}
	s.mu.RUnlock()

	// 链路尚未建立
	if status.Endpoints == 0 {
		status.Status = worse(status.Status, StatusDegraded)
	}
	return status
}

// Handler 构建路由
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc(s.opts.HealthPath, s.handleHealth)
	mux.HandleFunc(s.opts.HealthPath+"/live", s.handleLiveness)
	mux.HandleFunc(s.opts.HealthPath+"/ready", s.handleReadiness)

	mux.Handle(s.opts.MetricsPath, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Registry:          s.registry,
	}))

	if s.opts.EnablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return mux
}

// Start 监听并在后台提供服务，监听失败时立即返回错误
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Listen)
	if err != nil {
		return fmt.Errorf("监听 %s 失败: %w", s.opts.Listen, err)
	}
	s.listener = ln

	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Errorf("服务器错误: %v", err)
		}
	}()

	s.log.Infof("监控服务已启动: http://%s%s", ln.Addr(), s.opts.MetricsPath)
	return nil
}

// Addr 实际监听地址，Start 之前为 nil
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// URL 指标地址
func (s *Server) URL() string {
	if s.listener == nil {
		return ""
	}
	return "http://" + s.listener.Addr().String() + s.opts.MetricsPath
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.Health()

	w.Header().Set("Content-Type", "application/json")
	if status.Status != StatusHealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(status)
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if atomic.LoadInt32(&s.alive) == 1 {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	w.Write([]byte("NOT OK"))
}

// handleReadiness 至少一个端点在工作且没有组件失效
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	status := s.Health()
	if status.Endpoints > 0 && status.Status != StatusUnhealthy {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("READY"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	w.Write([]byte("NOT READY"))
}

// Stop 停止服务 (未启动时为空操作)
func (s *Server) Stop() {
	if s.httpServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.httpServer.Shutdown(ctx)
	s.wg.Wait()
}
