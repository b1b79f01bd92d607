// =============================================================================
// 文件: internal/config/config.go
// 描述: 配置管理 - SWP 参数、链路、监控，端口冲突检测
// =============================================================================
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mrcgq/swp/internal/protocol"
	"github.com/mrcgq/swp/internal/swp"
)

// ErrInvalid 配置校验失败
var ErrInvalid = errors.New("配置无效")

// 链路类型
const (
	LinkUDP       = "udp"
	LinkWebSocket = "websocket"
)

// Config 主配置
type Config struct {
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`

	SWP     SWPConfig     `yaml:"swp"`
	Link    LinkConfig    `yaml:"link"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// SWPConfig 滑动窗口参数
type SWPConfig struct {
	MaxSegmentSize      int `yaml:"max_segment_size"`
	WindowSize          int `yaml:"window_size"`
	RetransmitTimeoutMs int `yaml:"retransmit_timeout_ms"`
}

// LinkConfig 数据报链路配置
type LinkConfig struct {
	Type                 string  `yaml:"type"`
	Listen               string  `yaml:"listen"` // 接收端监听地址
	Remote               string  `yaml:"remote"` // 发送端目标地址 (websocket 时为 host:port)
	Path                 string  `yaml:"path"`   // websocket 路径
	LossProbability      float64 `yaml:"loss_probability"`
	DuplicateProbability float64 `yaml:"duplicate_probability"`
	ReadBufferSize       int     `yaml:"read_buffer_size"`
	WriteBufferSize      int     `yaml:"write_buffer_size"`
}

// MetricsConfig 监控配置
type MetricsConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Listen      string `yaml:"listen"`
	Path        string `yaml:"path"`
	HealthPath  string `yaml:"health_path"`
	EnablePprof bool   `yaml:"enable_pprof"`
}

// Load 加载配置
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",

		SWP: SWPConfig{
			MaxSegmentSize:      protocol.MaxSegmentSize,
			WindowSize:          swp.DefaultWindowSize,
			RetransmitTimeoutMs: int(swp.DefaultRetransmitTimeout / time.Millisecond),
		},

		Link: LinkConfig{
			Type:   LinkUDP,
			Listen: ":9090",
			Remote: "127.0.0.1:9090",
			Path:   "/swp",
		},

		Metrics: MetricsConfig{
			Enabled:     false,
			Listen:      ":9100",
			Path:        "/metrics",
			HealthPath:  "/health",
			EnablePprof: false,
		},
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "error":
	default:
		return fmt.Errorf("%w: log_level 只能是 debug/info/error，当前 %q", ErrInvalid, c.LogLevel)
	}

	if err := c.validateSWPConfig(); err != nil {
		return err
	}
	if err := c.validateLinkConfig(); err != nil {
		return err
	}
	return c.validateMetricsConfig()
}

// validateSWPConfig 验证滑动窗口参数
func (c *Config) validateSWPConfig() error {
	if c.SWP.MaxSegmentSize < 1 || c.SWP.MaxSegmentSize > protocol.MaxSegmentSize {
		return fmt.Errorf("%w: swp.max_segment_size 需在 1-%d 之间", ErrInvalid, protocol.MaxSegmentSize)
	}
	if c.SWP.WindowSize < 1 {
		return fmt.Errorf("%w: swp.window_size 必须 >= 1", ErrInvalid)
	}
	if c.SWP.RetransmitTimeoutMs <= 0 {
		return fmt.Errorf("%w: swp.retransmit_timeout_ms 必须 > 0", ErrInvalid)
	}
	return nil
}

// validateLinkConfig 验证链路配置
func (c *Config) validateLinkConfig() error {
	switch c.Link.Type {
	case LinkUDP, LinkWebSocket:
	default:
		return fmt.Errorf("%w: link.type 只能是 udp 或 websocket，当前 %q", ErrInvalid, c.Link.Type)
	}

	if _, err := parsePort(c.Link.Listen); err != nil {
		return fmt.Errorf("%w: link.listen 端口无效: %v", ErrInvalid, err)
	}
	if _, _, err := net.SplitHostPort(c.Link.Remote); err != nil {
		return fmt.Errorf("%w: link.remote 格式应为 host:port: %v", ErrInvalid, err)
	}

	if c.Link.Type == LinkWebSocket {
		if c.Link.Path == "" {
			c.Link.Path = "/swp"
		}
		if !strings.HasPrefix(c.Link.Path, "/") {
			return fmt.Errorf("%w: link.path 必须以 / 开头", ErrInvalid)
		}
	}

	if c.Link.LossProbability < 0 || c.Link.LossProbability >= 1 {
		return fmt.Errorf("%w: link.loss_probability 需在 [0,1) 之间", ErrInvalid)
	}
	if c.Link.DuplicateProbability < 0 || c.Link.DuplicateProbability >= 1 {
		return fmt.Errorf("%w: link.duplicate_probability 需在 [0,1) 之间", ErrInvalid)
	}
	if c.Link.ReadBufferSize < 0 || c.Link.WriteBufferSize < 0 {
		return fmt.Errorf("%w: link 缓冲区大小不能为负数", ErrInvalid)
	}
	return nil
}

// validateMetricsConfig 验证监控配置，端口不能与链路监听冲突
func (c *Config) validateMetricsConfig() error {
	if !c.Metrics.Enabled {
		return nil
	}

	metricsPort, err := parsePort(c.Metrics.Listen)
	if err != nil {
		return fmt.Errorf("%w: metrics.listen 端口无效: %v", ErrInvalid, err)
	}
	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("%w: metrics.path 必须以 / 开头", ErrInvalid)
	}
	if c.Metrics.HealthPath != "" && !strings.HasPrefix(c.Metrics.HealthPath, "/") {
		return fmt.Errorf("%w: metrics.health_path 必须以 / 开头", ErrInvalid)
	}

	// UDP 与 TCP 端口空间不同，只有 websocket 链路会和监控 HTTP 服务冲突
	if c.Link.Type == LinkWebSocket && metricsPort == c.GetListenPort() {
		return fmt.Errorf("%w: metrics.listen (%d) 与 link.listen 端口冲突", ErrInvalid, metricsPort)
	}
	return nil
}

// parsePort 解析端口号
func parsePort(addr string) (int, error) {
	var port int
	var err error
	if strings.HasPrefix(addr, ":") {
		port, err = strconv.Atoi(addr[1:])
	} else if _, portStr, splitErr := net.SplitHostPort(addr); splitErr == nil {
		port, err = strconv.Atoi(portStr)
	} else {
		port, err = strconv.Atoi(addr)
	}
	if err != nil {
		return 0, err
	}
	if port < 0 || port > 65535 {
		return 0, fmt.Errorf("端口超出范围: %d", port)
	}
	return port, nil
}

// GetListenPort 获取链路监听端口
func (c *Config) GetListenPort() int {
	port, _ := parsePort(c.Link.Listen)
	return port
}

// RetransmitTimeout 重传超时
func (c *Config) RetransmitTimeout() time.Duration {
	return time.Duration(c.SWP.RetransmitTimeoutMs) * time.Millisecond
}

// SWPConfig 转换为 swp 包的端点配置
func (c *Config) SWPConfig() *swp.Config {
	return &swp.Config{
		MaxSegmentSize:    c.SWP.MaxSegmentSize,
		WindowSize:        c.SWP.WindowSize,
		RetransmitTimeout: c.RetransmitTimeout(),
	}
}

// WebSocketURL 发送端连接的 WebSocket 地址
func (c *Config) WebSocketURL() string {
	return "ws://" + c.Link.Remote + c.Link.Path
}

// =============================================================================
// 配置文件示例生成
// =============================================================================

// GenerateExampleConfig 生成示例配置
func GenerateExampleConfig() string {
	return `# SWP 配置文件示例
# =============================================================================

log_level: "info"                   # 日志级别: debug, info, error
log_file: ""                        # 日志文件 (留空输出到终端，按大小自动轮转)

# 滑动窗口参数 (发送端与接收端应保持一致)
swp:
  max_segment_size: 1400            # 每段最大负载字节数 (1-1400)
  window_size: 5                    # 窗口大小 (段)
  retransmit_timeout_ms: 1000       # 单段重传超时 (毫秒)

# 数据报链路
link:
  type: "udp"                       # udp 或 websocket
  listen: ":9090"                   # 接收端监听地址
  remote: "127.0.0.1:9090"          # 发送端目标地址
  path: "/swp"                      # websocket 路径
  loss_probability: 0               # 模拟丢包概率 [0,1)
  duplicate_probability: 0          # 模拟重复概率 [0,1)
  read_buffer_size: 0               # UDP 读缓冲区 (0 使用默认值)
  write_buffer_size: 0              # UDP 写缓冲区 (0 使用默认值)

# Prometheus 监控
metrics:
  enabled: false
  listen: ":9100"
  path: "/metrics"
  health_path: "/health"
  enable_pprof: false
`
}

// WriteExampleConfig 写入示例配置文件
func WriteExampleConfig(path string) error {
	return os.WriteFile(path, []byte(GenerateExampleConfig()), 0644)
}
