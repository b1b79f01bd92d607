// =============================================================================
// 文件: cmd/swp/root.go
// 描述: 根命令与公共参数
// =============================================================================
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrcgq/swp/internal/config"
)

// globalOptions 所有子命令共享的参数
type globalOptions struct {
	ConfigFile string
	LogLevel   string
	LogFile    string

	LinkType string
	Listen   string
	Remote   string
	Loss     float64
	Dup      float64

	MSS        int
	Window     int
	RTO        time.Duration
	Metrics    bool
	MetricsOn  string
	configSeen bool // -c 是否显式指定
}

func newRootCmd() *cobra.Command {
	o := &globalOptions{ConfigFile: "config.yaml"}

	cmd := &cobra.Command{
		Use:   "swp",
		Short: "基于滑动窗口协议的可靠字节流 (UDP / WebSocket 数据报链路)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage: true,
	}

	f := cmd.PersistentFlags()
	f.StringVarP(&o.ConfigFile, "config", "c", o.ConfigFile, "配置文件路径 (不存在时使用默认配置)")
	f.StringVar(&o.LogLevel, "log-level", "", "日志级别: debug/info/error")
	f.StringVar(&o.LogFile, "log-file", "", "日志文件 (按大小自动轮转)")
	f.StringVar(&o.LinkType, "link", "", "链路类型: udp/websocket")
	f.StringVar(&o.Listen, "listen", "", "接收端监听地址")
	f.StringVar(&o.Remote, "remote", "", "发送端目标地址 host:port")
	f.Float64Var(&o.Loss, "loss", -1, "模拟丢包概率 [0,1)")
	f.Float64Var(&o.Dup, "dup", -1, "模拟重复概率 [0,1)")
	f.IntVar(&o.MSS, "mss", 0, "每段最大负载字节数")
	f.IntVar(&o.Window, "window", 0, "窗口大小 (段)")
	f.DurationVar(&o.RTO, "rto", 0, "重传超时, 例如 500ms")
	f.BoolVar(&o.Metrics, "metrics", false, "启用 Prometheus 监控")
	f.StringVar(&o.MetricsOn, "metrics-listen", "", "监控监听地址")

	cmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		o.configSeen = cmd.Flags().Changed("config")
	}

	cmd.AddCommand(newSendCmd(o))
	cmd.AddCommand(newRecvCmd(o))
	cmd.AddCommand(newGenConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// loadConfig 读取配置文件并应用命令行覆盖
func (o *globalOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.ConfigFile)
	if err != nil {
		// 未显式指定 -c 且默认文件不存在时使用默认配置
		if o.configSeen || !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		cfg = config.DefaultConfig()
	}

	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
	if o.LogFile != "" {
		cfg.LogFile = o.LogFile
	}
	if o.LinkType != "" {
		cfg.Link.Type = o.LinkType
	}
	if o.Listen != "" {
		cfg.Link.Listen = o.Listen
	}
	if o.Remote != "" {
		cfg.Link.Remote = o.Remote
	}
	if o.Loss >= 0 {
		cfg.Link.LossProbability = o.Loss
	}
	if o.Dup >= 0 {
		cfg.Link.DuplicateProbability = o.Dup
	}
	if o.MSS > 0 {
		cfg.SWP.MaxSegmentSize = o.MSS
	}
	if o.Window > 0 {
		cfg.SWP.WindowSize = o.Window
	}
	if o.RTO > 0 {
		cfg.SWP.RetransmitTimeoutMs = int(o.RTO / time.Millisecond)
	}
	if o.Metrics {
		cfg.Metrics.Enabled = true
	}
	if o.MetricsOn != "" {
		cfg.Metrics.Listen = o.MetricsOn
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// =============================================================================
// gen-config / version
// =============================================================================

func newGenConfigCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "gen-config",
		Short: "生成示例配置文件",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" || output == "-" {
				fmt.Fprint(cmd.OutOrStdout(), config.GenerateExampleConfig())
				return nil
			}
			if err := config.WriteExampleConfig(output); err != nil {
				return fmt.Errorf("写入配置失败: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "示例配置已写入 %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "输出路径 (默认标准输出)")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "显示版本",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "SWP v%s\n", Version)
			fmt.Fprintf(out, "  Build: %s\n", BuildTime)
			fmt.Fprintf(out, "  Commit: %s\n", GitCommit)
			fmt.Fprintf(out, "  Go: %s\n", runtime.Version())
			fmt.Fprintf(out, "  OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}
