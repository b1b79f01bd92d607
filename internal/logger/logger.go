// =============================================================================
// 文件: internal/logger/logger.go
// 描述: 分级日志 - 各组件统一格式 "[INFO] 15:04:05 [Sender] ..."
//       支持输出到滚动日志文件
// =============================================================================
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// 日志级别
const (
	LevelError = 0
	LevelInfo  = 1
	LevelDebug = 2
)

var prefixes = map[int]string{
	LevelError: "[ERROR]",
	LevelInfo:  "[INFO]",
	LevelDebug: "[DEBUG]",
}

var (
	output io.Writer = os.Stdout
	outMu  sync.Mutex
)

// ParseLevel 解析日志级别字符串，未知值按 info 处理
func ParseLevel(s string) int {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// LevelName 级别名称
func LevelName(level int) string {
	switch level {
	case LevelError:
		return "error"
	case LevelDebug:
		return "debug"
	default:
		return "info"
	}
}

// SetOutput 设置全局输出
func SetOutput(w io.Writer) {
	outMu.Lock()
	defer outMu.Unlock()
	output = w
}

// FileOptions 日志文件滚动参数
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// DefaultFileOptions 默认滚动参数
func DefaultFileOptions(path string) FileOptions {
	return FileOptions{
		Path:       path,
		MaxSizeMB:  10,
		MaxBackups: 3,
		MaxAgeDays: 28,
		Compress:   true,
	}
}

// SetOutputFile 输出到滚动日志文件，返回的 Closer 在退出时关闭
func SetOutputFile(opts FileOptions) io.Closer {
	lj := &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	}
	SetOutput(lj)
	return lj
}

// Logger 组件日志器
type Logger struct {
	component string
	level     int
}

// New 创建组件日志器
func New(component string, level int) *Logger {
	return &Logger{
		component: component,
		level:     level,
	}
}

// Named 派生一个同级别、不同组件名的日志器
func (l *Logger) Named(component string) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{
		component: component,
		level:     l.level,
	}
}

// Level 当前级别
func (l *Logger) Level() int {
	if l == nil {
		return LevelError
	}
	return l.level
}

// Enabled 是否输出该级别
func (l *Logger) Enabled(level int) bool {
	return l != nil && level <= l.level
}

// Log 输出日志，nil Logger 静默
func (l *Logger) Log(level int, format string, args ...interface{}) {
	if !l.Enabled(level) {
		return
	}

	line := fmt.Sprintf("%s %s [%s] %s\n",
		prefixes[level],
		time.Now().Format("15:04:05"),
		l.component,
		fmt.Sprintf(format, args...))

	outMu.Lock()
	io.WriteString(output, line)
	outMu.Unlock()
}

// Errorf 错误日志
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.Log(LevelError, format, args...)
}

// Infof 信息日志
func (l *Logger) Infof(format string, args ...interface{}) {
	l.Log(LevelInfo, format, args...)
}

// Debugf 调试日志
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.Log(LevelDebug, format, args...)
}
