// =============================================================================
// 文件: cmd/swp/main.go
// 描述: SWP 命令行入口 - send 把标准输入可靠地送到对端，recv 输出到标准输出
// =============================================================================
package main

import (
	"fmt"
	"os"
)

// 版本信息
var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}
