// =============================================================================
// 文件: cmd/swp/recv.go
// 描述: recv 子命令 - 把按序到达的数据写到标准输出
// =============================================================================
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mrcgq/swp/internal/metrics"
	"github.com/mrcgq/swp/internal/swp"
)

type recvOptions struct {
	*globalOptions
	Output string
	Limit  int64
}

func newRecvCmd(g *globalOptions) *cobra.Command {
	o := &recvOptions{globalOptions: g}

	cmd := &cobra.Command{
		Use:   "recv",
		Short: "接收数据并按序写到标准输出 (或 --output 文件)，Ctrl+C 结束",
		Args:  cobra.NoArgs,
		RunE:  o.run,
	}
	cmd.Flags().StringVarP(&o.Output, "output", "o", "", "输出文件 (默认标准输出)")
	cmd.Flags().Int64Var(&o.Limit, "limit", 0, "收到指定字节数后退出 (0 表示不限)")
	return cmd
}

func (o *recvOptions) run(cmd *cobra.Command, args []string) error {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := newApplication(cfg, "receiver")
	defer app.close()

	if err := app.startMetrics(ctx); err != nil {
		return err
	}
	app.printBanner()

	link, err := app.listenLink(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("建立链路失败: %w", err)
	}

	receiver, err := swp.NewReceiver(link, cfg.SWPConfig(), swp.WithLogger(app.log))
	if err != nil {
		link.Close()
		return err
	}
	defer receiver.Close()

	app.registerReceiver(receiver)

	var out io.Writer = cmd.OutOrStdout()
	if o.Output != "" {
		f, err := os.Create(o.Output)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	if err := o.drain(ctx, app, receiver, out); err != nil {
		return err
	}

	st := receiver.Stats()
	app.log.Infof("接收结束: %s, 重复 %d, 乱序 %d", app.transfer.Summary(), st.Duplicates, st.OutOfOrder)
	return nil
}

// drain 读取直到 ctx 结束或达到 limit
func (o *recvOptions) drain(ctx context.Context, app *application, receiver *swp.Receiver, out io.Writer) error {
	w := bufio.NewWriter(out)
	defer w.Flush()

	var total int64
	for o.Limit == 0 || total < o.Limit {
		chunk, err := receiver.RecvContext(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, swp.ErrClosed) {
				return nil
			}
			return err
		}

		if _, err := w.Write(chunk); err != nil {
			app.recordError("write")
			return fmt.Errorf("写出失败: %w", err)
		}
		// 没有更多就绪数据时立即刷出，保证交互式使用时逐行可见
		if receiver.Ready() == 0 {
			if err := w.Flush(); err != nil {
				return err
			}
		}

		total += int64(len(chunk))
		app.recordMessage(metrics.DirectionRecv, len(chunk))
	}
	return nil
}
