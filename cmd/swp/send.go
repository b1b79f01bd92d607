// =============================================================================
// 文件: cmd/swp/send.go
// 描述: send 子命令 - 逐行读取标准输入并发送
// =============================================================================
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrcgq/swp/internal/metrics"
	"github.com/mrcgq/swp/internal/swp"
)

type sendOptions struct {
	*globalOptions
	FlushTimeout time.Duration
	Input        string
}

func newSendCmd(g *globalOptions) *cobra.Command {
	o := &sendOptions{globalOptions: g, FlushTimeout: 30 * time.Second}

	cmd := &cobra.Command{
		Use:   "send",
		Short: "读取标准输入 (或 --input 文件) 并可靠地发送到接收端",
		Args:  cobra.NoArgs,
		RunE:  o.run,
	}
	cmd.Flags().DurationVar(&o.FlushTimeout, "flush-timeout", o.FlushTimeout, "输入结束后等待全部确认的最长时间")
	cmd.Flags().StringVarP(&o.Input, "input", "i", "", "输入文件 (默认标准输入)")
	return cmd
}

func (o *sendOptions) run(cmd *cobra.Command, args []string) error {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := newApplication(cfg, "sender")
	defer app.close()

	if err := app.startMetrics(ctx); err != nil {
		return err
	}

	link, err := app.dialLink(ctx)
	if err != nil {
		return fmt.Errorf("建立链路失败: %w", err)
	}

	sender, err := swp.NewSender(link, cfg.SWPConfig(), swp.WithLogger(app.log))
	if err != nil {
		link.Close()
		return err
	}
	defer sender.Close()

	app.registerSender(sender)
	app.printBanner()

	var in io.Reader = cmd.InOrStdin()
	if o.Input != "" {
		f, err := os.Open(o.Input)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	if err := o.pump(ctx, app, sender, in); err != nil {
		return err
	}

	flushCtx, cancel := context.WithTimeout(ctx, o.FlushTimeout)
	defer cancel()
	if err := sender.Flush(flushCtx); err != nil {
		app.recordError("flush")
		return fmt.Errorf("等待确认失败 (仍有 %d 段未确认): %w", sender.InFlight(), err)
	}

	st := sender.Stats()
	app.log.Infof("发送完成: %s, 重传 %d 次", app.transfer.Summary(), st.Retransmits)
	return nil
}

// pump 逐行发送，保留换行使接收端还原原始字节流
func (o *sendOptions) pump(ctx context.Context, app *application, sender *swp.Sender, in io.Reader) error {
	reader := bufio.NewReaderSize(in, 64*1024)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			if sendErr := sender.SendContext(ctx, line); sendErr != nil {
				app.recordError("send")
				return fmt.Errorf("发送失败: %w", sendErr)
			}
			app.recordMessage(metrics.DirectionSend, len(line))
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("读取输入失败: %w", err)
		}
	}
}
