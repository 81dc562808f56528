// =============================================================================
// 文件: cmd/wraith-client/main.go
// 描述: 客户端入口 - 标准输入逐行发送, 断线自动重连
// =============================================================================
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/mrcgq/307/internal/config"
	"github.com/mrcgq/307/internal/retrans"
	"github.com/mrcgq/307/internal/transport"
)

var (
	Version   = "1.2.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	configPath := flag.String("c", "", "配置文件路径 (可选)")
	showVersion := flag.Bool("v", false, "显示版本")
	url := flag.String("url", "", "服务端地址, 如 ws://127.0.0.1:28080/ws")
	insecure := flag.Bool("insecure", false, "跳过 TLS 证书校验 (仅测试)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("Wraith Client v%s\n", Version)
		fmt.Printf("Build: %s\n", BuildTime)
		fmt.Printf("Commit: %s\n", GitCommit)
		fmt.Printf("Go: %s\n", runtime.Version())
		fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		return
	}

	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[ERROR] 配置错误: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *url != "" {
		cfg.URL = *url
	}
	if *insecure {
		cfg.WebSocket.Insecure = true
	}
	if cfg.URL == "" {
		fmt.Fprintln(os.Stderr, "[ERROR] 必须指定服务端地址 (-url 或配置文件中的 url)")
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "[ERROR] 运行失败: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	dialer := transport.NewDialer(cfg.URL)
	dialer.Host = cfg.WebSocket.Host
	dialer.Insecure = cfg.WebSocket.Insecure

	engineCfg := cfg.Retrans.ToEngineConfig(cfg.LogLevel)
	engineCfg.Factory = dialer.Factory()

	closed := make(chan struct{})
	handler := &consoleHandler{closed: closed}
	engine := retrans.New(engineCfg, handler)

	t, err := dialer.Dial()
	if err != nil {
		return err
	}
	if err := engine.UseTransport(t); err != nil {
		return err
	}

	// 标准输入逐行发送
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			if err := engine.SendText(line); err != nil {
				fmt.Printf("[WARN] 发送失败: %v\n", err)
				return
			}
		}
		// 输入结束, 发起正常关闭
		engine.Close(retrans.CloseCodeNormal, "input closed")
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		fmt.Printf("\n[INFO] 收到信号 %v, 发起关闭...\n", sig)
		engine.Close(retrans.CloseCodeNormal, "client exit")
		select {
		case <-closed:
		case <-time.After(5 * time.Second):
			fmt.Println("[WARN] 等待关闭确认超时")
		}
	case <-closed:
	}

	printStats(engine.Stats())
	return nil
}

func printStats(s retrans.Stats) {
	fmt.Printf("\n=== 会话统计 ===\n")
	fmt.Printf("状态: %s\n", s.State)
	fmt.Printf("发送消息: %d\n", s.MessagesSent)
	fmt.Printf("投递消息: %d\n", s.MessagesDelivered)
	fmt.Printf("重放帧: %d\n", s.FramesReplayed)
	fmt.Printf("重连次数: %d\n", s.Reconnects)
	fmt.Printf("去重丢弃: %d\n", s.DuplicatesDropped)
	fmt.Printf("运行时长: %s\n", s.Uptime.Round(time.Second))
	fmt.Printf("================\n")
}

// consoleHandler 投递的消息打印到标准输出
type consoleHandler struct {
	closed chan struct{}
}

func (h *consoleHandler) OnOpen() {
	fmt.Println("[INFO] 会话建立")
}

func (h *consoleHandler) OnMessage(msg retrans.Message) {
	if msg.Kind == retrans.PayloadText {
		fmt.Printf("<< %s\n", msg.Text)
	} else {
		fmt.Printf("<< (%d 字节二进制)\n", len(msg.Data))
	}
}

func (h *consoleHandler) OnError(err error) {
	fmt.Printf("[WARN] 会话错误: %v\n", err)
}

func (h *consoleHandler) OnClose(code int, reason string) {
	fmt.Printf("[INFO] 会话结束: code=%d reason=%q\n", code, reason)
	close(h.closed)
}
