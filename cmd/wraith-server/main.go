// =============================================================================
// 文件: cmd/wraith-server/main.go
// 描述: 主程序入口 - 可靠回显服务端, 集成 Prometheus 指标
// =============================================================================
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mrcgq/307/internal/config"
	"github.com/mrcgq/307/internal/metrics"
	"github.com/mrcgq/307/internal/retrans"
	"github.com/mrcgq/307/internal/transport"
)

var (
	Version   = "1.2.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	configPath := flag.String("c", "config.yaml", "配置文件路径")
	showVersion := flag.Bool("v", false, "显示版本")
	genConfig := flag.Bool("gen-config", false, "生成示例配置文件")
	listen := flag.String("listen", "", "覆盖监听地址")
	flag.Parse()

	if *showVersion {
		printVersion()
		return
	}

	if *genConfig {
		if err := config.WriteExampleConfig("config.example.yaml"); err != nil {
			fmt.Fprintf(os.Stderr, "生成配置失败: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("已生成示例配置文件: config.example.yaml")
		return
	}

	cfg := loadConfig(*configPath)
	if *listen != "" {
		cfg.Listen = *listen
	}

	app := NewApplication(cfg)
	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "[ERROR] 运行失败: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(path string) *config.Config {
	if _, err := os.Stat(path); err != nil {
		fmt.Printf("[WARN] 配置文件 %s 不存在, 使用默认配置\n", path)
		return config.DefaultConfig()
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[ERROR] 配置错误: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("[INFO] 已加载配置文件: %s\n", path)
	return cfg
}

func printVersion() {
	fmt.Printf("Wraith Server v%s\n", Version)
	fmt.Printf("Build: %s\n", BuildTime)
	fmt.Printf("Commit: %s\n", GitCommit)
	fmt.Printf("Go: %s\n", runtime.Version())
	fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

// =============================================================================
// 应用结构
// =============================================================================

// Application 应用程序
type Application struct {
	cfg *config.Config

	wsServer      *transport.Server
	metricsServer *metrics.MetricsServer
	gauges        *metrics.WraithMetrics

	ctx    context.Context
	cancel context.CancelFunc
}

// NewApplication 装配应用
func NewApplication(cfg *config.Config) *Application {
	ctx, cancel := context.WithCancel(context.Background())
	return &Application{cfg: cfg, ctx: ctx, cancel: cancel}
}

// Run 启动并阻塞到退出信号
func (a *Application) Run() error {
	if a.cfg.Metrics.Enabled {
		a.metricsServer = metrics.NewMetricsServer(
			a.cfg.Metrics.Listen, a.cfg.Metrics.Path,
			a.cfg.Metrics.HealthPath, a.cfg.Metrics.EnablePprof)
		a.gauges = metrics.NewWraithMetrics(a.metricsServer.Registry())
	}

	ws := a.cfg.WebSocket
	a.wsServer = transport.NewServer(
		a.cfg.Listen, ws.Path, ws.Host,
		ws.TLS, ws.CertFile, ws.KeyFile,
		a.handleSession, a.cfg.LogLevel)

	g, ctx := errgroup.WithContext(a.ctx)

	g.Go(func() error {
		if err := a.wsServer.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		a.wsServer.Stop()
		return nil
	})

	if a.metricsServer != nil {
		g.Go(func() error {
			if err := a.metricsServer.Start(ctx); err != nil {
				return err
			}
			a.metricsServer.SetHealthCheck(func() metrics.HealthStatus {
				return metrics.HealthStatus{
					Status:   "healthy",
					Sessions: a.wsServer.GetActiveConns(),
				}
			})
			<-ctx.Done()
			a.metricsServer.Stop()
			return nil
		})
	}

	g.Go(func() error {
		a.statsLoop(ctx)
		return nil
	})

	// 等待退出信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		fmt.Printf("\n[INFO] 收到信号 %v, 正在退出...\n", sig)
	case <-ctx.Done():
	}
	a.cancel()

	return g.Wait()
}

// handleSession 每条连接包一个回显引擎
func (a *Application) handleSession(t *transport.WSTransport, remoteAddr string) {
	session := &echoSession{app: a, remote: remoteAddr}
	session.engine = retrans.New(a.cfg.Retrans.ToEngineConfig(a.cfg.LogLevel), session)

	if err := session.engine.UseTransport(t); err != nil {
		fmt.Printf("[ERROR] 安装传输层失败 (%s): %v\n", remoteAddr, err)
		return
	}
}

// statsLoop 周期性输出运行状态
func (a *Application) statsLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Printf("[INFO] 活跃连接: %d\n", a.wsServer.GetActiveConns())
		}
	}
}

// =============================================================================
// 回显会话
// =============================================================================

// echoSession 一条客户端会话: 收到什么就原样发回
type echoSession struct {
	app    *Application
	engine *retrans.Retransmitter
	remote string
}

func (s *echoSession) OnOpen() {
	if s.app.gauges != nil {
		s.app.gauges.RecordSessionOpened()
	}
	fmt.Printf("[INFO] 会话建立: %s\n", s.remote)
}

func (s *echoSession) OnMessage(msg retrans.Message) {
	if s.app.gauges != nil {
		s.app.gauges.RecordMessage("in", msg.Size())
	}
	if err := s.engine.Send(msg); err != nil {
		fmt.Printf("[WARN] 回显失败 (%s): %v\n", s.remote, err)
		return
	}
	if s.app.gauges != nil {
		s.app.gauges.RecordMessage("out", msg.Size())
	}
}

func (s *echoSession) OnError(err error) {
	if s.app.gauges != nil {
		s.app.gauges.RecordError("session")
	}
	fmt.Printf("[WARN] 会话错误 (%s): %v\n", s.remote, err)
}

func (s *echoSession) OnClose(code int, reason string) {
	if s.app.gauges != nil {
		status := "normal"
		if code != retrans.CloseCodeNormal {
			status = "abnormal"
		}
		s.app.gauges.RecordSessionClosed(status)

		st := s.engine.Stats()
		s.app.gauges.FramesReplayed.Add(float64(st.FramesReplayed))
		s.app.gauges.DuplicatesDropped.Add(float64(st.DuplicatesDropped))
		s.app.gauges.AcksTotal.WithLabelValues("out").Add(float64(st.AcksSent))
		s.app.gauges.AcksTotal.WithLabelValues("in").Add(float64(st.AcksReceived))
	}
	fmt.Printf("[INFO] 会话结束: %s (code=%d reason=%q)\n", s.remote, code, reason)
}
