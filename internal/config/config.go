// =============================================================================
// 文件: internal/config/config.go
// 描述: 配置管理 - 端口冲突检测、重传参数校验、引擎配置映射
// =============================================================================
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mrcgq/307/internal/retrans"
)

// Config 主配置
type Config struct {
	Listen   string `yaml:"listen"`
	URL      string `yaml:"url"` // 客户端: 服务端地址 (ws:// 或 wss://)
	LogLevel string `yaml:"log_level"`

	WebSocket WebSocketConfig `yaml:"websocket"`
	Retrans   RetransConfig   `yaml:"retrans"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// WebSocketConfig WebSocket 传输层配置
type WebSocketConfig struct {
	Path     string `yaml:"path"`
	Host     string `yaml:"host"`
	TLS      bool   `yaml:"tls"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	Insecure bool   `yaml:"insecure"` // 客户端跳过证书校验 (仅测试)
}

// RetransConfig 重传引擎配置
type RetransConfig struct {
	MaxUnackBytes       int `yaml:"max_unack_bytes"`
	MaxUnackMessages    int `yaml:"max_unack_messages"`
	MaxUnackTimeMs      int `yaml:"max_unack_time_ms"`
	CloseTimeoutMs      int `yaml:"close_timeout_ms"`
	ReconnectIntervalMs int `yaml:"reconnect_interval_ms"`
}

// MetricsConfig 监控配置
type MetricsConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Listen      string `yaml:"listen"`
	Path        string `yaml:"path"`
	HealthPath  string `yaml:"health_path"`
	EnablePprof bool   `yaml:"enable_pprof"`
}

// Load 从文件加载配置 (缺省项回填默认值)
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Listen:   ":28080",
		LogLevel: "info",
		WebSocket: WebSocketConfig{
			Path: "/ws",
		},
		Retrans: RetransConfig{
			MaxUnackBytes:       retrans.DefaultMaxUnackBytes,
			MaxUnackMessages:    retrans.DefaultMaxUnackMessages,
			MaxUnackTimeMs:      int(retrans.DefaultMaxUnackTime / time.Millisecond),
			CloseTimeoutMs:      int(retrans.DefaultCloseTimeout / time.Millisecond),
			ReconnectIntervalMs: int(retrans.DefaultReconnectInterval / time.Millisecond),
		},
		Metrics: MetricsConfig{
			Enabled:    false,
			Listen:     ":29090",
			Path:       "/metrics",
			HealthPath: "/health",
		},
	}
}

// Validate 配置校验
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "", "error", "info", "debug":
	default:
		return fmt.Errorf("log_level 不合法: %s", c.LogLevel)
	}

	mainPort, err := parsePort(c.Listen)
	if err != nil {
		return fmt.Errorf("listen 端口格式错误: %w", err)
	}

	if !strings.HasPrefix(c.WebSocket.Path, "/") {
		return fmt.Errorf("websocket.path 必须以 / 开头: %s", c.WebSocket.Path)
	}
	if c.WebSocket.TLS {
		if c.WebSocket.CertFile == "" || c.WebSocket.KeyFile == "" {
			return fmt.Errorf("websocket.tls 开启时必须提供 cert_file 和 key_file")
		}
	}

	// 重传参数必须为正整数
	r := c.Retrans
	for _, item := range []struct {
		name  string
		value int
	}{
		{"retrans.max_unack_bytes", r.MaxUnackBytes},
		{"retrans.max_unack_messages", r.MaxUnackMessages},
		{"retrans.max_unack_time_ms", r.MaxUnackTimeMs},
		{"retrans.close_timeout_ms", r.CloseTimeoutMs},
		{"retrans.reconnect_interval_ms", r.ReconnectIntervalMs},
	} {
		if item.value <= 0 {
			return fmt.Errorf("%s 必须为正整数: %d", item.name, item.value)
		}
	}

	// 端口冲突检测
	if c.Metrics.Enabled {
		metricsPort, err := parsePort(c.Metrics.Listen)
		if err != nil {
			return fmt.Errorf("metrics.listen 端口格式错误: %w", err)
		}
		if metricsPort == mainPort {
			return fmt.Errorf("metrics.listen 端口 (%d) 与 listen 冲突", metricsPort)
		}
	}

	return nil
}

// ToEngineConfig 映射为引擎配置
func (r RetransConfig) ToEngineConfig(logLevel string) *retrans.Config {
	level := 1
	switch logLevel {
	case "debug":
		level = 2
	case "error":
		level = 0
	}

	return &retrans.Config{
		MaxUnackBytes:     r.MaxUnackBytes,
		MaxUnackMessages:  r.MaxUnackMessages,
		MaxUnackTime:      time.Duration(r.MaxUnackTimeMs) * time.Millisecond,
		CloseTimeout:      time.Duration(r.CloseTimeoutMs) * time.Millisecond,
		ReconnectInterval: time.Duration(r.ReconnectIntervalMs) * time.Millisecond,
		LogLevel:          level,
	}
}

// WriteExampleConfig 生成带注释的示例配置文件
func WriteExampleConfig(path string) error {
	example := `# Wraith 配置示例
listen: ":28080"        # 服务端监听地址
url: ""                 # 客户端: 服务端地址, 如 ws://example.com:28080/ws
log_level: info         # error / info / debug

websocket:
  path: /ws             # WebSocket 升级路径
  host: ""              # 可选: 校验 Host 头
  tls: false
  cert_file: ""
  key_file: ""
  insecure: false       # 客户端跳过证书校验 (仅测试)

retrans:
  max_unack_bytes: 100000      # 未确认字节数超过即回 ACK
  max_unack_messages: 100      # 未确认消息数超过即回 ACK
  max_unack_time_ms: 10000     # 最迟多久回 ACK
  close_timeout_ms: 60000      # 等待重连或关闭确认的上限
  reconnect_interval_ms: 250   # 重连尝试间隔

metrics:
  enabled: false
  listen: ":29090"
  path: /metrics
  health_path: /health
  enable_pprof: false
`
	return os.WriteFile(path, []byte(example), 0644)
}

func parsePort(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return 0, fmt.Errorf("端口不合法: %s", portStr)
	}
	return port, nil
}

// GetListenPort 主监听端口
func (c *Config) GetListenPort() int {
	port, _ := parsePort(c.Listen)
	return port
}
