// =============================================================================
// 文件: internal/transport/dialer.go
// 描述: 客户端拨号器 - 建立 WebSocket 连接并产出 Transport 实例
// =============================================================================
package transport

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mrcgq/307/internal/retrans"
)

// Dialer WebSocket 拨号器
type Dialer struct {
	URL              string
	Host             string // 可选: 覆盖 Host 头
	Insecure         bool   // 跳过 TLS 证书校验 (仅测试)
	HandshakeTimeout time.Duration
	Header           http.Header
}

// NewDialer 创建拨号器
func NewDialer(url string) *Dialer {
	return &Dialer{
		URL:              url,
		HandshakeTimeout: 10 * time.Second,
	}
}

// Dial 建立一条连接
func (d *Dialer) Dial() (*WSTransport, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: d.HandshakeTimeout,
		ReadBufferSize:   32 * 1024,
		WriteBufferSize:  32 * 1024,
	}
	if d.Insecure {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	header := d.Header
	if d.Host != "" {
		if header == nil {
			header = http.Header{}
		}
		header.Set("Host", d.Host)
	}

	conn, resp, err := dialer.Dial(d.URL, header)
	if err != nil {
		return nil, fmt.Errorf("拨号失败 %s: %w", d.URL, err)
	}

	protocol := ""
	extensions := ""
	if resp != nil {
		protocol = resp.Header.Get("Sec-WebSocket-Protocol")
		extensions = resp.Header.Get("Sec-WebSocket-Extensions")
	}
	return NewWSTransport(conn, d.URL, protocol, extensions), nil
}

// Factory 产出重传引擎可用的传输层工厂
func (d *Dialer) Factory() retrans.TransportFactory {
	return func() (retrans.Transport, error) {
		return d.Dial()
	}
}
