// =============================================================================
// 文件: internal/transport/server.go
// 描述: WebSocket 服务端 - 升级 HTTP 连接并交给会话回调
// =============================================================================
package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mrcgq/307/internal/retrans"
)

// SessionFunc 每条升级成功的连接回调一次
type SessionFunc func(t *WSTransport, remoteAddr string)

// Server WebSocket 服务端
type Server struct {
	addr     string
	path     string
	host     string
	useTLS   bool
	certFile string
	keyFile  string
	logLevel int

	onSession SessionFunc

	httpServer *http.Server
	upgrader   websocket.Upgrader
	conns      sync.Map // *websocket.Conn -> *WSTransport
	stopCh     chan struct{}
	wg         sync.WaitGroup

	activeConns int64
}

// NewServer 创建服务端
func NewServer(addr, path, host string, useTLS bool, certFile, keyFile string, onSession SessionFunc, logLevel string) *Server {
	level := 1
	switch logLevel {
	case "debug":
		level = 2
	case "error":
		level = 0
	}

	return &Server{
		addr:      addr,
		path:      path,
		host:      host,
		useTLS:    useTLS,
		certFile:  certFile,
		keyFile:   keyFile,
		logLevel:  level,
		onSession: onSession,
		stopCh:    make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 * 1024,
			WriteBufferSize: 32 * 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // 允许所有来源
			},
		},
	}
}

// Start 启动服务端
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleWebSocket)
	mux.HandleFunc("/", s.handleFakePage)

	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: mux,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		var err error
		if s.useTLS {
			err = s.httpServer.ListenAndServeTLS(s.certFile, s.keyFile)
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.log(0, "HTTP 服务器错误: %v", err)
		}
	}()

	protocol := "HTTP"
	if s.useTLS {
		protocol = "HTTPS"
	}
	s.log(1, "WebSocket 服务器已启动: %s (%s%s)", s.addr, protocol, s.path)
	return nil
}

// handleWebSocket 升级连接并交给会话回调
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.host != "" && r.Host != s.host {
		s.log(2, "Host 不匹配: %s != %s", r.Host, s.host)
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log(2, "WebSocket 升级失败: %v", err)
		return
	}

	atomic.AddInt64(&s.activeConns, 1)

	scheme := "ws"
	if s.useTLS {
		scheme = "wss"
	}
	url := fmt.Sprintf("%s://%s%s", scheme, r.Host, r.URL.Path)

	t := NewWSTransport(conn, url,
		r.Header.Get("Sec-WebSocket-Protocol"),
		r.Header.Get("Sec-WebSocket-Extensions"))
	s.conns.Store(conn, t)
	s.wg.Add(1)
	go s.reapSession(conn, t)

	s.log(2, "WebSocket 连接: %s", r.RemoteAddr)
	if s.onSession != nil {
		s.onSession(t, r.RemoteAddr)
	}
}

// reapSession 等待传输层关闭后清理计数
func (s *Server) reapSession(conn *websocket.Conn, t *WSTransport) {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if t.ReadyState() == retrans.StateClosed {
				s.conns.Delete(conn)
				atomic.AddInt64(&s.activeConns, -1)
				return
			}
		}
	}
}

// handleFakePage 伪装页面
func (s *Server) handleFakePage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>Welcome</title>
    <meta charset="utf-8">
</head>
<body>
    <h1>It works!</h1>
    <p>This is the default page.</p>
</body>
</html>`)
}

// Stop 停止服务端, 关闭所有活跃连接
func (s *Server) Stop() {
	close(s.stopCh)

	s.conns.Range(func(key, value interface{}) bool {
		t := value.(*WSTransport)
		t.Close(websocket.CloseGoingAway, "server shutdown")
		return true
	})

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(ctx)
	}

	s.wg.Wait()
}

// GetActiveConns 活跃连接数
func (s *Server) GetActiveConns() int64 {
	return atomic.LoadInt64(&s.activeConns)
}

func (s *Server) log(level int, format string, args ...interface{}) {
	if level > s.logLevel {
		return
	}
	prefix := map[int]string{0: "[ERROR]", 1: "[INFO]", 2: "[DEBUG]"}[level]
	fmt.Printf("%s %s [WSServer] %s\n", prefix, time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
}
