// =============================================================================
// 文件: internal/transport/websocket.go
// 描述: WebSocket 传输层 - 将 gorilla 连接适配为重传引擎的 Transport 能力
// =============================================================================
package transport

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mrcgq/307/internal/retrans"
)

const (
	writeTimeout    = 30 * time.Second
	readIdleTimeout = 5 * time.Minute
	maxMessageSize  = 16 * 1024 * 1024
)

// WSTransport 单条 WebSocket 连接的 Transport 适配
//
// 读泵在首次 Bind 时启动, 把 ReadMessage 的结果转成
// message / error / close 事件; 写路径由互斥锁串行化。
type WSTransport struct {
	conn       *websocket.Conn
	url        string
	protocol   string
	extensions string

	mu    sync.Mutex
	state retrans.ReadyState
	ev    *retrans.TransportEvents

	inFlight int64 // 正在写入的字节数
	pumpOnce sync.Once
}

// NewWSTransport 包装一条已建立的 WebSocket 连接
func NewWSTransport(conn *websocket.Conn, url, protocol, extensions string) *WSTransport {
	conn.SetReadLimit(maxMessageSize)
	return &WSTransport{
		conn:       conn,
		url:        url,
		protocol:   protocol,
		extensions: extensions,
		state:      retrans.StateOpen,
	}
}

// ReadyState 连接状态
func (t *WSTransport) ReadyState() retrans.ReadyState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// BufferedAmount 正在写入的字节数
func (t *WSTransport) BufferedAmount() int64 {
	return atomic.LoadInt64(&t.inFlight)
}

// URL 连接地址
func (t *WSTransport) URL() string { return t.url }

// Protocol 协商出的子协议
func (t *WSTransport) Protocol() string { return t.protocol }

// Extensions 协商出的扩展
func (t *WSTransport) Extensions() string { return t.extensions }

// SetBinaryMode 二进制投递模式 (接收侧恒为原始字节切片, 该设置被忽略)
func (t *WSTransport) SetBinaryMode(mode retrans.BinaryMode) {}

// Send 发送一条消息, 保留二进制/文本帧区分
func (t *WSTransport) Send(msg retrans.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != retrans.StateOpen {
		return fmt.Errorf("连接不可写: %s", t.state)
	}

	messageType := websocket.BinaryMessage
	payload := msg.Data
	if msg.Kind == retrans.PayloadText {
		messageType = websocket.TextMessage
		payload = []byte(msg.Text)
	}

	atomic.AddInt64(&t.inFlight, int64(len(payload)))
	defer atomic.AddInt64(&t.inFlight, -int64(len(payload)))

	t.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return t.conn.WriteMessage(messageType, payload)
}

// Close 发送关闭控制帧并断开底层连接
func (t *WSTransport) Close(code int, reason string) error {
	t.mu.Lock()
	if t.state == retrans.StateClosed {
		t.mu.Unlock()
		return nil
	}
	t.state = retrans.StateClosed
	t.mu.Unlock()

	t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
	return t.conn.Close()
}

// Bind 安装事件绑定并 (首次) 启动读泵
func (t *WSTransport) Bind(ev *retrans.TransportEvents) {
	t.mu.Lock()
	t.ev = ev
	t.mu.Unlock()

	t.pumpOnce.Do(func() {
		go t.readPump()
	})
}

// Unbind 拆除事件绑定 (读泵继续运行, 事件被丢弃)
func (t *WSTransport) Unbind() {
	t.mu.Lock()
	t.ev = nil
	t.mu.Unlock()
}

func (t *WSTransport) events() *retrans.TransportEvents {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ev
}

// readPump 读取循环: 消息边界由 WebSocket 保证, 逐条上抛
func (t *WSTransport) readPump() {
	for {
		t.conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
		messageType, data, err := t.conn.ReadMessage()
		if err != nil {
			t.dispatchClose(err)
			return
		}

		ev := t.events()
		if ev == nil || ev.OnMessage == nil {
			continue
		}
		switch messageType {
		case websocket.BinaryMessage:
			ev.OnMessage(retrans.Binary(data))
		case websocket.TextMessage:
			ev.OnMessage(retrans.Text(string(data)))
		}
	}
}

// dispatchClose 读取出错: 换算成 error + close 事件
func (t *WSTransport) dispatchClose(err error) {
	t.mu.Lock()
	t.state = retrans.StateClosed
	t.mu.Unlock()

	t.conn.Close()

	// 本地 Close 也会走到这里 (读泵因连接关闭退出);
	// 引擎在自行关闭传输层前总是先 Unbind, 不会收到回环事件。
	ev := t.events()
	if ev == nil {
		return
	}

	code := websocket.CloseAbnormalClosure
	reason := ""
	clean := false
	if ce, ok := err.(*websocket.CloseError); ok {
		code = ce.Code
		reason = ce.Text
		clean = websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
	} else if ev.OnError != nil {
		ev.OnError(err)
	}
	if ev.OnClose != nil {
		ev.OnClose(code, reason, clean)
	}
}

var _ retrans.Transport = (*WSTransport)(nil)
