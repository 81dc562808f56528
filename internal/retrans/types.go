// =============================================================================
// 文件: internal/retrans/types.go
// 描述: 重传引擎 - 统一类型定义 (唯一定义位置)
// =============================================================================
package retrans

import (
	"fmt"
	"time"
	"unicode/utf8"
)

// 帧类型标签 (头部前 4 字节, 小端 u32)
const (
	// FrameInitialSerial 握手帧: 携带发送方缓冲区最低未确认序号
	// Tag(4) + LowestUnacked(4) = 8 bytes
	FrameInitialSerial uint32 = 1

	// FrameData 数据帧: 4 字节头 + 紧随其后的独立载荷帧
	FrameData uint32 = 2

	// FrameDataAck 累积确认帧: Tag(4) + Cumulative(4) = 8 bytes
	FrameDataAck uint32 = 3

	// FrameClose 关闭请求帧: 仅 4 字节头, 无载荷
	FrameClose uint32 = 4

	// FrameCloseAck 关闭确认帧: 仅 4 字节头, 无载荷
	FrameCloseAck uint32 = 5
)

// 头部大小
const (
	HeaderSizeShort = 4 // DATA / CLOSE / CLOSE_ACK
	HeaderSizeLong  = 8 // INITIAL_SERIAL / DATA_ACK
)

// 关闭码 (与 WebSocket 状态码对齐)
const (
	CloseCodeNormal   = 1000 // 正常关闭
	CloseCodeProtocol = 1002 // 协议错误
	CloseCodeAbnormal = 1006 // 异常断开 (关闭超时)
)

// 默认参数
const (
	DefaultMaxUnackBytes     = 100000
	DefaultMaxUnackMessages  = 100
	DefaultMaxUnackTime      = 10 * time.Second
	DefaultCloseTimeout      = 60 * time.Second
	DefaultReconnectInterval = 250 * time.Millisecond
)

// 错误定义
var (
	ErrEngineClosed     = fmt.Errorf("引擎已关闭")
	ErrTransportClosed  = fmt.Errorf("传输层已关闭, 不可安装")
	ErrHeaderTooShort   = fmt.Errorf("帧头太短")
	ErrUnknownFrameTag  = fmt.Errorf("未知帧类型")
	ErrUnexpectedHeader = fmt.Errorf("文本消息不能作为帧头")
	ErrAckOutOfRange    = fmt.Errorf("累积确认超出缓冲区范围")
	ErrStrayCloseAck    = fmt.Errorf("收到 CLOSE_ACK 但没有待确认的关闭")
)

// ReadyState 引擎/传输层就绪状态
type ReadyState uint8

const (
	StateConnecting ReadyState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s ReadyState) String() string {
	names := []string{"CONNECTING", "OPEN", "CLOSING", "CLOSED"}
	if int(s) < len(names) {
		return names[s]
	}
	return "UNKNOWN"
}

// PayloadKind 载荷类型 (传输层区分二进制帧与文本帧)
type PayloadKind uint8

const (
	PayloadBinary PayloadKind = iota
	PayloadText
)

// Message 一条传输层消息 (保留二进制/文本区分, 原样透传)
type Message struct {
	Kind PayloadKind
	Data []byte // Kind == PayloadBinary 时有效
	Text string // Kind == PayloadText 时有效
}

// Binary 构造二进制消息
func Binary(data []byte) Message {
	return Message{Kind: PayloadBinary, Data: data}
}

// Text 构造文本消息
func Text(s string) Message {
	return Message{Kind: PayloadText, Text: s}
}

// Size 消息大小: 二进制按字节数, 文本按字符数
func (m Message) Size() int {
	if m.Kind == PayloadText {
		return utf8.RuneCountInString(m.Text)
	}
	return len(m.Data)
}

// BinaryMode 传输层二进制投递模式
type BinaryMode uint8

const (
	// BinaryModeRaw 接收侧以原始字节切片投递二进制帧
	BinaryModeRaw BinaryMode = iota
)

// TransportEvents 传输层事件绑定 (Bind 时整体安装, Unbind 时整体拆除)
type TransportEvents struct {
	OnOpen    func()
	OnMessage func(msg Message)
	OnError   func(err error)
	OnClose   func(code int, reason string, clean bool)
}

// Transport 底层连接能力抽象 (同一时刻至多一个活跃实例)
type Transport interface {
	// 只读属性
	ReadyState() ReadyState
	BufferedAmount() int64
	URL() string
	Protocol() string
	Extensions() string

	// 操作
	Send(msg Message) error
	Close(code int, reason string) error
	SetBinaryMode(mode BinaryMode)

	// 事件绑定
	Bind(ev *TransportEvents)
	Unbind()
}

// TransportFactory 传输层工厂 (配置后引擎在断线时自行重建连接)
type TransportFactory func() (Transport, error)

// Handler 应用层回调接口
type Handler interface {
	// OnOpen 引擎首次进入 OPEN 时调用
	OnOpen()

	// OnMessage 按发送顺序恰好一次投递应用载荷
	OnMessage(msg Message)

	// OnError 最终关闭前最多调用一次, 携带最近的传输层错误或协议失步错误
	OnError(err error)

	// OnClose 引擎进入 CLOSED 时恰好调用一次
	OnClose(code int, reason string)
}

// CloseDescriptor 关闭描述 (本地 close 参数或对端关闭时本地合成)
type CloseDescriptor struct {
	Code   int
	Reason string
}

// Config 引擎配置
type Config struct {
	MaxUnackBytes     int           // 未确认字节数上限, 超过即回 ACK
	MaxUnackMessages  int           // 未确认消息数上限, 超过即回 ACK
	MaxUnackTime      time.Duration // 首条未确认消息后最迟多久回 ACK
	CloseTimeout      time.Duration // 等待重连或对端关闭确认的上限
	ReconnectInterval time.Duration // 重连尝试间隔 (配置了工厂时生效)
	Factory           TransportFactory

	LogLevel int // 0=error 1=info 2=debug
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		MaxUnackBytes:     DefaultMaxUnackBytes,
		MaxUnackMessages:  DefaultMaxUnackMessages,
		MaxUnackTime:      DefaultMaxUnackTime,
		CloseTimeout:      DefaultCloseTimeout,
		ReconnectInterval: DefaultReconnectInterval,
		LogLevel:          1,
	}
}

// Stats 引擎统计快照
type Stats struct {
	FramesSent        uint64
	FramesReplayed    uint64
	MessagesSent      uint64
	MessagesDelivered uint64
	DuplicatesDropped uint64
	AcksSent          uint64
	AcksReceived      uint64
	Reconnects        uint64

	PendingFrames int
	BufferedBytes int64
	State         string
	Uptime        time.Duration
}
