// =============================================================================
// 文件: internal/retrans/retrans.go
// 描述: 重传引擎 - 恰好一次、保序的可靠投递层
//       序号/累积确认机制 + 重连重放 + 批量 ACK + 两阶段关闭
// =============================================================================
package retrans

import (
	"fmt"
	"sync"
	"time"
)

// Retransmitter 重传引擎
//
// 包裹一个可替换的传输层连接, 将本地 Send 的载荷恰好一次、按序
// 投递给对端应用。所有入口 (应用调用、传输层事件、定时器回调)
// 在单一互斥锁后串行执行; 应用回调在释放锁之后触发。
type Retransmitter struct {
	cfg     *Config
	handler Handler

	mu sync.Mutex

	state   ReadyState
	pending *PendingBuffer
	decoder FrameDecoder

	// 入站序号 (槽位计数: DATA 为 2, 关闭族为 1)
	receiveSerial   uint32 // 线上看到的入站序号
	processedSerial uint32 // 已投递给应用的高水位

	// 批量 ACK 累积
	unackBytes int
	unackCount int

	// 传输层插槽
	transport Transport

	// 定时器 (世代号用于容忍迟到的回调)
	unackTimer   *time.Timer
	unackGen     uint64
	closeTimer   *time.Timer
	closeGen     uint64
	reconnectGen uint64

	// 关闭状态
	pendingClose *CloseDescriptor
	closeAcked   *bool // 三态: nil=未发起 / false=等待确认 / true=已确认
	pendingErr   error // 最近一次传输层错误, 延迟到最终关闭时上抛

	stats     Stats
	startTime time.Time
}

// New 创建重传引擎 (初始状态 CONNECTING)
func New(cfg *Config, handler Handler) *Retransmitter {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Retransmitter{
		cfg:       cfg,
		handler:   handler,
		state:     StateConnecting,
		pending:   NewPendingBuffer(),
		startTime: time.Now(),
	}
}

// =============================================================================
// 应用层入口
// =============================================================================

// Send 入队一条应用载荷
//
// 传输层当前打开则立即转发; 否则等下次 OPEN 时由重放逻辑补发。
func (r *Retransmitter) Send(msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateClosing || r.state == StateClosed {
		return ErrEngineClosed
	}

	header := NewDataHeaderFrame()
	r.pending.Append(header)
	r.pending.Append(msg)
	r.stats.MessagesSent++

	if r.transportOpenLocked() {
		r.writeLocked(header)
		r.writeLocked(msg)
	}
	return nil
}

// SendBytes 发送二进制载荷
func (r *Retransmitter) SendBytes(data []byte) error {
	return r.Send(Binary(data))
}

// SendText 发送文本载荷
func (r *Retransmitter) SendText(s string) error {
	return r.Send(Text(s))
}

// Close 发起两阶段关闭
//
// CLOSE 帧与数据帧一样进入待确认缓冲, 重连后会被重放;
// 关闭定时器兜底, 超时则强制进入 CLOSED。
func (r *Retransmitter) Close(code int, reason string) {
	r.mu.Lock()

	if r.state == StateClosing || r.state == StateClosed {
		r.logf(0, "重复调用 Close, 当前状态 %s, 忽略", r.state)
		r.mu.Unlock()
		return
	}

	r.state = StateClosing
	r.pendingClose = &CloseDescriptor{Code: code, Reason: reason}
	acked := false
	r.closeAcked = &acked

	frame := NewCloseFrame()
	r.pending.Append(frame)
	if r.transportOpenLocked() {
		r.writeLocked(frame)
	}

	r.armCloseTimerLocked()
	r.logf(1, "发起关闭: code=%d reason=%q", code, reason)
	r.mu.Unlock()
}

// UseTransport 安装或替换传输层连接
//
// 已处于 CLOSING/CLOSED 的连接不可安装; 新连接若已打开则立即
// 合成一次 open 事件 (发送握手帧并重放缓冲)。
func (r *Retransmitter) UseTransport(t Transport) error {
	r.mu.Lock()

	if r.state == StateClosed {
		r.mu.Unlock()
		return ErrEngineClosed
	}
	if ts := t.ReadyState(); ts == StateClosing || ts == StateClosed {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTransportClosed, ts)
	}

	if r.transport != nil {
		r.transport.Unbind()
	}
	r.transport = t
	t.SetBinaryMode(BinaryModeRaw)
	t.Bind(&TransportEvents{
		OnOpen:    func() { r.onTransportOpen(t) },
		OnMessage: func(msg Message) { r.onTransportMessage(t, msg) },
		OnError:   func(err error) { r.onTransportError(t, err) },
		OnClose:   func(code int, reason string, clean bool) { r.onTransportClose(t, code, reason) },
	})

	var calls []func()
	if t.ReadyState() == StateOpen {
		r.handleOpenLocked(&calls)
	}
	r.mu.Unlock()

	r.invoke(calls)
	return nil
}

// =============================================================================
// 只读属性
// =============================================================================

// ReadyState 当前引擎状态
func (r *Retransmitter) ReadyState() ReadyState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// BufferedAmount 待确认帧大小之和加上传输层自身的发送缓冲
func (r *Retransmitter) BufferedAmount() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.pending.ByteSize()
	if r.transport != nil {
		n += r.transport.BufferedAmount()
	}
	return n
}

// URL 当前传输层的 URL
func (r *Retransmitter) URL() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.transport == nil {
		return ""
	}
	return r.transport.URL()
}

// Protocol 当前传输层协商出的子协议
func (r *Retransmitter) Protocol() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.transport == nil {
		return ""
	}
	return r.transport.Protocol()
}

// Extensions 当前传输层协商出的扩展
func (r *Retransmitter) Extensions() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.transport == nil {
		return ""
	}
	return r.transport.Extensions()
}

// Stats 统计快照
func (r *Retransmitter) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.stats
	s.PendingFrames = r.pending.Len()
	s.BufferedBytes = r.pending.ByteSize()
	s.State = r.state.String()
	s.Uptime = time.Since(r.startTime)
	return s
}

// =============================================================================
// 传输层事件
// =============================================================================

func (r *Retransmitter) onTransportOpen(t Transport) {
	r.mu.Lock()
	if r.transport != t || r.state == StateClosed {
		r.mu.Unlock()
		return
	}

	var calls []func()
	r.handleOpenLocked(&calls)
	r.mu.Unlock()

	r.invoke(calls)
}

// handleOpenLocked 传输层打开: 握手 + 全量重放
func (r *Retransmitter) handleOpenLocked(calls *[]func()) {
	if r.state == StateConnecting {
		r.state = StateOpen
		h := r.handler
		if h != nil {
			*calls = append(*calls, h.OnOpen)
		}
	}

	// 关闭定时器只在 CLOSING 中继续守护对端确认
	if r.state != StateClosing {
		r.cancelCloseTimerLocked()
	}

	r.writeLocked(NewInitialSerialFrame(r.pending.LowestSerial()))
	for _, frame := range r.pending.Frames() {
		r.writeLocked(frame)
		r.stats.FramesReplayed++
	}
	r.logf(2, "传输层打开: 握手 lowest=%d, 重放 %d 帧",
		r.pending.LowestSerial(), r.pending.Len())
}

func (r *Retransmitter) onTransportMessage(t Transport, msg Message) {
	r.mu.Lock()
	if r.transport != t || r.state == StateClosed {
		r.mu.Unlock()
		return
	}

	var calls []func()
	frame, err := r.decoder.Feed(msg)
	switch {
	case err != nil:
		// 帧流失步说明对端实现有问题, 直接终止
		r.logf(0, "协议失步: %v", err)
		r.pendingErr = err
		r.finalizeLocked(CloseDescriptor{Code: CloseCodeProtocol, Reason: "protocol desync"}, &calls)
	case frame != nil:
		r.handleFrameLocked(frame, &calls)
	}
	r.mu.Unlock()

	r.invoke(calls)
}

func (r *Retransmitter) onTransportError(t Transport, err error) {
	r.mu.Lock()
	if r.transport != t || r.state == StateClosed {
		r.mu.Unlock()
		return
	}
	r.pendingErr = err
	r.logf(2, "传输层错误 (暂存): %v", err)
	r.mu.Unlock()
}

// onTransportClose 底层连接断开: 不是应用可见错误
//
// 引擎保持可用, 启动关闭定时器兜底, 等待新传输层到来后重放。
func (r *Retransmitter) onTransportClose(t Transport, code int, reason string) {
	r.mu.Lock()
	if r.transport != t || r.state == StateClosed {
		r.mu.Unlock()
		return
	}

	r.decoder.Reset()
	if r.closeTimer == nil {
		r.armCloseTimerLocked()
	}
	if r.cfg.Factory != nil {
		r.scheduleReconnectLocked()
	}
	r.logf(1, "传输层断开: code=%d reason=%q, 等待重连", code, reason)
	r.mu.Unlock()
}

// =============================================================================
// 帧处理
// =============================================================================

func (r *Retransmitter) handleFrameLocked(f *Frame, calls *[]func()) {
	switch f.Tag {
	case FrameInitialSerial:
		// 对端重连握手: 对齐到其保留日志的基准
		r.receiveSerial = f.Serial
		r.logf(2, "收到握手: receiveSerial 重置为 %d", f.Serial)

	case FrameDataAck:
		dropped, err := r.pending.AckPrefix(f.Serial)
		if err != nil {
			r.logf(0, "协议失步: %v", err)
			r.pendingErr = err
			r.finalizeLocked(CloseDescriptor{Code: CloseCodeProtocol, Reason: "protocol desync"}, calls)
			return
		}
		r.stats.AcksReceived++
		r.logf(2, "收到确认: cumulative=%d, 释放 %d 帧", f.Serial, dropped)

	case FrameData:
		r.handleDataLocked(f.Body, calls)

	case FrameClose:
		r.handleCloseLocked(calls)

	case FrameCloseAck:
		r.handleCloseAckLocked(calls)
	}
}

// handleDataLocked 完整 DATA 帧 (头+体) 到达
func (r *Retransmitter) handleDataLocked(body Message, calls *[]func()) {
	// DATA 在对端缓冲中占两个槽位
	r.receiveSerial += 2

	if r.receiveSerial > r.processedSerial && r.state == StateOpen {
		r.processedSerial = r.receiveSerial
		r.stats.MessagesDelivered++
		h := r.handler
		if h != nil {
			msg := body
			*calls = append(*calls, func() { h.OnMessage(msg) })
		}
	} else {
		r.stats.DuplicatesDropped++
	}

	r.unackBytes += body.Size()
	r.unackCount++
	if r.state == StateOpen && r.unackTimer == nil {
		r.armUnackTimerLocked()
	}
	if r.unackBytes > r.cfg.MaxUnackBytes || r.unackCount > r.cfg.MaxUnackMessages {
		r.sendAckLocked()
	}
}

// handleCloseLocked 对端发起关闭
func (r *Retransmitter) handleCloseLocked(calls *[]func()) {
	r.receiveSerial++

	ack := NewCloseAckFrame()
	r.pending.Append(ack)
	if r.transportOpenLocked() {
		r.writeLocked(ack)
	}

	desc := CloseDescriptor{Code: CloseCodeNormal, Reason: ""}
	if r.pendingClose != nil {
		// 双方同时关闭: 保留本地描述
		desc = *r.pendingClose
	}
	r.logf(1, "收到对端关闭, 回复 CLOSE_ACK")
	r.finalizeLocked(desc, calls)
}

// handleCloseAckLocked 对端确认了本地的关闭请求
func (r *Retransmitter) handleCloseAckLocked(calls *[]func()) {
	r.receiveSerial++

	if r.closeAcked == nil {
		// 没有发起过关闭却收到确认: 对端状态失步
		r.logf(0, "协议失步: %v", ErrStrayCloseAck)
		r.pendingErr = ErrStrayCloseAck
		r.finalizeLocked(CloseDescriptor{Code: CloseCodeProtocol, Reason: "protocol desync"}, calls)
		return
	}
	*r.closeAcked = true

	desc := CloseDescriptor{Code: CloseCodeNormal, Reason: ""}
	if r.pendingClose != nil {
		desc = *r.pendingClose
	}
	r.logf(1, "关闭握手完成: code=%d", desc.Code)
	r.finalizeLocked(desc, calls)
}

// =============================================================================
// ACK 策略
// =============================================================================

// sendAckLocked 发送累积确认并复位累积量与定时器
func (r *Retransmitter) sendAckLocked() {
	if r.transportOpenLocked() {
		r.writeLocked(NewDataAckFrame(r.processedSerial))
		r.stats.AcksSent++
	}
	r.unackBytes = 0
	r.unackCount = 0
	r.cancelUnackTimerLocked()
}

func (r *Retransmitter) armUnackTimerLocked() {
	r.unackGen++
	gen := r.unackGen
	r.unackTimer = time.AfterFunc(r.cfg.MaxUnackTime, func() {
		r.onUnackTimer(gen)
	})
}

func (r *Retransmitter) cancelUnackTimerLocked() {
	r.unackGen++
	if r.unackTimer != nil {
		r.unackTimer.Stop()
		r.unackTimer = nil
	}
}

func (r *Retransmitter) onUnackTimer(gen uint64) {
	r.mu.Lock()
	// 取消是尽力而为的, 迟到的回调按世代号和状态丢弃
	if gen != r.unackGen || r.state != StateOpen {
		r.mu.Unlock()
		return
	}
	r.unackTimer = nil
	r.sendAckLocked()
	r.mu.Unlock()
}

// =============================================================================
// 关闭定时器与终结
// =============================================================================

func (r *Retransmitter) armCloseTimerLocked() {
	r.closeGen++
	gen := r.closeGen
	if r.closeTimer != nil {
		r.closeTimer.Stop()
	}
	r.closeTimer = time.AfterFunc(r.cfg.CloseTimeout, func() {
		r.onCloseTimer(gen)
	})
}

func (r *Retransmitter) cancelCloseTimerLocked() {
	r.closeGen++
	if r.closeTimer != nil {
		r.closeTimer.Stop()
		r.closeTimer = nil
	}
}

func (r *Retransmitter) onCloseTimer(gen uint64) {
	r.mu.Lock()
	if gen != r.closeGen || r.state == StateClosed {
		r.mu.Unlock()
		return
	}
	r.closeTimer = nil

	desc := CloseDescriptor{Code: CloseCodeAbnormal, Reason: "close timeout"}
	if r.pendingClose != nil {
		desc = *r.pendingClose
	}
	r.logf(1, "关闭定时器超时, 强制进入 CLOSED")

	var calls []func()
	r.finalizeLocked(desc, &calls)
	r.mu.Unlock()

	r.invoke(calls)
}

// finalizeLocked 终结到 CLOSED: 拆除定时器与传输层, 上抛错误与关闭事件
//
// 应用最多观察到一次 close 事件, 以及其前面可选的一次 error 事件。
func (r *Retransmitter) finalizeLocked(desc CloseDescriptor, calls *[]func()) {
	if r.state == StateClosed {
		return
	}
	r.state = StateClosed

	r.cancelUnackTimerLocked()
	r.cancelCloseTimerLocked()
	r.reconnectGen++

	if r.transport != nil {
		t := r.transport
		t.Unbind()
		if ts := t.ReadyState(); ts == StateConnecting || ts == StateOpen {
			t.Close(desc.Code, desc.Reason)
		}
		r.transport = nil
	}

	h := r.handler
	err := r.pendingErr
	if h != nil {
		if err != nil {
			*calls = append(*calls, func() { h.OnError(err) })
		}
		*calls = append(*calls, func() { h.OnClose(desc.Code, desc.Reason) })
	}
	r.logf(1, "引擎关闭: code=%d reason=%q", desc.Code, desc.Reason)
}

// =============================================================================
// 重连
// =============================================================================

func (r *Retransmitter) scheduleReconnectLocked() {
	r.reconnectGen++
	gen := r.reconnectGen
	time.AfterFunc(r.cfg.ReconnectInterval, func() {
		r.reconnect(gen)
	})
}

func (r *Retransmitter) reconnect(gen uint64) {
	r.mu.Lock()
	if gen != r.reconnectGen || r.state == StateClosed {
		r.mu.Unlock()
		return
	}
	factory := r.cfg.Factory
	r.mu.Unlock()

	t, err := factory()
	if err != nil {
		r.logf(2, "重连失败: %v", err)
		r.mu.Lock()
		if gen == r.reconnectGen && r.state != StateClosed {
			r.scheduleReconnectLocked()
		}
		r.mu.Unlock()
		return
	}

	if err := r.UseTransport(t); err != nil {
		t.Close(CloseCodeNormal, "")
		return
	}

	r.mu.Lock()
	r.stats.Reconnects++
	r.mu.Unlock()
}

// =============================================================================
// 内部工具
// =============================================================================

func (r *Retransmitter) transportOpenLocked() bool {
	return r.transport != nil && r.transport.ReadyState() == StateOpen
}

// writeLocked 向当前传输层写一帧, 失败只暂存错误 (断开事件随后会到)
func (r *Retransmitter) writeLocked(msg Message) {
	if r.transport == nil {
		return
	}
	if err := r.transport.Send(msg); err != nil {
		r.pendingErr = err
		r.logf(2, "写入失败 (暂存): %v", err)
		return
	}
	r.stats.FramesSent++
}

func (r *Retransmitter) invoke(calls []func()) {
	for _, fn := range calls {
		fn()
	}
}

func (r *Retransmitter) logf(level int, format string, args ...interface{}) {
	if level > r.cfg.LogLevel {
		return
	}
	prefix := map[int]string{0: "[ERROR]", 1: "[INFO]", 2: "[DEBUG]"}[level]
	fmt.Printf("%s %s [Retrans] %s\n", prefix, time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
}
