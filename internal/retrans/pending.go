// =============================================================================
// 文件: internal/retrans/pending.go
// 描述: 重传引擎 - 待确认帧缓冲 (有序重传日志, 累积确认丢弃前缀)
// =============================================================================
package retrans

import "fmt"

// PendingBuffer 待确认帧缓冲
//
// 序号以缓冲槽位计: 一条 DATA 占两个槽 (头帧 + 载荷帧),
// CLOSE / CLOSE_ACK 占一个槽。调用方负责串行化访问。
type PendingBuffer struct {
	frames       []Message
	lowestSerial uint32 // 缓冲区首帧的序号, 随确认单调增长
	byteSize     int64  // 所有待确认帧的大小之和
}

// NewPendingBuffer 创建待确认缓冲
func NewPendingBuffer() *PendingBuffer {
	return &PendingBuffer{}
}

// Append 追加一帧, 返回其占用的序号
func (b *PendingBuffer) Append(msg Message) uint32 {
	serial := b.lowestSerial + uint32(len(b.frames))
	b.frames = append(b.frames, msg)
	b.byteSize += int64(msg.Size())
	return serial
}

// AckPrefix 处理累积确认: 丢弃序号严格小于 cumulative 的前缀
//
// cumulative 低于缓冲区基准或超过下一个序号都说明对端状态失步。
func (b *PendingBuffer) AckPrefix(cumulative uint32) (dropped int, err error) {
	if cumulative < b.lowestSerial || cumulative > b.NextSerial() {
		return 0, fmt.Errorf("%w: cumulative=%d lowest=%d next=%d",
			ErrAckOutOfRange, cumulative, b.lowestSerial, b.NextSerial())
	}

	n := int(cumulative - b.lowestSerial)
	for i := 0; i < n; i++ {
		b.byteSize -= int64(b.frames[i].Size())
	}
	b.frames = append(b.frames[:0], b.frames[n:]...)
	b.lowestSerial = cumulative
	return n, nil
}

// Frames 按发送顺序返回全部待确认帧 (用于重放)
func (b *PendingBuffer) Frames() []Message {
	return b.frames
}

// LowestSerial 缓冲区首帧序号
func (b *PendingBuffer) LowestSerial() uint32 {
	return b.lowestSerial
}

// NextSerial 下一个新帧将占用的序号
func (b *PendingBuffer) NextSerial() uint32 {
	return b.lowestSerial + uint32(len(b.frames))
}

// Len 待确认帧数量
func (b *PendingBuffer) Len() int {
	return len(b.frames)
}

// ByteSize 待确认帧大小之和
func (b *PendingBuffer) ByteSize() int64 {
	return b.byteSize
}
