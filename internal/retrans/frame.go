// =============================================================================
// 文件: internal/retrans/frame.go
// 描述: 重传引擎 - 帧编解码 (小端 u32 头部, DATA 为头+体两条消息)
// =============================================================================
package retrans

import (
	"encoding/binary"
	"fmt"
)

// NewInitialSerialFrame 构造握手帧
func NewInitialSerialFrame(lowestUnacked uint32) Message {
	buf := make([]byte, HeaderSizeLong)
	binary.LittleEndian.PutUint32(buf[0:4], FrameInitialSerial)
	binary.LittleEndian.PutUint32(buf[4:8], lowestUnacked)
	return Binary(buf)
}

// NewDataHeaderFrame 构造数据头帧 (载荷作为下一条消息单独发送)
func NewDataHeaderFrame() Message {
	buf := make([]byte, HeaderSizeShort)
	binary.LittleEndian.PutUint32(buf[0:4], FrameData)
	return Binary(buf)
}

// NewDataAckFrame 构造累积确认帧
func NewDataAckFrame(cumulative uint32) Message {
	buf := make([]byte, HeaderSizeLong)
	binary.LittleEndian.PutUint32(buf[0:4], FrameDataAck)
	binary.LittleEndian.PutUint32(buf[4:8], cumulative)
	return Binary(buf)
}

// NewCloseFrame 构造关闭请求帧
func NewCloseFrame() Message {
	buf := make([]byte, HeaderSizeShort)
	binary.LittleEndian.PutUint32(buf[0:4], FrameClose)
	return Binary(buf)
}

// NewCloseAckFrame 构造关闭确认帧
func NewCloseAckFrame() Message {
	buf := make([]byte, HeaderSizeShort)
	binary.LittleEndian.PutUint32(buf[0:4], FrameCloseAck)
	return Binary(buf)
}

// Frame 解码后的完整帧
type Frame struct {
	Tag    uint32
	Serial uint32  // INITIAL_SERIAL / DATA_ACK 的参数
	Body   Message // DATA 的载荷 (原样透传)
}

// FrameDecoder 帧解码器
//
// 头部和载荷可能作为两条独立的传输层消息到达: 没有悬挂头部时,
// 新消息按头部解析; DATA 头部到达后悬挂, 下一条消息整体作为载荷。
// 其余四种帧只有头部, 到达即完整。
type FrameDecoder struct {
	dataPending bool
}

// Pending 是否有 DATA 头在等待载荷
func (d *FrameDecoder) Pending() bool {
	return d.dataPending
}

// Reset 清空解码状态
func (d *FrameDecoder) Reset() {
	d.dataPending = false
}

// Feed 喂入一条传输层消息
//
// 返回 (nil, nil) 表示 DATA 头已暂存, 等待载荷帧。
func (d *FrameDecoder) Feed(msg Message) (*Frame, error) {
	if d.dataPending {
		d.dataPending = false
		return &Frame{Tag: FrameData, Body: msg}, nil
	}

	// 头部恒为二进制帧
	if msg.Kind != PayloadBinary {
		return nil, ErrUnexpectedHeader
	}
	if len(msg.Data) < HeaderSizeShort {
		return nil, fmt.Errorf("%w: %d 字节", ErrHeaderTooShort, len(msg.Data))
	}

	tag := binary.LittleEndian.Uint32(msg.Data[0:4])
	switch tag {
	case FrameInitialSerial, FrameDataAck:
		if len(msg.Data) < HeaderSizeLong {
			return nil, fmt.Errorf("%w: tag %d 需要 %d 字节, 实际 %d",
				ErrHeaderTooShort, tag, HeaderSizeLong, len(msg.Data))
		}
		return &Frame{Tag: tag, Serial: binary.LittleEndian.Uint32(msg.Data[4:8])}, nil

	case FrameData:
		d.dataPending = true
		return nil, nil

	case FrameClose, FrameCloseAck:
		return &Frame{Tag: tag}, nil

	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownFrameTag, tag)
	}
}
