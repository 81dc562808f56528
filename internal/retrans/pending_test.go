// =============================================================================
// 文件: internal/retrans/pending_test.go
// 描述: 待确认帧缓冲测试
// =============================================================================
package retrans

import (
	"errors"
	"testing"
)

func TestPendingBufferAppend(t *testing.T) {
	b := NewPendingBuffer()

	if s := b.Append(NewDataHeaderFrame()); s != 0 {
		t.Errorf("首帧序号不正确: got %d, want 0", s)
	}
	if s := b.Append(Binary([]byte{0x05})); s != 1 {
		t.Errorf("第二帧序号不正确: got %d, want 1", s)
	}

	// 不变量: lowest + len == next
	if b.LowestSerial()+uint32(b.Len()) != b.NextSerial() {
		t.Errorf("序号不变量被破坏: lowest=%d len=%d next=%d",
			b.LowestSerial(), b.Len(), b.NextSerial())
	}
	if b.ByteSize() != 5 {
		t.Errorf("字节数不正确: got %d, want 5", b.ByteSize())
	}
}

func TestPendingBufferAckPrefix(t *testing.T) {
	b := NewPendingBuffer()
	b.Append(NewDataHeaderFrame())     // 序号 0
	b.Append(Binary([]byte{1, 2, 3})) // 序号 1
	b.Append(NewDataHeaderFrame())     // 序号 2
	b.Append(Binary([]byte{4}))        // 序号 3

	dropped, err := b.AckPrefix(2)
	if err != nil {
		t.Fatalf("确认失败: %v", err)
	}
	if dropped != 2 {
		t.Errorf("释放帧数不正确: got %d, want 2", dropped)
	}
	if b.LowestSerial() != 2 || b.Len() != 2 {
		t.Errorf("确认后状态不正确: lowest=%d len=%d", b.LowestSerial(), b.Len())
	}
	if b.ByteSize() != 5 { // 剩余头帧(4) + 载荷(1)
		t.Errorf("确认后字节数不正确: got %d, want 5", b.ByteSize())
	}

	// 重复确认同一位置是幂等的
	if dropped, err = b.AckPrefix(2); err != nil || dropped != 0 {
		t.Errorf("幂等确认失败: dropped=%d err=%v", dropped, err)
	}

	// 全部确认
	if _, err = b.AckPrefix(4); err != nil {
		t.Fatalf("确认失败: %v", err)
	}
	if b.Len() != 0 || b.ByteSize() != 0 {
		t.Errorf("清空后状态不正确: len=%d bytes=%d", b.Len(), b.ByteSize())
	}
}

func TestPendingBufferAckOutOfRange(t *testing.T) {
	b := NewPendingBuffer()
	b.Append(NewDataHeaderFrame())
	b.Append(Binary([]byte{0x05}))
	if _, err := b.AckPrefix(2); err != nil {
		t.Fatalf("确认失败: %v", err)
	}

	// 低于基准: 对端失步
	if _, err := b.AckPrefix(1); !errors.Is(err, ErrAckOutOfRange) {
		t.Errorf("低于基准的确认应报错: %v", err)
	}
	// 超过下一个序号: 对端失步
	if _, err := b.AckPrefix(5); !errors.Is(err, ErrAckOutOfRange) {
		t.Errorf("超前的确认应报错: %v", err)
	}
}

func TestPendingBufferReplayOrder(t *testing.T) {
	b := NewPendingBuffer()
	b.Append(NewDataHeaderFrame())
	b.Append(Binary([]byte{0x05}))
	b.Append(NewCloseFrame())

	frames := b.Frames()
	if len(frames) != 3 {
		t.Fatalf("重放帧数不正确: got %d, want 3", len(frames))
	}
	if frames[0].Data[0] != 0x02 || frames[1].Data[0] != 0x05 || frames[2].Data[0] != 0x04 {
		t.Errorf("重放顺序不正确: %v %v %v", frames[0].Data, frames[1].Data, frames[2].Data)
	}
}

func BenchmarkPendingBufferAppendAck(b *testing.B) {
	buf := NewPendingBuffer()
	body := Binary(make([]byte, 1200))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf.Append(NewDataHeaderFrame())
		buf.Append(body)
		buf.AckPrefix(buf.NextSerial())
	}
}
