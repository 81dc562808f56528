// =============================================================================
// 文件: internal/retrans/frame_test.go
// 描述: 帧编解码测试
// =============================================================================
package retrans

import (
	"bytes"
	"errors"
	"testing"
)

func TestFrameEncode(t *testing.T) {
	cases := []struct {
		name string
		msg  Message
		want []byte
	}{
		{"握手帧", NewInitialSerialFrame(0), []byte{0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}},
		{"握手帧带序号", NewInitialSerialFrame(258), []byte{0x01, 0x00, 0x00, 0x00, 0x02, 0x01, 0x00, 0x00}},
		{"数据头帧", NewDataHeaderFrame(), []byte{0x02, 0x00, 0x00, 0x00}},
		{"确认帧", NewDataAckFrame(6), []byte{0x03, 0x00, 0x00, 0x00, 0x06, 0x00, 0x00, 0x00}},
		{"关闭帧", NewCloseFrame(), []byte{0x04, 0x00, 0x00, 0x00}},
		{"关闭确认帧", NewCloseAckFrame(), []byte{0x05, 0x00, 0x00, 0x00}},
	}

	for _, tc := range cases {
		if tc.msg.Kind != PayloadBinary {
			t.Errorf("%s: 头帧应为二进制", tc.name)
		}
		if !bytes.Equal(tc.msg.Data, tc.want) {
			t.Errorf("%s: got %v, want %v", tc.name, tc.msg.Data, tc.want)
		}
	}
}

func TestFrameDecoderHeaderOnly(t *testing.T) {
	var d FrameDecoder

	f, err := d.Feed(NewInitialSerialFrame(7))
	if err != nil {
		t.Fatalf("解码失败: %v", err)
	}
	if f.Tag != FrameInitialSerial || f.Serial != 7 {
		t.Errorf("握手帧不匹配: tag=%d serial=%d", f.Tag, f.Serial)
	}

	f, err = d.Feed(NewDataAckFrame(12))
	if err != nil {
		t.Fatalf("解码失败: %v", err)
	}
	if f.Tag != FrameDataAck || f.Serial != 12 {
		t.Errorf("确认帧不匹配: tag=%d serial=%d", f.Tag, f.Serial)
	}

	f, err = d.Feed(NewCloseFrame())
	if err != nil || f.Tag != FrameClose {
		t.Errorf("关闭帧不匹配: f=%+v err=%v", f, err)
	}

	f, err = d.Feed(NewCloseAckFrame())
	if err != nil || f.Tag != FrameCloseAck {
		t.Errorf("关闭确认帧不匹配: f=%+v err=%v", f, err)
	}
}

func TestFrameDecoderDataBody(t *testing.T) {
	var d FrameDecoder

	// DATA 头到达后应悬挂, 等待载荷
	f, err := d.Feed(NewDataHeaderFrame())
	if err != nil {
		t.Fatalf("解码失败: %v", err)
	}
	if f != nil {
		t.Fatalf("DATA 头不应立即产出帧: %+v", f)
	}
	if !d.Pending() {
		t.Fatal("应有悬挂的 DATA 头")
	}

	// 二进制载荷
	f, err = d.Feed(Binary([]byte{0x05}))
	if err != nil {
		t.Fatalf("解码失败: %v", err)
	}
	if f.Tag != FrameData || !bytes.Equal(f.Body.Data, []byte{0x05}) {
		t.Errorf("载荷不匹配: %+v", f)
	}
	if d.Pending() {
		t.Error("载荷到达后悬挂头应被消费")
	}

	// 文本载荷原样透传
	d.Feed(NewDataHeaderFrame())
	f, err = d.Feed(Text("你好"))
	if err != nil {
		t.Fatalf("解码失败: %v", err)
	}
	if f.Body.Kind != PayloadText || f.Body.Text != "你好" {
		t.Errorf("文本载荷不匹配: %+v", f.Body)
	}
}

func TestFrameDecoderErrors(t *testing.T) {
	var d FrameDecoder

	if _, err := d.Feed(Text("oops")); !errors.Is(err, ErrUnexpectedHeader) {
		t.Errorf("文本头帧应报错: %v", err)
	}
	if _, err := d.Feed(Binary([]byte{0x01, 0x00})); !errors.Is(err, ErrHeaderTooShort) {
		t.Errorf("短头帧应报错: %v", err)
	}
	if _, err := d.Feed(Binary([]byte{0xFF, 0x00, 0x00, 0x00})); !errors.Is(err, ErrUnknownFrameTag) {
		t.Errorf("未知帧类型应报错: %v", err)
	}
	// 长头类型但只有 4 字节
	if _, err := d.Feed(Binary([]byte{0x03, 0x00, 0x00, 0x00})); !errors.Is(err, ErrHeaderTooShort) {
		t.Errorf("截断的确认帧应报错: %v", err)
	}
}

func TestMessageSize(t *testing.T) {
	if got := Binary([]byte{1, 2, 3}).Size(); got != 3 {
		t.Errorf("二进制大小不正确: got %d, want 3", got)
	}
	// 文本按字符数而非字节数
	if got := Text("你好").Size(); got != 2 {
		t.Errorf("文本大小不正确: got %d, want 2", got)
	}
}

func BenchmarkFrameDecoderData(b *testing.B) {
	var d FrameDecoder
	header := NewDataHeaderFrame()
	body := Binary(make([]byte, 1200))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		d.Feed(header)
		d.Feed(body)
	}
}
