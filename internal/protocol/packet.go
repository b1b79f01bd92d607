// =============================================================================
// 文件: internal/protocol/packet.go
// 描述: SWP 滑动窗口协议 - 包编解码
// =============================================================================
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// SWP 协议常量
const (
	// 包头大小: Kind(1) + Seq(4) = 5 bytes
	HeaderSize = 5

	// MaxSegmentSize 单个 DATA 包最大负载，为 IP + UDP + SWP 头留足空间
	MaxSegmentSize = 1400

	// MaxPacketSize 编码后最大包长
	MaxPacketSize = HeaderSize + MaxSegmentSize
)

// ErrMalformedPacket 畸形包 (太短、未知类型、负载不合法)
var ErrMalformedPacket = errors.New("畸形 SWP 包")

// Kind 包类型
type Kind uint8

const (
	KindData Kind = 'D' // 0x44
	KindAck  Kind = 'A' // 0x41
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "DATA"
	case KindAck:
		return "ACK"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", uint8(k))
	}
}

// Valid 是否为已知类型
func (k Kind) Valid() bool {
	return k == KindData || k == KindAck
}

// Packet SWP 数据包
//
// DATA: Seq 为 Payload[0] 在字节流中的偏移
// ACK:  Seq 为累积确认点，即第一个尚未连续收到的字节偏移
type Packet struct {
	Kind    Kind
	Seq     uint32
	Payload []byte
}

// NewDataPacket 创建数据包
func NewDataPacket(seq uint32, payload []byte) *Packet {
	return &Packet{
		Kind:    KindData,
		Seq:     seq,
		Payload: payload,
	}
}

// NewAckPacket 创建 ACK 包
func NewAckPacket(ack uint32) *Packet {
	return &Packet{
		Kind: KindAck,
		Seq:  ack,
	}
}

// End 负载之后的下一个偏移
func (p *Packet) End() uint32 {
	return p.Seq + uint32(len(p.Payload))
}

// Encode 编码 SWP 包
func (p *Packet) Encode() []byte {
	buf := make([]byte, HeaderSize+len(p.Payload))
	buf[0] = byte(p.Kind)
	binary.BigEndian.PutUint32(buf[1:5], p.Seq)
	copy(buf[HeaderSize:], p.Payload)
	return buf
}

// Decode 解码 SWP 包，负载会被复制
func Decode(raw []byte) (*Packet, error) {
	if len(raw) < HeaderSize {
		return nil, fmt.Errorf("%w: 数据太短 %d < %d", ErrMalformedPacket, len(raw), HeaderSize)
	}

	kind := Kind(raw[0])
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: 未知类型 0x%02x", ErrMalformedPacket, raw[0])
	}

	payloadLen := len(raw) - HeaderSize
	if payloadLen > MaxSegmentSize {
		return nil, fmt.Errorf("%w: 负载过长 %d > %d", ErrMalformedPacket, payloadLen, MaxSegmentSize)
	}

	switch {
	case kind == KindAck && payloadLen != 0:
		return nil, fmt.Errorf("%w: ACK 携带负载 %d 字节", ErrMalformedPacket, payloadLen)
	case kind == KindData && payloadLen == 0:
		return nil, fmt.Errorf("%w: DATA 负载为空", ErrMalformedPacket)
	}

	p := &Packet{
		Kind: kind,
		Seq:  binary.BigEndian.Uint32(raw[1:5]),
	}
	if payloadLen > 0 {
		p.Payload = make([]byte, payloadLen)
		copy(p.Payload, raw[HeaderSize:])
	}

	return p, nil
}

// String 调试输出，例如 `DATA 5 " worl"`
func (p *Packet) String() string {
	if p.Kind == KindAck {
		return fmt.Sprintf("%s %d", p.Kind, p.Seq)
	}
	return fmt.Sprintf("%s %d %q", p.Kind, p.Seq, p.Payload)
}
