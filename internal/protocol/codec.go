package protocol

import (
	"encoding/binary"
	"fmt"
)

// Serialize encodes a packet into its wire form: fixed header followed by
// the kind-specific data region. Packets whose total length would not fit
// the 16-bit length field fail at construction time, before any bytes are
// written.
func Serialize(p Packet) ([]byte, error) {
	total := HeaderSize + p.dataSize()
	if total > MaxPacketSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPacketTooLarge, total)
	}

	buf := make([]byte, 0, total)
	buf = binary.LittleEndian.AppendUint32(buf, p.Magic())
	buf = binary.LittleEndian.AppendUint16(buf, p.Opcode())
	buf = append(buf, byte(p.Flags()))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(total))
	buf = p.marshalData(buf)

	return buf, nil
}

// Codec deserializes wire frames into pooled packet instances. Callers own
// every packet a successful Deserialize returns and must hand it back via
// Release once processing is done.
type Codec struct {
	pools *PoolManager
}

func NewCodec(pools *PoolManager) *Codec {
	return &Codec{pools: pools}
}

// Deserialize parses the fixed header, validates the magic number against
// the registered-type catalog, and only then parses the typed data region.
// An unrecognized magic number fails fast with ErrUnsupportedPacketType
// before any further bytes are touched.
func (c *Codec) Deserialize(frame []byte) (Packet, error) {
	if len(frame) < HeaderSize {
		return nil, fmt.Errorf("%w: frame shorter than header (%d bytes)", ErrInvalidPacket, len(frame))
	}

	magic := binary.LittleEndian.Uint32(frame[0:4])
	if !c.pools.Supports(magic) {
		return nil, fmt.Errorf("%w: magic 0x%08X", ErrUnsupportedPacketType, magic)
	}

	op := binary.LittleEndian.Uint16(frame[4:6])
	flags := Flags(frame[6])
	length := int(binary.LittleEndian.Uint16(frame[7:9]))

	if length != len(frame) {
		return nil, fmt.Errorf("%w: declared length %d, frame %d bytes", ErrInvalidPacket, length, len(frame))
	}

	p, _ := c.pools.Acquire(magic)
	p.SetOpcode(op)
	p.SetFlags(flags)

	if err := p.unmarshalData(frame[HeaderSize:]); err != nil {
		c.pools.Release(p)
		return nil, err
	}

	return p, nil
}

// Release returns a packet to its pool, restoring the neutral default state.
func (c *Codec) Release(p Packet) {
	c.pools.Release(p)
}

// Acquire draws a neutral packet of the given kind from the pool, for
// building outbound responses.
func (c *Codec) Acquire(magic uint32) (Packet, bool) {
	return c.pools.Acquire(magic)
}
