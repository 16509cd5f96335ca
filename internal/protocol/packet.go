// Package protocol defines the binary packet envelope exchanged between
// client and server: a fixed little-endian header (magic number, opcode,
// flags, total length) followed by a packet-kind-specific data region.
//
// Every packet kind is identified by a unique 4-byte magic number that is
// validated against the registered-type catalog before any data-region bytes
// are parsed. Packet instances are drawn from a bounded pool and must be
// released (and thereby reset) by the caller when processing is done.
package protocol

import "errors"

const (
	// HeaderSize is the fixed wire header size:
	// magic(4) + opcode(2) + flags(1) + length(2).
	HeaderSize = 9

	// MaxPacketSize is the largest total packet length the 16-bit length
	// field can carry.
	MaxPacketSize = 65535
)

// Packet kind magic numbers (ASCII tags read as little-endian uint32).
const (
	MagicHandshakeRequest  uint32 = 0x51525348 // "HSRQ"
	MagicHandshakeResponse uint32 = 0x53525348 // "HSRS"
	MagicAccountRequest    uint32 = 0x51524341 // "ACRQ"
	MagicStatusResponse    uint32 = 0x53525453 // "STRS"
)

// Command opcodes.
const (
	OpNone           uint16 = 0x0000
	OpHandshake      uint16 = 0x0001
	OpRegister       uint16 = 0x0010
	OpLogin          uint16 = 0x0011
	OpLogout         uint16 = 0x0012
	OpChangePassword uint16 = 0x0013
)

// Flags is the packet flag bitset.
type Flags uint8

const (
	FlagEncrypted  Flags = 1 << 0
	FlagCompressed Flags = 1 << 1
)

// Has reports whether all bits in x are set.
func (f Flags) Has(x Flags) bool { return f&x == x }

var (
	// ErrUnsupportedPacketType signals an unregistered magic number.
	ErrUnsupportedPacketType = errors.New("unsupported packet type")

	// ErrInvalidPacket signals a malformed frame: short buffer, length
	// mismatch, or an undecodable data region.
	ErrInvalidPacket = errors.New("invalid packet")

	// ErrPacketTooLarge signals a packet whose serialized form would not
	// fit the 16-bit length field.
	ErrPacketTooLarge = errors.New("packet exceeds maximum size")

	// ErrTransformFailure signals a failed payload transform (bad base64,
	// cipher mismatch, corrupt compressed stream). It is distinct from
	// plain validation errors so clients can tell "retry with the correct
	// key" apart from "fix your payload".
	ErrTransformFailure = errors.New("transform failure")
)

// Packet is one wire message. Concrete kinds live in this package and are
// registered with the pool manager; their data regions are declared
// field-by-field with explicit ordering.
type Packet interface {
	// Magic returns the packet kind discriminator.
	Magic() uint32

	// Opcode returns the command identifier carried in the header.
	Opcode() uint16
	SetOpcode(op uint16)

	// Flags returns the header flag bitset.
	Flags() Flags
	SetFlags(f Flags)

	// Reset restores the neutral default state (opcode none, flags
	// cleared, payload fields emptied) before the instance returns to the
	// pool. Pooled instances must never leak prior session data.
	Reset()

	dataSize() int
	marshalData(buf []byte) []byte
	unmarshalData(data []byte) error
}

// Transformable is implemented by packet kinds whose logical string fields
// can be encrypted or compressed by the transform pipeline. The header is
// never transformed.
type Transformable interface {
	transformableFields() []*string
}

// header carries the mutable envelope state shared by all packet kinds.
type header struct {
	op    uint16
	flags Flags
}

func (h *header) Opcode() uint16      { return h.op }
func (h *header) SetOpcode(op uint16) { h.op = op }
func (h *header) Flags() Flags        { return h.flags }
func (h *header) SetFlags(f Flags)    { h.flags = f }

func (h *header) resetHeader() {
	h.op = OpNone
	h.flags = 0
}
