package protocol

import (
	"encoding/binary"
	"fmt"
)

// Data-region field helpers. Variable-length fields are written as a u16
// little-endian byte count followed by the raw bytes.

func appendBytesField(buf []byte, b []byte) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(b)))
	return append(buf, b...)
}

func appendStringField(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

func readBytesField(data []byte, off int, name string) ([]byte, int, error) {
	if len(data) < off+2 {
		return nil, off, fmt.Errorf("%w: truncated %s length", ErrInvalidPacket, name)
	}
	n := int(binary.LittleEndian.Uint16(data[off : off+2]))
	off += 2
	if len(data) < off+n {
		return nil, off, fmt.Errorf("%w: truncated %s", ErrInvalidPacket, name)
	}
	out := make([]byte, n)
	copy(out, data[off:off+n])
	return out, off + n, nil
}

func readStringField(data []byte, off int, name string) (string, int, error) {
	b, off, err := readBytesField(data, off, name)
	if err != nil {
		return "", off, err
	}
	return string(b), off, nil
}

// HandshakeRequest carries the client's raw 32-byte public key. It is the
// only packet a connection may send before a session secret exists.
type HandshakeRequest struct {
	header
	PublicKey []byte
}

func (p *HandshakeRequest) Magic() uint32 { return MagicHandshakeRequest }

func (p *HandshakeRequest) Reset() {
	p.resetHeader()
	p.PublicKey = nil
}

func (p *HandshakeRequest) dataSize() int { return 2 + len(p.PublicKey) }

func (p *HandshakeRequest) marshalData(buf []byte) []byte {
	return appendBytesField(buf, p.PublicKey)
}

func (p *HandshakeRequest) unmarshalData(data []byte) error {
	key, off, err := readBytesField(data, 0, "public key")
	if err != nil {
		return err
	}
	if off != len(data) {
		return fmt.Errorf("%w: %d trailing bytes", ErrInvalidPacket, len(data)-off)
	}
	p.PublicKey = key
	return nil
}

// HandshakeResponse carries the server's raw 32-byte public key. It is sent
// unencrypted: the client has no session secret until it arrives.
type HandshakeResponse struct {
	header
	PublicKey []byte
}

func (p *HandshakeResponse) Magic() uint32 { return MagicHandshakeResponse }

func (p *HandshakeResponse) Reset() {
	p.resetHeader()
	p.PublicKey = nil
}

func (p *HandshakeResponse) dataSize() int { return 2 + len(p.PublicKey) }

func (p *HandshakeResponse) marshalData(buf []byte) []byte {
	return appendBytesField(buf, p.PublicKey)
}

func (p *HandshakeResponse) unmarshalData(data []byte) error {
	key, off, err := readBytesField(data, 0, "public key")
	if err != nil {
		return err
	}
	if off != len(data) {
		return fmt.Errorf("%w: %d trailing bytes", ErrInvalidPacket, len(data)-off)
	}
	p.PublicKey = key
	return nil
}

// AccountRequest is the payload for the register, login, logout, and
// change-password opcodes. Unused fields are sent empty; all three string
// fields participate in the transform pipeline.
type AccountRequest struct {
	header
	Username    string
	Password    string
	NewPassword string
}

func (p *AccountRequest) Magic() uint32 { return MagicAccountRequest }

func (p *AccountRequest) Reset() {
	p.resetHeader()
	p.Username = ""
	p.Password = ""
	p.NewPassword = ""
}

func (p *AccountRequest) dataSize() int {
	return 6 + len(p.Username) + len(p.Password) + len(p.NewPassword)
}

func (p *AccountRequest) marshalData(buf []byte) []byte {
	buf = appendStringField(buf, p.Username)
	buf = appendStringField(buf, p.Password)
	buf = appendStringField(buf, p.NewPassword)
	return buf
}

func (p *AccountRequest) unmarshalData(data []byte) error {
	var err error
	off := 0
	if p.Username, off, err = readStringField(data, off, "username"); err != nil {
		return err
	}
	if p.Password, off, err = readStringField(data, off, "password"); err != nil {
		return err
	}
	if p.NewPassword, off, err = readStringField(data, off, "new password"); err != nil {
		return err
	}
	if off != len(data) {
		return fmt.Errorf("%w: %d trailing bytes", ErrInvalidPacket, len(data)-off)
	}
	return nil
}

func (p *AccountRequest) transformableFields() []*string {
	return []*string{&p.Username, &p.Password, &p.NewPassword}
}

// StatusResponse is the generic server reply: a status byte, a retry-advice
// byte, and an optional human-readable message.
type StatusResponse struct {
	header
	Status  Status
	Advice  RetryAdvice
	Message string
}

func (p *StatusResponse) Magic() uint32 { return MagicStatusResponse }

func (p *StatusResponse) Reset() {
	p.resetHeader()
	p.Status = StatusOK
	p.Advice = AdviceDoNotRetry
	p.Message = ""
}

func (p *StatusResponse) dataSize() int { return 4 + len(p.Message) }

func (p *StatusResponse) marshalData(buf []byte) []byte {
	buf = append(buf, byte(p.Status), byte(p.Advice))
	buf = appendStringField(buf, p.Message)
	return buf
}

func (p *StatusResponse) unmarshalData(data []byte) error {
	if len(data) < 2 {
		return fmt.Errorf("%w: truncated status", ErrInvalidPacket)
	}
	p.Status = Status(data[0])
	p.Advice = RetryAdvice(data[1])

	msg, off, err := readStringField(data, 2, "message")
	if err != nil {
		return err
	}
	if off != len(data) {
		return fmt.Errorf("%w: %d trailing bytes", ErrInvalidPacket, len(data)-off)
	}
	p.Message = msg
	return nil
}

func (p *StatusResponse) transformableFields() []*string {
	return []*string{&p.Message}
}
