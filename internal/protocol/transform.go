package protocol

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/dmitrijs2005/gatekeeper/internal/cryptox"
	"github.com/klauspost/compress/flate"
)

// Transforms operate on the packet's logical string fields, never the
// header. Each transform writes nothing into the packet until the whole
// operation has succeeded, so on failure the original packet stays usable
// for diagnostic logging. The corresponding flag bit is flipped on success
// and checked first for idempotence.

// EncryptPacket encrypts every transformable field with the session secret.
// Already-encrypted packets and packets without transformable fields pass
// through unchanged.
func EncryptPacket(p Packet, key []byte) error {
	t, ok := p.(Transformable)
	if !ok || p.Flags().Has(FlagEncrypted) {
		return nil
	}

	fields := t.transformableFields()
	encrypted := make([]string, len(fields))
	for i, f := range fields {
		enc, err := cryptox.EncryptField(*f, key)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTransformFailure, err)
		}
		encrypted[i] = enc
	}

	for i, f := range fields {
		*f = encrypted[i]
	}
	p.SetFlags(p.Flags() | FlagEncrypted)
	return nil
}

// DecryptPacket reverses EncryptPacket. Calling it on a packet whose
// encrypted flag is not set is a caller error and is refused.
func DecryptPacket(p Packet, key []byte) error {
	if !p.Flags().Has(FlagEncrypted) {
		return fmt.Errorf("%w: packet is not encrypted", ErrTransformFailure)
	}
	t, ok := p.(Transformable)
	if !ok {
		return fmt.Errorf("%w: packet kind has no transformable fields", ErrTransformFailure)
	}

	fields := t.transformableFields()
	decrypted := make([]string, len(fields))
	for i, f := range fields {
		dec, err := cryptox.DecryptField(*f, key)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTransformFailure, err)
		}
		decrypted[i] = dec
	}

	for i, f := range fields {
		*f = decrypted[i]
	}
	p.SetFlags(p.Flags() &^ FlagEncrypted)
	return nil
}

// CompressPacket deflate-compresses every transformable field and wraps the
// result in base64. Already-compressed packets pass through unchanged.
func CompressPacket(p Packet) error {
	t, ok := p.(Transformable)
	if !ok || p.Flags().Has(FlagCompressed) {
		return nil
	}

	fields := t.transformableFields()
	compressed := make([]string, len(fields))
	for i, f := range fields {
		c, err := compressField(*f)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTransformFailure, err)
		}
		compressed[i] = c
	}

	for i, f := range fields {
		*f = compressed[i]
	}
	p.SetFlags(p.Flags() | FlagCompressed)
	return nil
}

// DecompressPacket reverses CompressPacket. Calling it on a packet whose
// compressed flag is not set is a caller error and is refused.
func DecompressPacket(p Packet) error {
	if !p.Flags().Has(FlagCompressed) {
		return fmt.Errorf("%w: packet is not compressed", ErrTransformFailure)
	}
	t, ok := p.(Transformable)
	if !ok {
		return fmt.Errorf("%w: packet kind has no transformable fields", ErrTransformFailure)
	}

	fields := t.transformableFields()
	decompressed := make([]string, len(fields))
	for i, f := range fields {
		d, err := decompressField(*f)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTransformFailure, err)
		}
		decompressed[i] = d
	}

	for i, f := range fields {
		*f = decompressed[i]
	}
	p.SetFlags(p.Flags() &^ FlagCompressed)
	return nil
}

func compressField(s string) (string, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return "", err
	}
	if _, err := w.Write([]byte(s)); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func decompressField(s string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}
	r := flate.NewReader(bytes.NewReader(raw))
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("inflate: %w", err)
	}
	return string(out), nil
}
