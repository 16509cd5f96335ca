// Package handshake implements the one-shot key-exchange transition that
// upgrades a raw connection to an encrypted session: X25519 agreement,
// SHA-256 derivation of the 32-byte session secret, and permission
// elevation from None to Guest.
package handshake

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/dmitrijs2005/gatekeeper/internal/cryptox"
	"github.com/dmitrijs2005/gatekeeper/internal/logging"
	"github.com/dmitrijs2005/gatekeeper/internal/protocol"
	"github.com/dmitrijs2005/gatekeeper/internal/server/conn"
	"github.com/dmitrijs2005/gatekeeper/internal/server/dispatch"
)

type Handler struct {
	logger logging.Logger
}

func NewHandler(logger logging.Logger) *Handler {
	return &Handler{logger: logger.With("module", "handshake")}
}

// Handle performs the key exchange. Exactly one successful transition is
// permitted per connection lifetime; the duplicate-session check enforces
// this, relying on the one-request-at-a-time processing model rather than a
// lock.
func (h *Handler) Handle(ctx context.Context, req *dispatch.Request) (protocol.Packet, error) {
	hs, ok := req.Packet.(*protocol.HandshakeRequest)
	if !ok {
		return nil, fmt.Errorf("%w: expected handshake packet, got magic 0x%08X",
			common.ErrorUnsupportedPacket, req.Packet.Magic())
	}

	c := req.Conn
	if c.Established() {
		return nil, fmt.Errorf("%w: handshake already completed", common.ErrorDuplicateSession)
	}

	if len(hs.PublicKey) == 0 {
		return nil, fmt.Errorf("%w: public key", common.ErrorMissingRequiredField)
	}
	if len(hs.PublicKey) != cryptox.PublicKeySize {
		return nil, fmt.Errorf("%w: public key must be %d bytes, got %d",
			common.ErrorValidation, cryptox.PublicKeySize, len(hs.PublicKey))
	}

	// A timed-out handshake has already been answered with an error; the
	// secret must not be installed behind the client's back.
	if ctx.Err() != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrorTimeout, ctx.Err())
	}

	localPublic, err := h.establish(c, hs.PublicKey)
	if err != nil {
		// Never leave the connection half-upgraded.
		Rollback(c)
		h.logger.Error(ctx, "key agreement failed", "remote", c.RemoteAddr(), "err", err)
		return nil, common.ErrorInternal
	}

	h.logger.Info(ctx, "session established", "remote", c.RemoteAddr(), "conn", c.ID())

	resp := &protocol.HandshakeResponse{PublicKey: localPublic}
	resp.SetOpcode(protocol.OpHandshake)
	return resp, nil
}

// establish derives and installs the session secret, returning the local
// public key to send back. The private key and the raw shared secret are
// wiped as soon as the secret has been derived.
func (h *Handler) establish(c *conn.Connection, remotePublic []byte) ([]byte, error) {
	private, public, err := cryptox.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("key pair generation: %w", err)
	}
	defer common.WipeByteArray(private)

	shared, err := cryptox.SharedSecret(private, remotePublic)
	if err != nil {
		return nil, err
	}
	secret := cryptox.SessionSecretFromShared(shared)
	common.WipeByteArray(shared)

	if err := c.SetSessionSecret(secret); err != nil {
		return nil, err
	}
	c.SetPermission(conn.PermissionGuest)

	return public, nil
}

// Rollback reverts a connection to its pre-handshake state. The transport
// layer calls this when the response carrying the server public key could
// not be delivered: a session secret is only valid once the client is
// confirmed to hold the peer key.
func Rollback(c *conn.Connection) {
	c.ClearSessionSecret()
	c.SetPermission(conn.PermissionNone)
}
