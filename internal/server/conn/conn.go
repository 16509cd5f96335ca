// Package conn holds per-connection protocol state: identity, negotiated
// session secret, permission level, and the session registry binding
// usernames to live connections.
package conn

import (
	"fmt"

	"github.com/dmitrijs2005/gatekeeper/internal/cryptox"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// PermissionLevel orders the access tiers a connection can hold.
type PermissionLevel uint8

const (
	PermissionNone PermissionLevel = iota
	PermissionGuest
	PermissionUser
	PermissionAdmin
)

func (p PermissionLevel) String() string {
	switch p {
	case PermissionNone:
		return "none"
	case PermissionGuest:
		return "guest"
	case PermissionUser:
		return "user"
	case PermissionAdmin:
		return "admin"
	default:
		return fmt.Sprintf("permission(%d)", uint8(p))
	}
}

// Connection is the server-side state of one client socket.
//
// Requests on a connection are processed strictly one at a time, so the
// handshake and account transitions mutate this state without locking; the
// session registry carries its own synchronization for cross-connection
// lookups.
type Connection struct {
	id         string
	remoteAddr string
	secret     []byte
	perm       PermissionLevel
	alive      bool
	username   string
	throttle   *rate.Limiter
}

// New creates a live, unauthenticated connection with permission None and
// the given per-connection token-bucket limiter.
func New(remoteAddr string, throttle *rate.Limiter) *Connection {
	return &Connection{
		id:         uuid.NewString(),
		remoteAddr: remoteAddr,
		perm:       PermissionNone,
		alive:      true,
		throttle:   throttle,
	}
}

func (c *Connection) ID() string             { return c.id }
func (c *Connection) RemoteAddr() string     { return c.remoteAddr }
func (c *Connection) Throttle() *rate.Limiter { return c.throttle }

// SessionSecret returns the negotiated 32-byte secret, or nil before a
// successful handshake.
func (c *Connection) SessionSecret() []byte { return c.secret }

// Established reports whether the handshake has completed. Presence of the
// secret is the sole signal.
func (c *Connection) Established() bool { return c.secret != nil }

// SetSessionSecret stores the derived session secret. Anything other than
// exactly 32 bytes is rejected.
func (c *Connection) SetSessionSecret(secret []byte) error {
	if len(secret) != cryptox.SessionSecretSize {
		return fmt.Errorf("session secret must be %d bytes, got %d", cryptox.SessionSecretSize, len(secret))
	}
	c.secret = secret
	return nil
}

// ClearSessionSecret drops the secret, returning the connection to the
// unauthenticated transport state. Used by handshake rollback.
func (c *Connection) ClearSessionSecret() { c.secret = nil }

func (c *Connection) Permission() PermissionLevel     { return c.perm }
func (c *Connection) SetPermission(p PermissionLevel) { c.perm = p }

// Alive reports whether the connection should keep being served. Logout
// drops it after the response is flushed.
func (c *Connection) Alive() bool { return c.alive }

// MarkClosed flags the connection for teardown once the in-flight response
// has been written.
func (c *Connection) MarkClosed() { c.alive = false }

// Username returns the bound account name, empty when no login is active.
func (c *Connection) Username() string { return c.username }

func (c *Connection) BindUser(username string) { c.username = username }
func (c *Connection) UnbindUser()              { c.username = "" }
