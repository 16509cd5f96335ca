package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/dmitrijs2005/gatekeeper/internal/logging"
	"github.com/dmitrijs2005/gatekeeper/internal/protocol"
	"github.com/dmitrijs2005/gatekeeper/internal/server/conn"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Options carries the dispatcher's tunables.
type Options struct {
	// HandlerTimeout is the upper bound on handler latency.
	HandlerTimeout time.Duration

	// MaxConcurrent bounds requests in flight across all connections.
	MaxConcurrent int64

	// GlobalRate / GlobalBurst configure the shared rate limiter.
	GlobalRate  rate.Limit
	GlobalBurst int

	// ReleasePacket returns a request packet to its pool once no goroutine
	// can still be reading it. Nil disables pooling of dispatched requests.
	ReleasePacket func(protocol.Packet)
}

// Dispatcher runs the ordered middleware chain around the opcode handler
// table. One Dispatcher serves all connections.
type Dispatcher struct {
	registry  *Registry
	logger    logging.Logger
	admission *semaphore.Weighted
	global    *rate.Limiter
	timeout   time.Duration
	release   func(protocol.Packet)
}

func NewDispatcher(registry *Registry, logger logging.Logger, opts Options) *Dispatcher {
	return &Dispatcher{
		registry:  registry,
		logger:    logger.With("module", "dispatch"),
		admission: semaphore.NewWeighted(opts.MaxConcurrent),
		global:    rate.NewLimiter(opts.GlobalRate, opts.GlobalBurst),
		timeout:   opts.HandlerTimeout,
		release:   opts.ReleasePacket,
	}
}

func (d *Dispatcher) releasePacket(p protocol.Packet) {
	if d.release != nil {
		d.release(p)
	}
}

// Dispatch routes one inbound packet and always returns exactly one
// response packet, whatever happens on the way: unknown opcodes, stage
// rejections, handler errors, and handler panics all map to a status
// response. Dispatch takes ownership of the request packet and returns it
// to the pool once no goroutine can still be reading it; the caller only
// owns the response.
func (d *Dispatcher) Dispatch(ctx context.Context, c *conn.Connection, p protocol.Packet) protocol.Packet {
	// Whether the client asked for a compressed reply, read before the
	// unwrap stage clears the flag.
	wantCompressed := p.Flags().Has(protocol.FlagCompressed)

	reg, ok := d.registry.lookup(p.Opcode())
	if !ok {
		d.logger.Warn(ctx, "unknown opcode", "opcode", p.Opcode(), "remote", c.RemoteAddr())
		resp := d.status(p.Opcode(), protocol.StatusInvalidPacket, protocol.AdviceDoNotRetry, "unknown command")
		d.releasePacket(p)
		// A zero Registration never encrypts; compression still mirrors
		// the request like every other rejection.
		return d.wrap(ctx, c, Registration{}, resp, wantCompressed)
	}

	h := chain(reg.Handler,
		d.permissionStage(reg),
		d.throttleStage(),
		d.admissionStage(),
		d.rateLimitStage(),
		d.unwrapStage(reg),
		d.timeoutStage(),
	)

	req := &Request{Conn: c, Packet: p}
	resp, err := d.safeCall(ctx, h, req)
	if err != nil {
		resp = d.reject(ctx, c, p.Opcode(), err)
	}
	if resp == nil {
		// A handler returning neither response nor error would leave the
		// request unanswered, which the protocol forbids.
		d.logger.Error(ctx, "handler produced no response", "opcode", p.Opcode())
		resp = d.status(p.Opcode(), protocol.StatusInternalError, protocol.AdviceBackoffRetry, "")
	}

	// An abandoned handler still holds the packet; the timeout stage
	// releases it once that goroutine finishes.
	if !req.detached && resp != p {
		d.releasePacket(p)
	}

	return d.wrap(ctx, c, reg, resp, wantCompressed)
}

// safeCall invokes the chained handler and converts panics into internal
// errors so a single handler fault can never crash the dispatch loop.
func (d *Dispatcher) safeCall(ctx context.Context, h HandlerFunc, req *Request) (resp protocol.Packet, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error(ctx, "handler panic",
				"opcode", req.Packet.Opcode(), "remote", req.Conn.RemoteAddr(), "panic", r)
			resp, err = nil, common.ErrorInternal
		}
	}()
	return h(ctx, req)
}

// wrap runs the outbound stage: compress when the request was compressed,
// then encrypt when the opcode's registration demands an encrypted exchange
// and a session secret exists. Wrap failures degrade to a plain internal
// error response rather than leaking plaintext.
func (d *Dispatcher) wrap(ctx context.Context, c *conn.Connection, reg Registration, resp protocol.Packet, wantCompressed bool) protocol.Packet {
	if wantCompressed {
		if err := protocol.CompressPacket(resp); err != nil {
			d.logger.Error(ctx, "response compression failed", "err", err)
			return d.status(resp.Opcode(), protocol.StatusInternalError, protocol.AdviceBackoffRetry, "")
		}
	}

	if reg.RequireEncrypted && c.Established() {
		if err := protocol.EncryptPacket(resp, c.SessionSecret()); err != nil {
			d.logger.Error(ctx, "response encryption failed", "err", err)
			return d.status(resp.Opcode(), protocol.StatusInternalError, protocol.AdviceBackoffRetry, "")
		}
	}

	return resp
}

// reject maps an error from a stage or handler onto the wire status
// taxonomy and logs it at a severity matching risk.
func (d *Dispatcher) reject(ctx context.Context, c *conn.Connection, op uint16, err error) protocol.Packet {
	status, advice := classify(err)

	fields := []any{
		"opcode", op,
		"remote", c.RemoteAddr(),
		"username", c.Username(),
		"status", status.String(),
	}

	switch status {
	case protocol.StatusInternalError:
		// Full context for audit; the client only sees the generic code.
		d.logger.Error(ctx, "request failed", append(fields, "err", err)...)
		return d.status(op, status, advice, "")
	case protocol.StatusLocked, protocol.StatusInvalidCredentials:
		d.logger.Warn(ctx, "request rejected", append(fields, "err", err)...)
	default:
		d.logger.Debug(ctx, "request rejected", append(fields, "err", err)...)
	}

	return d.status(op, status, advice, status.String())
}

func (d *Dispatcher) status(op uint16, s protocol.Status, a protocol.RetryAdvice, msg string) *protocol.StatusResponse {
	resp := &protocol.StatusResponse{Status: s, Advice: a, Message: msg}
	resp.SetOpcode(op)
	return resp
}

// classify maps sentinel errors onto response codes and retry advice.
func classify(err error) (protocol.Status, protocol.RetryAdvice) {
	switch {
	case errors.Is(err, common.ErrorUnsupportedPacket):
		return protocol.StatusUnsupportedPacket, protocol.AdviceDoNotRetry
	case errors.Is(err, common.ErrorDuplicateSession):
		return protocol.StatusDuplicateSession, protocol.AdviceDoNotRetry
	case errors.Is(err, common.ErrorMissingRequiredField):
		return protocol.StatusMissingRequiredField, protocol.AdviceFixAndRetry
	case errors.Is(err, common.ErrorValidation):
		return protocol.StatusValidationFailed, protocol.AdviceFixAndRetry
	case errors.Is(err, common.ErrorInvalidPayload):
		return protocol.StatusInvalidPayload, protocol.AdviceFixAndRetry
	case errors.Is(err, common.ErrorAlreadyExists):
		return protocol.StatusAlreadyExists, protocol.AdviceDoNotRetry
	case errors.Is(err, common.ErrorInvalidCredentials):
		return protocol.StatusInvalidCredentials, protocol.AdviceFixAndRetry
	case errors.Is(err, common.ErrorLocked):
		return protocol.StatusLocked, protocol.AdviceBackoffRetry
	case errors.Is(err, common.ErrorDisabled):
		return protocol.StatusDisabled, protocol.AdviceDoNotRetry
	case errors.Is(err, common.ErrorInvalidSession):
		return protocol.StatusInvalidSession, protocol.AdviceDoNotRetry
	case errors.Is(err, common.ErrorPasswordTooWeak):
		return protocol.StatusPasswordTooWeak, protocol.AdviceFixAndRetry
	case errors.Is(err, protocol.ErrTransformFailure):
		return protocol.StatusInvalidPacket, protocol.AdviceFixAndRetry
	case errors.Is(err, common.ErrorThrottle), errors.Is(err, common.ErrorTimeout):
		return protocol.StatusInternalError, protocol.AdviceBackoffRetry
	default:
		return protocol.StatusInternalError, protocol.AdviceBackoffRetry
	}
}
