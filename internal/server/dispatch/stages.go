package dispatch

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/dmitrijs2005/gatekeeper/internal/protocol"
)

// The inbound stage order is a configuration invariant:
// permission → throttle → admission → rate limit → unwrap → timeout.
// A stage that returns an error short-circuits everything after it; the
// rejection still traverses the outbound wrap in Dispatch.

// permissionStage rejects requests below the opcode's declared minimum
// permission level before any work is done on them.
func (d *Dispatcher) permissionStage(reg Registration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (protocol.Packet, error) {
			if req.Conn.Permission() < reg.MinPermission {
				return nil, fmt.Errorf("%w: have %s, need %s",
					common.ErrorInvalidSession, req.Conn.Permission(), reg.MinPermission)
			}
			return next(ctx, req)
		}
	}
}

// throttleStage enforces the per-connection token bucket.
func (d *Dispatcher) throttleStage() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (protocol.Packet, error) {
			if !req.Conn.Throttle().Allow() {
				return nil, fmt.Errorf("%w: connection token bucket empty", common.ErrorThrottle)
			}
			return next(ctx, req)
		}
	}
}

// admissionStage bounds the number of requests in flight across all
// connections. Waiting for a slot is a cooperative suspend, not a spin.
func (d *Dispatcher) admissionStage() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (protocol.Packet, error) {
			if err := d.admission.Acquire(ctx, 1); err != nil {
				return nil, fmt.Errorf("%w: admission: %v", common.ErrorThrottle, err)
			}
			defer d.admission.Release(1)
			return next(ctx, req)
		}
	}
}

// rateLimitStage paces requests against the shared server-wide limiter.
func (d *Dispatcher) rateLimitStage() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (protocol.Packet, error) {
			if err := d.global.Wait(ctx); err != nil {
				return nil, fmt.Errorf("%w: rate limit: %v", common.ErrorThrottle, err)
			}
			return next(ctx, req)
		}
	}
}

// unwrapStage decrypts and decompresses the payload as flagged, consulting
// the registration's encryption requirement rather than the handler body.
func (d *Dispatcher) unwrapStage(reg Registration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (protocol.Packet, error) {
			flags := req.Packet.Flags()

			if reg.RequireEncrypted && !flags.Has(protocol.FlagEncrypted) {
				return nil, fmt.Errorf("%w: opcode requires an encrypted payload", common.ErrorValidation)
			}

			if flags.Has(protocol.FlagEncrypted) {
				if !req.Conn.Established() {
					return nil, fmt.Errorf("%w: encrypted payload before handshake", common.ErrorInvalidSession)
				}
				if err := protocol.DecryptPacket(req.Packet, req.Conn.SessionSecret()); err != nil {
					return nil, err
				}
			}

			if req.Packet.Flags().Has(protocol.FlagCompressed) {
				if err := protocol.DecompressPacket(req.Packet); err != nil {
					return nil, err
				}
			}

			return next(ctx, req)
		}
	}
}

// timeoutStage bounds handler latency. The handler runs on its own
// goroutine; when the deadline passes first, the stage answers with a
// backoff-retry error instead of leaving the connection hanging.
func (d *Dispatcher) timeoutStage() Middleware {
	type result struct {
		resp protocol.Packet
		err  error
	}

	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (protocol.Packet, error) {
			ctx, cancel := context.WithTimeout(ctx, d.timeout)
			defer cancel()

			done := make(chan result, 1)
			go func() {
				defer func() {
					if r := recover(); r != nil {
						done <- result{nil, fmt.Errorf("%w: handler panic: %v", common.ErrorInternal, r)}
					}
				}()
				resp, err := next(ctx, req)
				done <- result{resp, err}
			}()

			select {
			case r := <-done:
				return r.resp, r.err
			case <-ctx.Done():
				// The abandoned handler still holds the request packet. It
				// must not reach the pool until that goroutine is done, or
				// the next request would reuse it under the handler's feet.
				// done is buffered and every exit path of the goroutine
				// sends, so this drain always terminates.
				req.detached = true
				go func() {
					r := <-done
					if r.resp != nil && r.resp != req.Packet {
						d.releasePacket(r.resp)
					}
					d.releasePacket(req.Packet)
				}()
				return nil, fmt.Errorf("%w: %v", common.ErrorTimeout, ctx.Err())
			}
		}
	}
}
