// Package tcp implements the framed TCP transport: it accepts client
// connections, pumps length-prefixed packets through the dispatcher, and
// writes back exactly one response per request.
package tcp

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/dmitrijs2005/gatekeeper/internal/logging"
	"github.com/dmitrijs2005/gatekeeper/internal/protocol"
	"github.com/dmitrijs2005/gatekeeper/internal/server/conn"
	"github.com/dmitrijs2005/gatekeeper/internal/server/dispatch"
	"github.com/dmitrijs2005/gatekeeper/internal/server/handshake"
	"golang.org/x/time/rate"
)

// Options carries the transport tunables.
type Options struct {
	// Address is the TCP bind address, e.g. ":9190".
	Address string

	// ThrottleRate / ThrottleBurst configure the per-connection token bucket
	// consulted by the dispatch throttle stage.
	ThrottleRate  rate.Limit
	ThrottleBurst int
}

// Server owns the listener and one goroutine per accepted connection.
// Requests on a single connection are processed strictly in order.
type Server struct {
	opts       Options
	logger     logging.Logger
	codec      *protocol.Codec
	dispatcher *dispatch.Dispatcher
	sessions   *conn.Registry

	mu       sync.Mutex
	listener net.Listener
}

func NewServer(opts Options, logger logging.Logger, codec *protocol.Codec, dispatcher *dispatch.Dispatcher, sessions *conn.Registry) *Server {
	return &Server{
		opts:       opts,
		logger:     logger.With("module", "tcp_server"),
		codec:      codec,
		dispatcher: dispatcher,
		sessions:   sessions,
	}
}

// Addr returns the listener address once Run has bound it, nil before.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Run binds the listener and accepts connections until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.opts.Address)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = listen
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping TCP server...")
		listen.Close()
	}()

	s.logger.Info(ctx, "Starting TCP server", "address", listen.Addr().String())

	for {
		nc, err := listen.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn(ctx, "accept failed", "err", err)
			continue
		}
		go s.serve(ctx, nc)
	}
}

// serve pumps one connection: read a frame, dispatch it, write the
// response. The loop ends on read error, logout, or shutdown.
func (s *Server) serve(ctx context.Context, nc net.Conn) {
	defer nc.Close()

	c := conn.New(nc.RemoteAddr().String(), rate.NewLimiter(s.opts.ThrottleRate, s.opts.ThrottleBurst))
	defer s.teardown(ctx, c)

	s.logger.Info(ctx, "connection accepted", "remote", c.RemoteAddr(), "conn", c.ID())

	for c.Alive() && ctx.Err() == nil {
		frame, err := readFrame(nc)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				s.logger.Debug(ctx, "read failed", "remote", c.RemoteAddr(), "err", err)
			}
			return
		}

		req, err := s.codec.Deserialize(frame)
		if err != nil {
			s.logger.Warn(ctx, "frame rejected", "remote", c.RemoteAddr(), "err", err)
			// Framing stays intact (frames are read by declared length), so
			// the connection survives a single bad packet.
			if werr := s.writePacket(nc, rejectResponse(err)); werr != nil {
				return
			}
			continue
		}

		// The dispatcher owns req from here: it returns the packet to the
		// pool itself once no handler goroutine can still be reading it.
		resp := s.dispatcher.Dispatch(ctx, c, req)

		werr := s.writePacket(nc, resp)
		if werr != nil {
			// The client never saw the server public key, so a secret
			// installed by this request must not survive.
			if _, ok := resp.(*protocol.HandshakeResponse); ok {
				handshake.Rollback(c)
			}
			s.codec.Release(resp)
			s.logger.Debug(ctx, "write failed", "remote", c.RemoteAddr(), "err", werr)
			return
		}
		s.codec.Release(resp)
	}
}

// teardown drops the session binding left by a connection that disappeared
// without logging out.
func (s *Server) teardown(ctx context.Context, c *conn.Connection) {
	c.MarkClosed()
	if username := c.Username(); username != "" {
		s.sessions.Unregister(username, c)
		c.UnbindUser()
	}
	s.logger.Info(ctx, "connection closed", "remote", c.RemoteAddr(), "conn", c.ID())
}

func (s *Server) writePacket(nc net.Conn, p protocol.Packet) error {
	buf, err := protocol.Serialize(p)
	if err != nil {
		return err
	}
	_, err = nc.Write(buf)
	return err
}

// rejectResponse is the answer to a frame the codec refused: the opcode is
// unknown, so the response carries opcode zero.
func rejectResponse(err error) *protocol.StatusResponse {
	status := protocol.StatusInvalidPacket
	advice := protocol.AdviceFixAndRetry
	if errors.Is(err, protocol.ErrUnsupportedPacketType) {
		status = protocol.StatusUnsupportedPacket
		advice = protocol.AdviceDoNotRetry
	}
	return &protocol.StatusResponse{Status: status, Advice: advice, Message: status.String()}
}

// readFrame reads one length-prefixed frame: the fixed header first, then
// exactly the declared remainder. The 16-bit length field caps frames at
// the protocol maximum by construction.
func readFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, protocol.HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	length := int(binary.LittleEndian.Uint16(header[7:9]))
	if length < protocol.HeaderSize {
		return nil, fmt.Errorf("%w: declared length %d below header size", protocol.ErrInvalidPacket, length)
	}

	frame := make([]byte, length)
	copy(frame, header)
	if _, err := io.ReadFull(r, frame[protocol.HeaderSize:]); err != nil {
		return nil, err
	}
	return frame, nil
}
