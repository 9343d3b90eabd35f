package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/caspian-yx/socket-chat-app/internal/metrics"
	"github.com/caspian-yx/socket-chat-app/internal/protocol"
)

// DisconnectFunc runs after a connection leaves the registry, while its
// identity is still bound. Services use it to flip presence and tear down
// calls for users that drop without logging out.
type DisconnectFunc func(c *Conn)

// Server owns the control-channel listener and the per-connection read
// loops.
type Server struct {
	addr     string
	registry *Registry
	router   *Router

	onDisconnect DisconnectFunc

	mu       sync.Mutex
	listener net.Listener
	closed   bool
	wg       sync.WaitGroup
}

func New(addr string, registry *Registry, router *Router) *Server {
	return &Server{
		addr:     addr,
		registry: registry,
		router:   router,
	}
}

// SetDisconnectHandler must be called before ListenAndServe.
func (s *Server) SetDisconnectHandler(fn DisconnectFunc) {
	s.onDisconnect = fn
}

// Addr returns the bound listener address, valid after ListenAndServe has
// started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ListenAndServe binds the control port and accepts connections until ctx is
// cancelled or Shutdown is called.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return net.ErrClosed
	}
	s.listener = ln
	s.mu.Unlock()

	slog.Info("control channel listening", "component", "server", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		s.Shutdown()
	}()

	for {
		netc, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed || errors.Is(err, net.ErrClosed) {
				return nil
			}
			slog.Error("accept failed", "component", "server", "error", err)
			continue
		}

		conn := NewConn(netc)
		s.registry.Add(conn)
		metrics.ConnectionsOpen.Inc()
		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

// Shutdown closes the listener and every live connection, then waits for the
// read loops to drain.
func (s *Server) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.wg.Wait()
		return
	}
	s.closed = true
	ln := s.listener
	s.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	for _, userID := range s.registry.OnlineUsers() {
		if c, ok := s.registry.ConnForUser(userID); ok {
			c.Close()
		}
	}
	s.wg.Wait()
	slog.Info("control channel stopped", "component", "server")
}

func (s *Server) serveConn(c *Conn) {
	defer s.wg.Done()
	defer func() {
		c.Close()
		s.registry.Remove(c)
		metrics.ConnectionsOpen.Dec()
		if s.onDisconnect != nil && c.UserID() != "" {
			s.onDisconnect(c)
		}
		slog.Debug("connection closed", "component", "server",
			"conn_id", c.ID, "remote", c.RemoteAddr())
	}()

	slog.Debug("connection opened", "component", "server",
		"conn_id", c.ID, "remote", c.RemoteAddr())

	for {
		frame, err := c.ReadFrame()
		if err != nil {
			if perr, ok := err.(*protocol.ProtocolError); ok {
				// Oversize frame: answer and keep reading.
				if werr := c.WriteEnvelope(protocol.NewErrorResponse(nil, perr)); werr != nil {
					return
				}
				continue
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				slog.Debug("read failed", "component", "server", "conn_id", c.ID, "error", err)
			}
			return
		}

		metrics.FramesRead.Inc()

		req, err := protocol.Decode(frame)
		if err != nil {
			if !s.respondError(c, nil, err) {
				return
			}
			continue
		}

		if err := protocol.Validate(req); err != nil {
			if !s.respondError(c, req, err) {
				return
			}
			continue
		}

		// last_seen moves only for frames that pass the gate.
		c.Touch()

		resp, err := s.router.Dispatch(c, req)
		if err != nil {
			if !s.respondError(c, req, err) {
				return
			}
			continue
		}
		if resp != nil {
			// A response that fails its own command's schema must not
			// reach the wire.
			if verr := protocol.ValidatePayload(resp); verr != nil {
				slog.Error("response failed egress validation", "component", "server",
					"command", resp.Command, "conn_id", c.ID, "error", verr)
				internal := protocol.NewError(protocol.StatusInternalError, protocol.ErrCodeNone, "internal error")
				if !s.respondError(c, req, internal) {
					return
				}
				continue
			}
			if err := c.WriteEnvelope(resp); err != nil {
				return
			}
		}
	}
}

// respondError maps a handler error onto the wire. Returns false when the
// connection is no longer writable.
func (s *Server) respondError(c *Conn, req *protocol.Envelope, err error) bool {
	perr, ok := err.(*protocol.ProtocolError)
	if !ok {
		slog.Error("handler failed", "component", "server",
			"command", commandOf(req), "conn_id", c.ID, "error", err)
		perr = protocol.NewError(protocol.StatusInternalError, protocol.ErrCodeNone, "internal error")
	}
	return c.WriteEnvelope(protocol.NewErrorResponse(req, perr)) == nil
}

func commandOf(req *protocol.Envelope) string {
	if req == nil {
		return ""
	}
	return req.Command
}
