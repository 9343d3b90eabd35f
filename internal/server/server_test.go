package server

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/caspian-yx/socket-chat-app/internal/protocol"
)

func startTestServer(t *testing.T, router *Router) (*Server, string) {
	t.Helper()
	srv := New("127.0.0.1:0", NewRegistry(), router)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.ListenAndServe(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	deadline := time.Now().Add(2 * time.Second)
	for srv.Addr() == nil {
		if time.Now().After(deadline) {
			t.Fatal("server did not bind in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return srv, srv.Addr().String()
}

func dial(t *testing.T, addr string) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, bufio.NewReader(conn)
}

func sendFrame(t *testing.T, conn net.Conn, env *protocol.Envelope) {
	t.Helper()
	frame, err := protocol.Encode(env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := conn.Write(frame); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func recvFrame(t *testing.T, conn net.Conn, r *bufio.Reader) *protocol.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	frame, err := protocol.ReadFrame(r)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	env, err := protocol.Decode(frame)
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return env
}

func TestServerRequestResponse(t *testing.T) {
	router := NewRouter()
	router.Register(protocol.CmdPresenceList, func(c *Conn, req *protocol.Envelope) (*protocol.Envelope, error) {
		return protocol.NewResponse(req, protocol.CmdPresenceList, protocol.PresenceListAckPayload{
			Status: int(protocol.StatusOK),
			Users:  []string{"alice"},
		}), nil
	})
	_, addr := startTestServer(t, router)

	conn, r := dial(t, addr)
	req, err := protocol.NewRequest(protocol.CmdPresenceList, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	sendFrame(t, conn, req)

	resp := recvFrame(t, conn, r)
	if resp.ID != req.ID {
		t.Fatalf("response id %q does not echo request id %q", resp.ID, req.ID)
	}
	if resp.Type != protocol.TypeResponse {
		t.Fatalf("expected response frame, got %q", resp.Type)
	}
	var payload protocol.PresenceListAckPayload
	if err := resp.DecodePayload(&payload); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if payload.Status != 200 || len(payload.Users) != 1 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestServerVersionGate(t *testing.T) {
	_, addr := startTestServer(t, NewRouter())

	conn, r := dial(t, addr)
	req, err := protocol.NewRequest(protocol.CmdPresenceList, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Headers["version"] = "0.9"
	sendFrame(t, conn, req)

	resp := recvFrame(t, conn, r)
	var payload protocol.ErrorPayload
	if err := resp.DecodePayload(&payload); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if payload.Status != int(protocol.StatusUpgradeRequired) || payload.ErrorCode != int(protocol.ErrCodeVersionMismatch) {
		t.Fatalf("expected 426/1002, got %+v", payload)
	}

	// The connection survives the rejected frame.
	good, err := protocol.NewRequest(protocol.CmdPresenceHeartbeat, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	sendFrame(t, conn, good)
}

// serverConn waits for the lone accepted connection to appear in the
// registry.
func serverConn(t *testing.T, srv *Server) *Conn {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		srv.registry.mu.RLock()
		for _, c := range srv.registry.conns {
			srv.registry.mu.RUnlock()
			return c
		}
		srv.registry.mu.RUnlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no server-side connection appeared")
	return nil
}

func TestVersionGateDoesNotTouchLastSeen(t *testing.T) {
	router := NewRouter()
	router.Register(protocol.CmdPresenceHeartbeat, func(c *Conn, req *protocol.Envelope) (*protocol.Envelope, error) {
		return protocol.NewResponse(req, protocol.CmdPresenceHeartbeat, protocol.StatusAckPayload{
			Status: int(protocol.StatusOK),
		}), nil
	})
	srv, addr := startTestServer(t, router)

	conn, r := dial(t, addr)
	sc := serverConn(t, srv)
	seen := sc.LastSeen()

	bad, err := protocol.NewRequest(protocol.CmdPresenceHeartbeat, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	bad.Headers["version"] = "0.9"
	sendFrame(t, conn, bad)
	recvFrame(t, conn, r)
	if !sc.LastSeen().Equal(seen) {
		t.Fatal("a frame rejected by the version gate must not refresh last_seen")
	}

	good, err := protocol.NewRequest(protocol.CmdPresenceHeartbeat, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	sendFrame(t, conn, good)
	recvFrame(t, conn, r)
	if !sc.LastSeen().After(seen) {
		t.Fatal("a valid frame must refresh last_seen")
	}
}

func TestServerEgressValidation(t *testing.T) {
	router := NewRouter()
	router.Register(protocol.CmdPresenceList, func(c *Conn, req *protocol.Envelope) (*protocol.Envelope, error) {
		// Response carrying a schema-bearing command with an invalid
		// payload; the write path must refuse it.
		return protocol.NewResponse(req, protocol.CmdPresenceUpdate, protocol.PresenceUpdatePayload{
			State: "busy",
		}), nil
	})
	_, addr := startTestServer(t, router)

	conn, r := dial(t, addr)
	req, err := protocol.NewRequest(protocol.CmdPresenceList, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	sendFrame(t, conn, req)

	resp := recvFrame(t, conn, r)
	var payload protocol.ErrorPayload
	if err := resp.DecodePayload(&payload); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if payload.Status != int(protocol.StatusInternalError) {
		t.Fatalf("expected 500, got %+v", payload)
	}
}

func TestServerHandlerError(t *testing.T) {
	router := NewRouter()
	router.Register(protocol.CmdAuthLogin, func(c *Conn, req *protocol.Envelope) (*protocol.Envelope, error) {
		return nil, protocol.Unauthorized("invalid credentials")
	})
	_, addr := startTestServer(t, router)

	conn, r := dial(t, addr)
	req, err := protocol.NewRequest(protocol.CmdAuthLogin, protocol.CredentialsPayload{
		Username: "alice", Password: "wrong",
	})
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	sendFrame(t, conn, req)

	resp := recvFrame(t, conn, r)
	if resp.Command != protocol.CmdAuthLoginAck {
		t.Fatalf("error response command = %q, want %q", resp.Command, protocol.CmdAuthLoginAck)
	}
	var payload protocol.ErrorPayload
	if err := resp.DecodePayload(&payload); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if payload.Status != int(protocol.StatusUnauthorized) {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestServerMalformedFrame(t *testing.T) {
	_, addr := startTestServer(t, NewRouter())

	conn, r := dial(t, addr)
	if _, err := conn.Write([]byte("this is not json\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	resp := recvFrame(t, conn, r)
	var payload protocol.ErrorPayload
	if err := resp.DecodePayload(&payload); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if payload.Status != int(protocol.StatusBadRequest) {
		t.Fatalf("expected 400, got %+v", payload)
	}
}

func TestServerDisconnectHook(t *testing.T) {
	registry := NewRegistry()
	router := NewRouter()
	router.Register(protocol.CmdAuthLogin, func(c *Conn, req *protocol.Envelope) (*protocol.Envelope, error) {
		c.Bind("alice", "tok")
		registry.BindUser("alice", c)
		return protocol.NewResponse(req, protocol.CmdAuthLoginAck, protocol.AuthAckPayload{
			Status: 200, Token: "tok", UserID: "alice",
		}), nil
	})

	srv := New("127.0.0.1:0", registry, router)
	disconnected := make(chan string, 1)
	srv.SetDisconnectHandler(func(c *Conn) {
		disconnected <- c.UserID()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.ListenAndServe(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	deadline := time.Now().Add(2 * time.Second)
	for srv.Addr() == nil {
		if time.Now().After(deadline) {
			t.Fatal("server did not bind in time")
		}
		time.Sleep(5 * time.Millisecond)
	}

	conn, r := dial(t, srv.Addr().String())
	req, err := protocol.NewRequest(protocol.CmdAuthLogin, protocol.CredentialsPayload{
		Username: "alice", Password: "hash",
	})
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	sendFrame(t, conn, req)
	recvFrame(t, conn, r)

	conn.Close()
	select {
	case userID := <-disconnected:
		if userID != "alice" {
			t.Fatalf("disconnect hook got %q", userID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect hook did not fire")
	}
}
