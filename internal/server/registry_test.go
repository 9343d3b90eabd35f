package server

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/caspian-yx/socket-chat-app/internal/protocol"
)

func pipeConn(t *testing.T) (*Conn, net.Conn) {
	t.Helper()
	serverSide, clientSide := net.Pipe()
	c := NewConn(serverSide)
	t.Cleanup(func() {
		c.Close()
		clientSide.Close()
	})
	return c, clientSide
}

func readEnvelope(t *testing.T, peer net.Conn) *protocol.Envelope {
	t.Helper()
	peer.SetReadDeadline(time.Now().Add(time.Second))
	frame, err := protocol.ReadFrame(bufio.NewReader(peer))
	if err != nil {
		t.Fatalf("reading frame: %v", err)
	}
	env, err := protocol.Decode(frame)
	if err != nil {
		t.Fatalf("decoding frame: %v", err)
	}
	return env
}

func TestRegistryBindDisplacement(t *testing.T) {
	registry := NewRegistry()

	first, _ := pipeConn(t)
	second, _ := pipeConn(t)
	registry.Add(first)
	registry.Add(second)

	first.Bind("alice", "tok1")
	if displaced := registry.BindUser("alice", first); displaced != nil {
		t.Fatalf("first bind must not displace, got %v", displaced.ID)
	}

	second.Bind("alice", "tok2")
	displaced := registry.BindUser("alice", second)
	if displaced != first {
		t.Fatal("second login must displace the first connection")
	}

	bound, ok := registry.ConnForUser("alice")
	if !ok || bound != second {
		t.Fatal("registry must point at the newest connection")
	}

	// Removing the displaced connection must not evict the successor.
	registry.Remove(first)
	if _, ok := registry.ConnForUser("alice"); !ok {
		t.Fatal("stale remove evicted the live binding")
	}

	registry.Remove(second)
	if registry.IsOnline("alice") {
		t.Fatal("alice must be offline after removal")
	}
}

func TestRegistrySendToUser(t *testing.T) {
	registry := NewRegistry()
	c, peer := pipeConn(t)
	registry.Add(c)
	c.Bind("bob", "tok")
	registry.BindUser("bob", c)

	done := make(chan *protocol.Envelope, 1)
	go func() {
		done <- readEnvelope(t, peer)
	}()

	event := protocol.NewEvent(protocol.CmdPresenceEvent, protocol.PresenceEventPayload{
		UserID: "alice", State: "online",
	})
	if !registry.SendToUser("bob", event) {
		t.Fatal("SendToUser must succeed for a live connection")
	}

	got := <-done
	if got.Command != protocol.CmdPresenceEvent || got.Type != protocol.TypeEvent {
		t.Fatalf("unexpected frame: %+v", got)
	}

	if registry.SendToUser("nobody", event) {
		t.Fatal("SendToUser must report offline users")
	}
}

func TestRegistryIdleConns(t *testing.T) {
	registry := NewRegistry()
	idle, _ := pipeConn(t)
	fresh, _ := pipeConn(t)
	registry.Add(idle)
	registry.Add(fresh)

	idle.Bind("idle-user", "tok")
	registry.BindUser("idle-user", idle)
	fresh.Bind("fresh-user", "tok")
	registry.BindUser("fresh-user", fresh)

	idle.lastSeen.Store(time.Now().Add(-time.Minute).Unix())

	got := registry.IdleConns(time.Now().Add(-30 * time.Second))
	if len(got) != 1 || got[0] != idle {
		t.Fatalf("expected only the idle connection, got %d", len(got))
	}
}

func TestRouterDispatch(t *testing.T) {
	router := NewRouter()
	var handled string
	router.Register(protocol.CmdPresenceHeartbeat, func(c *Conn, req *protocol.Envelope) (*protocol.Envelope, error) {
		handled = req.Command
		return nil, nil
	})

	c, _ := pipeConn(t)
	req, err := protocol.NewRequest(protocol.CmdPresenceHeartbeat, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if _, err := router.Dispatch(c, req); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if handled != protocol.CmdPresenceHeartbeat {
		t.Fatal("handler did not run")
	}

	// Unknown commands are dropped silently.
	unknown, err := protocol.NewRequest("mystery/op", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := router.Dispatch(c, unknown)
	if err != nil || resp != nil {
		t.Fatalf("unknown command must be ignored, got %v, %v", resp, err)
	}
}
