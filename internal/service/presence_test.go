package service

import (
	"testing"

	"github.com/caspian-yx/socket-chat-app/internal/models"
	"github.com/caspian-yx/socket-chat-app/internal/protocol"
)

func TestHeartbeatAck(t *testing.T) {
	env := newTestEnv(t)
	svc := NewPresenceService(env.presence, env.registry)

	client := env.connect(t, "alice")

	req := request(t, protocol.CmdPresenceHeartbeat, nil)
	resp, err := svc.handleHeartbeat(client.conn, req)
	if err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if resp.ID != req.ID || resp.Type != protocol.TypeResponse {
		t.Fatalf("ack must echo the request id: %+v", resp)
	}
	var ack protocol.StatusAckPayload
	if err := resp.DecodePayload(&ack); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ack.Status != 200 {
		t.Fatalf("unexpected status %d", ack.Status)
	}

	_, err = svc.handleHeartbeat(anonConn(t), request(t, protocol.CmdPresenceHeartbeat, nil))
	wantProtocolError(t, err, protocol.StatusUnauthorized)
}

func TestPresenceUpdateBroadcasts(t *testing.T) {
	env := newTestEnv(t)
	svc := NewPresenceService(env.presence, env.registry)

	alice := env.connect(t, "alice")
	bob := env.connect(t, "bob")

	if _, err := svc.handleUpdate(alice.conn, request(t, protocol.CmdPresenceUpdate, protocol.PresenceUpdatePayload{
		State: models.PresenceOffline,
	})); err != nil {
		t.Fatalf("update: %v", err)
	}

	event := bob.nextFrame(t)
	if event.Command != protocol.CmdPresenceEvent {
		t.Fatalf("expected presence event, got %q", event.Command)
	}
	var evt protocol.PresenceEventPayload
	if err := event.DecodePayload(&evt); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if evt.UserID != "alice" || evt.State != models.PresenceOffline {
		t.Fatalf("unexpected event: %+v", evt)
	}
	// The sender does not hear their own change.
	alice.expectNoFrame(t)

	p, err := env.presence.Get("alice")
	if err != nil || p.State != models.PresenceOffline {
		t.Fatalf("stored state: %+v, %v", p, err)
	}
}

func TestPresenceList(t *testing.T) {
	env := newTestEnv(t)
	svc := NewPresenceService(env.presence, env.registry)

	client := env.connect(t, "alice")
	if err := env.presence.Set("alice", models.PresenceOnline); err != nil {
		t.Fatalf("seed presence: %v", err)
	}
	if err := env.presence.Set("bob", models.PresenceOffline); err != nil {
		t.Fatalf("seed presence: %v", err)
	}

	resp, err := svc.handleList(client.conn, request(t, protocol.CmdPresenceList, nil))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var ack protocol.PresenceListAckPayload
	if err := resp.DecodePayload(&ack); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(ack.Users) != 1 || ack.Users[0] != "alice" {
		t.Fatalf("unexpected roster: %v", ack.Users)
	}
}
