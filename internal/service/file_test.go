package service

import (
	"testing"

	"github.com/caspian-yx/socket-chat-app/internal/models"
	"github.com/caspian-yx/socket-chat-app/internal/protocol"
)

type fakeBridge struct {
	prepared []string
	dropped  []string
}

func (f *fakeBridge) PrepareSession(sessionID, senderID, receiverID string) {
	f.prepared = append(f.prepared, sessionID)
}
func (f *fakeBridge) DropSession(sessionID string) { f.dropped = append(f.dropped, sessionID) }
func (f *fakeBridge) AdvertisedHost() string       { return "files.example.com" }
func (f *fakeBridge) Port() int                    { return 9090 }

func TestFileRequestDirect(t *testing.T) {
	env := newTestEnv(t)
	bridge := &fakeBridge{}
	svc := NewFileService(env.files, env.rooms, env.registry, bridge)

	sender := env.connect(t, "alice")
	recipient := env.connect(t, "bob")

	resp, err := svc.handleRequest(sender.conn, request(t, protocol.CmdFileRequest, protocol.FileRequestPayload{
		Target:   protocol.Target{Type: "user", ID: "bob"},
		FileName: "report.pdf",
		FileSize: 2048,
		Checksum: "abc",
	}))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	var ack protocol.FileRequestAckPayload
	if err := resp.DecodePayload(&ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ack.Status != 200 || len(ack.Sessions) != 1 || ack.SessionID == "" {
		t.Fatalf("unexpected ack: %+v", ack)
	}

	offer := recipient.nextFrame(t)
	if offer.Command != protocol.CmdFileRequest || offer.Type != protocol.TypeEvent {
		t.Fatalf("unexpected offer frame: %s %s", offer.Type, offer.Command)
	}
	var evt protocol.FileEventPayload
	if err := offer.DecodePayload(&evt); err != nil {
		t.Fatalf("decode offer: %v", err)
	}
	if evt.SessionID != ack.SessionID || evt.FromUser != "alice" || evt.FileSize != 2048 {
		t.Fatalf("unexpected offer: %+v", evt)
	}

	session, err := env.files.Find(ack.SessionID)
	if err != nil || session.Status != models.FileStatusPending {
		t.Fatalf("session state: %+v, %v", session, err)
	}
}

func TestFileRequestOfflineTarget(t *testing.T) {
	env := newTestEnv(t)
	svc := NewFileService(env.files, env.rooms, env.registry, &fakeBridge{})

	sender := env.connect(t, "alice")

	resp, err := svc.handleRequest(sender.conn, request(t, protocol.CmdFileRequest, protocol.FileRequestPayload{
		Target:   protocol.Target{Type: "user", ID: "bob"},
		FileName: "report.pdf",
		FileSize: 1,
	}))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	var ack protocol.FileRequestAckPayload
	if err := resp.DecodePayload(&ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ack.Status != 404 || ack.SessionID == "" || len(ack.Sessions) != 0 {
		t.Fatalf("unexpected ack: %+v", ack)
	}

	// The session exists but is dead on arrival.
	session, err := env.files.Find(ack.SessionID)
	if err != nil || session.Status != models.FileStatusUnreachable {
		t.Fatalf("session state: %+v, %v", session, err)
	}
}

func TestFileRequestRoomFanout(t *testing.T) {
	env := newTestEnv(t)
	svc := NewFileService(env.files, env.rooms, env.registry, &fakeBridge{})

	sender := env.connect(t, "alice")
	online := env.connect(t, "bob")

	if _, err := env.rooms.Create("general", "alice", false, ""); err != nil {
		t.Fatalf("create room: %v", err)
	}
	for _, member := range []string{"bob", "carol"} {
		if err := env.rooms.AddMember("general", member); err != nil {
			t.Fatalf("add member: %v", err)
		}
	}
	// carol is offline; her session is created but marked unreachable.

	resp, err := svc.handleRequest(sender.conn, request(t, protocol.CmdFileRequest, protocol.FileRequestPayload{
		Target:   protocol.Target{Type: "room", ID: "general"},
		FileName: "slides.key",
		FileSize: 4096,
	}))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	var ack protocol.FileRequestAckPayload
	if err := resp.DecodePayload(&ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if len(ack.Sessions) != 1 || ack.Sessions[0].TargetID != "bob" || ack.RoomID != "general" {
		t.Fatalf("unexpected ack: %+v", ack)
	}

	offer := online.nextFrame(t)
	var evt protocol.FileEventPayload
	if err := offer.DecodePayload(&evt); err != nil {
		t.Fatalf("decode offer: %v", err)
	}
	if evt.Target == nil || evt.Target.Type != "room" || evt.Target.ID != "general" {
		t.Fatalf("room offer must carry the room target: %+v", evt)
	}
}

func TestFileAcceptOpensChannel(t *testing.T) {
	env := newTestEnv(t)
	bridge := &fakeBridge{}
	svc := NewFileService(env.files, env.rooms, env.registry, bridge)

	sender := env.connect(t, "alice")
	recipient := env.connect(t, "bob")

	resp, err := svc.handleRequest(sender.conn, request(t, protocol.CmdFileRequest, protocol.FileRequestPayload{
		Target:   protocol.Target{Type: "user", ID: "bob"},
		FileName: "report.pdf",
		FileSize: 2048,
	}))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	var reqAck protocol.FileRequestAckPayload
	if err := resp.DecodePayload(&reqAck); err != nil {
		t.Fatalf("decode: %v", err)
	}
	recipient.nextFrame(t)

	// Only the recipient may accept.
	_, err = svc.handleAccept(sender.conn, request(t, protocol.CmdFileAccept, protocol.FileSessionPayload{
		SessionID: reqAck.SessionID,
	}))
	wantProtocolError(t, err, protocol.StatusForbidden)

	if _, err := svc.handleAccept(recipient.conn, request(t, protocol.CmdFileAccept, protocol.FileSessionPayload{
		SessionID: reqAck.SessionID,
	})); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if len(bridge.prepared) != 1 || bridge.prepared[0] != reqAck.SessionID {
		t.Fatalf("bridge not prepared: %v", bridge.prepared)
	}

	// Both sides learn the channel endpoint.
	for _, client := range []*testClient{sender, recipient} {
		event := client.nextFrame(t)
		if event.Command != protocol.CmdFileAccept {
			t.Fatalf("expected accept event, got %q", event.Command)
		}
		var evt protocol.FileEventPayload
		if err := event.DecodePayload(&evt); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if evt.ChannelHost != "files.example.com" || evt.ChannelPort != 9090 {
			t.Fatalf("unexpected channel endpoint: %+v", evt)
		}
	}

	// Accepting twice conflicts.
	_, err = svc.handleAccept(recipient.conn, request(t, protocol.CmdFileAccept, protocol.FileSessionPayload{
		SessionID: reqAck.SessionID,
	}))
	wantProtocolError(t, err, protocol.StatusConflict)
}

func TestFileRejectNotifiesSender(t *testing.T) {
	env := newTestEnv(t)
	svc := NewFileService(env.files, env.rooms, env.registry, &fakeBridge{})

	sender := env.connect(t, "alice")
	recipient := env.connect(t, "bob")

	resp, err := svc.handleRequest(sender.conn, request(t, protocol.CmdFileRequest, protocol.FileRequestPayload{
		Target:   protocol.Target{Type: "user", ID: "bob"},
		FileName: "x", FileSize: 1,
	}))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	var reqAck protocol.FileRequestAckPayload
	if err := resp.DecodePayload(&reqAck); err != nil {
		t.Fatalf("decode: %v", err)
	}
	recipient.nextFrame(t)

	if _, err := svc.handleReject(recipient.conn, request(t, protocol.CmdFileReject, protocol.FileSessionPayload{
		SessionID: reqAck.SessionID,
	})); err != nil {
		t.Fatalf("reject: %v", err)
	}

	event := sender.nextFrame(t)
	if event.Command != protocol.CmdFileReject {
		t.Fatalf("expected reject event, got %q", event.Command)
	}

	session, err := env.files.Find(reqAck.SessionID)
	if err != nil || session.Status != models.FileStatusRejected {
		t.Fatalf("session state: %+v, %v", session, err)
	}
}

func TestFileCompleteFromEitherSide(t *testing.T) {
	env := newTestEnv(t)
	bridge := &fakeBridge{}
	svc := NewFileService(env.files, env.rooms, env.registry, bridge)

	sender := env.connect(t, "alice")
	recipient := env.connect(t, "bob")
	outsider := env.connect(t, "carol")

	resp, err := svc.handleRequest(sender.conn, request(t, protocol.CmdFileRequest, protocol.FileRequestPayload{
		Target:   protocol.Target{Type: "user", ID: "bob"},
		FileName: "x", FileSize: 1,
	}))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	var reqAck protocol.FileRequestAckPayload
	if err := resp.DecodePayload(&reqAck); err != nil {
		t.Fatalf("decode: %v", err)
	}
	recipient.nextFrame(t)

	_, err = svc.handleComplete(outsider.conn, request(t, protocol.CmdFileComplete, protocol.FileSessionPayload{
		SessionID: reqAck.SessionID,
	}))
	wantProtocolError(t, err, protocol.StatusForbidden)

	if _, err := svc.handleComplete(sender.conn, request(t, protocol.CmdFileComplete, protocol.FileSessionPayload{
		SessionID: reqAck.SessionID,
	})); err != nil {
		t.Fatalf("complete: %v", err)
	}

	for _, client := range []*testClient{sender, recipient} {
		event := client.nextFrame(t)
		if event.Command != protocol.CmdFileComplete {
			t.Fatalf("expected complete event, got %q", event.Command)
		}
	}
	session, err := env.files.Find(reqAck.SessionID)
	if err != nil || session.Status != models.FileStatusComplete {
		t.Fatalf("session state: %+v, %v", session, err)
	}
	if len(bridge.dropped) != 1 {
		t.Fatalf("bridge session must be dropped: %v", bridge.dropped)
	}
}
