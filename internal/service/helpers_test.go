package service

import (
	"bufio"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/caspian-yx/socket-chat-app/internal/db"
	"github.com/caspian-yx/socket-chat-app/internal/protocol"
	"github.com/caspian-yx/socket-chat-app/internal/server"
	"github.com/caspian-yx/socket-chat-app/internal/worker"
)

// testEnv wires real repositories on a temp database with an in-memory
// registry, close enough to production wiring for handler tests.
type testEnv struct {
	database   *db.DB
	users      *db.UserRepository
	sessions   *db.SessionRepository
	presence   *db.PresenceRepository
	messages   *db.MessageRepository
	rooms      *db.RoomRepository
	offline    *db.OfflineQueueRepository
	files      *db.FileRepository
	friends    *db.FriendRepository
	registry   *server.Registry
	dispatcher *worker.OfflineDispatcher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	registry := server.NewRegistry()
	offline := db.NewOfflineQueueRepository(database)
	return &testEnv{
		database:   database,
		users:      db.NewUserRepository(database),
		sessions:   db.NewSessionRepository(database),
		presence:   db.NewPresenceRepository(database),
		messages:   db.NewMessageRepository(database),
		rooms:      db.NewRoomRepository(database),
		offline:    offline,
		files:      db.NewFileRepository(database),
		friends:    db.NewFriendRepository(database),
		registry:   registry,
		dispatcher: worker.NewOfflineDispatcher(registry, offline),
	}
}

// testClient is a bound connection whose peer side is drained continuously
// so synchronous writes never block.
type testClient struct {
	conn   *server.Conn
	frames chan *protocol.Envelope
}

// connect registers a pipe-backed connection for userID, as a completed
// login would.
func (e *testEnv) connect(t *testing.T, userID string) *testClient {
	t.Helper()
	serverSide, clientSide := net.Pipe()
	conn := server.NewConn(serverSide)
	conn.Bind(userID, "token-"+userID)
	e.registry.Add(conn)
	e.registry.BindUser(userID, conn)

	frames := make(chan *protocol.Envelope, 64)
	go func() {
		reader := bufio.NewReader(clientSide)
		for {
			raw, err := protocol.ReadFrame(reader)
			if err != nil {
				close(frames)
				return
			}
			env, err := protocol.Decode(raw)
			if err != nil {
				continue
			}
			frames <- env
		}
	}()
	t.Cleanup(func() {
		conn.Close()
		clientSide.Close()
	})
	return &testClient{conn: conn, frames: frames}
}

// anonConn is an unauthenticated connection.
func anonConn(t *testing.T) *server.Conn {
	t.Helper()
	serverSide, clientSide := net.Pipe()
	conn := server.NewConn(serverSide)
	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := clientSide.Read(buf); err != nil {
				return
			}
		}
	}()
	t.Cleanup(func() {
		conn.Close()
		clientSide.Close()
	})
	return conn
}

func (c *testClient) nextFrame(t *testing.T) *protocol.Envelope {
	t.Helper()
	select {
	case env, ok := <-c.frames:
		if !ok {
			t.Fatal("connection closed while waiting for frame")
		}
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}
	return nil
}

func (c *testClient) expectNoFrame(t *testing.T) {
	t.Helper()
	select {
	case env := <-c.frames:
		t.Fatalf("unexpected frame: %s %s", env.Type, env.Command)
	case <-time.After(100 * time.Millisecond):
	}
}

func request(t *testing.T, command string, payload any) *protocol.Envelope {
	t.Helper()
	env, err := protocol.NewRequest(command, payload)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	return env
}

func wantProtocolError(t *testing.T, err error, status protocol.Status) *protocol.ProtocolError {
	t.Helper()
	perr, ok := err.(*protocol.ProtocolError)
	if !ok {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
	if perr.Status != status {
		t.Fatalf("expected status %d, got %d (%s)", status, perr.Status, perr.Message)
	}
	return perr
}
