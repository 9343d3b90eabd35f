package protocol

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	req, err := NewRequest(CmdAuthLogin, CredentialsPayload{Username: "alice", Password: "hash"})
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}

	frame, err := Encode(req)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if frame[len(frame)-1] != FrameDelimiter {
		t.Fatalf("frame missing delimiter")
	}

	got, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.ID != req.ID || got.Command != CmdAuthLogin || got.Type != TypeRequest {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	var creds CredentialsPayload
	if err := got.DecodePayload(&creds); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if creds.Username != "alice" || creds.Password != "hash" {
		t.Fatalf("payload mismatch: %+v", creds)
	}
}

func TestEncodeRejectsOversizeFrame(t *testing.T) {
	req, err := NewRequest(CmdMessageSend, map[string]string{
		"blob": strings.Repeat("x", MaxFrameSize),
	})
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if _, err := Encode(req); err != ErrFrameTooLarge {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestReadFrame(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(`{"id":"1","command":"presence/heartbeat"}` + "\n")
	buf.WriteString(`{"id":"2","command":"presence/list"}` + "\n")

	r := bufio.NewReader(&buf)
	first, err := ReadFrame(r)
	if err != nil {
		t.Fatalf("first frame: %v", err)
	}
	env, err := Decode(first)
	if err != nil {
		t.Fatalf("decode first: %v", err)
	}
	if env.ID != "1" {
		t.Fatalf("expected frame 1, got %q", env.ID)
	}

	second, err := ReadFrame(r)
	if err != nil {
		t.Fatalf("second frame: %v", err)
	}
	env, err = Decode(second)
	if err != nil {
		t.Fatalf("decode second: %v", err)
	}
	if env.ID != "2" {
		t.Fatalf("expected frame 2, got %q", env.ID)
	}

	if _, err := ReadFrame(r); err != io.EOF {
		t.Fatalf("expected io.EOF at stream end, got %v", err)
	}
}

func TestReadFrameOversizeIsRecoverable(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(strings.Repeat("x", MaxFrameSize+10))
	buf.WriteByte(FrameDelimiter)
	buf.WriteString(`{"id":"after","command":"presence/heartbeat"}` + "\n")

	r := bufio.NewReader(&buf)
	if _, err := ReadFrame(r); err != ErrFrameTooLarge {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}

	frame, err := ReadFrame(r)
	if err != nil {
		t.Fatalf("frame after oversize: %v", err)
	}
	env, err := Decode(frame)
	if err != nil {
		t.Fatalf("decode after oversize: %v", err)
	}
	if env.ID != "after" {
		t.Fatalf("expected frame after oversize, got %q", env.ID)
	}
}

func TestReadFrameTruncated(t *testing.T) {
	r := bufio.NewReader(strings.NewReader(`{"id":"1"`))
	if _, err := ReadFrame(r); err != io.ErrUnexpectedEOF {
		t.Fatalf("expected io.ErrUnexpectedEOF, got %v", err)
	}
}

func TestChunkRoundTrip(t *testing.T) {
	payload := []byte("chunk bytes")
	chunk := EncodeChunk(ChunkData, payload)

	typ, got, err := DecodeChunk(chunk)
	if err != nil {
		t.Fatalf("DecodeChunk: %v", err)
	}
	if typ != ChunkData {
		t.Fatalf("expected type 0x01, got %#x", typ)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mismatch: %q", got)
	}

	typ, got, err = DecodeChunk(EncodeChunk(ChunkEOF, nil))
	if err != nil {
		t.Fatalf("DecodeChunk EOF: %v", err)
	}
	if typ != ChunkEOF || len(got) != 0 {
		t.Fatalf("expected empty EOF chunk, got type %#x len %d", typ, len(got))
	}
}

func TestDecodeChunkTruncated(t *testing.T) {
	chunk := EncodeChunk(ChunkData, []byte("full payload"))
	if _, _, err := DecodeChunk(chunk[:7]); err == nil {
		t.Fatal("expected error for truncated chunk")
	}
	if _, _, err := DecodeChunk([]byte{ChunkData}); err == nil {
		t.Fatal("expected error for short header")
	}
}
