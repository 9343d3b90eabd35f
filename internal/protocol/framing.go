package protocol

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

const (
	// FrameDelimiter terminates every control-channel frame.
	FrameDelimiter = '\n'

	// MaxFrameSize is the upper bound for a single control-channel frame,
	// delimiter included.
	MaxFrameSize = 256 * 1024
)

// Data-channel TLV chunk types. The server forwards chunk bytes opaquely;
// the framing here is the end-to-end convention between clients.
const (
	ChunkData  byte = 0x01
	ChunkEOF   byte = 0x02
	ChunkError byte = 0x03
)

// ErrFrameTooLarge reports an inbound frame that exceeded MaxFrameSize. The
// offending bytes up to the delimiter have already been discarded, so the
// connection can keep reading.
var ErrFrameTooLarge = NewError(StatusBadRequest, ErrCodeNone, "payload too large for control channel")

// Encode serializes an envelope into frame bytes (JSON + delimiter).
func Encode(env *Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, BadRequest(fmt.Sprintf("encode failed: %v", err))
	}
	if len(data) > MaxFrameSize-1 {
		return nil, ErrFrameTooLarge
	}
	return append(data, FrameDelimiter), nil
}

// Decode parses frame bytes into an envelope, stripping the delimiter.
func Decode(data []byte) (*Envelope, error) {
	data = bytes.TrimRight(data, string(FrameDelimiter))
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, BadRequest(fmt.Sprintf("decode failed: %v", err))
	}
	return &env, nil
}

// ReadFrame reads one delimited frame from r, enforcing MaxFrameSize
// incrementally. On overflow the remainder of the frame is drained and
// ErrFrameTooLarge returned so the caller can answer and continue. Stream
// end surfaces as io.EOF (or io.ErrUnexpectedEOF for a truncated frame).
func ReadFrame(r *bufio.Reader) ([]byte, error) {
	var frame []byte
	for {
		chunk, err := r.ReadSlice(FrameDelimiter)
		frame = append(frame, chunk...)
		if len(frame) > MaxFrameSize {
			if err == bufio.ErrBufferFull {
				discardToDelimiter(r)
			}
			return nil, ErrFrameTooLarge
		}
		switch err {
		case nil:
			return frame, nil
		case bufio.ErrBufferFull:
			continue
		case io.EOF:
			if len(frame) > 0 {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, io.EOF
		default:
			return nil, err
		}
	}
}

func discardToDelimiter(r *bufio.Reader) {
	for {
		_, err := r.ReadSlice(FrameDelimiter)
		if err != bufio.ErrBufferFull {
			return
		}
	}
}

// EncodeChunk frames a data-channel TLV chunk: 1 byte type, 4 bytes
// little-endian length, payload.
func EncodeChunk(typ byte, payload []byte) []byte {
	chunk := make([]byte, 5+len(payload))
	chunk[0] = typ
	binary.LittleEndian.PutUint32(chunk[1:5], uint32(len(payload)))
	copy(chunk[5:], payload)
	return chunk
}

// DecodeChunk parses a TLV chunk produced by EncodeChunk.
func DecodeChunk(data []byte) (byte, []byte, error) {
	if len(data) < 5 {
		return 0, nil, BadRequest("incomplete chunk header")
	}
	typ := data[0]
	length := binary.LittleEndian.Uint32(data[1:5])
	if uint32(len(data)-5) < length {
		return 0, nil, BadRequest("chunk payload truncated")
	}
	return typ, data[5 : 5+length], nil
}
