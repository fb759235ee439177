package syncproto

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// frameEnvelope is the length-prefixed, tagged frame on the wire: Type
// names the concrete Frame so the receiver knows which struct to
// decode Payload into.
type frameEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// StreamTransport implements Transport over any raw byte stream
// (a wsstream/tor/i2p connection) with a 4-byte big-endian length
// prefix ahead of each JSON-encoded frameEnvelope — the one codec all
// three transport adapters share, so the wire format itself does not
// vary by transport.
type StreamTransport struct {
	rw io.ReadWriteCloser
	r  *bufio.Reader
}

// NewStreamTransport wraps rw, which must already be an authenticated,
// encrypted stream to exactly one peer, with the peer's signing key
// pinned in the certificate — pinning is the transport adapter's job
// before it ever hands rw to this codec.
func NewStreamTransport(rw io.ReadWriteCloser) *StreamTransport {
	return &StreamTransport{rw: rw, r: bufio.NewReader(rw)}
}

// Send blocks on the underlying stream; ctx is checked only before the
// write starts, since io.Writer has no cancellable write primitive and
// no transport package sets a write deadline on the streams it returns.
func (t *StreamTransport) Send(ctx context.Context, f Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	env := frameEnvelope{Type: frameTag(f), Payload: payload}
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	if _, err := t.rw.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("write length prefix: %w", err)
	}
	if _, err := t.rw.Write(b); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Recv reads one length-prefixed frameEnvelope and decodes it into its
// concrete Frame type (see the same ctx caveat as Send).
func (t *StreamTransport) Recv(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var lenBuf [4]byte
	if _, err := io.ReadFull(t.r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("read length prefix: %w", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(t.r, buf); err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	var env frameEnvelope
	if err := json.Unmarshal(buf, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return decodeFrame(env.Type, env.Payload)
}

func (t *StreamTransport) Close() error { return t.rw.Close() }

func frameTag(f Frame) string {
	switch f.(type) {
	case Hello:
		return "hello"
	case RoomList:
		return "room_list"
	case CursorSet:
		return "cursor_set"
	case EpochDigestFrame:
		return "epoch_digest"
	case Advertise:
		return "advertise"
	case AdvertiseEnd:
		return "advertise_end"
	case Request:
		return "request"
	case RowFrame:
		return "row"
	case BatchEnd:
		return "batch_end"
	case RoundDone:
		return "round_done"
	case Ping:
		return "ping"
	case Bye:
		return "bye"
	default:
		panic(fmt.Sprintf("syncproto: unknown frame type %T", f))
	}
}

func decodeFrame(tag string, payload json.RawMessage) (Frame, error) {
	switch tag {
	case "hello":
		var f Hello
		return f, json.Unmarshal(payload, &f)
	case "room_list":
		var f RoomList
		return f, json.Unmarshal(payload, &f)
	case "cursor_set":
		var f CursorSet
		return f, json.Unmarshal(payload, &f)
	case "epoch_digest":
		var f EpochDigestFrame
		return f, json.Unmarshal(payload, &f)
	case "advertise":
		var f Advertise
		return f, json.Unmarshal(payload, &f)
	case "advertise_end":
		var f AdvertiseEnd
		return f, json.Unmarshal(payload, &f)
	case "request":
		var f Request
		return f, json.Unmarshal(payload, &f)
	case "row":
		var f RowFrame
		return f, json.Unmarshal(payload, &f)
	case "batch_end":
		var f BatchEnd
		return f, json.Unmarshal(payload, &f)
	case "round_done":
		var f RoundDone
		return f, json.Unmarshal(payload, &f)
	case "ping":
		var f Ping
		return f, json.Unmarshal(payload, &f)
	case "bye":
		var f Bye
		return f, json.Unmarshal(payload, &f)
	default:
		return nil, fmt.Errorf("unknown frame tag %q", tag)
	}
}
