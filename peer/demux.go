package peer

import (
	"context"
	"sync"

	"github.com/discretlib/discret-go/syncproto"
)

// sessionFrameKey is the demux key for frames that carry no RoomID
// (Hello, RoomList, Ping, Bye): session-level traffic rather than any
// one Room's reconciliation round.
const sessionFrameKey = ""

// sessionDemux fans the one physical stream's frames out to each shared
// Room's own syncproto.Transport view, keyed by the frame's RoomID, so
// each Room gets its own full-duplex reconciliation multiplexed onto
// the single physical stream a session holds. One pump goroutine per
// session owns the only Recv call against the underlying transport;
// every Send is serialized through sendMu since multiple RoomActors
// write concurrently onto the same stream.
type sessionDemux struct {
	underlying syncproto.Transport

	mu    sync.Mutex
	views map[string]chan syncproto.Frame

	sendMu sync.Mutex
}

func newSessionDemux(t syncproto.Transport) *sessionDemux {
	return &sessionDemux{underlying: t, views: map[string]chan syncproto.Frame{}}
}

// roomView returns roomID's Transport view, creating its inbound queue
// if this is the first call for that Room. Call with sessionFrameKey to
// get the session-level (Hello/RoomList/Ping/Bye) view.
func (d *sessionDemux) roomView(roomID string) *roomTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch, ok := d.views[roomID]
	if !ok {
		ch = make(chan syncproto.Frame, 256)
		d.views[roomID] = ch
	}
	return &roomTransport{demux: d, in: ch}
}

// pump reads frames off the underlying transport and routes each to its
// RoomID's queue until the stream errors or ctx is cancelled. A frame
// for a Room with no registered view (not yet, or no longer, shared) is
// dropped.
func (d *sessionDemux) pump(ctx context.Context) error {
	for {
		f, err := d.underlying.Recv(ctx)
		if err != nil {
			return err
		}
		key := frameRoomID(f)
		d.mu.Lock()
		ch, ok := d.views[key]
		d.mu.Unlock()
		if !ok {
			continue
		}
		select {
		case ch <- f:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func frameRoomID(f syncproto.Frame) string {
	switch v := f.(type) {
	case syncproto.CursorSet:
		return v.RoomID
	case syncproto.EpochDigestFrame:
		return v.RoomID
	case syncproto.Advertise:
		return v.RoomID
	case syncproto.AdvertiseEnd:
		return v.RoomID
	case syncproto.Request:
		return v.RoomID
	case syncproto.RowFrame:
		return v.RoomID
	case syncproto.BatchEnd:
		return v.RoomID
	case syncproto.RoundDone:
		return v.RoomID
	default:
		return sessionFrameKey
	}
}

// roomTransport is one Room's (or the session's) syncproto.Transport
// view onto a shared physical stream.
type roomTransport struct {
	demux *sessionDemux
	in    chan syncproto.Frame
}

func (r *roomTransport) Send(ctx context.Context, f syncproto.Frame) error {
	r.demux.sendMu.Lock()
	defer r.demux.sendMu.Unlock()
	return r.demux.underlying.Send(ctx, f)
}

func (r *roomTransport) Recv(ctx context.Context) (syncproto.Frame, error) {
	select {
	case f := <-r.in:
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close is a no-op: the session, not any one Room's view, owns the
// underlying stream's lifecycle.
func (r *roomTransport) Close() error { return nil }
