// Package syncproto implements the per-Room reconciliation round:
// cursor exchange, epoch alignment, advertise, request, transfer,
// commit, idle. It is transport-agnostic — transport/wsstream,
// transport/tor and transport/i2p each supply a byte stream, which
// StreamTransport frames these messages over, while this package owns
// the round's logic and the last-writer-wins conflict policy.
package syncproto

// Frame is one logical message of the wire protocol. A concrete
// Transport encodes/decodes Frame values over a length-prefixed byte
// stream.
type Frame interface{ isFrame() }

// Hello is the first frame on a new session: version and app-key
// negotiation plus the rooms this node will offer to sync.
type Hello struct {
	Version     uint32
	AppKeyHash  string
	RoomsDigest uint64
}

func (Hello) isFrame() {}

// RoomList advertises the Rooms a peer is willing to sync, intersected
// by the peer session manager to decide which per-Room sync actors to
// start.
type RoomList struct {
	Rooms []string
}

func (RoomList) isFrame() {}

// AuthorCursor is one author's high-water mark within a Room, as
// observed by the side sending it.
type AuthorCursor struct {
	Author string
	MDate  int64
	RowID  string
}

// CursorSet is the round's step-1 cursor exchange: the highest
// (mdate, id) this side has observed from each known author in the
// Room.
type CursorSet struct {
	RoomID  string
	Cursors []AuthorCursor
}

func (CursorSet) isFrame() {}

// EpochDigestFrame carries the Room's epoch-history digest; a mismatch
// means the reserved authorization namespace must realign before
// entity rows are exchanged.
type EpochDigestFrame struct {
	RoomID string
	Digest uint64
}

func (EpochDigestFrame) isFrame() {}

// AdvertiseEntry names one row this side holds with mdate greater than
// the peer's cursor for its author, plus a short digest so the
// receiver can detect divergence on an id it already has.
type AdvertiseEntry struct {
	ID     string
	MDate  int64
	Digest uint64
}

// Advertise is one entity's advertised row set for this round.
type Advertise struct {
	RoomID  string
	Author  string
	Entity  string
	Entries []AdvertiseEntry
}

func (Advertise) isFrame() {}

// AdvertiseEnd closes the advertise step: no further Advertise frames
// follow for this round.
type AdvertiseEnd struct {
	RoomID string
}

func (AdvertiseEnd) isFrame() {}

// Request asks for the rows this side lacks or holds divergently.
// Requests are pipelined subject to a credit window.
type Request struct {
	RoomID string
	Entity string
	IDs    []string
}

func (Request) isFrame() {}

// RowFrame carries one fully signed row.
type RowFrame struct {
	RoomID string
	Entity string
	Signed []byte
}

func (RowFrame) isFrame() {}

// BatchEnd closes one Transfer batch; the receiver commits everything
// staged since the matching Request.
type BatchEnd struct {
	RoomID string
}

func (BatchEnd) isFrame() {}

// RoundDone signals that this side has nothing further to Request this
// round (either it had nothing missing, or its last outstanding
// Request's BatchEnd has arrived). The round only reaches Idle once
// both sides have sent and received RoundDone, since a side that
// hasn't sent it yet may still need to serve an incoming Request.
type RoundDone struct {
	RoomID string
}

func (RoundDone) isFrame() {}

// Ping is the per-session liveness frame.
type Ping struct{}

func (Ping) isFrame() {}

// Bye signals a graceful session teardown.
type Bye struct {
	Reason string
}

func (Bye) isFrame() {}
