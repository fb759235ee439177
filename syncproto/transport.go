package syncproto

import "context"

// Transport is the per-session frame stream a Round drives.
// StreamTransport (codec.go) implements it over any io.ReadWriteCloser
// with one tagged, length-prefixed wire format, shared by the streams
// that the wsstream, tor and i2p transport packages return.
type Transport interface {
	Send(ctx context.Context, f Frame) error
	Recv(ctx context.Context) (Frame, error)
	Close() error
}
