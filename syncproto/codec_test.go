package syncproto_test

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/discretlib/discret-go/syncproto"
)

func TestStreamTransportRoundTrip(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	client := syncproto.NewStreamTransport(clientConn)
	server := syncproto.NewStreamTransport(serverConn)

	ctx := context.Background()
	sent := syncproto.Advertise{
		RoomID: "room-1", Author: "aa", Entity: "chat.Message",
		Entries: []syncproto.AdvertiseEntry{{ID: "msg-1", MDate: 100, Digest: 42}},
	}

	errCh := make(chan error, 1)
	go func() { errCh <- client.Send(ctx, sent) }()

	got, err := server.Recv(ctx)
	require.NoError(t, err)
	require.NoError(t, <-errCh)

	adv, ok := got.(syncproto.Advertise)
	require.True(t, ok)
	require.Equal(t, sent, adv)
}
