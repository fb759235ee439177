package eventbus_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/discretlib/discret-go/eventbus"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	bus, err := eventbus.New(t.TempDir())
	require.NoError(t, err)
	defer bus.Close()

	sub := bus.Subscribe(4)
	defer sub.Unsubscribe()

	require.NoError(t, bus.Publish(eventbus.Event{Kind: eventbus.KindDataChanged, Room: "room-1", Entity: "chat.Message", Origin: "local"}))

	select {
	case ev := <-sub.Events():
		require.Equal(t, eventbus.KindDataChanged, ev.Kind)
		require.Equal(t, "room-1", ev.Room)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSlowSubscriberDropsOldestAndReportsLagged(t *testing.T) {
	bus, err := eventbus.New(t.TempDir())
	require.NoError(t, err)
	defer bus.Close()

	sub := bus.Subscribe(2)
	defer sub.Unsubscribe()

	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(eventbus.Event{Kind: eventbus.KindRoomChanged, Room: "room-1"}))
	}

	deadline := time.After(2 * time.Second)
	sawLagged := false
	for i := 0; i < 3; i++ {
		select {
		case ev := <-sub.Events():
			if ev.Lagged > 0 {
				sawLagged = true
			}
		case <-deadline:
			t.Fatal("timed out draining events")
		}
	}
	require.True(t, sawLagged, "expected a lagged notification after overflowing the subscriber buffer")
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus, err := eventbus.New(t.TempDir())
	require.NoError(t, err)
	defer bus.Close()

	sub := bus.Subscribe(1)
	sub.Unsubscribe()

	require.NoError(t, bus.Publish(eventbus.Event{Kind: eventbus.KindPeerConnected, PeerKey: "peer-1"}))

	_, ok := <-sub.Events()
	require.False(t, ok, "channel should be closed after Unsubscribe")
}
