package process

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestShutdownWaitsForComponents(t *testing.T) {
	pc := NewProcessContext()
	pc.ComponentStarted()

	finished := make(chan struct{})
	go func() {
		<-pc.Context().Done()
		time.Sleep(20 * time.Millisecond)
		pc.ComponentFinished()
		close(finished)
	}()

	pc.Shutdown()
	select {
	case <-pc.WaitForShutdown():
	case <-time.After(time.Second):
		t.Fatal("WaitForShutdown did not unblock")
	}
	<-finished
}

func TestShutdownIsIdempotent(t *testing.T) {
	pc := NewProcessContext()
	require.NotPanics(t, func() {
		pc.Shutdown()
		pc.Shutdown()
	})
	<-pc.WaitForShutdown()
}
