package responder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMailboxFIFO(t *testing.T) {
	m := newMailbox()

	for i := 0; i < 100; i++ {
		require.True(t, m.push(unregisterCmd{id: uint64(i)}))
	}
	for i := 0; i < 100; i++ {
		cmd := <-m.C()
		require.Equal(t, uint64(i), cmd.(unregisterCmd).id)
	}
	m.close()
	_, ok := <-m.C()
	require.False(t, ok)
}

func TestMailboxCloseDeliversQueued(t *testing.T) {
	m := newMailbox()

	require.True(t, m.push(shutdownCmd{}))
	m.close()
	require.False(t, m.push(shutdownCmd{}), "push after close must be refused")

	var received []command
	for cmd := range m.C() {
		received = append(received, cmd)
	}
	require.Len(t, received, 1)
}

func TestMailboxProducersNeverBlock(t *testing.T) {
	m := newMailbox()

	// no consumer at all; every push must return promptly
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			m.push(unregisterCmd{id: uint64(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("producer blocked on an unbounded mailbox")
	}
}
