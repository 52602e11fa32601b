package tlschannel

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNonBlockingConnReadTimesOutAsWouldBlock(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	nb := NewNonBlockingConn(client, 20*time.Millisecond)
	buf := make([]byte, 16)
	_, err := nb.Read(buf)
	require.ErrorIs(t, err, ErrWouldBlock)
}

func TestNonBlockingConnReadSucceedsWithinDeadline(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	nb := NewNonBlockingConn(client, time.Second)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = server.Write([]byte("hi"))
	}()

	buf := make([]byte, 16)
	n, err := nb.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "hi", string(buf[:n]))
	<-done
}
