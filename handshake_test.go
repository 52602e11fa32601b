package tlschannel

import (
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestHandshakeRunsDelegatedTask exercises the need_task branch of
// handshakeLoop, which NoiseEngine never takes (see fakeEngine's doc
// comment), using a scripted Engine that queues exactly one task before its
// first handshake record is ready to wrap.
func TestHandshakeRunsDelegatedTask(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	clientFake := newFakeEngine()
	serverFake := newFakeEngine()
	serverFake.status = NeedUnwrap

	client, err := NewChannelConn(clientConn, clientFake, make([]byte, MaxRecordSize))
	require.NoError(t, err)
	server, err := NewChannelConn(serverConn, serverFake, make([]byte, MaxRecordSize))
	require.NoError(t, err)
	defer client.Close()
	defer server.Close()
	// Runs before the Channel closes above: net.Pipe has no buffering, so a
	// close-notify written to an open pipe nobody reads would block.
	defer serverConn.Close()
	defer clientConn.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	var clientErr, serverErr error
	go func() { defer wg.Done(); clientErr = client.DoHandshake() }()
	go func() { defer wg.Done(); serverErr = server.DoPassiveHandshake() }()
	wg.Wait()

	require.NoError(t, clientErr)
	require.NoError(t, serverErr)
	require.Equal(t, 1, clientFake.taskRuns, "exactly one delegated task should have run")
	require.Equal(t, Session("fake-session"), client.Session())
	require.Equal(t, 1, serverFake.handshakeReads)
}

func TestHandshakeDelegatedTaskErrorInvalidatesChannel(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	clientFake := newFakeEngine()
	clientFake.taskErr = errBoom

	client, err := NewChannelConn(clientConn, clientFake, make([]byte, MaxRecordSize))
	require.NoError(t, err)
	defer client.Close()

	go func() {
		buf := make([]byte, 16)
		_, _ = serverConn.Read(buf)
	}()

	err = client.DoHandshake()
	require.Error(t, err)

	n, writeErr := client.Write([]byte("x"))
	require.Equal(t, 0, n)
	require.ErrorIs(t, writeErr, ErrClosed)
}

var errBoom = &testError{"boom"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
