package mcconn

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pior/mcconn/internal/testutils"
)

func newMockTransport(responses ...[]byte) (*Transport, *testutils.ConnectionMock) {
	mock := testutils.NewConnectionMock(responses...)
	tr := NewTransport("127.0.0.1", 11210, FamilyIPv4, false, nil, nil)
	tr.conn = mock
	return tr, mock
}

func sequentialBytes(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}

func TestNewTransport_Defaults(t *testing.T) {
	tr := NewTransport("", 11210, FamilyIPv6, false, nil, nil)
	assert.Equal(t, "[::1]:11210", tr.Addr())
	assert.False(t, tr.Connected())
	assert.Equal(t, DefaultConnectTimeout, tr.dialer.Timeout)

	tr = NewTransport("", 11210, FamilyAny, false, nil, nil)
	assert.Equal(t, "127.0.0.1:11210", tr.Addr())
}

func TestTransport_SendFrame(t *testing.T) {
	tr, mock := newMockTransport()
	payload := sequentialBytes(64)
	f := NewFrame(payload)

	require.NoError(t, tr.SendFrame(context.Background(), f))
	assert.Equal(t, payload, mock.Written())
	assert.Equal(t, payload, f.Bytes(), "frame must be left untouched")

	stats := tr.stats.snapshot()
	assert.Equal(t, uint64(1), stats.FramesSent)
	assert.Equal(t, uint64(64), stats.BytesSent)
}

func TestTransport_SendPartialFrame_MatchesSendFrame(t *testing.T) {
	payload := sequentialBytes(100)

	whole, wholeMock := newMockTransport()
	require.NoError(t, whole.SendFrame(context.Background(), NewFrame(payload)))

	splits := [][]int{
		{100},
		{1, 99},
		{10, 0, 40, 50},
		{33, 33, 33, 1},
	}
	for _, split := range splits {
		tr, mock := newMockTransport()
		f := NewFrame(payload)
		for _, n := range split {
			require.NoError(t, tr.SendPartialFrame(context.Background(), f, n))
		}
		assert.Equal(t, 0, f.Len())
		assert.Equal(t, wholeMock.Written(), mock.Written(), "split %v", split)
		assert.Equal(t, uint64(1), tr.stats.snapshot().FramesSent, "split %v", split)
	}
}

func TestTransport_SendPartialFrame_OutOfRange(t *testing.T) {
	tr, mock := newMockTransport()
	f := NewFrame([]byte("abc"))

	for _, n := range []int{-1, 4} {
		err := tr.SendPartialFrame(context.Background(), f, n)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidArgument)
		assert.False(t, ShouldCloseConnection(err))
	}
	assert.Equal(t, []byte("abc"), f.Bytes())
	assert.Empty(t, mock.Written())
}

func TestTransport_ShortWrites(t *testing.T) {
	tr, mock := newMockTransport()
	mock.MaxWrite = 3
	payload := sequentialBytes(10)

	require.NoError(t, tr.SendFrame(context.Background(), NewFrame(payload)))
	assert.Equal(t, payload, mock.Written())
	assert.Equal(t, 4, mock.Writes)
}

func TestTransport_WriteError(t *testing.T) {
	tr, mock := newMockTransport()
	mock.WriteErr = errors.New("broken pipe")

	err := tr.SendFrame(context.Background(), NewFrame([]byte("abc")))

	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "write", terr.Op)
	assert.True(t, ShouldCloseConnection(err))
}

func TestTransport_Read(t *testing.T) {
	tr, _ := newMockTransport([]byte("abc"), []byte("de"))
	var f Frame

	require.NoError(t, tr.Read(context.Background(), &f, 3))
	assert.Equal(t, []byte("abc"), f.Bytes())

	require.NoError(t, tr.Read(context.Background(), &f, 2))
	assert.Equal(t, []byte("abcde"), f.Bytes())

	err := tr.Read(context.Background(), &f, 4)
	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "read", terr.Op)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []byte("abcde"), f.Bytes(), "failed read must not grow the frame")

	assert.Equal(t, uint64(5), tr.stats.snapshot().BytesReceived)
}

func TestTransport_ReadTruncated(t *testing.T) {
	tr, _ := newMockTransport([]byte("ab"))
	var f Frame

	err := tr.Read(context.Background(), &f, 4)
	require.Error(t, err)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, []byte("ab"), f.Bytes())
}

func TestTransport_NotConnected(t *testing.T) {
	tr := NewTransport("127.0.0.1", 11210, FamilyIPv4, false, nil, nil)
	var f Frame

	assert.ErrorIs(t, tr.SendFrame(context.Background(), NewFrame([]byte("a"))), ErrConnectionClosed)
	assert.ErrorIs(t, tr.Read(context.Background(), &f, 1), ErrConnectionClosed)
}

func TestTransport_CloseIdempotent(t *testing.T) {
	tr, mock := newMockTransport()

	require.NoError(t, tr.Close())
	assert.True(t, mock.Closed())
	assert.False(t, tr.Connected())
	require.NoError(t, tr.Close())
}

func TestTransport_ConnectRefused(t *testing.T) {
	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	require.NoError(t, listener.Close())

	tr := NewTransport("127.0.0.1", port, FamilyIPv4, false, nil, nil)
	err = tr.Connect(context.Background())

	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "connect", terr.Op)
	assert.False(t, tr.Connected())
}

func TestTransport_Connect(t *testing.T) {
	srv := startServer(t, nil, ProtocolMemcached)
	tr := NewTransport("127.0.0.1", srv.Port(), FamilyIPv4, false, nil, nil)

	require.NoError(t, tr.Connect(context.Background()))
	assert.True(t, tr.Connected())

	require.NoError(t, tr.Reconnect(context.Background()))
	assert.True(t, tr.Connected())
	assert.Equal(t, uint64(1), tr.stats.snapshot().Reconnects)

	require.NoError(t, tr.Close())
	assert.False(t, tr.Connected())
}

func TestTransport_ConnectTLS(t *testing.T) {
	serverTLS, clientTLS := testutils.SelfSignedTLS(t)
	srv := testutils.StartServer(t, nil, testutils.ServerConfig{TLS: serverTLS})

	tr := NewTransport("127.0.0.1", srv.Port(), FamilyIPv4, true, nil, clientTLS)
	require.NoError(t, tr.Connect(context.Background()))
	defer tr.Close()

	tlsConn, ok := tr.conn.(*tls.Conn)
	require.True(t, ok)
	assert.True(t, tlsConn.ConnectionState().HandshakeComplete)
}

func TestTransport_ConnectTLS_UntrustedCertificate(t *testing.T) {
	serverTLS, _ := testutils.SelfSignedTLS(t)
	srv := testutils.StartServer(t, nil, testutils.ServerConfig{TLS: serverTLS})

	tr := NewTransport("127.0.0.1", srv.Port(), FamilyIPv4, true, nil, nil)
	err := tr.Connect(context.Background())

	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "handshake", terr.Op)
	assert.False(t, tr.Connected())
}

func TestTransport_SendPartialFrame_OverSocket(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	tr := NewTransport("127.0.0.1", 11210, FamilyIPv4, false, nil, nil)
	tr.conn = client
	defer tr.Close()

	payload := sequentialBytes(32)
	received := make(chan []byte, 1)
	go func() {
		buf := make([]byte, len(payload))
		_, _ = io.ReadFull(server, buf)
		received <- buf
	}()

	f := NewFrame(payload)
	require.NoError(t, tr.SendPartialFrame(context.Background(), f, 7))
	require.NoError(t, tr.SendPartialFrame(context.Background(), f, 25))
	assert.True(t, bytes.Equal(payload, <-received))
}
