package mcconn

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pior/mcconn/internal/testutils"
)

var protocols = []Protocol{ProtocolMemcached, ProtocolGreenstack}

func serverConfig(protocol Protocol) testutils.ServerConfig {
	if protocol == ProtocolGreenstack {
		return testutils.ServerConfig{Protocol: testutils.ProtocolGreenstack}
	}
	return testutils.ServerConfig{Protocol: testutils.ProtocolBinary}
}

// startServer starts a test server for protocol backed by engine, with a
// "default" bucket when engine is nil.
func startServer(t testing.TB, engine *testutils.Engine, protocol Protocol) *testutils.Server {
	t.Helper()
	if engine == nil {
		engine = testutils.NewEngine()
		require.Equal(t, testutils.StatusOK, engine.CreateBucket("default", "", testutils.BucketMemcached))
	}
	return testutils.StartServer(t, engine, serverConfig(protocol))
}

func descriptor(srv *testutils.Server, protocol Protocol) PortDescriptor {
	return PortDescriptor{
		Host:     "127.0.0.1",
		Port:     srv.Port(),
		Family:   FamilyIPv4,
		Protocol: protocol,
	}
}

func dial(t testing.TB, srv *testutils.Server, protocol Protocol, cfg Config) Connection {
	t.Helper()
	conn, err := Dial(context.Background(), descriptor(srv, protocol), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// login runs hello, PLAIN authentication as admin and selects bucket.
func login(t testing.TB, conn Connection, bucket string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, conn.Hello(ctx, "test", "1.0", "unit-test"))
	require.NoError(t, conn.Authenticate(ctx, testutils.AdminUser, testutils.AdminPassword, "PLAIN"))
	if bucket != "" {
		require.NoError(t, conn.SelectBucket(ctx, bucket))
	}
}

// newTestConnection returns a logged in connection on the default bucket of
// a fresh server.
func newTestConnection(t testing.TB, protocol Protocol) (Connection, *testutils.Server) {
	t.Helper()
	srv := startServer(t, nil, protocol)
	conn := dial(t, srv, protocol, Config{})
	login(t, conn, "default")
	return conn, srv
}

func forEachProtocol(t *testing.T, fn func(t *testing.T, protocol Protocol)) {
	for _, protocol := range protocols {
		t.Run(protocol.String(), func(t *testing.T) {
			fn(t, protocol)
		})
	}
}

// createListener serves every accepted connection with handler and returns
// the listening port. It is used to script misbehaving servers.
func createListener(t testing.TB, handler func(conn net.Conn)) int {
	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to start test server: %v", err)
	}

	t.Cleanup(func() {
		listener.Close()
	})

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}

			go func(c net.Conn) {
				defer c.Close()

				if handler != nil {
					handler(c)
				}
			}(conn)
		}
	}()

	return listener.Addr().(*net.TCPAddr).Port
}
