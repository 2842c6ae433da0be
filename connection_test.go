package mcconn

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pior/mcconn/internal/testutils"
)

func TestConnection_EndToEnd(t *testing.T) {
	forEachProtocol(t, func(t *testing.T, protocol Protocol) {
		ctx := context.Background()
		srv := startServer(t, testutils.NewEngine(), protocol)
		conn := dial(t, srv, protocol, Config{})

		assert.Equal(t, protocol, conn.Protocol())
		assert.Equal(t, "127.0.0.1", conn.Host())
		assert.Equal(t, srv.Port(), conn.Port())
		assert.Equal(t, FamilyIPv4, conn.Family())
		assert.False(t, conn.IsTLS())
		assert.Empty(t, conn.SaslMechanisms())

		require.NoError(t, conn.Hello(ctx, "test", "1.0", "unit-test"))
		assert.Equal(t, testutils.Mechanisms, conn.SaslMechanisms())

		require.NoError(t, conn.Authenticate(ctx, "_admin", "password", "PLAIN"))
		require.NoError(t, conn.CreateBucket(ctx, "b1", "", BucketTypeMemcached))
		require.NoError(t, conn.SelectBucket(ctx, "b1"))

		names, err := conn.ListBuckets(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"b1"}, names)

		vbucket := VBucketForKey("k1", DefaultNumVBuckets)
		doc := Document{Info: DocumentInfo{ID: "k1", Flags: 0xcafe}, Value: []byte("v1")}
		info, err := conn.Mutate(ctx, doc, vbucket, MutationSet)
		require.NoError(t, err)
		assert.NotZero(t, info.Cas)
		assert.Equal(t, uint64(2), info.Size)
		assert.Equal(t, uint64(1), info.Seqno)
		assert.NotZero(t, info.VBucketUUID)

		got, err := conn.Get(ctx, "k1", vbucket)
		require.NoError(t, err)
		assert.Equal(t, "k1", got.Info.ID)
		assert.Equal(t, []byte("v1"), got.Value)
		assert.Equal(t, info.Cas, got.Info.Cas)
		assert.Equal(t, uint32(0xcafe), got.Info.Flags)

		require.NoError(t, conn.DeleteBucket(ctx, "b1"))
		names, err = conn.ListBuckets(ctx)
		require.NoError(t, err)
		assert.Empty(t, names)

		stats := conn.TransferStats()
		assert.Equal(t, uint64(9), stats.Operations)
		assert.Zero(t, stats.Errors)
		assert.NotZero(t, stats.BytesSent)
		assert.NotZero(t, stats.BytesReceived)
	})
}

func TestConnection_GetNotFound(t *testing.T) {
	forEachProtocol(t, func(t *testing.T, protocol Protocol) {
		conn, _ := newTestConnection(t, protocol)
		ctx := context.Background()

		_, err := conn.Get(ctx, "missing", 0)
		require.Error(t, err)
		assert.True(t, IsNotFound(err))
		assert.False(t, ShouldCloseConnection(err))

		cerr, ok := AsConnectionError(err)
		require.True(t, ok)
		assert.Equal(t, protocol, cerr.Protocol)
		assert.Equal(t, "Not found", cerr.Message)

		// the connection stays usable after a status error
		_, err = conn.Mutate(ctx, Document{Info: DocumentInfo{ID: "missing"}, Value: []byte("x")}, 0, MutationSet)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), conn.TransferStats().Errors)
	})
}

func TestConnection_AddExisting(t *testing.T) {
	forEachProtocol(t, func(t *testing.T, protocol Protocol) {
		conn, _ := newTestConnection(t, protocol)
		ctx := context.Background()
		doc := Document{Info: DocumentInfo{ID: "k"}, Value: []byte("v")}

		_, err := conn.Mutate(ctx, doc, 0, MutationAdd)
		require.NoError(t, err)

		_, err = conn.Mutate(ctx, doc, 0, MutationAdd)
		cerr, ok := AsConnectionError(err)
		require.True(t, ok)
		assert.True(t, cerr.IsAlreadyExists())
		assert.False(t, cerr.IsCASMismatch())
	})
}

func TestConnection_CASMismatch(t *testing.T) {
	forEachProtocol(t, func(t *testing.T, protocol Protocol) {
		conn, _ := newTestConnection(t, protocol)
		ctx := context.Background()
		doc := Document{Info: DocumentInfo{ID: "k"}, Value: []byte("v1")}

		info, err := conn.Mutate(ctx, doc, 0, MutationSet)
		require.NoError(t, err)

		doc.Info.Cas = info.Cas + 1000
		doc.Value = []byte("v2")
		_, err = conn.Mutate(ctx, doc, 0, MutationSet)
		cerr, ok := AsConnectionError(err)
		require.True(t, ok)
		assert.True(t, cerr.IsCASMismatch())
		assert.False(t, cerr.IsNotFound())
		assert.False(t, cerr.IsAlreadyExists())

		doc.Info.Cas = info.Cas
		next, err := conn.Mutate(ctx, doc, 0, MutationSet)
		require.NoError(t, err)
		assert.Greater(t, next.Cas, info.Cas)
	})
}

func TestConnection_AppendPrepend(t *testing.T) {
	forEachProtocol(t, func(t *testing.T, protocol Protocol) {
		conn, _ := newTestConnection(t, protocol)
		ctx := context.Background()

		_, err := conn.Mutate(ctx, Document{Info: DocumentInfo{ID: "k"}, Value: []byte("b")}, 0, MutationAppend)
		cerr, ok := AsConnectionError(err)
		require.True(t, ok)
		assert.True(t, cerr.IsNotStored())

		_, err = conn.Mutate(ctx, Document{Info: DocumentInfo{ID: "k"}, Value: []byte("b")}, 0, MutationSet)
		require.NoError(t, err)
		_, err = conn.Mutate(ctx, Document{Info: DocumentInfo{ID: "k"}, Value: []byte("c")}, 0, MutationAppend)
		require.NoError(t, err)
		_, err = conn.Mutate(ctx, Document{Info: DocumentInfo{ID: "k"}, Value: []byte("a")}, 0, MutationPrepend)
		require.NoError(t, err)

		doc, err := conn.Get(ctx, "k", 0)
		require.NoError(t, err)
		assert.Equal(t, "abc", string(doc.Value))
	})
}

func TestConnection_AppendSize(t *testing.T) {
	// the binary protocol does not report the resulting size of an append
	// or prepend
	want := map[Protocol][2]uint64{
		ProtocolMemcached:  {0, 0},
		ProtocolGreenstack: {6, 7},
	}

	forEachProtocol(t, func(t *testing.T, protocol Protocol) {
		conn, _ := newTestConnection(t, protocol)
		ctx := context.Background()

		info, err := conn.Mutate(ctx, Document{Info: DocumentInfo{ID: "k"}, Value: []byte("hello")}, 0, MutationSet)
		require.NoError(t, err)
		assert.Equal(t, uint64(5), info.Size)

		info, err = conn.Mutate(ctx, Document{Info: DocumentInfo{ID: "k"}, Value: []byte("!")}, 0, MutationAppend)
		require.NoError(t, err)
		assert.Equal(t, want[protocol][0], info.Size)

		info, err = conn.Mutate(ctx, Document{Info: DocumentInfo{ID: "k"}, Value: []byte(">")}, 0, MutationPrepend)
		require.NoError(t, err)
		assert.Equal(t, want[protocol][1], info.Size)

		doc, err := conn.Get(ctx, "k", 0)
		require.NoError(t, err)
		assert.Equal(t, ">hello!", string(doc.Value))
	})
}

func TestConnection_ReplaceMissing(t *testing.T) {
	forEachProtocol(t, func(t *testing.T, protocol Protocol) {
		conn, _ := newTestConnection(t, protocol)

		_, err := conn.Mutate(context.Background(), Document{Info: DocumentInfo{ID: "k"}, Value: []byte("v")}, 0, MutationReplace)
		assert.True(t, IsNotFound(err))
	})
}

func TestConnection_JSONDatatype(t *testing.T) {
	forEachProtocol(t, func(t *testing.T, protocol Protocol) {
		conn, _ := newTestConnection(t, protocol)
		ctx := context.Background()

		doc := Document{Info: DocumentInfo{ID: "j", Datatype: DatatypeJSON}, Value: []byte(`{"a":1}`)}
		_, err := conn.Mutate(ctx, doc, 3, MutationSet)
		require.NoError(t, err)

		got, err := conn.Get(ctx, "j", 3)
		require.NoError(t, err)
		assert.Equal(t, DatatypeJSON, got.Info.Datatype)
		assert.Equal(t, CompressionNone, got.Info.Compression)

		_, err = conn.Get(ctx, "j", 4)
		assert.True(t, IsNotFound(err), "documents are stored per vbucket")
	})
}

func TestConnection_InvalidExpiration(t *testing.T) {
	forEachProtocol(t, func(t *testing.T, protocol Protocol) {
		conn, _ := newTestConnection(t, protocol)
		before := conn.TransferStats()

		doc := Document{Info: DocumentInfo{ID: "k", Expiration: "soon"}, Value: []byte("v")}
		_, err := conn.Mutate(context.Background(), doc, 0, MutationSet)
		require.Error(t, err)
		assert.True(t, IsInvalidArguments(err))
		assert.False(t, ShouldCloseConnection(err))
		assert.Equal(t, before.BytesSent, conn.TransferStats().BytesSent, "nothing is sent")
	})
}

func TestConnection_Authenticate(t *testing.T) {
	forEachProtocol(t, func(t *testing.T, protocol Protocol) {
		ctx := context.Background()
		engine := testutils.NewEngine()
		engine.AddUser("alice", "s3cret")
		srv := startServer(t, engine, protocol)

		t.Run("strongest advertised", func(t *testing.T) {
			conn := dial(t, srv, protocol, Config{})
			require.NoError(t, conn.Hello(ctx, "test", "1.0", ""))
			require.NoError(t, conn.Authenticate(ctx, "alice", "s3cret", ""))
		})

		for _, mech := range []string{"SCRAM-SHA1", "SCRAM-SHA256", "SCRAM-SHA512", "PLAIN"} {
			t.Run(mech, func(t *testing.T) {
				conn := dial(t, srv, protocol, Config{})
				require.NoError(t, conn.Authenticate(ctx, "alice", "s3cret", mech))
			})
		}

		t.Run("wrong password", func(t *testing.T) {
			conn := dial(t, srv, protocol, Config{})
			err := conn.Authenticate(ctx, "alice", "nope", "PLAIN")
			cerr, ok := AsConnectionError(err)
			require.True(t, ok)
			assert.True(t, cerr.IsAuthError())

			// a failed login leaves the connection usable
			require.NoError(t, conn.Authenticate(ctx, "alice", "s3cret", "PLAIN"))
		})

		t.Run("no mechanism without hello", func(t *testing.T) {
			conn := dial(t, srv, protocol, Config{})
			err := conn.Authenticate(ctx, "alice", "s3cret", "")
			assert.True(t, IsInvalidArguments(err))
		})

		t.Run("unsupported mechanism", func(t *testing.T) {
			conn := dial(t, srv, protocol, Config{})
			err := conn.Authenticate(ctx, "alice", "s3cret", "GSSAPI")
			assert.True(t, IsInvalidArguments(err))
		})

		t.Run("bucket management requires admin", func(t *testing.T) {
			conn := dial(t, srv, protocol, Config{})
			require.NoError(t, conn.Authenticate(ctx, "alice", "s3cret", "PLAIN"))
			err := conn.CreateBucket(ctx, "b2", "", BucketTypeMemcached)
			cerr, ok := AsConnectionError(err)
			require.True(t, ok)
			assert.True(t, cerr.IsAccessDenied())
		})
	})
}

func TestConnection_CreateBucket(t *testing.T) {
	forEachProtocol(t, func(t *testing.T, protocol Protocol) {
		conn, srv := newTestConnection(t, protocol)
		ctx := context.Background()

		require.NoError(t, conn.CreateBucket(ctx, "ewb", "", BucketTypeEWouldBlock))
		require.NoError(t, conn.CreateBucket(ctx, "cb", "dbname=/tmp/cb", BucketTypeCouchbase))
		assert.Equal(t, []string{"default", "ewb", "cb"}, srv.Engine.ListBuckets())

		err := conn.CreateBucket(ctx, "cb", "", BucketTypeCouchbase)
		cerr, ok := AsConnectionError(err)
		require.True(t, ok)
		assert.True(t, cerr.IsAlreadyExists())

		err = conn.CreateBucket(ctx, "x", "", BucketTypeNoBucket)
		assert.ErrorIs(t, err, ErrInvalidArgument)

		err = conn.DeleteBucket(ctx, "nope")
		assert.True(t, IsNotFound(err))
	})
}

func TestConnection_Stats(t *testing.T) {
	forEachProtocol(t, func(t *testing.T, protocol Protocol) {
		conn, _ := newTestConnection(t, protocol)
		ctx := context.Background()

		stats, err := conn.Stats(ctx, "")
		require.NoError(t, err)
		assert.Contains(t, stats, "pid")
		assert.Equal(t, "1", stats["curr_connections"])
		assert.Equal(t, "1", stats["buckets"])

		_, err = conn.Mutate(ctx, Document{Info: DocumentInfo{ID: "k"}, Value: []byte("v")}, 0, MutationSet)
		require.NoError(t, err)

		stats, err = conn.Stats(ctx, "buckets")
		require.NoError(t, err)
		bucket, ok := stats["default"].(map[string]any)
		require.True(t, ok, "JSON stat values are decoded")
		assert.Equal(t, float64(1), bucket["items"])

		stats, err = conn.Stats(ctx, "vbucket-seqno")
		require.NoError(t, err)
		assert.Equal(t, "1", stats["vb_0:high_seqno"])

		_, err = conn.Stats(ctx, "unknown-group")
		assert.True(t, IsNotFound(err))

		// the stream stays in sync after multi reply operations
		_, err = conn.Get(ctx, "k", 0)
		require.NoError(t, err)
	})
}

func TestConnection_EmptyStatsGroup(t *testing.T) {
	forEachProtocol(t, func(t *testing.T, protocol Protocol) {
		conn, srv := newTestConnection(t, protocol)
		require.Equal(t, testutils.StatusOK, srv.Engine.DeleteBucket("default"))

		stats, err := conn.Stats(context.Background(), "buckets")
		require.NoError(t, err)
		assert.Empty(t, stats)
	})
}

func TestConnection_AuditReload(t *testing.T) {
	forEachProtocol(t, func(t *testing.T, protocol Protocol) {
		conn, srv := newTestConnection(t, protocol)

		require.NoError(t, conn.ReloadAuditConfiguration(context.Background()))
		require.NoError(t, conn.ReloadAuditConfiguration(context.Background()))
		assert.Equal(t, int64(2), srv.Engine.AuditReloads())
	})
}

func TestConnection_EwouldblockInjection(t *testing.T) {
	forEachProtocol(t, func(t *testing.T, protocol Protocol) {
		conn, _ := newTestConnection(t, protocol)
		ctx := context.Background()

		require.NoError(t, conn.ConfigureEwouldBlockEngine(ctx, EWBModeNextN, EngineNotMyVBucket, 1, ""))

		_, err := conn.Get(ctx, "k", 0)
		cerr, ok := AsConnectionError(err)
		require.True(t, ok)
		assert.True(t, cerr.IsNotMyVbucket())

		_, err = conn.Get(ctx, "k", 0)
		assert.True(t, IsNotFound(err), "injection is consumed")

		require.NoError(t, conn.ConfigureEwouldBlockEngine(ctx, EWBModeCasMismatch, EngineSuccess, 1, ""))
		_, err = conn.Mutate(ctx, Document{Info: DocumentInfo{ID: "k", Cas: 1}, Value: []byte("v")}, 0, MutationSet)
		cerr, ok = AsConnectionError(err)
		require.True(t, ok)
		assert.True(t, cerr.IsCASMismatch())
	})
}

func TestConnection_NotMyVbucket(t *testing.T) {
	forEachProtocol(t, func(t *testing.T, protocol Protocol) {
		engine := testutils.NewEngine()
		engine.NumVBuckets = 16
		require.Equal(t, testutils.StatusOK, engine.CreateBucket("default", "", testutils.BucketMemcached))
		srv := startServer(t, engine, protocol)
		conn := dial(t, srv, protocol, Config{})
		login(t, conn, "default")

		_, err := conn.Get(context.Background(), "k", 16)
		cerr, ok := AsConnectionError(err)
		require.True(t, ok)
		assert.True(t, cerr.IsNotMyVbucket())
	})
}

func TestConnection_SetSynchronous(t *testing.T) {
	forEachProtocol(t, func(t *testing.T, protocol Protocol) {
		conn, _ := newTestConnection(t, protocol)

		assert.True(t, conn.IsSynchronous())
		err := conn.SetSynchronous(false)
		assert.ErrorIs(t, err, ErrNotImplemented)
		assert.True(t, conn.IsSynchronous())
		require.NoError(t, conn.SetSynchronous(true))
	})
}

func TestConnection_CloseAndReconnect(t *testing.T) {
	forEachProtocol(t, func(t *testing.T, protocol Protocol) {
		conn, _ := newTestConnection(t, protocol)
		ctx := context.Background()

		require.NoError(t, conn.Close())
		require.NoError(t, conn.Close())

		_, err := conn.Get(ctx, "k", 0)
		assert.ErrorIs(t, err, ErrConnectionClosed)
		assert.ErrorIs(t, conn.SendFrame(ctx, NewFrame([]byte{0})), ErrConnectionClosed)
		assert.ErrorIs(t, conn.RecvFrame(ctx, &Frame{}), ErrConnectionClosed)

		require.NoError(t, conn.Reconnect(ctx))
		assert.Empty(t, conn.SaslMechanisms())
		login(t, conn, "default")
		_, err = conn.Get(ctx, "k", 0)
		assert.True(t, IsNotFound(err))
	})
}

func TestConnection_ServerDrop(t *testing.T) {
	forEachProtocol(t, func(t *testing.T, protocol Protocol) {
		conn, srv := newTestConnection(t, protocol)
		ctx := context.Background()

		srv.DropConnections()

		_, err := conn.Get(ctx, "k", 0)
		var terr *TransportError
		require.ErrorAs(t, err, &terr)
		assert.True(t, ShouldCloseConnection(err))

		_, err = conn.Get(ctx, "k", 0)
		assert.ErrorIs(t, err, ErrConnectionClosed)

		require.NoError(t, conn.Reconnect(ctx))
		login(t, conn, "default")

		stats := conn.TransferStats()
		assert.Equal(t, uint64(1), stats.Reconnects)
		assert.Equal(t, uint64(1), stats.TransportErrors)
	})
}

func TestConnection_ContextCanceled(t *testing.T) {
	forEachProtocol(t, func(t *testing.T, protocol Protocol) {
		conn, _ := newTestConnection(t, protocol)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := conn.Get(ctx, "k", 0)
		assert.ErrorIs(t, err, context.Canceled)

		_, err = conn.Get(context.Background(), "k", 0)
		assert.True(t, IsNotFound(err), "connection survives a canceled context")
	})
}

func TestConnection_Clone(t *testing.T) {
	forEachProtocol(t, func(t *testing.T, protocol Protocol) {
		conn, _ := newTestConnection(t, protocol)
		ctx := context.Background()

		clone, err := conn.Clone(ctx)
		require.NoError(t, err)
		defer clone.Close()

		assert.Equal(t, conn.Protocol(), clone.Protocol())
		assert.Equal(t, conn.Port(), clone.Port())
		assert.Equal(t, conn.Family(), clone.Family())
		assert.Empty(t, clone.SaslMechanisms(), "a clone has its own session")

		login(t, clone, "default")
		require.NoError(t, clone.Close())

		_, err = conn.Get(ctx, "k", 0)
		assert.True(t, IsNotFound(err), "closing a clone leaves the origin open")
		assert.Eventually(t, func() bool {
			stats, err := conn.Stats(ctx, "")
			return err == nil && stats["curr_connections"] == "1"
		}, time.Second, 10*time.Millisecond)
	})
}

func TestConnection_String(t *testing.T) {
	conn, _ := newTestConnection(t, ProtocolGreenstack)

	s := conn.String()
	assert.True(t, strings.HasPrefix(s, "Greenstack connection 127.0.0.1:"), s)
	assert.Contains(t, s, "ipv4")
	assert.NotContains(t, s, "ssl")
}

func TestConnection_LastUsed(t *testing.T) {
	conn, _ := newTestConnection(t, ProtocolMemcached)
	assert.False(t, conn.LastUsed().IsZero())
}

func TestConnection_TLS(t *testing.T) {
	forEachProtocol(t, func(t *testing.T, protocol Protocol) {
		serverTLS, clientTLS := testutils.SelfSignedTLS(t)
		cfg := serverConfig(protocol)
		cfg.TLS = serverTLS
		srv := testutils.StartServer(t, nil, cfg)

		desc := descriptor(srv, protocol)
		desc.TLS = true
		conn, err := Dial(context.Background(), desc, Config{TLSConfig: clientTLS})
		require.NoError(t, err)
		defer conn.Close()

		assert.True(t, conn.IsTLS())
		assert.Contains(t, conn.String(), "ssl")
		login(t, conn, "")
	})
}

func TestConnection_IPv6(t *testing.T) {
	cfg := serverConfig(ProtocolMemcached)
	cfg.Network = "tcp6"
	srv := testutils.StartServer(t, nil, cfg)

	conn, err := Dial(context.Background(), PortDescriptor{Port: srv.Port(), Family: FamilyIPv6}, Config{})
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "::1", conn.Host())
	assert.Equal(t, FamilyIPv6, conn.Family())
	require.NoError(t, conn.Hello(context.Background(), "test", "1.0", ""))
}

func TestDial_Refused(t *testing.T) {
	srv := startServer(t, nil, ProtocolMemcached)
	desc := descriptor(srv, ProtocolMemcached)
	srv.Close()

	_, err := Dial(context.Background(), desc, Config{})
	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "connect", terr.Op)
}

func TestDial_UnknownProtocol(t *testing.T) {
	_, err := Dial(context.Background(), PortDescriptor{Port: 11210, Protocol: Protocol(9)}, Config{})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestParseStatValue(t *testing.T) {
	assert.Equal(t, "42", parseStatValue([]byte("42")))
	assert.Equal(t, "", parseStatValue(nil))
	assert.Equal(t, "{broken", parseStatValue([]byte("{broken")))
	assert.Equal(t, map[string]any{"a": float64(1)}, parseStatValue([]byte(`{"a":1}`)))
	assert.Equal(t, []any{"x"}, parseStatValue([]byte(`["x"]`)))
}
