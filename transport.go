package mcconn

import (
	"context"
	"crypto/tls"
	"io"
	"log/slog"
	"net"
	"strconv"
	"time"
)

// Transport owns one socket, plain or TLS, and moves exact byte counts over
// it. It has no protocol knowledge.
//
// A Transport is not safe for concurrent use.
type Transport struct {
	host      string
	port      int
	family    Family
	tls       bool
	dialer    *net.Dialer
	tlsConfig *tls.Config
	logger    *slog.Logger
	stats     *statsCollector

	conn net.Conn
}

// NewTransport creates an unconnected transport. Nil dialer and tlsConfig
// select defaults.
func NewTransport(host string, port int, family Family, useTLS bool, dialer *net.Dialer, tlsConfig *tls.Config) *Transport {
	if dialer == nil {
		dialer = &net.Dialer{Timeout: DefaultConnectTimeout}
	}
	if host == "" {
		host = family.loopback()
	}
	return &Transport{
		host:      host,
		port:      port,
		family:    family,
		tls:       useTLS,
		dialer:    dialer,
		tlsConfig: tlsConfig,
		logger:    discardLogger,
		stats:     newStatsCollector(nil, ""),
	}
}

func (t *Transport) Addr() string {
	return net.JoinHostPort(t.host, strconv.Itoa(t.port))
}

// Connected reports whether the transport holds an open socket.
func (t *Transport) Connected() bool {
	return t.conn != nil
}

// Connect dials the configured address and performs the TLS handshake when
// TLS is enabled. The socket is closed on every failing path.
func (t *Transport) Connect(ctx context.Context) error {
	if t.conn != nil {
		return nil
	}

	conn, err := t.dialer.DialContext(ctx, t.family.network(), t.Addr())
	if err != nil {
		return &TransportError{Op: "connect", Err: err}
	}

	if t.tls {
		tlsConn := tls.Client(conn, t.clientTLSConfig())
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			_ = conn.Close()
			return &TransportError{Op: "handshake", Err: err}
		}
		conn = tlsConn
	}

	t.conn = conn
	t.logger.Debug("connected", "addr", t.Addr(), "family", t.family, "tls", t.tls)
	return nil
}

func (t *Transport) clientTLSConfig() *tls.Config {
	cfg := t.tlsConfig
	if cfg == nil {
		cfg = &tls.Config{}
	}
	if cfg.ServerName == "" && !cfg.InsecureSkipVerify {
		cfg = cfg.Clone()
		cfg.ServerName = t.host
	}
	return cfg
}

// Close releases the socket. Closing a closed transport is a no-op.
func (t *Transport) Close() error {
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	t.logger.Debug("closed", "addr", t.Addr())
	return err
}

// Reconnect closes the socket and connects again with the same settings.
func (t *Transport) Reconnect(ctx context.Context) error {
	_ = t.Close()
	t.stats.recordReconnect()
	return t.Connect(ctx)
}

func (t *Transport) setDeadline(ctx context.Context) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = t.conn.SetDeadline(deadline)
	} else {
		_ = t.conn.SetDeadline(time.Time{})
	}
}

// SendFrame writes the whole frame. The frame is left untouched.
func (t *Transport) SendFrame(ctx context.Context, f *Frame) error {
	if err := t.write(ctx, f.Payload); err != nil {
		return err
	}
	t.stats.recordFrameSent()
	return nil
}

// SendPartialFrame writes the first n bytes of f and removes them from f.
// Successive calls whose lengths sum to the frame size put the same bytes on
// the wire as one SendFrame.
func (t *Transport) SendPartialFrame(ctx context.Context, f *Frame, n int) error {
	if n < 0 || n > f.Len() {
		return invalidArgument("partial frame length "+strconv.Itoa(n), nil)
	}
	if err := t.write(ctx, f.Payload[:n]); err != nil {
		return err
	}
	f.consume(n)
	if f.Len() == 0 {
		t.stats.recordFrameSent()
	}
	return nil
}

// write loops until every byte of b is accepted by the socket.
func (t *Transport) write(ctx context.Context, b []byte) error {
	if t.conn == nil {
		return ErrConnectionClosed
	}
	t.setDeadline(ctx)

	for sent := 0; sent < len(b); {
		n, err := t.conn.Write(b[sent:])
		sent += n
		t.stats.recordBytesSent(n)
		if err != nil {
			return &TransportError{Op: "write", Err: err}
		}
		if n == 0 {
			return &TransportError{Op: "write", Err: io.ErrShortWrite}
		}
	}
	return nil
}

// Read appends exactly n bytes from the socket to f.
func (t *Transport) Read(ctx context.Context, f *Frame, n int) error {
	if t.conn == nil {
		return ErrConnectionClosed
	}
	t.setDeadline(ctx)

	start := len(f.Payload)
	f.Payload = append(f.Payload, make([]byte, n)...)

	got, err := io.ReadFull(t.conn, f.Payload[start:])
	t.stats.recordBytesReceived(got)
	if err != nil {
		f.Payload = f.Payload[:start+got]
		return &TransportError{Op: "read", Err: err}
	}
	return nil
}
