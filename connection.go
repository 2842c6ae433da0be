package mcconn

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/sony/gobreaker/v2"

	"github.com/pior/mcconn/internal"
	"github.com/pior/mcconn/internal/coarsetime"
)

const DefaultConnectTimeout = 5 * time.Second

var discardLogger = slog.New(slog.DiscardHandler)

// requestBuffers holds the buffers typed operations encode requests into.
// A buffer is only held for the duration of one send.
var requestBuffers = internal.NewBufferPool(512, 64<<10)

// Config holds the settings shared by every connection created from it.
// The zero value is usable.
type Config struct {
	// Dialer used to establish sockets.
	// Default: a net.Dialer with DefaultConnectTimeout
	Dialer *net.Dialer

	// TLSConfig is used for TLS connections. When ServerName is empty the
	// connection host is used.
	TLSConfig *tls.Config

	// Logger receives connection lifecycle records.
	// Default: discard
	Logger *slog.Logger

	// Metrics, when set, receives per operation counters and latency
	// histograms.
	Metrics *metrics.Set

	// NewCircuitBreaker creates a circuit breaker guarding the operations of
	// a connection. It receives the connection address.
	// If nil, no circuit breaker is used.
	NewCircuitBreaker func(addr string) *gobreaker.CircuitBreaker[bool]
}

func (c Config) logger() *slog.Logger {
	if c.Logger == nil {
		return discardLogger
	}
	return c.Logger
}

// Connection is a synchronous client session to one server port, speaking
// either the memcached binary protocol or Greenstack.
//
// A Connection is owned by one goroutine at a time. Use Clone or a ClonePool
// for concurrent callers.
type Connection interface {
	Host() string
	Port() int
	Family() Family
	IsTLS() bool
	Protocol() Protocol
	// String returns a diagnostic label with the protocol and attributes.
	String() string

	IsSynchronous() bool
	// SetSynchronous(false) fails with ErrNotImplemented; no variant
	// supports pipelining.
	SetSynchronous(synchronous bool) error

	// SaslMechanisms returns the space separated mechanism list received by
	// Hello. It is empty before a successful Hello.
	SaslMechanisms() string
	LastUsed() time.Time
	TransferStats() TransferStats

	Hello(ctx context.Context, userAgent, userAgentVersion, comment string) error
	// Authenticate runs the SASL exchange. An empty mech selects the
	// strongest mechanism advertised by Hello.
	Authenticate(ctx context.Context, username, password, mech string) error

	CreateBucket(ctx context.Context, name, config string, bucketType BucketType) error
	DeleteBucket(ctx context.Context, name string) error
	SelectBucket(ctx context.Context, name string) error
	ListBuckets(ctx context.Context) ([]string, error)

	Get(ctx context.Context, id string, vbucket uint16) (Document, error)
	Mutate(ctx context.Context, doc Document, vbucket uint16, mutation MutationType) (MutationInfo, error)

	// EncodeCmdGet, EncodeCmdDcpOpen and EncodeCmdDcpStreamReq build request
	// frames without sending them.
	EncodeCmdGet(id string, vbucket uint16) (*Frame, error)
	EncodeCmdDcpOpen() (*Frame, error)
	EncodeCmdDcpStreamReq() (*Frame, error)

	// Stats aggregates every reply of a stats group. Values holding JSON
	// documents are decoded, others are kept as strings.
	Stats(ctx context.Context, group string) (map[string]any, error)
	ReloadAuditConfiguration(ctx context.Context) error
	ConfigureEwouldBlockEngine(ctx context.Context, mode EWBEngineMode, code EngineErrorCode, value uint32, key string) error
	IoctlGet(ctx context.Context, key string) (string, error)
	IoctlSet(ctx context.Context, key, value string) error

	// SendFrame, SendPartialFrame and RecvFrame bypass the typed API.
	SendFrame(ctx context.Context, f *Frame) error
	SendPartialFrame(ctx context.Context, f *Frame, n int) error
	// RecvFrame replaces the content of f with the next complete frame.
	RecvFrame(ctx context.Context, f *Frame) error

	// Reconnect closes the socket and connects again. It is the only
	// operation allowed on a closed connection.
	Reconnect(ctx context.Context) error
	Close() error
	// Clone opens an independent connection with the same attributes.
	Clone(ctx context.Context) (Connection, error)
}

// Dial connects to the port described by desc with the protocol it names.
func Dial(ctx context.Context, desc PortDescriptor, cfg Config) (Connection, error) {
	switch desc.Protocol {
	case ProtocolMemcached:
		return DialBinary(ctx, desc, cfg)
	case ProtocolGreenstack:
		return DialGreenstack(ctx, desc, cfg)
	default:
		return nil, invalidArgument("protocol "+desc.Protocol.String(), nil)
	}
}

// conn is the state and behavior shared by both protocol variants.
type conn struct {
	desc    PortDescriptor
	config  Config
	logger  *slog.Logger
	stats   *statsCollector
	breaker *gobreaker.CircuitBreaker[bool]

	// recv reads one complete frame, set by the protocol variant.
	recv func(ctx context.Context, f *Frame) error

	mu             sync.Mutex
	transport      *Transport
	closed         bool
	synchronous    bool
	saslMechanisms string
	lastUsed       time.Time
	opaque         uint32

	// features negotiated by Hello
	mutationSeqno bool
}

func newConn(desc PortDescriptor, cfg Config) *conn {
	c := &conn{
		desc:        desc,
		config:      cfg,
		logger:      cfg.logger(),
		stats:       newStatsCollector(cfg.Metrics, strings.ToLower(desc.Protocol.String())),
		synchronous: true,
		closed:      true,
	}
	c.transport = NewTransport(desc.Host, desc.Port, desc.Family, desc.TLS, cfg.Dialer, cfg.TLSConfig)
	c.transport.logger = c.logger
	c.transport.stats = c.stats
	c.desc.Host = c.transport.host
	if cfg.NewCircuitBreaker != nil {
		c.breaker = cfg.NewCircuitBreaker(c.transport.Addr())
	}
	return c
}

func (c *conn) connect(ctx context.Context) error {
	if err := c.transport.Connect(ctx); err != nil {
		return err
	}
	c.closed = false
	c.lastUsed = coarsetime.Now()
	return nil
}

func (c *conn) Host() string       { return c.desc.Host }
func (c *conn) Port() int          { return c.desc.Port }
func (c *conn) Family() Family     { return c.desc.Family }
func (c *conn) IsTLS() bool        { return c.desc.TLS }
func (c *conn) Protocol() Protocol { return c.desc.Protocol }

func (c *conn) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s connection %s", c.desc.Protocol, c.transport.Addr())
	if c.desc.TLS {
		sb.WriteString(" ssl")
	}
	switch c.desc.Family {
	case FamilyIPv4:
		sb.WriteString(" ipv4")
	case FamilyIPv6:
		sb.WriteString(" ipv6")
	}
	return sb.String()
}

func (c *conn) IsSynchronous() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.synchronous
}

func (c *conn) SetSynchronous(synchronous bool) error {
	if !synchronous {
		return fmt.Errorf("%w: asynchronous mode", ErrNotImplemented)
	}
	c.mu.Lock()
	c.synchronous = true
	c.mu.Unlock()
	return nil
}

func (c *conn) SaslMechanisms() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saslMechanisms
}

func (c *conn) LastUsed() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUsed
}

func (c *conn) TransferStats() TransferStats {
	return c.stats.snapshot()
}

// BreakerState returns the state of the circuit breaker, or StateClosed
// when none is configured.
func (c *conn) BreakerState() gobreaker.State {
	if c.breaker == nil {
		return gobreaker.StateClosed
	}
	return c.breaker.State()
}

func (c *conn) IoctlGet(context.Context, string) (string, error) {
	return "", fmt.Errorf("%w: ioctl get", ErrNotImplemented)
}

func (c *conn) IoctlSet(context.Context, string, string) error {
	return fmt.Errorf("%w: ioctl set", ErrNotImplemented)
}

// execute runs one typed operation: closed check, circuit breaker, stats,
// and teardown of the transport on fatal errors.
func (c *conn) execute(ctx context.Context, op string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnectionClosed
	}

	start := time.Now()
	var err error
	if c.breaker != nil {
		_, err = c.breaker.Execute(func() (bool, error) {
			err := fn()
			return err == nil, err
		})
	} else {
		err = fn()
	}
	c.stats.recordOperation(op, start, err)
	c.lastUsed = coarsetime.Now()

	if err != nil && ShouldCloseConnection(err) {
		c.markClosed(op, err)
	}
	return err
}

// raw runs a frame level operation, without stats or breaker.
func (c *conn) raw(fn func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnectionClosed
	}
	err := fn()
	if err != nil && ShouldCloseConnection(err) {
		c.markClosed("frame", err)
	}
	return err
}

// markClosed must be called with the lock held.
func (c *conn) markClosed(op string, err error) {
	c.logger.Warn("closing connection after fatal error", "conn", c.String(), "op", op, "error", err)
	_ = c.transport.Close()
	c.closed = true
}

func (c *conn) nextOpaque() uint32 {
	c.opaque++
	return c.opaque
}

func (c *conn) SendFrame(ctx context.Context, f *Frame) error {
	return c.raw(func() error {
		return c.transport.SendFrame(ctx, f)
	})
}

func (c *conn) SendPartialFrame(ctx context.Context, f *Frame, n int) error {
	return c.raw(func() error {
		return c.transport.SendPartialFrame(ctx, f, n)
	})
}

func (c *conn) RecvFrame(ctx context.Context, f *Frame) error {
	return c.raw(func() error {
		return c.recv(ctx, f)
	})
}

// exchange sends req and reads the next frame into resp. Must be called
// with the lock held.
func (c *conn) exchange(ctx context.Context, req, resp *Frame) error {
	if err := c.transport.SendFrame(ctx, req); err != nil {
		return err
	}
	return c.recv(ctx, resp)
}

func (c *conn) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logger.Debug("reconnecting", "conn", c.String())
	if err := c.transport.Reconnect(ctx); err != nil {
		c.closed = true
		return err
	}
	c.closed = false
	c.saslMechanisms = ""
	c.mutationSeqno = false
	c.lastUsed = coarsetime.Now()
	return nil
}

func (c *conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	return c.transport.Close()
}

// parseStatValue decodes values holding JSON documents and keeps the rest as
// strings.
func parseStatValue(value []byte) any {
	if len(value) > 0 && (value[0] == '{' || value[0] == '[') {
		var v any
		if err := json.Unmarshal(value, &v); err == nil {
			return v
		}
	}
	return string(value)
}
