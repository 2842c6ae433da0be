package mcconn

import (
	"errors"
	"fmt"

	"github.com/sony/gobreaker/v2"

	"github.com/pior/mcconn/binary"
	"github.com/pior/mcconn/greenstack"
)

var (
	// ErrConnectionClosed is returned by every operation on a closed
	// connection except Reconnect.
	ErrConnectionClosed = errors.New("mcconn: connection closed")

	// ErrInvalidArgument is the class of client side request errors.
	ErrInvalidArgument = errors.New("mcconn: invalid argument")

	// ErrNotImplemented is returned for operations a protocol variant does
	// not support. It is an invalid argument error.
	ErrNotImplemented = fmt.Errorf("%w: not implemented", ErrInvalidArgument)

	// ErrNoConnection is returned by the registry when no connection
	// matches the requested attributes.
	ErrNoConnection = errors.New("mcconn: no matching connection")
)

func invalidArgument(what string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s", ErrInvalidArgument, what)
	}
	return fmt.Errorf("%w: %s: %v", ErrInvalidArgument, what, err)
}

// TransportError wraps socket level failures: dial, TLS handshake, read and
// write errors, and the peer closing the connection mid frame.
//
// Connection handling: the connection is broken, Reconnect or discard it.
type TransportError struct {
	Op  string // connect, handshake, read, write
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("mcconn: transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ShouldCloseConnection returns true - the transport is unusable
func (e *TransportError) ShouldCloseConnection() bool {
	return true
}

// ProtocolError is returned when the server answers with a well formed frame
// that does not belong to the request, or lacks a required field.
//
// Connection handling: the stream is out of sync, CLOSE the connection.
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string {
	return "mcconn: protocol error: " + e.Message
}

// ShouldCloseConnection returns true - request and response are out of sync
func (e *ProtocolError) ShouldCloseConnection() bool {
	return true
}

// ConnectionError is a non-success status returned by the server. It carries
// the raw status and the protocol it came from; the Is* methods classify it.
//
// Connection handling: the protocol state is intact, the connection can be
// reused.
type ConnectionError struct {
	Protocol Protocol
	Status   uint16
	// Message is the context the server attached to the reply, if any.
	Message string

	// withCas records that the failing request carried a cas, which turns a
	// binary EEXISTS into a cas mismatch.
	withCas bool
}

func newBinaryError(status binary.Status, value []byte, withCas bool) *ConnectionError {
	return &ConnectionError{
		Protocol: ProtocolMemcached,
		Status:   uint16(status),
		Message:  string(value),
		withCas:  withCas,
	}
}

func newGreenstackError(status greenstack.Status, payload greenstack.Fields) *ConnectionError {
	msg, _ := payload.GetString(greenstack.FieldErrorMessage)
	return &ConnectionError{
		Protocol: ProtocolGreenstack,
		Status:   uint16(status),
		Message:  msg,
	}
}

func (e *ConnectionError) statusText() string {
	if e.Protocol == ProtocolGreenstack {
		return greenstack.Status(e.Status).String()
	}
	return binary.Status(e.Status).String()
}

func (e *ConnectionError) Error() string {
	s := fmt.Sprintf("mcconn: %s error: %s (0x%04x)", e.Protocol, e.statusText(), e.Status)
	if e.Message != "" {
		s += ": " + e.Message
	}
	return s
}

// ShouldCloseConnection returns false - the server answered a full frame
func (e *ConnectionError) ShouldCloseConnection() bool {
	return false
}

func (e *ConnectionError) is(b binary.Status, g greenstack.Status) bool {
	if e.Protocol == ProtocolGreenstack {
		return e.Status == uint16(g)
	}
	return e.Status == uint16(b)
}

func (e *ConnectionError) IsNotFound() bool {
	return e.is(binary.StatusKeyENoEnt, greenstack.StatusNotFound)
}

func (e *ConnectionError) IsAlreadyExists() bool {
	if e.Protocol == ProtocolMemcached && e.withCas {
		return false
	}
	return e.is(binary.StatusKeyEExists, greenstack.StatusAlreadyExists)
}

// IsCASMismatch reports a write rejected because the supplied cas did not
// match the stored one.
func (e *ConnectionError) IsCASMismatch() bool {
	if e.Protocol == ProtocolGreenstack {
		return e.Status == uint16(greenstack.StatusCasMismatch)
	}
	return e.withCas && e.Status == uint16(binary.StatusKeyEExists)
}

func (e *ConnectionError) IsNotStored() bool {
	return e.is(binary.StatusNotStored, greenstack.StatusNotStored)
}

func (e *ConnectionError) IsInvalidArguments() bool {
	return e.is(binary.StatusEInval, greenstack.StatusInvalidArguments)
}

func (e *ConnectionError) IsAccessDenied() bool {
	return e.is(binary.StatusEAccess, greenstack.StatusNoAccess)
}

func (e *ConnectionError) IsNotMyVbucket() bool {
	return e.is(binary.StatusNotMyVbucket, greenstack.StatusNotMyVBucket)
}

func (e *ConnectionError) IsAuthError() bool {
	return e.is(binary.StatusAuthError, greenstack.StatusAuthenticationError)
}

// AsConnectionError extracts a ConnectionError from err's chain.
func AsConnectionError(err error) (*ConnectionError, bool) {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr, true
	}
	return nil, false
}

// IsNotFound reports whether err is a not-found ConnectionError.
func IsNotFound(err error) bool {
	cerr, ok := AsConnectionError(err)
	return ok && cerr.IsNotFound()
}

// IsInvalidArguments reports a server EINVAL or a request rejected before
// it was sent, ErrNotImplemented included.
func IsInvalidArguments(err error) bool {
	if errors.Is(err, ErrInvalidArgument) {
		return true
	}
	cerr, ok := AsConnectionError(err)
	return ok && cerr.IsInvalidArguments()
}

// ErrorWithConnectionState is implemented by errors that know whether the
// connection survived them.
type ErrorWithConnectionState interface {
	error
	ShouldCloseConnection() bool
}

// ShouldCloseConnection decides whether a connection must be discarded after
// err.
//
// Returns false for nil, ConnectionError, client side argument errors and
// requests rejected by an open circuit breaker.
// Returns true for TransportError, codec parse errors, ErrConnectionClosed
// and unknown errors.
func ShouldCloseConnection(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrInvalidArgument) {
		return false
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}

	var e ErrorWithConnectionState
	if errors.As(err, &e) {
		return e.ShouldCloseConnection()
	}

	return true
}
