package mcconn

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pior/mcconn/binary"
	"github.com/pior/mcconn/greenstack"
)

func TestConnectionError_Classifiers(t *testing.T) {
	var gsFields greenstack.Fields
	gsFields.AddString(greenstack.FieldErrorMessage, "no such key")

	tests := []struct {
		name  string
		err   *ConnectionError
		check func(*ConnectionError) bool
	}{
		{"binary not found", newBinaryError(binary.StatusKeyENoEnt, nil, false), (*ConnectionError).IsNotFound},
		{"binary exists", newBinaryError(binary.StatusKeyEExists, nil, false), (*ConnectionError).IsAlreadyExists},
		{"binary cas mismatch", newBinaryError(binary.StatusKeyEExists, nil, true), (*ConnectionError).IsCASMismatch},
		{"binary not stored", newBinaryError(binary.StatusNotStored, nil, false), (*ConnectionError).IsNotStored},
		{"binary einval", newBinaryError(binary.StatusEInval, nil, false), (*ConnectionError).IsInvalidArguments},
		{"binary eaccess", newBinaryError(binary.StatusEAccess, nil, false), (*ConnectionError).IsAccessDenied},
		{"binary not my vbucket", newBinaryError(binary.StatusNotMyVbucket, nil, false), (*ConnectionError).IsNotMyVbucket},
		{"binary auth", newBinaryError(binary.StatusAuthError, nil, false), (*ConnectionError).IsAuthError},
		{"greenstack not found", newGreenstackError(greenstack.StatusNotFound, gsFields), (*ConnectionError).IsNotFound},
		{"greenstack exists", newGreenstackError(greenstack.StatusAlreadyExists, nil), (*ConnectionError).IsAlreadyExists},
		{"greenstack cas mismatch", newGreenstackError(greenstack.StatusCasMismatch, nil), (*ConnectionError).IsCASMismatch},
		{"greenstack not stored", newGreenstackError(greenstack.StatusNotStored, nil), (*ConnectionError).IsNotStored},
		{"greenstack invalid", newGreenstackError(greenstack.StatusInvalidArguments, nil), (*ConnectionError).IsInvalidArguments},
		{"greenstack no access", newGreenstackError(greenstack.StatusNoAccess, nil), (*ConnectionError).IsAccessDenied},
		{"greenstack not my vbucket", newGreenstackError(greenstack.StatusNotMyVBucket, nil), (*ConnectionError).IsNotMyVbucket},
		{"greenstack auth", newGreenstackError(greenstack.StatusAuthenticationError, nil), (*ConnectionError).IsAuthError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.err))
			assert.False(t, tt.err.ShouldCloseConnection())
		})
	}
}

func TestConnectionError_CASMismatchIsNotExists(t *testing.T) {
	for _, err := range []*ConnectionError{
		newBinaryError(binary.StatusKeyEExists, nil, true),
		newGreenstackError(greenstack.StatusCasMismatch, nil),
	} {
		assert.True(t, err.IsCASMismatch(), err.Error())
		assert.False(t, err.IsAlreadyExists(), err.Error())
		assert.False(t, err.IsNotFound(), err.Error())
	}

	assert.False(t, newBinaryError(binary.StatusKeyEExists, nil, false).IsCASMismatch())
	assert.False(t, newGreenstackError(greenstack.StatusAlreadyExists, nil).IsCASMismatch())
}

func TestConnectionError_SameStatusDifferentProtocol(t *testing.T) {
	// 0x0001 is not-found in binary and invalid-arguments in Greenstack.
	b := newBinaryError(binary.Status(1), nil, false)
	g := newGreenstackError(greenstack.Status(1), nil)

	assert.True(t, b.IsNotFound())
	assert.False(t, b.IsInvalidArguments())
	assert.True(t, g.IsInvalidArguments())
	assert.False(t, g.IsNotFound())
}

func TestConnectionError_Error(t *testing.T) {
	var fields greenstack.Fields
	fields.AddString(greenstack.FieldErrorMessage, "no such key")

	err := newGreenstackError(greenstack.StatusNotFound, fields)
	assert.Equal(t, "no such key", err.Message)
	assert.Equal(t, "mcconn: Greenstack error: Not found (0x0008): no such key", err.Error())

	err = newBinaryError(binary.StatusKeyENoEnt, nil, false)
	assert.Contains(t, err.Error(), "mcconn: Memcached error:")
	assert.Contains(t, err.Error(), "(0x0001)")
}

func TestAsConnectionError(t *testing.T) {
	cerr := newBinaryError(binary.StatusKeyENoEnt, nil, false)
	wrapped := fmt.Errorf("loading: %w", cerr)

	got, ok := AsConnectionError(wrapped)
	require.True(t, ok)
	assert.Same(t, cerr, got)
	assert.True(t, IsNotFound(wrapped))

	_, ok = AsConnectionError(errors.New("other"))
	assert.False(t, ok)
	assert.False(t, IsNotFound(nil))
}

func TestIsInvalidArguments(t *testing.T) {
	assert.True(t, IsInvalidArguments(ErrInvalidArgument))
	assert.True(t, IsInvalidArguments(ErrNotImplemented))
	assert.True(t, IsInvalidArguments(invalidArgument("expiration", errors.New("bad"))))
	assert.True(t, IsInvalidArguments(newBinaryError(binary.StatusEInval, nil, false)))
	assert.False(t, IsInvalidArguments(newBinaryError(binary.StatusKeyENoEnt, nil, false)))
	assert.False(t, IsInvalidArguments(ErrConnectionClosed))
}

func TestShouldCloseConnection(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"invalid argument", invalidArgument("x", nil), false},
		{"not implemented", ErrNotImplemented, false},
		{"breaker open", gobreaker.ErrOpenState, false},
		{"breaker half open", gobreaker.ErrTooManyRequests, false},
		{"connection error", newBinaryError(binary.StatusKeyENoEnt, nil, false), false},
		{"wrapped connection error", fmt.Errorf("op: %w", newGreenstackError(greenstack.StatusNotFound, nil)), false},
		{"binary encode error", &binary.EncodeError{Message: "key too long"}, false},
		{"transport error", &TransportError{Op: "read", Err: errors.New("reset")}, true},
		{"protocol error", &ProtocolError{Message: "opaque"}, true},
		{"binary parse error", &binary.ParseError{Message: "magic"}, true},
		{"greenstack parse error", &greenstack.ParseError{Message: "length"}, true},
		{"connection closed", ErrConnectionClosed, true},
		{"context canceled", context.Canceled, true},
		{"unknown", errors.New("boom"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldCloseConnection(tt.err))
		})
	}
}

func TestTransportError_Unwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := &TransportError{Op: "read", Err: cause}

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "mcconn: transport error during read: connection reset", err.Error())
}
