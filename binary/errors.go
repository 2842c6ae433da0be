package binary

// ParseError is returned when received bytes do not form a valid packet.
// The byte stream can not be resynchronized, the connection must be closed.
type ParseError struct {
	Message string
}

func (e *ParseError) Error() string {
	return "binary: parse error: " + e.Message
}

// ShouldCloseConnection returns true - the stream position is unknown
func (e *ParseError) ShouldCloseConnection() bool {
	return true
}

// EncodeError is returned when a packet can not be represented on the wire.
// Nothing was written, the connection is still usable.
type EncodeError struct {
	Message string
}

func (e *EncodeError) Error() string {
	return "binary: encode error: " + e.Message
}

// ShouldCloseConnection returns false - nothing reached the socket
func (e *EncodeError) ShouldCloseConnection() bool {
	return false
}
