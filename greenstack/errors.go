package greenstack

// ParseError is returned when received bytes do not form a valid frame.
// The connection must be closed, the stream position is lost.
type ParseError struct {
	Message string
}

func (e *ParseError) Error() string {
	return "greenstack: parse error: " + e.Message
}

// ShouldCloseConnection returns true - the stream position is unknown
func (e *ParseError) ShouldCloseConnection() bool {
	return true
}

// EncodeError is returned when a message can not be encoded.
type EncodeError struct {
	Message string
}

func (e *EncodeError) Error() string {
	return "greenstack: encode error: " + e.Message
}

// ShouldCloseConnection returns false - nothing was written
func (e *EncodeError) ShouldCloseConnection() bool {
	return false
}
