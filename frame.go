package mcconn

// Frame holds the raw bytes of exactly one protocol unit, a full request or
// a full response in either wire format. It carries no framing metadata.
type Frame struct {
	Payload []byte
}

// NewFrame returns a frame holding a copy of b.
func NewFrame(b []byte) *Frame {
	return &Frame{Payload: append([]byte(nil), b...)}
}

// Reset truncates the frame to zero length, keeping its capacity.
func (f *Frame) Reset() {
	f.Payload = f.Payload[:0]
}

func (f *Frame) Len() int {
	return len(f.Payload)
}

func (f *Frame) Bytes() []byte {
	return f.Payload
}

// consume drops the first n bytes, once they are on the wire.
func (f *Frame) consume(n int) {
	f.Payload = append(f.Payload[:0], f.Payload[n:]...)
}
