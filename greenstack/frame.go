package greenstack

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Message is one decoded Greenstack frame.
type Message struct {
	Opaque     uint32
	Opcode     Opcode
	Flags      Flags
	Status     Status // responses only
	FlexHeader FlexHeader
	Payload    Fields
}

// NewRequest creates a request message.
func NewRequest(op Opcode) *Message {
	return &Message{Opcode: op}
}

// NewResponse creates a response answering req.
func NewResponse(req *Message, status Status) *Message {
	return &Message{
		Opaque: req.Opaque,
		Opcode: req.Opcode,
		Flags:  FlagResponse,
		Status: status,
	}
}

func (m *Message) IsResponse() bool {
	return m.Flags.Has(FlagResponse)
}

func (m *Message) String() string {
	return fmt.Sprintf("{greenstack opcode=%s flags=0x%02x status=%s payload=%d}",
		m.Opcode, uint8(m.Flags), m.Status, len(m.Payload))
}

// FlexHeader holds the serialized optional header entries of a message.
type FlexHeader []byte

func (h *FlexHeader) Add(key FlexKey, value []byte) {
	var hdr [4]byte
	binary.BigEndian.PutUint16(hdr[0:2], uint16(key))
	binary.BigEndian.PutUint16(hdr[2:4], uint16(len(value)))
	*h = append(*h, hdr[:]...)
	*h = append(*h, value...)
}

func (h *FlexHeader) AddVBucketID(vbucket uint16) {
	h.Add(FlexVBucketID, binary.BigEndian.AppendUint16(nil, vbucket))
}

// Get returns the value of the first entry with the given key.
func (h FlexHeader) Get(key FlexKey) ([]byte, bool) {
	for i := 0; len(h)-i >= 4; {
		k := FlexKey(binary.BigEndian.Uint16(h[i : i+2]))
		n := int(binary.BigEndian.Uint16(h[i+2 : i+4]))
		i += 4
		if n > len(h)-i {
			return nil, false
		}
		if k == key {
			return h[i : i+n], true
		}
		i += n
	}
	return nil, false
}

func (h FlexHeader) VBucketID() (uint16, bool) {
	v, ok := h.Get(FlexVBucketID)
	if !ok || len(v) != 2 {
		return 0, false
	}
	return binary.BigEndian.Uint16(v), true
}

func (h FlexHeader) validate() error {
	for i := 0; i < len(h); {
		if len(h)-i < 4 {
			return &ParseError{Message: "truncated flex header entry"}
		}
		n := int(binary.BigEndian.Uint16(h[i+2 : i+4]))
		i += 4
		if n > len(h)-i {
			return &ParseError{Message: "flex header value exceeds header"}
		}
		i += n
	}
	return nil
}

// Size returns the number of bytes the frame occupies on the wire, length
// prefix included.
func (m *Message) Size() int {
	n := LengthSize + MinMessageSize + len(m.Payload)
	if m.IsResponse() {
		n += 2
	}
	if len(m.FlexHeader) > 0 {
		n += 4 + len(m.FlexHeader)
	}
	return n
}

// AppendFrame encodes m and appends it to dst.
// FlagFlexHeader is derived from the presence of flex header entries.
func AppendFrame(dst []byte, m *Message) ([]byte, error) {
	size := m.Size()
	if size > MaxFrameSize {
		return dst, &EncodeError{Message: "frame too large"}
	}

	flags := m.Flags &^ FlagFlexHeader
	if len(m.FlexHeader) > 0 {
		flags |= FlagFlexHeader
	}

	dst = binary.BigEndian.AppendUint32(dst, uint32(size-LengthSize))
	dst = binary.BigEndian.AppendUint32(dst, m.Opaque)
	dst = binary.BigEndian.AppendUint16(dst, uint16(m.Opcode))
	dst = append(dst, byte(flags))
	if flags.Has(FlagResponse) {
		dst = binary.BigEndian.AppendUint16(dst, uint16(m.Status))
	}
	if flags.Has(FlagFlexHeader) {
		dst = binary.BigEndian.AppendUint32(dst, uint32(len(m.FlexHeader)))
		dst = append(dst, m.FlexHeader...)
	}
	dst = append(dst, m.Payload...)
	return dst, nil
}

// DecodeLength parses the length prefix of a frame and returns the number of
// bytes that follow it.
func DecodeLength(b []byte) (int, error) {
	if len(b) < LengthSize {
		return 0, &ParseError{Message: "short length prefix"}
	}
	n := binary.BigEndian.Uint32(b[:LengthSize])
	if n < MinMessageSize || n > MaxFrameSize-LengthSize {
		return 0, &ParseError{Message: "invalid frame size"}
	}
	return int(n), nil
}

// DecodeFrame parses one complete frame, length prefix included.
// The returned message references b.
func DecodeFrame(b []byte) (*Message, error) {
	n, err := DecodeLength(b)
	if err != nil {
		return nil, err
	}
	if len(b) != LengthSize+n {
		return nil, &ParseError{Message: "frame length does not match prefix"}
	}

	body := b[LengthSize:]
	m := &Message{
		Opaque: binary.BigEndian.Uint32(body[0:4]),
		Opcode: Opcode(binary.BigEndian.Uint16(body[4:6])),
		Flags:  Flags(body[6]),
	}
	pos := MinMessageSize

	if m.Flags.Has(FlagResponse) {
		if len(body)-pos < 2 {
			return nil, &ParseError{Message: "missing status"}
		}
		m.Status = Status(binary.BigEndian.Uint16(body[pos : pos+2]))
		pos += 2
	}

	if m.Flags.Has(FlagFlexHeader) {
		if len(body)-pos < 4 {
			return nil, &ParseError{Message: "missing flex header length"}
		}
		flexLen := binary.BigEndian.Uint32(body[pos : pos+4])
		pos += 4
		if uint64(flexLen) > uint64(len(body)-pos) {
			return nil, &ParseError{Message: "flex header exceeds frame"}
		}
		m.FlexHeader = FlexHeader(body[pos : pos+int(flexLen)])
		pos += int(flexLen)
		if err := m.FlexHeader.validate(); err != nil {
			return nil, err
		}
	}

	m.Payload = Fields(body[pos:])
	if err := m.Payload.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// ReadFrame reads one frame from r.
func ReadFrame(r io.Reader) (*Message, error) {
	prefix := make([]byte, LengthSize)
	if _, err := io.ReadFull(r, prefix); err != nil {
		return nil, err
	}
	n, err := DecodeLength(prefix)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, LengthSize+n)
	copy(buf, prefix)
	if _, err := io.ReadFull(r, buf[LengthSize:]); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return DecodeFrame(buf)
}

// WriteFrame encodes m and writes it to w in a single Write call.
func WriteFrame(w io.Writer, m *Message) error {
	buf, err := AppendFrame(make([]byte, 0, m.Size()), m)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}
