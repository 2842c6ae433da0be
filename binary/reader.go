package binary

import (
	"encoding/binary"
	"io"
)

// Header is the decoded fixed-size packet header.
type Header struct {
	Magic    Magic
	Opcode   Opcode
	KeyLen   uint16
	ExtLen   uint8
	Datatype uint8

	// Specific holds the vbucket for requests and the status for responses.
	Specific uint16

	BodyLen uint32
	Opaque  uint32
	Cas     uint64
}

// DecodeHeader parses the first HeaderLen bytes of b.
// It validates the magic byte and that the announced lengths are consistent.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, &ParseError{Message: "short header"}
	}

	h := Header{
		Magic:    Magic(b[0]),
		Opcode:   Opcode(b[1]),
		KeyLen:   binary.BigEndian.Uint16(b[2:4]),
		ExtLen:   b[4],
		Datatype: b[5],
		Specific: binary.BigEndian.Uint16(b[6:8]),
		BodyLen:  binary.BigEndian.Uint32(b[8:12]),
		Opaque:   binary.BigEndian.Uint32(b[12:16]),
		Cas:      binary.BigEndian.Uint64(b[16:24]),
	}

	if h.Magic != MagicRequest && h.Magic != MagicResponse {
		return Header{}, &ParseError{Message: "invalid magic"}
	}
	if uint32(h.KeyLen)+uint32(h.ExtLen) > h.BodyLen {
		return Header{}, &ParseError{Message: "key and extras exceed body length"}
	}
	if h.BodyLen > MaxBodyLength {
		return Header{}, &ParseError{Message: "body length exceeds maximum"}
	}
	return h, nil
}

// DecodePacket parses one complete packet from b.
// b must hold exactly the header plus the body announced by it.
// The returned packet slices reference b.
func DecodePacket(b []byte) (*Packet, error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return nil, err
	}
	if len(b) != HeaderLen+int(h.BodyLen) {
		return nil, &ParseError{Message: "packet length does not match header"}
	}

	p := &Packet{
		Magic:    h.Magic,
		Opcode:   h.Opcode,
		Datatype: h.Datatype,
		Opaque:   h.Opaque,
		Cas:      h.Cas,
	}
	if h.Magic == MagicResponse {
		p.Status = Status(h.Specific)
	} else {
		p.VBucket = h.Specific
	}

	body := b[HeaderLen:]
	p.Extras = body[:h.ExtLen:h.ExtLen]
	p.Key = body[h.ExtLen : int(h.ExtLen)+int(h.KeyLen) : int(h.ExtLen)+int(h.KeyLen)]
	p.Value = body[int(h.ExtLen)+int(h.KeyLen):]
	return p, nil
}

// ReadPacket reads one packet from r.
//
// Go errors returned indicate I/O or parsing failures:
//   - io.EOF: connection closed before any byte was read
//   - io.ErrUnexpectedEOF: connection closed mid-packet
//   - ParseError: malformed header, the stream cannot be resynchronized
func ReadPacket(r io.Reader) (*Packet, error) {
	hdr := make([]byte, HeaderLen)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, err
	}

	h, err := DecodeHeader(hdr)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, HeaderLen+int(h.BodyLen))
	copy(buf, hdr)
	if _, err := io.ReadFull(r, buf[HeaderLen:]); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return DecodePacket(buf)
}
