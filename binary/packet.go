package binary

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Packet is a decoded binary protocol packet.
// It is a plain data container; fields map directly to the wire layout.
type Packet struct {
	Magic    Magic
	Opcode   Opcode
	Datatype uint8

	// VBucket is only meaningful for requests.
	VBucket uint16

	// Status is only meaningful for responses.
	Status Status

	Opaque uint32
	Cas    uint64

	Extras []byte
	Key    []byte
	Value  []byte
}

// NewRequest creates a request packet for the given opcode.
func NewRequest(op Opcode) *Packet {
	return &Packet{Magic: MagicRequest, Opcode: op}
}

// NewResponse creates a response packet answering req.
// Opcode and opaque are copied from the request.
func NewResponse(req *Packet, status Status) *Packet {
	return &Packet{
		Magic:  MagicResponse,
		Opcode: req.Opcode,
		Status: status,
		Opaque: req.Opaque,
	}
}

// IsResponse reports whether the packet carries the response magic.
func (p *Packet) IsResponse() bool {
	return p.Magic == MagicResponse
}

// BodyLen returns the length of extras, key and value together.
func (p *Packet) BodyLen() int {
	return len(p.Extras) + len(p.Key) + len(p.Value)
}

// Size returns the number of bytes the packet occupies on the wire.
func (p *Packet) Size() int {
	return HeaderLen + p.BodyLen()
}

func (p *Packet) String() string {
	return fmt.Sprintf("{packet magic=0x%02x opcode=%s status=0x%04x keylen=%d extlen=%d bodylen=%d}",
		uint8(p.Magic), p.Opcode, uint16(p.Status), len(p.Key), len(p.Extras), p.BodyLen())
}

// AppendPacket encodes p and appends it to dst.
// Returns an error when a field does not fit its header slot.
func AppendPacket(dst []byte, p *Packet) ([]byte, error) {
	if len(p.Key) > MaxKeyLength {
		return dst, &EncodeError{Message: "key exceeds maximum length"}
	}
	if len(p.Extras) > MaxExtrasLength {
		return dst, &EncodeError{Message: "extras exceed maximum length"}
	}
	if p.BodyLen() > MaxBodyLength {
		return dst, &EncodeError{Message: "body exceeds maximum length"}
	}

	var hdr [HeaderLen]byte
	hdr[0] = byte(p.Magic)
	hdr[1] = byte(p.Opcode)
	binary.BigEndian.PutUint16(hdr[2:4], uint16(len(p.Key)))
	hdr[4] = uint8(len(p.Extras))
	hdr[5] = p.Datatype
	if p.Magic == MagicResponse {
		binary.BigEndian.PutUint16(hdr[6:8], uint16(p.Status))
	} else {
		binary.BigEndian.PutUint16(hdr[6:8], p.VBucket)
	}
	binary.BigEndian.PutUint32(hdr[8:12], uint32(p.BodyLen()))
	binary.BigEndian.PutUint32(hdr[12:16], p.Opaque)
	binary.BigEndian.PutUint64(hdr[16:24], p.Cas)

	dst = append(dst, hdr[:]...)
	dst = append(dst, p.Extras...)
	dst = append(dst, p.Key...)
	dst = append(dst, p.Value...)
	return dst, nil
}

// WritePacket encodes p and writes it to w in a single Write call.
func WritePacket(w io.Writer, p *Packet) error {
	buf, err := AppendPacket(make([]byte, 0, p.Size()), p)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}
