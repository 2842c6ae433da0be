package greenstack

import (
	"encoding/binary"
)

const fieldHeaderLen = 6 // uint16 tag + uint32 length

// Fields is the serialized payload of a message: a sequence of tagged values.
//
// The zero value is ready to use. Lookups are linear scans, payloads are
// small.
type Fields []byte

func (f Fields) IsEmpty() bool {
	return len(f) == 0
}

func (f *Fields) Reset() {
	*f = (*f)[:0]
}

func (f *Fields) AddBytes(tag Field, value []byte) {
	var hdr [fieldHeaderLen]byte
	binary.BigEndian.PutUint16(hdr[0:2], uint16(tag))
	binary.BigEndian.PutUint32(hdr[2:6], uint32(len(value)))
	*f = append(*f, hdr[:]...)
	*f = append(*f, value...)
}

func (f *Fields) AddString(tag Field, value string) {
	f.AddBytes(tag, []byte(value))
}

func (f *Fields) AddUint8(tag Field, value uint8) {
	f.AddBytes(tag, []byte{value})
}

func (f *Fields) AddUint16(tag Field, value uint16) {
	f.AddBytes(tag, binary.BigEndian.AppendUint16(nil, value))
}

func (f *Fields) AddUint32(tag Field, value uint32) {
	f.AddBytes(tag, binary.BigEndian.AppendUint32(nil, value))
}

func (f *Fields) AddUint64(tag Field, value uint64) {
	f.AddBytes(tag, binary.BigEndian.AppendUint64(nil, value))
}

// Get returns the value of the first field with the given tag.
func (f Fields) Get(tag Field) ([]byte, bool) {
	var found []byte
	ok := false
	f.each(func(t Field, v []byte) bool {
		if t == tag {
			found, ok = v, true
			return false
		}
		return true
	})
	return found, ok
}

// All returns the values of every field with the given tag, in wire order.
func (f Fields) All(tag Field) [][]byte {
	var values [][]byte
	f.each(func(t Field, v []byte) bool {
		if t == tag {
			values = append(values, v)
		}
		return true
	})
	return values
}

func (f Fields) Has(tag Field) bool {
	_, ok := f.Get(tag)
	return ok
}

func (f Fields) GetString(tag Field) (string, bool) {
	v, ok := f.Get(tag)
	return string(v), ok
}

func (f Fields) GetUint8(tag Field) (uint8, bool) {
	v, ok := f.Get(tag)
	if !ok || len(v) != 1 {
		return 0, false
	}
	return v[0], true
}

func (f Fields) GetUint16(tag Field) (uint16, bool) {
	v, ok := f.Get(tag)
	if !ok || len(v) != 2 {
		return 0, false
	}
	return binary.BigEndian.Uint16(v), true
}

func (f Fields) GetUint32(tag Field) (uint32, bool) {
	v, ok := f.Get(tag)
	if !ok || len(v) != 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(v), true
}

func (f Fields) GetUint64(tag Field) (uint64, bool) {
	v, ok := f.Get(tag)
	if !ok || len(v) != 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(v), true
}

// Validate checks that the payload is a well formed field sequence.
func (f Fields) Validate() error {
	for i := 0; i < len(f); {
		if len(f)-i < fieldHeaderLen {
			return &ParseError{Message: "truncated field header"}
		}
		n := binary.BigEndian.Uint32(f[i+2 : i+6])
		i += fieldHeaderLen
		if uint64(n) > uint64(len(f)-i) {
			return &ParseError{Message: "field value exceeds payload"}
		}
		i += int(n)
	}
	return nil
}

// each walks the fields until fn returns false. Malformed trailing bytes are
// ignored; DecodeFrame validates payloads up front.
func (f Fields) each(fn func(tag Field, value []byte) bool) {
	for i := 0; len(f)-i >= fieldHeaderLen; {
		tag := Field(binary.BigEndian.Uint16(f[i : i+2]))
		n := binary.BigEndian.Uint32(f[i+2 : i+6])
		i += fieldHeaderLen
		if uint64(n) > uint64(len(f)-i) {
			return
		}
		if !fn(tag, f[i:i+int(n)]) {
			return
		}
		i += int(n)
	}
}
