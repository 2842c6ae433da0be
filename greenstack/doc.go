// Package greenstack implements the wire codec of Greenstack, a
// self-describing framed protocol spoken on the same ports as the memcached
// binary protocol.
//
// # Frame layout
//
// All integers are big-endian.
//
//	uint32 length          number of bytes following this field
//	uint32 opaque          echoed back by the server
//	uint16 opcode
//	uint8  flags           FlagResponse, FlagFlexHeader, FlagFence, FlagMore, FlagQuiet
//	uint16 status          only present when FlagResponse is set
//	uint32 flex length     only present when FlagFlexHeader is set
//	...    flex header     entries of uint16 key, uint16 length, value
//	...    payload         Fields until the end of the frame
//
// The payload is a sequence of tagged fields (uint16 tag, uint32 length,
// value) so that every frame can be interpreted without knowing the opcode in
// advance. Fields are built and read through the Fields type:
//
//	var p greenstack.Fields
//	p.AddString(greenstack.FieldKey, "mykey")
//	p.AddUint64(greenstack.FieldCas, 42)
//	msg := &greenstack.Message{Opcode: greenstack.OpGet, Payload: p}
//	frame, err := greenstack.AppendFrame(nil, msg)
//
// Multi-reply commands (stats) set FlagMore on every reply but the last one.
package greenstack
