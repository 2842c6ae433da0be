// Package binary provides a low-level wire codec for the memcached binary
// protocol.
//
// The package only deals with bytes: it builds request packets and parses
// response packets. It holds no connection state and makes no decision about
// what a status code means to the caller. Higher level code (see the mcconn
// package) owns sockets, sequencing and error classification.
//
// # Packet layout
//
// Every packet starts with a fixed 24 byte header followed by the body:
//
//	 0      1      2      3
//	+------+------+------+------+
//	|magic |opcode| key length  |
//	+------+------+------+------+
//	|extlen| dtype| vb / status |
//	+------+------+------+------+
//	|      total body length    |
//	+------+------+------+------+
//	|          opaque           |
//	+------+------+------+------+
//	|            cas            |
//	|                           |
//	+------+------+------+------+
//	| extras | key | value ...
//
// The body length covers extras, key and value.
//
// # Encoding and decoding
//
//	pkt := binary.NewRequest(binary.OpGet)
//	pkt.Key = []byte("mykey")
//	pkt.VBucket = 12
//	buf, err := binary.AppendPacket(nil, pkt)
//
//	resp, err := binary.ReadPacket(conn)
//	if err != nil {
//	    return err
//	}
//	if resp.Status != binary.StatusSuccess {
//	    // classify resp.Status
//	}
//
// Callers that receive a packet in two steps (header first, then the body
// length announced by the header) use DecodeHeader and DecodePacket.
//
// # Thread Safety
//
// Functions in this package are safe for concurrent use. Packet values are
// plain data and must not be shared between goroutines without
// synchronization.
package binary
