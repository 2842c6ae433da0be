package binary

import (
	"bytes"
	"encoding/binary"
)

// Fixed extras sizes.
const (
	MutationExtrasLen      = 8
	MutationSeqnoExtrasLen = 16
	GetResponseExtrasLen   = 4
	DcpOpenExtrasLen       = 8
	DcpStreamReqExtrasLen  = 48
	EwouldblockExtrasLen   = 12
)

// MutationExtras builds the extras of SET, ADD and REPLACE: flags followed by
// the expiration time.
func MutationExtras(flags, expiration uint32) []byte {
	b := make([]byte, MutationExtrasLen)
	binary.BigEndian.PutUint32(b[0:4], flags)
	binary.BigEndian.PutUint32(b[4:8], expiration)
	return b
}

// DecodeMutationExtras is the server side counterpart of MutationExtras.
func DecodeMutationExtras(b []byte) (flags, expiration uint32, ok bool) {
	if len(b) != MutationExtrasLen {
		return 0, 0, false
	}
	return binary.BigEndian.Uint32(b[0:4]), binary.BigEndian.Uint32(b[4:8]), true
}

// MutationSeqnoExtras builds the extras of a mutation response when the
// MUTATION_SEQNO feature is enabled: vbucket uuid followed by the seqno.
func MutationSeqnoExtras(vbucketUUID, seqno uint64) []byte {
	b := make([]byte, MutationSeqnoExtrasLen)
	binary.BigEndian.PutUint64(b[0:8], vbucketUUID)
	binary.BigEndian.PutUint64(b[8:16], seqno)
	return b
}

// DecodeMutationSeqnoExtras parses mutation response extras.
// ok is false when the server did not send sequence numbers.
func DecodeMutationSeqnoExtras(b []byte) (vbucketUUID, seqno uint64, ok bool) {
	if len(b) != MutationSeqnoExtrasLen {
		return 0, 0, false
	}
	return binary.BigEndian.Uint64(b[0:8]), binary.BigEndian.Uint64(b[8:16]), true
}

// GetResponseExtras builds the extras of a GET response.
func GetResponseExtras(flags uint32) []byte {
	b := make([]byte, GetResponseExtrasLen)
	binary.BigEndian.PutUint32(b, flags)
	return b
}

// DecodeGetResponseExtras returns the item flags of a GET response.
func DecodeGetResponseExtras(b []byte) (uint32, bool) {
	if len(b) != GetResponseExtrasLen {
		return 0, false
	}
	return binary.BigEndian.Uint32(b), true
}

// HelloValue encodes the list of requested features.
func HelloValue(features []Feature) []byte {
	b := make([]byte, 2*len(features))
	for i, f := range features {
		binary.BigEndian.PutUint16(b[2*i:], uint16(f))
	}
	return b
}

// DecodeHelloValue parses a list of features. A trailing odd byte is ignored.
func DecodeHelloValue(b []byte) []Feature {
	features := make([]Feature, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		features = append(features, Feature(binary.BigEndian.Uint16(b[i:])))
	}
	return features
}

// DcpOpenExtras builds the extras of DCP_OPEN.
func DcpOpenExtras(seqno, flags uint32) []byte {
	b := make([]byte, DcpOpenExtrasLen)
	binary.BigEndian.PutUint32(b[0:4], seqno)
	binary.BigEndian.PutUint32(b[4:8], flags)
	return b
}

// DcpStreamRequest holds the DCP_STREAM_REQ extras.
type DcpStreamRequest struct {
	Flags          uint32
	Reserved       uint32
	StartSeqno     uint64
	EndSeqno       uint64
	VBucketUUID    uint64
	SnapStartSeqno uint64
	SnapEndSeqno   uint64
}

// Extras encodes the stream request.
func (r DcpStreamRequest) Extras() []byte {
	b := make([]byte, DcpStreamReqExtrasLen)
	binary.BigEndian.PutUint32(b[0:4], r.Flags)
	binary.BigEndian.PutUint32(b[4:8], r.Reserved)
	binary.BigEndian.PutUint64(b[8:16], r.StartSeqno)
	binary.BigEndian.PutUint64(b[16:24], r.EndSeqno)
	binary.BigEndian.PutUint64(b[24:32], r.VBucketUUID)
	binary.BigEndian.PutUint64(b[32:40], r.SnapStartSeqno)
	binary.BigEndian.PutUint64(b[40:48], r.SnapEndSeqno)
	return b
}

// DecodeDcpStreamRequest parses DCP_STREAM_REQ extras.
func DecodeDcpStreamRequest(b []byte) (DcpStreamRequest, bool) {
	if len(b) != DcpStreamReqExtrasLen {
		return DcpStreamRequest{}, false
	}
	return DcpStreamRequest{
		Flags:          binary.BigEndian.Uint32(b[0:4]),
		Reserved:       binary.BigEndian.Uint32(b[4:8]),
		StartSeqno:     binary.BigEndian.Uint64(b[8:16]),
		EndSeqno:       binary.BigEndian.Uint64(b[16:24]),
		VBucketUUID:    binary.BigEndian.Uint64(b[24:32]),
		SnapStartSeqno: binary.BigEndian.Uint64(b[32:40]),
		SnapEndSeqno:   binary.BigEndian.Uint64(b[40:48]),
	}, true
}

// EwouldblockExtras builds the body of EWOULDBLOCK_CTL.
func EwouldblockExtras(mode, value, injectError uint32) []byte {
	b := make([]byte, EwouldblockExtrasLen)
	binary.BigEndian.PutUint32(b[0:4], mode)
	binary.BigEndian.PutUint32(b[4:8], value)
	binary.BigEndian.PutUint32(b[8:12], injectError)
	return b
}

// DecodeEwouldblockExtras parses the body of EWOULDBLOCK_CTL.
func DecodeEwouldblockExtras(b []byte) (mode, value, injectError uint32, ok bool) {
	if len(b) != EwouldblockExtrasLen {
		return 0, 0, 0, false
	}
	return binary.BigEndian.Uint32(b[0:4]), binary.BigEndian.Uint32(b[4:8]), binary.BigEndian.Uint32(b[8:12]), true
}

// CreateBucketValue joins the engine module and its configuration with a NUL
// byte, the layout CREATE_BUCKET expects.
func CreateBucketValue(module, config string) []byte {
	b := make([]byte, 0, len(module)+1+len(config))
	b = append(b, module...)
	b = append(b, 0)
	b = append(b, config...)
	return b
}

// SplitCreateBucketValue is the inverse of CreateBucketValue.
func SplitCreateBucketValue(b []byte) (module, config string) {
	m, c, _ := bytes.Cut(b, []byte{0})
	return string(m), string(c)
}
