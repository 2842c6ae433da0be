package mcconn

import (
	"strconv"
	"strings"
)

// DocumentInfo identifies a stored item.
type DocumentInfo struct {
	ID    string
	Flags uint32
	// Expiration is a server relative time expression in seconds.
	// Empty means the document never expires.
	Expiration  string
	Compression Compression
	Datatype    Datatype
	// Cas is the version of the document. Zero means no version constraint
	// when writing.
	Cas uint64
}

// expiration parses Expiration into the numeric wire value.
func (i DocumentInfo) expiration() (uint32, error) {
	s := strings.TrimSpace(i.Expiration)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, invalidArgument("expiration", err)
	}
	return uint32(v), nil
}

// Document is a DocumentInfo paired with its value.
type Document struct {
	Info  DocumentInfo
	Value []byte
}

// MutationInfo is the result of a successful write.
type MutationInfo struct {
	Cas uint64
	// Size is the size of the stored value, 0 when the protocol does not
	// report it.
	Size uint64
	// Seqno and VBucketUUID are only set when the server reports mutation
	// sequence numbers.
	Seqno       uint64
	VBucketUUID uint64
}
