package mcconn

import (
	"github.com/zeebo/xxh3"

	"github.com/pior/mcconn/internal"
)

// DefaultNumVBuckets is the vbucket count of a default bucket.
const DefaultNumVBuckets = 1024

// VBucketForKey maps a document id to a vbucket in [0, numVBuckets).
//
// The mapping is xxh3 followed by jump consistent hashing; it is stable for
// a given vbucket count.
func VBucketForKey(id string, numVBuckets int) uint16 {
	if numVBuckets <= 1 {
		return 0
	}
	if numVBuckets > 1<<16 {
		numVBuckets = 1 << 16
	}
	return uint16(internal.JumpHash(xxh3.HashString(id), numVBuckets))
}
