package mcconn

import (
	"fmt"
	"strings"
)

// Protocol is the wire format spoken by a connection.
type Protocol uint8

const (
	ProtocolMemcached Protocol = iota
	ProtocolGreenstack
)

func (p Protocol) String() string {
	switch p {
	case ProtocolMemcached:
		return "Memcached"
	case ProtocolGreenstack:
		return "Greenstack"
	default:
		return fmt.Sprintf("Protocol(%d)", uint8(p))
	}
}

// ParseProtocol accepts the protocol names used in memcached port files.
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToLower(s) {
	case "memcached", "memcache", "binary", "":
		return ProtocolMemcached, nil
	case "greenstack":
		return ProtocolGreenstack, nil
	default:
		return 0, fmt.Errorf("%w: unknown protocol %q", ErrInvalidArgument, s)
	}
}

// Family is the address family of a connection. FamilyAny lets the resolver
// pick and acts as a wildcard in registry lookups.
type Family uint8

const (
	FamilyAny Family = iota
	FamilyIPv4
	FamilyIPv6
)

func (f Family) String() string {
	switch f {
	case FamilyIPv4:
		return "AF_INET"
	case FamilyIPv6:
		return "AF_INET6"
	default:
		return "AF_UNSPEC"
	}
}

func (f Family) network() string {
	switch f {
	case FamilyIPv4:
		return "tcp4"
	case FamilyIPv6:
		return "tcp6"
	default:
		return "tcp"
	}
}

func (f Family) loopback() string {
	if f == FamilyIPv6 {
		return "::1"
	}
	return "127.0.0.1"
}

func ParseFamily(s string) (Family, error) {
	switch strings.ToUpper(s) {
	case "AF_INET", "IPV4", "INET", "4":
		return FamilyIPv4, nil
	case "AF_INET6", "IPV6", "INET6", "6":
		return FamilyIPv6, nil
	case "AF_UNSPEC", "ANY", "":
		return FamilyAny, nil
	default:
		return 0, fmt.Errorf("%w: unknown address family %q", ErrInvalidArgument, s)
	}
}

// BucketType selects the engine backing a bucket.
type BucketType uint8

const (
	BucketTypeInvalid BucketType = iota
	BucketTypeNoBucket
	BucketTypeMemcached
	BucketTypeCouchbase
	BucketTypeEWouldBlock
)

var bucketTypeNames = []string{"invalid", "nobucket", "memcached", "couchbase", "ewouldblock"}

func (t BucketType) String() string {
	if int(t) < len(bucketTypeNames) {
		return bucketTypeNames[t]
	}
	return fmt.Sprintf("BucketType(%d)", uint8(t))
}

func ParseBucketType(s string) (BucketType, error) {
	for i, name := range bucketTypeNames {
		if strings.EqualFold(s, name) && BucketType(i) != BucketTypeInvalid {
			return BucketType(i), nil
		}
	}
	return BucketTypeInvalid, fmt.Errorf("%w: unknown bucket type %q", ErrInvalidArgument, s)
}

// engineModule returns the shared object the binary protocol uses to create
// a bucket of this type.
func (t BucketType) engineModule() (string, bool) {
	switch t {
	case BucketTypeMemcached:
		return "default_engine.so", true
	case BucketTypeCouchbase:
		return "ep.so", true
	case BucketTypeEWouldBlock:
		return "ewouldblock_engine.so\x00default_engine.so", true
	default:
		return "", false
	}
}

// MutationType selects the store semantics of Mutate.
type MutationType uint8

const (
	MutationAdd MutationType = iota
	MutationSet
	MutationReplace
	MutationAppend
	MutationPrepend
	MutationPatch
)

var mutationNames = []string{"add", "set", "replace", "append", "prepend", "patch"}

func (t MutationType) String() string {
	if int(t) < len(mutationNames) {
		return mutationNames[t]
	}
	return fmt.Sprintf("MutationType(%d)", uint8(t))
}

func ParseMutationType(s string) (MutationType, error) {
	for i, name := range mutationNames {
		if strings.EqualFold(s, name) {
			return MutationType(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown mutation type %q", ErrInvalidArgument, s)
}

// Compression of a document value.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionSnappy
	CompressionGzip
)

// Datatype of a document value.
type Datatype uint8

const (
	DatatypeRaw Datatype = iota
	DatatypeJSON
)

// EWBEngineMode selects how the ewouldblock test engine injects errors.
type EWBEngineMode uint32

const (
	EWBModeNextN EWBEngineMode = iota // inject on the next N calls
	EWBModeRandom                     // inject with a probability of value percent
	EWBModeFirst                      // inject on the first call of each operation
	EWBModeSequence                   // inject following the bit sequence in value
	EWBModeNoNotify                   // return EWOULDBLOCK without notifying
	EWBModeCasMismatch                // force a cas mismatch on the next N stores
	EWBModeIncrementClusterMapRevno
)

// EngineErrorCode is the engine status the ewouldblock engine returns when
// it injects an error.
type EngineErrorCode uint32

const (
	EngineSuccess      EngineErrorCode = 0x00
	EngineKeyENoEnt    EngineErrorCode = 0x01
	EngineKeyEExists   EngineErrorCode = 0x02
	EngineENoMem       EngineErrorCode = 0x03
	EngineNotStored    EngineErrorCode = 0x04
	EngineEInval       EngineErrorCode = 0x05
	EngineENotSup      EngineErrorCode = 0x06
	EngineEWouldBlock  EngineErrorCode = 0x07
	EngineE2Big        EngineErrorCode = 0x08
	EngineDisconnect   EngineErrorCode = 0x0a
	EngineEAccess      EngineErrorCode = 0x0b
	EngineNotMyVBucket EngineErrorCode = 0x0c
	EngineTmpFail      EngineErrorCode = 0x0d
	EngineERange       EngineErrorCode = 0x0e
	EngineRollback     EngineErrorCode = 0x0f
	EngineNoBucket     EngineErrorCode = 0x10
	EngineEBusy        EngineErrorCode = 0x11
)
