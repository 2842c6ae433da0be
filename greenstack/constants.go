package greenstack

import "fmt"

// Frame geometry.
const (
	LengthSize     = 4
	MinMessageSize = 7 // opaque + opcode + flags
	MaxFrameSize   = 20 * 1024 * 1024
)

// Opcode identifies a Greenstack command.
type Opcode uint16

const (
	OpHello             Opcode = 0x0001
	OpSaslAuth          Opcode = 0x0002
	OpNoop              Opcode = 0x0003
	OpCreateBucket      Opcode = 0x0100
	OpDeleteBucket      Opcode = 0x0101
	OpListBuckets       Opcode = 0x0102
	OpSelectBucket      Opcode = 0x0103
	OpGet               Opcode = 0x0200
	OpMutation          Opcode = 0x0201
	OpStats             Opcode = 0x0300
	OpAuditConfigReload Opcode = 0x0400
	OpDcpOpen           Opcode = 0x0500
	OpDcpStreamReq      Opcode = 0x0501
	OpEwouldblockCtl    Opcode = 0xff00
)

var opcodeNames = map[Opcode]string{
	OpHello:             "Hello",
	OpSaslAuth:          "SaslAuth",
	OpNoop:              "Noop",
	OpCreateBucket:      "CreateBucket",
	OpDeleteBucket:      "DeleteBucket",
	OpListBuckets:       "ListBuckets",
	OpSelectBucket:      "SelectBucket",
	OpGet:               "Get",
	OpMutation:          "Mutation",
	OpStats:             "Stats",
	OpAuditConfigReload: "AuditConfigReload",
	OpDcpOpen:           "DcpOpen",
	OpDcpStreamReq:      "DcpStreamReq",
	OpEwouldblockCtl:    "EwouldblockCtl",
}

func (o Opcode) String() string {
	if name, ok := opcodeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(0x%04x)", uint16(o))
}

// Status is the result code of a response frame.
type Status uint16

const (
	StatusSuccess                Status = 0x0000
	StatusInvalidArguments       Status = 0x0001
	StatusInternalError          Status = 0x0002
	StatusAuthenticationError    Status = 0x0003
	StatusAuthenticationStale    Status = 0x0004
	StatusNotInitialized         Status = 0x0005
	StatusInvalidState           Status = 0x0006
	StatusNoAccess               Status = 0x0007
	StatusNotFound               Status = 0x0008
	StatusUnknownCommand         Status = 0x0009
	StatusNotMyVBucket           Status = 0x000a
	StatusNoBucket               Status = 0x000b
	StatusAlreadyExists          Status = 0x000c
	StatusNotStored              Status = 0x000d
	StatusCasMismatch            Status = 0x000e
	StatusObjectTooBig           Status = 0x000f
	StatusTmpFailure             Status = 0x0010
	StatusTooBusy                Status = 0x0011
	StatusAuthenticationContinue Status = 0x0012
	StatusNotSupported           Status = 0x0013
)

var statusText = map[Status]string{
	StatusSuccess:                "Success",
	StatusInvalidArguments:       "Invalid arguments",
	StatusInternalError:          "Internal error",
	StatusAuthenticationError:    "Authentication error",
	StatusAuthenticationStale:    "Authentication stale",
	StatusNotInitialized:         "Not initialized",
	StatusInvalidState:           "Invalid state",
	StatusNoAccess:               "No access",
	StatusNotFound:               "Not found",
	StatusUnknownCommand:         "Unknown command",
	StatusNotMyVBucket:           "Not my vbucket",
	StatusNoBucket:               "No bucket",
	StatusAlreadyExists:          "Already exists",
	StatusNotStored:              "Not stored",
	StatusCasMismatch:            "Cas mismatch",
	StatusObjectTooBig:           "Object too big",
	StatusTmpFailure:             "Temporary failure",
	StatusTooBusy:                "Too busy",
	StatusAuthenticationContinue: "Authentication continue",
	StatusNotSupported:           "Not supported",
}

// String returns the human readable status text, for diagnostics.
func (s Status) String() string {
	if text, ok := statusText[s]; ok {
		return text
	}
	return fmt.Sprintf("Unknown status (0x%04x)", uint16(s))
}

// Flags is the per-frame flag byte.
type Flags uint8

const (
	FlagResponse   Flags = 0x01
	FlagFlexHeader Flags = 0x02
	FlagFence      Flags = 0x04
	FlagMore       Flags = 0x08
	FlagQuiet      Flags = 0x10
)

// Has reports whether all bits of f2 are set.
func (f Flags) Has(f2 Flags) bool {
	return f&f2 == f2
}

// FlexKey identifies an entry of the flex header.
type FlexKey uint16

const (
	FlexVBucketID FlexKey = 0x0000
	FlexTimeout   FlexKey = 0x0001
)

// Field identifies a payload field.
type Field uint16

const (
	FieldKey Field = iota + 1
	FieldValue
	FieldFlags
	FieldExpiration
	FieldCompression
	FieldDatatype
	FieldCas
	FieldMutationType
	FieldSeqno
	FieldVBucketUUID
	FieldSize
	FieldName
	FieldConfig
	FieldBucketType
	FieldMechanism
	FieldChallenge
	FieldUserAgent
	FieldUserAgentVersion
	FieldComment
	FieldServerName
	FieldServerVersion
	FieldSaslMechanisms
	FieldSubcommand
	FieldStatKey
	FieldStatValue
	FieldMode
	FieldErrorCode
	FieldNumber
	FieldStartSeqno
	FieldEndSeqno
	FieldSnapStartSeqno
	FieldSnapEndSeqno
	FieldErrorMessage
)

// MutationType selects the store semantics of OpMutation.
type MutationType uint8

const (
	MutationAdd MutationType = iota
	MutationSet
	MutationReplace
	MutationAppend
	MutationPrepend
	MutationPatch
)

// BucketType is the wire code of a bucket kind.
type BucketType uint8

const (
	BucketInvalid BucketType = iota
	BucketNoBucket
	BucketMemcached
	BucketCouchbase
	BucketEWouldBlock
)

// Compression is the wire code of a document compression.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionSnappy
	CompressionGzip
)

// Datatype is the wire code of a document datatype.
type Datatype uint8

const (
	DatatypeRaw Datatype = iota
	DatatypeJSON
)
