package binary

import "fmt"

// Magic identifies the packet direction.
type Magic uint8

const (
	MagicRequest  Magic = 0x80
	MagicResponse Magic = 0x81
)

// HeaderLen is the size of the fixed packet header.
const HeaderLen = 24

// Limits imposed by the header field widths.
const (
	MaxKeyLength    = 0xffff
	MaxExtrasLength = 0xff
	MaxBodyLength   = 20 * 1024 * 1024
)

// Opcode is a binary protocol command code.
type Opcode uint8

const (
	OpGet               Opcode = 0x00
	OpSet               Opcode = 0x01
	OpAdd               Opcode = 0x02
	OpReplace           Opcode = 0x03
	OpDelete            Opcode = 0x04
	OpIncrement         Opcode = 0x05
	OpDecrement         Opcode = 0x06
	OpQuit              Opcode = 0x07
	OpFlush             Opcode = 0x08
	OpGetQ              Opcode = 0x09
	OpNoop              Opcode = 0x0a
	OpVersion           Opcode = 0x0b
	OpGetK              Opcode = 0x0c
	OpGetKQ             Opcode = 0x0d
	OpAppend            Opcode = 0x0e
	OpPrepend           Opcode = 0x0f
	OpStat              Opcode = 0x10
	OpHello             Opcode = 0x1f
	OpSaslListMechs     Opcode = 0x20
	OpSaslAuth          Opcode = 0x21
	OpSaslStep          Opcode = 0x22
	OpIoctlGet          Opcode = 0x23
	OpIoctlSet          Opcode = 0x24
	OpAuditPut          Opcode = 0x27
	OpAuditConfigReload Opcode = 0x28
	OpDcpOpen           Opcode = 0x50
	OpDcpAddStream      Opcode = 0x51
	OpDcpCloseStream    Opcode = 0x52
	OpDcpStreamReq      Opcode = 0x53
	OpCreateBucket      Opcode = 0x85
	OpDeleteBucket      Opcode = 0x86
	OpListBuckets       Opcode = 0x87
	OpSelectBucket      Opcode = 0x89
	OpEwouldblockCtl    Opcode = 0xeb
)

var opcodeNames = map[Opcode]string{
	OpGet:               "GET",
	OpSet:               "SET",
	OpAdd:               "ADD",
	OpReplace:           "REPLACE",
	OpDelete:            "DELETE",
	OpIncrement:         "INCREMENT",
	OpDecrement:         "DECREMENT",
	OpQuit:              "QUIT",
	OpFlush:             "FLUSH",
	OpGetQ:              "GETQ",
	OpNoop:              "NOOP",
	OpVersion:           "VERSION",
	OpGetK:              "GETK",
	OpGetKQ:             "GETKQ",
	OpAppend:            "APPEND",
	OpPrepend:           "PREPEND",
	OpStat:              "STAT",
	OpHello:             "HELLO",
	OpSaslListMechs:     "SASL_LIST_MECHS",
	OpSaslAuth:          "SASL_AUTH",
	OpSaslStep:          "SASL_STEP",
	OpIoctlGet:          "IOCTL_GET",
	OpIoctlSet:          "IOCTL_SET",
	OpAuditPut:          "AUDIT_PUT",
	OpAuditConfigReload: "AUDIT_CONFIG_RELOAD",
	OpDcpOpen:           "DCP_OPEN",
	OpDcpAddStream:      "DCP_ADD_STREAM",
	OpDcpCloseStream:    "DCP_CLOSE_STREAM",
	OpDcpStreamReq:      "DCP_STREAM_REQ",
	OpCreateBucket:      "CREATE_BUCKET",
	OpDeleteBucket:      "DELETE_BUCKET",
	OpListBuckets:       "LIST_BUCKETS",
	OpSelectBucket:      "SELECT_BUCKET",
	OpEwouldblockCtl:    "EWOULDBLOCK_CTL",
}

func (o Opcode) String() string {
	if name, ok := opcodeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(0x%02x)", uint8(o))
}

// Status is a response status code.
type Status uint16

const (
	StatusSuccess        Status = 0x00
	StatusKeyENoEnt      Status = 0x01
	StatusKeyEExists     Status = 0x02
	StatusE2Big          Status = 0x03
	StatusEInval         Status = 0x04
	StatusNotStored      Status = 0x05
	StatusDeltaBadval    Status = 0x06
	StatusNotMyVbucket   Status = 0x07
	StatusNoBucket       Status = 0x08
	StatusAuthStale      Status = 0x1f
	StatusAuthError      Status = 0x20
	StatusAuthContinue   Status = 0x21
	StatusERange         Status = 0x22
	StatusRollback       Status = 0x23
	StatusEAccess        Status = 0x24
	StatusNotInitialized Status = 0x25
	StatusUnknownCommand Status = 0x81
	StatusENoMem         Status = 0x82
	StatusNotSupported   Status = 0x83
	StatusEInternal      Status = 0x84
	StatusEBusy          Status = 0x85
	StatusETmpFail       Status = 0x86
)

var statusText = map[Status]string{
	StatusSuccess:        "Success",
	StatusKeyENoEnt:      "Not found",
	StatusKeyEExists:     "Data exists for key",
	StatusE2Big:          "Too large",
	StatusEInval:         "Invalid arguments",
	StatusNotStored:      "Not stored",
	StatusDeltaBadval:    "Non-numeric server-side value for incr or decr",
	StatusNotMyVbucket:   "I'm not responsible for this vbucket",
	StatusNoBucket:       "Not connected to a bucket",
	StatusAuthStale:      "Authentication stale",
	StatusAuthError:      "Auth failure",
	StatusAuthContinue:   "Auth continue",
	StatusERange:         "Outside range",
	StatusRollback:       "Rollback",
	StatusEAccess:        "No access",
	StatusNotInitialized: "Node not initialized",
	StatusUnknownCommand: "Unknown command",
	StatusENoMem:         "Out of memory",
	StatusNotSupported:   "Not supported",
	StatusEInternal:      "Internal error",
	StatusEBusy:          "Server too busy",
	StatusETmpFail:       "Temporary failure",
}

// String returns the human readable text of the status. It is meant for
// diagnostics only.
func (s Status) String() string {
	if text, ok := statusText[s]; ok {
		return text
	}
	return fmt.Sprintf("Unknown status (0x%04x)", uint16(s))
}

// Datatype bits carried in the header.
const (
	DatatypeRaw    uint8 = 0x00
	DatatypeJSON   uint8 = 0x01
	DatatypeSnappy uint8 = 0x02
)

// Feature is a HELLO feature code.
type Feature uint16

const (
	FeatureDatatype      Feature = 0x01
	FeatureTLS           Feature = 0x02
	FeatureTCPNoDelay    Feature = 0x03
	FeatureMutationSeqno Feature = 0x04
	FeatureTCPDelay      Feature = 0x05
)

// DCP open flags.
const (
	DcpOpenConsumer uint32 = 0x00
	DcpOpenProducer uint32 = 0x01
	DcpOpenNotifier uint32 = 0x02
)
