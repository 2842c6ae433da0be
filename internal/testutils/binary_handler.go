package testutils

import (
	"bufio"
	"net"

	"github.com/pior/mcconn/binary"
)

var binaryStatus = map[Status]binary.Status{
	StatusOK:             binary.StatusSuccess,
	StatusNotFound:       binary.StatusKeyENoEnt,
	StatusExists:         binary.StatusKeyEExists,
	StatusNotStored:      binary.StatusNotStored,
	StatusCasMismatch:    binary.StatusKeyEExists,
	StatusInvalid:        binary.StatusEInval,
	StatusNoAccess:       binary.StatusEAccess,
	StatusNotMyVBucket:   binary.StatusNotMyVbucket,
	StatusNoBucket:       binary.StatusNoBucket,
	StatusAuthError:      binary.StatusAuthError,
	StatusAuthContinue:   binary.StatusAuthContinue,
	StatusUnknownCommand: binary.StatusUnknownCommand,
	StatusTmpFail:        binary.StatusETmpFail,
	StatusNotSupported:   binary.StatusNotSupported,
}

var binaryMutations = map[binary.Opcode]Mutation{
	binary.OpAdd:     MutationAdd,
	binary.OpSet:     MutationSet,
	binary.OpReplace: MutationReplace,
	binary.OpAppend:  MutationAppend,
	binary.OpPrepend: MutationPrepend,
}

func serveBinary(conn net.Conn, sess *session) {
	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)

	for {
		req, err := binary.ReadPacket(r)
		if err != nil {
			return
		}
		if req.IsResponse() {
			return
		}
		for _, resp := range handleBinary(sess, req) {
			if err := binary.WritePacket(w, resp); err != nil {
				return
			}
		}
		if err := w.Flush(); err != nil {
			return
		}
		if req.Opcode == binary.OpQuit {
			return
		}
	}
}

func reply(req *binary.Packet, st Status) *binary.Packet {
	return binary.NewResponse(req, binaryStatus[st])
}

// handleBinary executes one request and returns its responses.
func handleBinary(sess *session, req *binary.Packet) []*binary.Packet {
	e := sess.engine

	switch req.Opcode {
	case binary.OpNoop, binary.OpQuit:
		return []*binary.Packet{reply(req, StatusOK)}

	case binary.OpHello:
		resp := reply(req, StatusOK)
		var enabled []binary.Feature
		for _, f := range binary.DecodeHelloValue(req.Value) {
			switch f {
			case binary.FeatureMutationSeqno:
				sess.mutationSeqno = true
				enabled = append(enabled, f)
			case binary.FeatureTCPNoDelay, binary.FeatureDatatype:
				enabled = append(enabled, f)
			}
		}
		resp.Value = binary.HelloValue(enabled)
		return []*binary.Packet{resp}

	case binary.OpSaslListMechs:
		resp := reply(req, StatusOK)
		resp.Value = []byte(Mechanisms)
		return []*binary.Packet{resp}

	case binary.OpSaslAuth, binary.OpSaslStep:
		var data []byte
		var st Status
		if req.Opcode == binary.OpSaslAuth {
			data, st = sess.authStart(string(req.Key), req.Value)
		} else {
			data, st = sess.authStep(req.Value)
		}
		resp := reply(req, st)
		resp.Value = data
		return []*binary.Packet{resp}

	case binary.OpCreateBucket:
		if st := sess.admin(); st != StatusOK {
			return []*binary.Packet{reply(req, st)}
		}
		module, config := binary.SplitCreateBucketValue(req.Value)
		return []*binary.Packet{reply(req, e.CreateBucket(string(req.Key), config, bucketKind(module)))}

	case binary.OpDeleteBucket:
		if st := sess.admin(); st != StatusOK {
			return []*binary.Packet{reply(req, st)}
		}
		st := e.DeleteBucket(string(req.Key))
		if st == StatusOK && sess.bucket == string(req.Key) {
			sess.bucket = ""
		}
		return []*binary.Packet{reply(req, st)}

	case binary.OpSelectBucket:
		return []*binary.Packet{reply(req, sess.selectBucket(string(req.Key)))}

	case binary.OpListBuckets:
		if !sess.authenticated {
			return []*binary.Packet{reply(req, StatusNoAccess)}
		}
		resp := reply(req, StatusOK)
		for i, name := range e.ListBuckets() {
			if i > 0 {
				resp.Value = append(resp.Value, ' ')
			}
			resp.Value = append(resp.Value, name...)
		}
		return []*binary.Packet{resp}

	case binary.OpGet, binary.OpGetK:
		item, st := e.Get(sess.bucket, string(req.Key), req.VBucket)
		resp := reply(req, st)
		if st != StatusOK {
			if st == StatusNotFound {
				resp.Value = []byte("Not found")
			}
			return []*binary.Packet{resp}
		}
		resp.Extras = binary.GetResponseExtras(item.Flags)
		resp.Value = item.Value
		resp.Cas = item.Cas
		resp.Datatype = item.Datatype
		if req.Opcode == binary.OpGetK {
			resp.Key = req.Key
		}
		return []*binary.Packet{resp}

	case binary.OpAdd, binary.OpSet, binary.OpReplace, binary.OpAppend, binary.OpPrepend:
		item := Item{Value: req.Value, Cas: req.Cas, Datatype: req.Datatype}
		if req.Opcode != binary.OpAppend && req.Opcode != binary.OpPrepend {
			var ok bool
			item.Flags, item.Expiration, ok = binary.DecodeMutationExtras(req.Extras)
			if !ok {
				return []*binary.Packet{reply(req, StatusInvalid)}
			}
		}
		res, st := e.Store(sess.bucket, string(req.Key), req.VBucket, binaryMutations[req.Opcode], item)
		resp := reply(req, st)
		if st == StatusOK {
			resp.Cas = res.Cas
			if sess.mutationSeqno {
				resp.Extras = binary.MutationSeqnoExtras(res.VBucketUUID, res.Seqno)
			}
		}
		return []*binary.Packet{resp}

	case binary.OpDelete:
		return []*binary.Packet{reply(req, e.Delete(sess.bucket, string(req.Key), req.VBucket))}

	case binary.OpStat:
		stats, st := e.Stats(string(req.Key), sess.bucket)
		if st != StatusOK {
			return []*binary.Packet{reply(req, st)}
		}
		resps := make([]*binary.Packet, 0, len(stats)+1)
		for _, s := range stats {
			resp := reply(req, StatusOK)
			resp.Key = []byte(s.Key)
			resp.Value = []byte(s.Value)
			resps = append(resps, resp)
		}
		return append(resps, reply(req, StatusOK))

	case binary.OpIoctlGet:
		value, st := e.IoctlGet(string(req.Key))
		resp := reply(req, st)
		resp.Value = []byte(value)
		return []*binary.Packet{resp}

	case binary.OpIoctlSet:
		return []*binary.Packet{reply(req, e.IoctlSet(string(req.Key), string(req.Value)))}

	case binary.OpAuditConfigReload:
		e.reloadAudit()
		return []*binary.Packet{reply(req, StatusOK)}

	case binary.OpEwouldblockCtl:
		mode, value, code, ok := binary.DecodeEwouldblockExtras(req.Extras)
		if !ok {
			return []*binary.Packet{reply(req, StatusInvalid)}
		}
		return []*binary.Packet{reply(req, e.ConfigureEWB(sess.bucket, mode, value, code))}

	case binary.OpDcpOpen, binary.OpDcpStreamReq:
		return []*binary.Packet{reply(req, StatusOK)}

	default:
		return []*binary.Packet{reply(req, StatusUnknownCommand)}
	}
}

func bucketKind(module string) uint8 {
	switch module {
	case "default_engine.so":
		return BucketMemcached
	case "ep.so":
		return BucketCouchbase
	case "ewouldblock_engine.so":
		return BucketEWouldBlock
	default:
		return BucketInvalid
	}
}
