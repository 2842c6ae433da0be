package testutils

import (
	"bufio"
	"net"

	"github.com/pior/mcconn/greenstack"
)

var greenstackStatus = map[Status]greenstack.Status{
	StatusOK:             greenstack.StatusSuccess,
	StatusNotFound:       greenstack.StatusNotFound,
	StatusExists:         greenstack.StatusAlreadyExists,
	StatusNotStored:      greenstack.StatusNotStored,
	StatusCasMismatch:    greenstack.StatusCasMismatch,
	StatusInvalid:        greenstack.StatusInvalidArguments,
	StatusNoAccess:       greenstack.StatusNoAccess,
	StatusNotMyVBucket:   greenstack.StatusNotMyVBucket,
	StatusNoBucket:       greenstack.StatusNoBucket,
	StatusAuthError:      greenstack.StatusAuthenticationError,
	StatusAuthContinue:   greenstack.StatusAuthenticationContinue,
	StatusUnknownCommand: greenstack.StatusUnknownCommand,
	StatusTmpFail:        greenstack.StatusTmpFailure,
	StatusNotSupported:   greenstack.StatusNotSupported,
}

func serveGreenstack(conn net.Conn, sess *session) {
	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)

	for {
		req, err := greenstack.ReadFrame(r)
		if err != nil {
			return
		}
		if req.IsResponse() {
			return
		}
		for _, resp := range handleGreenstack(sess, req) {
			if err := greenstack.WriteFrame(w, resp); err != nil {
				return
			}
		}
		if err := w.Flush(); err != nil {
			return
		}
	}
}

func greenstackReply(req *greenstack.Message, st Status) *greenstack.Message {
	resp := greenstack.NewResponse(req, greenstackStatus[st])
	if st == StatusNotFound {
		resp.Payload.AddString(greenstack.FieldErrorMessage, "Not found")
	}
	return resp
}

func one(req *greenstack.Message, st Status) []*greenstack.Message {
	return []*greenstack.Message{greenstackReply(req, st)}
}

// handleGreenstack executes one request and returns its responses.
func handleGreenstack(sess *session, req *greenstack.Message) []*greenstack.Message {
	e := sess.engine
	p := req.Payload
	vbucket, _ := req.FlexHeader.VBucketID()

	switch req.Opcode {
	case greenstack.OpNoop:
		return one(req, StatusOK)

	case greenstack.OpHello:
		resp := greenstackReply(req, StatusOK)
		resp.Payload.AddString(greenstack.FieldServerName, "mcconn-testutils")
		resp.Payload.AddString(greenstack.FieldServerVersion, "1.0.0")
		resp.Payload.AddString(greenstack.FieldSaslMechanisms, Mechanisms)
		return []*greenstack.Message{resp}

	case greenstack.OpSaslAuth:
		mech, _ := p.GetString(greenstack.FieldMechanism)
		challenge, _ := p.Get(greenstack.FieldChallenge)
		var data []byte
		var st Status
		if sess.scram != nil {
			data, st = sess.authStep(challenge)
		} else {
			data, st = sess.authStart(mech, challenge)
		}
		resp := greenstackReply(req, st)
		if len(data) > 0 {
			resp.Payload.AddBytes(greenstack.FieldChallenge, data)
		}
		return []*greenstack.Message{resp}

	case greenstack.OpCreateBucket:
		if st := sess.admin(); st != StatusOK {
			return one(req, st)
		}
		name, _ := p.GetString(greenstack.FieldName)
		config, _ := p.GetString(greenstack.FieldConfig)
		kind, _ := p.GetUint8(greenstack.FieldBucketType)
		return one(req, e.CreateBucket(name, config, kind))

	case greenstack.OpDeleteBucket:
		if st := sess.admin(); st != StatusOK {
			return one(req, st)
		}
		name, _ := p.GetString(greenstack.FieldName)
		st := e.DeleteBucket(name)
		if st == StatusOK && sess.bucket == name {
			sess.bucket = ""
		}
		return one(req, st)

	case greenstack.OpSelectBucket:
		name, _ := p.GetString(greenstack.FieldName)
		return one(req, sess.selectBucket(name))

	case greenstack.OpListBuckets:
		if !sess.authenticated {
			return one(req, StatusNoAccess)
		}
		resp := greenstackReply(req, StatusOK)
		for _, name := range e.ListBuckets() {
			resp.Payload.AddString(greenstack.FieldName, name)
		}
		return []*greenstack.Message{resp}

	case greenstack.OpGet:
		id, _ := p.GetString(greenstack.FieldKey)
		item, st := e.Get(sess.bucket, id, vbucket)
		resp := greenstackReply(req, st)
		if st == StatusOK {
			resp.Payload.AddString(greenstack.FieldKey, id)
			resp.Payload.AddBytes(greenstack.FieldValue, item.Value)
			resp.Payload.AddUint32(greenstack.FieldFlags, item.Flags)
			resp.Payload.AddUint32(greenstack.FieldExpiration, item.Expiration)
			resp.Payload.AddUint8(greenstack.FieldDatatype, item.Datatype)
			resp.Payload.AddUint8(greenstack.FieldCompression, item.Compression)
			resp.Payload.AddUint64(greenstack.FieldCas, item.Cas)
		}
		return []*greenstack.Message{resp}

	case greenstack.OpMutation:
		id, _ := p.GetString(greenstack.FieldKey)
		value, _ := p.Get(greenstack.FieldValue)
		kind, ok := p.GetUint8(greenstack.FieldMutationType)
		if !ok {
			return one(req, StatusInvalid)
		}
		item := Item{Value: value}
		item.Flags, _ = p.GetUint32(greenstack.FieldFlags)
		item.Expiration, _ = p.GetUint32(greenstack.FieldExpiration)
		item.Datatype, _ = p.GetUint8(greenstack.FieldDatatype)
		item.Compression, _ = p.GetUint8(greenstack.FieldCompression)
		item.Cas, _ = p.GetUint64(greenstack.FieldCas)

		res, st := e.Store(sess.bucket, id, vbucket, Mutation(kind), item)
		resp := greenstackReply(req, st)
		if st == StatusOK {
			resp.Payload.AddUint64(greenstack.FieldCas, res.Cas)
			resp.Payload.AddUint64(greenstack.FieldSize, res.Size)
			resp.Payload.AddUint64(greenstack.FieldSeqno, res.Seqno)
			resp.Payload.AddUint64(greenstack.FieldVBucketUUID, res.VBucketUUID)
		}
		return []*greenstack.Message{resp}

	case greenstack.OpStats:
		group, _ := p.GetString(greenstack.FieldSubcommand)
		stats, st := e.Stats(group, sess.bucket)
		if st != StatusOK {
			return one(req, st)
		}
		resps := make([]*greenstack.Message, 0, len(stats)+1)
		for _, s := range stats {
			resp := greenstackReply(req, StatusOK)
			resp.Flags |= greenstack.FlagMore
			resp.Payload.AddString(greenstack.FieldStatKey, s.Key)
			resp.Payload.AddString(greenstack.FieldStatValue, s.Value)
			resps = append(resps, resp)
		}
		return append(resps, greenstackReply(req, StatusOK))

	case greenstack.OpAuditConfigReload:
		e.reloadAudit()
		return one(req, StatusOK)

	case greenstack.OpEwouldblockCtl:
		mode, _ := p.GetUint32(greenstack.FieldMode)
		code, _ := p.GetUint32(greenstack.FieldErrorCode)
		value, _ := p.GetUint32(greenstack.FieldNumber)
		return one(req, e.ConfigureEWB(sess.bucket, mode, value, code))

	case greenstack.OpDcpOpen, greenstack.OpDcpStreamReq:
		return one(req, StatusOK)

	default:
		return one(req, StatusUnknownCommand)
	}
}
