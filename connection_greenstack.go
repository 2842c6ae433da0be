package mcconn

import (
	"context"
	"fmt"
	"math"

	"github.com/pior/mcconn/greenstack"
)

// GreenstackConnection speaks the framed Greenstack protocol. Ioctl is not
// available over Greenstack.
type GreenstackConnection struct {
	*conn
}

var _ Connection = (*GreenstackConnection)(nil)

// DialGreenstack connects to desc with the Greenstack protocol, regardless
// of desc.Protocol.
func DialGreenstack(ctx context.Context, desc PortDescriptor, cfg Config) (*GreenstackConnection, error) {
	desc.Protocol = ProtocolGreenstack
	c := &GreenstackConnection{conn: newConn(desc, cfg)}
	c.recv = c.recvFrame
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *GreenstackConnection) Clone(ctx context.Context) (Connection, error) {
	return DialGreenstack(ctx, c.desc, c.config)
}

// recvFrame reads the length prefix, then the rest of the frame.
func (c *GreenstackConnection) recvFrame(ctx context.Context, f *Frame) error {
	f.Reset()
	if err := c.transport.Read(ctx, f, greenstack.LengthSize); err != nil {
		return err
	}
	n, err := greenstack.DecodeLength(f.Payload)
	if err != nil {
		return err
	}
	if err := c.transport.Read(ctx, f, n); err != nil {
		return err
	}
	c.stats.recordFrameReceived()
	return nil
}

func (c *GreenstackConnection) send(ctx context.Context, req *greenstack.Message) error {
	buf := requestBuffers.Get()
	defer requestBuffers.Put(buf)

	b, err := greenstack.AppendFrame(*buf, req)
	if err != nil {
		return invalidArgument(req.Opcode.String(), err)
	}
	*buf = b
	return c.transport.SendFrame(ctx, &Frame{Payload: b})
}

func (c *GreenstackConnection) receive(ctx context.Context, req *greenstack.Message) (*greenstack.Message, error) {
	var f Frame
	if err := c.recvFrame(ctx, &f); err != nil {
		return nil, err
	}
	resp, err := greenstack.DecodeFrame(f.Payload)
	if err != nil {
		return nil, err
	}
	if !resp.IsResponse() || resp.Opcode != req.Opcode || resp.Opaque != req.Opaque {
		return nil, &ProtocolError{Message: fmt.Sprintf("unexpected %s answering %s", resp, req.Opcode)}
	}
	return resp, nil
}

// roundTrip sends req and returns its response without checking the
// status. Must be called with the lock held.
func (c *GreenstackConnection) roundTrip(ctx context.Context, req *greenstack.Message) (*greenstack.Message, error) {
	req.Opaque = c.nextOpaque()
	if err := c.send(ctx, req); err != nil {
		return nil, err
	}
	return c.receive(ctx, req)
}

func (c *GreenstackConnection) call(ctx context.Context, req *greenstack.Message) (*greenstack.Message, error) {
	resp, err := c.roundTrip(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Status != greenstack.StatusSuccess {
		return nil, newGreenstackError(resp.Status, resp.Payload)
	}
	return resp, nil
}

func (c *GreenstackConnection) Hello(ctx context.Context, userAgent, userAgentVersion, comment string) error {
	return c.execute(ctx, "hello", func() error {
		req := greenstack.NewRequest(greenstack.OpHello)
		req.Payload.AddString(greenstack.FieldUserAgent, userAgent)
		req.Payload.AddString(greenstack.FieldUserAgentVersion, userAgentVersion)
		if comment != "" {
			req.Payload.AddString(greenstack.FieldComment, comment)
		}
		resp, err := c.call(ctx, req)
		if err != nil {
			return err
		}
		c.saslMechanisms, _ = resp.Payload.GetString(greenstack.FieldSaslMechanisms)
		return nil
	})
}

// Authenticate runs the SASL exchange. Every step is a SaslAuth request
// carrying the mechanism and the client data.
func (c *GreenstackConnection) Authenticate(ctx context.Context, username, password, mech string) error {
	return c.execute(ctx, "authenticate", func() error {
		m, err := newMechanism(mech, c.saslMechanisms, username, password)
		if err != nil {
			return err
		}
		data, err := m.Start()
		if err != nil {
			return invalidArgument("sasl start", err)
		}

		for {
			req := greenstack.NewRequest(greenstack.OpSaslAuth)
			req.Payload.AddString(greenstack.FieldMechanism, m.Name())
			req.Payload.AddBytes(greenstack.FieldChallenge, data)
			resp, err := c.roundTrip(ctx, req)
			if err != nil {
				return err
			}

			challenge, _ := resp.Payload.Get(greenstack.FieldChallenge)
			switch resp.Status {
			case greenstack.StatusSuccess:
				if err := m.Verify(challenge); err != nil {
					return fmt.Errorf("mcconn: sasl verify: %w", err)
				}
				return nil
			case greenstack.StatusAuthenticationContinue:
				if data, err = m.Next(challenge); err != nil {
					return fmt.Errorf("mcconn: sasl step: %w", err)
				}
			default:
				return newGreenstackError(resp.Status, resp.Payload)
			}
		}
	})
}

func (c *GreenstackConnection) CreateBucket(ctx context.Context, name, config string, bucketType BucketType) error {
	if _, ok := bucketType.engineModule(); !ok {
		return invalidArgument("bucket type "+bucketType.String(), nil)
	}
	return c.execute(ctx, "create_bucket", func() error {
		req := greenstack.NewRequest(greenstack.OpCreateBucket)
		req.Payload.AddString(greenstack.FieldName, name)
		req.Payload.AddString(greenstack.FieldConfig, config)
		req.Payload.AddUint8(greenstack.FieldBucketType, uint8(bucketType))
		_, err := c.call(ctx, req)
		return err
	})
}

func (c *GreenstackConnection) bucketCall(ctx context.Context, op string, opcode greenstack.Opcode, name string) error {
	return c.execute(ctx, op, func() error {
		req := greenstack.NewRequest(opcode)
		req.Payload.AddString(greenstack.FieldName, name)
		_, err := c.call(ctx, req)
		return err
	})
}

func (c *GreenstackConnection) DeleteBucket(ctx context.Context, name string) error {
	return c.bucketCall(ctx, "delete_bucket", greenstack.OpDeleteBucket, name)
}

func (c *GreenstackConnection) SelectBucket(ctx context.Context, name string) error {
	return c.bucketCall(ctx, "select_bucket", greenstack.OpSelectBucket, name)
}

func (c *GreenstackConnection) ListBuckets(ctx context.Context) ([]string, error) {
	var names []string
	err := c.execute(ctx, "list_buckets", func() error {
		resp, err := c.call(ctx, greenstack.NewRequest(greenstack.OpListBuckets))
		if err != nil {
			return err
		}
		for _, name := range resp.Payload.All(greenstack.FieldName) {
			names = append(names, string(name))
		}
		return nil
	})
	return names, err
}

func (c *GreenstackConnection) Get(ctx context.Context, id string, vbucket uint16) (Document, error) {
	var doc Document
	err := c.execute(ctx, "get", func() error {
		resp, err := c.call(ctx, encodeGreenstackGet(id, vbucket))
		if err != nil {
			return err
		}

		p := resp.Payload
		doc.Info.ID = id
		doc.Info.Flags, _ = p.GetUint32(greenstack.FieldFlags)
		doc.Info.Cas, _ = p.GetUint64(greenstack.FieldCas)
		if exp, ok := p.GetUint32(greenstack.FieldExpiration); ok && exp != 0 {
			doc.Info.Expiration = fmt.Sprint(exp)
		}
		if v, ok := p.GetUint8(greenstack.FieldDatatype); ok {
			doc.Info.Datatype = Datatype(v)
		}
		if v, ok := p.GetUint8(greenstack.FieldCompression); ok {
			doc.Info.Compression = Compression(v)
		}
		value, _ := p.Get(greenstack.FieldValue)
		doc.Value = append([]byte(nil), value...)
		return nil
	})
	return doc, err
}

func encodeGreenstackGet(id string, vbucket uint16) *greenstack.Message {
	req := greenstack.NewRequest(greenstack.OpGet)
	req.FlexHeader.AddVBucketID(vbucket)
	req.Payload.AddString(greenstack.FieldKey, id)
	return req
}

// Mutate stores doc. Every MutationType is supported, patch included.
func (c *GreenstackConnection) Mutate(ctx context.Context, doc Document, vbucket uint16, mutation MutationType) (MutationInfo, error) {
	if mutation > MutationPatch {
		return MutationInfo{}, invalidArgument("mutation type "+mutation.String(), nil)
	}
	exptime, err := doc.Info.expiration()
	if err != nil {
		return MutationInfo{}, err
	}

	var info MutationInfo
	err = c.execute(ctx, mutation.String(), func() error {
		req := greenstack.NewRequest(greenstack.OpMutation)
		req.FlexHeader.AddVBucketID(vbucket)
		p := &req.Payload
		p.AddString(greenstack.FieldKey, doc.Info.ID)
		p.AddBytes(greenstack.FieldValue, doc.Value)
		p.AddUint8(greenstack.FieldMutationType, uint8(mutation))
		p.AddUint32(greenstack.FieldFlags, doc.Info.Flags)
		p.AddUint32(greenstack.FieldExpiration, exptime)
		p.AddUint8(greenstack.FieldCompression, uint8(doc.Info.Compression))
		p.AddUint8(greenstack.FieldDatatype, uint8(doc.Info.Datatype))
		if doc.Info.Cas != 0 {
			p.AddUint64(greenstack.FieldCas, doc.Info.Cas)
		}

		resp, err := c.call(ctx, req)
		if err != nil {
			return err
		}
		info.Cas, _ = resp.Payload.GetUint64(greenstack.FieldCas)
		info.Size, _ = resp.Payload.GetUint64(greenstack.FieldSize)
		info.Seqno, _ = resp.Payload.GetUint64(greenstack.FieldSeqno)
		info.VBucketUUID, _ = resp.Payload.GetUint64(greenstack.FieldVBucketUUID)
		return nil
	})
	return info, err
}

func (c *GreenstackConnection) encode(m *greenstack.Message) (*Frame, error) {
	buf, err := greenstack.AppendFrame(make([]byte, 0, m.Size()), m)
	if err != nil {
		return nil, invalidArgument(m.Opcode.String(), err)
	}
	return &Frame{Payload: buf}, nil
}

func (c *GreenstackConnection) EncodeCmdGet(id string, vbucket uint16) (*Frame, error) {
	return c.encode(encodeGreenstackGet(id, vbucket))
}

func (c *GreenstackConnection) EncodeCmdDcpOpen() (*Frame, error) {
	req := greenstack.NewRequest(greenstack.OpDcpOpen)
	req.Payload.AddString(greenstack.FieldName, dcpConnectionName)
	req.Payload.AddUint32(greenstack.FieldFlags, 1) // producer
	return c.encode(req)
}

func (c *GreenstackConnection) EncodeCmdDcpStreamReq() (*Frame, error) {
	req := greenstack.NewRequest(greenstack.OpDcpStreamReq)
	req.FlexHeader.AddVBucketID(0)
	req.Payload.AddUint64(greenstack.FieldStartSeqno, 0)
	req.Payload.AddUint64(greenstack.FieldEndSeqno, math.MaxUint64)
	req.Payload.AddUint64(greenstack.FieldVBucketUUID, 0)
	req.Payload.AddUint64(greenstack.FieldSnapStartSeqno, 0)
	req.Payload.AddUint64(greenstack.FieldSnapEndSeqno, 0)
	return c.encode(req)
}

// Stats reads replies until one arrives without FlagMore.
func (c *GreenstackConnection) Stats(ctx context.Context, group string) (map[string]any, error) {
	result := make(map[string]any)
	err := c.execute(ctx, "stats", func() error {
		req := greenstack.NewRequest(greenstack.OpStats)
		if group != "" {
			req.Payload.AddString(greenstack.FieldSubcommand, group)
		}
		req.Opaque = c.nextOpaque()
		if err := c.send(ctx, req); err != nil {
			return err
		}

		for {
			resp, err := c.receive(ctx, req)
			if err != nil {
				return err
			}
			if resp.Status != greenstack.StatusSuccess {
				return newGreenstackError(resp.Status, resp.Payload)
			}
			keys := resp.Payload.All(greenstack.FieldStatKey)
			values := resp.Payload.All(greenstack.FieldStatValue)
			if len(keys) != len(values) {
				return &ProtocolError{Message: "stats reply with unpaired keys and values"}
			}
			for i, key := range keys {
				result[string(key)] = parseStatValue(values[i])
			}
			if !resp.Flags.Has(greenstack.FlagMore) {
				return nil
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *GreenstackConnection) ReloadAuditConfiguration(ctx context.Context) error {
	return c.execute(ctx, "audit_reload", func() error {
		_, err := c.call(ctx, greenstack.NewRequest(greenstack.OpAuditConfigReload))
		return err
	})
}

func (c *GreenstackConnection) ConfigureEwouldBlockEngine(ctx context.Context, mode EWBEngineMode, code EngineErrorCode, value uint32, key string) error {
	return c.execute(ctx, "ewouldblock_ctl", func() error {
		req := greenstack.NewRequest(greenstack.OpEwouldblockCtl)
		req.Payload.AddUint32(greenstack.FieldMode, uint32(mode))
		req.Payload.AddUint32(greenstack.FieldErrorCode, uint32(code))
		req.Payload.AddUint32(greenstack.FieldNumber, value)
		if key != "" {
			req.Payload.AddString(greenstack.FieldKey, key)
		}
		_, err := c.call(ctx, req)
		return err
	})
}
