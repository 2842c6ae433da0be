package mcconn

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/pior/mcconn/binary"
	"github.com/pior/mcconn/sasl"
)

const dcpConnectionName = "mcconn"

// BinaryConnection speaks the memcached binary protocol.
type BinaryConnection struct {
	*conn
}

var _ Connection = (*BinaryConnection)(nil)

// DialBinary connects to desc with the memcached binary protocol,
// regardless of desc.Protocol.
func DialBinary(ctx context.Context, desc PortDescriptor, cfg Config) (*BinaryConnection, error) {
	desc.Protocol = ProtocolMemcached
	c := &BinaryConnection{conn: newConn(desc, cfg)}
	c.recv = c.recvFrame
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *BinaryConnection) Clone(ctx context.Context) (Connection, error) {
	return DialBinary(ctx, c.desc, c.config)
}

// recvFrame reads the fixed header, then the body it announces.
func (c *BinaryConnection) recvFrame(ctx context.Context, f *Frame) error {
	f.Reset()
	if err := c.transport.Read(ctx, f, binary.HeaderLen); err != nil {
		return err
	}
	h, err := binary.DecodeHeader(f.Payload)
	if err != nil {
		return err
	}
	if err := c.transport.Read(ctx, f, int(h.BodyLen)); err != nil {
		return err
	}
	c.stats.recordFrameReceived()
	return nil
}

// roundTrip sends req and returns the response answering it. The response
// status is not checked. Must be called with the lock held.
func (c *BinaryConnection) roundTrip(ctx context.Context, req *binary.Packet) (*binary.Packet, error) {
	req.Opaque = c.nextOpaque()
	if err := c.send(ctx, req); err != nil {
		return nil, err
	}
	return c.receive(ctx, req)
}

func (c *BinaryConnection) send(ctx context.Context, req *binary.Packet) error {
	buf := requestBuffers.Get()
	defer requestBuffers.Put(buf)

	b, err := binary.AppendPacket(*buf, req)
	if err != nil {
		return invalidArgument(req.Opcode.String(), err)
	}
	*buf = b
	return c.transport.SendFrame(ctx, &Frame{Payload: b})
}

func (c *BinaryConnection) receive(ctx context.Context, req *binary.Packet) (*binary.Packet, error) {
	var f Frame
	if err := c.recvFrame(ctx, &f); err != nil {
		return nil, err
	}
	resp, err := binary.DecodePacket(f.Payload)
	if err != nil {
		return nil, err
	}
	if !resp.IsResponse() || resp.Opcode != req.Opcode || resp.Opaque != req.Opaque {
		return nil, &ProtocolError{Message: fmt.Sprintf("unexpected %s answering %s", resp, req.Opcode)}
	}
	return resp, nil
}

// call performs a request that only reports a status.
func (c *BinaryConnection) call(ctx context.Context, req *binary.Packet) (*binary.Packet, error) {
	resp, err := c.roundTrip(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Status != binary.StatusSuccess {
		return nil, newBinaryError(resp.Status, resp.Value, false)
	}
	return resp, nil
}

// Hello identifies the client, negotiates mutation sequence numbers and
// fetches the SASL mechanism list.
func (c *BinaryConnection) Hello(ctx context.Context, userAgent, userAgentVersion, comment string) error {
	return c.execute(ctx, "hello", func() error {
		agent := strings.TrimSpace(strings.Join([]string{userAgent, userAgentVersion, comment}, " "))

		req := binary.NewRequest(binary.OpHello)
		req.Key = []byte(agent)
		req.Value = binary.HelloValue([]binary.Feature{binary.FeatureMutationSeqno})
		resp, err := c.call(ctx, req)
		if err != nil {
			return err
		}
		c.mutationSeqno = false
		for _, f := range binary.DecodeHelloValue(resp.Value) {
			if f == binary.FeatureMutationSeqno {
				c.mutationSeqno = true
			}
		}

		resp, err = c.call(ctx, binary.NewRequest(binary.OpSaslListMechs))
		if err != nil {
			return err
		}
		c.saslMechanisms = string(resp.Value)
		return nil
	})
}

func (c *BinaryConnection) Authenticate(ctx context.Context, username, password, mech string) error {
	return c.execute(ctx, "authenticate", func() error {
		m, err := newMechanism(mech, c.saslMechanisms, username, password)
		if err != nil {
			return err
		}
		data, err := m.Start()
		if err != nil {
			return invalidArgument("sasl start", err)
		}

		req := binary.NewRequest(binary.OpSaslAuth)
		req.Key = []byte(m.Name())
		req.Value = data
		resp, err := c.roundTrip(ctx, req)
		if err != nil {
			return err
		}

		for resp.Status == binary.StatusAuthContinue {
			data, err = m.Next(resp.Value)
			if err != nil {
				return fmt.Errorf("mcconn: sasl step: %w", err)
			}
			req = binary.NewRequest(binary.OpSaslStep)
			req.Key = []byte(m.Name())
			req.Value = data
			if resp, err = c.roundTrip(ctx, req); err != nil {
				return err
			}
		}

		if resp.Status != binary.StatusSuccess {
			return newBinaryError(resp.Status, resp.Value, false)
		}
		if err := m.Verify(resp.Value); err != nil {
			return fmt.Errorf("mcconn: sasl verify: %w", err)
		}
		return nil
	})
}

// newMechanism picks the strongest advertised mechanism when mech is empty.
func newMechanism(mech, advertised, username, password string) (sasl.Mechanism, error) {
	if mech == "" {
		var err error
		if mech, err = sasl.Choose(sasl.ParseList(advertised)); err != nil {
			return nil, invalidArgument("sasl mechanism", err)
		}
	}
	m, err := sasl.NewMechanism(mech, username, password)
	if err != nil {
		return nil, invalidArgument("sasl mechanism", err)
	}
	return m, nil
}

func (c *BinaryConnection) CreateBucket(ctx context.Context, name, config string, bucketType BucketType) error {
	module, ok := bucketType.engineModule()
	if !ok {
		return invalidArgument("bucket type "+bucketType.String(), nil)
	}
	return c.execute(ctx, "create_bucket", func() error {
		req := binary.NewRequest(binary.OpCreateBucket)
		req.Key = []byte(name)
		req.Value = binary.CreateBucketValue(module, config)
		_, err := c.call(ctx, req)
		return err
	})
}

func (c *BinaryConnection) DeleteBucket(ctx context.Context, name string) error {
	return c.execute(ctx, "delete_bucket", func() error {
		req := binary.NewRequest(binary.OpDeleteBucket)
		req.Key = []byte(name)
		_, err := c.call(ctx, req)
		return err
	})
}

func (c *BinaryConnection) SelectBucket(ctx context.Context, name string) error {
	return c.execute(ctx, "select_bucket", func() error {
		req := binary.NewRequest(binary.OpSelectBucket)
		req.Key = []byte(name)
		_, err := c.call(ctx, req)
		return err
	})
}

// ListBuckets returns the bucket names in server order.
func (c *BinaryConnection) ListBuckets(ctx context.Context) ([]string, error) {
	var names []string
	err := c.execute(ctx, "list_buckets", func() error {
		resp, err := c.call(ctx, binary.NewRequest(binary.OpListBuckets))
		if err != nil {
			return err
		}
		names = strings.Fields(string(resp.Value))
		return nil
	})
	return names, err
}

func (c *BinaryConnection) Get(ctx context.Context, id string, vbucket uint16) (Document, error) {
	var doc Document
	err := c.execute(ctx, "get", func() error {
		req := binary.NewRequest(binary.OpGet)
		req.Key = []byte(id)
		req.VBucket = vbucket
		resp, err := c.call(ctx, req)
		if err != nil {
			return err
		}

		flags, _ := binary.DecodeGetResponseExtras(resp.Extras)
		doc = Document{
			Info: DocumentInfo{
				ID:    id,
				Flags: flags,
				Cas:   resp.Cas,
			},
			Value: append([]byte(nil), resp.Value...),
		}
		if resp.Datatype&binary.DatatypeJSON != 0 {
			doc.Info.Datatype = DatatypeJSON
		}
		if resp.Datatype&binary.DatatypeSnappy != 0 {
			doc.Info.Compression = CompressionSnappy
		}
		return nil
	})
	return doc, err
}

var binaryMutations = map[MutationType]binary.Opcode{
	MutationAdd:     binary.OpAdd,
	MutationSet:     binary.OpSet,
	MutationReplace: binary.OpReplace,
	MutationAppend:  binary.OpAppend,
	MutationPrepend: binary.OpPrepend,
}

// Mutate stores doc. A non-zero doc.Info.Cas makes the write conditional; a
// mismatch fails with an error for which IsCASMismatch is true.
func (c *BinaryConnection) Mutate(ctx context.Context, doc Document, vbucket uint16, mutation MutationType) (MutationInfo, error) {
	op, ok := binaryMutations[mutation]
	if !ok {
		return MutationInfo{}, fmt.Errorf("%w: %s mutation over the binary protocol", ErrNotImplemented, mutation)
	}
	if doc.Info.Compression != CompressionNone {
		return MutationInfo{}, fmt.Errorf("%w: compressed documents over the binary protocol", ErrNotImplemented)
	}
	exptime, err := doc.Info.expiration()
	if err != nil {
		return MutationInfo{}, err
	}

	var info MutationInfo
	err = c.execute(ctx, mutation.String(), func() error {
		req := binary.NewRequest(op)
		req.Key = []byte(doc.Info.ID)
		req.Value = doc.Value
		req.VBucket = vbucket
		req.Cas = doc.Info.Cas
		if doc.Info.Datatype == DatatypeJSON {
			req.Datatype = binary.DatatypeJSON
		}
		if op != binary.OpAppend && op != binary.OpPrepend {
			req.Extras = binary.MutationExtras(doc.Info.Flags, exptime)
		}

		resp, err := c.roundTrip(ctx, req)
		if err != nil {
			return err
		}
		if resp.Status != binary.StatusSuccess {
			return newBinaryError(resp.Status, resp.Value, doc.Info.Cas != 0)
		}

		info = MutationInfo{Cas: resp.Cas}
		// append and prepend replies do not carry the resulting size
		if op != binary.OpAppend && op != binary.OpPrepend {
			info.Size = uint64(len(doc.Value))
		}
		if c.mutationSeqno {
			info.VBucketUUID, info.Seqno, _ = binary.DecodeMutationSeqnoExtras(resp.Extras)
		}
		return nil
	})
	return info, err
}

func (c *BinaryConnection) encode(p *binary.Packet) (*Frame, error) {
	buf, err := binary.AppendPacket(make([]byte, 0, p.Size()), p)
	if err != nil {
		return nil, invalidArgument(p.Opcode.String(), err)
	}
	return &Frame{Payload: buf}, nil
}

// EncodeCmdGet returns a GET request frame of binary.HeaderLen+len(id) bytes.
func (c *BinaryConnection) EncodeCmdGet(id string, vbucket uint16) (*Frame, error) {
	req := binary.NewRequest(binary.OpGet)
	req.Key = []byte(id)
	req.VBucket = vbucket
	return c.encode(req)
}

// EncodeCmdDcpOpen returns a DCP_OPEN request for a producer stream.
func (c *BinaryConnection) EncodeCmdDcpOpen() (*Frame, error) {
	req := binary.NewRequest(binary.OpDcpOpen)
	req.Key = []byte(dcpConnectionName)
	req.Extras = binary.DcpOpenExtras(0, binary.DcpOpenProducer)
	return c.encode(req)
}

// EncodeCmdDcpStreamReq returns a DCP_STREAM_REQ for every mutation of
// vbucket 0.
func (c *BinaryConnection) EncodeCmdDcpStreamReq() (*Frame, error) {
	req := binary.NewRequest(binary.OpDcpStreamReq)
	req.Extras = binary.DcpStreamRequest{EndSeqno: math.MaxUint64}.Extras()
	return c.encode(req)
}

// Stats reads STAT replies until the empty key that terminates the group.
func (c *BinaryConnection) Stats(ctx context.Context, group string) (map[string]any, error) {
	result := make(map[string]any)
	err := c.execute(ctx, "stats", func() error {
		req := binary.NewRequest(binary.OpStat)
		req.Key = []byte(group)
		req.Opaque = c.nextOpaque()
		if err := c.send(ctx, req); err != nil {
			return err
		}

		for {
			resp, err := c.receive(ctx, req)
			if err != nil {
				return err
			}
			if resp.Status != binary.StatusSuccess {
				return newBinaryError(resp.Status, resp.Value, false)
			}
			if len(resp.Key) == 0 {
				return nil
			}
			result[string(resp.Key)] = parseStatValue(resp.Value)
		}
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *BinaryConnection) ReloadAuditConfiguration(ctx context.Context) error {
	return c.execute(ctx, "audit_reload", func() error {
		_, err := c.call(ctx, binary.NewRequest(binary.OpAuditConfigReload))
		return err
	})
}

func (c *BinaryConnection) ConfigureEwouldBlockEngine(ctx context.Context, mode EWBEngineMode, code EngineErrorCode, value uint32, key string) error {
	return c.execute(ctx, "ewouldblock_ctl", func() error {
		req := binary.NewRequest(binary.OpEwouldblockCtl)
		req.Extras = binary.EwouldblockExtras(uint32(mode), value, uint32(code))
		req.Key = []byte(key)
		_, err := c.call(ctx, req)
		return err
	})
}

func (c *BinaryConnection) IoctlGet(ctx context.Context, key string) (string, error) {
	var value string
	err := c.execute(ctx, "ioctl_get", func() error {
		req := binary.NewRequest(binary.OpIoctlGet)
		req.Key = []byte(key)
		resp, err := c.call(ctx, req)
		if err != nil {
			return err
		}
		value = string(resp.Value)
		return nil
	})
	return value, err
}

func (c *BinaryConnection) IoctlSet(ctx context.Context, key, value string) error {
	return c.execute(ctx, "ioctl_set", func() error {
		req := binary.NewRequest(binary.OpIoctlSet)
		req.Key = []byte(key)
		req.Value = []byte(value)
		_, err := c.call(ctx, req)
		return err
	})
}
