package rpc

import (
	"github.com/pkg/errors"
	"google.golang.org/grpc/encoding"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/brightchain/brightchain/store"
)

// CodecName is the gRPC content subtype under which messages travel.
const CodecName = "bcwire"

// message is the request and response type of every Store method.
// Unused fields are omitted on the wire.
type message struct {
	Key   []byte
	Val   []byte
	Found bool
	KVs   []store.KV
}

const (
	fieldKey   protowire.Number = 1
	fieldVal   protowire.Number = 2
	fieldFound protowire.Number = 3
	fieldKV    protowire.Number = 4
)

func (m *message) marshal() []byte {
	var buf []byte
	if m.Key != nil {
		buf = protowire.AppendTag(buf, fieldKey, protowire.BytesType)
		buf = protowire.AppendBytes(buf, m.Key)
	}
	if m.Val != nil {
		buf = protowire.AppendTag(buf, fieldVal, protowire.BytesType)
		buf = protowire.AppendBytes(buf, m.Val)
	}
	if m.Found {
		buf = protowire.AppendTag(buf, fieldFound, protowire.VarintType)
		buf = protowire.AppendVarint(buf, protowire.EncodeBool(true))
	}
	for _, kv := range m.KVs {
		var sub []byte
		sub = protowire.AppendTag(sub, fieldKey, protowire.BytesType)
		sub = protowire.AppendBytes(sub, kv.Key)
		sub = protowire.AppendTag(sub, fieldVal, protowire.BytesType)
		sub = protowire.AppendBytes(sub, kv.Val)
		buf = protowire.AppendTag(buf, fieldKV, protowire.BytesType)
		buf = protowire.AppendBytes(buf, sub)
	}
	return buf
}

func (m *message) unmarshal(buf []byte) error {
	*m = message{}
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return errors.Wrap(protowire.ParseError(n), "parsing tag")
		}
		buf = buf[n:]

		switch {
		case typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return errors.Wrapf(protowire.ParseError(n), "parsing field %d", num)
			}
			buf = buf[n:]
			v = append([]byte{}, v...)
			switch num {
			case fieldKey:
				m.Key = v
			case fieldVal:
				m.Val = v
			case fieldKV:
				var sub message
				if err := sub.unmarshal(v); err != nil {
					return errors.Wrap(err, "parsing pair")
				}
				if sub.Val == nil {
					sub.Val = []byte{}
				}
				m.KVs = append(m.KVs, store.KV{Key: sub.Key, Val: sub.Val})
			}

		case typ == protowire.VarintType && num == fieldFound:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return errors.Wrapf(protowire.ParseError(n), "parsing field %d", num)
			}
			buf = buf[n:]
			m.Found = protowire.DecodeBool(v)

		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return errors.Wrapf(protowire.ParseError(n), "skipping field %d", num)
			}
			buf = buf[n:]
		}
	}
	return nil
}

type codec struct{}

var _ encoding.Codec = codec{}

func (codec) Marshal(v interface{}) ([]byte, error) {
	m, ok := v.(*message)
	if !ok {
		return nil, errors.Errorf("cannot marshal %T", v)
	}
	return m.marshal(), nil
}

func (codec) Unmarshal(data []byte, v interface{}) error {
	m, ok := v.(*message)
	if !ok {
		return errors.Errorf("cannot unmarshal into %T", v)
	}
	return m.unmarshal(data)
}

func (codec) Name() string {
	return CodecName
}

func init() {
	encoding.RegisterCodec(codec{})
}
