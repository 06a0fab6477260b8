package brightchain

import (
	"encoding/binary"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// A persisted block is two records:
// a data record holding its bytes behind a 4-byte big-endian length,
// and a metadata record in protobuf wire format.

// MarshalData produces the data record for a block.
func MarshalData(b *Block) []byte {
	out := make([]byte, 4+len(b.Data))
	binary.BigEndian.PutUint32(out, uint32(len(b.Data)))
	copy(out[4:], b.Data)
	return out
}

// UnmarshalData parses a data record.
func UnmarshalData(rec []byte) ([]byte, error) {
	if len(rec) < 4 {
		return nil, errors.New("short data record")
	}
	n := binary.BigEndian.Uint32(rec)
	if int(n) != len(rec)-4 {
		return nil, errors.Errorf("data record length prefix %d, payload %d", n, len(rec)-4)
	}
	return rec[4:], nil
}

// Metadata record field numbers.
const (
	fieldHash        protowire.Number = 1
	fieldSize        protowire.Number = 2
	fieldKind        protowire.Number = 3
	fieldRequestTime protowire.Number = 4
	fieldKeepUntil   protowire.Number = 5
	fieldByteCount   protowire.Number = 6
	fieldPrivate     protowire.Number = 7
	fieldRedundancy  protowire.Number = 8
	fieldSignature   protowire.Number = 9
	fieldRevocation  protowire.Number = 10
)

// MarshalMetadata produces the metadata record for a block.
func MarshalMetadata(b *Block) []byte {
	var buf []byte

	buf = protowire.AppendTag(buf, fieldHash, protowire.BytesType)
	buf = protowire.AppendBytes(buf, b.ID[:])
	buf = protowire.AppendTag(buf, fieldSize, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(b.Size))
	buf = protowire.AppendTag(buf, fieldKind, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(b.Kind))
	buf = protowire.AppendTag(buf, fieldRequestTime, protowire.VarintType)
	buf = protowire.AppendVarint(buf, protowire.EncodeZigZag(timeToNanos(b.Contract.RequestTime)))
	buf = protowire.AppendTag(buf, fieldKeepUntil, protowire.VarintType)
	buf = protowire.AppendVarint(buf, protowire.EncodeZigZag(timeToNanos(b.Contract.KeepUntilAtLeast)))
	buf = protowire.AppendTag(buf, fieldByteCount, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(b.Contract.ByteCount))
	buf = protowire.AppendTag(buf, fieldPrivate, protowire.VarintType)
	buf = protowire.AppendVarint(buf, protowire.EncodeBool(b.Contract.PrivateEncrypted))
	buf = protowire.AppendTag(buf, fieldRedundancy, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(b.Contract.Redundancy))
	if len(b.Signature) > 0 {
		buf = protowire.AppendTag(buf, fieldSignature, protowire.BytesType)
		buf = protowire.AppendBytes(buf, b.Signature)
	}
	for _, r := range b.Revocations {
		buf = protowire.AppendTag(buf, fieldRevocation, protowire.BytesType)
		buf = protowire.AppendBytes(buf, r)
	}

	return buf
}

// Metadata is the decoded form of a metadata record.
type Metadata struct {
	ID          Hash
	Size        BlockSize
	Kind        Kind
	Contract    StorageContract
	Signature   []byte
	Revocations [][]byte
}

// UnmarshalMetadata parses a metadata record.
func UnmarshalMetadata(rec []byte) (*Metadata, error) {
	var (
		md      Metadata
		sawHash bool
	)
	for len(rec) > 0 {
		num, typ, n := protowire.ConsumeTag(rec)
		if n < 0 {
			return nil, errors.Wrap(protowire.ParseError(n), "parsing metadata tag")
		}
		rec = rec[n:]

		switch {
		case typ == protowire.BytesType && (num == fieldHash || num == fieldSignature || num == fieldRevocation):
			v, n := protowire.ConsumeBytes(rec)
			if n < 0 {
				return nil, errors.Wrapf(protowire.ParseError(n), "parsing metadata field %d", num)
			}
			rec = rec[n:]
			switch num {
			case fieldHash:
				h, err := HashFromBytes(v)
				if err != nil {
					return nil, errors.Wrap(err, "parsing metadata hash")
				}
				md.ID = h
				sawHash = true
			case fieldSignature:
				md.Signature = append([]byte(nil), v...)
			case fieldRevocation:
				md.Revocations = append(md.Revocations, append([]byte(nil), v...))
			}

		case typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(rec)
			if n < 0 {
				return nil, errors.Wrapf(protowire.ParseError(n), "parsing metadata field %d", num)
			}
			rec = rec[n:]
			switch num {
			case fieldSize:
				md.Size = BlockSize(v)
			case fieldKind:
				md.Kind = Kind(v)
			case fieldRequestTime:
				md.Contract.RequestTime = nanosToTime(protowire.DecodeZigZag(v))
			case fieldKeepUntil:
				md.Contract.KeepUntilAtLeast = nanosToTime(protowire.DecodeZigZag(v))
			case fieldByteCount:
				md.Contract.ByteCount = int(v)
			case fieldPrivate:
				md.Contract.PrivateEncrypted = protowire.DecodeBool(v)
			case fieldRedundancy:
				md.Contract.Redundancy = RedundancyKind(v)
			}

		default:
			n := protowire.ConsumeFieldValue(num, typ, rec)
			if n < 0 {
				return nil, errors.Wrapf(protowire.ParseError(n), "skipping metadata field %d", num)
			}
			rec = rec[n:]
		}
	}
	if !sawHash {
		return nil, errors.New("metadata record has no hash")
	}
	return &md, nil
}

type constructor func(md *Metadata, data []byte) (*Block, error)

// constructors is the static kind -> constructor dispatch table used by Decode.
var constructors = map[Kind]constructor{
	KindRaw:        plain,
	KindSource:     plain,
	KindRandomizer: plain,
	KindWhitened:   plain,
	KindCBL:        plain,
	KindRoot:       root,
}

func plain(md *Metadata, data []byte) (*Block, error) {
	return &Block{
		ID:          md.ID,
		Size:        md.Size,
		Kind:        md.Kind,
		Data:        data,
		Contract:    md.Contract,
		Signature:   md.Signature,
		Revocations: md.Revocations,
	}, nil
}

func root(md *Metadata, data []byte) (*Block, error) {
	if md.Size != RootSize {
		return nil, errors.Wrapf(ErrStructure, "root block has size %s, want %s", md.Size, RootSize)
	}
	if md.Contract.PrivateEncrypted {
		return nil, errors.Wrap(ErrStructure, "root block cannot be private")
	}
	return plain(md, data)
}

// Decode reassembles a block from its metadata and data records.
// The block is validated;
// a block that fails validation is returned with an *InvalidBlockError.
func Decode(meta, data []byte) (*Block, error) {
	md, err := UnmarshalMetadata(meta)
	if err != nil {
		return nil, err
	}
	payload, err := UnmarshalData(data)
	if err != nil {
		return nil, err
	}
	ctor, ok := constructors[md.Kind]
	if !ok {
		return nil, errors.Wrapf(ErrStructure, "unknown block kind %d", uint8(md.Kind))
	}
	b, err := ctor(md, payload)
	if err != nil {
		return nil, err
	}
	if ok, errs := Validate(b); !ok {
		return b, &InvalidBlockError{ID: b.ID, Errs: errs}
	}
	return b, nil
}

func timeToNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func nanosToTime(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
