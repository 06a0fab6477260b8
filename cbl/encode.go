package cbl

import (
	"encoding/binary"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/brightchain/brightchain"
)

// A manifest block holds a 4-byte big-endian length,
// the manifest in protobuf wire format,
// and zero padding up to the smallest catalogue size that fits.

const (
	fieldSourceID      protowire.Number = 1
	fieldTotalLength   protowire.Number = 2
	fieldTupleCount    protowire.Number = 3
	fieldBlockSize     protowire.Number = 4
	fieldPrivate       protowire.Number = 5
	fieldCorrelationID protowire.Number = 6
	fieldPrevious      protowire.Number = 7
	fieldRequestTime   protowire.Number = 8
	fieldBlocks        protowire.Number = 9
)

// Marshal encodes the manifest in protobuf wire format.
func (m *Manifest) Marshal() []byte {
	var buf []byte

	buf = protowire.AppendTag(buf, fieldSourceID, protowire.BytesType)
	buf = protowire.AppendBytes(buf, m.SourceID[:])
	buf = protowire.AppendTag(buf, fieldTotalLength, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(m.TotalLength))
	buf = protowire.AppendTag(buf, fieldTupleCount, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(m.TupleCount))
	buf = protowire.AppendTag(buf, fieldBlockSize, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(m.BlockSize))
	buf = protowire.AppendTag(buf, fieldPrivate, protowire.VarintType)
	buf = protowire.AppendVarint(buf, protowire.EncodeBool(m.PrivateEncrypted))
	buf = protowire.AppendTag(buf, fieldCorrelationID, protowire.BytesType)
	buf = protowire.AppendBytes(buf, m.CorrelationID[:])
	if !m.PreviousVersion.IsZero() {
		buf = protowire.AppendTag(buf, fieldPrevious, protowire.BytesType)
		buf = protowire.AppendBytes(buf, m.PreviousVersion[:])
	}
	if !m.RequestTime.IsZero() {
		buf = protowire.AppendTag(buf, fieldRequestTime, protowire.VarintType)
		buf = protowire.AppendVarint(buf, protowire.EncodeZigZag(m.RequestTime.UnixNano()))
	}

	hashes := make([]byte, 0, len(m.Blocks)*brightchain.HashSize)
	for _, h := range m.Blocks {
		hashes = append(hashes, h[:]...)
	}
	buf = protowire.AppendTag(buf, fieldBlocks, protowire.BytesType)
	buf = protowire.AppendBytes(buf, hashes)

	return buf
}

// Unmarshal decodes the output of Marshal into m.
func (m *Manifest) Unmarshal(buf []byte) error {
	*m = Manifest{}
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return errors.Wrap(protowire.ParseError(n), "parsing manifest tag")
		}
		buf = buf[n:]

		switch typ {
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return errors.Wrapf(protowire.ParseError(n), "parsing manifest field %d", num)
			}
			buf = buf[n:]
			if err := m.setBytes(num, v); err != nil {
				return err
			}

		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return errors.Wrapf(protowire.ParseError(n), "parsing manifest field %d", num)
			}
			buf = buf[n:]
			switch num {
			case fieldTotalLength:
				m.TotalLength = int64(v)
			case fieldTupleCount:
				m.TupleCount = int(v)
			case fieldBlockSize:
				m.BlockSize = brightchain.BlockSize(v)
			case fieldPrivate:
				m.PrivateEncrypted = protowire.DecodeBool(v)
			case fieldRequestTime:
				m.RequestTime = time.Unix(0, protowire.DecodeZigZag(v)).UTC()
			}

		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return errors.Wrapf(protowire.ParseError(n), "skipping manifest field %d", num)
			}
			buf = buf[n:]
		}
	}
	return nil
}

func (m *Manifest) setBytes(num protowire.Number, v []byte) error {
	var err error
	switch num {
	case fieldSourceID:
		m.SourceID, err = brightchain.HashFromBytes(v)
	case fieldPrevious:
		m.PreviousVersion, err = brightchain.HashFromBytes(v)
	case fieldCorrelationID:
		m.CorrelationID, err = uuid.FromBytes(v)
	case fieldBlocks:
		if len(v)%brightchain.HashSize != 0 {
			return errors.Wrapf(brightchain.ErrStructure, "block list of %d bytes is not a whole number of hashes", len(v))
		}
		m.Blocks = make([]brightchain.Hash, len(v)/brightchain.HashSize)
		for i := range m.Blocks {
			copy(m.Blocks[i][:], v[i*brightchain.HashSize:])
		}
	}
	return errors.Wrapf(err, "parsing manifest field %d", num)
}

// Block encodes the manifest as a block of kind CBL.
// The block's request time and privacy flag come from the manifest;
// the rest of its contract comes from c.
func (m *Manifest) Block(c brightchain.StorageContract) (*brightchain.Block, error) {
	if err := m.Check(); err != nil {
		return nil, err
	}

	enc := m.Marshal()
	size, ok := brightchain.SmallestFitting(4 + len(enc))
	if !ok {
		return nil, errors.Wrapf(brightchain.ErrStructure, "manifest of %d bytes does not fit any block size", len(enc))
	}

	data := make([]byte, size)
	binary.BigEndian.PutUint32(data, uint32(len(enc)))
	copy(data[4:], enc)

	c.RequestTime = m.RequestTime
	c.PrivateEncrypted = m.PrivateEncrypted
	return brightchain.NewBlock(brightchain.KindCBL, data, c)
}

// FromBlock decodes the manifest held in a CBL block.
func FromBlock(b *brightchain.Block) (*Manifest, error) {
	if b.Kind != brightchain.KindCBL {
		return nil, errors.Errorf("%s is not a CBL block", b)
	}
	if len(b.Data) < 4 {
		return nil, errors.Wrap(brightchain.ErrStructure, "short CBL block")
	}
	n := binary.BigEndian.Uint32(b.Data)
	if int(n) > len(b.Data)-4 {
		return nil, errors.Wrapf(brightchain.ErrStructure, "CBL length prefix %d exceeds block", n)
	}

	var m Manifest
	if err := m.Unmarshal(b.Data[4 : 4+n]); err != nil {
		return nil, err
	}
	if err := m.Check(); err != nil {
		return nil, err
	}
	return &m, nil
}
