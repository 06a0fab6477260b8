package store

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// The generic checkpoint stream is zstd-compressed.
// After a magic string it holds a sequence of key-value pairs,
// each part preceded by its length as a uvarint.

const checkpointMagic = "bcckpt1\n"

const recoverBatch = 256

// WriteCheckpoint writes every pair in b to w.
// Backends without a native snapshot format use it to implement Checkpointer.
func WriteCheckpoint(ctx context.Context, b Backend, w io.Writer) error {
	enc, err := zstd.NewWriter(w)
	if err != nil {
		return errors.Wrap(err, "creating zstd writer")
	}

	if _, err = io.WriteString(enc, checkpointMagic); err != nil {
		enc.Close()
		return errors.Wrap(err, "writing checkpoint header")
	}

	var lenbuf [binary.MaxVarintLen64]byte
	writePart := func(p []byte) error {
		n := binary.PutUvarint(lenbuf[:], uint64(len(p)))
		if _, err := enc.Write(lenbuf[:n]); err != nil {
			return err
		}
		_, err := enc.Write(p)
		return err
	}

	err = b.Scan(ctx, nil, func(key, val []byte) error {
		if err := writePart(key); err != nil {
			return errors.Wrapf(err, "writing key %x", key)
		}
		return errors.Wrapf(writePart(val), "writing value of %x", key)
	})
	if err != nil {
		enc.Close()
		return err
	}
	return errors.Wrap(enc.Close(), "flushing checkpoint")
}

// ReadCheckpoint reads a stream produced by WriteCheckpoint and puts every pair into b.
// Existing keys not in the stream are left alone.
func ReadCheckpoint(ctx context.Context, b Backend, r io.Reader) error {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return errors.Wrap(err, "creating zstd reader")
	}
	defer dec.Close()

	br := bufio.NewReader(dec)

	magic := make([]byte, len(checkpointMagic))
	if _, err = io.ReadFull(br, magic); err != nil {
		return errors.Wrap(err, "reading checkpoint header")
	}
	if string(magic) != checkpointMagic {
		return errors.New("not a checkpoint stream")
	}

	readPart := func() ([]byte, error) {
		n, err := binary.ReadUvarint(br)
		if err != nil {
			return nil, err
		}
		p := make([]byte, n)
		_, err = io.ReadFull(br, p)
		return p, err
	}

	var batch []KV
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := PutMulti(ctx, b, batch)
		batch = nil
		return err
	}

	for {
		key, err := readPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return errors.Wrap(err, "reading key")
		}
		val, err := readPart()
		if err != nil {
			return errors.Wrapf(err, "reading value of %x", key)
		}
		batch = append(batch, KV{Key: key, Val: val})
		if len(batch) >= recoverBatch {
			if err = flush(); err != nil {
				return errors.Wrap(err, "storing recovered pairs")
			}
		}
	}
	return errors.Wrap(flush(), "storing recovered pairs")
}
