package compress

import (
	"bytes"
	"compress/flate"
	"compress/lzw"
	"encoding/binary"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
	"github.com/ulikunitz/xz"
)

// Zstd is a Compressor using Zstandard.
// It is safe for concurrent use.
type Zstd struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewZstd produces a Zstd compressor.
// A level of 0 selects the library default.
// Other levels are interpreted by zstd.EncoderLevelFromZstd.
func NewZstd(level int) (*Zstd, error) {
	var opts []zstd.EOption
	if level != 0 {
		opts = append(opts, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	}
	enc, err := zstd.NewWriter(nil, opts...)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, err
	}
	return &Zstd{enc: enc, dec: dec}, nil
}

func (z *Zstd) Compress(inp []byte) []byte {
	return z.enc.EncodeAll(inp, nil)
}

func (z *Zstd) Uncompress(inp []byte) ([]byte, error) {
	return z.dec.DecodeAll(inp, nil)
}

type LZW struct {
	Order lzw.Order
}

func (l LZW) Compress(inp []byte) []byte {
	buf := new(bytes.Buffer)
	w := lzw.NewWriter(buf, l.Order, 8)
	w.Write(inp)
	w.Close()
	return buf.Bytes()
}

func (l LZW) Uncompress(inp []byte) ([]byte, error) {
	rr := lzw.NewReader(bytes.NewReader(inp), l.Order, 8)
	defer rr.Close()
	return io.ReadAll(rr)
}

type Flate struct {
	Level int
}

func (f Flate) Compress(inp []byte) []byte {
	buf := new(bytes.Buffer)
	level := f.Level
	if level < flate.HuffmanOnly || level > flate.BestCompression {
		level = flate.DefaultCompression
	}
	w, _ := flate.NewWriter(buf, level)
	w.Write(inp)
	w.Close()
	return buf.Bytes()
}

func (f Flate) Uncompress(inp []byte) ([]byte, error) {
	rr := flate.NewReader(bytes.NewReader(inp))
	defer rr.Close()
	return io.ReadAll(rr)
}

// LZ4 is a Compressor using block-mode LZ4.
// The compressed form begins with the uncompressed length as a uvarint.
type LZ4 struct{}

func (LZ4) Compress(inp []byte) []byte {
	dst := make([]byte, binary.MaxVarintLen64+lz4.CompressBlockBound(len(inp)))
	n := binary.PutUvarint(dst, uint64(len(inp)))
	written, err := lz4.CompressBlock(inp, dst[n:], nil)
	if err != nil || written == 0 {
		return nil
	}
	return dst[:n+written]
}

func (LZ4) Uncompress(inp []byte) ([]byte, error) {
	size, n := binary.Uvarint(inp)
	if n <= 0 {
		return nil, errors.New("bad lz4 length prefix")
	}
	if size > uint64(len(inp))*255 {
		return nil, errors.Errorf("lz4 length %d is implausible for %d compressed bytes", size, len(inp))
	}
	dst := make([]byte, size)
	read, err := lz4.UncompressBlock(inp[n:], dst)
	if err != nil {
		return nil, errors.Wrap(err, "lz4 uncompress")
	}
	if uint64(read) != size {
		return nil, errors.Errorf("lz4 uncompress: got %d bytes, want %d", read, size)
	}
	return dst, nil
}

// XZ is a Compressor using the xz container format.
type XZ struct{}

func (XZ) Compress(inp []byte) []byte {
	buf := new(bytes.Buffer)
	w, err := xz.NewWriter(buf)
	if err != nil {
		return nil
	}
	if _, err = w.Write(inp); err != nil {
		return nil
	}
	if err = w.Close(); err != nil {
		return nil
	}
	return buf.Bytes()
}

func (XZ) Uncompress(inp []byte) ([]byte, error) {
	r, err := xz.NewReader(bytes.NewReader(inp))
	if err != nil {
		return nil, errors.Wrap(err, "xz reader")
	}
	return io.ReadAll(r)
}

// Brotli is a Compressor using Brotli at the given level.
// Levels outside 0 through 11 select brotli.DefaultCompression.
type Brotli struct {
	Level int
}

func (b Brotli) Compress(inp []byte) []byte {
	level := b.Level
	if level < brotli.BestSpeed || level > brotli.BestCompression {
		level = brotli.DefaultCompression
	}
	buf := new(bytes.Buffer)
	w := brotli.NewWriterLevel(buf, level)
	if _, err := w.Write(inp); err != nil {
		return nil
	}
	if err := w.Close(); err != nil {
		return nil
	}
	return buf.Bytes()
}

func (Brotli) Uncompress(inp []byte) ([]byte, error) {
	return io.ReadAll(brotli.NewReader(bytes.NewReader(inp)))
}
