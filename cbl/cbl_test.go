package cbl

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"io"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"pgregory.net/rapid"

	"github.com/brightchain/brightchain"
	"github.com/brightchain/brightchain/whiten"
)

type mapGetter struct {
	mu sync.Mutex
	m  map[brightchain.Hash]*brightchain.Block
}

func (g *mapGetter) Get(_ context.Context, h brightchain.Hash) (*brightchain.Block, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.m[h]
	if !ok {
		return nil, brightchain.ErrNotFound
	}
	return b, nil
}

// disperse whitens src in chunks of size and returns a manifest plus a getter holding every member.
func disperse(t rapid.TB, src []byte, size brightchain.BlockSize, k int) (*Manifest, *mapGetter) {
	t.Helper()

	g := &mapGetter{m: make(map[brightchain.Hash]*brightchain.Block)}
	var hashes []brightchain.Hash

	for off := 0; off == 0 || off < len(src); off += int(size) {
		end := off + int(size)
		if end > len(src) {
			end = len(src)
		}
		padded, err := brightchain.Pad(src[off:end], size)
		if err != nil {
			t.Fatal(err)
		}
		b, err := brightchain.NewBlock(brightchain.KindSource, padded, brightchain.StorageContract{})
		if err != nil {
			t.Fatal(err)
		}
		tuple, err := whiten.Whiten(b, k)
		if err != nil {
			t.Fatal(err)
		}
		for _, m := range tuple.Members {
			g.m[m.ID] = m
		}
		hashes = append(hashes, tuple.Hashes()...)
	}

	m, err := BuildManifest(hashes, k, brightchain.Sum(src), int64(len(src)), size)
	if err != nil {
		t.Fatal(err)
	}
	return m, g
}

func randBytes(t rapid.TB, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		t.Fatal(err)
	}
	return b
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := randBytes(t, 1031)

	m, g := disperse(t, src, brightchain.Message, 5)
	if len(m.Blocks) != 15 {
		t.Fatalf("got %d hashes, want 15", len(m.Blocks))
	}
	if m.Stripes() != 3 {
		t.Fatalf("got %d stripes, want 3", m.Stripes())
	}

	cr, err := ConsolidateChain(m, g)
	if err != nil {
		t.Fatal(err)
	}
	got, err := io.ReadAll(ReadValidatedBytes(ctx, cr, m))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, src) {
		t.Error("reconstructed bytes differ from source")
	}
}

func TestEmptySource(t *testing.T) {
	ctx := context.Background()
	m, g := disperse(t, nil, brightchain.Nano, 2)
	if m.Stripes() != 1 {
		t.Fatalf("got %d stripes, want 1", m.Stripes())
	}
	cr, err := ConsolidateChain(m, g)
	if err != nil {
		t.Fatal(err)
	}
	got, err := io.ReadAll(ReadValidatedBytes(ctx, cr, m))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("got %d bytes, want 0", len(got))
	}
}

func TestManifestBlock(t *testing.T) {
	m, _ := disperse(t, randBytes(t, 1031), brightchain.Message, 5)
	m.RequestTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	m.PrivateEncrypted = true

	b, err := m.Block(brightchain.StorageContract{Redundancy: brightchain.RedundancyReplication})
	if err != nil {
		t.Fatal(err)
	}
	if b.Kind != brightchain.KindCBL {
		t.Errorf("got kind %s, want cbl", b.Kind)
	}
	// Fifteen hashes plus the header overflow 1K.
	if b.Size != brightchain.Small {
		t.Errorf("got size %s, want %s", b.Size, brightchain.Small)
	}
	if !b.Contract.PrivateEncrypted || !b.Contract.RequestTime.Equal(m.RequestTime) {
		t.Errorf("contract %+v does not reflect manifest", b.Contract)
	}

	got, err := FromBlock(b)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(m, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestFromBlockWrongKind(t *testing.T) {
	b, err := brightchain.RandomBlock(brightchain.Nano, brightchain.StorageContract{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err = FromBlock(b); err == nil {
		t.Error("decoded a manifest from a randomizer block")
	}
}

func TestCheck(t *testing.T) {
	h := brightchain.Sum([]byte("x"))
	five := []brightchain.Hash{h, h, h, h, h}

	cases := []struct {
		name string
		m    Manifest
	}{
		{"tuple count", Manifest{TupleCount: 1, BlockSize: brightchain.Nano, Blocks: five}},
		{"block size", Manifest{TupleCount: 5, BlockSize: 100, Blocks: five}},
		{"empty", Manifest{TupleCount: 5, BlockSize: brightchain.Nano}},
		{"alignment", Manifest{TupleCount: 2, BlockSize: brightchain.Nano, Blocks: five, TotalLength: 10}},
		{"too long", Manifest{TupleCount: 5, BlockSize: brightchain.Nano, Blocks: five, TotalLength: 257}},
		{"too short", Manifest{TupleCount: 5, BlockSize: brightchain.Nano, Blocks: append(five, five...), TotalLength: 256}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if err := c.m.Check(); !errors.Is(err, brightchain.ErrStructure) {
				t.Errorf("got %v, want ErrStructure", err)
			}
		})
	}
}

func TestGroupIntoStripes(t *testing.T) {
	var hashes []brightchain.Hash
	for i := 0; i < 7; i++ {
		hashes = append(hashes, brightchain.Sum([]byte{byte(i)}))
	}
	got := slices.Collect(GroupIntoStripes(hashes, 3))
	if len(got) != 2 {
		t.Fatalf("got %d stripes, want 2", len(got))
	}
	if diff := cmp.Diff(hashes[3:6], got[1]); diff != "" {
		t.Errorf("second stripe mismatch (-want +got):\n%s", diff)
	}
}

func TestStripeCount(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var (
			ctx = context.Background()
			n   = rapid.IntRange(0, 3000).Draw(t, "n")
			k   = rapid.IntRange(2, 7).Draw(t, "k")
		)
		m, g := disperse(t, randBytes(t, n), brightchain.Nano, k)

		wantStripes := (n + int(brightchain.Nano) - 1) / int(brightchain.Nano)
		if wantStripes == 0 {
			wantStripes = 1
		}
		if len(m.Blocks) != wantStripes*k {
			t.Fatalf("got %d hashes, want %d", len(m.Blocks), wantStripes*k)
		}

		sr, err := ReconstructStripes(m, g)
		if err != nil {
			t.Fatal(err)
		}
		var stripes int
		for {
			tuple, err := sr.Next(ctx)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				t.Fatal(err)
			}
			if len(tuple.Members) != m.TupleCount {
				t.Fatalf("stripe %d has %d members, want %d", stripes, len(tuple.Members), m.TupleCount)
			}
			for i, b := range tuple.Members {
				if want := m.Blocks[stripes*k+i]; b.ID != want {
					t.Fatalf("stripe %d member %d is %s, want %s", stripes, i, b.ID, want)
				}
			}
			stripes++
		}
		if stripes != len(m.Blocks)/m.TupleCount {
			t.Fatalf("got %d stripes, want %d", stripes, len(m.Blocks)/m.TupleCount)
		}
		if stripes != m.Stripes() {
			t.Fatalf("read %d stripes, manifest says %d", stripes, m.Stripes())
		}
	})
}

func TestReconstructStripesRejects(t *testing.T) {
	h := brightchain.Sum([]byte("x"))
	if _, err := ReconstructStripes(&Manifest{TupleCount: 2}, nil); !errors.Is(err, brightchain.ErrStructure) {
		t.Errorf("empty: got %v, want ErrStructure", err)
	}
	if _, err := ReconstructStripes(&Manifest{TupleCount: 2, Blocks: []brightchain.Hash{h, h, h}}, nil); !errors.Is(err, brightchain.ErrStructure) {
		t.Errorf("misaligned: got %v, want ErrStructure", err)
	}
}

func TestMissingMember(t *testing.T) {
	ctx := context.Background()
	m, g := disperse(t, randBytes(t, 600), brightchain.Message, 3)
	delete(g.m, m.Blocks[4])

	cr, err := ConsolidateChain(m, g)
	if err != nil {
		t.Fatal(err)
	}
	defer cr.Close()
	if _, err = cr.Next(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err = cr.Next(ctx); !errors.Is(err, brightchain.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestTamperedMember(t *testing.T) {
	ctx := context.Background()
	m, g := disperse(t, randBytes(t, 600), brightchain.Message, 3)

	// Swap a randomizer for a different block of the same size.
	r, err := brightchain.RandomBlock(brightchain.Message, brightchain.StorageContract{})
	if err != nil {
		t.Fatal(err)
	}
	g.m[m.Blocks[1]] = r

	cr, err := ConsolidateChain(m, g)
	if err != nil {
		t.Fatal(err)
	}
	_, err = io.ReadAll(ReadValidatedBytes(ctx, cr, m))
	if !errors.Is(err, brightchain.ErrStructure) {
		t.Errorf("got %v, want ErrStructure", err)
	}
}

type fixedSource []*brightchain.Block

func (s *fixedSource) Next(context.Context) (*brightchain.Block, error) {
	if len(*s) == 0 {
		return nil, io.EOF
	}
	b := (*s)[0]
	*s = (*s)[1:]
	return b, nil
}

func TestReadValidatedBytesRejectsInvalid(t *testing.T) {
	b, err := brightchain.RandomBlock(brightchain.Nano, brightchain.StorageContract{})
	if err != nil {
		t.Fatal(err)
	}
	bad := *b
	bad.ID = brightchain.Sum([]byte("something else"))

	m := &Manifest{TupleCount: 2, BlockSize: brightchain.Nano, TotalLength: 256}
	src := fixedSource{&bad}
	_, err = io.ReadAll(ReadValidatedBytes(context.Background(), &src, m))

	var cve *brightchain.ChainValidationError
	if !errors.As(err, &cve) {
		t.Fatalf("got %v, want ChainValidationError", err)
	}
	if cve.ID != bad.ID {
		t.Errorf("error names %s, want %s", cve.ID, bad.ID)
	}
}

func TestUpdateVersion(t *testing.T) {
	older, _ := disperse(t, randBytes(t, 100), brightchain.Nano, 2)
	newer, _ := disperse(t, randBytes(t, 100), brightchain.Nano, 2)

	if err := UpdateVersion(newer, older); !errors.Is(err, brightchain.ErrStructure) {
		t.Errorf("different correlation ids: got %v, want ErrStructure", err)
	}

	newer.CorrelationID = older.CorrelationID
	older.RequestTime = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	newer.RequestTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := UpdateVersion(newer, older); !errors.Is(err, brightchain.ErrStructure) {
		t.Errorf("earlier request time: got %v, want ErrStructure", err)
	}

	newer.RequestTime = time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
	if err := UpdateVersion(newer, older); err != nil {
		t.Fatal(err)
	}
	if newer.PreviousVersion != older.SourceID {
		t.Errorf("previous version is %s, want %s", newer.PreviousVersion, older.SourceID)
	}
}
