package whiten

import (
	"bytes"
	"errors"
	"testing"

	"pgregory.net/rapid"

	"github.com/brightchain/brightchain"
)

func TestWhitenInverse(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var (
			size = rapid.SampledFrom([]brightchain.BlockSize{brightchain.Nano, brightchain.Message, brightchain.Tiny}).Draw(t, "size")
			k    = rapid.IntRange(2, 5).Draw(t, "k")
			data = rapid.SliceOfN(rapid.Byte(), int(size), int(size)).Draw(t, "data")
		)

		src, err := brightchain.NewBlock(brightchain.KindSource, data, brightchain.StorageContract{})
		if err != nil {
			t.Fatal(err)
		}
		tuple, err := Whiten(src, k)
		if err != nil {
			t.Fatal(err)
		}
		if len(tuple.Members) != k {
			t.Fatalf("got %d members, want %d", len(tuple.Members), k)
		}
		for _, m := range tuple.Members {
			if m.Size != size {
				t.Fatalf("member %s has size %s, want %s", m.ID, m.Size, size)
			}
		}

		got, err := Consolidate(tuple.Members, k)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got.Data, src.Data) {
			t.Fatal("consolidated tuple differs from source")
		}
		if got.ID != src.ID {
			t.Fatalf("got id %s, want %s", got.ID, src.ID)
		}
	})
}

func TestDuplicateSkip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		k := rapid.IntRange(2, 5).Draw(t, "k")
		src, err := brightchain.RandomBlock(brightchain.Nano, brightchain.StorageContract{})
		if err != nil {
			t.Fatal(err)
		}
		tuple, err := Whiten(src, k)
		if err != nil {
			t.Fatal(err)
		}

		once, err := Consolidate(tuple.Members, k)
		if err != nil {
			t.Fatal(err)
		}

		dupIndex := rapid.IntRange(0, k-1).Draw(t, "dup")
		withDup := append(append([]*brightchain.Block{}, tuple.Members...), tuple.Members[dupIndex])
		twice, err := Consolidate(withDup, k)
		if err != nil {
			t.Fatal(err)
		}

		if once.ID != twice.ID {
			t.Fatal("duplicate member changed the consolidated result")
		}
		if twice.ID != src.ID {
			t.Fatal("consolidation with a duplicate does not reproduce the source")
		}
	})
}

func TestWhitenTupleCount(t *testing.T) {
	src, err := brightchain.RandomBlock(brightchain.Nano, brightchain.StorageContract{})
	if err != nil {
		t.Fatal(err)
	}
	for _, k := range []int{-1, 0, 1} {
		if _, err := Whiten(src, k); !errors.Is(err, brightchain.ErrStructure) {
			t.Errorf("k=%d: got %v, want ErrStructure", k, err)
		}
	}
}

func TestConsolidateMismatch(t *testing.T) {
	a, err := brightchain.RandomBlock(brightchain.Nano, brightchain.StorageContract{})
	if err != nil {
		t.Fatal(err)
	}
	b, err := brightchain.RandomBlock(brightchain.Message, brightchain.StorageContract{})
	if err != nil {
		t.Fatal(err)
	}
	c, err := brightchain.RandomBlock(brightchain.Nano, brightchain.StorageContract{})
	if err != nil {
		t.Fatal(err)
	}

	if _, err = Consolidate([]*brightchain.Block{a, b}, 2); !errors.Is(err, brightchain.ErrStructure) {
		t.Errorf("size mismatch: got %v, want ErrStructure", err)
	}
	if _, err = Consolidate([]*brightchain.Block{a, c}, 3); !errors.Is(err, brightchain.ErrStructure) {
		t.Errorf("count mismatch: got %v, want ErrStructure", err)
	}
	if _, err = Consolidate([]*brightchain.Block{a, a}, 2); !errors.Is(err, brightchain.ErrStructure) {
		t.Errorf("duplicate-only tuple: got %v, want ErrStructure", err)
	}
}

func TestWhitenWithRejectsRepeats(t *testing.T) {
	src, err := brightchain.RandomBlock(brightchain.Nano, brightchain.StorageContract{})
	if err != nil {
		t.Fatal(err)
	}
	r, err := brightchain.RandomBlock(brightchain.Nano, brightchain.StorageContract{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err = WhitenWith(src, []*brightchain.Block{r, r}); !errors.Is(err, brightchain.ErrStructure) {
		t.Errorf("got %v, want ErrStructure", err)
	}
	if _, err = WhitenWith(src, []*brightchain.Block{src}); !errors.Is(err, brightchain.ErrStructure) {
		t.Errorf("got %v, want ErrStructure", err)
	}
}

func TestSharedRandomizers(t *testing.T) {
	r1, err := brightchain.RandomBlock(brightchain.Nano, brightchain.StorageContract{})
	if err != nil {
		t.Fatal(err)
	}
	r2, err := brightchain.RandomBlock(brightchain.Nano, brightchain.StorageContract{})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		src, err := brightchain.RandomBlock(brightchain.Nano, brightchain.StorageContract{})
		if err != nil {
			t.Fatal(err)
		}
		tuple, err := WhitenWith(src, []*brightchain.Block{r1, r2})
		if err != nil {
			t.Fatal(err)
		}
		got, err := Consolidate(tuple.Members, 3)
		if err != nil {
			t.Fatal(err)
		}
		if got.ID != src.ID {
			t.Fatalf("round %d: consolidation mismatch", i)
		}
	}
}
