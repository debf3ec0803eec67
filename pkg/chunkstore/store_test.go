package chunkstore

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/cthuloops/clox/pkg/bytecode"
)

func openTemp(t *testing.T, minConstants int) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "cache", "chunks.db"), minConstants)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func assemble(t *testing.T, src string) *bytecode.Chunk {
	t.Helper()
	c, err := bytecode.Assemble(src, bytecode.AssembleOptions{})
	if err != nil {
		t.Fatalf("Assemble(%q): %v", src, err)
	}
	return c
}

func TestSaveLoad(t *testing.T) {
	s := openTemp(t, 4)
	c := assemble(t, "1.5 2 + 3 4 5 + + *")

	if err := s.Save("prog", c); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Load("prog")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !bytes.Equal(got.Code, c.Code) {
		t.Errorf("Code = % X, want % X", got.Code, c.Code)
	}
	if got.ConstantCount() != 5 {
		t.Fatalf("ConstantCount() = %d, want 5", got.ConstantCount())
	}
	for i := 0; i < 5; i++ {
		if got.GetConstant(i) != c.GetConstant(i) {
			t.Errorf("constant %d = %v, want %v", i, got.GetConstant(i), c.GetConstant(i))
		}
	}
	// Growth base 4: 4 -> 8 for five constants.
	if got.Constants.Capacity() != 8 {
		t.Errorf("Constants.Capacity() = %d, want 8", got.Constants.Capacity())
	}
}

func TestSaveReplaces(t *testing.T) {
	s := openTemp(t, 0)
	if err := s.Save("p", assemble(t, "1")); err != nil {
		t.Fatal(err)
	}
	if err := s.Save("p", assemble(t, "1 2 +")); err != nil {
		t.Fatal(err)
	}

	got, err := s.Load("p")
	if err != nil {
		t.Fatal(err)
	}
	if got.ConstantCount() != 2 {
		t.Errorf("ConstantCount() = %d, want 2", got.ConstantCount())
	}
}

func TestLoadMissing(t *testing.T) {
	s := openTemp(t, 0)
	if _, err := s.Load("nope"); !errors.Is(err, ErrChunkNotFound) {
		t.Errorf("Load error = %v, want ErrChunkNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	s := openTemp(t, 0)
	if err := s.Save("p", assemble(t, "1")); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete("p"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Load("p"); !errors.Is(err, ErrChunkNotFound) {
		t.Errorf("Load after Delete error = %v, want ErrChunkNotFound", err)
	}
	if err := s.Delete("p"); !errors.Is(err, ErrChunkNotFound) {
		t.Errorf("second Delete error = %v, want ErrChunkNotFound", err)
	}
}

func TestList(t *testing.T) {
	s := openTemp(t, 0)
	for _, name := range []string{"b", "a", "c"} {
		if err := s.Save(name, assemble(t, "1 2 +")); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("len(List()) = %d, want 3", len(entries))
	}
	for i, want := range []string{"a", "b", "c"} {
		if entries[i].Name != want {
			t.Errorf("entries[%d].Name = %q, want %q", i, entries[i].Name, want)
		}
		if entries[i].Constants != 2 || entries[i].CodeLen != 6 {
			t.Errorf("entries[%d] = %+v, want 2 constants and 6 code bytes", i, entries[i])
		}
		if entries[i].SavedAt.IsZero() {
			t.Errorf("entries[%d].SavedAt is zero", i)
		}
	}
}

func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chunks.db")
	s, err := Open(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Save("p", assemble(t, "7 neg")); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = Open(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	got, err := s.Load("p")
	if err != nil {
		t.Fatalf("Load after reopen: %v", err)
	}
	if got.GetConstant(0) != 7 {
		t.Errorf("GetConstant(0) = %v, want 7", got.GetConstant(0))
	}
}

func TestSourceKey(t *testing.T) {
	a, b := SourceKey("1 2 +"), SourceKey("1 2 +")
	if a != b {
		t.Error("SourceKey is not stable")
	}
	if a == SourceKey("1 2 -") {
		t.Error("different sources share a key")
	}
	if len(a) != len("src:")+64 {
		t.Errorf("len(SourceKey) = %d", len(a))
	}
}
