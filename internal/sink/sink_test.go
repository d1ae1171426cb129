package sink

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/quietloop/riftpull/internal/rangeset"
)

func TestSequentialPushInOrder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.fdpart")

	s, err := NewSequential(path, 4096)
	if err != nil {
		t.Fatalf("NewSequential: %v", err)
	}

	if err := s.Push(rangeset.Range{Start: 0, End: 5}, []byte("hello")); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := s.Push(rangeset.Range{Start: 5, End: 10}, []byte("world")); err != nil {
		t.Fatalf("Push: %v", err)
	}

	if err := s.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "helloworld" {
		t.Fatalf("got %q", got)
	}
}

func TestSequentialRejectsOutOfOrder(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSequential(filepath.Join(dir, "out.fdpart"), 4096)
	if err != nil {
		t.Fatalf("NewSequential: %v", err)
	}
	defer s.Close()

	if err := s.Push(rangeset.Range{Start: 5, End: 10}, []byte("world")); err == nil {
		t.Fatal("expected error for out-of-order push")
	}
}

func TestRandomAccessOutOfOrderWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.fdpart")

	ra, err := NewRandomAccess(path, 10)
	if err != nil {
		t.Fatalf("NewRandomAccess: %v", err)
	}

	if err := ra.Push(rangeset.Range{Start: 5, End: 10}, []byte("world")); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := ra.Push(rangeset.Range{Start: 0, End: 5}, []byte("hello")); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := ra.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "helloworld" {
		t.Fatalf("got %q", got)
	}
}

func TestRandomAccessRejectsOutOfBounds(t *testing.T) {
	dir := t.TempDir()
	ra, err := NewRandomAccess(filepath.Join(dir, "out.fdpart"), 10)
	if err != nil {
		t.Fatalf("NewRandomAccess: %v", err)
	}
	defer ra.Close()

	if err := ra.Push(rangeset.Range{Start: 8, End: 20}, make([]byte, 12)); err == nil {
		t.Fatal("expected out-of-bounds error")
	}
}
