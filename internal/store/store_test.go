package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/quietloop/riftpull/internal/rangeset"
)

func TestInitGetUpdateRemove(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "model.bin.fdpart")
	if f, err := os.Create(target); err != nil {
		t.Fatal(err)
	} else {
		f.Close()
	}

	s, err := Open(filepath.Join(dir, "store.bin"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	s.InitEntry(target, "model.bin", 1000, "abc", "", "https://example.com/model.bin")

	rec, ok := s.GetEntry(target)
	if !ok {
		t.Fatal("expected entry")
	}
	if rec.FileSize != 1000 || rec.ETag != "abc" {
		t.Fatalf("got %+v", rec)
	}

	progress := rangeset.New(rangeset.Range{Start: 0, End: 500})
	s.UpdateEntry(target, progress, 1500)

	rec, _ = s.GetEntry(target)
	if rec.Progress().Total() != 500 {
		t.Fatalf("progress total = %d, want 500", rec.Progress().Total())
	}

	s.RemoveEntry(target)
	if _, ok := s.GetEntry(target); ok {
		t.Fatal("expected entry removed")
	}
}

func TestPersistAndReload(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "model.bin.fdpart")
	if f, err := os.Create(target); err != nil {
		t.Fatal(err)
	} else {
		f.Close()
	}

	storePath := filepath.Join(dir, "store.bin")
	s, err := Open(storePath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.InitEntry(target, "model.bin", 1000, "abc", "", "https://example.com/model.bin")
	s.UpdateEntry(target, rangeset.New(rangeset.Range{Start: 0, End: 900}), 2000)
	s.flushIfDirty()
	s.Close()

	reloaded, err := Open(storePath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reloaded.Close()

	rec, ok := reloaded.GetEntry(target)
	if !ok {
		t.Fatal("expected reloaded entry")
	}
	if rec.Progress().Total() != 900 {
		t.Fatalf("got %d, want 900", rec.Progress().Total())
	}
}

func TestLoadTreatsTornHeaderAsAbsent(t *testing.T) {
	dir := t.TempDir()
	storePath := filepath.Join(dir, "store.bin")

	// 13 bytes: past the old (wrong) 12-byte guard, but short of the
	// real 16-byte header (4 magic + 4 version + 8 checksum). Before the
	// fix this sliced into data[8:16] and data[16:] out of range.
	if err := os.WriteFile(storePath, make([]byte, 13), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := Open(storePath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if len(s.records) != 0 {
		t.Fatalf("expected empty table for a torn header, got %d records", len(s.records))
	}
}

func TestUpdateEntryCopiesProgressEntries(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "model.bin.fdpart")
	if f, err := os.Create(target); err != nil {
		t.Fatal(err)
	} else {
		f.Close()
	}

	s, err := Open(filepath.Join(dir, "store.bin"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	s.InitEntry(target, "model.bin", 1000, "abc", "", "https://example.com/model.bin")

	progress := rangeset.New(rangeset.Range{Start: 0, End: 100})
	s.UpdateEntry(target, progress, 0)

	// Mutating progress after the call must not affect the stored record:
	// UpdateEntry must not alias progress's backing slice.
	progress.Merge(rangeset.Range{Start: 100, End: 900})

	rec, _ := s.GetEntry(target)
	if rec.Progress().Total() != 100 {
		t.Fatalf("stored progress total = %d, want 100 (record aliased caller's Set)", rec.Progress().Total())
	}
}

func TestPruneMissingDropsDeletedTargets(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "gone.fdpart")
	storePath := filepath.Join(dir, "store.bin")

	s, err := Open(storePath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.InitEntry(target, "gone", 10, "", "", "")
	s.flushIfDirty()
	s.Close()

	// target file never created on disk, so reopening must prune it.
	reopened, err := Open(storePath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	if _, ok := reopened.GetEntry(target); ok {
		t.Fatal("expected pruned entry to be absent")
	}
}
