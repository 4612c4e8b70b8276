package corestore

import (
	"path/filepath"
	"testing"
)

func TestBufferPageInsertAndReadBack(t *testing.T) {
	dir := t.TempDir()
	p, err := newBufferPage(filepath.Join(dir, "page-0"), 0, nil)
	if err != nil {
		t.Fatalf("newBufferPage: %v", err)
	}
	defer p.Close()

	w1 := NewWrite(TextFromString("name"), NewString("alice"), Identifier(1), 100, ActionAdd, true)
	w2 := NewWrite(TextFromString("name"), NewString("bob"), Identifier(2), 101, ActionAdd, true)

	if err := p.Insert(w1, SyncEach); err != nil {
		t.Fatalf("insert w1: %v", err)
	}
	if err := p.Insert(w2, SyncEach); err != nil {
		t.Fatalf("insert w2: %v", err)
	}

	got := p.Writes()
	if len(got) != 2 {
		t.Fatalf("expected 2 writes, got %d", len(got))
	}
	if got[0].Record != 1 || got[1].Record != 2 {
		t.Fatalf("expected writes in insertion order, got %+v", got)
	}
}

func TestBufferPageSealRejectsFurtherInserts(t *testing.T) {
	dir := t.TempDir()
	p, err := newBufferPage(filepath.Join(dir, "page-0"), 0, nil)
	if err != nil {
		t.Fatalf("newBufferPage: %v", err)
	}
	defer p.Close()

	if err := p.Seal(); err != nil {
		t.Fatalf("seal: %v", err)
	}

	w := NewWrite(TextFromString("name"), NewString("alice"), Identifier(1), 100, ActionAdd, true)
	if err := p.Insert(w, SyncEach); err != ErrClosed {
		t.Fatalf("expected ErrClosed after seal, got %v", err)
	}
}

func TestOpenBufferPageRecoversWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "page-0")
	p, err := newBufferPage(path, 7, nil)
	if err != nil {
		t.Fatalf("newBufferPage: %v", err)
	}

	w1 := NewWrite(TextFromString("name"), NewString("alice"), Identifier(1), 100, ActionAdd, true)
	w2 := NewWrite(TextFromString("name"), NewString("bob"), Identifier(2), 101, ActionRemove, true)
	if err := p.Insert(w1, SyncEach); err != nil {
		t.Fatalf("insert w1: %v", err)
	}
	if err := p.Insert(w2, SyncEach); err != nil {
		t.Fatalf("insert w2: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := openBufferPage(path, nil, func(Text) bool { return true })
	if err != nil {
		t.Fatalf("openBufferPage: %v", err)
	}
	defer reopened.Close()

	if reopened.id != 7 {
		t.Fatalf("expected recovered id 7, got %d", reopened.id)
	}
	writes := reopened.Writes()
	if len(writes) != 2 {
		t.Fatalf("expected 2 recovered writes, got %d", len(writes))
	}
	if writes[0].Record != 1 || writes[0].Action != ActionAdd {
		t.Fatalf("expected first write to be add of record 1, got %+v", writes[0])
	}
	if writes[1].Record != 2 || writes[1].Action != ActionRemove {
		t.Fatalf("expected second write to be remove of record 2, got %+v", writes[1])
	}
	if !writes[0].Searchable || !writes[1].Searchable {
		t.Fatalf("expected searchable callback to mark both writes searchable")
	}
}

func TestBufferPageRemoveDeletesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "page-0")
	p, err := newBufferPage(path, 0, nil)
	if err != nil {
		t.Fatalf("newBufferPage: %v", err)
	}

	if err := p.Remove(); err != nil {
		t.Fatalf("remove: %v", err)
	}

	if _, err := openBufferPage(path, nil, nil); err == nil {
		t.Fatalf("expected open to fail after removal")
	}
}
