package lsmkv

import (
	"bytes"
	"testing"
)

func TestOpenPutGetDeleteClose(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	db, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if err := db.Put([]byte("greeting"), []byte("hello")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	v, found, err := db.Get([]byte("greeting"))
	if err != nil || !found || !bytes.Equal(v, []byte("hello")) {
		t.Fatalf("Get = (%q, %v, %v), want (hello, true, nil)", v, found, err)
	}

	if err := db.Delete([]byte("greeting")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, found, err := db.Get([]byte("greeting")); err != nil || found {
		t.Fatalf("Get after delete = (found=%v, %v), want (false, nil)", found, err)
	}

	stats := db.Stats()
	if stats.Flushes < 0 {
		t.Fatalf("Stats().Flushes = %d, want >= 0", stats.Flushes)
	}
}

func TestReopenAfterClosePreservesData(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)

	db, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := db.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db2, err := Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db2.Close()
	v, found, err := db2.Get([]byte("k"))
	if err != nil || !found || !bytes.Equal(v, []byte("v")) {
		t.Fatalf("Get after reopen = (%q, %v, %v)", v, found, err)
	}
}
