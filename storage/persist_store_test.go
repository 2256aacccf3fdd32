package storage

import (
	"testing"

	"github.com/syndtr/goleveldb/leveldb"
)

func TestPersistenceStore_BasicOperations(t *testing.T) {
	ps, err := NewPersistenceStore("")
	if err != nil {
		t.Fatalf("Failed to create memory store: %v", err)
	}
	defer ps.Close()

	key := []byte("test-key")
	value := []byte("test-value")
	if err := ps.Put(key, value); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, found, err := ps.Get(key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !found {
		t.Fatal("Expected key to be found")
	}
	if string(got) != string(value) {
		t.Errorf("Get returned %q, want %q", got, value)
	}

	_, found, err = ps.Get([]byte("non-existent"))
	if err != nil {
		t.Fatalf("Get non-existent failed: %v", err)
	}
	if found {
		t.Error("Expected key not to be found")
	}
}

func TestPersistenceStore_BatchAndRange(t *testing.T) {
	ps, err := NewPersistenceStore("")
	if err != nil {
		t.Fatalf("Failed to create memory store: %v", err)
	}
	defer ps.Close()

	batch := new(leveldb.Batch)
	batch.Put([]byte("blkh_0000000001"), []byte{1})
	batch.Put([]byte("blkh_0000000002"), []byte{2})
	batch.Put([]byte("blkh_0000000003"), []byte{3})
	batch.Put([]byte("tx_aa"), []byte{4})
	if err := ps.Write(batch); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	pairs, err := ps.GetWithPrefix([]byte("blkh_"))
	if err != nil {
		t.Fatalf("GetWithPrefix failed: %v", err)
	}
	if len(pairs) != 3 {
		t.Fatalf("GetWithPrefix returned %d pairs, want 3", len(pairs))
	}
	for i, kv := range pairs {
		if kv[1][0] != byte(i+1) {
			t.Errorf("pair %d out of order: %q", i, kv[0])
		}
	}

	pairs, err = ps.GetRange([]byte("blkh_0000000002"), []byte("blkh_0000000003"))
	if err != nil {
		t.Fatalf("GetRange failed: %v", err)
	}
	if len(pairs) != 1 || string(pairs[0][0]) != "blkh_0000000002" {
		t.Errorf("GetRange returned %v", pairs)
	}
}

func TestPersistenceStore_Reopen(t *testing.T) {
	dir := t.TempDir()
	ps, err := NewPersistenceStore(dir)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	if err := ps.Put([]byte("tip"), []byte("value")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := ps.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	ps, err = NewPersistenceStore(dir)
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	defer ps.Close()
	got, found, err := ps.Get([]byte("tip"))
	if err != nil || !found || string(got) != "value" {
		t.Fatalf("Get after reopen = %q, %v, %v", got, found, err)
	}
}
