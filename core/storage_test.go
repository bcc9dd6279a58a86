package core

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

func TestStorageManagerMutateCreatesItems(t *testing.T) {
	ctx := context.Background()
	manager := NewStorageManager(NewMemoryAdapter(), 0, nil)
	renter, farmer := testKeyRing(t), testKeyRing(t)
	contract := completeContract(t, renter, farmer, []byte("stored shard"))
	hash := contract.DataHash()

	if _, err := manager.Load(ctx, hash); !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("expected ErrItemNotFound, got %v", err)
	}

	err := manager.Mutate(ctx, hash, func(item *StorageItem) error {
		item.AddContract(farmer.NodeID(), contract)
		return nil
	})
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}

	item, err := manager.Load(ctx, hash)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	stored, ok := item.Contract(farmer.NodeID())
	if !ok {
		t.Fatal("contract not persisted")
	}
	if !stored.Verify(RoleFarmer) {
		t.Fatal("contract signature lost through persistence")
	}
}

func TestStorageManagerSerializesPerKey(t *testing.T) {
	ctx := context.Background()
	manager := NewStorageManager(NewMemoryAdapter(), 0, nil)
	hash := Hash160Hex([]byte("contended"))

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = manager.Mutate(ctx, hash, func(item *StorageItem) error {
				item.SetMeta("peer", "counter", countMeta(item)+1)
				return nil
			})
		}(i)
	}
	wg.Wait()

	item, err := manager.Load(ctx, hash)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := countMeta(item); got != 32 {
		t.Fatalf("lost updates: counter %d, want 32", got)
	}
}

func countMeta(item *StorageItem) int {
	peerMeta, ok := item.Meta["peer"]
	if !ok {
		return 0
	}
	switch v := peerMeta["counter"].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

func TestStorageManagerDeleteRemovesShard(t *testing.T) {
	ctx := context.Background()
	adapter := NewMemoryAdapter()
	manager := NewStorageManager(adapter, 0, nil)
	hash := Hash160Hex([]byte("doomed"))

	writer, err := manager.OpenShardWriter(ctx, hash)
	if err != nil {
		t.Fatalf("writer: %v", err)
	}
	writer.Write([]byte("doomed"))
	if err := writer.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := manager.Mutate(ctx, hash, func(*StorageItem) error { return nil }); err != nil {
		t.Fatalf("mutate: %v", err)
	}

	if err := manager.Delete(ctx, hash); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := manager.Load(ctx, hash); !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("item should be gone, got %v", err)
	}
	if has, _ := manager.HasShard(ctx, hash); has {
		t.Fatal("shard bytes should be gone")
	}
}

func TestStorageManagerLowSpaceEvent(t *testing.T) {
	ctx := context.Background()
	adapter := NewMemoryAdapter()
	manager := NewStorageManager(adapter, 8, nil)

	fired := make(chan int64, 1)
	manager.SetLowSpaceHook(func(used, capacity int64) {
		fired <- used
	})

	hash := Hash160Hex([]byte("big"))
	writer, _ := manager.OpenShardWriter(ctx, hash)
	writer.Write([]byte("0123456789"))
	if err := writer.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := manager.Save(ctx, NewStorageItem(hash)); err != nil {
		t.Fatalf("save: %v", err)
	}

	select {
	case used := <-fired:
		if used < 8 {
			t.Fatalf("hook fired below capacity: %d", used)
		}
	case <-time.After(time.Second):
		t.Fatal("low space hook never fired")
	}
}

func TestFileAdapterShardCommitAndAbort(t *testing.T) {
	ctx := context.Background()
	adapter, err := NewFileAdapter(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("adapter: %v", err)
	}
	hash := Hash160Hex([]byte("file shard"))

	// Aborted writes leave nothing behind.
	writer, err := adapter.OpenShardWriter(ctx, hash)
	if err != nil {
		t.Fatalf("writer: %v", err)
	}
	writer.Write([]byte("partial"))
	if err := writer.Abort(); err != nil {
		t.Fatalf("abort: %v", err)
	}
	if has, _ := adapter.HasShard(ctx, hash); has {
		t.Fatal("aborted shard should not exist")
	}

	// Committed writes round-trip.
	writer, _ = adapter.OpenShardWriter(ctx, hash)
	writer.Write([]byte("file shard"))
	if err := writer.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	reader, err := adapter.OpenShardReader(ctx, hash)
	if err != nil {
		t.Fatalf("reader: %v", err)
	}
	defer reader.Close()
	data, _ := io.ReadAll(reader)
	if string(data) != "file shard" {
		t.Fatalf("read back %q", data)
	}

	used, err := adapter.UsedSpace(ctx)
	if err != nil || used != int64(len("file shard")) {
		t.Fatalf("used space %d (%v)", used, err)
	}
}

func TestFileAdapterItemRoundTrip(t *testing.T) {
	ctx := context.Background()
	adapter, err := NewFileAdapter(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("adapter: %v", err)
	}
	renter, farmer := testKeyRing(t), testKeyRing(t)
	contract := completeContract(t, renter, farmer, []byte("persisted"))
	item := NewStorageItem(contract.DataHash())
	item.AddContract(farmer.NodeID(), contract)
	item.AddAuditTree(farmer.NodeID(), []string{Hash160Hex([]byte("leaf"))})

	if err := adapter.PutItem(ctx, item); err != nil {
		t.Fatalf("put: %v", err)
	}
	loaded, err := adapter.GetItem(ctx, item.Hash)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, ok := loaded.Contract(farmer.NodeID()); !ok {
		t.Fatal("contract lost")
	}
	if len(loaded.Trees[farmer.NodeID()]) != 1 {
		t.Fatal("audit tree lost")
	}

	keys, err := adapter.Keys(ctx)
	if err != nil || len(keys) != 1 || keys[0] != item.Hash {
		t.Fatalf("keys %v (%v)", keys, err)
	}
}
