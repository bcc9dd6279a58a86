package core

// StorageManager owns the adapter.  All item mutation flows through Mutate,
// which serializes writers per data hash — concurrent CONSIGN and AUDIT on
// the same shard never interleave their read-modify-write, while distinct
// hashes proceed independently.

import (
	"context"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
)

// LowSpaceHook is invoked (outside the key lock) when used space crosses the
// configured capacity.
type LowSpaceHook func(used, capacity int64)

type StorageManager struct {
	adapter  StorageAdapter
	capacity int64
	logger   *zap.SugaredLogger

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	hookMu sync.Mutex
	onLow  LowSpaceHook
	warned bool
}

// NewStorageManager wraps an adapter.  capacity of 0 disables the free-space
// watermark.
func NewStorageManager(adapter StorageAdapter, capacity int64, lg *zap.SugaredLogger) *StorageManager {
	if lg == nil {
		lg = zap.NewNop().Sugar()
	}
	return &StorageManager{
		adapter:  adapter,
		capacity: capacity,
		logger:   lg,
		locks:    make(map[string]*sync.Mutex),
	}
}

// SetLowSpaceHook registers the free-space event receiver.
func (m *StorageManager) SetLowSpaceHook(hook LowSpaceHook) {
	m.hookMu.Lock()
	m.onLow = hook
	m.hookMu.Unlock()
}

func (m *StorageManager) keyLock(hash string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[hash]
	if !ok {
		l = &sync.Mutex{}
		m.locks[hash] = l
	}
	return l
}

// Load fetches the item for a hash.  ErrItemNotFound when absent.
func (m *StorageManager) Load(ctx context.Context, hash string) (*StorageItem, error) {
	return m.adapter.GetItem(ctx, hash)
}

// Save persists an item under its key lock.
func (m *StorageManager) Save(ctx context.Context, item *StorageItem) error {
	l := m.keyLock(item.Hash)
	l.Lock()
	defer l.Unlock()
	if err := m.adapter.PutItem(ctx, item); err != nil {
		return err
	}
	m.checkSpace(ctx)
	return nil
}

// Mutate loads (or creates) the item for hash, applies fn and persists the
// result, all under the per-hash lock.
func (m *StorageManager) Mutate(ctx context.Context, hash string, fn func(item *StorageItem) error) error {
	l := m.keyLock(hash)
	l.Lock()
	defer l.Unlock()

	item, err := m.adapter.GetItem(ctx, hash)
	if err == ErrItemNotFound {
		item = NewStorageItem(hash)
	} else if err != nil {
		return err
	}
	if err := fn(item); err != nil {
		return err
	}
	if err := m.adapter.PutItem(ctx, item); err != nil {
		return err
	}
	m.checkSpace(ctx)
	return nil
}

// Delete removes an item and its shard bytes.
func (m *StorageManager) Delete(ctx context.Context, hash string) error {
	l := m.keyLock(hash)
	l.Lock()
	defer l.Unlock()
	if err := m.adapter.DelItem(ctx, hash); err != nil {
		return err
	}
	if err := m.adapter.DelShard(ctx, hash); err != nil {
		return err
	}
	m.logger.Infof("deleted storage item %s", hash)
	return nil
}

// Keys lists every stored item hash.
func (m *StorageManager) Keys(ctx context.Context) ([]string, error) {
	return m.adapter.Keys(ctx)
}

// HasShard reports whether shard bytes exist for hash.
func (m *StorageManager) HasShard(ctx context.Context, hash string) (bool, error) {
	return m.adapter.HasShard(ctx, hash)
}

// OpenShardReader opens the stored shard bytes.
func (m *StorageManager) OpenShardReader(ctx context.Context, hash string) (io.ReadCloser, error) {
	return m.adapter.OpenShardReader(ctx, hash)
}

// OpenShardWriter opens a staging writer for incoming shard bytes.
func (m *StorageManager) OpenShardWriter(ctx context.Context, hash string) (ShardWriter, error) {
	return m.adapter.OpenShardWriter(ctx, hash)
}

// DelShard discards shard bytes only, keeping the item record.
func (m *StorageManager) DelShard(ctx context.Context, hash string) error {
	return m.adapter.DelShard(ctx, hash)
}

// UsedSpace reports adapter usage in bytes.
func (m *StorageManager) UsedSpace(ctx context.Context) (int64, error) {
	return m.adapter.UsedSpace(ctx)
}

func (m *StorageManager) checkSpace(ctx context.Context) {
	if m.capacity <= 0 {
		return
	}
	used, err := m.adapter.UsedSpace(ctx)
	if err != nil {
		m.logger.Warnf("used space check failed: %v", err)
		return
	}
	m.hookMu.Lock()
	if used < m.capacity {
		m.warned = false
		m.hookMu.Unlock()
		return
	}
	if m.warned {
		m.hookMu.Unlock()
		return
	}
	m.warned = true
	hook := m.onLow
	m.hookMu.Unlock()

	m.logger.Warnf("storage capacity reached: %d/%d bytes", used, m.capacity)
	if hook != nil {
		go hook(used, m.capacity)
	}
}

// ContractFor loads the contract held with nodeID for hash.
func (m *StorageManager) ContractFor(ctx context.Context, hash, nodeID string) (*Contract, error) {
	item, err := m.Load(ctx, hash)
	if err != nil {
		return nil, err
	}
	c, ok := item.Contract(nodeID)
	if !ok {
		return nil, fmt.Errorf("%w: no contract with %s", ErrNotAuthorized, nodeID)
	}
	return c, nil
}
