package core

// Storage adapters.  The manager treats persistence as opaque: an ordered
// item store keyed by data hash plus a blob store for shard bytes.  Two
// implementations ship here — an in-memory adapter for tests and loopback
// runs, and a file-backed adapter laying JSON item records and shard blobs
// under a data directory.

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// ErrItemNotFound is returned for unknown item keys.
var ErrItemNotFound = errors.New("storage item not found")

// ShardWriter receives shard bytes and either commits them under the hash or
// aborts and discards the partial shard.
type ShardWriter interface {
	io.Writer
	Commit() error
	Abort() error
}

// StorageAdapter is the persistence boundary owned by the StorageManager.
type StorageAdapter interface {
	GetItem(ctx context.Context, hash string) (*StorageItem, error)
	PutItem(ctx context.Context, item *StorageItem) error
	DelItem(ctx context.Context, hash string) error
	Keys(ctx context.Context) ([]string, error)

	HasShard(ctx context.Context, hash string) (bool, error)
	OpenShardReader(ctx context.Context, hash string) (io.ReadCloser, error)
	OpenShardWriter(ctx context.Context, hash string) (ShardWriter, error)
	DelShard(ctx context.Context, hash string) error

	UsedSpace(ctx context.Context) (int64, error)
}

// ---------------------------------------------------------------------------
// Memory adapter
// ---------------------------------------------------------------------------

type MemoryAdapter struct {
	mu     sync.RWMutex
	items  map[string][]byte
	shards map[string][]byte
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		items:  make(map[string][]byte),
		shards: make(map[string][]byte),
	}
}

func (m *MemoryAdapter) GetItem(_ context.Context, hash string) (*StorageItem, error) {
	m.mu.RLock()
	raw, ok := m.items[hash]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrItemNotFound
	}
	var item StorageItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("decode item %s: %w", hash, err)
	}
	return &item, nil
}

func (m *MemoryAdapter) PutItem(_ context.Context, item *StorageItem) error {
	raw, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode item %s: %w", item.Hash, err)
	}
	m.mu.Lock()
	m.items[item.Hash] = raw
	m.mu.Unlock()
	return nil
}

func (m *MemoryAdapter) DelItem(_ context.Context, hash string) error {
	m.mu.Lock()
	delete(m.items, hash)
	m.mu.Unlock()
	return nil
}

func (m *MemoryAdapter) Keys(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.items))
	for k := range m.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryAdapter) HasShard(_ context.Context, hash string) (bool, error) {
	m.mu.RLock()
	_, ok := m.shards[hash]
	m.mu.RUnlock()
	return ok, nil
}

func (m *MemoryAdapter) OpenShardReader(_ context.Context, hash string) (io.ReadCloser, error) {
	m.mu.RLock()
	raw, ok := m.shards[hash]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrShardNotFound
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (m *MemoryAdapter) OpenShardWriter(_ context.Context, hash string) (ShardWriter, error) {
	return &memoryShardWriter{adapter: m, hash: hash}, nil
}

func (m *MemoryAdapter) DelShard(_ context.Context, hash string) error {
	m.mu.Lock()
	delete(m.shards, hash)
	m.mu.Unlock()
	return nil
}

func (m *MemoryAdapter) UsedSpace(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var used int64
	for _, shard := range m.shards {
		used += int64(len(shard))
	}
	return used, nil
}

type memoryShardWriter struct {
	adapter *MemoryAdapter
	hash    string
	buf     bytes.Buffer
	done    bool
}

func (w *memoryShardWriter) Write(p []byte) (int, error) {
	if w.done {
		return 0, errors.New("shard writer closed")
	}
	return w.buf.Write(p)
}

func (w *memoryShardWriter) Commit() error {
	if w.done {
		return errors.New("shard writer closed")
	}
	w.done = true
	w.adapter.mu.Lock()
	w.adapter.shards[w.hash] = append([]byte(nil), w.buf.Bytes()...)
	w.adapter.mu.Unlock()
	return nil
}

func (w *memoryShardWriter) Abort() error {
	w.done = true
	w.buf.Reset()
	return nil
}

// ---------------------------------------------------------------------------
// File adapter
// ---------------------------------------------------------------------------

// FileAdapter persists item records as JSON files and shard bytes as blobs
// under dataDir.  Writes land in a staging file and are renamed on commit so
// a torn upload never leaves a partial shard behind.
type FileAdapter struct {
	dataDir string
	logger  *zap.SugaredLogger
}

func NewFileAdapter(dataDir string, lg *zap.SugaredLogger) (*FileAdapter, error) {
	if lg == nil {
		lg = zap.NewNop().Sugar()
	}
	for _, sub := range []string{"items", "shards", "staging"} {
		if err := os.MkdirAll(filepath.Join(dataDir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("data dir: %w", err)
		}
	}
	return &FileAdapter{dataDir: dataDir, logger: lg}, nil
}

func (f *FileAdapter) itemPath(hash string) string {
	return filepath.Join(f.dataDir, "items", hash+".json")
}

func (f *FileAdapter) shardPath(hash string) string {
	return filepath.Join(f.dataDir, "shards", hash)
}

func (f *FileAdapter) GetItem(_ context.Context, hash string) (*StorageItem, error) {
	raw, err := os.ReadFile(f.itemPath(hash))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read item %s: %w", hash, err)
	}
	var item StorageItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("decode item %s: %w", hash, err)
	}
	return &item, nil
}

func (f *FileAdapter) PutItem(_ context.Context, item *StorageItem) error {
	raw, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode item %s: %w", item.Hash, err)
	}
	if err := os.WriteFile(f.itemPath(item.Hash), raw, 0o644); err != nil {
		return fmt.Errorf("write item %s: %w", item.Hash, err)
	}
	f.logger.Debugf("persisted item %s (%d contracts)", item.Hash, len(item.Contracts))
	return nil
}

func (f *FileAdapter) DelItem(_ context.Context, hash string) error {
	if err := os.Remove(f.itemPath(hash)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete item %s: %w", hash, err)
	}
	return nil
}

func (f *FileAdapter) Keys(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(f.dataDir, "items"))
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if filepath.Ext(name) == ".json" {
			keys = append(keys, name[:len(name)-len(".json")])
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (f *FileAdapter) HasShard(_ context.Context, hash string) (bool, error) {
	_, err := os.Stat(f.shardPath(hash))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (f *FileAdapter) OpenShardReader(_ context.Context, hash string) (io.ReadCloser, error) {
	file, err := os.Open(f.shardPath(hash))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrShardNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open shard %s: %w", hash, err)
	}
	return file, nil
}

func (f *FileAdapter) OpenShardWriter(_ context.Context, hash string) (ShardWriter, error) {
	staging, err := os.CreateTemp(filepath.Join(f.dataDir, "staging"), hash+"-*")
	if err != nil {
		return nil, fmt.Errorf("stage shard %s: %w", hash, err)
	}
	return &fileShardWriter{file: staging, final: f.shardPath(hash), logger: f.logger}, nil
}

func (f *FileAdapter) DelShard(_ context.Context, hash string) error {
	if err := os.Remove(f.shardPath(hash)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete shard %s: %w", hash, err)
	}
	return nil
}

func (f *FileAdapter) UsedSpace(_ context.Context) (int64, error) {
	entries, err := os.ReadDir(filepath.Join(f.dataDir, "shards"))
	if err != nil {
		return 0, fmt.Errorf("list shards: %w", err)
	}
	var used int64
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		used += info.Size()
	}
	return used, nil
}

type fileShardWriter struct {
	file   *os.File
	final  string
	logger *zap.SugaredLogger
	done   bool
}

func (w *fileShardWriter) Write(p []byte) (int, error) {
	if w.done {
		return 0, errors.New("shard writer closed")
	}
	return w.file.Write(p)
}

func (w *fileShardWriter) Commit() error {
	if w.done {
		return errors.New("shard writer closed")
	}
	w.done = true
	if err := w.file.Close(); err != nil {
		return err
	}
	if err := os.Rename(w.file.Name(), w.final); err != nil {
		return fmt.Errorf("commit shard: %w", err)
	}
	w.logger.Debugf("committed shard %s", filepath.Base(w.final))
	return nil
}

func (w *fileShardWriter) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	_ = w.file.Close()
	return os.Remove(w.file.Name())
}
