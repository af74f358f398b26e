// Package walstore implements the write-ahead-log storage engine: one
// append-only, CRC-protected file per container, replayed into an
// in-memory index on load and compacted in place as tombstones accumulate.
//
// This is the durability floor the rest of mora is built on. Every other
// package talks to containers only through Engine; nothing outside this
// package ever opens a .wal file directly.
package walstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/edoardocostantinidev/mora/internal/timestamp"
)

const containerExt = ".wal"

// Item is a single key/payload pair used by the batch store and delete
// operations.
type Item struct {
	Key     timestamp.Timestamp
	Payload []byte
}

// Engine owns every container under a single data directory. Engine.mu
// guards the container map itself (create/delete/list); each container
// then guards its own file and index independently, so operations against
// two different containers never contend.
type Engine struct {
	mu         sync.RWMutex
	dir        string
	containers map[string]*container
}

// New returns an Engine rooted at dir. Call Load before using it.
func New(dir string) *Engine {
	return &Engine{
		dir:        dir,
		containers: make(map[string]*container),
	}
}

// Load ensures the data directory exists and replays every *.wal file in
// it, rebuilding each container's live-key index. It must be called
// exactly once, before any other Engine method.
func (e *Engine) Load() error {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrDirectoryCreationFailed, err)
	}
	entries, err := os.ReadDir(e.dir)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDirectoryReadFailed, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), containerExt) {
			continue
		}
		id := strings.TrimSuffix(ent.Name(), containerExt)
		c, err := loadContainer(filepath.Join(e.dir, ent.Name()), id)
		if err != nil {
			return err
		}
		e.containers[id] = c
	}
	ccLogger.Infof("walstore: loaded %d containers from %s", len(e.containers), e.dir)
	return nil
}

// CreateContainer makes a new, empty container identified by id.
func (e *Engine) CreateContainer(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.containers[id]; ok {
		return fmt.Errorf("%w: %s", ErrContainerAlreadyExists, id)
	}
	c, err := createContainer(e.dir, id)
	if err != nil {
		return err
	}
	e.containers[id] = c
	return nil
}

// DeleteContainer removes a container and its backing file entirely.
func (e *Engine) DeleteContainer(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.containers[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrContainerNotFound, id)
	}
	if err := c.close(); err != nil {
		return fmt.Errorf("%w: %v", ErrContainerDeletionFailed, err)
	}
	if err := os.Remove(c.path); err != nil {
		return fmt.Errorf("%w: %v", ErrContainerDeletionFailed, err)
	}
	delete(e.containers, id)
	return nil
}

// ListContainers returns the ids of every known container, in no
// particular order.
func (e *Engine) ListContainers() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.containers))
	for id := range e.containers {
		out = append(out, id)
	}
	return out
}

func (e *Engine) lookup(id string) (*container, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.containers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrContainerNotFound, id)
	}
	return c, nil
}

// StoreItem durably appends a single item to container id.
func (e *Engine) StoreItem(id string, key timestamp.Timestamp, payload []byte) error {
	c, err := e.lookup(id)
	if err != nil {
		return err
	}
	return c.storeItem(key, payload)
}

// StoreItems durably appends a batch of items to container id with a
// single fsync.
func (e *Engine) StoreItems(id string, items []Item) error {
	c, err := e.lookup(id)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	return c.storeItems(items)
}

// DeleteItem marks key as deleted in container id. key need not currently
// be live - deleting an absent or already-deleted key is legal and still
// appends a tombstone.
func (e *Engine) DeleteItem(id string, key timestamp.Timestamp) error {
	c, err := e.lookup(id)
	if err != nil {
		return err
	}
	return c.deleteItem(key)
}

// DeleteItems marks every key in keys as deleted. As with DeleteItem, a
// key need not be live; each key gets a tombstone regardless.
func (e *Engine) DeleteItems(id string, keys []timestamp.Timestamp) error {
	c, err := e.lookup(id)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.deleteItems(keys)
}

// GetAllItems returns a snapshot of every live key/payload pair in
// container id.
func (e *Engine) GetAllItems(id string) (map[timestamp.Timestamp][]byte, error) {
	c, err := e.lookup(id)
	if err != nil {
		return nil, err
	}
	return c.getAllItems(), nil
}

// CompactContainer forces an immediate rewrite of container id, dropping
// every tombstone and collapsing folded history into one record per live
// key. It is safe to call regardless of whether the automatic threshold
// has been hit.
func (e *Engine) CompactContainer(id string) error {
	c, err := e.lookup(id)
	if err != nil {
		return err
	}
	return c.compact()
}
