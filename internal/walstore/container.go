package walstore

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/edoardocostantinidev/mora/internal/timestamp"
)

// compactThresholdRecords and compactThresholdRatio gate automatic
// compaction: a container only compacts once it has accumulated enough
// write volume that the fixed cost of a rewrite is worth paying, and once
// tombstones make up a large enough share of that volume to matter.
const (
	compactThresholdRecords = 1000
	compactThresholdRatio   = 0.30
)

// container is a single append-only WAL file plus the in-memory index
// folded from it. Every operation on one container holds mu for its
// duration: writes go to disk before the index is touched, so a crash
// between the two always leaves the index reconstructible from the file.
type container struct {
	mu         sync.Mutex
	id         string
	path       string
	file       *os.File
	writer     *bufio.Writer
	index      map[timestamp.Timestamp][]byte
	records    uint64
	tombstones uint64
}

func containerPath(dir, id string) string {
	return filepath.Join(dir, id+".wal")
}

// createContainer makes a brand new, empty WAL file for id.
func createContainer(dir, id string) (*container, error) {
	path := containerPath(dir, id)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContainerCreationFailed, err)
	}
	return &container{
		id:     id,
		path:   path,
		file:   f,
		writer: bufio.NewWriter(f),
		index:  make(map[timestamp.Timestamp][]byte),
	}, nil
}

// loadContainer opens an existing WAL file and replays it in full to
// rebuild the live-key index. Any truncation or checksum failure aborts
// the load: a partially-written trailing record is corruption, not an
// acceptable crash artifact, so recovery never guesses at intent.
func loadContainer(path, id string) (*container, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFileReadFailed, err)
	}

	c := &container{
		id:    id,
		path:  path,
		file:  f,
		index: make(map[timestamp.Timestamp][]byte),
	}

	br := bufio.NewReader(f)
	var replayed, tombstoned uint64
	for {
		rec, err := readRecord(br)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			f.Close()
			return nil, err
		}
		replayed++
		switch rec.kind {
		case kindItem:
			c.index[rec.key] = rec.payload
		case kindTombstone:
			tombstoned++
			delete(c.index, rec.key)
		}
	}
	c.records = replayed
	c.tombstones = tombstoned

	// br may have buffered past the logical EOF point it reported; since
	// readRecord only ever consumes whole records, the underlying file
	// offset is already sitting exactly at end-of-file once the loop above
	// drains cleanly, so appends below land right after the last record.
	c.writer = bufio.NewWriter(f)

	ccLogger.Debugf("walstore: loaded container %q with %d live keys (%d records, %d tombstones)",
		id, len(c.index), c.records, c.tombstones)
	return c, nil
}

func (c *container) storeItem(key timestamp.Timestamp, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.appendLocked([]record{{key: key, kind: kindItem, payload: payload}})
}

func (c *container) storeItems(items []Item) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	recs := make([]record, len(items))
	for i, it := range items {
		recs[i] = record{key: it.Key, kind: kindItem, payload: it.Payload}
	}
	return c.appendLocked(recs)
}

func (c *container) deleteItem(key timestamp.Timestamp) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.appendLocked([]record{{key: key, kind: kindTombstone}}); err != nil {
		return err
	}
	return c.maybeCompactLocked()
}

func (c *container) deleteItems(keys []timestamp.Timestamp) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	recs := make([]record, len(keys))
	for i, k := range keys {
		recs[i] = record{key: k, kind: kindTombstone}
	}
	if err := c.appendLocked(recs); err != nil {
		return err
	}
	return c.maybeCompactLocked()
}

// appendLocked writes recs to the WAL file as one buffered write followed
// by a single flush-and-fsync, then folds them into the index. The disk
// write happens before the index mutation, never the reverse.
func (c *container) appendLocked(recs []record) error {
	var buf []byte
	for _, r := range recs {
		switch r.kind {
		case kindItem:
			buf = append(buf, encodeItem(r.key, r.payload)...)
		case kindTombstone:
			buf = append(buf, encodeTombstone(r.key)...)
		}
	}
	if _, err := c.writer.Write(buf); err != nil {
		return fmt.Errorf("%w: %v", ErrItemWriteFailed, err)
	}
	if err := c.writer.Flush(); err != nil {
		return fmt.Errorf("%w: %v", ErrItemWriteFailed, err)
	}
	if err := c.file.Sync(); err != nil {
		return fmt.Errorf("%w: %v", ErrItemWriteFailed, err)
	}

	for _, r := range recs {
		c.records++
		switch r.kind {
		case kindItem:
			c.index[r.key] = r.payload
		case kindTombstone:
			c.tombstones++
			delete(c.index, r.key)
		}
	}
	return nil
}

func (c *container) getAllItems() map[timestamp.Timestamp][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[timestamp.Timestamp][]byte, len(c.index))
	for k, v := range c.index {
		cp := make([]byte, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

func (c *container) maybeCompactLocked() error {
	if c.records <= compactThresholdRecords {
		return nil
	}
	if float64(c.tombstones)/float64(c.records) <= compactThresholdRatio {
		return nil
	}
	return c.compactLocked()
}

func (c *container) compact() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.compactLocked()
}

// compactLocked rewrites the container to a temp file holding exactly one
// item record per live key, fsyncs it, then atomically renames it over the
// original. A crash at any point before the rename leaves the original WAL
// untouched; a crash after leaves the compacted file fully in place -
// there is no window where the container is a mix of the two.
func (c *container) compactLocked() error {
	keys := make([]timestamp.Timestamp, 0, len(c.index))
	for k := range c.index {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Cmp(keys[j]) < 0 })

	tmpPath := c.path + ".tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFileWriteFailed, err)
	}
	w := bufio.NewWriter(tmp)
	for _, k := range keys {
		if _, err := w.Write(encodeItem(k, c.index[k])); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("%w: %v", ErrFileWriteFailed, err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("%w: %v", ErrFileWriteFailed, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("%w: %v", ErrFileWriteFailed, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: %v", ErrFileWriteFailed, err)
	}

	if err := c.file.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrFileWriteFailed, err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		return fmt.Errorf("%w: %v", ErrFileWriteFailed, err)
	}

	f, err := os.OpenFile(c.path, os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFileWriteFailed, err)
	}
	c.file = f
	c.writer = bufio.NewWriter(f)
	c.records = uint64(len(keys))
	c.tombstones = 0

	ccLogger.Debugf("walstore: compacted container %q to %d live records", c.id, len(keys))
	return nil
}

func (c *container) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.writer.Flush(); err != nil {
		return err
	}
	return c.file.Close()
}
