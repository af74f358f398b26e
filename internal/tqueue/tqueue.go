// Package tqueue implements the temporal priority queue: an ordered
// multiset of (delivery timestamp, payload) pairs that supports peeking at
// the earliest entry and draining every entry whose timestamp has come due
// in O(k + log n), backed by a skip list rather than the naive sorted scan
// the original implementation called out as its own worst part.
package tqueue

import (
	"sync"

	"github.com/edoardocostantinidev/mora/internal/timestamp"
	"github.com/ryszard/goskiplist/skiplist"
)

// Item is a single dequeued entry: the delivery timestamp it was enqueued
// under and its opaque payload. seq identifies which skip list entry this
// came from, so a later RemoveDue can remove exactly this entry even when
// several share the same Key.
type Item struct {
	Key     timestamp.Timestamp
	Payload []byte
	seq     uint64
}

// entry is the skip list's key type. Embedding a monotonically increasing
// sequence number alongside the delivery timestamp breaks ties between
// equal timestamps in insertion order, giving the queue stable FIFO
// semantics for same-instant deliveries without needing a secondary index.
type entry struct {
	key timestamp.Timestamp
	seq uint64
}

func less(l, r interface{}) bool {
	a, b := l.(entry), r.(entry)
	if cmp := a.key.Cmp(b.key); cmp != 0 {
		return cmp < 0
	}
	return a.seq < b.seq
}

// Queue is a single container's temporal priority queue. All methods are
// safe for concurrent use.
type Queue struct {
	mu  sync.Mutex
	sl  *skiplist.SkipList
	seq uint64
}

// New returns an empty Queue.
func New() *Queue {
	return &Queue{sl: skiplist.NewCustomMap(less)}
}

// Enqueue inserts payload under key. Equal keys are kept in the order they
// were enqueued.
func (q *Queue) Enqueue(key timestamp.Timestamp, payload []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e := entry{key: key, seq: q.seq}
	q.seq++
	q.sl.Set(e, payload)
}

// Peek returns the earliest entry without removing it. ok is false if the
// queue is empty.
func (q *Queue) Peek() (key timestamp.Timestamp, payload []byte, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	it := q.sl.Iterator()
	defer it.Close()
	if !it.Next() {
		return timestamp.Timestamp{}, nil, false
	}
	e := it.Key().(entry)
	return e.key, it.Value().([]byte), true
}

// PeekUntil returns, without removing them, every entry whose key is less
// than or equal to cut, in ascending (key, insertion order). Pair it with
// RemoveDue once those entries have been durably tombstoned elsewhere, so
// that a failed tombstone write leaves the entries in the queue instead
// of dropping them from memory while they are still live on disk.
func (q *Queue) PeekUntil(cut timestamp.Timestamp) []Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []Item
	it := q.sl.Iterator()
	for it.Next() {
		e := it.Key().(entry)
		if e.key.Cmp(cut) > 0 {
			break
		}
		out = append(out, Item{Key: e.key, Payload: it.Value().([]byte), seq: e.seq})
	}
	it.Close()
	return out
}

// RemoveDue removes exactly the entries previously returned by PeekUntil.
func (q *Queue) RemoveDue(items []Item) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, it := range items {
		q.sl.Delete(entry{key: it.Key, seq: it.seq})
	}
}

// DequeueUntil removes and returns, in ascending (key, insertion order),
// every entry whose key is less than or equal to cut. It is a convenience
// wrapper over PeekUntil+RemoveDue for callers with no durability step of
// their own to interleave.
func (q *Queue) DequeueUntil(cut timestamp.Timestamp) []Item {
	items := q.PeekUntil(cut)
	q.RemoveDue(items)
	return items
}

// Len returns the number of entries currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.sl.Len()
}

// IsEmpty reports whether the queue holds no entries.
func (q *Queue) IsEmpty() bool {
	return q.Len() == 0
}
