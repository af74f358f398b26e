// Package queuepool binds the durable WAL storage engine to the in-memory
// temporal queues that make delivery order queryable without a disk scan.
// One Pool owns both halves for every queue in the system behind a single
// mutex guarding the queue-name index; each queue's own data path is then
// independently synchronized by walstore and tqueue.
package queuepool

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/edoardocostantinidev/mora/internal/timestamp"
	"github.com/edoardocostantinidev/mora/internal/tqueue"
	"github.com/edoardocostantinidev/mora/internal/walstore"
)

// queueIDPattern mirrors the original implementation's queue-name
// validation: an alphanumeric identifier that may also contain '-' and
// '_', one to sixty-four characters long.
var queueIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidQueueID reports whether id is an acceptable queue name.
func ValidQueueID(id string) bool {
	return queueIDPattern.MatchString(id)
}

// Pool owns every queue in the system: a durable WAL container plus an
// in-memory temporal queue, keyed by queue id.
type Pool struct {
	mu       sync.Mutex
	engine   *walstore.Engine
	queues   map[string]*tqueue.Queue
	capacity int
}

// New returns a Pool backed by engine, holding at most capacity queues.
// A capacity of 0 means unbounded. Call Load before using it.
func New(engine *walstore.Engine, capacity int) *Pool {
	return &Pool{
		engine:   engine,
		queues:   make(map[string]*tqueue.Queue),
		capacity: capacity,
	}
}

// Load replays the WAL engine and reconstructs every queue's in-memory
// temporal index from the recovered live keys. Must be called exactly
// once, before any other Pool method.
func (p *Pool) Load() error {
	if err := p.engine.Load(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range p.engine.ListContainers() {
		items, err := p.engine.GetAllItems(id)
		if err != nil {
			return err
		}
		q := tqueue.New()
		for key, payload := range items {
			q.Enqueue(key, payload)
		}
		p.queues[id] = q
		ccLogger.Debugf("queuepool: recovered queue %q with %d pending items", id, len(items))
	}
	return nil
}

// CreateQueue creates a new, empty queue named id.
func (p *Pool) CreateQueue(id string) error {
	if !ValidQueueID(id) {
		return fmt.Errorf("%w: %q", ErrInvalidQueueID, id)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.queues[id]; ok {
		return fmt.Errorf("%w: %s", ErrQueueAlreadyExists, id)
	}
	if p.capacity > 0 && len(p.queues) >= p.capacity {
		return fmt.Errorf("%w: %d", ErrPoolCapacityExceeded, p.capacity)
	}
	if err := p.engine.CreateContainer(id); err != nil {
		if errors.Is(err, walstore.ErrContainerAlreadyExists) {
			return fmt.Errorf("%w: %s", ErrQueueAlreadyExists, id)
		}
		return err
	}
	p.queues[id] = tqueue.New()
	return nil
}

// DeleteQueue removes queue id and everything durably stored in it.
func (p *Pool) DeleteQueue(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.queues[id]; !ok {
		return fmt.Errorf("%w: %s", ErrQueueNotFound, id)
	}
	if err := p.engine.DeleteContainer(id); err != nil {
		return err
	}
	delete(p.queues, id)
	return nil
}

// Exists reports whether queue id is known to the pool.
func (p *Pool) Exists(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.queues[id]
	return ok
}

// ListQueues returns every queue id matching filter, sorted. A nil filter
// matches everything.
func (p *Pool) ListQueues(filter *regexp.Regexp) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.queues))
	for id := range p.queues {
		if filter == nil || filter.MatchString(id) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (p *Pool) lookup(id string) (*tqueue.Queue, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	q, ok := p.queues[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrQueueNotFound, id)
	}
	return q, nil
}

// Enqueue durably appends a single item to queue id, then indexes it in
// the temporal queue. The WAL write always happens first.
func (p *Pool) Enqueue(id string, key timestamp.Timestamp, payload []byte) error {
	q, err := p.lookup(id)
	if err != nil {
		return err
	}
	if err := p.engine.StoreItem(id, key, payload); err != nil {
		return err
	}
	q.Enqueue(key, payload)
	return nil
}

// EnqueueBatch durably appends items to queue id with a single fsync, then
// indexes all of them.
func (p *Pool) EnqueueBatch(id string, items []walstore.Item) error {
	q, err := p.lookup(id)
	if err != nil {
		return err
	}
	if err := p.engine.StoreItems(id, items); err != nil {
		return err
	}
	for _, it := range items {
		q.Enqueue(it.Key, it.Payload)
	}
	return nil
}

// Peek returns the earliest pending item in queue id without removing it.
func (p *Pool) Peek(id string) (timestamp.Timestamp, []byte, bool, error) {
	q, err := p.lookup(id)
	if err != nil {
		return timestamp.Timestamp{}, nil, false, err
	}
	key, payload, ok := q.Peek()
	return key, payload, ok, nil
}

// PeekUntil returns every item in queue id whose key is less than or equal
// to cut, in ascending key order, without removing anything - a pure read
// used by channel reads opened with delete=false.
func (p *Pool) PeekUntil(id string, cut timestamp.Timestamp) ([]tqueue.Item, error) {
	q, err := p.lookup(id)
	if err != nil {
		return nil, err
	}
	return q.PeekUntil(cut), nil
}

// DequeueUntil pops every item in queue id whose key is less than or equal
// to cut. Each popped item's WAL tombstone is written and fsynced before
// the item is dropped from the in-memory temporal queue, so if the
// tombstone write fails nothing is removed and memory still matches disk.
// Once the tombstones are durable, a restart no longer replays the items.
func (p *Pool) DequeueUntil(id string, cut timestamp.Timestamp) ([]tqueue.Item, error) {
	q, err := p.lookup(id)
	if err != nil {
		return nil, err
	}
	due := q.PeekUntil(cut)
	if len(due) == 0 {
		return nil, nil
	}
	keys := make([]timestamp.Timestamp, len(due))
	for i, it := range due {
		keys[i] = it.Key
	}
	if err := p.engine.DeleteItems(id, keys); err != nil {
		return nil, err
	}
	q.RemoveDue(due)
	return due, nil
}

// Len returns the number of pending items in queue id.
func (p *Pool) Len(id string) (int, error) {
	q, err := p.lookup(id)
	if err != nil {
		return 0, err
	}
	return q.Len(), nil
}

// CompactQueue forces an immediate WAL rewrite of queue id's backing file.
func (p *Pool) CompactQueue(id string) error {
	if !p.Exists(id) {
		return fmt.Errorf("%w: %s", ErrQueueNotFound, id)
	}
	return p.engine.CompactContainer(id)
}
