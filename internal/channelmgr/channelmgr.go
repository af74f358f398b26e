// Package channelmgr implements channels: ephemeral, multi-queue read
// views created on demand, buffered by time and size, and reclaimed once
// they go quiet for longer than their configured inactivity timeout.
package channelmgr

import (
	"fmt"
	"sync"
	"time"

	"github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/edoardocostantinidev/mora/internal/queuepool"
	"github.com/edoardocostantinidev/mora/internal/timestamp"
	"github.com/google/uuid"
)

// Event is a single item read off one of a channel's underlying queues.
type Event struct {
	QueueID string
	Key     timestamp.Timestamp
	Payload []byte
}

// Channel is an ephemeral read view over a fixed set of queues.
type Channel struct {
	ID                string
	QueueIDs          []string
	BufferSize        int
	BufferTime        time.Duration
	InactivityTimeout time.Duration

	msecSinceLastOp int64
}

// Manager owns every live channel. Its lock guards the channel index only;
// the queues a channel reads from are independently synchronized by Pool,
// and the fixed lock order (Manager before Pool) followed by every method
// here avoids any possibility of deadlock between the two.
type Manager struct {
	mu                sync.Mutex
	pool              *queuepool.Pool
	channels          map[string]*Channel
	inactivityTimeout time.Duration
}

// New returns a Manager that reads from pool. Every channel it opens
// inherits inactivityTimeout, mora's single server-wide channel TTL
// (MORA_CHANNEL_TIMEOUT_IN_MSEC) - channels do not configure their own.
func New(pool *queuepool.Pool, inactivityTimeout time.Duration) *Manager {
	return &Manager{
		pool:              pool,
		channels:          make(map[string]*Channel),
		inactivityTimeout: inactivityTimeout,
	}
}

// CreateChannel opens a new channel over queueIDs, each of which must
// already exist in the pool.
func (m *Manager) CreateChannel(queueIDs []string, bufferSize int, bufferTime time.Duration) (*Channel, error) {
	if len(queueIDs) == 0 {
		return nil, ErrNoQueues
	}
	for _, id := range queueIDs {
		if !m.pool.Exists(id) {
			return nil, fmt.Errorf("%w: %s", queuepool.ErrQueueNotFound, id)
		}
	}

	ch := &Channel{
		QueueIDs:          append([]string(nil), queueIDs...),
		BufferSize:        bufferSize,
		BufferTime:        bufferTime,
		InactivityTimeout: m.inactivityTimeout,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for {
		ch.ID = uuid.NewString()
		if _, taken := m.channels[ch.ID]; !taken {
			break
		}
	}
	m.channels[ch.ID] = ch
	ccLogger.Debugf("channelmgr: opened channel %s over %v", ch.ID, queueIDs)
	return ch, nil
}

// GetChannel returns the channel identified by id.
func (m *Manager) GetChannel(id string) (*Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrChannelNotFound, id)
	}
	return ch, nil
}

// ListChannels returns the ids of every open channel.
func (m *Manager) ListChannels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.channels))
	for id := range m.channels {
		out = append(out, id)
	}
	return out
}

// CloseChannel discards a channel. It does not touch the underlying
// queues: a channel is only ever a view over them.
func (m *Manager) CloseChannel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.channels[id]; !ok {
		return fmt.Errorf("%w: %s", ErrChannelNotFound, id)
	}
	delete(m.channels, id)
	return nil
}

// ReadEvents returns every event due by now+BufferTime across the
// channel's queues, resetting its inactivity counter. When del is true,
// returned events are tombstoned and removed from their queues before
// this call returns (delete-on-read); when del is false, the read is a
// pure peek and a second call with the same now returns the same events.
// A delete-on-read always returns ties at the same delivery timestamp
// within one queue together, so it may return slightly more than
// BufferSize events when many items share a key; a peek returns at most
// BufferSize events.
func (m *Manager) ReadEvents(id string, now timestamp.Timestamp, del bool) ([]Event, error) {
	m.mu.Lock()
	ch, ok := m.channels[id]
	if ok {
		ch.msecSinceLastOp = 0
	}
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrChannelNotFound, id)
	}

	cut := now.Add(ch.BufferTime.Nanoseconds())
	if del {
		return m.readEventsDestructive(ch, cut)
	}
	return m.readEventsPeek(ch, cut)
}

// readEventsDestructive picks one globally-earliest due item across the
// channel's queues at a time and dequeues exactly that key, so nothing
// beyond what is returned is ever removed from a queue.
func (m *Manager) readEventsDestructive(ch *Channel, cut timestamp.Timestamp) ([]Event, error) {
	var out []Event
	for {
		if ch.BufferSize > 0 && len(out) >= ch.BufferSize {
			break
		}
		bestQueue := ""
		var bestKey timestamp.Timestamp
		found := false
		for _, qid := range ch.QueueIDs {
			key, _, ok, err := m.pool.Peek(qid)
			if err != nil || !ok {
				continue
			}
			if key.Cmp(cut) > 0 {
				continue
			}
			if !found || key.Cmp(bestKey) < 0 {
				bestQueue, bestKey, found = qid, key, true
			}
		}
		if !found {
			break
		}
		due, err := m.pool.DequeueUntil(bestQueue, bestKey)
		if err != nil {
			return out, err
		}
		for _, item := range due {
			out = append(out, Event{QueueID: bestQueue, Key: item.Key, Payload: item.Payload})
		}
	}
	return out, nil
}

// readEventsPeek merges each queue's already-sorted due items by key
// without ever touching the queues, so a repeated peek is idempotent.
func (m *Manager) readEventsPeek(ch *Channel, cut timestamp.Timestamp) ([]Event, error) {
	perQueue := make(map[string][]Event, len(ch.QueueIDs))
	cursor := make(map[string]int, len(ch.QueueIDs))
	total := 0
	for _, qid := range ch.QueueIDs {
		due, err := m.pool.PeekUntil(qid, cut)
		if err != nil {
			return nil, err
		}
		events := make([]Event, len(due))
		for i, item := range due {
			events[i] = Event{QueueID: qid, Key: item.Key, Payload: item.Payload}
		}
		perQueue[qid] = events
		total += len(events)
	}

	limit := total
	if ch.BufferSize > 0 && ch.BufferSize < limit {
		limit = ch.BufferSize
	}

	out := make([]Event, 0, limit)
	for len(out) < limit {
		bestQueue := ""
		found := false
		for _, qid := range ch.QueueIDs {
			events := perQueue[qid]
			i := cursor[qid]
			if i >= len(events) {
				continue
			}
			if !found || events[i].Key.Cmp(perQueue[bestQueue][cursor[bestQueue]].Key) < 0 {
				bestQueue, found = qid, true
			}
		}
		if !found {
			break
		}
		out = append(out, perQueue[bestQueue][cursor[bestQueue]])
		cursor[bestQueue]++
	}
	return out, nil
}

// Tick advances every channel's inactivity counter by deltaMs and closes
// any channel that has gone quiet past its configured timeout, returning
// the ids of the channels it closed.
func (m *Manager) Tick(deltaMs int64) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []string
	for id, ch := range m.channels {
		ch.msecSinceLastOp += deltaMs
		if time.Duration(ch.msecSinceLastOp)*time.Millisecond > ch.InactivityTimeout {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(m.channels, id)
		ccLogger.Debugf("channelmgr: closed channel %s after inactivity timeout", id)
	}
	return expired
}
