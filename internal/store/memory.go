package store

import (
	"sort"
	"sync"
)

// subscriberBuffer is the channel buffer per subscriber. When a slow
// subscriber's buffer fills, further updates are dropped for it.
const subscriberBuffer = 100

// MemoryStore is an in-memory implementation of [Store].
//
// The snapshot map is replaced, never mutated: Merge copies the current
// snapshot, overlays the new values and swaps the result in under the write
// lock. Readers holding a copy from [MemoryStore.Snapshot] are unaffected
// by later merges.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]any

	subMu       sync.RWMutex
	subscribers map[chan Update]struct{}
}

// NewMemoryStore creates an empty [Store] implementation, immediately ready
// for use.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values:      make(map[string]any),
		subscribers: make(map[chan Update]struct{}),
	}
}

// Merge publishes a new snapshot and notifies all subscribers.
func (m *MemoryStore) Merge(values map[string]any) {
	ids := make([]string, 0, len(values))

	m.mu.Lock()
	merged := make(map[string]any, len(m.values)+len(values))
	for k, v := range m.values {
		merged[k] = v
	}
	for k, v := range values {
		merged[k] = v
		ids = append(ids, k)
	}
	m.values = merged
	m.mu.Unlock()

	sort.Strings(ids)
	m.notifySubscribers(Update{IDs: ids})
}

// Snapshot returns a copy of the current snapshot.
func (m *MemoryStore) Snapshot() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := make(map[string]any, len(m.values))
	for k, v := range m.values {
		snapshot[k] = v
	}
	return snapshot
}

// Get returns the raw value for one point id.
func (m *MemoryStore) Get(id string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.values[id]
	return v, ok
}

// Populated reports whether any value was ever merged.
func (m *MemoryStore) Populated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.values) > 0
}

// Subscribe creates a new subscription and returns its update channel.
//
// The channel has a buffer of 100 updates. If the buffer fills (slow
// consumer), new updates are dropped for this subscriber.
//
// Caller must call [MemoryStore.Unsubscribe] when done to prevent leaks.
func (m *MemoryStore) Subscribe() <-chan Update {
	ch := make(chan Update, subscriberBuffer)

	m.subMu.Lock()
	m.subscribers[ch] = struct{}{}
	m.subMu.Unlock()

	return ch
}

// Unsubscribe removes a subscription and closes its channel. Safe to call
// multiple times or with an unknown channel.
func (m *MemoryStore) Unsubscribe(ch <-chan Update) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	for subCh := range m.subscribers {
		if subCh == ch {
			delete(m.subscribers, subCh)
			close(subCh)
			break
		}
	}
}

// notifySubscribers delivers the update without blocking: a full subscriber
// buffer drops the update for that subscriber only.
func (m *MemoryStore) notifySubscribers(update Update) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()

	for ch := range m.subscribers {
		select {
		case ch <- update:
		default:
			// subscriber is slow, drop the update
		}
	}
}
