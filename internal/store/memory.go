package store

import "sync"

// MemoryStore is a KV whose contents live as long as the process. It backs
// session-scoped identity, which must not outlive one browsing session.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
	// maxKeys bounds the store; zero means unbounded.
	maxKeys int
	order   []string
}

func NewMemoryStore(maxKeys int) *MemoryStore {
	return &MemoryStore{
		values:  make(map[string]string),
		maxKeys: maxKeys,
	}
}

func (m *MemoryStore) Get(key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.values[key], nil
}

func (m *MemoryStore) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.values[key]; !ok {
		m.order = append(m.order, key)
	}
	m.values[key] = value
	m.trimLocked()
	return nil
}

func (m *MemoryStore) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.values[key]; !ok {
		return nil
	}
	delete(m.values, key)
	for i, k := range m.order {
		if k == key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

// keys returns the stored keys in insertion order.
func (m *MemoryStore) keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...)
}

// trimLocked evicts the oldest keys once the store exceeds maxKeys.
func (m *MemoryStore) trimLocked() {
	if m.maxKeys <= 0 {
		return
	}
	for len(m.order) > m.maxKeys {
		oldest := m.order[0]
		m.order = m.order[1:]
		delete(m.values, oldest)
	}
}
