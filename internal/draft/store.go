package draft

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/kangrianai89/catatan/internal/apperr"
)

// Store is the raw key-value contract behind both draft scopes.
//
// A missing key is not an error: Get returns (nil, false, nil).
// Implementations report write failures wrapping
// apperr.ErrStorageUnavailable.
type Store interface {
	Get(key Key) ([]byte, bool, error)
	Set(key Key, value []byte) error
	Delete(key Key) error
}

// Lister is implemented by stores that can enumerate their keys.
type Lister interface {
	Keys(prefix string) ([]Key, error)
}

// MemoryStore is an in-process Store. It backs the session scope and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	data  map[Key][]byte
	quota int
	used  int
}

// NewMemoryStore creates an empty store. A positive quota caps the total
// payload bytes held; writes beyond it fail like a full browser store.
func NewMemoryStore(quota int) *MemoryStore {
	return &MemoryStore{data: make(map[Key][]byte), quota: quota}
}

// Get returns a copy of the value stored under key.
func (m *MemoryStore) Get(key Key) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

// Set stores a copy of value under key, overwriting any previous value.
func (m *MemoryStore) Set(key Key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	used := m.used - len(m.data[key]) + len(value)
	if m.quota > 0 && used > m.quota {
		return fmt.Errorf("%w: quota of %d bytes exceeded", apperr.ErrStorageUnavailable, m.quota)
	}
	m.data[key] = append([]byte(nil), value...)
	m.used = used
	return nil
}

// Delete removes key. Deleting a missing key is a no-op.
func (m *MemoryStore) Delete(key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.used -= len(m.data[key])
	delete(m.data, key)
	return nil
}

// Keys returns the stored keys with the given prefix, sorted.
func (m *MemoryStore) Keys(prefix string) ([]Key, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Key, 0, len(m.data))
	for k := range m.data {
		if strings.HasPrefix(string(k), prefix) {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Len returns the number of stored drafts.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// Clear drops every draft.
func (m *MemoryStore) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[Key][]byte)
	m.used = 0
}

// Namespace scopes a shared store to one owner by prefixing every key.
func Namespace(store Store, ns string) Store {
	return &namespaced{store: store, prefix: url.QueryEscape(ns) + "|"}
}

type namespaced struct {
	store  Store
	prefix string
}

func (n *namespaced) Get(key Key) ([]byte, bool, error) { return n.store.Get(Key(n.prefix) + key) }

func (n *namespaced) Set(key Key, value []byte) error { return n.store.Set(Key(n.prefix)+key, value) }

func (n *namespaced) Delete(key Key) error { return n.store.Delete(Key(n.prefix) + key) }

// Keys strips the namespace from the keys the inner store returns; it
// reports nothing when the inner store cannot list.
func (n *namespaced) Keys(prefix string) ([]Key, error) {
	l, ok := n.store.(Lister)
	if !ok {
		return nil, nil
	}
	keys, err := l.Keys(n.prefix + prefix)
	if err != nil {
		return nil, err
	}
	out := make([]Key, len(keys))
	for i, k := range keys {
		out[i] = Key(strings.TrimPrefix(string(k), n.prefix))
	}
	return out, nil
}

// SplitNamespace reverses Namespace on a raw stored key.
func SplitNamespace(raw Key) (ns string, key Key, ok bool) {
	before, after, found := strings.Cut(string(raw), "|")
	if !found {
		return "", raw, false
	}
	ns, err := url.QueryUnescape(before)
	if err != nil {
		return "", raw, false
	}
	return ns, Key(after), true
}
