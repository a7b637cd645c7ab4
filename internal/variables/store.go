// Package variables holds values extracted by one flow stage for use by the
// stages after it. Stores are passed explicitly; nothing is kept in globals
// or contexts.
package variables

import "sort"

// Store defines variable storage for a single flow execution.
type Store interface {
	// Set stores a variable with the given key and value.
	Set(key, value string)

	// Get retrieves a variable by key.
	Get(key string) (string, bool)

	// GetAll returns a copy of all stored variables.
	GetAll() map[string]string

	// Merge returns base overlaid with the stored variables.
	Merge(base map[string]string) map[string]string

	// Clone returns an independent copy; writes to either side are not shared.
	Clone() Store

	// Keys returns the stored names in sorted order.
	Keys() []string
}

// MemoryStore is a map-backed Store. It is owned by one flow run at a time
// and is not safe for concurrent writes.
type MemoryStore struct {
	variables map[string]string
}

// NewStore creates an empty store.
func NewStore() Store {
	return &MemoryStore{variables: make(map[string]string)}
}

// NewStoreFrom creates a store seeded with a copy of initial.
func NewStoreFrom(initial map[string]string) Store {
	s := &MemoryStore{variables: make(map[string]string, len(initial))}
	for k, v := range initial {
		s.variables[k] = v
	}
	return s
}

func (m *MemoryStore) Set(key, value string) {
	m.variables[key] = value
}

func (m *MemoryStore) Get(key string) (string, bool) {
	value, ok := m.variables[key]
	return value, ok
}

func (m *MemoryStore) GetAll() map[string]string {
	result := make(map[string]string, len(m.variables))
	for key, value := range m.variables {
		result[key] = value
	}
	return result
}

func (m *MemoryStore) Merge(base map[string]string) map[string]string {
	result := make(map[string]string, len(base)+len(m.variables))
	for key, value := range base {
		result[key] = value
	}
	// Stored variables take precedence.
	for key, value := range m.variables {
		result[key] = value
	}
	return result
}

func (m *MemoryStore) Clone() Store {
	return NewStoreFrom(m.variables)
}

func (m *MemoryStore) Keys() []string {
	keys := make([]string, 0, len(m.variables))
	for k := range m.variables {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
