package cache

import (
	"errors"

	lru "github.com/hashicorp/golang-lru"
)

// DefaultMemoryEntries is the entry limit used when NewMemory is given n <= 0.
const DefaultMemoryEntries = 1024

// Memory is an in-process Cache bounded by entry count.
//
// Eviction follows the 2Q policy, so entries read once do not push out
// entries that are read repeatedly.
type Memory struct {
	lru *lru.TwoQueueCache
}

// NewMemory creates a memory cache holding at most n entries.
func NewMemory(n int) (*Memory, error) {
	if n <= 0 {
		n = DefaultMemoryEntries
	}
	c, err := lru.New2Q(n)
	if err != nil {
		return nil, err
	}
	return &Memory{lru: c}, nil
}

// Get retrieves content by key.
func (m *Memory) Get(key string) ([]byte, bool) {
	v, ok := m.lru.Get(key)
	if !ok {
		return nil, false
	}
	content, ok := v.([]byte)
	return content, ok
}

// Put stores content under key.
func (m *Memory) Put(key string, content []byte) error {
	if key == "" {
		return errors.New("cache key is empty")
	}
	m.lru.Add(key, content)
	return nil
}

// Delete removes key.
func (m *Memory) Delete(key string) error {
	m.lru.Remove(key)
	return nil
}

// Len returns the number of cached entries.
func (m *Memory) Len() int {
	return m.lru.Len()
}

// Purge removes every entry.
func (m *Memory) Purge() {
	m.lru.Purge()
}

var _ Cache = (*Memory)(nil)
