package storage

import (
	gocache "github.com/patrickmn/go-cache"
)

// Memory keeps values in process memory. Values never expire.
type Memory struct {
	c *gocache.Cache
}

// NewMemory returns an empty [Memory].
func NewMemory() *Memory {
	return &Memory{c: gocache.New(gocache.NoExpiration, 0)}
}

func (m *Memory) Get(key string) (string, bool, error) {
	v, ok := m.c.Get(key)
	if !ok {
		return "", false, nil
	}
	s, _ := v.(string)
	return s, true, nil
}

func (m *Memory) Set(key, value string) error {
	m.c.Set(key, value, gocache.NoExpiration)
	return nil
}

func (m *Memory) Remove(key string) error {
	m.c.Delete(key)
	return nil
}

// Len returns the number of stored keys.
func (m *Memory) Len() int {
	return m.c.ItemCount()
}
