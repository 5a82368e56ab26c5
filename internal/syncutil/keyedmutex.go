// Package syncutil provides keyed locking primitives.
package syncutil

import (
	"hash/fnv"
	"sync"
)

// KeyedMutex provides a fixed-size pool of mutexes keyed by string, giving
// per-key mutual exclusion with bounded memory regardless of how many keys
// are seen. Keys that hash to the same shard contend with each other, which
// is acceptable for the short critical sections it guards.
type KeyedMutex struct {
	shards []sync.Mutex
}

// NewKeyedMutex creates a keyed mutex with the given shard count.
func NewKeyedMutex(shards int) *KeyedMutex {
	if shards <= 0 {
		shards = 128
	}
	return &KeyedMutex{shards: make([]sync.Mutex, shards)}
}

// Lock acquires the mutex for key and returns its unlock function.
func (m *KeyedMutex) Lock(key string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	mu := &m.shards[h.Sum32()%uint32(len(m.shards))]
	mu.Lock()
	return mu.Unlock
}
