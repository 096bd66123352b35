package sandbox

import "sync"

// KeyedMutex serializes operations per node. Provision, snapshot save, and
// destroy for the same node must not interleave; different nodes proceed
// concurrently.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*nodeLock
}

type nodeLock struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedMutex creates an empty keyed mutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*nodeLock)}
}

// Lock acquires the lock for key, blocking if another caller holds it.
func (k *KeyedMutex) Lock(key string) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &nodeLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
}

// Unlock releases the lock for key, dropping the entry once nobody waits.
func (k *KeyedMutex) Unlock(key string) {
	k.mu.Lock()
	l := k.locks[key]
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()

	l.mu.Unlock()
}
