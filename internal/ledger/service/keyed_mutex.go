package service

import (
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"
)

// keyedMutex serializes ledger writes per tenant/entity without a global
// lock. Entries are reference counted so the map does not grow with the
// number of tenants ever seen.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedLock)}
}

func balanceKey(tenantID, entityID snowflake.ID) string {
	return fmt.Sprintf("%d:%d", tenantID, entityID)
}

func (k *keyedMutex) Lock(key string) {
	k.mu.Lock()
	lock, ok := k.locks[key]
	if !ok {
		lock = &keyedLock{}
		k.locks[key] = lock
	}
	lock.refs++
	k.mu.Unlock()

	lock.mu.Lock()
}

func (k *keyedMutex) Unlock(key string) {
	k.mu.Lock()
	lock, ok := k.locks[key]
	if ok {
		lock.refs--
		if lock.refs == 0 {
			delete(k.locks, key)
		}
	}
	k.mu.Unlock()

	if ok {
		lock.mu.Unlock()
	}
}
