package core

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultMutationCacheCapacity = 1024

// MutationRecord is the bookkeeping kept for one mutation key.
type MutationRecord struct {
	Key        string
	Executions uint64
	Successes  uint64
	Failures   uint64
	InFlight   int
	LastStatus MutationStatus
	UpdatedAt  time.Time
}

// MutationCache keeps per-key records of mutations. Keys are advisory: two
// mutations with the same key simply add to the same record. The least
// recently updated record is evicted once capacity is reached.
type MutationCache struct {
	// mu makes read-modify-write of a record atomic.
	mu      sync.Mutex
	records *lru.Cache[string, *MutationRecord]
	nowFn   func() time.Time
}

func NewMutationCache() *MutationCache {
	return NewMutationCacheWithCapacity(defaultMutationCacheCapacity)
}

func NewMutationCacheWithCapacity(capacity int) *MutationCache {
	if capacity <= 0 {
		capacity = defaultMutationCacheCapacity
	}
	records, err := lru.New[string, *MutationRecord](capacity)
	if err != nil {
		panic("failed to create mutation LRU cache: " + err.Error())
	}
	return &MutationCache{
		records: records,
		nowFn:   time.Now,
	}
}

// Get returns a copy of the record stored under key. It does not count as an
// update for eviction.
func (c *MutationCache) Get(key string) (MutationRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.records.Peek(key)
	if !ok {
		return MutationRecord{}, false
	}
	return *r, true
}

func (c *MutationCache) Len() int {
	return c.records.Len()
}

func (c *MutationCache) started(key string) {
	c.update(key, func(r *MutationRecord) {
		r.Executions++
		r.InFlight++
		r.LastStatus = StatusLoading
	})
}

func (c *MutationCache) settled(key string, status MutationStatus) {
	c.update(key, func(r *MutationRecord) {
		if r.InFlight > 0 {
			r.InFlight--
		}
		switch status {
		case StatusSuccess:
			r.Successes++
		case StatusError:
			r.Failures++
		}
		r.LastStatus = status
	})
}

func (c *MutationCache) update(key string, fn func(r *MutationRecord)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Get marks the record as most recently used.
	r, ok := c.records.Get(key)
	if !ok {
		r = &MutationRecord{Key: key, LastStatus: StatusIdle}
		c.records.Add(key, r)
	}
	fn(r)
	r.UpdatedAt = c.nowFn()
}
