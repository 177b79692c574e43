package kafka

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// appliedVersions remembers the newest applied event version per dedupe key.
// Versions are recorded only after a successful apply so a redelivered event
// that failed earlier is tried again.
type appliedVersions struct {
	mu   sync.Mutex
	last *lru.Cache[string, uint64]
}

func newAppliedVersions(size int) *appliedVersions {
	if size <= 0 {
		size = 4096
	}
	c, _ := lru.New[string, uint64](size)
	return &appliedVersions{last: c}
}

func (a *appliedVersions) stale(key string, v uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	last, ok := a.last.Get(key)
	return ok && v <= last
}

func (a *appliedVersions) record(key string, v uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if last, ok := a.last.Get(key); ok && last >= v {
		return
	}
	a.last.Add(key, v)
}
