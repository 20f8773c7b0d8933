package graphstore

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// patternLocks serializes structural mutations per pattern. The map only
// ever grows; the taxonomy is small enough that reclaiming entries is not
// worth the bookkeeping.
type patternLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newPatternLocks() *patternLocks {
	return &patternLocks{locks: make(map[string]*sync.Mutex)}
}

func (p *patternLocks) get(key string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	if m, ok := p.locks[key]; ok {
		return m
	}
	m := &sync.Mutex{}
	p.locks[key] = m
	return m
}

func (p *patternLocks) Lock(id uuid.UUID) func() {
	m := p.get(id.String())
	m.Lock()
	return m.Unlock
}

// LockPair acquires both pattern locks in deterministic (sorted) order so
// two writers locking the same pair from opposite ends cannot deadlock.
func (p *patternLocks) LockPair(a, b uuid.UUID) func() {
	keys := []string{a.String(), b.String()}
	sort.Strings(keys)
	if keys[0] == keys[1] {
		keys = keys[:1]
	}
	acquired := make([]*sync.Mutex, 0, len(keys))
	for _, k := range keys {
		m := p.get(k)
		m.Lock()
		acquired = append(acquired, m)
	}
	return func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			acquired[i].Unlock()
		}
	}
}
