package chat

import "sync"

type pairKey [2]int64

func orderedPair(a, b int64) pairKey {
	if a < b {
		return pairKey{a, b}
	}
	return pairKey{b, a}
}

type pairLock struct {
	mu   sync.Mutex
	refs int
}

// pairLocks serializes work on the same unordered user pair, entries live only while held or awaited
type pairLocks struct {
	mu    sync.Mutex
	locks map[pairKey]*pairLock
}

func newPairLocks() *pairLocks {
	return &pairLocks{locks: make(map[pairKey]*pairLock)}
}

// lock blocks until the pair is free and returns the matching unlock
func (p *pairLocks) lock(a, b int64) func() {
	key := orderedPair(a, b)

	p.mu.Lock()
	l, ok := p.locks[key]
	if !ok {
		l = &pairLock{}
		p.locks[key] = l
	}
	l.refs++
	p.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		p.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.locks, key)
		}
		p.mu.Unlock()
	}
}

func (p *pairLocks) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.locks)
}
