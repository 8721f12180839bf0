// Package guard serializes balance mutations per account. The account store
// offers no multi-account transaction, so movements touching the same account
// must not interleave their read-modify-write cycles in one process; the
// gateway's compare-and-swap still protects against writers elsewhere.
package guard

import (
	"sort"
	"sync"
)

// AccountGuard hands out one mutex per account id, created on demand.
// Entries are never removed; the set of accounts a single process touches
// is small and bounded by its working set.
type AccountGuard struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New() *AccountGuard {
	return &AccountGuard{
		locks: make(map[string]*sync.Mutex),
	}
}

func (g *AccountGuard) lockFor(accountID string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()

	l, ok := g.locks[accountID]
	if !ok {
		l = &sync.Mutex{}
		g.locks[accountID] = l
	}
	return l
}

// Lock acquires the single-account lock and returns its release func.
func (g *AccountGuard) Lock(accountID string) func() {
	l := g.lockFor(accountID)
	l.Lock()
	return l.Unlock
}

// LockPair acquires both account locks in lexicographic id order, so two
// transfers in opposite directions over the same pair cannot deadlock.
// Equal ids collapse to a single lock. Returns the release func for both
// locks.
func (g *AccountGuard) LockPair(a, b string) func() {
	if a == b {
		return g.Lock(a)
	}

	ids := []string{a, b}
	sort.Strings(ids)

	first := g.lockFor(ids[0])
	second := g.lockFor(ids[1])

	first.Lock()
	second.Lock()
	return func() {
		second.Unlock()
		first.Unlock()
	}
}
