package claims

import (
	"sync"

	"github.com/warp/benefit-engine/benefit"
)

// =============================================================================
// SUBMISSION LOCKS - One adjudication at a time per pet, procedure and year
// =============================================================================

// usageScope is the part of a UsageKey known before the membership is
// resolved. Every plan a pet could hold for the year falls under it.
type usageScope struct {
	pet       benefit.PetID
	procedure benefit.ProcedureID
	year      int
}

func scopeOf(req Request) usageScope {
	return usageScope{
		pet:       req.PetID,
		procedure: req.ProcedureID,
		year:      benefit.UsagePeriodFor(req.AsOf).Year(),
	}
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// keyLocks hands out a mutex per scope. Entries are dropped when the last
// holder or waiter releases them.
type keyLocks struct {
	mu    sync.Mutex
	locks map[usageScope]*keyLock
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[usageScope]*keyLock)}
}

// lock blocks until the scope is free and returns its release func.
func (l *keyLocks) lock(scope usageScope) func() {
	l.mu.Lock()
	kl, ok := l.locks[scope]
	if !ok {
		kl = &keyLock{}
		l.locks[scope] = kl
	}
	kl.refs++
	l.mu.Unlock()

	kl.mu.Lock()
	return func() {
		kl.mu.Unlock()

		l.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(l.locks, scope)
		}
		l.mu.Unlock()
	}
}

func (l *keyLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
