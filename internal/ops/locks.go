package ops

import (
	"sort"
	"sync"
)

// pathLocks serializes operations per affected path. Locks are acquired
// in sorted order so two operations touching overlapping path sets never
// deadlock.
type pathLocks struct {
	mu    sync.Mutex
	locks map[string]*pathLock
}

type pathLock struct {
	mu   sync.Mutex
	refs int
}

func newPathLocks() *pathLocks {
	return &pathLocks{locks: make(map[string]*pathLock)}
}

// lock acquires all given paths and returns the release function.
func (p *pathLocks) lock(paths ...string) func() {
	uniq := make([]string, 0, len(paths))
	seen := make(map[string]bool, len(paths))
	for _, path := range paths {
		if !seen[path] {
			seen[path] = true
			uniq = append(uniq, path)
		}
	}
	sort.Strings(uniq)

	acquired := make([]*pathLock, 0, len(uniq))
	for _, path := range uniq {
		p.mu.Lock()
		l, ok := p.locks[path]
		if !ok {
			l = &pathLock{}
			p.locks[path] = l
		}
		l.refs++
		p.mu.Unlock()
		l.mu.Lock()
		acquired = append(acquired, l)
	}

	return func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			acquired[i].mu.Unlock()
		}
		p.mu.Lock()
		for _, path := range uniq {
			if l, ok := p.locks[path]; ok {
				l.refs--
				if l.refs == 0 {
					delete(p.locks, path)
				}
			}
		}
		p.mu.Unlock()
	}
}
