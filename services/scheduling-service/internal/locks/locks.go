// Package locks provides mutual exclusion keyed by provider id. Different keys
// never contend with each other.
package locks

import (
	"context"
	"sync"
)

type Table struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	sem  chan struct{}
	refs int
}

func NewTable() *Table {
	return &Table{entries: map[string]*entry{}}
}

// Lock blocks until key is free or ctx is done. The returned unlock must be
// called exactly once.
func (t *Table) Lock(ctx context.Context, key string) (func(), error) {
	e := t.acquireRef(key)

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		t.releaseRef(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			t.releaseRef(key, e)
		})
	}, nil
}

// Len reports how many keys currently have holders or waiters.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *Table) acquireRef(key string) *entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entries[key]
	if e == nil {
		e = &entry{sem: make(chan struct{}, 1)}
		t.entries[key] = e
	}
	e.refs++
	return e
}

func (t *Table) releaseRef(key string, e *entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(t.entries, key)
	}
}
