package locks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestLockSerializesSameKey(t *testing.T) {
	table := NewTable()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := table.Lock(context.Background(), "provider-1")
			if err != nil {
				t.Errorf("Lock: %v", err)
				return
			}
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	if maxSeen != 1 {
		t.Fatalf("expected at most one holder, saw %d", maxSeen)
	}
	if table.Len() != 0 {
		t.Fatalf("expected table to be empty after release, got %d entries", table.Len())
	}
}

func TestDifferentKeysDoNotBlock(t *testing.T) {
	table := NewTable()
	unlockA, err := table.Lock(context.Background(), "a")
	if err != nil {
		t.Fatalf("Lock a: %v", err)
	}
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := table.Lock(ctx, "b")
	if err != nil {
		t.Fatalf("expected key b to be free while a is held, got %v", err)
	}
	unlockB()
}

func TestLockHonoursContext(t *testing.T) {
	table := NewTable()
	unlock, err := table.Lock(context.Background(), "p")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := table.Lock(ctx, "p"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	unlock()
	unlock()
	if table.Len() != 0 {
		t.Fatalf("expected no entries after release, got %d", table.Len())
	}
}
