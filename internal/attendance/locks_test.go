package attendance

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestKeyedLockerReleasesIdleEntries(t *testing.T) {
	l := newKeyedLocker()
	unlockA := l.Lock("a")
	unlockB := l.RLock("b")
	if got := l.size(); got != 2 {
		t.Fatalf("Expected 2 entries, got %d", got)
	}
	unlockA()
	unlockB()
	if got := l.size(); got != 0 {
		t.Errorf("Expected idle entries to be dropped, got %d", got)
	}
}

func TestKeyedLockerExclusivePerKey(t *testing.T) {
	l := newKeyedLocker()
	var (
		wg      sync.WaitGroup
		inside  atomic.Int32
		maxSeen atomic.Int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock(participantLockKey("s1", "alice"))
			defer unlock()
			n := inside.Add(1)
			if n > maxSeen.Load() {
				maxSeen.Store(n)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
		}()
	}
	wg.Wait()
	if maxSeen.Load() != 1 {
		t.Errorf("Expected at most one holder, saw %d", maxSeen.Load())
	}
}

func TestKeyedLockerSharedBlocksExclusive(t *testing.T) {
	l := newKeyedLocker()
	runlock := l.RLock("s1")
	acquired := make(chan struct{})
	go func() {
		unlock := l.Lock("s1")
		close(acquired)
		unlock()
	}()

	select {
	case <-acquired:
		t.Fatal("Expected exclusive lock to wait for shared holder")
	case <-time.After(20 * time.Millisecond):
	}
	runlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("Expected exclusive lock after shared release")
	}
}
