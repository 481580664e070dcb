package session

import (
	"sync"
	"testing"
)

func TestLocks_ExclusiveAndReleased(t *testing.T) {
	t.Parallel()

	l := NewLocks()
	var (
		wg      sync.WaitGroup
		counter int
	)
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.lock("s1")
			counter++
			unlock()
		}()
	}
	wg.Wait()

	if counter != 100 {
		t.Errorf("counter = %d, want 100", counter)
	}
	if l.Len() != 0 {
		t.Errorf("Len = %d after every holder released, want 0", l.Len())
	}

	unlockA := l.lock("a")
	unlockB := l.lock("b")
	if l.Len() != 2 {
		t.Errorf("Len = %d with two held sessions, want 2", l.Len())
	}
	unlockA()
	unlockB()
	if l.Len() != 0 {
		t.Errorf("Len = %d, want 0", l.Len())
	}
}
