package guard

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLockSerializesPerAccount(t *testing.T) {
	g := New()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := g.Lock("acc-a")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, counter)
}

func TestDifferentAccountsDoNotBlockEachOther(t *testing.T) {
	g := New()

	unlockA := g.Lock("acc-a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB := g.Lock("acc-b")
		unlockB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different account blocked")
	}
}

func TestLockPairOppositeOrdersDoNotDeadlock(t *testing.T) {
	g := New()

	done := make(chan struct{})
	go func() {
		defer close(done)
		var wg sync.WaitGroup
		for i := 0; i < 200; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				unlock := g.LockPair("acc-a", "acc-b")
				unlock()
			}()
			go func() {
				defer wg.Done()
				unlock := g.LockPair("acc-b", "acc-a")
				unlock()
			}()
		}
		wg.Wait()
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pair locks in opposite orders deadlocked")
	}
}

func TestLockPairEqualIDsDoesNotSelfDeadlock(t *testing.T) {
	g := New()

	done := make(chan struct{})
	go func() {
		unlock := g.LockPair("acc-a", "acc-a")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pair lock with equal ids deadlocked")
	}

	// The single underlying lock is released and reacquirable.
	unlock := g.Lock("acc-a")
	unlock()
}

func TestLockPairHoldsBothAccounts(t *testing.T) {
	g := New()

	unlock := g.LockPair("acc-a", "acc-b")

	acquired := make(chan string, 2)
	go func() {
		u := g.Lock("acc-a")
		u()
		acquired <- "acc-a"
	}()
	go func() {
		u := g.Lock("acc-b")
		u()
		acquired <- "acc-b"
	}()

	select {
	case id := <-acquired:
		t.Fatalf("lock on %s acquired while the pair was held", id)
	case <-time.After(100 * time.Millisecond):
	}

	unlock()

	for i := 0; i < 2; i++ {
		select {
		case <-acquired:
		case <-time.After(time.Second):
			t.Fatal("locks not released after pair unlock")
		}
	}
}
