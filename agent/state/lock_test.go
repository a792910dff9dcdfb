package state

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestLocalLockerSerializesSameConversation(t *testing.T) {
	t.Parallel()

	locker := NewLocalLocker()
	var (
		mu      sync.Mutex
		active  int
		maxSeen int
		wg      sync.WaitGroup
	)

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(context.Background(), "c1")
			if err != nil {
				t.Errorf("Lock() error = %v", err)
				return
			}
			defer unlock()

			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()

			time.Sleep(2 * time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Fatalf("max concurrent holders = %d, want 1", maxSeen)
	}
	locker.mu.Lock()
	left := len(locker.locks)
	locker.mu.Unlock()
	if left != 0 {
		t.Fatalf("lock table not cleaned up: %d entries", left)
	}
}

func TestLocalLockerHonorsContext(t *testing.T) {
	t.Parallel()

	locker := NewLocalLocker()
	unlock, err := locker.Lock(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := locker.Lock(ctx, "c1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Lock() error = %v, want deadline exceeded", err)
	}

	other, err := locker.Lock(context.Background(), "c2")
	if err != nil {
		t.Fatalf("other conversation should not block: %v", err)
	}
	other()
	other()
}

func TestKeepAliveRenewsUntilStopped(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	var (
		mu    sync.Mutex
		calls int
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		keepAlive(ctx, 5*time.Millisecond, func(context.Context) (bool, error) {
			mu.Lock()
			defer mu.Unlock()
			calls++
			if calls == 2 {
				return false, errors.New("blip")
			}
			return true, nil
		}, "c1")
	}()

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := calls
		mu.Unlock()
		if n >= 4 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("renewals = %d, want at least 4", n)
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("keepAlive did not stop after cancel")
	}
}

func TestKeepAliveStopsWhenLeaseLost(t *testing.T) {
	t.Parallel()

	calls := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		keepAlive(context.Background(), time.Millisecond, func(context.Context) (bool, error) {
			calls++
			return false, nil
		}, "c1")
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("keepAlive kept renewing a lost lease")
	}
	if calls != 1 {
		t.Fatalf("renewals = %d, want 1", calls)
	}
}
