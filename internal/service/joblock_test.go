package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestJobLocksSerializePerJob(t *testing.T) {
	locks := NewJobLocks()
	var active, maxActive int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locks.Lock(context.Background(), "job")
			if err != nil {
				t.Error(err)
				return
			}
			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
			unlock()
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Fatalf("max holders = %d, want 1", maxActive)
	}
	if n := locks.size(); n != 0 {
		t.Fatalf("%d lock entries left", n)
	}
}

func TestJobLocksIndependentJobs(t *testing.T) {
	locks := NewJobLocks()
	unlockA, _ := locks.Lock(context.Background(), "a")
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := locks.Lock(ctx, "b")
	if err != nil {
		t.Fatalf("lock b blocked by a: %v", err)
	}
	unlockB()
}

func TestJobLocksHonorContext(t *testing.T) {
	locks := NewJobLocks()
	unlock, _ := locks.Lock(context.Background(), "job")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := locks.Lock(ctx, "job"); err == nil {
		t.Fatal("expected context error")
	}

	unlock()
	unlock() // second call is a no-op
	if n := locks.size(); n != 0 {
		t.Fatalf("%d lock entries left", n)
	}
}
