package transcoding

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLockTableSerializesSamePath(t *testing.T) {
	table := NewLockTable(false)

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			// equal after normalization
			unlock, err := table.Lock(context.Background(), "/tmp/out/../out/a.m3u8")
			if err != nil {
				t.Error(err)
				return
			}
			defer unlock()

			n := inside.Add(1)
			for {
				m := maxInside.Load()
				if n <= m || maxInside.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
		}()
	}

	wg.Wait()

	if got := maxInside.Load(); got != 1 {
		t.Errorf("concurrent holders = %d, want 1", got)
	}
	if got := table.Len(); got != 0 {
		t.Errorf("Len() = %d, want 0", got)
	}
}

func TestLockTableDistinctPathsDoNotBlock(t *testing.T) {
	table := NewLockTable(false)

	unlockA, err := table.Lock(context.Background(), "/tmp/a.m3u8")
	if err != nil {
		t.Fatal(err)
	}
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	unlockB, err := table.Lock(ctx, "/tmp/b.m3u8")
	if err != nil {
		t.Fatalf("Lock() on distinct path error = %v", err)
	}
	unlockB()

	if got := table.Len(); got != 1 {
		t.Errorf("Len() = %d, want 1", got)
	}
}

func TestLockTableCancellation(t *testing.T) {
	table := NewLockTable(false)

	unlock, err := table.Lock(context.Background(), "/tmp/a.m3u8")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := table.Lock(ctx, "/tmp/a.m3u8"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Lock() error = %v, want context.DeadlineExceeded", err)
	}

	// waiter reference released, holder still present
	if got := table.Len(); got != 1 {
		t.Errorf("Len() = %d, want 1", got)
	}

	unlock()
	unlock() // no double release

	if got := table.Len(); got != 0 {
		t.Errorf("Len() = %d, want 0", got)
	}

	// lock is usable again
	unlock, err = table.Lock(context.Background(), "/tmp/a.m3u8")
	if err != nil {
		t.Fatalf("Lock() after release error = %v", err)
	}
	unlock()
}

func TestLockTableFileLock(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.m3u8")

	first := NewLockTable(true)
	second := NewLockTable(true)

	unlock, err := first.Lock(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if _, err := second.Lock(ctx, path); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Lock() from second table error = %v, want context.DeadlineExceeded", err)
	}
	if got := second.Len(); got != 0 {
		t.Errorf("Len() = %d, want 0", got)
	}

	unlock()

	unlock, err = second.Lock(context.Background(), path)
	if err != nil {
		t.Fatalf("Lock() after release error = %v", err)
	}
	unlock()
}
