package repo

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestIncrementWindow_PostIncrementCounts(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	window := time.Now().UTC().Truncate(time.Minute)

	for want := 1; want <= 3; want++ {
		got, err := IncrementWindow(ctx, db, "t1", window)
		if err != nil {
			t.Fatalf("increment %d: %v", want, err)
		}
		if got != want {
			t.Fatalf("post-increment count = %d, want %d", got, want)
		}
	}

	// Another tenant and another window count independently.
	if got, _ := IncrementWindow(ctx, db, "t2", window); got != 1 {
		t.Fatalf("tenant t2 count = %d, want 1", got)
	}
	if got, _ := IncrementWindow(ctx, db, "t1", window.Add(time.Minute)); got != 1 {
		t.Fatalf("next window count = %d, want 1", got)
	}
}

func TestIncrementWindow_ConcurrentCallers(t *testing.T) {
	db := newFileDB(t)
	ctx := context.Background()
	window := time.Now().UTC().Truncate(time.Minute)

	const callers = 20
	var wg sync.WaitGroup
	counts := make(chan int, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := IncrementWindow(ctx, db, "t1", window)
			if err != nil {
				t.Errorf("increment: %v", err)
				return
			}
			counts <- n
		}()
	}
	wg.Wait()
	close(counts)

	// Every caller must observe a distinct post-increment count; that is what
	// makes the caller-side cap comparison race free.
	seen := map[int]bool{}
	for n := range counts {
		if seen[n] {
			t.Fatalf("count %d observed twice", n)
		}
		seen[n] = true
	}
	if len(seen) != callers {
		t.Fatalf("observed %d distinct counts, want %d", len(seen), callers)
	}
}

func TestDeleteWindowsBefore(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Minute)

	_, _ = IncrementWindow(ctx, db, "t1", now.Add(-5*time.Minute))
	_, _ = IncrementWindow(ctx, db, "t1", now.Add(-3*time.Minute))
	_, _ = IncrementWindow(ctx, db, "t1", now)

	n, err := DeleteWindowsBefore(ctx, db, now.Add(-2*time.Minute))
	if err != nil {
		t.Fatalf("gc: %v", err)
	}
	if n != 2 {
		t.Fatalf("gc removed %d windows, want 2", n)
	}

	// The current window survives and keeps its count.
	if got, _ := IncrementWindow(ctx, db, "t1", now); got != 2 {
		t.Fatalf("current window count after gc = %d, want 2", got)
	}
}
