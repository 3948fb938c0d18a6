package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestKeyLocksSharedHoldersOverlap(t *testing.T) {
	l := newKeyLocks()
	ctx := context.Background()

	r1, err := l.acquire(ctx, "k", false)
	if err != nil {
		t.Fatalf("acquire shared 1: %v", err)
	}
	r2, err := l.acquire(ctx, "k", false)
	if err != nil {
		t.Fatalf("acquire shared 2: %v", err)
	}
	r1()
	r2()

	if l.size() != 0 {
		t.Errorf("size = %d after release, want 0", l.size())
	}
}

func TestKeyLocksExclusiveExcludesShared(t *testing.T) {
	l := newKeyLocks()
	ctx := context.Background()

	release, err := l.acquire(ctx, "k", true)
	if err != nil {
		t.Fatalf("acquire exclusive: %v", err)
	}

	var acquired atomic.Bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		r, err := l.acquire(ctx, "k", false)
		if err != nil {
			t.Errorf("acquire shared: %v", err)
			return
		}
		acquired.Store(true)
		r()
	}()

	time.Sleep(50 * time.Millisecond)
	if acquired.Load() {
		t.Fatal("shared hold acquired while exclusive held")
	}

	release()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("shared hold not acquired after exclusive release")
	}
	if !acquired.Load() {
		t.Error("shared hold never acquired")
	}
}

func TestKeyLocksExclusiveWaitsForShared(t *testing.T) {
	l := newKeyLocks()
	ctx := context.Background()

	release, err := l.acquire(ctx, "k", false)
	if err != nil {
		t.Fatalf("acquire shared: %v", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, err := l.acquire(timeoutCtx, "k", true); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("exclusive acquire error = %v, want DeadlineExceeded", err)
	}

	release()
	r, err := l.acquire(ctx, "k", true)
	if err != nil {
		t.Fatalf("exclusive acquire after release: %v", err)
	}
	r()
	if l.size() != 0 {
		t.Errorf("size = %d, want 0", l.size())
	}
}

func TestKeyLocksIndependentKeys(t *testing.T) {
	l := newKeyLocks()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	r1, err := l.acquire(ctx, "a", true)
	if err != nil {
		t.Fatalf("acquire a: %v", err)
	}
	defer r1()
	r2, err := l.acquire(ctx, "b", true)
	if err != nil {
		t.Fatalf("acquire b while a held: %v", err)
	}
	r2()
}

func TestKeyLocksReleaseIsIdempotent(t *testing.T) {
	l := newKeyLocks()
	r, err := l.acquire(context.Background(), "k", true)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	r()
	r()

	r2, err := l.acquire(context.Background(), "k", true)
	if err != nil {
		t.Fatalf("re-acquire: %v", err)
	}
	r2()
}
