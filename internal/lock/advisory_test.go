package lock

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/HungHsunHan/open-yolo-annotator-sub000/internal/store"
)

func fastOptions() Options {
	return Options{
		AcquireTimeout: 100 * time.Millisecond,
		PollInterval:   5 * time.Millisecond,
		StaleAfter:     5 * time.Second,
	}
}

func TestWithLock_RunsOperation(t *testing.T) {
	backend := store.NewMemoryStore()
	locker := NewLocker(backend, "sess-a", fastOptions(), time.Now, zerolog.Nop())

	ran := false
	err := locker.WithLock(context.Background(), "resource", func(context.Context) error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("WithLock() error = %v", err)
	}
	if !ran {
		t.Fatal("operation did not run")
	}
}

func TestWithLock_ClearsSlotAfterSuccessAndFailure(t *testing.T) {
	backend := store.NewMemoryStore()
	locker := NewLocker(backend, "sess-a", fastOptions(), time.Now, zerolog.Nop())
	ctx := context.Background()

	if err := locker.WithLock(ctx, "resource", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("WithLock() error = %v", err)
	}
	if _, err := backend.Get(ctx, "lock-resource"); !errors.Is(err, store.ErrKeyNotFound) {
		t.Errorf("lock slot still present after success: %v", err)
	}

	opErr := errors.New("boom")
	if err := locker.WithLock(ctx, "resource", func(context.Context) error { return opErr }); !errors.Is(err, opErr) {
		t.Fatalf("WithLock() error = %v, want operation error", err)
	}
	if _, err := backend.Get(ctx, "lock-resource"); !errors.Is(err, store.ErrKeyNotFound) {
		t.Errorf("lock slot still present after failure: %v", err)
	}
}

func TestWithLock_OperationErrorPropagates(t *testing.T) {
	backend := store.NewMemoryStore()
	locker := NewLocker(backend, "sess-a", fastOptions(), time.Now, zerolog.Nop())

	want := errors.New("state transform failed")
	err := locker.WithLock(context.Background(), "resource", func(context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("WithLock() error = %v, want %v", err, want)
	}
}

func TestWithLock_ContendedSlotTimesOut(t *testing.T) {
	backend := store.NewMemoryStore()
	ctx := context.Background()

	// a fresh foreign token occupies the slot for the whole test
	token := fmt.Sprintf("sess-other-%d", time.Now().UnixMilli())
	if err := backend.Set(ctx, "lock-resource", []byte(token)); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	locker := NewLocker(backend, "sess-a", fastOptions(), time.Now, zerolog.Nop())
	err := locker.WithLock(ctx, "resource", func(context.Context) error {
		t.Fatal("operation ran while slot was held")
		return nil
	})
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("WithLock() error = %v, want ErrLockTimeout", err)
	}
}

func TestWithLock_AbandonedSlotIsReclaimed(t *testing.T) {
	backend := store.NewMemoryStore()
	ctx := context.Background()

	// token from a holder that stopped heartbeating ten seconds ago
	stale := fmt.Sprintf("sess-dead-%d", time.Now().Add(-10*time.Second).UnixMilli())
	if err := backend.Set(ctx, "lock-resource", []byte(stale)); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	locker := NewLocker(backend, "sess-a", fastOptions(), time.Now, zerolog.Nop())
	ran := false
	err := locker.WithLock(ctx, "resource", func(context.Context) error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("WithLock() error = %v", err)
	}
	if !ran {
		t.Fatal("operation did not run after reclaiming abandoned slot")
	}
}

func TestWithLock_MalformedSlotIsReclaimed(t *testing.T) {
	backend := store.NewMemoryStore()
	ctx := context.Background()

	if err := backend.Set(ctx, "lock-resource", []byte("garbage")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	locker := NewLocker(backend, "sess-a", fastOptions(), time.Now, zerolog.Nop())
	err := locker.WithLock(ctx, "resource", func(context.Context) error { return nil })
	if err != nil {
		t.Fatalf("WithLock() error = %v", err)
	}
}

func TestWithLock_CancelledContextStopsWaiting(t *testing.T) {
	backend := store.NewMemoryStore()
	bg := context.Background()

	token := fmt.Sprintf("sess-other-%d", time.Now().UnixMilli())
	if err := backend.Set(bg, "lock-resource", []byte(token)); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	opts := fastOptions()
	opts.AcquireTimeout = 10 * time.Second
	locker := NewLocker(backend, "sess-a", opts, time.Now, zerolog.Nop())

	ctx, cancel := context.WithTimeout(bg, 20*time.Millisecond)
	defer cancel()

	err := locker.WithLock(ctx, "resource", func(context.Context) error { return nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("WithLock() error = %v, want context deadline", err)
	}
}
