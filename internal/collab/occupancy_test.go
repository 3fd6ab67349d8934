package collab

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/HungHsunHan/open-yolo-annotator-sub000/internal/config"
	"github.com/HungHsunHan/open-yolo-annotator-sub000/internal/lock"
	"github.com/HungHsunHan/open-yolo-annotator-sub000/internal/models"
	"github.com/HungHsunHan/open-yolo-annotator-sub000/internal/store"
)

var carol = models.Identity{UserID: "u-carol", Username: "carol"}

func newTestLimiter(t *testing.T) (*OccupancyLimiter, *fakeClock) {
	t.Helper()

	clock := newFakeClock()
	backend := store.NewMemoryStore()
	locker := lock.NewLocker(backend, "test-session", lock.Options{
		AcquireTimeout: 500 * time.Millisecond,
		PollInterval:   5 * time.Millisecond,
		StaleAfter:     5 * time.Second,
	}, time.Now, zerolog.Nop())

	cfg := config.OccupancyConfig{MaxUsers: 2, IdleTimeout: 5 * time.Minute}
	return NewOccupancyLimiter(backend, locker, cfg, clock.Now, zerolog.Nop()), clock
}

func TestOccupancy_AdmitsUpToCap(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	if err := limiter.Enter(ctx, "proj-1", alice); err != nil {
		t.Fatalf("Enter(alice) error = %v", err)
	}
	if err := limiter.Enter(ctx, "proj-1", bob); err != nil {
		t.Fatalf("Enter(bob) error = %v", err)
	}
	if err := limiter.Enter(ctx, "proj-1", carol); !errors.Is(err, ErrProjectFull) {
		t.Fatalf("Enter(carol) error = %v, want ErrProjectFull", err)
	}

	active, err := limiter.Active(ctx, "proj-1")
	if err != nil {
		t.Fatalf("Active() error = %v", err)
	}
	if len(active) != 2 {
		t.Errorf("active count = %d, want 2", len(active))
	}
}

// Re-entering refreshes an existing occupant instead of consuming a slot.
func TestOccupancy_ReentryRefreshes(t *testing.T) {
	limiter, clock := newTestLimiter(t)
	ctx := context.Background()

	if err := limiter.Enter(ctx, "proj-1", alice); err != nil {
		t.Fatalf("Enter() error = %v", err)
	}
	clock.Advance(4 * time.Minute)
	if err := limiter.Enter(ctx, "proj-1", alice); err != nil {
		t.Fatalf("re-Enter() error = %v", err)
	}

	// four more minutes: total 8 since first entry, but only 4 since the
	// refresh, so alice is still active
	clock.Advance(4 * time.Minute)
	active, err := limiter.Active(ctx, "proj-1")
	if err != nil {
		t.Fatalf("Active() error = %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("active count = %d, want 1", len(active))
	}
}

func TestOccupancy_IdleUsersPrunedOnEntry(t *testing.T) {
	limiter, clock := newTestLimiter(t)
	ctx := context.Background()

	if err := limiter.Enter(ctx, "proj-1", alice); err != nil {
		t.Fatalf("Enter(alice) error = %v", err)
	}
	if err := limiter.Enter(ctx, "proj-1", bob); err != nil {
		t.Fatalf("Enter(bob) error = %v", err)
	}

	clock.Advance(6 * time.Minute) // both idle past the 5m timeout

	if err := limiter.Enter(ctx, "proj-1", carol); err != nil {
		t.Fatalf("Enter(carol) after prune error = %v", err)
	}

	active, _ := limiter.Active(ctx, "proj-1")
	if len(active) != 1 || active[0].UserID != carol.UserID {
		t.Errorf("active = %v, want only carol", active)
	}
}

func TestOccupancy_LeaveFreesSlot(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	if err := limiter.Enter(ctx, "proj-1", alice); err != nil {
		t.Fatalf("Enter(alice) error = %v", err)
	}
	if err := limiter.Enter(ctx, "proj-1", bob); err != nil {
		t.Fatalf("Enter(bob) error = %v", err)
	}
	if err := limiter.Leave(ctx, "proj-1", alice.UserID); err != nil {
		t.Fatalf("Leave() error = %v", err)
	}
	if err := limiter.Enter(ctx, "proj-1", carol); err != nil {
		t.Fatalf("Enter(carol) error = %v", err)
	}
}

func TestOccupancy_LeaveUnknownUserIsNoop(t *testing.T) {
	limiter, _ := newTestLimiter(t)

	if err := limiter.Leave(context.Background(), "proj-1", "u-ghost"); err != nil {
		t.Fatalf("Leave() error = %v", err)
	}
}
