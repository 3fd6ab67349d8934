package collab

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/HungHsunHan/open-yolo-annotator-sub000/internal/config"
	"github.com/HungHsunHan/open-yolo-annotator-sub000/internal/lock"
	"github.com/HungHsunHan/open-yolo-annotator-sub000/internal/models"
	"github.com/HungHsunHan/open-yolo-annotator-sub000/internal/state"
	"github.com/HungHsunHan/open-yolo-annotator-sub000/internal/store"
)

var (
	alice = models.Identity{UserID: "u-alice", Username: "alice"}
	bob   = models.Identity{UserID: "u-bob", Username: "bob"}
)

// fakeClock lets tests move the wall clock without sleeping.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func testConfig() config.CollabConfig {
	return config.CollabConfig{
		HeartbeatInterval:      30 * time.Second,
		InactivityThreshold:    3 * time.Second,
		CleanupInterval:        time.Minute,
		LeaseTTL:               30 * time.Minute,
		ActivityLogLimit:       50,
		SimultaneousEditWindow: 60 * time.Second,
	}
}

// newTestService wires a full service over an in-process store. The
// advisory lock runs on the real clock (its staleness math is tested in
// its own package); liveness and lease decisions run on the fake clock.
func newTestService(t *testing.T) (*Service, *state.Store, *fakeClock) {
	t.Helper()

	clock := newFakeClock()
	backend := store.NewMemoryStore()
	locker := lock.NewLocker(backend, "test-session", lock.Options{
		AcquireTimeout: 500 * time.Millisecond,
		PollInterval:   5 * time.Millisecond,
		StaleAfter:     5 * time.Second,
	}, time.Now, zerolog.Nop())
	states := state.NewStore(backend, locker, clock.Now, zerolog.Nop())
	service := NewService(states, testConfig(), clock.Now, zerolog.Nop())
	return service, states, clock
}
