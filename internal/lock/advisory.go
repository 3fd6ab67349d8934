// Package lock provides the advisory TTL-based mutual exclusion used to
// serialize read-modify-write cycles against a project's shared state.
//
// The primitive is advisory, not safety-critical: the write-then-reread
// confirmation below is not atomic, so two callers can both believe they
// hold the lock under adversarial timing. Callers get user-experience
// serialization, not correctness-critical mutual exclusion. A port to a
// backend with real compare-and-swap should replace the confirmation step.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/HungHsunHan/open-yolo-annotator-sub000/internal/store"
)

var ErrLockTimeout = errors.New("advisory lock acquisition timed out")

type Options struct {
	AcquireTimeout time.Duration
	PollInterval   time.Duration
	StaleAfter     time.Duration
}

func DefaultOptions() Options {
	return Options{
		AcquireTimeout: 5 * time.Second,
		PollInterval:   50 * time.Millisecond,
		StaleAfter:     5 * time.Second,
	}
}

// Locker acquires advisory locks on behalf of one session.
type Locker struct {
	store     store.SharedStateStore
	sessionID string
	opts      Options
	now       func() time.Time
	log       zerolog.Logger
}

func NewLocker(st store.SharedStateStore, sessionID string, opts Options, now func() time.Time, log zerolog.Logger) *Locker {
	if now == nil {
		now = time.Now
	}
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = DefaultOptions().AcquireTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultOptions().PollInterval
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultOptions().StaleAfter
	}
	return &Locker{
		store:     st,
		sessionID: sessionID,
		opts:      opts,
		now:       now,
		log:       log,
	}
}

// WithLock runs op while holding the advisory lock for resource. The slot
// is cleared afterwards whether op succeeded or failed. Acquisition failure
// is returned as ErrLockTimeout and never swallowed.
func (l *Locker) WithLock(ctx context.Context, resource string, op func(ctx context.Context) error) error {
	key := "lock-" + resource
	deadline := l.now().Add(l.opts.AcquireTimeout)

	for {
		won, err := l.tryAcquire(ctx, key)
		if err != nil {
			return fmt.Errorf("acquire %s: %w", resource, err)
		}
		if won {
			break
		}

		if !l.now().Before(deadline) {
			return fmt.Errorf("%s: %w", resource, ErrLockTimeout)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.opts.PollInterval):
		}
	}

	defer func() {
		if err := l.store.Delete(ctx, key); err != nil {
			l.log.Warn().Err(err).Str("resource", resource).Msg("lock release failed")
		}
	}()

	return op(ctx)
}

func (l *Locker) tryAcquire(ctx context.Context, key string) (bool, error) {
	current, err := l.store.Get(ctx, key)
	switch {
	case errors.Is(err, store.ErrKeyNotFound):
		// empty slot, contend for it
	case err != nil:
		return false, err
	default:
		if !l.isStale(string(current)) {
			return false, nil
		}
		// abandoned slot from a crashed or stalled holder
	}

	token := fmt.Sprintf("%s-%d", l.sessionID, l.now().UnixMilli())
	if err := l.store.Set(ctx, key, []byte(token)); err != nil {
		return false, err
	}

	// Re-read to confirm this token won the slot. Not atomic with the
	// write; see the package comment for the accepted residual race.
	confirm, err := l.store.Get(ctx, key)
	if err != nil {
		return false, nil
	}
	return string(confirm) == token, nil
}

// isStale treats a slot as abandoned when the timestamp baked into the
// token is older than StaleAfter. Malformed tokens are stale by definition.
func (l *Locker) isStale(token string) bool {
	idx := strings.LastIndex(token, "-")
	if idx < 0 {
		return true
	}
	millis, err := strconv.ParseInt(token[idx+1:], 10, 64)
	if err != nil {
		return true
	}
	acquired := time.UnixMilli(millis)
	return l.now().Sub(acquired) > l.opts.StaleAfter
}
