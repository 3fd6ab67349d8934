package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/HungHsunHan/open-yolo-annotator-sub000/internal/lock"
	"github.com/HungHsunHan/open-yolo-annotator-sub000/internal/models"
	"github.com/HungHsunHan/open-yolo-annotator-sub000/internal/store"
)

func stateKey(projectID string) string {
	return "collab-state-" + projectID
}

func lockResource(projectID string) string {
	return "state-" + projectID
}

// Store reads and writes per-project collaboration snapshots. Update is
// the only sanctioned mutation path; Read and Write exist for callers that
// explicitly want an unguarded snapshot or replay.
type Store struct {
	backend store.SharedStateStore
	locker  *lock.Locker
	now     func() time.Time
	log     zerolog.Logger
}

func NewStore(backend store.SharedStateStore, locker *lock.Locker, now func() time.Time, log zerolog.Logger) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		backend: backend,
		locker:  locker,
		now:     now,
		log:     log,
	}
}

// Read loads the project snapshot. A missing or unparsable blob yields a
// fresh empty state: corruption is recovered by replacement, not treated
// as fatal. The replacement is logged because it discards data.
func (s *Store) Read(ctx context.Context, projectID string) (*models.CollaborationState, error) {
	data, err := s.backend.Get(ctx, stateKey(projectID))
	if err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			return models.NewCollaborationState(projectID, s.now()), nil
		}
		return nil, fmt.Errorf("read state %s: %w", projectID, err)
	}

	st, err := Decode(data)
	if err != nil {
		s.log.Warn().Err(err).Str("project_id", projectID).
			Msg("collaboration state unparsable, resetting to empty")
		return models.NewCollaborationState(projectID, s.now()), nil
	}
	return st, nil
}

// Write stamps lastSync and persists the snapshot. The backend notifies
// local subscribers synchronously; sibling processes learn of the change
// eventually through the substrate's own notification channel.
func (s *Store) Write(ctx context.Context, projectID string, st *models.CollaborationState) error {
	st.LastSync = s.now()

	data, err := Encode(st)
	if err != nil {
		return fmt.Errorf("encode state %s: %w", projectID, err)
	}
	if err := s.backend.Set(ctx, stateKey(projectID), data); err != nil {
		return fmt.Errorf("write state %s: %w", projectID, err)
	}
	return nil
}

// Update runs fn over the current snapshot and persists the result, the
// whole cycle guarded by the per-project advisory lock.
func (s *Store) Update(ctx context.Context, projectID string, fn func(st *models.CollaborationState) error) (*models.CollaborationState, error) {
	var updated *models.CollaborationState

	err := s.locker.WithLock(ctx, lockResource(projectID), func(ctx context.Context) error {
		st, err := s.Read(ctx, projectID)
		if err != nil {
			return err
		}
		if err := fn(st); err != nil {
			return err
		}
		if err := s.Write(ctx, projectID, st); err != nil {
			return err
		}
		updated = st
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Subscribe invokes fn whenever the project snapshot changes. fn receives
// no payload; callers re-read the state.
func (s *Store) Subscribe(projectID string, fn func()) func() {
	return s.backend.Subscribe(stateKey(projectID), func(string) { fn() })
}
