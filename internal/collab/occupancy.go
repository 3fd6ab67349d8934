package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/HungHsunHan/open-yolo-annotator-sub000/internal/config"
	"github.com/HungHsunHan/open-yolo-annotator-sub000/internal/lock"
	"github.com/HungHsunHan/open-yolo-annotator-sub000/internal/models"
	"github.com/HungHsunHan/open-yolo-annotator-sub000/internal/store"
)

// Occupant is one admitted user in the occupancy-limited view of a
// project.
type Occupant struct {
	UserID     string    `json:"userId"`
	Username   string    `json:"username"`
	EnteredAt  time.Time `json:"-"`
	LastActive time.Time `json:"-"`
}

type occupantRecord struct {
	UserID     string `json:"userId"`
	Username   string `json:"username"`
	EnteredAt  string `json:"enteredAt"`
	LastActive string `json:"lastActive"`
}

// OccupancyLimiter is the coarse alternative to per-image leasing: cap a
// project to a fixed number of concurrent active users, with no per-image
// state at all. It keeps its own small blob per project, guarded by the
// same advisory lock discipline as the collaboration state.
type OccupancyLimiter struct {
	backend store.SharedStateStore
	locker  *lock.Locker
	cfg     config.OccupancyConfig
	now     func() time.Time
	log     zerolog.Logger
}

func NewOccupancyLimiter(backend store.SharedStateStore, locker *lock.Locker, cfg config.OccupancyConfig, now func() time.Time, log zerolog.Logger) *OccupancyLimiter {
	if now == nil {
		now = time.Now
	}
	return &OccupancyLimiter{
		backend: backend,
		locker:  locker,
		cfg:     cfg,
		now:     now,
		log:     log,
	}
}

func occupancyKey(projectID string) string {
	return "occupancy-" + projectID
}

// Enter admits user into the project, refreshing them if already present.
// Users idle longer than the idle timeout are pruned first. A full project
// returns ErrProjectFull.
func (l *OccupancyLimiter) Enter(ctx context.Context, projectID string, user models.Identity) error {
	return l.locker.WithLock(ctx, occupancyKey(projectID), func(ctx context.Context) error {
		occupants, err := l.read(ctx, projectID)
		if err != nil {
			return err
		}

		now := l.now()
		pruned := occupants[:0]
		for _, occupant := range occupants {
			if now.Sub(occupant.LastActive) > l.cfg.IdleTimeout {
				continue
			}
			pruned = append(pruned, occupant)
		}
		occupants = pruned

		refreshed := false
		for i := range occupants {
			if occupants[i].UserID == user.UserID {
				occupants[i].LastActive = now
				refreshed = true
				break
			}
		}

		if !refreshed {
			if len(occupants) >= l.cfg.MaxUsers {
				return ErrProjectFull
			}
			occupants = append(occupants, Occupant{
				UserID:     user.UserID,
				Username:   user.Username,
				EnteredAt:  now,
				LastActive: now,
			})
		}

		return l.write(ctx, projectID, occupants)
	})
}

// Leave removes the user; leaving a project one is not in is a no-op.
func (l *OccupancyLimiter) Leave(ctx context.Context, projectID, userID string) error {
	return l.locker.WithLock(ctx, occupancyKey(projectID), func(ctx context.Context) error {
		occupants, err := l.read(ctx, projectID)
		if err != nil {
			return err
		}
		kept := occupants[:0]
		for _, occupant := range occupants {
			if occupant.UserID == userID {
				continue
			}
			kept = append(kept, occupant)
		}
		return l.write(ctx, projectID, kept)
	})
}

// Active lists current occupants, idle users excluded.
func (l *OccupancyLimiter) Active(ctx context.Context, projectID string) ([]Occupant, error) {
	occupants, err := l.read(ctx, projectID)
	if err != nil {
		return nil, err
	}

	now := l.now()
	var active []Occupant
	for _, occupant := range occupants {
		if now.Sub(occupant.LastActive) > l.cfg.IdleTimeout {
			continue
		}
		active = append(active, occupant)
	}
	sort.Slice(active, func(i, j int) bool { return active[i].UserID < active[j].UserID })
	return active, nil
}

func (l *OccupancyLimiter) read(ctx context.Context, projectID string) ([]Occupant, error) {
	data, err := l.backend.Get(ctx, occupancyKey(projectID))
	if err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("read occupancy %s: %w", projectID, err)
	}

	var records []occupantRecord
	if err := json.Unmarshal(data, &records); err != nil {
		l.log.Warn().Err(err).Str("project_id", projectID).
			Msg("occupancy blob unparsable, resetting")
		return nil, nil
	}

	occupants := make([]Occupant, 0, len(records))
	for _, record := range records {
		enteredAt, err := time.Parse(time.RFC3339Nano, record.EnteredAt)
		if err != nil {
			continue
		}
		lastActive, err := time.Parse(time.RFC3339Nano, record.LastActive)
		if err != nil {
			continue
		}
		occupants = append(occupants, Occupant{
			UserID:     record.UserID,
			Username:   record.Username,
			EnteredAt:  enteredAt,
			LastActive: lastActive,
		})
	}
	return occupants, nil
}

func (l *OccupancyLimiter) write(ctx context.Context, projectID string, occupants []Occupant) error {
	records := make([]occupantRecord, 0, len(occupants))
	for _, occupant := range occupants {
		records = append(records, occupantRecord{
			UserID:     occupant.UserID,
			Username:   occupant.Username,
			EnteredAt:  occupant.EnteredAt.UTC().Format(time.RFC3339Nano),
			LastActive: occupant.LastActive.UTC().Format(time.RFC3339Nano),
		})
	}
	data, err := json.Marshal(records)
	if err != nil {
		return err
	}
	return l.backend.Set(ctx, occupancyKey(projectID), data)
}
