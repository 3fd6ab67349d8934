package collab

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/HungHsunHan/open-yolo-annotator-sub000/internal/config"
	"github.com/HungHsunHan/open-yolo-annotator-sub000/internal/ids"
	"github.com/HungHsunHan/open-yolo-annotator-sub000/internal/models"
	"github.com/HungHsunHan/open-yolo-annotator-sub000/internal/state"
)

// AssignmentManager grants, renews, releases and force-takes-over the
// per-image leases.
type AssignmentManager struct {
	states *state.Store
	cfg    config.CollabConfig
	now    func() time.Time
	log    zerolog.Logger
}

func NewAssignmentManager(states *state.Store, cfg config.CollabConfig, now func() time.Time, log zerolog.Logger) *AssignmentManager {
	if now == nil {
		now = time.Now
	}
	return &AssignmentManager{
		states: states,
		cfg:    cfg,
		now:    now,
		log:    log,
	}
}

// CanAssign reports whether userID may take the image at instant now: no
// record, an available record, the user's own record, or an expired lock.
func CanAssign(st *models.CollaborationState, imageID, userID string, now time.Time) bool {
	assignment, ok := st.Assignments[imageID]
	if !ok {
		return true
	}
	if assignment.Status == models.AssignmentAvailable {
		return true
	}
	if assignment.AssignedTo == userID {
		return true
	}
	return assignment.ExpiredAt(now)
}

// Assign takes a lease on the image. The only rejection is an unexpired
// lock held by someone else; every other prior record is overwritten in
// full, discarding its history. Reason annotation produces a hard lock;
// anything else a soft assignment.
func (m *AssignmentManager) Assign(ctx context.Context, projectID, imageID string, user models.Identity, reason models.LockReason) (*models.ImageAssignment, error) {
	var result *models.ImageAssignment

	_, err := m.states.Update(ctx, projectID, func(st *models.CollaborationState) error {
		now := m.now()

		existing, ok := st.Assignments[imageID]
		if ok && existing.Status == models.AssignmentLocked &&
			existing.AssignedTo != user.UserID && now.Before(existing.LockedUntil) {
			return ErrImageLocked
		}

		assignment := m.newAssignment(projectID, imageID, user, reason, now)
		st.Assignments[imageID] = assignment
		appendActivity(st, m.cfg.ActivityLogLimit, models.UserActivity{
			ID:        ids.New(),
			UserID:    user.UserID,
			Username:  user.Username,
			ImageID:   imageID,
			Action:    models.ActivityStarted,
			Timestamp: now,
		})
		result = &assignment
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.log.Debug().
		Str("project_id", projectID).
		Str("image_id", imageID).
		Str("user_id", user.UserID).
		Str("reason", string(reason)).
		Msg("image assigned")
	return result, nil
}

// Release gives the lease back. Only the current assignee may release;
// anyone else gets ErrNotOwner and the record is untouched. Completing
// keeps assignedTo on the record as provenance.
func (m *AssignmentManager) Release(ctx context.Context, projectID, imageID, userID string, markCompleted bool) error {
	_, err := m.states.Update(ctx, projectID, func(st *models.CollaborationState) error {
		assignment, ok := st.Assignments[imageID]
		if !ok || assignment.AssignedTo != userID {
			return ErrNotOwner
		}

		now := m.now()
		action := models.ActivityAbandoned
		if markCompleted {
			assignment.Status = models.AssignmentCompleted
			action = models.ActivityCompleted
		} else {
			assignment.Status = models.AssignmentAvailable
			assignment.AssignedTo = ""
		}
		assignment.LastActivity = now
		st.Assignments[imageID] = assignment

		appendActivity(st, m.cfg.ActivityLogLimit, models.UserActivity{
			ID:        ids.New(),
			UserID:    userID,
			Username:  usernameFor(st, userID),
			ImageID:   imageID,
			Action:    action,
			Timestamp: now,
		})
		return nil
	})
	return err
}

// ForceAssign overwrites whatever lease exists with a fresh one for user,
// regardless of expiry. It is the takeover action behind an expired-lock
// conflict; exposing it without that gate is the caller's mistake.
func (m *AssignmentManager) ForceAssign(ctx context.Context, projectID, imageID string, user models.Identity) (*models.ImageAssignment, error) {
	var result *models.ImageAssignment

	_, err := m.states.Update(ctx, projectID, func(st *models.CollaborationState) error {
		now := m.now()
		assignment := m.newAssignment(projectID, imageID, user, models.LockReasonManual, now)
		assignment.Status = models.AssignmentLocked
		st.Assignments[imageID] = assignment

		appendActivity(st, m.cfg.ActivityLogLimit, models.UserActivity{
			ID:        ids.New(),
			UserID:    user.UserID,
			Username:  user.Username,
			ImageID:   imageID,
			Action:    models.ActivityStarted,
			Timestamp: now,
		})
		result = &assignment
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.log.Info().
		Str("project_id", projectID).
		Str("image_id", imageID).
		Str("user_id", user.UserID).
		Msg("image force-assigned")
	return result, nil
}

// RecordActivity appends a log entry outside the assign/release flows,
// typically the periodic annotating progress ping.
func (m *AssignmentManager) RecordActivity(ctx context.Context, projectID string, user models.Identity, imageID string, action models.ActivityAction, annotations int) error {
	_, err := m.states.Update(ctx, projectID, func(st *models.CollaborationState) error {
		now := m.now()
		if assignment, ok := st.Assignments[imageID]; ok && assignment.AssignedTo == user.UserID {
			assignment.LastActivity = now
			st.Assignments[imageID] = assignment
		}
		appendActivity(st, m.cfg.ActivityLogLimit, models.UserActivity{
			ID:               ids.New(),
			UserID:           user.UserID,
			Username:         user.Username,
			ImageID:          imageID,
			Action:           action,
			Timestamp:        now,
			AnnotationsCount: annotations,
		})
		return nil
	})
	return err
}

func (m *AssignmentManager) newAssignment(projectID, imageID string, user models.Identity, reason models.LockReason, now time.Time) models.ImageAssignment {
	status := models.AssignmentAssigned
	if reason == models.LockReasonAnnotation {
		status = models.AssignmentLocked
	}
	return models.ImageAssignment{
		ImageID:      imageID,
		ProjectID:    projectID,
		AssignedTo:   user.UserID,
		AssignedBy:   user.Username,
		AssignedAt:   now,
		LockedUntil:  now.Add(m.cfg.LeaseTTL),
		Status:       status,
		LastActivity: now,
		LockReason:   reason,
	}
}

// appendActivity keeps the log bounded to the newest limit entries.
func appendActivity(st *models.CollaborationState, limit int, activity models.UserActivity) {
	st.Activities = append(st.Activities, activity)
	if limit > 0 && len(st.Activities) > limit {
		st.Activities = st.Activities[len(st.Activities)-limit:]
	}
}

func usernameFor(st *models.CollaborationState, userID string) string {
	for _, session := range st.ActiveSessions {
		if session.UserID == userID {
			return session.Username
		}
	}
	return ""
}
