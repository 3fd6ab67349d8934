package collab

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/HungHsunHan/open-yolo-annotator-sub000/internal/config"
	"github.com/HungHsunHan/open-yolo-annotator-sub000/internal/models"
	"github.com/HungHsunHan/open-yolo-annotator-sub000/internal/state"
)

// SessionManager tracks user presence inside a project. Username is the
// de-duplication key: a fresh registration supersedes every earlier
// session of the same username and releases that user's leases.
type SessionManager struct {
	states *state.Store
	cfg    config.CollabConfig
	now    func() time.Time
	log    zerolog.Logger
}

func NewSessionManager(states *state.Store, cfg config.CollabConfig, now func() time.Time, log zerolog.Logger) *SessionManager {
	if now == nil {
		now = time.Now
	}
	return &SessionManager{
		states: states,
		cfg:    cfg,
		now:    now,
		log:    log,
	}
}

// Register creates a session for user in the project. Inactive sessions
// are swept first so the duplicate check runs against live entries only.
func (m *SessionManager) Register(ctx context.Context, projectID string, user models.Identity) (models.UserSession, error) {
	if _, err := m.CleanupInactive(ctx, projectID); err != nil {
		return models.UserSession{}, err
	}

	now := m.now()
	session := models.UserSession{
		UserID:        user.UserID,
		Username:      user.Username,
		SessionID:     uuid.NewString(),
		ProjectID:     projectID,
		LastHeartbeat: now,
		LoginTime:     now,
		IsActive:      true,
	}

	_, err := m.states.Update(ctx, projectID, func(st *models.CollaborationState) error {
		for id, existing := range st.ActiveSessions {
			if existing.Username != user.Username {
				continue
			}
			delete(st.ActiveSessions, id)
			releaseUserAssignments(st, existing.UserID)
		}
		st.ActiveSessions[session.SessionID] = session
		return nil
	})
	if err != nil {
		return models.UserSession{}, err
	}

	m.log.Debug().
		Str("project_id", projectID).
		Str("session_id", session.SessionID).
		Str("username", user.Username).
		Msg("session registered")
	return session, nil
}

// Heartbeat refreshes the caller's session. LoginTime is preserved; a
// session already evicted makes this a no-op rather than an error, since
// eviction and heartbeat race by design.
func (m *SessionManager) Heartbeat(ctx context.Context, projectID, sessionID, currentImageID string) error {
	_, err := m.states.Update(ctx, projectID, func(st *models.CollaborationState) error {
		session, ok := st.ActiveSessions[sessionID]
		if !ok {
			return nil
		}
		session.LastHeartbeat = m.now()
		session.CurrentImageID = currentImageID
		session.IsActive = true
		st.ActiveSessions[sessionID] = session
		return nil
	})
	return err
}

// Unregister drops the caller's session explicitly (logout/unmount) and
// releases its leases.
func (m *SessionManager) Unregister(ctx context.Context, projectID, sessionID string) error {
	_, err := m.states.Update(ctx, projectID, func(st *models.CollaborationState) error {
		session, ok := st.ActiveSessions[sessionID]
		if !ok {
			return nil
		}
		delete(st.ActiveSessions, sessionID)
		releaseUserAssignments(st, session.UserID)
		return nil
	})
	return err
}

// CleanupInactive drops sessions whose heartbeat is older than the
// inactivity threshold and keeps at most one session per username (the
// one with the freshest heartbeat). Assignments held by users with no
// surviving session go back to available. Returns the number of sessions
// dropped.
func (m *SessionManager) CleanupInactive(ctx context.Context, projectID string) (int, error) {
	removed := 0

	_, err := m.states.Update(ctx, projectID, func(st *models.CollaborationState) error {
		now := m.now()
		freshest := make(map[string]string) // username -> session ID to keep

		for id, session := range st.ActiveSessions {
			if now.Sub(session.LastHeartbeat) > m.cfg.InactivityThreshold {
				continue
			}
			keep, ok := freshest[session.Username]
			if !ok || session.LastHeartbeat.After(st.ActiveSessions[keep].LastHeartbeat) {
				freshest[session.Username] = id
			}
		}

		survivors := make(map[string]struct{}) // user IDs with a live session
		for id, session := range st.ActiveSessions {
			if freshest[session.Username] == id {
				survivors[session.UserID] = struct{}{}
				continue
			}
			delete(st.ActiveSessions, id)
			removed++
		}

		for imageID, assignment := range st.Assignments {
			if assignment.AssignedTo == "" {
				continue
			}
			if _, alive := survivors[assignment.AssignedTo]; alive {
				continue
			}
			if assignment.Status == models.AssignmentCompleted {
				continue
			}
			assignment.Status = models.AssignmentAvailable
			assignment.AssignedTo = ""
			assignment.LastActivity = now
			st.Assignments[imageID] = assignment
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if removed > 0 {
		m.log.Info().
			Str("project_id", projectID).
			Int("removed", removed).
			Msg("inactive sessions cleaned up")
	}
	return removed, nil
}

// releaseUserAssignments puts every non-completed lease held by userID
// back to available.
func releaseUserAssignments(st *models.CollaborationState, userID string) {
	for imageID, assignment := range st.Assignments {
		if assignment.AssignedTo != userID || assignment.Status == models.AssignmentCompleted {
			continue
		}
		assignment.Status = models.AssignmentAvailable
		assignment.AssignedTo = ""
		st.Assignments[imageID] = assignment
	}
}
