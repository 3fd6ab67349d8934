// Package state persists per-project collaboration snapshots on the shared
// store. All timestamps cross the persistence edge as ISO-8601 strings;
// the conversion happens only in this codec so no call site can forget it.
package state

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/HungHsunHan/open-yolo-annotator-sub000/internal/models"
)

type sessionRecord struct {
	UserID         string `json:"userId"`
	Username       string `json:"username"`
	SessionID      string `json:"sessionId"`
	ProjectID      string `json:"projectId"`
	LastHeartbeat  string `json:"lastHeartbeat"`
	LoginTime      string `json:"loginTime"`
	IsActive       bool   `json:"isActive"`
	CurrentImageID string `json:"currentImageId,omitempty"`
}

type assignmentRecord struct {
	ImageID      string `json:"imageId"`
	ProjectID    string `json:"projectId"`
	AssignedTo   string `json:"assignedTo"`
	AssignedBy   string `json:"assignedBy"`
	AssignedAt   string `json:"assignedAt"`
	LockedUntil  string `json:"lockedUntil"`
	Status       string `json:"status"`
	LastActivity string `json:"lastActivity"`
	LockReason   string `json:"lockReason"`
}

type activityRecord struct {
	ID               string `json:"id"`
	UserID           string `json:"userId"`
	Username         string `json:"username"`
	ImageID          string `json:"imageId"`
	Action           string `json:"action"`
	Timestamp        string `json:"timestamp"`
	AnnotationsCount int    `json:"annotationsCount"`
}

// stateRecord is the persisted shape. Conflicts are deliberately absent:
// they are derived on every read and must never be partially persisted.
type stateRecord struct {
	ProjectID      string                      `json:"projectId"`
	ActiveSessions map[string]sessionRecord    `json:"activeSessions"`
	Assignments    map[string]assignmentRecord `json:"assignments"`
	Activities     []activityRecord            `json:"activities"`
	LastSync       string                      `json:"lastSync"`
}

func encodeTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func decodeTime(field, value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("decode %s: %w", field, err)
	}
	return t, nil
}

// Encode serializes a snapshot for the shared store.
func Encode(st *models.CollaborationState) ([]byte, error) {
	record := stateRecord{
		ProjectID:      st.ProjectID,
		ActiveSessions: make(map[string]sessionRecord, len(st.ActiveSessions)),
		Assignments:    make(map[string]assignmentRecord, len(st.Assignments)),
		LastSync:       encodeTime(st.LastSync),
	}

	for id, session := range st.ActiveSessions {
		record.ActiveSessions[id] = sessionRecord{
			UserID:         session.UserID,
			Username:       session.Username,
			SessionID:      session.SessionID,
			ProjectID:      session.ProjectID,
			LastHeartbeat:  encodeTime(session.LastHeartbeat),
			LoginTime:      encodeTime(session.LoginTime),
			IsActive:       session.IsActive,
			CurrentImageID: session.CurrentImageID,
		}
	}

	for id, assignment := range st.Assignments {
		record.Assignments[id] = assignmentRecord{
			ImageID:      assignment.ImageID,
			ProjectID:    assignment.ProjectID,
			AssignedTo:   assignment.AssignedTo,
			AssignedBy:   assignment.AssignedBy,
			AssignedAt:   encodeTime(assignment.AssignedAt),
			LockedUntil:  encodeTime(assignment.LockedUntil),
			Status:       string(assignment.Status),
			LastActivity: encodeTime(assignment.LastActivity),
			LockReason:   string(assignment.LockReason),
		}
	}

	for _, activity := range st.Activities {
		record.Activities = append(record.Activities, activityRecord{
			ID:               activity.ID,
			UserID:           activity.UserID,
			Username:         activity.Username,
			ImageID:          activity.ImageID,
			Action:           string(activity.Action),
			Timestamp:        encodeTime(activity.Timestamp),
			AnnotationsCount: activity.AnnotationsCount,
		})
	}

	return json.Marshal(record)
}

// Decode parses a stored snapshot back into domain types. Any malformed
// field fails the whole decode; the caller decides the recovery policy.
func Decode(data []byte) (*models.CollaborationState, error) {
	var record stateRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}

	lastSync, err := decodeTime("lastSync", record.LastSync)
	if err != nil {
		return nil, err
	}

	st := &models.CollaborationState{
		ProjectID:      record.ProjectID,
		ActiveSessions: make(map[string]models.UserSession, len(record.ActiveSessions)),
		Assignments:    make(map[string]models.ImageAssignment, len(record.Assignments)),
		LastSync:       lastSync,
	}

	for id, session := range record.ActiveSessions {
		lastHeartbeat, err := decodeTime("lastHeartbeat", session.LastHeartbeat)
		if err != nil {
			return nil, err
		}
		loginTime, err := decodeTime("loginTime", session.LoginTime)
		if err != nil {
			return nil, err
		}
		st.ActiveSessions[id] = models.UserSession{
			UserID:         session.UserID,
			Username:       session.Username,
			SessionID:      session.SessionID,
			ProjectID:      session.ProjectID,
			LastHeartbeat:  lastHeartbeat,
			LoginTime:      loginTime,
			IsActive:       session.IsActive,
			CurrentImageID: session.CurrentImageID,
		}
	}

	for id, assignment := range record.Assignments {
		assignedAt, err := decodeTime("assignedAt", assignment.AssignedAt)
		if err != nil {
			return nil, err
		}
		lockedUntil, err := decodeTime("lockedUntil", assignment.LockedUntil)
		if err != nil {
			return nil, err
		}
		lastActivity, err := decodeTime("lastActivity", assignment.LastActivity)
		if err != nil {
			return nil, err
		}
		st.Assignments[id] = models.ImageAssignment{
			ImageID:      assignment.ImageID,
			ProjectID:    assignment.ProjectID,
			AssignedTo:   assignment.AssignedTo,
			AssignedBy:   assignment.AssignedBy,
			AssignedAt:   assignedAt,
			LockedUntil:  lockedUntil,
			Status:       models.AssignmentStatus(assignment.Status),
			LastActivity: lastActivity,
			LockReason:   models.LockReason(assignment.LockReason),
		}
	}

	for _, activity := range record.Activities {
		timestamp, err := decodeTime("timestamp", activity.Timestamp)
		if err != nil {
			return nil, err
		}
		st.Activities = append(st.Activities, models.UserActivity{
			ID:               activity.ID,
			UserID:           activity.UserID,
			Username:         activity.Username,
			ImageID:          activity.ImageID,
			Action:           models.ActivityAction(activity.Action),
			Timestamp:        timestamp,
			AnnotationsCount: activity.AnnotationsCount,
		})
	}

	return st, nil
}
