package models

import "time"

// Identity is the {userId, username} pair supplied by the external auth
// layer. Username is the de-duplication key for sessions: two logins with
// the same username collapse to one active session per project.
type Identity struct {
	UserID   string
	Username string
}

// UserSession tracks one logged-in client instance inside a project.
type UserSession struct {
	UserID         string
	Username       string
	SessionID      string
	ProjectID      string
	LastHeartbeat  time.Time
	LoginTime      time.Time
	IsActive       bool
	CurrentImageID string
}

type AssignmentStatus string

const (
	AssignmentAvailable AssignmentStatus = "available"
	AssignmentAssigned  AssignmentStatus = "assigned"
	AssignmentLocked    AssignmentStatus = "locked"
	AssignmentCompleted AssignmentStatus = "completed"
)

type LockReason string

const (
	LockReasonAnnotation LockReason = "annotation"
	LockReasonManual     LockReason = "manual"
	LockReasonAuto       LockReason = "auto"
)

// ImageAssignment is the per-image lease record. Absence of a record means
// the image is available. A lock whose lockedUntil has passed is treated as
// expired and open for takeover even though the stored status is not
// eagerly flipped.
type ImageAssignment struct {
	ImageID      string
	ProjectID    string
	AssignedTo   string // user ID of the lease holder
	AssignedBy   string // username that requested the lease
	AssignedAt   time.Time
	LockedUntil  time.Time
	Status       AssignmentStatus
	LastActivity time.Time
	LockReason   LockReason
}

// ExpiredAt reports whether the lease no longer excludes other users.
func (a ImageAssignment) ExpiredAt(now time.Time) bool {
	return a.Status == AssignmentLocked && !now.Before(a.LockedUntil)
}

type ActivityAction string

const (
	ActivityStarted    ActivityAction = "started"
	ActivityAnnotating ActivityAction = "annotating"
	ActivityCompleted  ActivityAction = "completed"
	ActivityAbandoned  ActivityAction = "abandoned"
)

// UserActivity is an append-only log entry. It feeds conflict detection
// only and is never consulted for assignment decisions.
type UserActivity struct {
	ID               string
	UserID           string
	Username         string
	ImageID          string
	Action           ActivityAction
	Timestamp        time.Time
	AnnotationsCount int
}

type ConflictType string

const (
	ConflictExpiredLock      ConflictType = "expired_lock"
	ConflictSimultaneousEdit ConflictType = "simultaneous_edit"
	ConflictAssignment       ConflictType = "assignment_conflict"
)

type ConflictResolution string

const (
	ResolutionAuto    ConflictResolution = "auto"
	ResolutionManual  ConflictResolution = "manual"
	ResolutionPending ConflictResolution = "pending"
)

// Conflict is recomputed from scratch on every snapshot change and never
// persisted. IDs are derived from type and image so an unchanged snapshot
// produces an identical conflict set.
type Conflict struct {
	ID         string
	ImageID    string
	Type       ConflictType
	Users      []string
	Resolution ConflictResolution
	ResolvedBy string
	ResolvedAt *time.Time
	Details    map[string]string
}

// CollaborationState is the per-project aggregate: the unit of persistence
// and of advisory locking. It is shared-write across all client processes;
// no process owns it.
type CollaborationState struct {
	ProjectID      string
	ActiveSessions map[string]UserSession     // keyed by session ID
	Assignments    map[string]ImageAssignment // keyed by image ID
	Activities     []UserActivity
	Conflicts      []Conflict // transient, derived
	LastSync       time.Time
}

// NewCollaborationState returns an initialized empty state for a project.
func NewCollaborationState(projectID string, now time.Time) *CollaborationState {
	return &CollaborationState{
		ProjectID:      projectID,
		ActiveSessions: make(map[string]UserSession),
		Assignments:    make(map[string]ImageAssignment),
		Activities:     nil,
		Conflicts:      nil,
		LastSync:       now,
	}
}
