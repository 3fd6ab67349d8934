package collab

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/HungHsunHan/open-yolo-annotator-sub000/internal/config"
	"github.com/HungHsunHan/open-yolo-annotator-sub000/internal/models"
	"github.com/HungHsunHan/open-yolo-annotator-sub000/internal/state"
)

// ImageState is the coarse per-image status surfaced to the UI.
type ImageState string

const (
	ImageAvailable       ImageState = "available"
	ImageAssignedToMe    ImageState = "assigned_to_me"
	ImageAssignedToOther ImageState = "assigned_to_other"
	ImageLocked          ImageState = "locked"
	ImageCompleted       ImageState = "completed"
)

// ImageStatus answers "may I work on this image right now, and if not,
// who is and until when".
type ImageStatus struct {
	State            ImageState `json:"state"`
	AssignedUsername string     `json:"assignedUsername,omitempty"`
	LockedUntil      *time.Time `json:"lockedUntil,omitempty"`
	CanTakeOver      bool       `json:"canTakeOver"`
}

// Snapshot is the full project view handed to the UI: the shared state
// plus the conflicts derived for the asking user.
type Snapshot struct {
	State     *models.CollaborationState
	Conflicts []models.Conflict
}

// Service is the public coordination API: a thin composition of the
// session and assignment managers over one state store. Construct one per
// store handle; there is no process-wide singleton, so tests run isolated
// instances side by side.
type Service struct {
	sessions    *SessionManager
	assignments *AssignmentManager
	states      *state.Store
	cfg         config.CollabConfig
	now         func() time.Time
	log         zerolog.Logger
}

func NewService(states *state.Store, cfg config.CollabConfig, now func() time.Time, log zerolog.Logger) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		sessions:    NewSessionManager(states, cfg, now, log),
		assignments: NewAssignmentManager(states, cfg, now, log),
		states:      states,
		cfg:         cfg,
		now:         now,
		log:         log,
	}
}

func (s *Service) Sessions() *SessionManager       { return s.sessions }
func (s *Service) Assignments() *AssignmentManager { return s.assignments }

func (s *Service) RegisterSession(ctx context.Context, projectID string, user models.Identity) (models.UserSession, error) {
	return s.sessions.Register(ctx, projectID, user)
}

func (s *Service) Heartbeat(ctx context.Context, projectID, sessionID, currentImageID string) error {
	return s.sessions.Heartbeat(ctx, projectID, sessionID, currentImageID)
}

func (s *Service) Unregister(ctx context.Context, projectID, sessionID string) error {
	return s.sessions.Unregister(ctx, projectID, sessionID)
}

func (s *Service) Assign(ctx context.Context, projectID, imageID string, user models.Identity, reason models.LockReason) (*models.ImageAssignment, error) {
	return s.assignments.Assign(ctx, projectID, imageID, user, reason)
}

func (s *Service) Release(ctx context.Context, projectID, imageID, userID string, markCompleted bool) error {
	return s.assignments.Release(ctx, projectID, imageID, userID, markCompleted)
}

func (s *Service) ForceAssign(ctx context.Context, projectID, imageID string, user models.Identity) (*models.ImageAssignment, error) {
	return s.assignments.ForceAssign(ctx, projectID, imageID, user)
}

func (s *Service) RecordActivity(ctx context.Context, projectID string, user models.Identity, imageID string, action models.ActivityAction, annotations int) error {
	return s.assignments.RecordActivity(ctx, projectID, user, imageID, action, annotations)
}

// Status derives the per-image view for userID from the current snapshot.
func (s *Service) Status(ctx context.Context, projectID, imageID, userID string) (ImageStatus, error) {
	st, err := s.states.Read(ctx, projectID)
	if err != nil {
		return ImageStatus{}, err
	}
	return statusFor(st, imageID, userID, s.now()), nil
}

// Snapshot reads the project state and derives the conflicts for userID.
func (s *Service) Snapshot(ctx context.Context, projectID, userID string) (Snapshot, error) {
	st, err := s.states.Read(ctx, projectID)
	if err != nil {
		return Snapshot{}, err
	}
	conflicts := DetectConflicts(st, s.now(), userID, s.cfg.SimultaneousEditWindow)
	st.Conflicts = conflicts
	return Snapshot{State: st, Conflicts: conflicts}, nil
}

// Subscribe invokes fn on every observed change to the project state.
// Delivery is best-effort; fn should re-read via Snapshot.
func (s *Service) Subscribe(projectID string, fn func()) func() {
	return s.states.Subscribe(projectID, fn)
}

func statusFor(st *models.CollaborationState, imageID, userID string, now time.Time) ImageStatus {
	assignment, ok := st.Assignments[imageID]
	if !ok || assignment.Status == models.AssignmentAvailable {
		return ImageStatus{State: ImageAvailable}
	}

	username := assignment.AssignedBy
	if fromSession := usernameFor(st, assignment.AssignedTo); fromSession != "" {
		username = fromSession
	}
	lockedUntil := assignment.LockedUntil

	switch {
	case assignment.Status == models.AssignmentCompleted:
		return ImageStatus{State: ImageCompleted, AssignedUsername: username}
	case assignment.AssignedTo == userID:
		return ImageStatus{State: ImageAssignedToMe, AssignedUsername: username, LockedUntil: &lockedUntil}
	case assignment.Status == models.AssignmentLocked:
		return ImageStatus{
			State:            ImageLocked,
			AssignedUsername: username,
			LockedUntil:      &lockedUntil,
			CanTakeOver:      assignment.ExpiredAt(now),
		}
	default:
		return ImageStatus{State: ImageAssignedToOther, AssignedUsername: username, LockedUntil: &lockedUntil}
	}
}
